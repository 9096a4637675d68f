// Package selector は、候補列からの決定的な1件選択と、バッチ実行中の
// 重複排除集合を提供します。
//
// 選択は (候補列, キー, 呼び出し時点の重複排除状態) の純関数であり、
// 同じ入力に対して常に同じ候補を返します。乱数は使いません。
package selector

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/shouni/go-media-backfill/pkg/provider"
)

// DedupSet は1回のバッチ実行で既に消費された候補IDの集合です。
// バッチ開始時に空で生成され、単調に増加し、バッチ終了時に破棄されます。
// 永続化はしません。
type DedupSet struct {
	used map[string]struct{}
}

// NewDedupSet は空の重複排除集合を生成します。
func NewDedupSet() *DedupSet {
	return &DedupSet{used: make(map[string]struct{})}
}

// Contains は候補IDが既に消費済みかどうかを返します。
func (d *DedupSet) Contains(id string) bool {
	_, ok := d.used[id]
	return ok
}

// Add は候補IDを消費済みとして記録します。
func (d *DedupSet) Add(id string) {
	d.used[id] = struct{}{}
}

// Len は消費済み候補の数を返します。
func (d *DedupSet) Len() int {
	return len(d.used)
}

// KeyIndex はキーから開始インデックス導出用の数値を得ます。
// キーが数値 (レコードIDなど) の場合はそのまま使い、そうでなければ
// 安定した文字列ハッシュ (FNV-1a) を使います。言語処理系依存のハッシュは
// 使いません。選択の決定性はテスト対象の性質だからです。
func KeyIndex(key string) uint64 {
	if n, err := strconv.ParseUint(key, 10, 64); err == nil {
		return n
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

// Pick は候補列からキーに対して決定的に1件を選びます。
//
//  1. 開始位置 start = KeyIndex(key) mod len(candidates)。類似クエリを持つ
//     キー同士が揃って先頭候補を選ばないよう、選択を列全体に散らします。
//  2. start から巡回的に len(candidates) ステップ走査し、未消費の最初の
//     候補を返します。
//  3. 全候補が消費済みの場合は start の候補をそのまま返します
//     (キーを失敗させるよりも重複を受け入れる)。
//
// 選ばれた候補を消費済みにするかどうかは呼び出し側の責務です。
func Pick(candidates []provider.Candidate, key string, dedup *DedupSet) (provider.Candidate, error) {
	if len(candidates) == 0 {
		return provider.Candidate{}, fmt.Errorf("候補リストが空です")
	}

	start := int(KeyIndex(key) % uint64(len(candidates)))

	for off := 0; off < len(candidates); off++ {
		cand := candidates[(start+off)%len(candidates)]
		if !dedup.Contains(cand.ID) {
			return cand, nil
		}
	}

	return candidates[start], nil
}
