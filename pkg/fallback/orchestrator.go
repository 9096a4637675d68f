// Package fallback は、設定されたプロバイダ順序による1キー分の解決を提供します。
//
// プロバイダを順に試し、最初に成功した1件の (ペイロード, ファイル名ヒント) を
// 返します。プロバイダ単位の失敗は記録され、次のプロバイダへの移行に
// 変換されます。1つのプロバイダの故障がバッチ全体を止めることはありません。
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shouni/go-media-backfill/pkg/provider"
	"github.com/shouni/go-media-backfill/pkg/selector"
)

// DefaultSearchLimit は1プロバイダに要求する候補数の既定値です。
// 多めに取ることで、重複排除後も未消費の候補が残りやすくなります。
const DefaultSearchLimit = 50

// Result は1キーの解決に成功した結果です。画像は必須、音声と例文は
// sentence+media 系プロバイダが候補に付随させた場合のみ埋まります。
type Result struct {
	Provider     string // 成功したプロバイダ名 (クォータ集計用)
	Payload      []byte
	FilenameHint string

	AudioPayload      []byte
	AudioFilenameHint string
	Sentence          string
}

// Orchestrator は1キーごとにプロバイダ連鎖を辿る解決器です。
// 重複排除集合はバッチ全体で共有されるため、1つの Orchestrator は
// 1回のバッチ実行に専属します。
type Orchestrator struct {
	chain   []provider.Entry
	dedup   *selector.DedupSet
	limit   int
	verbose bool
}

// New はオーケストレータを生成します。limit が 0 以下の場合は
// DefaultSearchLimit を使用します。
func New(chain []provider.Entry, dedup *selector.DedupSet, limit int) *Orchestrator {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return &Orchestrator{chain: chain, dedup: dedup, limit: limit}
}

// SetVerbose はプロバイダ単位の失敗ログの出力を切り替えます。
func (o *Orchestrator) SetVerbose(v bool) {
	o.verbose = v
}

// Resolve はプロバイダを設定順に試し、最初の成功を返します。
//
// 検索→選択→取得の二段プロバイダと、プロンプトから直接生成する単段
// プロバイダ (Generator) をディスパッチします。後者は候補選択と重複排除を
// 通りません。どのプロバイダも成功しなかった場合、最後のプロバイダエラーを
// 返します。
func (o *Orchestrator) Resolve(ctx context.Context, key, query string) (*Result, error) {
	var lastErr error

	for _, entry := range o.chain {
		var (
			res *Result
			err error
		)

		switch {
		case entry.Generator != nil:
			res, err = o.resolveGenerate(ctx, entry, key, query)
		case entry.Searcher != nil:
			res, err = o.resolveSearch(ctx, entry, key, query)
		default:
			continue
		}

		if err == nil {
			return res, nil
		}

		lastErr = err
		if o.verbose {
			log.Printf("プロバイダ %s が失敗、次を試します: %v", entry.Name, err)
		}
	}

	if lastErr == nil {
		return nil, errors.New("no provider available")
	}
	return nil, lastErr
}

// resolveSearch は検索→決定的選択→取得の二段経路です。
// 成功時に選ばれた候補IDを重複排除集合へ記録します。
func (o *Orchestrator) resolveSearch(ctx context.Context, entry provider.Entry, key, query string) (*Result, error) {
	candidates, err := entry.Searcher.Search(ctx, query, o.limit)
	if err != nil {
		return nil, err
	}

	cand, err := selector.Pick(candidates, key, o.dedup)
	if err != nil {
		return nil, provider.NewError(entry.Name, err)
	}

	payload, err := entry.Searcher.Fetch(ctx, cand)
	if err != nil {
		return nil, err
	}

	o.dedup.Add(cand.ID)

	res := &Result{
		Provider:     entry.Name,
		Payload:      payload,
		FilenameHint: FilenameHint(cand.Locator, entry.Name, key, defaultExt(cand)),
		Sentence:     cand.Meta[provider.MetaSentence],
	}

	// 音声が付随する候補は追加で取得する。音声側の失敗は画像の成功を
	// 巻き戻さない (ベストエフォート)。
	if af, ok := entry.Searcher.(provider.AudioFetcher); ok {
		audio, hint, audioErr := af.FetchAudio(ctx, cand)
		if audioErr == nil && len(audio) > 0 {
			res.AudioPayload = audio
			res.AudioFilenameHint = SafeMediaFilename(hint)
		} else if audioErr != nil && o.verbose {
			log.Printf("プロバイダ %s の音声取得に失敗しました (画像のみで続行): %v", entry.Name, audioErr)
		}
	}

	return res, nil
}

// resolveGenerate は単段生成経路です。毎回新規の画像が生成されるため、
// 候補選択と重複排除は適用されません。
func (o *Orchestrator) resolveGenerate(ctx context.Context, entry provider.Entry, key, query string) (*Result, error) {
	payload, err := entry.Generator.Generate(ctx, query)
	if err != nil {
		return nil, err
	}
	return &Result{
		Provider:     entry.Name,
		Payload:      payload,
		FilenameHint: synthesizeFilename(entry.Name, key, "jpg"),
	}, nil
}

func defaultExt(cand provider.Candidate) string {
	if ext := cand.Meta[provider.MetaExt]; ext != "" {
		return ext
	}
	return "jpg"
}

// ----------------------------------------------------------------------
// ファイル名ヒントの導出
// ----------------------------------------------------------------------

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FilenameHint はロケータのパス末尾からファイル名ヒントを導出します。
// クエリ文字列を落とし、空または拡張子なしの場合は
// "<provider>_<key>.<ext>" を合成します。
func FilenameHint(locator, providerName, key, ext string) string {
	tail := locator
	if i := strings.LastIndex(tail, "/"); i >= 0 {
		tail = tail[i+1:]
	}
	if i := strings.Index(tail, "?"); i >= 0 {
		tail = tail[:i]
	}
	if tail == "" || !strings.Contains(tail, ".") {
		return synthesizeFilename(providerName, key, ext)
	}
	return SafeMediaFilename(tail)
}

// synthesizeFilename は "<provider>_<keyToken>.<ext>" 形式の名前を合成します。
// 非ASCIIのキーはサニタイズで消えてしまうため、安定ハッシュの十進表現に
// 置き換えます (決定性は保たれる)。
func synthesizeFilename(providerName, key, ext string) string {
	token := unsafeFilenameChars.ReplaceAllString(strings.ReplaceAll(key, " ", "_"), "")
	if token == "" {
		token = strconv.FormatUint(selector.KeyIndex(key), 10)
	}
	return SafeMediaFilename(fmt.Sprintf("%s_%s.%s", providerName, token, ext))
}

// SafeMediaFilename はメディアストアに安全なASCIIファイル名へ整形します。
// すべて削られて空になった場合は時刻ベースの名前を返します。
func SafeMediaFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	if name == "" || name == "." {
		return fmt.Sprintf("image_%d.jpg", time.Now().Unix())
	}
	return name
}
