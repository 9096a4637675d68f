// Package batch は、キー列を順に処理してメディアを書き戻すバッチ実行を
// 提供します。
//
// 処理は厳密に逐次です。1つのキーが検索→選択→取得→書き戻しまで完全に
// 解決されてから次のキーに進みます。キー単位の失敗はバッチ集計に記録される
// だけで、バッチ全体を中断しません。
package batch

import (
	"context"
	"fmt"
	"log"
	"strings"

	textutils "github.com/shouni/go-utils/text"

	"github.com/shouni/go-media-backfill/pkg/cardstore"
	"github.com/shouni/go-media-backfill/pkg/fallback"
	"github.com/shouni/go-media-backfill/pkg/provider"
)

// Resolver は1キーを1件のメディア結果に解決します。
// 実装は fallback.Orchestrator です (テストではモックに差し替え)。
type Resolver interface {
	Resolve(ctx context.Context, key, query string) (*fallback.Result, error)
}

// QuotaRecorder はバッチ終了時にクォータ使用量を集計記録します。
type QuotaRecorder interface {
	Increment(n int) error
}

// Options はバッチ1回分の設定です。フィールド名はUI/呼び出し側が決めます。
type Options struct {
	QueryField  string // クエリ元テキストを読むフィールド (必須)
	TargetField string // 画像を書き込むフィールド (必須)

	AudioField    string // 任意。音声付き候補の音声を書き込むフィールド
	SentenceField string // 任意。例文テキストを書き込むフィールド

	Replace bool

	QueryPrefix   string
	QuerySuffix   string
	DefaultSuffix string // クエリに未含有の場合のみ末尾に付加 (例: イラスト)
}

// Summary はバッチ実行の集計結果です。
type Summary struct {
	Updated      int // フィールド書き込みが変更を報告したキー数
	Attempted    int // 解決を試みたキー数 (空クエリのスキップを含まない)
	SkippedEmpty int // クエリ元テキストが空でスキップされたキー数
	Failed       int // 全プロバイダが失敗したキー数

	PerProvider map[string]int // プロバイダ名 → 成功数
	LastError   string         // 診断用の最後のエラー文字列
}

// Runner は1回のバッチ実行を担います。重複排除集合と実行中のクォータ
// カウンタは Runner が専有し、並行アクセスはありません。
type Runner struct {
	store    cardstore.Store
	resolver Resolver
	ledger   QuotaRecorder // nil 可 (クォータ記録なし)
	opts     Options
}

// NewRunner はバッチランナーを生成します。
func NewRunner(store cardstore.Store, resolver Resolver, ledger QuotaRecorder, opts Options) (*Runner, error) {
	if store == nil || resolver == nil {
		return nil, fmt.Errorf("batch.NewRunner: store と resolver は必須です")
	}
	if opts.QueryField == "" || opts.TargetField == "" {
		return nil, fmt.Errorf("batch.NewRunner: QueryField と TargetField を指定してください")
	}
	return &Runner{store: store, resolver: resolver, ledger: ledger, opts: opts}, nil
}

// BuildQuery はキーの元テキストから検索クエリを組み立てます。
// プレフィックス/サフィックスを連結し、デフォルトサフィックスは
// クエリに含まれていない場合のみ空白区切りで付加します。
func (r *Runner) BuildQuery(sourceText string) string {
	query := strings.TrimSpace(r.opts.QueryPrefix + textutils.NormalizeText(sourceText) + r.opts.QuerySuffix)
	if suffix := strings.TrimSpace(r.opts.DefaultSuffix); suffix != "" && !strings.Contains(query, suffix) {
		query = strings.TrimSpace(query + " " + suffix)
	}
	return query
}

// Run はキー列を逐次処理し、集計を返します。
// 各ループ先頭でコンテキストを確認するため、ホストはキー境界でバッチを
// 中断できます。中断時はそれまでの集計と ctx のエラーを返します。
func (r *Runner) Run(ctx context.Context, keys []string) (*Summary, error) {
	summary := &Summary{PerProvider: make(map[string]int)}
	quotaUsed := 0

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			r.flushQuota(quotaUsed)
			return summary, err
		}

		sourceText := r.store.ReadField(key, r.opts.QueryField)
		if strings.TrimSpace(sourceText) == "" {
			summary.SkippedEmpty++
			continue
		}

		query := r.BuildQuery(sourceText)
		summary.Attempted++

		res, err := r.resolver.Resolve(ctx, key, query)
		if err != nil {
			summary.Failed++
			summary.LastError = err.Error()
			log.Printf("キー %q の全プロバイダが失敗しました: %v", key, err)
			continue
		}

		if provider.QuotaBearing(res.Provider) {
			quotaUsed++
		}
		summary.PerProvider[res.Provider]++

		if err := r.writeBack(key, res, summary); err != nil {
			summary.Failed++
			summary.LastError = err.Error()
			log.Printf("キー %q の書き戻しに失敗しました: %v", key, err)
			continue
		}
	}

	r.flushQuota(quotaUsed)
	return summary, nil
}

// writeBack は解決結果をストアへ書き込みます。画像の書き込みが変更を
// 報告した場合のみ Updated に数えます。音声と例文はベストエフォートです。
func (r *Runner) writeBack(key string, res *fallback.Result, summary *Summary) error {
	storedName, err := r.store.StoreMedia(res.FilenameHint, res.Payload)
	if err != nil {
		return fmt.Errorf("メディア保存エラー: %w", err)
	}

	changed, err := r.store.WriteField(key, r.opts.TargetField, ImageFieldValue(storedName), r.opts.Replace)
	if err != nil {
		return fmt.Errorf("フィールド書き込みエラー: %w", err)
	}
	if changed {
		summary.Updated++
	}

	if r.opts.AudioField != "" && len(res.AudioPayload) > 0 {
		audioName, err := r.store.StoreMedia(res.AudioFilenameHint, res.AudioPayload)
		if err != nil {
			return fmt.Errorf("音声保存エラー: %w", err)
		}
		if _, err := r.store.WriteField(key, r.opts.AudioField, AudioFieldValue(audioName), r.opts.Replace); err != nil {
			return fmt.Errorf("音声フィールド書き込みエラー: %w", err)
		}
	}

	if r.opts.SentenceField != "" && res.Sentence != "" {
		if _, err := r.store.WriteField(key, r.opts.SentenceField, res.Sentence, r.opts.Replace); err != nil {
			return fmt.Errorf("例文フィールド書き込みエラー: %w", err)
		}
	}

	return nil
}

func (r *Runner) flushQuota(quotaUsed int) {
	if r.ledger == nil || quotaUsed == 0 {
		return
	}
	if err := r.ledger.Increment(quotaUsed); err != nil {
		log.Printf("クォータ台帳の更新に失敗しました: %v", err)
	}
}

// ImageFieldValue は保存済みメディア名をフィールド表現に整形します。
func ImageFieldValue(storedName string) string {
	return fmt.Sprintf(`<img src="%s">`, storedName)
}

// AudioFieldValue は保存済み音声名をフィールド表現に整形します。
func AudioFieldValue(storedName string) string {
	return fmt.Sprintf("[sound:%s]", storedName)
}
