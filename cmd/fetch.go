package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shouni/go-media-backfill/internal/pipeline"
	"github.com/shouni/go-media-backfill/pkg/fallback"
	"github.com/shouni/go-media-backfill/pkg/provider"
	"github.com/shouni/go-media-backfill/pkg/selector"
)

// fetch コマンドのフラグ変数
var (
	fetchQuery    string
	fetchCount    int
	fetchOutDir   string
	fetchProvider string
)

// runFetchPipeline は、1つのクエリから重複しない画像を count 件取得して保存します。
func runFetchPipeline(ctx context.Context, entry provider.Entry, outDir string) (int, error) {
	if entry.Generator != nil {
		return fetchGenerated(ctx, entry, outDir)
	}
	return fetchSearched(ctx, entry, outDir)
}

// fetchGenerated は生成プロバイダから count 枚を生成します。候補選択は行いません。
func fetchGenerated(ctx context.Context, entry provider.Entry, outDir string) (int, error) {
	saved := 0
	for i := 0; i < fetchCount; i++ {
		payload, err := entry.Generator.Generate(ctx, fetchQuery)
		if err != nil {
			return saved, fmt.Errorf("画像生成エラー (%d枚目): %w", i+1, err)
		}
		name := fmt.Sprintf("%s_%02d.jpg", entry.Name, i+1)
		if err := os.WriteFile(filepath.Join(outDir, name), payload, 0o644); err != nil {
			return saved, fmt.Errorf("画像の保存エラー: %w", err)
		}
		saved++
		fmt.Printf("✅ [%d/%d] %s (%d bytes)\n", saved, fetchCount, name, len(payload))
	}
	return saved, nil
}

// fetchSearched は検索プロバイダから重複排除しつつ count 枚を保存します。
// ダウンロードに失敗した候補は飛ばして次の候補を試します。
func fetchSearched(ctx context.Context, entry provider.Entry, outDir string) (int, error) {
	limit := fetchCount * 5
	if limit < fallback.DefaultSearchLimit {
		limit = fallback.DefaultSearchLimit
	}

	candidates, err := entry.Searcher.Search(ctx, fetchQuery, limit)
	if err != nil {
		return 0, fmt.Errorf("候補検索エラー: %w", err)
	}
	if len(candidates) == 0 {
		return 0, provider.ErrNoCandidate
	}

	dedup := selector.NewDedupSet()
	saved := 0
	for _, cand := range candidates {
		if saved >= fetchCount {
			break
		}
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		if dedup.Contains(cand.ID) {
			continue
		}
		dedup.Add(cand.ID)

		payload, err := entry.Searcher.Fetch(ctx, cand)
		if err != nil {
			log.Printf("候補のダウンロードに失敗しました (ID: %s): %v", cand.ID, err)
			continue
		}

		hint := fallback.FilenameHint(cand.Locator, entry.Name, fetchQuery, cand.Meta[provider.MetaExt])
		name := fmt.Sprintf("%02d_%s", saved+1, fallback.SafeMediaFilename(hint))
		if err := os.WriteFile(filepath.Join(outDir, name), payload, 0o644); err != nil {
			return saved, fmt.Errorf("画像の保存エラー: %w", err)
		}
		saved++
		fmt.Printf("✅ [%d/%d] %s (%d bytes)\n", saved, fetchCount, name, len(payload))
	}

	return saved, nil
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "クエリから画像を取得してディレクトリへ保存します (動作確認用)",
	Long: `カードストアを介さず、指定クエリで1つのプロバイダから画像を取得して
ファイルとして保存します。プロバイダの疎通確認やクエリの調整に使います。`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return fmt.Errorf("アプリケーション設定の取得に失敗しました")
		}

		// --provider 指定時は単一プロバイダの連鎖を組む
		settings := pipeline.ProviderSettings(cfg, clientTimeout(), maxRetries(), GetGlobalFetcher())
		if fetchProvider != "" {
			settings.Order = []string{fetchProvider}
		}

		chain, err := provider.BuildChain(settings)
		if err != nil {
			return fmt.Errorf("プロバイダ連鎖の構成エラー: %w", err)
		}
		entry := chain[0]

		if err := os.MkdirAll(fetchOutDir, 0o755); err != nil {
			return fmt.Errorf("保存先ディレクトリの作成エラー: %w", err)
		}

		// 全体タイムアウト: クライアントタイムアウトの2倍 × 取得枚数
		overallTimeout := clientTimeout() * 2 * time.Duration(fetchCount)
		ctx, cancel := context.WithTimeout(context.Background(), overallTimeout)
		defer cancel()

		log.Printf("画像取得開始 (プロバイダ: %s, クエリ: %q, 枚数: %d)", entry.Name, fetchQuery, fetchCount)

		saved, err := runFetchPipeline(ctx, entry, fetchOutDir)
		if err != nil {
			return fmt.Errorf("画像取得パイプラインの実行エラー: %w", err)
		}
		if saved < fetchCount {
			return fmt.Errorf("要求枚数に届きませんでした (保存: %d / 要求: %d)", saved, fetchCount)
		}

		fmt.Printf("完了: %d 枚を %s へ保存しました\n", saved, fetchOutDir)
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchQuery, "query", "q", "", "検索クエリ")
	fetchCmd.Flags().IntVarP(&fetchCount, "count", "n", 3, "保存する画像の枚数")
	fetchCmd.Flags().StringVarP(&fetchOutDir, "out", "o", "fetched", "保存先ディレクトリ")
	fetchCmd.Flags().StringVarP(&fetchProvider, "provider", "p", "",
		"使用するプロバイダ名 (省略時は設定の先頭プロバイダ)")

	fetchCmd.MarkFlagRequired("query")
}
