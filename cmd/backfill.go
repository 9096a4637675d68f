package cmd

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	clibase "github.com/shouni/go-cli-base"
	"github.com/spf13/cobra"

	"github.com/shouni/go-media-backfill/internal/pipeline"
	"github.com/shouni/go-media-backfill/pkg/batch"
	"github.com/shouni/go-media-backfill/pkg/cardstore"
	"github.com/shouni/go-media-backfill/pkg/config"
	"github.com/shouni/go-media-backfill/pkg/feed"
	"github.com/shouni/go-media-backfill/pkg/provider"
)

// backfill コマンドのフラグ変数
var (
	backfillStoreDir   string
	backfillCollection string
	backfillKeys       string
	backfillFeedURL    string

	backfillQueryField    string
	backfillTargetField   string
	backfillAudioField    string
	backfillSentenceField string

	backfillSuffix  string
	backfillReplace bool
)

// resolveBackfillKeys は、処理対象のキー列を決定します。
// 優先順: --keys > --feed-url > --collection (コレクション全体)。
func resolveBackfillKeys(ctx context.Context, store *cardstore.FileStore) ([]string, error) {
	if backfillKeys != "" {
		var keys []string
		for _, k := range strings.Split(backfillKeys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("--keys に有効なキーが含まれていません")
		}
		return keys, nil
	}

	if backfillFeedURL != "" {
		parser, err := feed.NewParser(GetGlobalFetcher())
		if err != nil {
			return nil, fmt.Errorf("フィードパーサーの初期化エラー: %w", err)
		}
		entries, err := parser.FetchEntries(ctx, backfillFeedURL)
		if err != nil {
			return nil, fmt.Errorf("フィードからのキー取得エラー: %w", err)
		}

		// フィード項目をカードとして登録し、タイトルをクエリ元フィールドへ
		keys := make([]string, 0, len(entries))
		for _, entry := range entries {
			fields := map[string]string{backfillQueryField: entry.Text}
			if err := store.AddCard(entry.Key, "feed", fields); err != nil {
				return nil, fmt.Errorf("フィード項目のカード登録エラー (キー: %s): %w", entry.Key, err)
			}
			keys = append(keys, entry.Key)
		}
		return keys, nil
	}

	return store.ResolveKeys(ctx, cardstore.Scope{Collection: backfillCollection})
}

// applyRunSettings は、前回実行時の選択を未指定フラグのデフォルトとして適用します。
func applyRunSettings(cmd *cobra.Command, last config.RunSettings) {
	if backfillQueryField == "" {
		backfillQueryField = last.QueryField
	}
	if backfillTargetField == "" {
		backfillTargetField = last.TargetField
	}
	if backfillAudioField == "" {
		backfillAudioField = last.AudioField
	}
	if backfillSentenceField == "" {
		backfillSentenceField = last.SentenceField
	}
	if !cmd.Flags().Changed("suffix") && last.Suffix != "" {
		backfillSuffix = last.Suffix
	}
	if !cmd.Flags().Changed("replace") {
		backfillReplace = last.Replace
	}
	if backfillCollection == "" {
		backfillCollection = last.Collection
	}
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "カードストアの各キーへ画像・音声をバックフィルします",
	Long: `カードストアのキー列を1件ずつ順番に処理します。各キーについてクエリ元
フィールドから検索クエリを組み立て、プロバイダ連鎖をフォールバック順に試し、
最初に成功したプロバイダの結果を対象フィールドへ書き戻します。`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return fmt.Errorf("アプリケーション設定の取得に失敗しました")
		}

		// 前回実行時の選択をデフォルトとして補完
		settingsStore := config.NewSettingsStore(settingsFilePath)
		applyRunSettings(cmd, settingsStore.Load())
		if !cmd.Flags().Changed("replace") && !backfillReplace {
			backfillReplace = cfg.DefaultReplace
		}

		if backfillQueryField == "" || backfillTargetField == "" {
			return fmt.Errorf("--query-field と --target-field は必須です (前回実行の保存値も見つかりません)")
		}

		store, err := cardstore.Open(backfillStoreDir)
		if err != nil {
			return fmt.Errorf("カードストアのオープンエラー: %w", err)
		}

		// バッチはキー間で中断可能 (Ctrl-C で次のキーへ進まず終了)
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		keys, err := resolveBackfillKeys(ctx, store)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return fmt.Errorf("処理対象のキーが一つも見つかりません")
		}

		log.Printf("バックフィル開始 (対象キー数: %d, プロバイダ順序: %v)", len(keys), cfg.ProviderOrder)

		suffix := cfg.QuerySuffix
		if cmd.Flags().Changed("suffix") || backfillSuffix != "" {
			suffix = backfillSuffix
		}

		summary, runErr := pipeline.Run(ctx, pipeline.Params{
			Config: cfg,
			Store:  store,
			Keys:   keys,
			Batch: batch.Options{
				QueryField:    backfillQueryField,
				TargetField:   backfillTargetField,
				AudioField:    backfillAudioField,
				SentenceField: backfillSentenceField,
				Replace:       backfillReplace,
				QueryPrefix:   cfg.QueryPrefix,
				QuerySuffix:   suffix,
				DefaultSuffix: cfg.DefaultSuffix,
			},
			Timeout:    clientTimeout(),
			MaxRetries: maxRetries(),
			Verbose:    clibase.Flags.Verbose,
		})

		// 中断時も部分的な集計は表示する
		if summary != nil {
			printBackfillSummary(summary.Updated, summary.Attempted, summary.SkippedEmpty, summary.Failed, summary.PerProvider, summary.LastError)
			printQuotaStatus(cfg)
		}
		if runErr != nil {
			// 設定エラーは処理前に確定するため、設定見直しを促すメッセージに切り替える
			if provider.IsConfigError(runErr) {
				return fmt.Errorf("プロバイダ設定を確認してください (APIキー・設定ファイル): %w", runErr)
			}
			return fmt.Errorf("バックフィル実行エラー: %w", runErr)
		}

		// 今回の選択を次回のデフォルトとして保存 (失敗しても処理結果は有効)
		if err := settingsStore.Save(config.RunSettings{
			QueryField:    backfillQueryField,
			TargetField:   backfillTargetField,
			AudioField:    backfillAudioField,
			SentenceField: backfillSentenceField,
			Suffix:        suffix,
			Replace:       backfillReplace,
			Collection:    backfillCollection,
		}); err != nil {
			log.Printf("実行設定の保存に失敗しました: %v", err)
		}

		return nil
	},
}

func printBackfillSummary(updated, attempted, skipped, failed int, perProvider map[string]int, lastError string) {
	fmt.Println("--- バックフィル結果 ---")
	fmt.Printf("更新: %d 件 / 試行: %d 件\n", updated, attempted)
	fmt.Printf("スキップ (クエリ元が空): %d 件, 失敗: %d 件\n", skipped, failed)
	for name, count := range perProvider {
		fmt.Printf("  %s: %d 件\n", name, count)
	}
	if lastError != "" {
		fmt.Printf("最後のエラー: %s\n", lastError)
	}
	fmt.Println("-----------------------")
}

// printQuotaStatus は、クォータ対象プロバイダが連鎖に含まれる場合のみ表示します。
func printQuotaStatus(cfg *config.Config) {
	bearing := false
	for _, name := range cfg.ProviderOrder {
		if provider.QuotaBearing(name) {
			bearing = true
			break
		}
	}
	if !bearing {
		return
	}

	ledger, err := pipeline.NewLedger(cfg)
	if err != nil {
		log.Printf("クォータ台帳の読み取りに失敗しました: %v", err)
		return
	}
	fmt.Println(ledger.Display(cfg.Quota.Label, cfg.Quota.Cap, cfg.Quota.TZAbbrev))
}

func init() {
	backfillCmd.Flags().StringVarP(&backfillStoreDir, "store", "s", "user_files/store",
		"カードストアのディレクトリ")
	backfillCmd.Flags().StringVarP(&backfillCollection, "collection", "c", "",
		"処理対象のコレクション名 (空なら全カード)")
	backfillCmd.Flags().StringVarP(&backfillKeys, "keys", "k", "",
		"処理対象のカンマ区切りキーリスト (指定時はコレクションより優先)")
	backfillCmd.Flags().StringVar(&backfillFeedURL, "feed-url", "",
		"RSS/Atomフィードから処理対象キーを取り込むURL")

	backfillCmd.Flags().StringVar(&backfillQueryField, "query-field", "",
		"検索クエリの元になるフィールド名")
	backfillCmd.Flags().StringVar(&backfillTargetField, "target-field", "",
		"画像を書き込むフィールド名")
	backfillCmd.Flags().StringVar(&backfillAudioField, "audio-field", "",
		"音声を書き込むフィールド名 (任意)")
	backfillCmd.Flags().StringVar(&backfillSentenceField, "sentence-field", "",
		"例文を書き込むフィールド名 (任意)")

	backfillCmd.Flags().StringVar(&backfillSuffix, "suffix", "",
		"検索クエリの末尾に付加する語 (設定ファイルの query_suffix を上書き)")
	backfillCmd.Flags().BoolVar(&backfillReplace, "replace", false,
		"対象フィールドが空でなくても上書きする")
}
