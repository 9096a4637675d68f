package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shouni/go-media-backfill/internal/pipeline"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "クォータ対象プロバイダの本日の使用量を表示します",
	Long: `クォータ台帳から本日の使用量を読み取り、上限までの残りと次回リセット
までの時間を表示します。台帳は読み取り時に日付が変わっていれば 0 にリセット
されます。`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return fmt.Errorf("アプリケーション設定の取得に失敗しました")
		}

		ledger, err := pipeline.NewLedger(cfg)
		if err != nil {
			return fmt.Errorf("クォータ台帳の初期化エラー: %w", err)
		}

		record := ledger.Read()
		fmt.Println(ledger.Display(cfg.Quota.Label, cfg.Quota.Cap, cfg.Quota.TZAbbrev))
		fmt.Printf("本日 (%s) の使用量: %d, 残り: %d\n",
			record.Date, record.Used, ledger.Remaining(cfg.Quota.Cap))
		return nil
	},
}
