package cmd

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	clibase "github.com/shouni/go-cli-base"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/spf13/cobra"

	"github.com/shouni/go-media-backfill/pkg/config"
)

// --- グローバル定数 ---

const (
	appName           = "media-backfill"
	defaultTimeoutSec = 30 // 秒。画像ダウンロードを考慮して長め
	defaultMaxRetries = 2  // プロバイダ単位のリトライ回数

	// settingsFilePath は前回実行時の選択を保存する場所です。
	settingsFilePath = "user_files/settings.json"
)

// --- グローバル変数とフラグ構造体 ---

// AppFlags はこのアプリケーション固有の永続フラグを保持します。
type AppFlags struct {
	TimeoutSec int    // --timeout HTTPタイムアウト (秒)
	MaxRetries int    // --max-retries リトライ回数
	ConfigPath string // --config 設定ファイルのパス
}

var Flags AppFlags

var (
	globalFetcher httpkit.Fetcher
	globalConfig  *config.Config
)

// ルートコマンドの定義 (clibaseがルートコマンドを生成するため、UseとLong程度のみ)
var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "カードストアのフィールドへ画像・音声をバックフィルするツール",
	Long: `設定されたプロバイダ連鎖 (DuckDuckGo, Yahoo!画像, Google CSE, Pexels, Nadeshiko, 画像生成) を
フォールバック順に試し、キーごとに1件のメディアアセットを取得してカードストアへ書き戻します。`,
}

// --- 初期化とロジック (clibaseへのコールバック) ---

// addAppPersistentFlags は、アプリケーション固有の永続フラグをルートコマンドに追加します。
func addAppPersistentFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().IntVar(
		&Flags.TimeoutSec,
		"timeout",
		defaultTimeoutSec,
		"HTTPリクエストのタイムアウト時間（秒）",
	)
	rootCmd.PersistentFlags().IntVar(
		&Flags.MaxRetries,
		"max-retries",
		defaultMaxRetries,
		"HTTPリクエストのリトライ最大回数",
	)
	rootCmd.PersistentFlags().StringVar(
		&Flags.ConfigPath,
		"config",
		"config.yml",
		"設定ファイル (YAML) のパス",
	)
}

// initAppPreRunE は、clibase共通処理の後に実行されるアプリケーション固有の初期化です。
// NOTE: clibase.Flags.Verbose はこの関数の実行前に設定済み
func initAppPreRunE(cmd *cobra.Command, args []string) error {
	// .env があれば資格情報を環境に読み込む (無ければ黙って続行)
	_ = godotenv.Load()

	cfg, err := config.Load(Flags.ConfigPath)
	if err != nil {
		return err
	}
	globalConfig = cfg

	timeout := clientTimeout()
	if clibase.Flags.Verbose {
		log.Printf("HTTPクライアントのタイムアウトを設定しました (Timeout: %s)。", timeout)
		log.Printf("HTTPクライアントのリトライ回数を設定しました (MaxRetries: %d)。", maxRetries())
		log.Printf("プロバイダ順序: %v", cfg.ProviderOrder)
	}

	// 認証不要ダウンロード用の共有フェッチャー
	globalFetcher = httpkit.New(
		timeout,
		httpkit.WithMaxRetries(maxRetries()),
	)

	return nil
}

func clientTimeout() time.Duration {
	if Flags.TimeoutSec <= 0 {
		return time.Duration(defaultTimeoutSec) * time.Second
	}
	return time.Duration(Flags.TimeoutSec) * time.Second
}

// maxRetries は負値指定をリトライなしに丸めます。uint64変換時の桁あふれ防止。
func maxRetries() uint64 {
	if Flags.MaxRetries < 0 {
		return 0
	}
	return uint64(Flags.MaxRetries)
}

// GetGlobalFetcher は、初期化された共有フェッチャーを返します (DIの代わり)。
func GetGlobalFetcher() httpkit.Fetcher {
	return globalFetcher
}

// GetConfig は、読み込み済みのアプリケーション設定を返します。
func GetConfig() *config.Config {
	return globalConfig
}

// --- エントリポイント ---

// Execute は、rootCmd を実行するメイン関数です。clibaseのExecuteを使用します。
func Execute() {
	clibase.Execute(
		appName,
		addAppPersistentFlags,
		initAppPreRunE,
		backfillCmd,
		fetchCmd,
		quotaCmd,
	)
}
