// Package pipeline は、設定からバッチ実行一式を組み立てる配線を提供します。
// cmd 層とライブラリ利用者の双方がこの入口を使います。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/shouni/go-media-backfill/pkg/batch"
	"github.com/shouni/go-media-backfill/pkg/cardstore"
	"github.com/shouni/go-media-backfill/pkg/config"
	"github.com/shouni/go-media-backfill/pkg/fallback"
	"github.com/shouni/go-media-backfill/pkg/provider"
	"github.com/shouni/go-media-backfill/pkg/quota"
	"github.com/shouni/go-media-backfill/pkg/selector"
)

// Params はバッチ実行1回分の組み立てに必要な依存一式です。
type Params struct {
	Config *config.Config
	Store  cardstore.Store
	Keys   []string
	Batch  batch.Options

	Timeout    time.Duration
	MaxRetries uint64
	Verbose    bool
}

// ProviderSettings は設定ファイルの値をプロバイダ連鎖の設定へ写します。
func ProviderSettings(cfg *config.Config, timeout time.Duration, maxRetries uint64, dl provider.ByteFetcher) provider.Settings {
	return provider.Settings{
		Order:      cfg.ProviderOrder,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		Downloader: dl,

		DDGLocale:  cfg.DDG.Locale,
		UseBrowser: cfg.Yahoo.UseBrowser,

		GoogleKey:  cfg.Google.APIKey,
		GoogleCX:   cfg.Google.CX,
		GoogleLang: cfg.Google.Lang,

		PexelsKey: cfg.Pexels.APIKey,
		Pexels: provider.PexelsOptions{
			PerPage:       cfg.Pexels.PerPage,
			Orientation:   cfg.Pexels.Orientation,
			Size:          cfg.Pexels.Size,
			Locale:        cfg.Pexels.Locale,
			PreferredSize: cfg.Pexels.PreferredSize,
		},

		NadeshikoKey:     cfg.Nadeshiko.APIKey,
		NadeshikoBaseURL: cfg.Nadeshiko.BaseURL,

		GenAIKey:   cfg.GenAI.APIKey,
		GenAIModel: cfg.GenAI.Model,
	}
}

// NewLedger は設定からクォータ台帳を生成します。
func NewLedger(cfg *config.Config) (*quota.Ledger, error) {
	return quota.NewLedger(cfg.Quota.Path, cfg.Quota.Timezone)
}

// Run はプロバイダ連鎖・オーケストレータ・バッチランナーを組み立てて
// キー列を処理します。設定エラー (選択されたプロバイダがすべて利用不能)
// の場合、1つのキーも処理せずに失敗します。
func Run(ctx context.Context, p Params) (*batch.Summary, error) {
	fetcher := httpkit.New(p.Timeout, httpkit.WithMaxRetries(p.MaxRetries))

	chain, err := provider.BuildChain(ProviderSettings(p.Config, p.Timeout, p.MaxRetries, fetcher))
	if err != nil {
		return nil, fmt.Errorf("プロバイダ連鎖の構成エラー: %w", err)
	}

	ledger, err := NewLedger(p.Config)
	if err != nil {
		return nil, fmt.Errorf("クォータ台帳の初期化エラー: %w", err)
	}

	orchestrator := fallback.New(chain, selector.NewDedupSet(), p.Config.SearchLimit)
	orchestrator.SetVerbose(p.Verbose)

	runner, err := batch.NewRunner(p.Store, orchestrator, ledger, p.Batch)
	if err != nil {
		return nil, err
	}

	return runner.Run(ctx, p.Keys)
}
