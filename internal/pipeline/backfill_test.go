package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-media-backfill/pkg/batch"
	"github.com/shouni/go-media-backfill/pkg/cardstore"
	"github.com/shouni/go-media-backfill/pkg/config"
	"github.com/shouni/go-media-backfill/pkg/provider"
)

func TestProviderSettings(t *testing.T) {
	cfg := config.Default()
	cfg.ProviderOrder = []string{"pexels", "ddg"}
	cfg.Google.APIKey = "gk"
	cfg.Google.CX = "cx"
	cfg.Pexels.APIKey = "pk"
	cfg.Pexels.Orientation = "landscape"
	cfg.Nadeshiko.BaseURL = "https://mirror.example.com/api/v1"

	settings := ProviderSettings(cfg, 10*time.Second, 3, nil)

	assert.Equal(t, []string{"pexels", "ddg"}, settings.Order)
	assert.Equal(t, 10*time.Second, settings.Timeout)
	assert.Equal(t, uint64(3), settings.MaxRetries)
	assert.Equal(t, "gk", settings.GoogleKey)
	assert.Equal(t, "pk", settings.PexelsKey)
	assert.Equal(t, "landscape", settings.Pexels.Orientation)
	assert.Equal(t, "https://mirror.example.com/api/v1", settings.NadeshikoBaseURL)
}

func TestRun_ConfigErrorBeforeAnyKey(t *testing.T) {
	// 選択されたプロバイダがすべて資格情報不足の場合、キーを1つも処理せずに失敗する
	cfg := config.Default()
	cfg.ProviderOrder = []string{"google", "pexels"}
	cfg.Quota.Path = filepath.Join(t.TempDir(), "quota.json")

	store, err := cardstore.Open(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	require.NoError(t, store.AddCard("k1", "語彙", map[string]string{"表現": "猫", "画像": ""}))

	summary, err := Run(context.Background(), Params{
		Config: cfg,
		Store:  store,
		Keys:   []string{"k1"},
		Batch:  batch.Options{QueryField: "表現", TargetField: "画像"},
	})

	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, provider.IsConfigError(err), "設定エラーが伝播するべきです: %v", err)
	assert.Equal(t, "", store.ReadField("k1", "画像"), "キーが処理されていないこと")
}
