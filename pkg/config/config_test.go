package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, []string{"ddg"}, cfg.ProviderOrder)
	assert.Equal(t, 50, cfg.SearchLimit)
	assert.Equal(t, "イラスト", cfg.DefaultSuffix)
	assert.Equal(t, "America/Los_Angeles", cfg.Quota.Timezone)
	assert.Equal(t, 100, cfg.Quota.Cap)
}

func TestLoad(t *testing.T) {
	t.Run("存在しないファイルは既定値のみ", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
		require.NoError(t, err)
		assert.Equal(t, []string{"ddg"}, cfg.ProviderOrder)
	})

	t.Run("空パスは既定値のみ", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 50, cfg.SearchLimit)
	})

	t.Run("YAMLの値が既定値を上書きする", func(t *testing.T) {
		path := writeConfigFile(t, `
provider_order: [pexels, ddg, genai]
search_limit: 20
query_prefix: "photo of "
default_replace: true
pexels:
  api_key: file-key
  orientation: landscape
quota:
  cap: 200
  timezone: Asia/Tokyo
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, []string{"pexels", "ddg", "genai"}, cfg.ProviderOrder)
		assert.Equal(t, 20, cfg.SearchLimit)
		assert.Equal(t, "photo of ", cfg.QueryPrefix)
		assert.True(t, cfg.DefaultReplace)
		assert.Equal(t, "file-key", cfg.Pexels.APIKey)
		assert.Equal(t, "landscape", cfg.Pexels.Orientation)
		assert.Equal(t, 200, cfg.Quota.Cap)
		assert.Equal(t, "Asia/Tokyo", cfg.Quota.Timezone)
	})

	t.Run("環境変数の資格情報がファイルより優先される", func(t *testing.T) {
		path := writeConfigFile(t, `
google:
  api_key: file-google-key
  cx: file-cx
`)
		t.Setenv(EnvGoogleAPIKey, "env-google-key")
		t.Setenv(EnvPexelsAPIKey, "env-pexels-key")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "env-google-key", cfg.Google.APIKey)
		assert.Equal(t, "file-cx", cfg.Google.CX, "未設定の環境変数はファイルの値を残すべきです")
		assert.Equal(t, "env-pexels-key", cfg.Pexels.APIKey)
	})

	t.Run("壊れたYAMLはエラー", func(t *testing.T) {
		path := writeConfigFile(t, "provider_order: [unclosed")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("不正値は正規化される", func(t *testing.T) {
		path := writeConfigFile(t, `
search_limit: -5
quota:
  cap: 0
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 50, cfg.SearchLimit)
		assert.Equal(t, 100, cfg.Quota.Cap)
	})
}

func TestSettingsStore(t *testing.T) {
	t.Run("保存と読み込み", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "user_files", "settings.json")
		store := NewSettingsStore(path)

		saved := RunSettings{
			QueryField:  "表現",
			TargetField: "画像",
			AudioField:  "音声",
			Suffix:      "写真",
			Replace:     true,
			Collection:  "語彙",
		}
		require.NoError(t, store.Save(saved))

		assert.Equal(t, saved, store.Load())
	})

	t.Run("ファイルなしはゼロ値 (ソフト失敗)", func(t *testing.T) {
		store := NewSettingsStore(filepath.Join(t.TempDir(), "missing.json"))
		assert.Equal(t, RunSettings{}, store.Load())
	})

	t.Run("壊れたファイルもゼロ値", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.json")
		require.NoError(t, os.WriteFile(path, []byte("{bad"), 0o644))
		assert.Equal(t, RunSettings{}, NewSettingsStore(path).Load())
	})
}
