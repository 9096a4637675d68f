// Package config は、YAML設定ファイルと環境変数からアプリケーション設定を
// 組み立てます。APIキーなどの資格情報は設定ファイルにも書けますが、
// 環境変数が常に優先されます (.env は cmd 側で読み込み済み)。
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// 資格情報の環境変数名
const (
	EnvGoogleAPIKey    = "GOOGLE_API_KEY"
	EnvGoogleCX        = "GOOGLE_CX"
	EnvPexelsAPIKey    = "PEXELS_API_KEY"
	EnvNadeshikoAPIKey = "NADESHIKO_API_KEY"
	EnvGenAIAPIKey     = "GENAI_API_KEY"
)

// Config はアプリケーション設定の全体です。
type Config struct {
	// ProviderOrder はフォールバック優先順です。バッチ中は変更されません。
	ProviderOrder []string `yaml:"provider_order"`

	// SearchLimit は1プロバイダに要求する候補数です。
	SearchLimit int `yaml:"search_limit"`

	QueryPrefix   string `yaml:"query_prefix"`
	QuerySuffix   string `yaml:"query_suffix"`
	DefaultSuffix string `yaml:"default_suffix"` // クエリ未含有時のみ付加

	DefaultReplace bool `yaml:"default_replace"`

	DDG struct {
		Locale string `yaml:"locale"`
	} `yaml:"ddg"`

	Yahoo struct {
		UseBrowser bool `yaml:"use_browser"`
	} `yaml:"yahoo"`

	Google struct {
		APIKey string `yaml:"api_key"`
		CX     string `yaml:"cx"`
		Lang   string `yaml:"lang"`
	} `yaml:"google"`

	Pexels struct {
		APIKey        string `yaml:"api_key"`
		PerPage       int    `yaml:"per_page"`
		Orientation   string `yaml:"orientation"`
		Size          string `yaml:"size"`
		Locale        string `yaml:"locale"`
		PreferredSize string `yaml:"preferred_size"`
	} `yaml:"pexels"`

	Nadeshiko struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"nadeshiko"`

	GenAI struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"genai"`

	Quota struct {
		Path     string `yaml:"path"`
		Timezone string `yaml:"timezone"`
		Cap      int    `yaml:"cap"`
		Label    string `yaml:"label"`
		TZAbbrev string `yaml:"tz_abbrev"`
	} `yaml:"quota"`
}

// Default は設定ファイルなしで動く既定値を返します。
func Default() *Config {
	cfg := &Config{}
	cfg.ProviderOrder = []string{"ddg"}
	cfg.SearchLimit = 50
	cfg.DefaultSuffix = "イラスト"
	cfg.DDG.Locale = "ja-jp"
	cfg.Google.Lang = "lang_ja"
	cfg.Pexels.PerPage = 1
	cfg.Quota.Path = "user_files/quota.json"
	cfg.Quota.Timezone = "America/Los_Angeles"
	cfg.Quota.Cap = 100
	cfg.Quota.Label = "Google"
	cfg.Quota.TZAbbrev = "PT"
	return cfg
}

// Load は設定ファイルを読み込み、環境変数の資格情報を上書き適用します。
// path が空、またはファイルが存在しない場合は既定値のみで構成します。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルのパースに失敗しました: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// applyEnv は環境変数の資格情報を設定に反映します。空の環境変数は無視します。
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvGoogleAPIKey); v != "" {
		c.Google.APIKey = v
	}
	if v := os.Getenv(EnvGoogleCX); v != "" {
		c.Google.CX = v
	}
	if v := os.Getenv(EnvPexelsAPIKey); v != "" {
		c.Pexels.APIKey = v
	}
	if v := os.Getenv(EnvNadeshikoAPIKey); v != "" {
		c.Nadeshiko.APIKey = v
	}
	if v := os.Getenv(EnvGenAIAPIKey); v != "" {
		c.GenAI.APIKey = v
	}
}

func (c *Config) normalize() {
	if len(c.ProviderOrder) == 0 {
		c.ProviderOrder = []string{"ddg"}
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 50
	}
	if c.Quota.Cap <= 0 {
		c.Quota.Cap = 100
	}
	if c.Quota.Path == "" {
		c.Quota.Path = "user_files/quota.json"
	}
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = "America/Los_Angeles"
	}
	if c.Quota.Label == "" {
		c.Quota.Label = "Google"
	}
	if c.Quota.TZAbbrev == "" {
		c.Quota.TZAbbrev = "PT"
	}
}
