package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RunSettings は前回実行時のユーザー選択です。次回起動時のフラグの
// デフォルト値として再利用されます (UI側の関心事だが、永続状態の一部
// なのでここで所有する)。
type RunSettings struct {
	QueryField    string `json:"query_field"`
	TargetField   string `json:"target_field"`
	AudioField    string `json:"audio_field,omitempty"`
	SentenceField string `json:"sentence_field,omitempty"`
	Suffix        string `json:"suffix,omitempty"`
	Replace       bool   `json:"replace"`
	Collection    string `json:"collection,omitempty"`
}

// SettingsStore は1つのファイルパスを所有し、スコープ付きの読み書きで
// RunSettings を操作します。グローバル状態は持ちません。
type SettingsStore struct {
	path string
}

// NewSettingsStore は設定ストアを生成します。
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Load は前回の実行設定を返します。ファイルが無い・壊れている場合は
// ゼロ値を返します (ソフト失敗)。
func (s *SettingsStore) Load() RunSettings {
	var settings RunSettings
	data, err := os.ReadFile(s.path)
	if err != nil {
		return settings
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return RunSettings{}
	}
	return settings
}

// Save は実行設定を永続化します。
func (s *SettingsStore) Save(settings RunSettings) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("設定ファイル用ディレクトリの作成に失敗しました: %w", err)
		}
	}
	data, err := json.MarshalIndent(settings, "", " ")
	if err != nil {
		return fmt.Errorf("実行設定のシリアライズに失敗しました: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("実行設定の書き込みに失敗しました: %w", err)
	}
	return nil
}
