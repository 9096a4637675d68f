package cardstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	cardsFileName = "cards.json"
	mediaDirName  = "media"

	// collectionSeparator はコレクション階層の区切りです。
	collectionSeparator = "::"
)

// cardRecord はカードファイル内の1レコードです。
type cardRecord struct {
	Key        string            `json:"key"`
	Collection string            `json:"collection"`
	Fields     map[string]string `json:"fields"`
}

type cardsFile struct {
	Cards []cardRecord `json:"cards"`
}

// FileStore は Store のファイルベース実装です。
// ルートディレクトリ直下の cards.json にフィールドを、media/ 配下に
// メディアファイルを保持します。WriteField は即時に永続化されます。
type FileStore struct {
	root  string
	cards cardsFile
	index map[string]int // key → cards のインデックス
}

// Open はルートディレクトリからストアを開きます。cards.json が
// 存在しない場合は空のストアとして扱います。
func Open(root string) (*FileStore, error) {
	s := &FileStore{root: root, index: make(map[string]int)}

	data, err := os.ReadFile(filepath.Join(root, cardsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("カードファイルの読み込みに失敗しました: %w", err)
	}
	if err := json.Unmarshal(data, &s.cards); err != nil {
		return nil, fmt.Errorf("カードファイルのパースに失敗しました: %w", err)
	}

	for i, c := range s.cards.Cards {
		s.index[c.Key] = i
	}
	return s, nil
}

// ResolveKeys は Store インターフェースを満たします。
// Keys 指定が優先され、Collection 指定時はサブコレクションを再帰的に含みます。
func (s *FileStore) ResolveKeys(ctx context.Context, scope Scope) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(scope.Keys) > 0 {
		return scope.Keys, nil
	}

	var keys []string
	for _, c := range s.cards.Cards {
		if scope.Collection == "" ||
			c.Collection == scope.Collection ||
			strings.HasPrefix(c.Collection, scope.Collection+collectionSeparator) {
			keys = append(keys, c.Key)
		}
	}
	return keys, nil
}

// ReadField は Store インターフェースを満たします。
// カードまたはフィールドが存在しない場合は空文字を返します。
func (s *FileStore) ReadField(key, fieldName string) string {
	i, ok := s.index[key]
	if !ok {
		return ""
	}
	return s.cards.Cards[i].Fields[fieldName]
}

// WriteField は Store インターフェースを満たします。
// フィールド未定義のカードには書き込まず false を返します。
func (s *FileStore) WriteField(key, fieldName, value string, replace bool) (bool, error) {
	i, ok := s.index[key]
	if !ok {
		return false, nil
	}

	fields := s.cards.Cards[i].Fields
	current, defined := fields[fieldName]
	if !defined {
		return false, nil
	}
	if current != "" && !replace {
		return false, nil
	}

	fields[fieldName] = value
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) save() error {
	data, err := json.MarshalIndent(&s.cards, "", "  ")
	if err != nil {
		return fmt.Errorf("カードファイルのシリアライズに失敗しました: %w", err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("ストアディレクトリの作成に失敗しました: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.root, cardsFileName), data, 0o644); err != nil {
		return fmt.Errorf("カードファイルの書き込みに失敗しました: %w", err)
	}
	return nil
}

// StoreMedia は Store インターフェースを満たします。
// 同名ファイルが既に同一内容で存在する場合はその名前を再利用し、
// 内容が異なる場合は "stem_N.ext" 形式で採番して衝突を回避します。
func (s *FileStore) StoreMedia(filenameHint string, payload []byte) (string, error) {
	mediaDir := filepath.Join(s.root, mediaDirName)
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return "", fmt.Errorf("メディアディレクトリの作成に失敗しました: %w", err)
	}

	ext := filepath.Ext(filenameHint)
	stem := strings.TrimSuffix(filenameHint, ext)

	name := filenameHint
	for n := 1; ; n++ {
		path := filepath.Join(mediaDir, name)

		existing, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			if writeErr := os.WriteFile(path, payload, 0o644); writeErr != nil {
				return "", fmt.Errorf("メディアファイルの書き込みに失敗しました: %w", writeErr)
			}
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("メディアファイルの確認に失敗しました: %w", err)
		}
		if bytes.Equal(existing, payload) {
			return name, nil
		}

		name = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}

// AddCard はカードを追加します (主にテストとセットアップ用)。
// 既存キーの場合は何もしません。
func (s *FileStore) AddCard(key, collection string, fields map[string]string) error {
	if _, ok := s.index[key]; ok {
		return nil
	}
	if fields == nil {
		fields = make(map[string]string)
	}
	s.cards.Cards = append(s.cards.Cards, cardRecord{Key: key, Collection: collection, Fields: fields})
	s.index[key] = len(s.cards.Cards) - 1
	return s.save()
}

// MediaPath はメディアディレクトリの絶対位置を返します。
func (s *FileStore) MediaPath() string {
	return filepath.Join(s.root, mediaDirName)
}
