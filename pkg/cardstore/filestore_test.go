package cardstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	return store
}

func TestOpen(t *testing.T) {
	t.Run("存在しないディレクトリは空ストアとして開く", func(t *testing.T) {
		store, err := Open(filepath.Join(t.TempDir(), "missing"))
		require.NoError(t, err)
		keys, err := store.ResolveKeys(context.Background(), Scope{})
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("壊れたカードファイルはエラー", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "cards.json"), []byte("{oops"), 0o644))
		_, err := Open(root)
		assert.Error(t, err)
	})

	t.Run("保存したカードを再オープンで読める", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "store")
		store, err := Open(root)
		require.NoError(t, err)
		require.NoError(t, store.AddCard("k1", "語彙", map[string]string{"表現": "猫"}))

		reopened, err := Open(root)
		require.NoError(t, err)
		assert.Equal(t, "猫", reopened.ReadField("k1", "表現"))
	})
}

func TestResolveKeys(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.AddCard("k1", "語彙", nil))
	require.NoError(t, store.AddCard("k2", "語彙::動物", nil))
	require.NoError(t, store.AddCard("k3", "文法", nil))

	ctx := context.Background()

	t.Run("キー指定が最優先", func(t *testing.T) {
		keys, err := store.ResolveKeys(ctx, Scope{Keys: []string{"k3"}, Collection: "語彙"})
		require.NoError(t, err)
		assert.Equal(t, []string{"k3"}, keys)
	})

	t.Run("コレクション指定はサブコレクションを含む", func(t *testing.T) {
		keys, err := store.ResolveKeys(ctx, Scope{Collection: "語彙"})
		require.NoError(t, err)
		assert.Equal(t, []string{"k1", "k2"}, keys)
	})

	t.Run("前方一致だけでは含まれない", func(t *testing.T) {
		// 「語彙たち」のような別コレクションを誤って含めない
		require.NoError(t, store.AddCard("k4", "語彙たち", nil))
		keys, err := store.ResolveKeys(ctx, Scope{Collection: "語彙"})
		require.NoError(t, err)
		assert.NotContains(t, keys, "k4")
	})

	t.Run("空スコープは全カード", func(t *testing.T) {
		keys, err := store.ResolveKeys(ctx, Scope{})
		require.NoError(t, err)
		assert.Len(t, keys, 4)
	})
}

func TestReadField(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.AddCard("k1", "語彙", map[string]string{"表現": "猫"}))

	// 欠損はエラーではなく空文字 (ソフト失敗)
	assert.Equal(t, "猫", store.ReadField("k1", "表現"))
	assert.Equal(t, "", store.ReadField("k1", "存在しないフィールド"))
	assert.Equal(t, "", store.ReadField("missing-key", "表現"))
}

func TestWriteField(t *testing.T) {
	tests := []struct {
		name            string
		initial         string
		hasField        bool
		replace         bool
		expectedChanged bool
		expectedValue   string
	}{
		{"空フィールドへの書き込み", "", true, false, true, "new"},
		{"既存値は非置換モードで保持", "old", true, false, false, "old"},
		{"既存値は置換モードで上書き", "old", true, true, true, "new"},
		{"未定義フィールドには書かない", "", false, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			fields := map[string]string{}
			if tt.hasField {
				fields["画像"] = tt.initial
			}
			require.NoError(t, store.AddCard("k1", "語彙", fields))

			changed, err := store.WriteField("k1", "画像", "new", tt.replace)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedChanged, changed)
			assert.Equal(t, tt.expectedValue, store.ReadField("k1", "画像"))
		})
	}

	t.Run("存在しないカードは false を返す", func(t *testing.T) {
		store := newStore(t)
		changed, err := store.WriteField("missing", "画像", "new", true)
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestStoreMedia(t *testing.T) {
	t.Run("新規保存", func(t *testing.T) {
		store := newStore(t)
		name, err := store.StoreMedia("neko.jpg", []byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, "neko.jpg", name)
		assert.FileExists(t, filepath.Join(store.MediaPath(), "neko.jpg"))
	})

	t.Run("同一内容は同じ名前を再利用", func(t *testing.T) {
		store := newStore(t)
		first, err := store.StoreMedia("neko.jpg", []byte("abc"))
		require.NoError(t, err)
		second, err := store.StoreMedia("neko.jpg", []byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("内容が異なる場合は採番で衝突回避", func(t *testing.T) {
		store := newStore(t)
		_, err := store.StoreMedia("neko.jpg", []byte("abc"))
		require.NoError(t, err)
		name, err := store.StoreMedia("neko.jpg", []byte("xyz"))
		require.NoError(t, err)
		assert.Equal(t, "neko_1.jpg", name)

		// 3つ目はさらに採番が進む
		name, err = store.StoreMedia("neko.jpg", []byte("123"))
		require.NoError(t, err)
		assert.Equal(t, "neko_2.jpg", name)
	})
}

func TestAddCard_DuplicateKeyIgnored(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.AddCard("k1", "語彙", map[string]string{"表現": "猫"}))
	require.NoError(t, store.AddCard("k1", "別コレクション", map[string]string{"表現": "犬"}))

	assert.Equal(t, "猫", store.ReadField("k1", "表現"))
}
