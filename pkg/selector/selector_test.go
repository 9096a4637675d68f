package selector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-media-backfill/pkg/provider"
)

// makeCandidates はテスト用の候補リストを生成します。
func makeCandidates(n int) []provider.Candidate {
	candidates := make([]provider.Candidate, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, provider.Candidate{
			ID:      fmt.Sprintf("cand-%d", i),
			Locator: fmt.Sprintf("http://example.com/img/%d.jpg", i),
		})
	}
	return candidates
}

func TestKeyIndex(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"数値キー", "1234567890"},
		{"文字列キー", "猫"},
		{"空キー", ""},
		{"英字キー", "neko-no-card"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 同じキーは常に同じインデックスへ写る (決定性)
			first := KeyIndex(tt.key)
			second := KeyIndex(tt.key)
			assert.Equal(t, first, second)
		})
	}

	t.Run("数値キーはそのまま数値として扱われる", func(t *testing.T) {
		assert.Equal(t, uint64(42), KeyIndex("42"))
		assert.Equal(t, uint64(0), KeyIndex("0"))
	})
}

func TestPick_Deterministic(t *testing.T) {
	candidates := makeCandidates(10)

	// 同じ (キー, 候補リスト) の組は何度選んでも同じ候補を返す
	for _, key := range []string{"100", "猫", "犬の写真", "7"} {
		first, err := Pick(candidates, key, NewDedupSet())
		require.NoError(t, err)
		second, err := Pick(candidates, key, NewDedupSet())
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID, "キー %q の選択が決定的ではありません", key)
	}
}

func TestPick_Distribution(t *testing.T) {
	// 10キー・10候補で、選ばれる候補が最低でも5種類に分散すること
	candidates := makeCandidates(10)
	seen := map[string]struct{}{}

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("card-key-%d", i)
		cand, err := Pick(candidates, key, NewDedupSet())
		require.NoError(t, err)
		seen[cand.ID] = struct{}{}
	}

	assert.GreaterOrEqual(t, len(seen), 5, "選択結果の分散が不足しています: %v", seen)
}

func TestPick_SkipsUsedCandidates(t *testing.T) {
	candidates := makeCandidates(3)
	dedup := NewDedupSet()

	// 同じキーで選び続けても、使用済みを登録していけば全候補を巡回する
	picked := map[string]struct{}{}
	for i := 0; i < 3; i++ {
		cand, err := Pick(candidates, "同じキー", dedup)
		require.NoError(t, err)
		_, dup := picked[cand.ID]
		assert.False(t, dup, "未使用候補が残っているのに重複が返されました: %s", cand.ID)
		picked[cand.ID] = struct{}{}
		dedup.Add(cand.ID)
	}
	assert.Len(t, picked, 3)
}

func TestPick_AllUsedReturnsDuplicate(t *testing.T) {
	candidates := makeCandidates(2)
	dedup := NewDedupSet()
	dedup.Add("cand-0")
	dedup.Add("cand-1")

	// 全候補が使用済みの場合は開始位置の候補を重複承知で返す (エラーにしない)
	cand, err := Pick(candidates, "key", dedup)
	require.NoError(t, err)
	assert.True(t, dedup.Contains(cand.ID))

	start := KeyIndex("key") % uint64(len(candidates))
	assert.Equal(t, candidates[start].ID, cand.ID)
}

func TestPick_EmptyCandidates(t *testing.T) {
	_, err := Pick(nil, "key", NewDedupSet())
	assert.Error(t, err)
}

func TestDedupSet(t *testing.T) {
	dedup := NewDedupSet()
	assert.Equal(t, 0, dedup.Len())
	assert.False(t, dedup.Contains("a"))

	dedup.Add("a")
	dedup.Add("a") // 二重登録しても数は増えない
	assert.True(t, dedup.Contains("a"))
	assert.Equal(t, 1, dedup.Len())
}
