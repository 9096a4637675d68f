package provider

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-media-backfill/pkg/httpclient"
)

// newMockSession は httpmock のトランスポートを差し込んだセッションを返します。
func newMockSession(t *testing.T) (*httpclient.Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	client := httpclient.New(0,
		httpclient.WithTransport(mt),
		httpclient.WithMaxRetries(0),
	)
	return client, mt
}

func TestExtractVQD(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{"シングルクォート形式", `...vqd='4-1234567890';...`, "4-1234567890"},
		{"JSON形式", `{"vqd":"4-abcdef"}`, "4-abcdef"},
		{"クエリパラメータ形式", `href="/i.js?vqd=4-xyz&o=json"`, "4-xyz"},
		{"見つからない", `<html>no token here</html>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractVQD(tt.html))
		})
	}
}

func TestNormalizeDDGLocale(t *testing.T) {
	assert.Equal(t, "ja-jp", normalizeDDGLocale(""))
	assert.Equal(t, "ja-jp", normalizeDDGLocale("ja_JP"))
	assert.Equal(t, "ja-jp", normalizeDDGLocale("jp-ja"))
	assert.Equal(t, "us-en", normalizeDDGLocale("US-EN"))
}

func TestDDGSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("検索ページからvqdを取得して候補を返す", func(t *testing.T) {
		client, mt := newMockSession(t)

		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/\?`,
			httpmock.NewStringResponder(200, `<script>vqd='4-555';</script>`))
		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/i\.js`,
			httpmock.NewJsonResponderOrPanic(200, map[string]any{
				"results": []map[string]any{
					{"image": "http://img.example.com/1.jpg", "title": "one", "width": 800, "height": 600},
					{"image": "http://img.example.com/2.jpg", "title": "two"},
				},
			}))

		ddg := NewDDG(client, "")
		candidates, err := ddg.Search(ctx, "猫 イラスト", 10)

		require.NoError(t, err)
		require.Len(t, candidates, 2)
		assert.Equal(t, "http://img.example.com/1.jpg", candidates[0].Locator)
		assert.Equal(t, "one", candidates[0].Meta[MetaTitle])
		assert.Equal(t, "800", candidates[0].Meta[MetaWidth])
	})

	t.Run("vqdはクエリ単位でキャッシュされる", func(t *testing.T) {
		client, mt := newMockSession(t)

		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/\?`,
			httpmock.NewStringResponder(200, `vqd='4-cache';`))
		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/i\.js`,
			httpmock.NewJsonResponderOrPanic(200, map[string]any{
				"results": []map[string]any{{"image": "http://img.example.com/a.jpg"}},
			}))

		ddg := NewDDG(client, "")
		_, err := ddg.Search(ctx, "query", 5)
		require.NoError(t, err)
		_, err = ddg.Search(ctx, "query", 5)
		require.NoError(t, err)

		// 2回目の検索では検索ページを再取得しない
		info := mt.GetCallCountInfo()
		assert.Equal(t, 1, info[`GET =~^https://duckduckgo\.com/\?`])
		assert.Equal(t, 2, info[`GET =~^https://duckduckgo\.com/i\.js`])
	})

	t.Run("GETでvqdが取れない場合はPOSTにフォールバック", func(t *testing.T) {
		client, mt := newMockSession(t)

		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/\?`,
			httpmock.NewStringResponder(200, `no token`))
		mt.RegisterResponder("POST", "https://duckduckgo.com/",
			httpmock.NewStringResponder(200, `vqd='4-post';`))
		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/i\.js`,
			httpmock.NewJsonResponderOrPanic(200, map[string]any{
				"results": []map[string]any{{"image": "http://img.example.com/b.jpg"}},
			}))

		ddg := NewDDG(client, "")
		candidates, err := ddg.Search(ctx, "query", 5)

		require.NoError(t, err)
		assert.Len(t, candidates, 1)
	})

	t.Run("nextカーソルでページングする", func(t *testing.T) {
		client, mt := newMockSession(t)

		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/\?`,
			httpmock.NewStringResponder(200, `vqd='4-page';`))

		page2 := "/i.js?q=query&next=1"
		calls := 0
		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/i\.js`,
			func(req *http.Request) (*http.Response, error) {
				calls++
				if calls == 1 {
					return httpmock.NewJsonResponse(200, map[string]any{
						"results": []map[string]any{{"image": "http://img.example.com/p1.jpg"}},
						"next":    page2,
					})
				}
				return httpmock.NewJsonResponse(200, map[string]any{
					"results": []map[string]any{{"image": "http://img.example.com/p2.jpg"}},
				})
			})

		ddg := NewDDG(client, "")
		candidates, err := ddg.Search(ctx, "query", 5)

		require.NoError(t, err)
		assert.Len(t, candidates, 2)
		assert.Equal(t, 2, calls)
	})

	t.Run("候補ゼロはエラー", func(t *testing.T) {
		client, mt := newMockSession(t)

		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/\?`,
			httpmock.NewStringResponder(200, `vqd='4-empty';`))
		mt.RegisterResponder("GET", `=~^https://duckduckgo\.com/i\.js`,
			httpmock.NewJsonResponderOrPanic(200, map[string]any{"results": []map[string]any{}}))

		ddg := NewDDG(client, "")
		_, err := ddg.Search(ctx, "query", 5)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoCandidate)
	})
}

func TestDDGFetch(t *testing.T) {
	client, mt := newMockSession(t)

	mt.RegisterResponder("GET", "http://img.example.com/1.jpg",
		func(req *http.Request) (*http.Response, error) {
			// ダウンロードには Referer が付与される
			assert.Equal(t, "https://duckduckgo.com/", req.Header.Get("Referer"))
			return httpmock.NewBytesResponse(200, []byte("image-bytes")), nil
		})

	ddg := NewDDG(client, "")
	payload, err := ddg.Fetch(context.Background(), Candidate{Locator: "http://img.example.com/1.jpg"})

	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), payload)
}
