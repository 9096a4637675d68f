package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockURLSource は URLSource (ブラウザ経路) のテスト用実装です。
type MockURLSource struct {
	urls []string
	err  error
}

func (m *MockURLSource) SearchImageURLs(ctx context.Context, query string, maxResults int) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.urls, nil
}

func TestExtractYahooImageURLs(t *testing.T) {
	encoded := url.QueryEscape("http://img.example.com/photo.jpg")
	html := fmt.Sprintf(`<html><body>
		<a href="/image/view?imgurl=%s&rkf=2">result</a>
		<a href="/other">no image</a>
		<script>var x = "imgurl=%s&sig=abc";</script>
	</body></html>`, encoded, url.QueryEscape("http://img.example.com/second.png"))

	urls := extractYahooImageURLs([]byte(html))

	require.Len(t, urls, 2)
	assert.Equal(t, "http://img.example.com/photo.jpg", urls[0])
	assert.Equal(t, "http://img.example.com/second.png", urls[1])
}

func TestExtractYahooImageURLs_FiltersInvalid(t *testing.T) {
	// http で始まらない値や二重登録は除外される
	html := `<a href="?imgurl=data%3Aimage%2Fpng&x=1">bad</a>
		<a href="?imgurl=http%3A%2F%2Fok.example.com%2Fa.jpg">ok</a>
		<a href="?imgurl=http%3A%2F%2Fok.example.com%2Fa.jpg">dup</a>`

	urls := extractYahooImageURLs([]byte(html))
	assert.Equal(t, []string{"http://ok.example.com/a.jpg"}, urls)
}

func TestHasNextPageMarker(t *testing.T) {
	assert.True(t, hasNextPageMarker([]byte(`<a>次へ</a>`)))
	assert.True(t, hasNextPageMarker([]byte(`<a>Next</a>`)))
	assert.False(t, hasNextPageMarker([]byte(`<a>end of results</a>`)))
}

func TestYahooSearch_BrowserPathPreferred(t *testing.T) {
	client, _ := newMockSession(t)
	browser := &MockURLSource{urls: []string{"http://img.example.com/browser.jpg"}}

	yahoo := NewYahoo(client, browser)
	candidates, err := yahoo.Search(context.Background(), "猫", 10)

	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "http://img.example.com/browser.jpg", candidates[0].Locator)
}

func TestYahooSearch_BrowserFailureFallsBackToScrape(t *testing.T) {
	client, mt := newMockSession(t)

	imgURL := url.QueryEscape("http://img.example.com/scraped.jpg")
	mt.RegisterResponder("GET", `=~^https://search\.yahoo\.co\.jp/image/search`,
		httpmock.NewStringResponder(200,
			fmt.Sprintf(`<a href="?imgurl=%s">r</a>`, imgURL)))

	browser := &MockURLSource{err: errors.New("chrome not found")}
	yahoo := NewYahoo(client, browser)

	candidates, err := yahoo.Search(context.Background(), "猫", 10)

	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "http://img.example.com/scraped.jpg", candidates[0].Locator)
}

func TestYahooSearch_PagingStopsWithoutNextMarker(t *testing.T) {
	client, mt := newMockSession(t)

	pages := 0
	mt.RegisterResponder("GET", `=~^https://search\.yahoo\.co\.jp/image/search`,
		func(req *http.Request) (*http.Response, error) {
			pages++
			b := req.URL.Query().Get("b")
			img := url.QueryEscape(fmt.Sprintf("http://img.example.com/p%s.jpg", b))
			if pages == 1 {
				// 1ページ目には「次へ」がある
				return httpmock.NewStringResponse(200,
					fmt.Sprintf(`<a href="?imgurl=%s">r</a><a>次へ</a>`, img)), nil
			}
			return httpmock.NewStringResponse(200,
				fmt.Sprintf(`<a href="?imgurl=%s">r</a>`, img)), nil
		})

	yahoo := NewYahoo(client, nil)
	candidates, err := yahoo.Search(context.Background(), "猫", 10)

	require.NoError(t, err)
	assert.Len(t, candidates, 2)
	assert.Equal(t, 2, pages, "「次へ」が消えた時点でページングを打ち切るべきです")
}

func TestYahooSearch_NoResults(t *testing.T) {
	client, mt := newMockSession(t)

	mt.RegisterResponder("GET", `=~^https://search\.yahoo\.co\.jp/image/search`,
		httpmock.NewStringResponder(200, `<html>該当する画像はありません</html>`))

	yahoo := NewYahoo(client, nil)
	_, err := yahoo.Search(context.Background(), "絶対に存在しないクエリ", 10)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCandidate)
}
