package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/shouni/go-media-backfill/pkg/httpclient"
)

const (
	ddgBaseURL   = "https://duckduckgo.com/"
	ddgImagesURL = "https://duckduckgo.com/i.js"

	// vqd トークンはおよそ数時間有効。短めに持って失効前に取り直します。
	ddgVQDCacheTTL = 10 * time.Minute

	ddgDefaultLocale = "ja-jp"
)

// vqd トークンは検索ページのHTMLに複数の形で埋め込まれるため、順に試します。
var ddgVQDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`vqd='([\w-]+)'`),
	regexp.MustCompile(`"vqd":"([\w-]+)"`),
	regexp.MustCompile(`vqd=([\w-]+)&`),
	regexp.MustCompile(`vqd=([\w-]+)\b`),
}

// DDGClient は DuckDuckGo 画像検索 (非公式 i.js エンドポイント) のクライアントです。
// APIキーは不要ですが、検索ページから抽出する vqd トークンが必要です。
type DDGClient struct {
	client   *httpclient.Client
	locale   string
	vqdCache *cache.Cache
}

// NewDDG は DuckDuckGo クライアントを生成します。locale が空の場合は ja-jp を使用します。
func NewDDG(client *httpclient.Client, locale string) *DDGClient {
	return &DDGClient{
		client:   client,
		locale:   normalizeDDGLocale(locale),
		vqdCache: cache.New(ddgVQDCacheTTL, ddgVQDCacheTTL),
	}
}

// normalizeDDGLocale は ja_JP / jp-ja などの表記ゆれを ddg の地域コードに揃えます。
func normalizeDDGLocale(code string) string {
	c := strings.ToLower(strings.ReplaceAll(code, "_", "-"))
	switch c {
	case "", "ja-jp", "jp-ja", "jp-jp":
		return ddgDefaultLocale
	}
	return c
}

// Name は Searcher インターフェースを満たします。
func (c *DDGClient) Name() string {
	return NameDDG
}

// vqd は検索ページから vqd トークンを抽出します。クエリ単位でTTLキャッシュされます。
func (c *DDGClient) vqd(ctx context.Context, query string) (string, error) {
	if tok, found := c.vqdCache.Get(query); found {
		return tok.(string), nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("iax", "images")
	params.Set("ia", "images")

	body, err := c.client.GetBytes(ctx, ddgBaseURL+"?"+params.Encode(), http.Header{
		"Referer": []string{ddgBaseURL},
	})
	if err == nil {
		if tok := extractVQD(string(body)); tok != "" {
			c.vqdCache.SetDefault(query, tok)
			return tok, nil
		}
	}

	// フォールバック: フォームPOSTでトップページを取得して再抽出
	form := url.Values{}
	form.Set("q", query)
	body, err = c.client.PostForm(ctx, ddgBaseURL, form)
	if err != nil {
		return "", fmt.Errorf("vqdトークン取得ページのフェッチに失敗しました: %w", err)
	}
	if tok := extractVQD(string(body)); tok != "" {
		c.vqdCache.SetDefault(query, tok)
		return tok, nil
	}

	return "", fmt.Errorf("vqdトークンが検索ページから見つかりませんでした")
}

func extractVQD(html string) string {
	for _, pat := range ddgVQDPatterns {
		if m := pat.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}

// ddgImageResult は i.js レスポンスの1件を表します。
type ddgImageResult struct {
	Image     string `json:"image"`
	Thumbnail string `json:"thumbnail"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Source    string `json:"source"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// ddgImagePage は i.js レスポンスの1ページを表します。
type ddgImagePage struct {
	Results []ddgImageResult `json:"results"`
	Next    string           `json:"next"`
}

// Search は画像候補を関連度順に最大 limit 件返します。
// next カーソルを辿ってページングします。
func (c *DDGClient) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	vqd, err := c.vqd(ctx, query)
	if err != nil {
		return nil, NewError(NameDDG, err)
	}

	params := url.Values{}
	params.Set("l", c.locale)
	params.Set("o", "json")
	params.Set("q", query)
	params.Set("vqd", vqd)
	params.Set("f", ",,,") // フィルタなし
	params.Set("p", "1")   // セーフサーチON

	cursorURL := ddgImagesURL + "?" + params.Encode()

	var candidates []Candidate
	for len(candidates) < limit && cursorURL != "" {
		var page ddgImagePage
		if err := c.client.GetJSON(ctx, cursorURL, http.Header{"Referer": []string{ddgBaseURL}}, &page); err != nil {
			// 1ページも取れていなければエラー、途中ならそこまでの候補で打ち切り
			if len(candidates) == 0 {
				return nil, NewError(NameDDG, err)
			}
			break
		}

		for _, item := range page.Results {
			imageURL := strings.TrimSpace(item.Image)
			if imageURL == "" {
				imageURL = strings.TrimSpace(item.Thumbnail)
			}
			if imageURL == "" {
				continue
			}
			candidates = append(candidates, Candidate{
				ID:      imageURL,
				Locator: imageURL,
				Meta: map[string]string{
					MetaTitle:  item.Title,
					MetaSource: item.Source,
					MetaWidth:  strconv.Itoa(item.Width),
					MetaHeight: strconv.Itoa(item.Height),
					MetaExt:    "jpg",
				},
			})
			if len(candidates) >= limit {
				break
			}
		}

		cursorURL = nextCursorURL(page.Next)
	}

	if len(candidates) == 0 {
		return nil, NewError(NameDDG, ErrNoCandidate)
	}
	return candidates, nil
}

// nextCursorURL は next カーソルを絶対URLに整えます。空なら終端です。
func nextCursorURL(next string) string {
	if next == "" {
		return ""
	}
	if strings.HasPrefix(next, "/") {
		return "https://duckduckgo.com" + next
	}
	return next
}

// Fetch は選ばれた候補の画像バイト列をダウンロードします。
func (c *DDGClient) Fetch(ctx context.Context, cand Candidate) ([]byte, error) {
	payload, err := c.client.GetBytes(ctx, cand.Locator, http.Header{
		"Referer": []string{ddgBaseURL},
	})
	if err != nil {
		return nil, NewError(NameDDG, err)
	}
	return payload, nil
}
