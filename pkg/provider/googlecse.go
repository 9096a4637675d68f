package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shouni/go-media-backfill/pkg/httpclient"
)

const (
	googleCSEEndpoint = "https://www.googleapis.com/customsearch/v1"

	// Custom Search JSON API の1リクエスト上限
	googleCSEMaxNum = 10

	googleFallbackReferer = "https://www.google.com/"
)

// GoogleCSEClient は Google Custom Search JSON API の画像検索ラッパーです。
// APIキーと、Web全体の画像検索を許可した CSE ID (cx) が必要です。
// 無料枠は1日100クエリで、使用量は QuotaLedger で記録されます (advisory)。
type GoogleCSEClient struct {
	client *httpclient.Client
	key    string
	cx     string
	lang   string // lr パラメータ。例: lang_ja
}

// NewGoogleCSE は Google CSE クライアントを生成します。
func NewGoogleCSE(client *httpclient.Client, key, cx, lang string) *GoogleCSEClient {
	return &GoogleCSEClient{client: client, key: key, cx: cx, lang: lang}
}

// Name は Searcher インターフェースを満たします。
func (c *GoogleCSEClient) Name() string {
	return NameGoogle
}

// googleCSEItem は customsearch レスポンスの1件を表します。
type googleCSEItem struct {
	Link        string `json:"link"`
	Title       string `json:"title"`
	DisplayLink string `json:"displayLink"`
	Image       struct {
		ContextLink string `json:"contextLink"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
	} `json:"image"`
}

type googleCSEResponse struct {
	Items []googleCSEItem `json:"items"`
}

// Search は画像候補を最大 limit 件 (APIの上限により最大10件) 返します。
// ダウンロード時に必要な Referer (掲載元ページ) は候補の Meta に保持します。
func (c *GoogleCSEClient) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	num := limit
	if num < 1 {
		num = 1
	}
	if num > googleCSEMaxNum {
		num = googleCSEMaxNum
	}

	params := url.Values{}
	params.Set("key", c.key)
	params.Set("cx", c.cx)
	params.Set("q", query)
	params.Set("searchType", "image")
	params.Set("num", strconv.Itoa(num))
	params.Set("start", "1")
	params.Set("safe", "medium")
	if c.lang != "" {
		params.Set("lr", c.lang)
	}

	var resp googleCSEResponse
	if err := c.client.GetJSON(ctx, googleCSEEndpoint+"?"+params.Encode(), nil, &resp); err != nil {
		return nil, NewError(NameGoogle, err)
	}

	candidates := make([]Candidate, 0, len(resp.Items))
	for _, item := range resp.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}

		referer := strings.TrimSpace(item.Image.ContextLink)
		if referer == "" {
			referer = googleFallbackReferer
		}

		candidates = append(candidates, Candidate{
			ID:      link,
			Locator: link,
			Meta: map[string]string{
				MetaTitle:   item.Title,
				MetaSource:  item.DisplayLink,
				MetaWidth:   strconv.Itoa(item.Image.Width),
				MetaHeight:  strconv.Itoa(item.Image.Height),
				MetaReferer: referer,
				MetaExt:     "jpg",
			},
		})
	}

	if len(candidates) == 0 {
		return nil, NewError(NameGoogle, ErrNoCandidate)
	}
	return candidates, nil
}

// Fetch は掲載元ページを Referer に付与して画像をダウンロードします。
// ホットリンク対策をしているサイトでも取得できる可能性を上げるためです。
func (c *GoogleCSEClient) Fetch(ctx context.Context, cand Candidate) ([]byte, error) {
	referer := cand.Meta[MetaReferer]
	if referer == "" {
		referer = googleFallbackReferer
	}

	payload, err := c.client.GetBytes(ctx, cand.Locator, http.Header{
		"Referer": []string{referer},
	})
	if err != nil {
		return nil, NewError(NameGoogle, err)
	}
	return payload, nil
}
