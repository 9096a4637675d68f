package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/shouni/go-media-backfill/pkg/httpclient"
)

const (
	yahooSearchURL = "https://search.yahoo.co.jp/image/search"

	// 1ページあたりの結果数。ページングの b パラメータの増分でもあります。
	yahooPageSize = 60

	// スクレイピング対象への配慮として、ページ取得は1秒1回に制限します。
	yahooRateInterval = 1
)

// yahooIMGURLPattern は結果リンクの imgurl= クエリパラメータから元画像URLを抜き出します。
var yahooIMGURLPattern = regexp.MustCompile(`imgurl=([^&"']+)`)

// URLSource は、画像URLのリストを別経路 (ヘッドレスブラウザ等) で供給できる実装を表します。
type URLSource interface {
	SearchImageURLs(ctx context.Context, query string, maxResults int) ([]string, error)
}

// YahooClient は Yahoo! JAPAN 画像検索の結果ページをスクレイピングして
// 元画像URLを抽出するクライアントです。APIキー不要のベストエフォート実装であり、
// ページレイアウトの変更に弱い点は承知の上で使います。
type YahooClient struct {
	client  *httpclient.Client
	browser URLSource // 任意。設定時はHTTPスクレイプより優先
	limiter *rate.Limiter
}

// NewYahoo は Yahoo 画像検索クライアントを生成します。
// browser に nil 以外を渡すと、ヘッドレスブラウザ経由の抽出を先に試みます。
func NewYahoo(client *httpclient.Client, browser URLSource) *YahooClient {
	return &YahooClient{
		client:  client,
		browser: browser,
		limiter: rate.NewLimiter(rate.Limit(yahooRateInterval), 1),
	}
}

// Name は Searcher インターフェースを満たします。
func (c *YahooClient) Name() string {
	return NameYahoo
}

// Search は結果ページを辿りながら元画像URLを最大 limit 件収集します。
// ブラウザ経路が設定されている場合はそちらを優先し、失敗時はHTTPスクレイプに
// フォールバックします。
func (c *YahooClient) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	var urls []string

	if c.browser != nil {
		browserURLs, err := c.browser.SearchImageURLs(ctx, query, limit)
		if err == nil && len(browserURLs) > 0 {
			urls = browserURLs
		}
		// ブラウザ経路の失敗は致命的ではない。HTTPスクレイプで続行。
	}

	if len(urls) == 0 {
		scraped, err := c.scrapeImageURLs(ctx, query, limit)
		if err != nil {
			return nil, NewError(NameYahoo, err)
		}
		urls = scraped
	}

	if len(urls) == 0 {
		return nil, NewError(NameYahoo, ErrNoCandidate)
	}

	candidates := make([]Candidate, 0, len(urls))
	for _, u := range urls {
		candidates = append(candidates, Candidate{
			ID:      u,
			Locator: u,
			Meta: map[string]string{
				MetaExt: "jpg",
			},
		})
	}
	return candidates, nil
}

// scrapeImageURLs は検索結果ページをHTTPで取得し、imgurl= パラメータを抽出します。
// ページングは b パラメータを60件ずつ進め、「次へ」の痕跡が無くなったら打ち切ります。
func (c *YahooClient) scrapeImageURLs(ctx context.Context, query string, limit int) ([]string, error) {
	seen := make(map[string]struct{})
	var urls []string

	for start := 1; len(urls) < limit; start += yahooPageSize {
		if err := c.limiter.Wait(ctx); err != nil {
			return urls, err
		}

		params := url.Values{}
		params.Set("p", query)
		params.Set("ei", "UTF-8")
		params.Set("b", strconv.Itoa(start))

		body, err := c.client.GetBytes(ctx, yahooSearchURL+"?"+params.Encode(), http.Header{
			"Referer": []string{"https://search.yahoo.co.jp/"},
		})
		if err != nil {
			if len(urls) > 0 {
				break
			}
			return nil, fmt.Errorf("検索結果ページの取得に失敗しました: %w", err)
		}

		pageURLs := extractYahooImageURLs(body)
		for _, u := range pageURLs {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
			if len(urls) >= limit {
				break
			}
		}

		if !hasNextPageMarker(body) {
			break
		}
	}

	return urls, nil
}

// extractYahooImageURLs はHTMLから元画像URLを抽出します。
// goquery でアンカーの href を走査しつつ、取りこぼし対策として
// HTML全体への正規表現も併用します。
func extractYahooImageURLs(body []byte) []string {
	seen := make(map[string]struct{})
	var urls []string

	appendURL := func(enc string) {
		u, err := url.QueryUnescape(enc)
		if err != nil || !strings.HasPrefix(u, "http") {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			if m := yahooIMGURLPattern.FindStringSubmatch(href); m != nil {
				appendURL(m[1])
			}
		})
	}

	for _, m := range yahooIMGURLPattern.FindAllStringSubmatch(string(body), -1) {
		appendURL(m[1])
	}

	return urls
}

// hasNextPageMarker は次ページの存在を示す痕跡を探します。
func hasNextPageMarker(body []byte) bool {
	return bytes.Contains(body, []byte("次へ")) || bytes.Contains(body, []byte("Next"))
}

// Fetch は選ばれた候補の画像バイト列をダウンロードします。
func (c *YahooClient) Fetch(ctx context.Context, cand Candidate) ([]byte, error) {
	payload, err := c.client.GetBytes(ctx, cand.Locator, nil)
	if err != nil {
		return nil, NewError(NameYahoo, err)
	}
	return payload, nil
}
