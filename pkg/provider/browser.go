package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

const (
	// browserNavTimeout はページ遷移と初回ロードに許容する時間です。
	browserNavTimeout = 30 * time.Second

	// browserScrollRounds は遅延ロードされる結果を引き出すためのスクロール回数です。
	browserScrollRounds = 10

	browserScrollWait = 500 * time.Millisecond
)

// BrowserSource は、ヘッドレスChromiumで検索結果ページを実際に描画して
// 画像URLを抽出する URLSource 実装です。
// HTTPスクレイプがレイアウト変更やbot対策で空振りする場合の代替経路として、
// YahooClient に注入して使います。検索1回ごとにブラウザを起動・破棄します。
type BrowserSource struct {
	headless bool
}

// NewBrowserSource はヘッドレスブラウザ経由のURL抽出器を生成します。
func NewBrowserSource() *BrowserSource {
	return &BrowserSource{headless: true}
}

// SearchImageURLs は URLSource インターフェースを満たします。
// 結果ページを開き、スクロールで候補を読み込ませながら imgurl= リンクを収集します。
func (b *BrowserSource) SearchImageURLs(ctx context.Context, query string, maxResults int) ([]string, error) {
	l := launcher.New().Headless(b.headless)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("ヘッドレスブラウザの起動に失敗しました: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("ブラウザへの接続に失敗しました: %w", err)
	}
	defer browser.Close()

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("ステルスページの生成に失敗しました: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, browserNavTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("p", query)
	params.Set("ei", "UTF-8")
	searchURL := yahooSearchURL + "?" + params.Encode()

	if err := page.Context(navCtx).Navigate(searchURL); err != nil {
		return nil, fmt.Errorf("検索結果ページへの遷移に失敗しました: %w", err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		return nil, fmt.Errorf("検索結果ページのロード待機に失敗しました: %w", err)
	}

	seen := make(map[string]struct{})
	var urls []string

	for round := 0; round < browserScrollRounds && len(urls) < maxResults; round++ {
		if _, err := page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			break
		}
		time.Sleep(browserScrollWait)

		hrefs, err := b.collectHrefs(ctx, page)
		if err != nil {
			break
		}
		for _, href := range hrefs {
			m := yahooIMGURLPattern.FindStringSubmatch(href)
			if m == nil {
				continue
			}
			u, decErr := url.QueryUnescape(m[1])
			if decErr != nil || u == "" {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
			if len(urls) >= maxResults {
				break
			}
		}
	}

	return urls, nil
}

// collectHrefs はページ内の全アンカーの href をJS評価で一括取得します。
// 要素ごとの往復を避けるため、DOM走査はブラウザ側で行います。
func (b *BrowserSource) collectHrefs(ctx context.Context, page *rod.Page) ([]string, error) {
	res, err := page.Context(ctx).Eval(`() => Array.from(document.querySelectorAll("a[href]"), a => a.href)`)
	if err != nil {
		return nil, err
	}

	var hrefs []string
	for _, v := range res.Value.Arr() {
		if s := v.Str(); s != "" {
			hrefs = append(hrefs, s)
		}
	}
	return hrefs, nil
}
