// Package feed は、RSS/Atomフィードをバッチのキー供給源に変換します。
// 記事1件がキー1つ (GUIDまたはリンク) とクエリ元テキスト (タイトル) になります。
package feed

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

// Fetcher は、フィードの生バイト列を取得する機能のインターフェースを定義します。
// httpkit.Client がこれを満たします。
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Entry はフィードから得られたバッチ投入単位です。
type Entry struct {
	Key  string // 安定な識別子 (GUID優先、なければリンク)
	Text string // クエリ元テキスト (記事タイトル)
}

// Parser はフィード取得とキー抽出を担います。
type Parser struct {
	fetcher Fetcher
}

// NewParser は新しい Parser インスタンスを初期化し、依存関係を注入します。
func NewParser(fetcher Fetcher) (*Parser, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("feed.NewParser: Fetcher cannot be nil")
	}
	return &Parser{fetcher: fetcher}, nil
}

// FetchEntries は指定されたURLからフィードを取得し、バッチ投入単位に
// 変換します。タイトルが空のアイテムは捨てられます。
func (p *Parser) FetchEntries(ctx context.Context, feedURL string) ([]Entry, error) {
	body, err := p.fetcher.FetchBytes(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得失敗 (URL: %s): %w", feedURL, err)
	}

	fp := gofeed.NewParser()
	parsed, err := fp.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパース失敗 (URL: %s): %w", feedURL, err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}

		key := strings.TrimSpace(item.GUID)
		if key == "" {
			key = strings.TrimSpace(item.Link)
		}
		if key == "" {
			key = title
		}

		entries = append(entries, Entry{Key: key, Text: title})
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("フィードに利用可能なアイテムがありません (URL: %s)", feedURL)
	}
	return entries, nil
}
