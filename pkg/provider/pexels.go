package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strconv"

	"github.com/shouni/go-media-backfill/pkg/httpclient"
)

const (
	pexelsBaseURL = "https://api.pexels.com/v1"

	// pexelsPerPageMax はAPI仕様上の per_page 上限です。
	pexelsPerPageMax = 80

	// pexelsPageSpread は決定的ページ選択の散らばり幅です。
	// 同じクエリは常に同じページを引き、近いクエリ同士の重複を減らします。
	pexelsPageSpread = 5
)

// pexelsSizePreference は src のサイズバリアントを選ぶ際の優先順です。
// 先頭は設定で差し替え可能で、以降は固定のフォールバック順です。
var pexelsSizeFallback = []string{"large2x", "original", "medium", "small"}

// PexelsOptions は検索の絞り込みオプションです。空文字は未指定を意味します。
type PexelsOptions struct {
	PerPage       int
	Orientation   string
	Size          string
	Locale        string
	PreferredSize string // src から選ぶサイズバリアント。デフォルト "large"
}

// PexelsClient はライセンス済みストックフォトAPI (Pexels) のクライアントです。
// Authorization ヘッダーにAPIキーを要求します。
type PexelsClient struct {
	api  *httpclient.Client
	dl   ByteFetcher
	opts PexelsOptions
}

// ByteFetcher は、URLから生のバイト列を取得する機能のインターフェースを定義します。
// httpkit.Client がこれを満たすため、共有フェッチャーをそのまま注入できます。
type ByteFetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// NewPexels は Pexels クライアントを生成します。
// api にはAPIキーを Authorization ヘッダーとして持つセッションを渡します。
func NewPexels(api *httpclient.Client, dl ByteFetcher, opts PexelsOptions) *PexelsClient {
	if opts.PerPage < 1 {
		opts.PerPage = 1
	}
	if opts.PerPage > pexelsPerPageMax {
		opts.PerPage = pexelsPerPageMax
	}
	if opts.PreferredSize == "" {
		opts.PreferredSize = "large"
	}
	return &PexelsClient{api: api, dl: dl, opts: opts}
}

// Name は Searcher インターフェースを満たします。
func (c *PexelsClient) Name() string {
	return NamePexels
}

// pexelsPhoto は /v1/search レスポンスの1件を表します。
type pexelsPhoto struct {
	ID  int64             `json:"id"`
	Src map[string]string `json:"src"`
}

type pexelsSearchResponse struct {
	Photos []pexelsPhoto `json:"photos"`
}

// Search は写真候補を返します。ページ番号はクエリのハッシュから決定的に選び、
// 同系統のクエリが毎回同じ先頭ページに集中するのを避けます。
func (c *PexelsClient) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	perPage := c.opts.PerPage
	if limit > 0 && limit < perPage {
		perPage = limit
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(deterministicPage(query)))
	if c.opts.Orientation != "" {
		params.Set("orientation", c.opts.Orientation)
	}
	if c.opts.Size != "" {
		params.Set("size", c.opts.Size)
	}
	if c.opts.Locale != "" {
		params.Set("locale", c.opts.Locale)
	}

	var resp pexelsSearchResponse
	if err := c.api.GetJSON(ctx, pexelsBaseURL+"/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, NewError(NamePexels, err)
	}

	candidates := make([]Candidate, 0, len(resp.Photos))
	for _, photo := range resp.Photos {
		srcURL := pickBestSrcURL(photo.Src, c.opts.PreferredSize)
		if srcURL == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:      fmt.Sprintf("pexels:%d", photo.ID),
			Locator: srcURL,
			Meta: map[string]string{
				MetaExt: "jpg",
			},
		})
	}

	if len(candidates) == 0 {
		return nil, NewError(NamePexels, ErrNoCandidate)
	}
	return candidates, nil
}

// deterministicPage はクエリ文字列から 1..pexelsPageSpread のページ番号を導出します。
func deterministicPage(query string) int {
	h := fnv.New64a()
	h.Write([]byte(query))
	return int(h.Sum64()%pexelsPageSpread) + 1
}

// pickBestSrcURL は優先サイズ → 固定フォールバック順で src からURLを選びます。
func pickBestSrcURL(src map[string]string, preferred string) string {
	if u := src[preferred]; u != "" {
		return u
	}
	for _, key := range pexelsSizeFallback {
		if u := src[key]; u != "" {
			return u
		}
	}
	return ""
}

// Fetch は選ばれた写真をダウンロードします。画像CDNは認証不要のため、
// 共有フェッチャー経由で取得します。
func (c *PexelsClient) Fetch(ctx context.Context, cand Candidate) ([]byte, error) {
	payload, err := c.dl.FetchBytes(ctx, cand.Locator)
	if err != nil {
		return nil, NewError(NamePexels, err)
	}
	return payload, nil
}
