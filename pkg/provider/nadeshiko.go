package provider

import (
	"context"
	"strings"

	"github.com/shouni/go-media-backfill/pkg/httpclient"
)

// DefaultNadeshikoBaseURL は Nadeshiko API のデフォルトのベースURLです。
const DefaultNadeshikoBaseURL = "https://api.brigadasos.xyz/api/v1"

// nadeshikoSearchLimit は1クエリあたりに要求する例文数です。
// 1つの例文が画像+音声+テキストを伴うため、候補は少数で十分です。
const nadeshikoSearchLimit = 10

// NadeshikoClient はアニメの例文+メディア検索API (Nadeshiko) のクライアントです。
// 1件の候補が静止画・音声・例文テキストの組を指すのが他のプロバイダとの違いで、
// AudioFetcher を追加実装します。認証は X-API-Key ヘッダーです。
type NadeshikoClient struct {
	api     *httpclient.Client
	baseURL string
}

// NewNadeshiko は Nadeshiko クライアントを生成します。
// api には X-API-Key ヘッダーを持つセッションを渡します。baseURL が空の場合は
// DefaultNadeshikoBaseURL を使用します。
func NewNadeshiko(api *httpclient.Client, baseURL string) *NadeshikoClient {
	if baseURL == "" {
		baseURL = DefaultNadeshikoBaseURL
	}
	return &NadeshikoClient{api: api, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name は Searcher インターフェースを満たします。
func (c *NadeshikoClient) Name() string {
	return NameNadeshiko
}

// nadeshikoSentence はレスポンスの例文1件を表します。
type nadeshikoSentence struct {
	SegmentInfo struct {
		ContentJP string `json:"content_jp"`
	} `json:"segment_info"`
	MediaInfo struct {
		PathImage string `json:"path_image"`
		PathAudio string `json:"path_audio"`
	} `json:"media_info"`
}

type nadeshikoSearchResponse struct {
	Sentences []nadeshikoSentence `json:"sentences"`
}

type nadeshikoSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Search は例文候補を返します。各候補の Meta に音声URLと例文テキストを格納し、
// オーケストレータが画像と併せて書き戻せるようにします。
func (c *NadeshikoClient) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	reqLimit := limit
	if reqLimit < 1 || reqLimit > nadeshikoSearchLimit {
		reqLimit = nadeshikoSearchLimit
	}

	var resp nadeshikoSearchResponse
	err := c.api.PostJSON(ctx, c.baseURL+"/search/media/sentence", nadeshikoSearchRequest{
		Query: query,
		Limit: reqLimit,
	}, &resp)
	if err != nil {
		return nil, NewError(NameNadeshiko, err)
	}

	candidates := make([]Candidate, 0, len(resp.Sentences))
	for _, s := range resp.Sentences {
		image := strings.TrimSpace(s.MediaInfo.PathImage)
		if image == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:      image,
			Locator: image,
			Meta: map[string]string{
				MetaAudioURL: strings.TrimSpace(s.MediaInfo.PathAudio),
				MetaSentence: strings.TrimSpace(s.SegmentInfo.ContentJP),
				MetaExt:      "jpg",
			},
		})
	}

	if len(candidates) == 0 {
		return nil, NewError(NameNadeshiko, ErrNoCandidate)
	}
	return candidates, nil
}

// Fetch は例文の静止画をダウンロードします。メディア配信にもAPIキーが必要なため、
// 認証済みセッションを使用します。
func (c *NadeshikoClient) Fetch(ctx context.Context, cand Candidate) ([]byte, error) {
	payload, err := c.api.GetBytes(ctx, cand.Locator, nil)
	if err != nil {
		return nil, NewError(NameNadeshiko, err)
	}
	return payload, nil
}

// FetchAudio は AudioFetcher インターフェースを満たします。
// 候補に音声が付随しない場合は何も返しません。
func (c *NadeshikoClient) FetchAudio(ctx context.Context, cand Candidate) ([]byte, string, error) {
	audioURL := cand.Meta[MetaAudioURL]
	if audioURL == "" {
		return nil, "", nil
	}

	payload, err := c.api.GetBytes(ctx, audioURL, nil)
	if err != nil {
		return nil, "", NewError(NameNadeshiko, err)
	}
	return payload, filenameTail(audioURL, NameNadeshiko, "mp3"), nil
}

// filenameTail はURL末尾からファイル名片を取り出します。
// 空または拡張子なしの場合は "<prefix>_media.<ext>" を合成します。
func filenameTail(rawURL, prefix, ext string) string {
	tail := rawURL
	if i := strings.LastIndex(tail, "/"); i >= 0 {
		tail = tail[i+1:]
	}
	if i := strings.Index(tail, "?"); i >= 0 {
		tail = tail[:i]
	}
	if tail == "" || !strings.Contains(tail, ".") {
		return prefix + "_media." + ext
	}
	return tail
}
