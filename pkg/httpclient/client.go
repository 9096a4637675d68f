package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shouni/go-media-backfill/pkg/retry"
)

const (
	// DefaultHTTPTimeout は、1回のプロバイダ呼び出しに許容するデフォルトの時間です。
	DefaultHTTPTimeout = 30 * time.Second

	// MaxBodySize はレスポンスボディの最大読み込みサイズです (画像ダウンロードを考慮して20MB)。
	MaxBodySize = int64(20 * 1024 * 1024)

	// UserAgent は検索サイトからのブロックを避けるためのブラウザ相当のUser-Agentです。
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	// AcceptLanguage は日本語の検索結果を優先させるための Accept-Language ヘッダーです。
	AcceptLanguage = "ja-JP,ja;q=0.9,en-US;q=0.8,en;q=0.7"
)

// NonRetryableHTTPError はHTTP 4xx系のステータスコードエラーを示すカスタムエラー型です。
type NonRetryableHTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *NonRetryableHTTPError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("HTTPクライアントエラー (非リトライ対象): ステータスコード %d, ボディ: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
	}
	return fmt.Sprintf("HTTPクライアントエラー (非リトライ対象): ステータスコード %d, ボディなし", e.StatusCode)
}

// Client は共通ヘッダー付きのHTTPセッションと、指数バックオフによるリトライを管理します。
// 各プロバイダクライアントは、認証ヘッダーや Referer をセッションヘッダーとして載せた
// Client を1つ保持します。
type Client struct {
	httpClient  *http.Client
	retryConfig retry.Config
	headers     map[string]string
}

// Option は Client の設定を行うための関数型です。
type Option func(*Client)

// WithMaxRetries は最大リトライ回数を設定します。
func WithMaxRetries(max uint64) Option {
	return func(c *Client) {
		c.retryConfig.MaxRetries = max
	}
}

// WithHeader はセッション全体に適用するHTTPヘッダーを追加します。
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithTransport はテスト用にカスタムの http.RoundTripper を差し替えます。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// New は、新しい Client を生成します。
// User-Agent と Accept-Language はブラウザ相当の値がデフォルトで設定されます。
func New(timeout time.Duration, options ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		retryConfig: retry.DefaultConfig(),
		headers: map[string]string{
			"User-Agent":      UserAgent,
			"Accept-Language": AcceptLanguage,
		},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// applyHeaders はセッションヘッダーとリクエスト個別ヘッダーを設定します。
func (c *Client) applyHeaders(req *http.Request, extra http.Header) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
}

// GetBytes はURLからコンテンツを取得し、生のバイト配列として返します。
func (c *Client) GetBytes(ctx context.Context, rawURL string, extra http.Header) ([]byte, error) {
	var body []byte

	op := func() error {
		var fetchErr error
		body, fetchErr = c.doGet(ctx, rawURL, extra)
		return fetchErr
	}

	err := retry.Do(
		ctx,
		c.retryConfig,
		fmt.Sprintf("URL(%s)のフェッチ", rawURL),
		op,
		isHTTPRetryableError,
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// GetJSON はURLからJSONを取得し、v にデコードします。
func (c *Client) GetJSON(ctx context.Context, rawURL string, extra http.Header, v any) error {
	body, err := c.GetBytes(ctx, rawURL, extra)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("JSONレスポンスのデコードに失敗しました: %w", err)
	}
	return nil
}

// PostJSON は payload をJSONとしてPOSTし、レスポンスを v にデコードします。
// v が nil の場合、レスポンスボディは破棄されます。
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any, v any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("JSONリクエストのシリアライズに失敗しました: %w", err)
	}

	var body []byte
	op := func() error {
		var postErr error
		body, postErr = c.doPost(ctx, rawURL, "application/json", requestBody)
		return postErr
	}

	err = retry.Do(
		ctx,
		c.retryConfig,
		fmt.Sprintf("URL(%s)へのPOSTリクエスト", rawURL),
		op,
		isHTTPRetryableError,
	)
	if err != nil {
		return err
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("JSONレスポンスのデコードに失敗しました: %w", err)
	}
	return nil
}

// PostForm はフォームデータをPOSTし、レスポンスボディをバイト配列として返します。
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values) ([]byte, error) {
	var body []byte
	encoded := []byte(values.Encode())

	op := func() error {
		var postErr error
		body, postErr = c.doPost(ctx, rawURL, "application/x-www-form-urlencoded", encoded)
		return postErr
	}

	err := retry.Do(
		ctx,
		c.retryConfig,
		fmt.Sprintf("URL(%s)へのフォームPOST", rawURL),
		op,
		isHTTPRetryableError,
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// doGet は実際の一度のHTTP GETリクエストを実行します。
func (c *Client) doGet(ctx context.Context, rawURL string, extra http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("GETリクエスト作成に失敗しました: %w", err)
	}
	c.applyHeaders(req, extra)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストに失敗しました (ネットワーク/接続エラー): %w", err)
	}
	defer resp.Body.Close()

	return readLimitedResponse(resp)
}

// doPost は実際の一度のHTTP POSTリクエストを実行します。
func (c *Client) doPost(ctx context.Context, rawURL, contentType string, requestBody []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("POSTリクエスト作成に失敗しました: %w", err)
	}
	c.applyHeaders(req, nil)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP POSTリクエストに失敗しました (ネットワーク/接続エラー): %w", err)
	}
	defer resp.Body.Close()

	return readLimitedResponse(resp)
}

// readLimitedResponse はステータスコードを評価し、サイズ制限付きでボディを読み込みます。
// 5xx はリトライ対象のエラー、4xx は NonRetryableHTTPError として返されます。
func readLimitedResponse(resp *http.Response) ([]byte, error) {
	if resp.ContentLength > 0 && resp.ContentLength > MaxBodySize {
		return nil, fmt.Errorf("レスポンスボディが最大サイズ (%dバイト) を超えました", MaxBodySize)
	}

	limitedReader := io.LimitReader(resp.Body, MaxBodySize)
	bodyBytes, readErr := io.ReadAll(limitedReader)

	switch {
	case resp.StatusCode == http.StatusOK:
		if readErr != nil {
			return nil, fmt.Errorf("レスポンスボディの読み込みに失敗しました: %w", readErr)
		}
		return bodyBytes, nil

	case resp.StatusCode >= 500 && resp.StatusCode <= 599:
		return nil, fmt.Errorf("HTTPステータスコードエラー (5xx リトライ対象): %d, 詳細: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))

	default:
		return nil, &NonRetryableHTTPError{
			StatusCode: resp.StatusCode,
			Body:       bodyBytes,
		}
	}
}

// IsNonRetryableError は与えられたエラーが非リトライ対象のHTTPエラーであるかを判断します。
func IsNonRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var nonRetryable *NonRetryableHTTPError
	return errors.As(err, &nonRetryable)
}

// isHTTPRetryableError はエラーがHTTPリトライ対象かどうかを判定します。
// retry.ShouldRetryFunc 型のシグネチャを満たします。
func isHTTPRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Contextエラー（タイムアウト/キャンセル）は backoff 側で打ち切られる
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// 4xx はリトライしない。それ以外 (5xx・ネットワークエラー) はすべてリトライ対象。
	return !IsNonRetryableError(err)
}
