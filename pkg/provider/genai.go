package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/shouni/go-media-backfill/pkg/httpclient"
)

const (
	genaiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

	// DefaultGenAIModel は画像生成に使うデフォルトのモデルIDです。
	DefaultGenAIModel = "imagen-4.0-fast-generate-001"

	genaiAspectRatio = "1:1"
	genaiMimeType    = "image/jpeg"
)

// GenAIClient は Imagen REST API による画像生成クライアントです。
// 検索を持たない単段のプロバイダ (Generator) であり、プロンプトから直接
// 画像バイト列を生成します。毎回新しい画像が生成されるため、候補選択と
// 重複排除の経路には乗りません。
type GenAIClient struct {
	api   *httpclient.Client
	key   string
	model string
}

// NewGenAI は画像生成クライアントを生成します。model が空の場合は
// DefaultGenAIModel を使用します。
func NewGenAI(api *httpclient.Client, key, model string) *GenAIClient {
	if model == "" {
		model = DefaultGenAIModel
	}
	return &GenAIClient{api: api, key: key, model: model}
}

// Name は Generator インターフェースを満たします。
func (c *GenAIClient) Name() string {
	return NameGenAI
}

type genaiPredictRequest struct {
	Instances  []genaiInstance `json:"instances"`
	Parameters genaiParameters `json:"parameters"`
}

type genaiInstance struct {
	Prompt string `json:"prompt"`
}

type genaiParameters struct {
	SampleCount    int    `json:"sampleCount"`
	AspectRatio    string `json:"aspectRatio"`
	OutputMimeType string `json:"outputMimeType"`
}

type genaiPredictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

// Generate はプロンプトから画像を1枚生成し、デコード済みのバイト列を返します。
func (c *GenAIClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s:predict?key=%s", genaiBaseURL, c.model, url.QueryEscape(c.key))

	var resp genaiPredictResponse
	err := c.api.PostJSON(ctx, endpoint, genaiPredictRequest{
		Instances: []genaiInstance{{Prompt: prompt}},
		Parameters: genaiParameters{
			SampleCount:    1,
			AspectRatio:    genaiAspectRatio,
			OutputMimeType: genaiMimeType,
		},
	}, &resp)
	if err != nil {
		return nil, NewError(NameGenAI, err)
	}

	for _, pred := range resp.Predictions {
		encoded := strings.TrimSpace(pred.BytesBase64Encoded)
		if encoded == "" {
			continue
		}
		payload, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil {
			return nil, NewError(NameGenAI, fmt.Errorf("生成画像のbase64デコードに失敗しました: %w", decErr))
		}
		return payload, nil
	}

	return nil, NewError(NameGenAI, fmt.Errorf("モデルが画像を返しませんでした"))
}
