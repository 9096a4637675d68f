// Package provider は、画像・メディア検索プロバイダへの抽象を提供します。
//
// 各プロバイダはリクエスト/レスポンスの形が異なる外部サービスを1つずつラップし、
// 検索 (Search) と取得 (Fetch) 、または単段生成 (Generate) のいずれかの能力を公開します。
// オーケストレータはプロバイダ名の文字列比較ではなく、この能力インターフェースで
// ディスパッチします。
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ----------------------------------------------------------------------
// プロバイダ名
// ----------------------------------------------------------------------

const (
	NameDDG       = "ddg"
	NameYahoo     = "yahoo"
	NameGoogle    = "google"
	NamePexels    = "pexels"
	NameNadeshiko = "nadeshiko"
	NameGenAI     = "genai"
)

// QuotaBearing は、使用量を日次クォータとして記録するプロバイダ名を返します。
// クォータは表示目的の advisory であり、呼び出しをブロックしません。
func QuotaBearing(name string) bool {
	return name == NameGoogle
}

// ----------------------------------------------------------------------
// データ型
// ----------------------------------------------------------------------

// Candidate は、プロバイダが返した取得可能なアセットへの参照1件を表します。
// ID は重複排除の同一性キーであり、通常は取得元URLです。
// 同じ ID を持つ2つの Candidate は同一アセットとみなされます。
type Candidate struct {
	ID      string            // 重複排除キー (通常は取得元URL)
	Locator string            // 実際の取得アドレス
	Meta    map[string]string // プロバイダ固有の付随情報
}

// Candidate.Meta の既知キー。プロバイダが埋め、オーケストレータが解釈します。
const (
	MetaTitle    = "title"     // 検索結果のタイトル
	MetaSource   = "source"    // 取得元サイト
	MetaWidth    = "width"     // 画像幅
	MetaHeight   = "height"    // 画像高さ
	MetaReferer  = "referer"   // ダウンロード時に付与する Referer
	MetaAudioURL = "audio_url" // 付随する音声アセットのURL
	MetaSentence = "sentence"  // 付随する例文テキスト
	MetaExt      = "ext"       // プロバイダ既定の拡張子 (先頭ドットなし)
)

// ----------------------------------------------------------------------
// 能力インターフェース
// ----------------------------------------------------------------------

// Searcher は「検索して候補を列挙し、選ばれた候補を取得する」二段構えのプロバイダです。
// Search が返す候補の順序はプロバイダ定義の関連度順であり、再開始できません。
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
	Fetch(ctx context.Context, cand Candidate) ([]byte, error)
}

// Generator は検索を持たない単段のプロバイダです。
// プロンプトから直接画像バイト列を生成するため、候補選択と重複排除の対象外です。
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// AudioFetcher は、候補に付随する音声アセットを取得できるプロバイダが追加実装します。
// 音声が付随しない候補に対しては (nil, "", nil) を返します。
type AudioFetcher interface {
	FetchAudio(ctx context.Context, cand Candidate) (payload []byte, filenameHint string, err error)
}

// ----------------------------------------------------------------------
// エラー型
// ----------------------------------------------------------------------

// ErrNoCandidate は、プロバイダが利用可能な候補を1件も返さなかったことを示します。
// オーケストレータはこれを「次のプロバイダを試す」合図として扱います。
var ErrNoCandidate = errors.New("利用可能な候補がありません")

// Error は、1回のプロバイダ呼び出しで発生した、プロバイダ起因の失敗を表します。
// 通信・認証・パースいずれの失敗でも、部分的に構築された結果は決して返しません。
type Error struct {
	Provider string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError は Cause を包んだプロバイダエラーを生成します。
func NewError(providerName string, cause error) *Error {
	return &Error{Provider: providerName, Cause: cause}
}

// ConfigError は、選択されたプロバイダに必須の資格情報が無いことを示します。
// バッチ開始前に即座に表面化させ、リトライしません。
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("プロバイダ %s の設定エラー: %s", e.Provider, e.Reason)
}

// IsConfigError は与えられたエラーが設定エラーであるかを判断します。
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
