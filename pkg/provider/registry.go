package provider

import (
	"fmt"
	"time"

	"github.com/shouni/go-media-backfill/pkg/httpclient"
)

// Entry はフォールバック連鎖の1要素です。Searcher または Generator の
// どちらか一方だけが非nilになります。
type Entry struct {
	Name      string
	Searcher  Searcher
	Generator Generator
}

// Settings はプロバイダ連鎖を組み立てるための設定です。
// 資格情報が空のプロバイダは「未設定」として連鎖から黙ってスキップされます。
type Settings struct {
	Order []string // フォールバック優先順のプロバイダ名

	Timeout    time.Duration
	MaxRetries uint64

	// 認証不要の画像ダウンロードに使う共有フェッチャー (httpkit.Client など)
	Downloader ByteFetcher

	DDGLocale  string
	UseBrowser bool // Yahoo にヘッドレスブラウザ経路を注入するか

	GoogleKey  string
	GoogleCX   string
	GoogleLang string

	PexelsKey string
	Pexels    PexelsOptions

	NadeshikoKey     string
	NadeshikoBaseURL string

	GenAIKey   string
	GenAIModel string
}

func (s *Settings) newSession(opts ...httpclient.Option) *httpclient.Client {
	opts = append(opts, httpclient.WithMaxRetries(s.MaxRetries))
	return httpclient.New(s.Timeout, opts...)
}

// BuildChain は設定に従ってプロバイダ連鎖を優先順に組み立てます。
// 資格情報が無いプロバイダはスキップされ、スキップの結果1つも残らなかった
// 場合は ConfigError を返します (どのキーも成功し得ないため即時に失敗させる)。
func BuildChain(s Settings) ([]Entry, error) {
	if len(s.Order) == 0 {
		s.Order = []string{NameDDG}
	}

	var chain []Entry
	var skipped []string

	for _, name := range s.Order {
		switch name {
		case NameDDG:
			chain = append(chain, Entry{
				Name:     NameDDG,
				Searcher: NewDDG(s.newSession(), s.DDGLocale),
			})

		case NameYahoo:
			var browser URLSource
			if s.UseBrowser {
				browser = NewBrowserSource()
			}
			chain = append(chain, Entry{
				Name:     NameYahoo,
				Searcher: NewYahoo(s.newSession(), browser),
			})

		case NameGoogle:
			if s.GoogleKey == "" || s.GoogleCX == "" {
				skipped = append(skipped, name)
				continue
			}
			chain = append(chain, Entry{
				Name:     NameGoogle,
				Searcher: NewGoogleCSE(s.newSession(), s.GoogleKey, s.GoogleCX, s.GoogleLang),
			})

		case NamePexels:
			if s.PexelsKey == "" {
				skipped = append(skipped, name)
				continue
			}
			chain = append(chain, Entry{
				Name: NamePexels,
				Searcher: NewPexels(
					s.newSession(httpclient.WithHeader("Authorization", s.PexelsKey)),
					s.Downloader,
					s.Pexels,
				),
			})

		case NameNadeshiko:
			if s.NadeshikoKey == "" {
				skipped = append(skipped, name)
				continue
			}
			chain = append(chain, Entry{
				Name: NameNadeshiko,
				Searcher: NewNadeshiko(
					s.newSession(httpclient.WithHeader("X-API-Key", s.NadeshikoKey)),
					s.NadeshikoBaseURL,
				),
			})

		case NameGenAI:
			if s.GenAIKey == "" {
				skipped = append(skipped, name)
				continue
			}
			chain = append(chain, Entry{
				Name:      NameGenAI,
				Generator: NewGenAI(s.newSession(), s.GenAIKey, s.GenAIModel),
			})

		default:
			return nil, fmt.Errorf("未知のプロバイダ名です: %q", name)
		}
	}

	if len(chain) == 0 {
		return nil, &ConfigError{
			Provider: fmt.Sprintf("%v", s.Order),
			Reason:   fmt.Sprintf("資格情報が無くすべてスキップされました (スキップ: %v)。APIキーを設定するか ddg/yahoo を連鎖に加えてください", skipped),
		}
	}
	return chain, nil
}
