package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries は、プロバイダ呼び出しのデフォルトの最大リトライ回数です。
	// 外部の検索プロバイダは不安定なため、少なめに設定してフォールバック連鎖に委ねます。
	DefaultMaxRetries = 2

	// バックオフ間隔の既定値
	InitialBackoffInterval = 500 * time.Millisecond
	MaxBackoffInterval     = 4 * time.Second
)

// Operation はリトライ可能な処理を表す関数です。成功時は nil を返します。
type Operation func() error

// ShouldRetryFunc はエラーを受け取り、そのエラーがリトライ可能かどうかを判定する関数です。
type ShouldRetryFunc func(error) bool

// Config はリトライ動作を設定するための構造体です。
type Config struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig は推奨されるデフォルト設定を返します。
func DefaultConfig() Config {
	return Config{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: InitialBackoffInterval,
		MaxInterval:     MaxBackoffInterval,
	}
}

// Do は指数バックオフとカスタムエラー判定を使用して操作をリトライします。
// 判定関数を外部から受け取ることで、HTTP層やプロバイダ層の具体的なエラー型への依存を排除しています。
func Do(ctx context.Context, cfg Config, operationName string, op Operation, shouldRetryFn ShouldRetryFunc) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	bo := backoff.WithMaxRetries(b, cfg.MaxRetries)
	bo = backoff.WithContext(bo, ctx)

	var lastErr error

	retryableOp := func() error {
		err := op()
		if err == nil {
			return nil
		}

		if shouldRetryFn(err) {
			lastErr = fmt.Errorf("一時的なエラーが発生、リトライします: %w", err)
			return lastErr
		}

		// 認証エラーや 4xx は何度呼んでも結果が変わらないため即時終了
		lastErr = fmt.Errorf("致命的なエラーのためリトライを中止: %w", err)
		return backoff.Permanent(lastErr)
	}

	err := backoff.Retry(retryableOp, bo)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%sに失敗しました: コンテキストタイムアウト/キャンセル: %w", operationName, err)
		}

		// backoff.Permanent でラップされたエラーから元のエラーを取り出す
		var pErr *backoff.PermanentError
		if errors.As(err, &pErr) {
			return pErr.Err
		}

		return fmt.Errorf("%sに失敗しました: 最大リトライ回数 (%d回) に到達。最終エラー: %w", operationName, cfg.MaxRetries, lastErr)
	}
	return nil
}
