package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientTimeout(t *testing.T) {
	orig := Flags.TimeoutSec
	defer func() { Flags.TimeoutSec = orig }()

	testCases := []struct {
		name     string
		sec      int
		expected time.Duration
	}{
		{"正の値はそのまま使用される", 10, 10 * time.Second},
		{"ゼロはデフォルトに戻る", 0, time.Duration(defaultTimeoutSec) * time.Second},
		{"負の値はデフォルトに戻る", -5, time.Duration(defaultTimeoutSec) * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			Flags.TimeoutSec = tc.sec
			assert.Equal(t, tc.expected, clientTimeout())
		})
	}
}

func TestMaxRetries(t *testing.T) {
	orig := Flags.MaxRetries
	defer func() { Flags.MaxRetries = orig }()

	testCases := []struct {
		name     string
		retries  int
		expected uint64
	}{
		{"正の値はそのまま使用される", 3, 3},
		{"ゼロはリトライなし", 0, 0},
		{"負の値はリトライなしに丸められる", -1, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			Flags.MaxRetries = tc.retries
			assert.Equal(t, tc.expected, maxRetries())
		})
	}
}
