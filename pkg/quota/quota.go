// Package quota は、クォータを持つプロバイダの日次使用量台帳を提供します。
//
// 台帳はエンジンが所有する唯一の永続状態です。日付が設定タイムゾーンの
// 「今日」とずれていた場合、リセットは読み出し時に遅延的に行われます
// (書き込み時ではない)。これにより、インクリメント前のクォータ確認が
// 必ずリセット後の値を見ることが保証されます。
//
// クォータは advisory です。上限超過後も呼び出しをブロックせず、表示
// 目的でのみ参照されます。強制が必要な呼び出し側は外部でガードを追加
// してください。
package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const dateLayout = "2006-01-02"

// Record は永続化される日次クォータレコードです。
// Used は日内で単調増加し、日付境界を越えると0に戻ります。
type Record struct {
	Date string `json:"date"` // YYYY-MM-DD (設定タイムゾーン基準)
	Used int    `json:"used"`
}

// Ledger は1つのファイルパスを所有し、スコープ付きの read-modify-write で
// クォータレコードを操作します。グローバル状態は持ちません。
//
// 別プロセスが同じファイルを同時に触る場合の read-modify-write は
// アトミックではありません (シングルユーザー・シングルプロセスの利用
// モデルでは許容。ファイルロックによる防御はしない)。
type Ledger struct {
	path string
	loc  *time.Location
	now  func() time.Time // テストで差し替え可能
}

// NewLedger はクォータ台帳を生成します。tzName はIANAタイムゾーン名で、
// 空の場合は America/Los_Angeles (Google無料枠のリセット基準) を使います。
func NewLedger(path, tzName string) (*Ledger, error) {
	if tzName == "" {
		tzName = "America/Los_Angeles"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("タイムゾーン %q の読み込みに失敗しました: %w", tzName, err)
	}
	return &Ledger{path: path, loc: loc, now: time.Now}, nil
}

// WithClock は現在時刻の供給源を差し替えた Ledger を返します (テスト用)。
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	clone := *l
	clone.now = now
	return &clone
}

func (l *Ledger) today() string {
	return l.now().In(l.loc).Format(dateLayout)
}

// Read は実効レコードを返します。ファイルが無い・壊れている場合と、
// 保存された日付が今日と異なる場合は {今日, 0} を返します (遅延リセット)。
func (l *Ledger) Read() Record {
	today := l.today()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return Record{Date: today, Used: 0}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Date != today || rec.Used < 0 {
		return Record{Date: today, Used: 0}
	}
	return rec
}

// Increment は使用量を n 増やして永続化します。日付が変わっていた場合は
// リセット後の値に加算します。n <= 0 の場合は何もしません。
func (l *Ledger) Increment(n int) error {
	if n <= 0 {
		return nil
	}

	rec := l.Read()
	rec.Used += n

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("クォータファイル用ディレクトリの作成に失敗しました: %w", err)
		}
	}

	data, err := json.MarshalIndent(rec, "", " ")
	if err != nil {
		return fmt.Errorf("クォータレコードのシリアライズに失敗しました: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("クォータファイルの書き込みに失敗しました: %w", err)
	}
	return nil
}

// Remaining は残りクォータを返します。advisory のため負値になり得ます。
func (l *Ledger) Remaining(cap int) int {
	return cap - l.Read().Used
}

// TimeUntilReset は設定タイムゾーンの次の深夜0時までの残り時間を返します。
func (l *Ledger) TimeUntilReset(now time.Time) time.Duration {
	local := now.In(l.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc).AddDate(0, 0, 1)
	return midnight.Sub(local)
}

// Display は人間向けのクォータ表示文字列を返します。
// 例: "Google quota: 42/100, resets in 07:31 (PT)"
func (l *Ledger) Display(label string, cap int, tzAbbrev string) string {
	rec := l.Read()
	eta := l.TimeUntilReset(l.now())
	hrs := int(eta.Hours())
	mins := int(eta.Minutes()) % 60
	return fmt.Sprintf("%s quota: %d/%d, resets in %02d:%02d (%s)", label, rec.Used, cap, hrs, mins, tzAbbrev)
}
