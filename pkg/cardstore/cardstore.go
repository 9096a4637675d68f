// Package cardstore は、バックフィル対象のレコード (カード) を供給し、
// 結果の書き戻しを受け取る外部コラボレータの境界を定義します。
//
// エンジン本体はこの抽象にのみ依存します。フィールドの保存形式や
// メディアの一意名の採番はストア実装の責務です。
package cardstore

import "context"

// Scope はキー解決の範囲です。Collection と Keys は排他で、
// Keys が非空ならそちらが優先されます。
type Scope struct {
	// Collection は名前付きコレクション。サブコレクション
	// (「親::子」形式) を再帰的に含みます。
	Collection string

	// Keys は呼び出し側が明示的に指定したキー集合。
	Keys []string
}

// Store はレコードストアのインターフェースです。
type Store interface {
	// ResolveKeys はスコープ内のキーを列挙します。
	ResolveKeys(ctx context.Context, scope Scope) ([]string, error)

	// ReadField はフィールド値を返します。フィールドが存在しない場合は
	// エラーではなく空文字を返します (ソフト失敗)。
	ReadField(key, fieldName string) string

	// WriteField はフィールドへ値を書き込み、変更が起きたかどうかを
	// 返します。フィールドが存在しない場合、または既存値が非空で
	// replace=false の場合は何もせず false を返します。
	WriteField(key, fieldName, value string, replace bool) (bool, error)

	// StoreMedia はペイロードを保存し、衝突のない確定名を返します。
	// 一意性の保証はストア側の責務です。
	StoreMedia(filenameHint string, payload []byte) (string, error)
}
