package main

import (
	"github.com/shouni/go-media-backfill/cmd"
)

// main 関数は cmd.Execute に委譲します。フラグ解析・設定読み込み・
// エラー終了の処理はすべて cmd 層 (clibase) が行います。
func main() {
	cmd.Execute()
}
