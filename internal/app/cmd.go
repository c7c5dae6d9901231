package app

import (
	"fmt"
	"io"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	CommandServe       Command = "serve"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
	CommandImage       Command = "image"
	CommandHelp        Command = "help"
)

// commands は起動モードと使い方の一覧。Usageはこの順で表示する。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "APIサーバーを起動する（引数なしの場合のデフォルト）"},
	{CommandMigrate, "未適用のデータベースマイグレーションを適用する"},
	{CommandHealthcheck, "稼働中のサーバーの /api/health を確認する（distroless用）"},
	{CommandImage, "画像生成APIの操作を1回実行し、結果をギャラリーに保存する"},
	{CommandHelp, "この一覧を表示する"},
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。
// 未知のコマンドはタイプミスでサーバーが起動しないようにエラーとする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch name := args[0]; name {
	case "-h", "--help":
		return CommandHelp, nil
	default:
		for _, c := range commands {
			if string(c.cmd) == name {
				return c.cmd, nil
			}
		}
		return "", fmt.Errorf("unknown command %q (%s)", name, strings.Join(commandNames(), ", "))
	}
}

// Usage はサブコマンドの一覧をwに書き出す。
func Usage(w io.Writer) {
	fmt.Fprintln(w, "usage: artboard [command] [args]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
	fmt.Fprintf(w, "\nimage operations: %s\n", strings.Join(imageOps, ", "))
}

func commandNames() []string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c.cmd)
	}
	return names
}
