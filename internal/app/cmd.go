package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はキオスクと管理APIのサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は整合性チェックと期限切れデータの削除を行うワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの /health を確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandCreateAdmin は管理者アカウントを作成または更新する。
	CommandCreateAdmin Command = "create-admin"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// commandUsages は help で表示する順に並べたサブコマンドと引数。
var commandUsages = []struct {
	cmd  Command
	args string
	desc string
}{
	{CommandServe, "", "APIサーバーを起動する（既定）"},
	{CommandWorker, "", "整合性チェックと期限切れデータの削除を定期実行する"},
	{CommandMigrate, "[up|down|version]", "スキーマを適用・1つ戻す・バージョンを表示する"},
	{CommandCreateAdmin, "<email> <password> [name]", "管理者アカウントを作成する"},
	{CommandHealthcheck, "", "稼働中サーバーのヘルスチェック"},
	{CommandHelp, "", "この一覧を表示する"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	name := args[0]
	if name == "-h" || name == "--help" {
		return CommandHelp
	}
	for _, u := range commandUsages {
		if string(u.cmd) == name {
			return u.cmd
		}
	}
	return CommandServe
}

// WriteUsage はサブコマンドの一覧を w に書き出す。
func WriteUsage(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "usage: visitdesk <command> [args]"); err != nil {
		return err
	}
	for _, u := range commandUsages {
		if _, err := fmt.Fprintf(w, "  %-14s %-26s %s\n", u.cmd, u.args, u.desc); err != nil {
			return err
		}
	}
	return nil
}
