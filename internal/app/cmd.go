package app

import (
	"fmt"
	"strings"
)

// Command はサブコマンド。
type Command string

const (
	// CommandServe はWebサーバーを起動する。引数なしのデフォルト。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの掃除ワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はマイグレーションを最新まで適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はコンテナのHEALTHCHECK用。DBや設定を読まずに/healthを叩く。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数がなければserve。知らないコマンドはエラーにする。後続の引数は見ない。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}
	for _, c := range commands {
		if string(c) == args[0] {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (available: %s)", args[0], commandList())
}

func commandList() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
