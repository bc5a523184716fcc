package app

import (
	"fmt"
	"strconv"
)

// Command はバイナリのサブコマンドを表す。
type Command string

const (
	// CommandServe はログインとアカウント管理のHTTP APIを起動する。
	CommandServe Command = "serve"
	// CommandWorker は定期バックアップとクリーンアップを実行するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを最新にする。「migrate down [N]」で戻す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中プロセスの /health を確認する（distrolessのHEALTHCHECK用）。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数なし、または未知のサブコマンドはserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// MigrateOptions はmigrateサブコマンドの引数。
type MigrateOptions struct {
	// Down がtrueならStepsの数だけロールバックする。
	Down  bool
	Steps int
}

// ParseMigrateArgs は「migrate」以降の引数を解析する。
//
//	migrate          未適用分をすべて適用
//	migrate up       同上
//	migrate down     1つ戻す
//	migrate down N   N個戻す
func ParseMigrateArgs(args []string) (MigrateOptions, error) {
	if len(args) == 0 || args[0] == "up" {
		if len(args) > 1 {
			return MigrateOptions{}, fmt.Errorf("migrate up takes no arguments: %v", args[1:])
		}
		return MigrateOptions{}, nil
	}
	if args[0] != "down" {
		return MigrateOptions{}, fmt.Errorf("unknown migrate direction %q (want up or down)", args[0])
	}

	opts := MigrateOptions{Down: true, Steps: 1}
	switch len(args) {
	case 1:
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return MigrateOptions{}, fmt.Errorf("invalid rollback steps %q", args[1])
		}
		opts.Steps = n
	default:
		return MigrateOptions{}, fmt.Errorf("too many arguments for migrate down: %v", args[1:])
	}
	return opts, nil
}
