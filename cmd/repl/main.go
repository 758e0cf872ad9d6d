package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/docopt/docopt-go"
	"github.com/ergochat/readline"
	"github.com/golang/glog"
	"github.com/kevinxiao27/seqcrdt/host"
	"github.com/kevinxiao27/seqcrdt/internal/config"
	"github.com/kevinxiao27/seqcrdt/persist"
)

const usage = `Sequence document shell.

Usage:
    seqcrdt-repl [--replica=<id>] [--data=<dir>] [--postgres=<url>] [--memory] [<doc>]
    seqcrdt-repl -h | --help

Options:
    -h --help          Show this screen.
    --replica=<id>     Replica id [env SEQCRDT_REPLICA, default random].
    --data=<dir>       Pebble directory [env SEQCRDT_DATA].
    --postgres=<url>   Postgres url [env DATABASE_URL].
    --memory           Keep nothing on disk.`

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("open"),
	readline.PcItem("docs"),

	readline.PcItem("insert"),
	readline.PcItem("type"),
	readline.PcItem("del"),
	readline.PcItem("cut"),

	readline.PcItem("show"),
	readline.PcItem("ids"),
	readline.PcItem("stats"),
	readline.PcItem("ops"),
	readline.PcItem("dump"),

	readline.PcItem("export"),
	readline.PcItem("merge"),
	readline.PcItem("save"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		panic(err)
	}
	_ = flag.Set("logtostderr", "true")
	defer glog.Flush()

	if err := run(opts); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		glog.Flush()
		os.Exit(1)
	}
}

func run(opts docopt.Opts) error {
	ctx := context.Background()
	cfg, err := config.FromOpts(opts)
	if err != nil {
		return err
	}

	var store persist.Store
	if memory, _ := opts.Bool("--memory"); !memory {
		if cfg.DatabaseURL != "" {
			store, err = persist.OpenPostgres(ctx, cfg.DatabaseURL)
		} else {
			store, err = persist.OpenPebble(cfg.DataDir, nil)
		}
		if err != nil {
			return err
		}
		defer store.Close()
	}

	name, _ := opts.String("<doc>")
	if name == "" {
		name = "scratch"
	}
	reg := host.NewRegistry(cfg.Replica, store)
	session, err := NewSession(ctx, reg, name)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".seqcrdt_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	rl.CaptureExitSignal()

	_, _ = fmt.Fprintf(os.Stderr, "replica %s, document %s\n", cfg.Replica, name)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt && len(line) != 0 {
			continue
		}
		if err != nil {
			break
		}
		out, err := session.Exec(ctx, line)
		if err == io.EOF {
			break
		}
		if err != nil {
			_, _ = fmt.Fprintln(os.Stdout, err.Error())
			continue
		}
		if out != "" {
			_, _ = fmt.Fprintln(os.Stdout, out)
		}
	}
	return reg.SaveAll(ctx)
}
