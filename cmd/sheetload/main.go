package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sheetload/internal/app"
	"sheetload/internal/manager"
)

// Exit codes.
const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		opts     app.Options
		daemon   bool
		envFiles listFlag
	)
	flag.StringVar(&opts.ConfigPath, "config", "", "path to config file (yaml or json); empty reads the environment only")
	flag.BoolVar(&daemon, "daemon", false, "stay running and trigger runs on daemon.cron")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "evaluate schedules without reading job data or loading tables")
	flag.Var(&envFiles, "env", "dotenv file to load before the config (repeatable; default .env)")
	flag.Parse()

	opts.EnvFiles = envFiles

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitConfig
	}
	defer a.Close()

	if daemon {
		if err := a.Daemon(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			return exitFatal
		}
		return exitOK
	}

	rep, err := a.RunOnce(ctx)
	switch {
	case errors.Is(err, manager.ErrConfig):
		fmt.Fprintln(os.Stderr, rep.String())
		return exitConfig
	case errors.Is(err, context.Canceled):
		return exitOK
	case err != nil:
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return exitFatal
	}
	fmt.Println(rep.String())
	return exitOK
}
