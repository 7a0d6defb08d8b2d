package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/idilsaglam/todosync/internal/cli"
	"github.com/idilsaglam/todosync/internal/config"
	"github.com/idilsaglam/todosync/internal/exitcode"
	"github.com/idilsaglam/todosync/internal/logging"
	"github.com/idilsaglam/todosync/internal/ui"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fs := flag.NewFlagSet("todosync", flag.ContinueOnError)
	fs.Usage = func() { cli.PrintHelp(os.Stderr) }
	cfg, args, err := config.Load(fs, os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return exitcode.Success
	}
	if err != nil {
		ui.Fail(os.Stderr, err.Error())
		return exitcode.Usage
	}
	if err := ui.SetTheme(cfg.Theme); err != nil {
		ui.Fail(os.Stderr, err.Error())
		return exitcode.Usage
	}

	// The TUI owns the terminal, so its logs go to the log file or nowhere.
	var fallback io.Writer = os.Stderr
	if len(args) > 0 && args[0] == "tui" {
		fallback = io.Discard
	}
	logger, closer, err := logging.Open(cfg.LogFile, fallback, cfg.LogLevel)
	if err != nil {
		ui.Fail(os.Stderr, err.Error())
		return exitcode.Failure
	}
	defer closer.Close()
	logger.Debug("config loaded", "base_url", cfg.BaseURL, "guard", cfg.GuardStaleWrites)

	code := cli.Run(ctx, args, cli.Env{
		Out:    os.Stdout,
		Err:    os.Stderr,
		Config: cfg,
		Logger: logger,
	})
	if code != exitcode.Success {
		fmt.Fprintln(os.Stderr)
	}
	return code
}
