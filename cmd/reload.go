package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/coord"
	"github.com/fakeyudi/tuick/internal/reload"
)

// runReload replaces the session's command with a new run of argv and
// streams its records to fzf.
func runReload(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("--reload needs a command")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	c, err := coord.FromEnv()
	if err != nil {
		return err
	}
	render, err := newRenderer(argv, false)
	if err != nil {
		return err
	}
	code, err := reload.Run(ctx, c, reload.Options{
		Argv:             argv,
		Render:           render,
		TerminateTimeout: cfg.TerminateTimeout,
	}, os.Stdout)
	if err != nil {
		if ctx.Err() != nil {
			console.Log().Debug().Err(err).Msg("reload interrupted")
		} else {
			console.Errorf(os.Stderr, "%v", err)
		}
		if code == 0 {
			code = 1
		}
	}
	return exitCode(code)
}
