package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/coord"
	"github.com/fakeyudi/tuick/internal/process"
	"github.com/fakeyudi/tuick/internal/reload"
)

// runFormat runs argv inside a build system. Under a tuick session its
// records are written between start and end markers; otherwise the command
// runs untouched.
func runFormat(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("--format needs a command")
	}
	if os.Getenv(coord.PortEnv) == "" {
		return passthrough(ctx, argv)
	}
	render, err := newRenderer(argv, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	p, err := process.Start(argv, append(os.Environ(), reload.ForceColorEnv))
	if err != nil {
		console.Errorf(os.Stderr, "%v", err)
		return exitStatus{127}
	}
	defer p.Close()

	go func() {
		select {
		case <-ctx.Done():
			p.TerminateAndWait(cfg.TerminateTimeout)
		case <-p.Done():
		}
	}()

	renderErr := render(ctx, p.Stdout(), os.Stdout)
	code, err := p.Wait()
	if err := errors.Join(err, renderErr); err != nil {
		console.Log().Warn().Err(err).Strs("argv", argv).Msg("nested command")
	}
	return exitCode(code)
}

// passthrough runs argv with the terminal attached and keeps its status.
func passthrough(ctx context.Context, argv []string) error {
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	err := c.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		return exitCode(exitErr.ExitCode())
	}
	console.Errorf(os.Stderr, "%v", fmt.Errorf("running %s: %w", argv[0], err))
	return exitStatus{127}
}
