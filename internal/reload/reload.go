package reload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/coord"
	"github.com/fakeyudi/tuick/internal/process"
)

// ForceColorEnv asks children to keep colors when writing to a pipe.
const ForceColorEnv = "FORCE_COLOR=1"

// Options describe one reload.
type Options struct {
	Argv []string
	// Env is added to the inherited environment of the command.
	Env    []string
	Render RenderFunc
	// TerminateTimeout bounds the graceful stop when the session asks for
	// one.
	TerminateTimeout time.Duration
}

// Run performs one reload against the session reached by c and writes the
// new records to stdout. It returns the command's exit status. The returned
// error reports session or rendering failures; the status is still valid
// when the command ran.
func Run(ctx context.Context, c *coord.Client, opts Options, stdout io.Writer) (int, error) {
	log := console.Log()
	if opts.TerminateTimeout <= 0 {
		opts.TerminateTimeout = process.DefaultTimeout
	}

	gen, err := c.RequestReload(ctx)
	if err != nil {
		return 1, fmt.Errorf("request reload: %w", err)
	}
	log.Debug().Uint64("generation", gen).Msg("reload acknowledged")

	var sink Sink
	if w, err := c.SaveOutput(ctx); err != nil {
		log.Warn().Err(err).Msg("output will not be saved")
	} else {
		sink = w
	}

	p, err := process.Start(opts.Argv, append(os.Environ(), append([]string{ForceColorEnv}, opts.Env...)...))
	if err != nil {
		abort(sink)
		return 127, err
	}
	defer p.Close()

	ctl, err := c.Install(ctx, gen, p.Pid())
	if err != nil {
		p.TerminateAndWait(opts.TerminateTimeout)
		abort(sink)
		return 1, fmt.Errorf("install command: %w", err)
	}
	defer ctl.Close()

	go func() {
		select {
		case <-ctl.Terminate():
			log.Debug().Int("pid", p.Pid()).Msg("session asked to terminate")
		case <-ctx.Done():
			log.Debug().Int("pid", p.Pid()).Msg("reload cancelled")
		case <-p.Done():
			return
		}
		p.TerminateAndWait(opts.TerminateTimeout)
	}()

	res := Tee(ctx, p.Stdout(), opts.Render, stdout, sink)
	code, waitErr := p.Wait()

	if sink != nil {
		if res.Clean() && !p.Terminated() {
			if err := sink.Commit(); err != nil {
				log.Warn().Err(err).Msg("commit output")
			}
		} else {
			abort(sink)
		}
	}
	if err := ctl.Exited(code); err != nil {
		log.Debug().Err(err).Msg("report exit")
	}
	log.Debug().Int("status", code).Bool("terminated", p.Terminated()).Msg("command finished")
	return code, errors.Join(waitErr, res.ReadErr, res.RenderErr)
}

func abort(sink Sink) {
	if sink != nil {
		sink.Abort()
	}
}
