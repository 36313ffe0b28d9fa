package reload

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/coord"
	"github.com/fakeyudi/tuick/internal/process"
)

// Start runs the first command of a session in this process. It takes the
// same request and install steps as Run, without the network round trips,
// and returns the command's exit status.
func Start(ctx context.Context, s *coord.Session, opts Options, stdout io.Writer) (int, error) {
	log := console.Log()
	if opts.TerminateTimeout <= 0 {
		opts.TerminateTimeout = process.DefaultTimeout
	}

	var p *process.Process
	err := s.Start(ctx, func() (coord.RunningCommand, error) {
		var err error
		p, err = process.Start(opts.Argv, append(os.Environ(), append([]string{ForceColorEnv}, opts.Env...)...))
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		if p == nil {
			return 127, err
		}
		p.TerminateAndWait(opts.TerminateTimeout)
		p.Close()
		return 1, err
	}
	defer p.Close()
	defer s.Exited(p)

	var sink Sink
	if w, err := s.OpenSink(); err != nil {
		log.Warn().Err(err).Msg("output will not be saved")
	} else {
		sink = w
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.TerminateAndWait(opts.TerminateTimeout)
		case <-p.Done():
		case <-stop:
		}
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
	log.Debug().Int("status", code).Bool("terminated", p.Terminated()).Msg("first command finished")
	return code, errors.Join(waitErr, res.ReadErr, res.RenderErr)
}
