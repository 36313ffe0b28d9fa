// Package reload runs a replacement command on behalf of the UI: it swaps
// the command through the session server and streams the new output to the
// UI and to the session's saved output at the same time.
package reload

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/tuick/internal/console"
)

const (
	chunkSize  = 32 << 10
	queueDepth = 16
)

// Sink receives a copy of the raw output.
type Sink interface {
	io.Writer
	Commit() error
	Abort() error
}

// RenderFunc converts raw output read from r into records written to w.
// It must read r to the end.
type RenderFunc func(ctx context.Context, r io.Reader, w io.Writer) error

// TeeResult reports how each side of a tee finished.
type TeeResult struct {
	// ReadErr is the error reading the command output, nil on clean EOF.
	ReadErr error
	// RenderErr is the error from the record stream.
	RenderErr error
	// SinkErr is the first error writing the copy; later chunks are dropped.
	SinkErr error
}

// Clean reports whether the output was read and copied completely.
func (r TeeResult) Clean() bool {
	return r.ReadErr == nil && r.SinkErr == nil
}

// Tee reads src to EOF and hands every chunk to two consumers: render, which
// writes records to ui, and sink. Each consumer has its own bounded queue, so
// neither waits for the other unless its queue is full. A nil sink only
// feeds the UI.
func Tee(ctx context.Context, src io.Reader, render RenderFunc, ui io.Writer, sink io.Writer) TeeResult {
	var res TeeResult
	uiCh := make(chan []byte, queueDepth)
	var sinkCh chan []byte
	if sink != nil {
		sinkCh = make(chan []byte, queueDepth)
	}

	var g errgroup.Group
	g.Go(func() error {
		defer close(uiCh)
		if sinkCh != nil {
			defer close(sinkCh)
		}
		for {
			buf := make([]byte, chunkSize)
			n, err := src.Read(buf)
			if n > 0 {
				uiCh <- buf[:n]
				if sinkCh != nil {
					sinkCh <- buf[:n]
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					res.ReadErr = err
				}
				return nil
			}
		}
	})

	pr, pw := io.Pipe()
	g.Go(func() error {
		broken := false
		for chunk := range uiCh {
			if broken {
				continue
			}
			if _, err := pw.Write(chunk); err != nil {
				broken = true
			}
		}
		pw.Close()
		return nil
	})
	g.Go(func() error {
		res.RenderErr = render(ctx, pr, ui)
		pr.CloseWithError(io.ErrClosedPipe)
		return nil
	})

	if sinkCh != nil {
		g.Go(func() error {
			for chunk := range sinkCh {
				if res.SinkErr != nil {
					continue
				}
				if _, err := sink.Write(chunk); err != nil {
					res.SinkErr = err
					console.Log().Warn().Err(err).Msg("saving output failed")
				}
			}
			return nil
		})
	}
	g.Wait()
	return res
}
