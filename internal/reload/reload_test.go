//go:build !windows

package reload

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/tuick/internal/coord"
	"github.com/fakeyudi/tuick/internal/process"
)

// upper renders each line as an upper-cased record line.
func upper(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if _, err := fmt.Fprintln(w, strings.ToUpper(sc.Text())); err != nil {
			io.Copy(io.Discard, r)
			return err
		}
	}
	return sc.Err()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startSession(t *testing.T) (*coord.Session, *coord.Client) {
	t.Helper()
	s := coord.NewSession(coord.Options{TerminateTimeout: 2 * time.Second, Grace: 5 * time.Second, OutputDir: t.TempDir()})
	key := coord.NewAPIKey()
	srv, err := coord.Listen(s, key)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return s, coord.NewClient(srv.Port(), key)
}

func TestRunReplacesCommand(t *testing.T) {
	s, c := startSession(t)
	var first *process.Process
	require.NoError(t, s.Start(t.Context(), func() (coord.RunningCommand, error) {
		var err error
		first, err = process.Start([]string{"sleep", "30"}, nil)
		return first, err
	}))
	defer first.Close()

	var out bytes.Buffer
	code, err := Run(t.Context(), c, Options{
		Argv:   []string{"sh", "-c", `printf 'one\ntwo\n'; printf '%s' "$FORCE_COLOR"; exit 2`},
		Render: upper,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Equal(t, "ONE\nTWO\n1\n", out.String())

	select {
	case <-first.Done():
	default:
		t.Fatal("previous command still running")
	}
	assert.True(t, first.Terminated())

	saved, err := s.SavedOutput()
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n1", string(saved))
	require.Eventually(t, func() bool { return s.Current() == nil }, 2*time.Second, 10*time.Millisecond)
}

func TestRunTerminatedByNextReload(t *testing.T) {
	s, c := startSession(t)

	var firstOut syncBuffer
	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := Run(context.Background(), c, Options{
			Argv:   []string{"sh", "-c", "echo first; sleep 30"},
			Render: upper,
		}, &firstOut)
		done <- result{code, err}
	}()
	require.Eventually(t, func() bool {
		return s.Current() != nil && strings.Contains(firstOut.String(), "FIRST")
	}, 5*time.Second, 10*time.Millisecond)

	var out bytes.Buffer
	code, err := Run(t.Context(), c, Options{Argv: []string{"echo", "second"}, Render: upper}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "SECOND\n", out.String())

	select {
	case r := <-done:
		assert.Equal(t, 128+15, r.code)
	case <-time.After(5 * time.Second):
		t.Fatal("first reload did not finish")
	}

	saved, err := s.SavedOutput()
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(saved), "terminated output is not committed")
}

func TestRunWithoutSession(t *testing.T) {
	c := coord.NewClient(1, "key")
	code, err := Run(t.Context(), c, Options{Argv: []string{"true"}, Render: upper}, io.Discard)
	require.ErrorIs(t, err, coord.ErrNoSession)
	assert.Equal(t, 1, code)
}

func TestRunMissingCommand(t *testing.T) {
	s, c := startSession(t)
	code, err := Run(t.Context(), c, Options{Argv: []string{"tuick-no-such-command"}, Render: upper}, io.Discard)
	require.Error(t, err)
	assert.Equal(t, 127, code)
	require.Eventually(t, func() bool { return s.OutputState() == coord.OutputAbsent }, 2*time.Second, 10*time.Millisecond)
}

type blockingSink struct {
	release chan struct{}
	buf     bytes.Buffer
}

func (b *blockingSink) Write(p []byte) (int, error) {
	<-b.release
	return b.buf.Write(p)
}

func TestTeeSlowSinkDoesNotStallUI(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	rendered := make(chan string, 1)
	render := func(ctx context.Context, r io.Reader, w io.Writer) error {
		data, err := io.ReadAll(r)
		rendered <- string(data)
		return err
	}

	done := make(chan TeeResult, 1)
	go func() {
		done <- Tee(t.Context(), strings.NewReader("hello"), render, io.Discard, sink)
	}()

	select {
	case got := <-rendered:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("UI waited for the sink")
	}
	close(sink.release)
	res := <-done
	assert.True(t, res.Clean())
	assert.Equal(t, "hello", sink.buf.String())
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, io.ErrShortWrite }

func TestTeeSinkFailureKeepsUI(t *testing.T) {
	var ui bytes.Buffer
	res := Tee(t.Context(), strings.NewReader("a\nb\n"), upper, &ui, errWriter{})
	assert.False(t, res.Clean())
	assert.ErrorIs(t, res.SinkErr, io.ErrShortWrite)
	assert.Equal(t, "A\nB\n", ui.String())
}

func TestStartRunsFirstCommandLocally(t *testing.T) {
	s, _ := startSession(t)

	var out bytes.Buffer
	code, err := Start(t.Context(), s, Options{
		Argv:   []string{"sh", "-c", `echo first; exit 3`},
		Render: upper,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "FIRST\n", out.String())
	assert.Nil(t, s.Current())

	saved, err := s.SavedOutput()
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(saved))
}

func TestStartIsReplacedByReload(t *testing.T) {
	s, c := startSession(t)

	out := &syncBuffer{}
	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := Start(t.Context(), s, Options{
			Argv:   []string{"sh", "-c", `echo partial; exec sleep 30`},
			Render: upper,
		}, out)
		done <- result{code, err}
	}()
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "PARTIAL") }, 5*time.Second, 10*time.Millisecond)

	var next bytes.Buffer
	code, err := Run(t.Context(), c, Options{Argv: []string{"echo", "fresh"}, Render: upper}, &next)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	first := <-done
	assert.Equal(t, 128+15, first.code)
	assert.Equal(t, "FRESH\n", next.String())

	saved, err := s.SavedOutput()
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(saved))
}

func TestStartMissingCommand(t *testing.T) {
	s, _ := startSession(t)
	code, err := Start(t.Context(), s, Options{Argv: []string{"/nonexistent/tuick-test"}, Render: upper}, io.Discard)
	require.Error(t, err)
	assert.Equal(t, 127, code)
	assert.Nil(t, s.Current())
}
