package coord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fakeyudi/tuick/internal/console"
)

// RunningCommand is the command a session tracks: a local child or a child
// owned by a reload client.
type RunningCommand interface {
	Pid() int
	// TerminateAndWait stops the command and returns its exit status. It
	// returns the real status without signalling when the command has
	// already exited.
	TerminateAndWait(timeout time.Duration) (int, error)
}

// Phase is where the session is in the reload cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRequested
	PhaseOldTerminated
	PhaseAcknowledged
)

func (p Phase) String() string {
	return [...]string{"idle", "requested", "old-terminated", "acknowledged"}[p]
}

const (
	DefaultTerminateTimeout = 5 * time.Second
	DefaultGrace            = 10 * time.Second
)

// Options configure a Session.
type Options struct {
	// TerminateTimeout bounds the graceful stop of the old command.
	TerminateTimeout time.Duration
	// Grace is how long a reload waits for its replacement command to be
	// installed before the session goes back to idle without one.
	Grace time.Duration
	// OutputDir holds saved output files.
	OutputDir string
}

// Session is the state of one top-level run: the single tracked command and
// the saved output. Reloads are serialized through a one-slot channel held
// from the request until the replacement is installed.
type Session struct {
	opts   Options
	output *OutputBuffer
	slot   chan struct{}
	done   chan struct{}

	// cmdMu guards every access to the tracked command.
	cmdMu      sync.Mutex
	current    RunningCommand
	generation uint64
	pending    uint64
	phase      Phase
	grace      *time.Timer
	closed     bool

	endpointMu    sync.Mutex
	endpoint      string
	endpointReady chan struct{}
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	if opts.TerminateTimeout <= 0 {
		opts.TerminateTimeout = DefaultTerminateTimeout
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	return &Session{
		opts:          opts,
		output:        NewOutputBuffer(opts.OutputDir),
		slot:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		endpointReady: make(chan struct{}),
	}
}

// RegisterEndpoint records where the UI listens. The last registration wins.
func (s *Session) RegisterEndpoint(desc string) error {
	if desc == "" {
		return fmt.Errorf("empty endpoint")
	}
	s.endpointMu.Lock()
	defer s.endpointMu.Unlock()
	first := s.endpoint == ""
	s.endpoint = desc
	if first {
		close(s.endpointReady)
	}
	console.Log().Debug().Str("endpoint", desc).Msg("endpoint registered")
	return nil
}

// Endpoint returns the registered UI endpoint, empty when none.
func (s *Session) Endpoint() string {
	s.endpointMu.Lock()
	defer s.endpointMu.Unlock()
	return s.endpoint
}

// WaitEndpoint blocks until an endpoint is registered.
func (s *Session) WaitEndpoint(ctx context.Context) (string, error) {
	select {
	case <-s.endpointReady:
		return s.Endpoint(), nil
	case <-s.done:
		return "", ErrNoSession
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RequestReload waits for any reload in flight to finish, stops the tracked
// command and returns the generation the replacement must be installed
// with. The caller then owns the reload until Install or the grace period
// ends.
func (s *Session) RequestReload(ctx context.Context) (uint64, error) {
	select {
	case <-s.done:
		return 0, ErrNoSession
	default:
	}
	select {
	case s.slot <- struct{}{}:
	case <-s.done:
		return 0, ErrNoSession
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if s.closed {
		<-s.slot
		return 0, ErrNoSession
	}
	s.phase = PhaseRequested
	if cur := s.current; cur != nil {
		log := console.Log()
		log.Debug().Int("pid", cur.Pid()).Msg("terminating command for reload")
		code, err := cur.TerminateAndWait(s.opts.TerminateTimeout)
		if err != nil {
			log.Warn().Err(err).Int("pid", cur.Pid()).Msg("terminate command")
		} else {
			log.Debug().Int("pid", cur.Pid()).Int("status", code).Msg("command stopped")
		}
		s.current = nil
	}
	s.phase = PhaseOldTerminated

	s.generation++
	gen := s.generation
	s.pending = gen
	s.grace = time.AfterFunc(s.opts.Grace, func() { s.expire(gen) })
	s.phase = PhaseAcknowledged
	return gen, nil
}

// expire gives up on a reload whose replacement was never installed.
func (s *Session) expire(gen uint64) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if s.pending != gen {
		return
	}
	console.Log().Warn().Uint64("generation", gen).Msg("reload was not installed in time")
	s.release()
}

// release ends the reload in flight. cmdMu must be held.
func (s *Session) release() {
	s.pending = 0
	s.phase = PhaseIdle
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	<-s.slot
}

// Install tracks cmd as the replacement for reload gen and ends the reload.
// A generation that is no longer pending is rejected with
// ErrStaleGeneration; the caller must then stop cmd itself.
func (s *Session) Install(gen uint64, cmd RunningCommand) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	if gen == 0 || gen != s.pending {
		return fmt.Errorf("%w %d", ErrStaleGeneration, gen)
	}
	s.current = cmd
	console.Log().Debug().Uint64("generation", gen).Int("pid", cmd.Pid()).Msg("command installed")
	s.release()
	return nil
}

// Start runs the first command of the session through the same request and
// install cycle as a reload.
func (s *Session) Start(ctx context.Context, start func() (RunningCommand, error)) error {
	gen, err := s.RequestReload(ctx)
	if err != nil {
		return err
	}
	cmd, err := start()
	if err != nil {
		s.cmdMu.Lock()
		if s.pending == gen {
			s.release()
		}
		s.cmdMu.Unlock()
		return err
	}
	return s.Install(gen, cmd)
}

// Exited forgets cmd if it is still the tracked command.
func (s *Session) Exited(cmd RunningCommand) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if s.current == cmd {
		s.current = nil
	}
}

// Current returns the tracked command, nil when none.
func (s *Session) Current() RunningCommand {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.current
}

// Phase returns the current reload phase.
func (s *Session) Phase() Phase {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.phase
}

// OpenSink starts capturing a command output.
func (s *Session) OpenSink() (*Sink, error) {
	return s.output.Open()
}

// SavedOutput returns the last committed output.
func (s *Session) SavedOutput() ([]byte, error) {
	return s.output.Saved()
}

// OutputState reports the saved output lifecycle.
func (s *Session) OutputState() OutputState {
	return s.output.State()
}

// Close stops the tracked command and releases the saved output. Later
// calls fail with ErrNoSession.
func (s *Session) Close() error {
	s.cmdMu.Lock()
	if s.closed {
		s.cmdMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	cur := s.current
	s.current = nil
	if s.grace != nil {
		s.grace.Stop()
	}
	s.cmdMu.Unlock()

	if cur != nil {
		if _, err := cur.TerminateAndWait(s.opts.TerminateTimeout); err != nil {
			console.Log().Warn().Err(err).Msg("terminate command on close")
		}
	}
	return s.output.Close()
}
