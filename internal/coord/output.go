package coord

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// OutputState is the lifecycle of the saved output.
type OutputState int

const (
	OutputAbsent OutputState = iota
	OutputCapturing
	OutputCommitted
)

func (s OutputState) String() string {
	switch s {
	case OutputCapturing:
		return "capturing"
	case OutputCommitted:
		return "committed"
	default:
		return "absent"
	}
}

var errSinkClosed = errors.New("output sink already closed")

// OutputBuffer keeps the last complete command output in a temporary file.
// Captures are written to their own file and swapped in on commit, so an
// aborted capture never touches the committed content.
type OutputBuffer struct {
	dir string

	mu           sync.Mutex
	seq          uint64
	open         int
	committed    *os.File
	committedSeq uint64
	closed       bool
}

// NewOutputBuffer stores captures under dir ("" means the system temp
// directory).
func NewOutputBuffer(dir string) *OutputBuffer {
	return &OutputBuffer{dir: dir}
}

// Sink captures one command output. It is owned by a single writer.
type Sink struct {
	buf  *OutputBuffer
	f    *os.File
	seq  uint64
	size int64
	done bool
}

// Open starts a capture.
func (b *OutputBuffer) Open() (*Sink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrNoSession
	}
	f, err := os.CreateTemp(b.dir, "tuick-output-*")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	b.seq++
	b.open++
	return &Sink{buf: b, f: f, seq: b.seq}, nil
}

func (s *Sink) Write(p []byte) (int, error) {
	if s.done {
		return 0, errSinkClosed
	}
	n, err := s.f.Write(p)
	s.size += int64(n)
	return n, err
}

// Len returns the number of bytes captured so far.
func (s *Sink) Len() int64 {
	return s.size
}

// Commit replaces the saved output with this capture. A capture opened
// before the currently committed one is discarded instead.
func (s *Sink) Commit() error {
	if s.done {
		return errSinkClosed
	}
	s.done = true
	b := s.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open--
	if b.closed || s.seq < b.committedSeq {
		discard(s.f)
		return nil
	}
	old := b.committed
	b.committed = s.f
	b.committedSeq = s.seq
	if old != nil {
		discard(old)
	}
	return nil
}

// Abort discards the capture. Calling Abort after Commit does nothing.
func (s *Sink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	s.buf.mu.Lock()
	s.buf.open--
	s.buf.mu.Unlock()
	return discard(s.f)
}

func discard(f *os.File) error {
	err := f.Close()
	if rmErr := os.Remove(f.Name()); err == nil {
		err = rmErr
	}
	return err
}

// State reports the buffer's lifecycle state.
func (b *OutputBuffer) State() OutputState {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.open > 0:
		return OutputCapturing
	case b.committed != nil:
		return OutputCommitted
	default:
		return OutputAbsent
	}
}

// Saved returns the committed output, empty when nothing was committed.
func (b *OutputBuffer) Saved() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed == nil {
		return nil, nil
	}
	info, err := b.committed.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat saved output: %w", err)
	}
	data, err := io.ReadAll(io.NewSectionReader(b.committed, 0, info.Size()))
	if err != nil {
		return nil, fmt.Errorf("read saved output: %w", err)
	}
	return data, nil
}

// Close removes the committed file. Open sinks are discarded when they
// finish.
func (b *OutputBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.committed == nil {
		return nil
	}
	err := discard(b.committed)
	b.committed = nil
	return err
}
