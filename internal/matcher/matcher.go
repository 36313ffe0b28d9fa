// Package matcher drives the external errorformat program, which turns tool
// output into structured diagnostics.
package matcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os/exec"
	"strings"
	"sync"

	"github.com/fakeyudi/tuick/internal/block"
	"github.com/fakeyudi/tuick/internal/console"
)

// Binary is the matcher executable looked up on PATH.
var Binary = "errorformat"

// ErrNotFound is returned when the matcher executable is not installed.
var ErrNotFound = errors.New("errorformat not found. Install with:\n" +
	"  go install github.com/reviewdog/errorformat/cmd/errorformat@latest")

// ExitError reports a matcher run that exited with a nonzero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("errorformat exited with status %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Entry is one diagnostic as emitted by errorformat -w=jsonl. Zero numeric
// fields mean absent.
type Entry struct {
	Filename string   `json:"filename"`
	Lnum     int      `json:"lnum"`
	Col      int      `json:"col"`
	EndLnum  int      `json:"end_lnum"`
	EndCol   int      `json:"end_col"`
	Lines    []string `json:"lines"`
	Text     string   `json:"text"`
	Type     rune     `json:"type"`
	Valid    bool     `json:"valid"`
}

// Location returns the entry's source location, or nil for informational
// entries without a file.
func (e Entry) Location() *block.Location {
	if e.Filename == "" {
		return nil
	}
	return &block.Location{
		File:      e.Filename,
		Line:      e.Lnum,
		Column:    e.Col,
		EndLine:   e.EndLnum,
		EndColumn: e.EndCol,
	}
}

// Config selects the patterns used by one matcher run: a format name known to
// errorformat, or explicit patterns.
type Config struct {
	Name     string
	Patterns []string
}

// Args returns the errorformat arguments for c.
func (c Config) Args() []string {
	if len(c.Patterns) > 0 {
		return c.Patterns
	}
	return []string{"-name=" + c.Name}
}

func (c Config) String() string {
	if len(c.Patterns) > 0 {
		return fmt.Sprintf("patterns %q", c.Patterns)
	}
	return c.Name
}

// Func is the signature shared by Run and the fakes used in tests.
type Func func(ctx context.Context, cfg Config, lines iter.Seq[string]) iter.Seq2[Entry, error]

// Run feeds lines to errorformat and yields the decoded entries as they are
// produced. Lines are written from a separate goroutine, so lines must be
// safe to consume concurrently with the caller's loop body. A failing run
// yields a final error: ErrNotFound, *ExitError, or a decode error.
func Run(ctx context.Context, cfg Config, lines iter.Seq[string]) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		args := append([]string{"-w=jsonl"}, cfg.Args()...)
		cmd := exec.CommandContext(ctx, Binary, args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			yield(Entry{}, fmt.Errorf("errorformat stdin: %w", err))
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(Entry{}, fmt.Errorf("errorformat stdout: %w", err))
			return
		}

		log := console.Log()
		log.Debug().Strs("argv", cmd.Args).Msg("run matcher")
		if err := cmd.Start(); err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				yield(Entry{}, ErrNotFound)
				return
			}
			yield(Entry{}, fmt.Errorf("start errorformat: %w", err))
			return
		}

		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			defer stdin.Close()
			w := bufio.NewWriter(stdin)
			for line := range lines {
				w.WriteString(line)
				w.WriteByte('\n')
				if err := w.Flush(); err != nil {
					return
				}
			}
		}()

		dec := json.NewDecoder(stdout)
		var decodeErr error
		for {
			var e Entry
			if err := dec.Decode(&e); err != nil {
				if err != io.EOF {
					decodeErr = fmt.Errorf("decode errorformat output: %w", err)
				}
				break
			}
			log.Debug().Str("file", e.Filename).Int("line", e.Lnum).Int("lines", len(e.Lines)).Msg("matched")
			if !yield(e, nil) {
				cmd.Process.Kill()
				io.Copy(io.Discard, stdout)
				cmd.Wait()
				return
			}
		}
		io.Copy(io.Discard, stdout)
		<-writeDone

		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				yield(Entry{}, &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()})
				return
			}
			yield(Entry{}, fmt.Errorf("wait errorformat: %w", err))
			return
		}
		if decodeErr != nil {
			yield(Entry{}, decodeErr)
		}
	}
}

var builtin = sync.OnceValues(func() (map[string]bool, error) {
	out, err := exec.Command(Binary, "-list").Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("errorformat -list: %w", err)
	}
	return parseList(out), nil
})

func parseList(out []byte) map[string]bool {
	names := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			names[fields[0]] = true
		}
	}
	return names
}

// BuiltinFormats returns the format names errorformat supports natively. The
// list is read once per process.
func BuiltinFormats() (map[string]bool, error) {
	return builtin()
}
