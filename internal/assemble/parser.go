package assemble

import (
	"bufio"
	"context"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"

	"github.com/fakeyudi/tuick/internal/block"
	"github.com/fakeyudi/tuick/internal/matcher"
)

// Assemble groups entries by policy and converts each group into a block.
// Block content is the group's lines joined with newlines.
func Assemble(p Policy, entries iter.Seq2[matcher.Entry, error]) iter.Seq2[block.Block, error] {
	return func(yield func(block.Block, error) bool) {
		for e, err := range Group(p, entries) {
			if err != nil {
				yield(block.Block{}, err)
				return
			}
			if !yield(ToBlock(e), nil) {
				return
			}
		}
	}
}

// ToBlock converts one entry. An entry without lines falls back to its
// message text.
func ToBlock(e matcher.Entry) block.Block {
	content := strings.Join(e.Lines, "\n")
	if len(e.Lines) == 0 {
		content = e.Text
	}
	return block.Block{Location: e.Location(), Content: content}
}

// Parser runs tool output through the matcher and assembles blocks with the
// original colors restored.
type Parser struct {
	Config matcher.Config
	Policy Policy
	// Match defaults to matcher.Run.
	Match matcher.Func
}

// lineSource hands out lines of r to whichever goroutine asks next.
type lineSource struct {
	mu sync.Mutex
	br *bufio.Reader
}

func (s *lineSource) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := s.br.ReadString('\n')
	if line == "" && err != nil {
		return "", false
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), true
}

// Parse reads r to the end and yields blocks as the matcher produces them.
//
// When the matcher fails, the rest of r is drained and the lines the matcher
// had not reported are yielded as one informational block before the error,
// so no diagnostic text is lost.
func (p *Parser) Parse(ctx context.Context, r io.Reader) iter.Seq2[block.Block, error] {
	return func(yield func(block.Block, error) bool) {
		match := p.Match
		if match == nil {
			match = matcher.Run
		}
		src := &lineSource{br: bufio.NewReader(r)}
		tracker := &LineTracker{}

		lines := func(yield func(string) bool) {
			for {
				orig, ok := src.next()
				if !ok {
					return
				}
				stripped := ansi.Strip(orig)
				tracker.Append(orig, stripped)
				if !yield(stripped) {
					return
				}
			}
		}
		restored := func(yield func(matcher.Entry, error) bool) {
			for e, err := range match(ctx, p.Config, lines) {
				if err == nil {
					e.Lines = tracker.RestoreAll(e.Lines)
				}
				if !yield(e, err) {
					return
				}
			}
		}

		var matchErr error
		for b, err := range Assemble(p.Policy, restored) {
			if err != nil {
				matchErr = err
				break
			}
			if !yield(b, nil) {
				return
			}
		}
		if matchErr == nil {
			return
		}

		for {
			orig, ok := src.next()
			if !ok {
				break
			}
			tracker.Append(orig, "")
		}
		if rest := tracker.Remaining(); len(rest) > 0 {
			if !yield(block.Block{Content: strings.Join(rest, "\n")}, nil) {
				return
			}
		}
		yield(block.Block{}, matchErr)
	}
}
