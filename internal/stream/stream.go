// Package stream converts a command's raw output into the record stream read
// by the UI, and back into text for replay.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/fakeyudi/tuick/internal/assemble"
	"github.com/fakeyudi/tuick/internal/block"
	"github.com/fakeyudi/tuick/internal/framer"
)

// Tool yields the encoded records parsed from a single tool's output.
func Tool(ctx context.Context, p *assemble.Parser, r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for b, err := range p.Parse(ctx, r) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(b.Encode(), nil) {
				return
			}
		}
	}
}

// Orchestrator yields records from a build tool's output: each line of its
// own text becomes an informational record and nested record runs are passed
// through unchanged. Records of an unterminated run are still yielded before
// the error.
func Orchestrator(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for c, err := range framer.Demux(r) {
			if !c.Nested && len(c.Data) > 0 {
				if !yield(block.Block{Content: string(c.Data)}.Encode(), nil) {
					return
				}
			}
			if c.Nested {
				for _, rec := range framer.SplitRecords(c.Data) {
					if len(rec) == 0 {
						continue
					}
					if !yield(rec, nil) {
						return
					}
				}
			}
			if err != nil {
				yield(nil, fmt.Errorf("nested output: %w", err))
				return
			}
		}
	}
}

// Copy writes records to fw and returns how many were written. It stops at
// the first source or write error.
func Copy(fw *framer.Writer, records iter.Seq2[[]byte, error]) (int, error) {
	n := 0
	for rec, err := range records {
		if err != nil {
			return n, err
		}
		if err := fw.WriteRecord(rec); err != nil {
			return n, fmt.Errorf("write record: %w", err)
		}
		n++
	}
	return n, nil
}

// Renderer turns one command's output into records.
type Renderer struct {
	// Parser parses tool output. It is unused in orchestrator mode.
	Parser *assemble.Parser
	// Top selects orchestrator mode.
	Top bool
	// Nested wraps the records in start and end markers for an outer
	// session.
	Nested bool
}

// Render reads r to the end and writes the records to w. The input is
// always drained, even when writing fails, so the producer never stalls.
func (rn *Renderer) Render(ctx context.Context, r io.Reader, w io.Writer) error {
	fw := framer.NewWriter(w, rn.Nested)
	var records iter.Seq2[[]byte, error]
	if rn.Top {
		records = Orchestrator(r)
	} else {
		records = Tool(ctx, rn.Parser, r)
	}
	_, err := Copy(fw, records)
	if closeErr := fw.Close(); err == nil {
		err = closeErr
	}
	io.Copy(io.Discard, r)
	return err
}

// Replay writes saved raw output for reading in a terminal. Nested record
// runs are replaced by their records' content, one per line.
func Replay(w io.Writer, saved []byte) error {
	if !bytes.ContainsAny(saved, string([]byte{block.StartMarker, block.EndMarker})) {
		_, err := w.Write(saved)
		return err
	}
	for c, err := range framer.Demux(bytes.NewReader(saved)) {
		if c.Nested {
			for _, rec := range framer.SplitRecords(c.Data) {
				b, decErr := block.Decode(rec)
				if decErr != nil {
					continue
				}
				if _, werr := fmt.Fprintln(w, b.Content); werr != nil {
					return werr
				}
			}
		} else if len(c.Data) > 0 {
			if _, werr := fmt.Fprintf(w, "%s\n", c.Data); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, framer.ErrUnterminated) {
				return nil
			}
			return err
		}
	}
	return nil
}
