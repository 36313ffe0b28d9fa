// Package framer wraps record runs in start/end markers and splits a mixed
// orchestrator stream back into plain text and nested record runs.
package framer

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"iter"

	"github.com/fakeyudi/tuick/internal/block"
)

var (
	// ErrUnterminated means the stream ended inside a nested region.
	ErrUnterminated = errors.New("unterminated nested region")
	// ErrUnexpectedEnd means an end marker appeared outside a nested region.
	ErrUnexpectedEnd = errors.New("end marker outside nested region")
	// ErrNestedStart means a start marker appeared inside a nested region.
	ErrNestedStart = errors.New("start marker inside nested region")
)

// Chunk is one piece of a demultiplexed stream. Nested chunks hold already
// framed records separated by block.RecordSep. Plain chunks hold one line of
// orchestrator text without its line ending.
type Chunk struct {
	Nested bool
	Data   []byte
}

// Writer streams records separated by block.RecordSep. In nested mode the run
// is wrapped in start and end markers. Nothing is written for an empty run.
type Writer struct {
	w      io.Writer
	nested bool
	count  int
	buf    []byte
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer, nested bool) *Writer {
	return &Writer{w: w, nested: nested}
}

// WriteRecord writes one encoded record (or a run of records already joined
// with block.RecordSep).
func (fw *Writer) WriteRecord(rec []byte) error {
	fw.buf = fw.buf[:0]
	switch {
	case fw.count > 0:
		fw.buf = append(fw.buf, block.RecordSep)
	case fw.nested:
		fw.buf = append(fw.buf, block.StartMarker)
	}
	fw.buf = append(fw.buf, rec...)
	fw.count++
	_, err := fw.w.Write(fw.buf)
	return err
}

// WriteBlock encodes b and writes it.
func (fw *Writer) WriteBlock(b block.Block) error {
	return fw.WriteRecord(b.Encode())
}

// Close writes the end marker in nested mode. It does not close the
// underlying writer.
func (fw *Writer) Close() error {
	if !fw.nested || fw.count == 0 {
		return nil
	}
	_, err := fw.w.Write([]byte{block.EndMarker})
	return err
}

// Wrap writes blocks as one nested run: start marker, records separated by
// block.RecordSep with no trailing separator, end marker.
func Wrap(w io.Writer, blocks iter.Seq[block.Block]) error {
	fw := NewWriter(w, true)
	for b := range blocks {
		if err := fw.WriteBlock(b); err != nil {
			return err
		}
	}
	return fw.Close()
}

// SplitRecords splits a nested chunk into its records.
func SplitRecords(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	return bytes.Split(data, []byte{block.RecordSep})
}

// Demux splits r at the start and end markers. Text outside markers is
// yielded line by line (empty lines are skipped); each nested region is
// yielded whole. The sequence makes a single pass over r.
//
// Protocol violations are yielded as the last element with a non-nil error.
// For ErrUnterminated the chunk carries the partial nested data.
func Demux(r io.Reader) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		br := bufio.NewReader(r)
		var pending []byte
		nested := false

		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			c := Chunk{Nested: nested, Data: pending}
			pending = nil
			return yield(c, nil)
		}

		for {
			c, err := br.ReadByte()
			if err != nil {
				if nested {
					yield(Chunk{Nested: true, Data: pending}, ErrUnterminated)
					return
				}
				if !flush() {
					return
				}
				if err != io.EOF {
					yield(Chunk{}, err)
				}
				return
			}

			switch {
			case c == block.StartMarker:
				if nested {
					yield(Chunk{}, ErrNestedStart)
					return
				}
				if !flush() {
					return
				}
				nested = true
			case c == block.EndMarker:
				if !nested {
					yield(Chunk{}, ErrUnexpectedEnd)
					return
				}
				if !flush() {
					return
				}
				nested = false
			case !nested && (c == '\n' || c == block.RecordSep):
				if !flush() {
					return
				}
			default:
				pending = append(pending, c)
			}
		}
	}
}
