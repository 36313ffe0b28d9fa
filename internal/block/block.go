// Package block defines the selectable record shown in the error browser and
// its wire encoding.
//
// A record is six fields separated by FieldSep:
//
//	file \x1f line \x1f column \x1f end_line \x1f end_column \x1f content
//
// Absent fields are empty strings. Records are separated (not terminated) by
// RecordSep when streamed to the UI.
package block

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Reserved bytes. They never occur in ANSI-stripped tool output or in file
// paths, so they are safe as separators and markers.
const (
	RecordSep   byte = 0x00
	StartMarker byte = 0x02
	EndMarker   byte = 0x03
	FieldSep    byte = 0x1f
)

const fieldCount = 6

// ErrMalformed is returned by Decode when a record does not have six fields.
var ErrMalformed = errors.New("malformed record")

// Location points at a position in a source file. Zero means absent for the
// numeric fields.
type Location struct {
	File      string
	Line      int
	Column    int
	EndLine   int
	EndColumn int
}

// Block is one selectable unit of output.
type Block struct {
	// Location is nil for informational blocks. Selecting those is a no-op.
	Location *Location
	Content  string
}

// Informational reports whether b has no location.
func (b Block) Informational() bool {
	return b.Location == nil || b.Location.File == ""
}

// Encode returns the wire form of b, without any record separator.
func (b Block) Encode() []byte {
	return b.AppendTo(nil)
}

// AppendTo appends the wire form of b to dst.
func (b Block) AppendTo(dst []byte) []byte {
	var loc Location
	if b.Location != nil {
		loc = *b.Location
	}
	dst = appendClean(dst, loc.File)
	for _, n := range []int{loc.Line, loc.Column, loc.EndLine, loc.EndColumn} {
		dst = append(dst, FieldSep)
		if n > 0 {
			dst = strconv.AppendInt(dst, int64(n), 10)
		}
	}
	dst = append(dst, FieldSep)
	return appendClean(dst, b.Content)
}

// appendClean appends s, dropping bytes that would break record framing.
func appendClean(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case RecordSep, StartMarker, EndMarker:
			continue
		}
		dst = append(dst, s[i])
	}
	return dst
}

// Decode parses one record. Content may itself contain FieldSep; only the
// first five separators are significant.
func Decode(rec []byte) (Block, error) {
	parts := bytes.SplitN(rec, []byte{FieldSep}, fieldCount)
	if len(parts) != fieldCount {
		return Block{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(parts))
	}
	fields := make([]string, fieldCount-1)
	for i := range fields {
		fields[i] = string(parts[i])
	}
	loc, err := ParseFields(fields)
	if err != nil {
		return Block{}, err
	}
	return Block{Location: loc, Content: string(parts[fieldCount-1])}, nil
}

// ParseFields builds a Location from the five location fields as they are
// passed on the command line by the UI ({1} to {5}). It returns nil for an
// empty file name. Missing trailing fields are treated as empty.
func ParseFields(fields []string) (*Location, error) {
	get := func(i int) string {
		if i < len(fields) {
			return strings.TrimSpace(fields[i])
		}
		return ""
	}
	if get(0) == "" {
		return nil, nil
	}
	loc := &Location{File: get(0)}
	targets := []*int{&loc.Line, &loc.Column, &loc.EndLine, &loc.EndColumn}
	for i, target := range targets {
		s := get(i + 1)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid number %q", ErrMalformed, s)
		}
		*target = n
	}
	return loc, nil
}
