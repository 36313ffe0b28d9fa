package assemble

import (
	"iter"
	"slices"
	"strings"

	"github.com/fakeyudi/tuick/internal/matcher"
)

func withLines(e matcher.Entry, lines ...[]string) matcher.Entry {
	e.Lines = slices.Concat(lines...)
	return e
}

func sameLocation(a, b matcher.Entry) bool {
	return a.Filename == b.Filename && a.Lnum == b.Lnum && a.Col == b.Col
}

// groupMypy merges notes (entries without a line number) into the next entry
// of the same file, and merges consecutive entries at the same location.
// A note always flushes the pending block first so output order is kept.
func groupMypy(entries iter.Seq[matcher.Entry]) iter.Seq[matcher.Entry] {
	return func(yield func(matcher.Entry) bool) {
		var note, pending *matcher.Entry
		emit := func(p **matcher.Entry) bool {
			if *p == nil {
				return true
			}
			e := **p
			*p = nil
			return yield(e)
		}

		for e := range entries {
			if e.Lnum == 0 {
				if !emit(&pending) {
					return
				}
				switch {
				case note == nil:
					note = &e
				case note.Filename == e.Filename:
					merged := withLines(*note, note.Lines, e.Lines)
					note = &merged
				default:
					if !emit(&note) {
						return
					}
					note = &e
				}
				continue
			}

			if note != nil {
				if note.Filename == e.Filename {
					e = withLines(e, note.Lines, e.Lines)
					note = nil
				} else if !emit(&note) {
					return
				}
			}

			if pending != nil && sameLocation(*pending, e) {
				merged := withLines(*pending, pending.Lines, e.Lines)
				pending = &merged
				continue
			}
			if !emit(&pending) {
				return
			}
			pending = &e
		}
		if emit(&pending) {
			emit(&note)
		}
	}
}

func firstLine(e matcher.Entry) string {
	if len(e.Lines) == 0 {
		return ""
	}
	return e.Lines[0]
}

func isHeading(line string, c byte) bool {
	mark := strings.Repeat(string(c), 3)
	return len(line) >= 6 && strings.HasPrefix(line, mark) && strings.HasSuffix(line, mark)
}

// groupPytest builds blocks from the pytest report layout: "===" headings
// open or continue a section block, "___" headings and "_ _ _" separators
// open a new block, and the first located line inside an informational block
// gives the block its location.
func groupPytest(entries iter.Seq[matcher.Entry]) iter.Seq[matcher.Entry] {
	return func(yield func(matcher.Entry) bool) {
		var pending *matcher.Entry
		section := false
		start := func(e matcher.Entry, isSection bool) bool {
			if pending != nil && !yield(*pending) {
				return false
			}
			pending = &e
			section = isSection
			return true
		}

		for e := range entries {
			line := firstLine(e)
			switch {
			case isHeading(line, '='):
				if pending != nil && section {
					merged := withLines(*pending, pending.Lines, e.Lines)
					pending = &merged
				} else if !start(e, true) {
					return
				}
			case isHeading(line, '_') || strings.HasPrefix(line, "_ _ _"):
				if !start(e, false) {
					return
				}
			case e.Lnum != 0:
				if pending != nil && !section && pending.Filename == "" {
					merged := withLines(e, pending.Lines, e.Lines)
					pending = &merged
				} else if !start(e, false) {
					return
				}
			case pending != nil:
				merged := withLines(*pending, pending.Lines, e.Lines)
				pending = &merged
			default:
				if !start(e, false) {
					return
				}
			}
		}
		if pending != nil {
			yield(*pending)
		}
	}
}

// groupRuff merges consecutive informational entries into one block.
func groupRuff(entries iter.Seq[matcher.Entry]) iter.Seq[matcher.Entry] {
	return func(yield func(matcher.Entry) bool) {
		var info *matcher.Entry
		for e := range entries {
			if e.Filename == "" {
				if info == nil {
					info = &e
				} else {
					merged := withLines(*info, info.Lines, e.Lines)
					info = &merged
				}
				continue
			}
			if info != nil {
				if !yield(*info) {
					return
				}
				info = nil
			}
			if !yield(e) {
				return
			}
		}
		if info != nil {
			yield(*info)
		}
	}
}
