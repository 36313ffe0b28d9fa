package assemble

import "sync"

// LineTracker maps stripped lines reported by the matcher back to the
// original colored lines. The matcher may drop lines but never reorders or
// invents them, so originals are consumed in step with the matched lines by
// scanning forward from a cursor. Lines that were textually identical after
// stripping therefore resolve by position.
//
// Append and Restore may be called from different goroutines.
type LineTracker struct {
	mu       sync.Mutex
	original []string
	stripped []string
	cursor   int
	base     int
}

// Append records one input line before it is handed to the matcher.
func (t *LineTracker) Append(original, stripped string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.original = append(t.original, original)
	t.stripped = append(t.stripped, stripped)
}

// Restore returns the original of the first unconsumed line equal to line
// and advances past it. A line that cannot be found is returned unchanged
// and the cursor stays put.
func (t *LineTracker) Restore(line string) string {
	orig, _ := t.restore(line)
	return orig
}

// restore also returns the absolute input index of the match, or -1.
func (t *LineTracker) restore(line string) (string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := t.cursor; i < len(t.stripped); i++ {
		if t.stripped[i] == line {
			orig := t.original[i]
			t.cursor = i + 1
			index := t.base + i
			t.compact()
			return orig, index
		}
	}
	return line, -1
}

// compact drops consumed lines once they make up half of the buffer.
func (t *LineTracker) compact() {
	if t.cursor < 64 || t.cursor*2 < len(t.stripped) {
		return
	}
	n := copy(t.original, t.original[t.cursor:])
	copy(t.stripped, t.stripped[t.cursor:])
	clear(t.original[n:])
	clear(t.stripped[n:])
	t.original = t.original[:n]
	t.stripped = t.stripped[:n]
	t.base += t.cursor
	t.cursor = 0
}

// RestoreAll restores each line in order.
func (t *LineTracker) RestoreAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = t.Restore(l)
	}
	return out
}

// Remaining returns the original lines after the cursor.
func (t *LineTracker) Remaining() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.original[t.cursor:]...)
}
