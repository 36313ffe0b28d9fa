package coord

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOutputLifecycle(t *testing.T) {
	b := NewOutputBuffer(t.TempDir())
	assert.Equal(t, OutputAbsent, b.State())
	data, err := b.Saved()
	require.NoError(t, err)
	assert.Empty(t, data)

	sink, err := b.Open()
	require.NoError(t, err)
	assert.Equal(t, OutputCapturing, b.State())
	sink.Write([]byte("hello "))
	sink.Write([]byte("world"))
	require.NoError(t, sink.Commit())
	assert.Equal(t, OutputCommitted, b.State())

	data, err = b.Saved()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	require.NoError(t, sink.Abort(), "abort after commit is a no-op")
	require.Error(t, sink.Commit())
}

func TestAbortKeepsPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	b := NewOutputBuffer(dir)
	first, _ := b.Open()
	first.Write([]byte("first"))
	require.NoError(t, first.Commit())

	second, _ := b.Open()
	second.Write([]byte("partial"))
	require.NoError(t, second.Abort())

	data, err := b.Saved()
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "aborted capture file is removed")
}

func TestStaleSinkIsDiscarded(t *testing.T) {
	b := NewOutputBuffer(t.TempDir())
	older, _ := b.Open()
	newer, _ := b.Open()
	newer.Write([]byte("new"))
	require.NoError(t, newer.Commit())
	older.Write([]byte("old"))
	require.NoError(t, older.Commit())

	data, _ := b.Saved()
	assert.Equal(t, "new", string(data))
}

func TestCloseRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewOutputBuffer(dir)
	s, _ := b.Open()
	s.Write([]byte("x"))
	require.NoError(t, s.Commit())
	require.NoError(t, b.Close())

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
	_, err := b.Open()
	require.ErrorIs(t, err, ErrNoSession)
}

// Feature: tuick, Property 3: saved output is the last committed capture, byte for byte
func TestCommitAtomicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewOutputBuffer(os.TempDir())
		defer b.Close()
		var want []byte
		rounds := rapid.IntRange(1, 6).Draw(t, "rounds")
		for range rounds {
			sink, err := b.Open()
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			var written []byte
			for _, chunk := range rapid.SliceOfN(rapid.SliceOf(rapid.Byte()), 0, 5).Draw(t, "chunks") {
				sink.Write(chunk)
				written = append(written, chunk...)
			}
			if rapid.Bool().Draw(t, "commit") {
				if err := sink.Commit(); err != nil {
					t.Fatalf("Commit: %v", err)
				}
				want = written
			} else {
				sink.Abort()
			}
			got, err := b.Saved()
			if err != nil {
				t.Fatalf("Saved: %v", err)
			}
			if string(got) != string(want) {
				t.Fatalf("saved %q, want %q", got, want)
			}
		}
	})
}
