//go:build !windows

package process

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func sh(t *testing.T, script string) *Process {
	t.Helper()
	p, err := Start([]string{"sh", "-c", script}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		p.TerminateAndWait(time.Second)
		p.Close()
	})
	return p
}

func TestStdoutMergesStderr(t *testing.T) {
	p := sh(t, "echo out; echo err >&2")
	data, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "out\nerr\n", string(data))
	code, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestStartMissingExecutable(t *testing.T) {
	_, err := Start([]string{"tuick-no-such-command"}, nil)
	require.Error(t, err)
	_, err = Start(nil, nil)
	require.Error(t, err)
}

func TestEnvIsPassed(t *testing.T) {
	p, err := Start([]string{"sh", "-c", `printf %s "$FORCE_COLOR"`}, []string{"FORCE_COLOR=1"})
	require.NoError(t, err)
	defer p.Close()
	data, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
	p.Wait()
}

// Feature: tuick, Property 2: terminating an exited process returns its real status
func TestTerminateAfterExitReturnsRealStatus(t *testing.T) {
	p := sh(t, "exit 3")
	code, err := p.Wait()
	require.NoError(t, err)
	require.Equal(t, 3, code)

	code, err = p.TerminateAndWait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.False(t, p.Terminated())

	next := sh(t, "sleep 5")
	code, err = p.TerminateAndWait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	select {
	case <-next.Done():
		t.Fatal("terminating the old process affected the new one")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTerminateRunning(t *testing.T) {
	p := sh(t, "sleep 10")
	start := time.Now()
	code, err := p.TerminateAndWait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 128+15, code)
	assert.True(t, p.Terminated())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestTerminateEscalatesToKill(t *testing.T) {
	p := sh(t, `trap "" TERM; echo ready; sleep 10`)
	buf := make([]byte, 6)
	_, err := io.ReadFull(p.Stdout(), buf)
	require.NoError(t, err)

	code, err := p.TerminateAndWait(200 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 128+9, code)
}

func TestTerminateKillsProcessGroup(t *testing.T) {
	p := sh(t, "sleep 10 & wait")
	code, err := p.TerminateAndWait(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 128+15, code)
	// The background sleep held the write end; EOF means it died too.
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, p.Stdout())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("grandchild survived termination")
	}
}

// Feature: tuick, Property 2: natural exit racing termination yields one consistent status
func TestTerminateRacesNaturalExit(t *testing.T) {
	for range 20 {
		p, err := Start([]string{"sh", "-c", "exit 0"}, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		codes := make([]int, 3)
		wg.Add(3)
		go func() { defer wg.Done(); codes[0], _ = p.Wait() }()
		go func() { defer wg.Done(); codes[1], _ = p.TerminateAndWait(time.Second) }()
		go func() { defer wg.Done(); codes[2], _ = p.TerminateAndWait(time.Second) }()
		wg.Wait()

		assert.Equal(t, codes[0], codes[1])
		assert.Equal(t, codes[0], codes[2])
		assert.Contains(t, []int{0, 128 + 15}, codes[0])
		p.Close()
	}
}

func TestTerminateGroupByPid(t *testing.T) {
	p := sh(t, "sleep 10 & wait")
	require.NoError(t, TerminateGroup(p.Pid(), 2*time.Second))
	code, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 128+15, code)
}

func TestTerminateGroupEscalates(t *testing.T) {
	p := sh(t, `trap "" TERM; sleep 10 & wait`)
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	require.NoError(t, TerminateGroup(p.Pid(), 300*time.Millisecond))
	code, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 128+9, code)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestTerminateGroupGone(t *testing.T) {
	p := sh(t, "exit 0")
	p.Wait()
	require.Eventually(t, func() bool {
		return TerminateGroup(p.Pid(), time.Second) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestTerminateGroupRefusesOwnGroup(t *testing.T) {
	require.Error(t, TerminateGroup(unix.Getpgrp(), time.Second))
	require.Error(t, TerminateGroup(1, time.Second))
}
