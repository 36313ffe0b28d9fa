//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the leader first, so a leader that has already been
// reaped is detected by os.Process and left alone, then the rest of its
// process group.
func signalGroup(p *os.Process, sig unix.Signal) error {
	if err := p.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
	if err := unix.Kill(-p.Pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// groupPoll is how often TerminateGroup checks whether the group is gone.
const groupPoll = 20 * time.Millisecond

// TerminateGroup stops the process group led by pid when the caller is not
// its parent and cannot wait for it. SIGTERM goes to the group, SIGKILL
// follows if any member is still there after timeout.
func TerminateGroup(pid int, timeout time.Duration) error {
	if pid <= 1 || pid == unix.Getpgrp() {
		return fmt.Errorf("refusing to signal process group %d", pid)
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("terminate group %d: %w", pid, err)
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if errors.Is(unix.Kill(-pid, 0), unix.ESRCH) {
			return nil
		}
		time.Sleep(groupPoll)
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill group %d: %w", pid, err)
	}
	return nil
}

func terminate(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

func kill(p *os.Process) {
	_ = signalGroup(p, unix.SIGKILL)
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
