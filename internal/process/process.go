// Package process runs one child command with its output captured and
// provides a termination that is safe to race against the child's own exit.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/fakeyudi/tuick/internal/console"
)

// DefaultTimeout bounds the wait after the graceful termination signal.
const DefaultTimeout = 5 * time.Second

// Process is a started child. Stdout and stderr share one pipe.
//
// A single goroutine calls cmd.Wait; every other method observes the exit
// through waitDone, so the child is reaped exactly once and never signalled
// after that.
type Process struct {
	cmd    *exec.Cmd
	stdout *os.File

	mu         sync.Mutex
	terminated bool

	waitDone chan struct{}
	status   int
	waitErr  error
}

// Start runs argv with env (nil inherits the environment) in its own process
// group.
func Start(argv []string, env []string) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = sysProcAttr()
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	w.Close()

	p := &Process{cmd: cmd, stdout: r, waitDone: make(chan struct{})}
	go p.monitorExit()
	console.Log().Debug().Int("pid", cmd.Process.Pid).Strs("argv", argv).Msg("started command")
	return p, nil
}

func (p *Process) monitorExit() {
	err := p.cmd.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	p.status = exitStatus(p.cmd.ProcessState)
	close(p.waitDone)
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stdout returns the read end of the output pipe. It reaches EOF when every
// process holding the write end has exited.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Close releases the output pipe.
func (p *Process) Close() error {
	return p.stdout.Close()
}

// Done is closed once the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.waitDone
}

// Wait blocks until the child exits and returns its status. A child killed
// by a signal reports 128 plus the signal number.
func (p *Process) Wait() (int, error) {
	<-p.waitDone
	return p.status, p.waitErr
}

// Terminated reports whether TerminateAndWait signalled the child.
func (p *Process) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// TerminateAndWait asks the child's process group to stop, waits up to
// timeout, then kills it. A child that already exited is not signalled and
// its real status is returned. Concurrent callers share one signal.
func (p *Process) TerminateAndWait(timeout time.Duration) (int, error) {
	p.mu.Lock()
	select {
	case <-p.waitDone:
		p.mu.Unlock()
		return p.status, p.waitErr
	default:
	}
	if !p.terminated {
		p.terminated = true
		console.Log().Debug().Int("pid", p.Pid()).Msg("terminate command")
		if err := terminate(p.cmd.Process); err != nil {
			p.mu.Unlock()
			return 0, fmt.Errorf("terminate pid %d: %w", p.Pid(), err)
		}
	}
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.waitDone:
	case <-timer.C:
		p.mu.Lock()
		select {
		case <-p.waitDone:
		default:
			console.Log().Debug().Int("pid", p.Pid()).Msg("kill command")
			kill(p.cmd.Process)
		}
		p.mu.Unlock()
		<-p.waitDone
	}
	return p.status, p.waitErr
}
