package registry

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is the slice of an OS process the registry needs.
type Process interface {
	// Pid returns the OS process id.
	Pid() int
	// Signal delivers sig to the process.
	Signal(sig os.Signal) error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
}

// Exited reports whether p has already exited.
func Exited(p Process) bool {
	if p == nil {
		return true
	}
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

// ExecProcess adapts a started *exec.Cmd to Process.
// A single goroutine waits on the command; ExitCode is valid after Done closes.
type ExecProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error
}

// waitDelay bounds how long Wait keeps draining output after the process exits.
const waitDelay = 2 * time.Second

// StartProcess starts cmd and begins waiting on it in the background.
func StartProcess(cmd *exec.Cmd) (*ExecProcess, error) {
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = waitDelay
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	p := &ExecProcess{
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go p.wait()
	return p, nil
}

func (p *ExecProcess) wait() {
	err := p.cmd.Wait()

	code := 1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	// Killed by a signal: no exit code is available.
	if code < 0 {
		code = 1
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}

	p.mu.Lock()
	p.exitCode = code
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

// Pid returns the OS process id.
func (p *ExecProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Signal delivers sig to the process. Signalling an exited process is a no-op.
func (p *ExecProcess) Signal(sig os.Signal) error {
	if Exited(p) {
		return nil
	}
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Done is closed once the process has exited and its output is drained.
func (p *ExecProcess) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or -1 while the process is running.
func (p *ExecProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// WaitErr returns a non-exit error from Wait (I/O copy failures), if any.
func (p *ExecProcess) WaitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

var _ Process = (*ExecProcess)(nil)

// PIDAlive reports whether a process with pid exists, using signal 0.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to someone else.
	return err == nil || errors.Is(err, syscall.EPERM)
}

// PIDProcess adapts a process this program did not start, such as a worker
// found through its descriptor. Exit is detected by polling PIDAlive.
type PIDProcess struct {
	pid  int
	proc *os.Process
	done chan struct{}
	stop chan struct{}
	once sync.Once
}

// WatchPID starts polling pid every interval. Call Release to stop polling
// early.
func WatchPID(pid int, interval time.Duration) (*PIDProcess, error) {
	if !PIDAlive(pid) {
		return nil, fmt.Errorf("process %d: %w", pid, os.ErrProcessDone)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	p := &PIDProcess{pid: pid, proc: proc, done: make(chan struct{}), stop: make(chan struct{})}
	go p.poll(interval)
	return p, nil
}

func (p *PIDProcess) poll(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			if !PIDAlive(p.pid) {
				close(p.done)
				return
			}
		}
	}
}

// Pid returns the OS process id.
func (p *PIDProcess) Pid() int { return p.pid }

// Signal delivers sig to the process. Signalling an exited process is a no-op.
func (p *PIDProcess) Signal(sig os.Signal) error {
	if Exited(p) {
		return nil
	}
	err := p.proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Done is closed once the process no longer exists.
func (p *PIDProcess) Done() <-chan struct{} { return p.done }

// Release stops polling. Done will not close afterwards unless it already has.
func (p *PIDProcess) Release() {
	p.once.Do(func() { close(p.stop) })
}

var _ Process = (*PIDProcess)(nil)
