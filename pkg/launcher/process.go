package launcher

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/gravitational/trace"
)

// Process is a handle on a spawned worker subprocess.
type Process struct {
	cmd     *exec.Cmd
	workDir string

	mu       sync.Mutex
	exited   bool
	exitCode int
	done     chan struct{}
}

func newProcess(cmd *exec.Cmd, workDir string) *Process {
	p := &Process{
		cmd:     cmd,
		workDir: workDir,
		done:    make(chan struct{}),
	}
	go p.reap()
	return p
}

// reap waits for the subprocess so it never zombies and records the exit.
func (p *Process) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.exitCode = exitErr.ExitCode()
		} else {
			p.exitCode = -1
		}
	}
	p.mu.Unlock()
	close(p.done)
}

// PID returns the OS process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// WorkDir returns the materialized work directory of the process.
func (p *Process) WorkDir() string {
	return p.workDir
}

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitCode returns the recorded exit code; meaningful only after Exited.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stop terminates the process: SIGTERM first, SIGKILL after the grace period.
func (p *Process) Stop(grace time.Duration) error {
	if p.Exited() {
		return nil
	}
	if p.cmd.Process == nil {
		return trace.BadParameter("process was never started")
	}

	// Try graceful shutdown first (SIGTERM)
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process may have just exited.
		if p.Exited() {
			return nil
		}
		return trace.Wrap(err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	if err := p.cmd.Process.Kill(); err != nil && !p.Exited() {
		return trace.Wrap(err)
	}
	<-p.done
	return nil
}

// Kill terminates the process immediately.
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !p.Exited() {
		return trace.Wrap(err)
	}
	<-p.done
	return nil
}
