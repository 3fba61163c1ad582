package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrEmptyCommand is returned by Spawn when the spec has nothing to run.
var ErrEmptyCommand = errors.New("empty command")

// Launcher spawns detached service processes and reaps them when they exit.
// It is safe for concurrent use.
type Launcher struct {
	mu    sync.Mutex
	procs map[int]*child
}

type child struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func NewLauncher() *Launcher {
	return &Launcher{procs: make(map[int]*child)}
}

// Spawn starts spec as a detached background process and returns its PID.
// The process is reaped in the background so it never lingers as a zombie.
func (l *Launcher) Spawn(spec Spec) (int, error) {
	if spec.Command == "" {
		return 0, ErrEmptyCommand
	}
	cmd := spec.BuildCommand()
	cmd.Dir = spec.ResolveWorkDir()
	switch {
	case spec.ReplaceEnv:
		cmd.Env = append([]string{}, spec.Env...)
	case len(spec.Env) > 0:
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureSysProcAttr(cmd)

	c := &child{cmd: cmd, done: make(chan struct{})}
	if spec.Output.Enabled() {
		c.outCloser, c.errCloser = spec.Output.Writers(spec.Name)
	}
	null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	cmd.Stdout, cmd.Stderr = writerOr(c.outCloser, null), writerOr(c.errCloser, null)

	if err := cmd.Start(); err != nil {
		c.closeWriters()
		if null != nil {
			_ = null.Close()
		}
		return 0, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	pid := cmd.Process.Pid
	c.startedAt = time.Now()

	l.mu.Lock()
	l.procs[pid] = c
	l.mu.Unlock()

	go func() {
		err := cmd.Wait()
		c.closeWriters()
		if null != nil {
			_ = null.Close()
		}
		l.mu.Lock()
		if l.procs[pid] == c {
			delete(l.procs, pid)
		}
		l.mu.Unlock()
		close(c.done)
		slog.Debug("process exited", "name", spec.Name, "pid", pid, "error", err, "uptime", time.Since(c.startedAt))
	}()
	return pid, nil
}

// Terminate sends a graceful termination signal to pid and its process group.
// A process that no longer exists is treated as already stopped.
func (l *Launcher) Terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := terminate(pid)
	if errors.Is(err, errNoProcess) {
		slog.Info("process already gone", "pid", pid)
		return nil
	}
	return err
}

// Alive reports whether pid refers to a live process.
func (l *Launcher) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	l.mu.Lock()
	c := l.procs[pid]
	l.mu.Unlock()
	if c != nil {
		select {
		case <-c.done:
			return false
		default:
			return true
		}
	}
	return processExists(pid)
}

// wait blocks until a process spawned by this launcher exits or the timeout elapses.
// It returns false on timeout. PIDs not owned by the launcher return true immediately.
func (l *Launcher) wait(pid int, timeout time.Duration) bool {
	l.mu.Lock()
	c := l.procs[pid]
	l.mu.Unlock()
	if c == nil {
		return true
	}
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *child) closeWriters() {
	if c.outCloser != nil {
		_ = c.outCloser.Close()
	}
	if c.errCloser != nil {
		_ = c.errCloser.Close()
	}
}

func writerOr(w io.Writer, def *os.File) io.Writer {
	if w != nil {
		return w
	}
	if def == nil {
		return io.Discard
	}
	return def
}
