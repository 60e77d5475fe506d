package fragmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	// EnvStreamFDs tells a worker which inherited descriptors carry FIFO A
	// and FIFO B, comma separated.
	EnvStreamFDs = "FRAGMUX_STREAM_FDS"

	// DefaultTerminateGrace is how long a worker may take to exit after
	// SIGTERM before it is killed.
	DefaultTerminateGrace = 5 * time.Second
)

// Task is what a worker is told to do: send one item of a session.
type Task struct {
	Config Config `msgpack:"config"`
	Root   string `msgpack:"root"`
	Item   string `msgpack:"item"`
}

// Launcher starts a worker process for a task. The files are the write ends
// of the stream channels, in channel order.
type Launcher interface {
	Launch(task Task, files []*os.File) (*exec.Cmd, error)
}

// ExecLauncher runs a worker by executing Path with Args. The task is fed on
// stdin, msgpack encoded, and the stream descriptors are inherited.
type ExecLauncher struct {
	Path string
	Args []string
	// Env is appended to the parent environment.
	Env []string
}

// Launch starts the worker in its own process group and returns the started
// command without waiting for it.
func (l ExecLauncher) Launch(task Task, files []*os.File) (*exec.Cmd, error) {
	payload, err := msgpack.Marshal(&task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	cmd := exec.Command(l.Path, l.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// own process group, so terminal signals meant for the client miss it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	fds := setExtraFiles(cmd, files)
	cmd.Env = append(append(os.Environ(), l.Env...), EnvStreamFDs+"="+strings.Join(fds, ","))

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

type workerExit struct {
	pid int
	err error
}

// WorkerPool tracks the worker processes of the current session. Workers
// run independently; the pool only starts, reaps and, on shutdown,
// terminates them.
//
// Spawn, Wait and Terminate are called from one goroutine. Live may be
// called from anywhere.
type WorkerPool struct {
	launcher Launcher
	live     *xsync.MapOf[int, *exec.Cmd]
	exits    chan workerExit
	pending  int
	log      *zap.Logger
}

// NewWorkerPool creates an empty pool using launcher.
func NewWorkerPool(launcher Launcher, log *zap.Logger) *WorkerPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		launcher: launcher,
		live:     xsync.NewMapOf[int, *exec.Cmd](),
		exits:    make(chan workerExit, 16),
		log:      log,
	}
}

// Spawn starts one worker and returns its pid.
func (p *WorkerPool) Spawn(task Task, files []*os.File) (int, error) {
	cmd, err := p.launcher.Launch(task, files)
	if err != nil {
		return 0, fmt.Errorf("launch worker for %s: %w: %w", task.Item, ErrSpawn, err)
	}
	pid := cmd.Process.Pid
	p.live.Store(pid, cmd)
	p.pending++
	go func() {
		err := waitForExit(cmd)
		p.live.Delete(pid)
		p.exits <- workerExit{pid: pid, err: err}
	}()
	p.log.Debug("worker started", zap.Int("pid", pid), zap.String("item", task.Item))
	return pid, nil
}

// Live is the number of workers that have not exited yet.
func (p *WorkerPool) Live() int { return p.live.Size() }

// Wait reaps every spawned worker, in whatever order they finish. It
// returns an error wrapping ErrSpawn if any worker failed, and ctx.Err() if
// the context ends first; in that case the remaining workers stay pending.
func (p *WorkerPool) Wait(ctx context.Context) error {
	var errs []error
	for p.pending > 0 {
		select {
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		case e := <-p.exits:
			p.pending--
			if e.err != nil {
				errs = append(errs, fmt.Errorf("%w: %w", ErrSpawn, e.err))
				continue
			}
			p.log.Debug("worker reaped", zap.Int("pid", e.pid))
		}
	}
	return errors.Join(errs...)
}

// Terminate sends SIGTERM to every live worker, kills those still running
// after grace, and reaps them all. Exit errors are expected here and are
// not reported.
func (p *WorkerPool) Terminate(grace time.Duration) {
	if p.pending == 0 {
		return
	}
	p.signalAll(syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	for p.pending > 0 {
		select {
		case <-timer.C:
			p.log.Warn("workers ignored SIGTERM, killing", zap.Int("live", p.Live()))
			p.signalAll(syscall.SIGKILL)
		case <-p.exits:
			p.pending--
		}
	}
}

func (p *WorkerPool) signalAll(sig syscall.Signal) {
	p.live.Range(func(pid int, cmd *exec.Cmd) bool {
		if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.log.Warn("signal worker", zap.Int("pid", pid), zap.Error(err))
		}
		return true
	})
}
