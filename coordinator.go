package fragmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

// ClientState is a step of the coordinator's state machine.
type ClientState int32

const (
	// StateWaitingForWake: idle between sessions.
	StateWaitingForWake ClientState = iota
	// StateAnnouncing: scanning the directory, announcing the item count
	// and waiting for READY.
	StateAnnouncing
	// StateSpawning: the allowance is posted and workers are started.
	StateSpawning
	// StateAwaitWorkers: reaping workers.
	StateAwaitWorkers
	// StateAckDone: waiting for the server's completion notice, then
	// acknowledging it.
	StateAckDone
	// StateClientShuttingDown is final.
	StateClientShuttingDown
)

func (s ClientState) String() string {
	switch s {
	case StateWaitingForWake:
		return "waiting_for_wake"
	case StateAnnouncing:
		return "announcing"
	case StateSpawning:
		return "spawning"
	case StateAwaitWorkers:
		return "await_workers"
	case StateAckDone:
		return "ack_done"
	case StateClientShuttingDown:
		return "shutting_down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Coordinator drives the client side: on every wake it scans Dir, announces
// a session, releases one worker per item and acknowledges completion.
type Coordinator struct {
	// OnState, if set, is called on every state transition.
	OnState func(ClientState)
	// OnSession, if set, is called with the item count of every session the
	// client completes.
	OnSession func(items int)

	dir   string
	cfg   Config
	pool  *WorkerPool
	res   *Resources
	log   *zap.Logger
	state atomic.Int32
}

// NewCoordinator prepares a client for dir. Nothing is opened until Run.
func NewCoordinator(cfg Config, dir string, launcher Launcher, log *zap.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		dir:  dir,
		cfg:  cfg,
		pool: NewWorkerPool(launcher, log),
		log:  log,
	}, nil
}

// Pool exposes the worker pool.
func (c *Coordinator) Pool() *WorkerPool { return c.pool }

// State reports the current state. Safe from any goroutine.
func (c *Coordinator) State() ClientState { return ClientState(c.state.Load()) }

// Run attaches to the server, waiting for it to appear, then serves one
// session per EventWake until EventTerminate, cancellation of ctx or
// removal of the server's resources. Those are clean exits and return nil.
func (c *Coordinator) Run(ctx context.Context, events <-chan Event) error {
	res, err := AttachResources(ctx, c.cfg, c.log)
	if err != nil {
		if isTermination(ctx, err) {
			return nil
		}
		return err
	}
	c.res = res
	if err := res.OpenStreams(); err != nil {
		res.Release()
		return err
	}
	defer c.shutdown()

	c.log.Info("ready to go, send SIGINT to start a session", zap.Int("pid", os.Getpid()))
	for {
		c.setState(StateWaitingForWake)
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if ev == EventTerminate {
				return nil
			}
		}

		items, err := c.runSession(ctx)
		if err != nil {
			if isTermination(ctx, err) {
				c.log.Info("session interrupted", zap.Error(err))
				return nil
			}
			return err
		}
		if c.OnSession != nil {
			c.OnSession(items)
		}
	}
}

func (c *Coordinator) runSession(ctx context.Context) (int, error) {
	sem := c.res.Sem
	chans := c.res.Channels()

	c.setState(StateAnnouncing)
	files, err := ScanDir(ctx, c.dir, c.cfg.Pattern, c.cfg.MaxItems)
	if err != nil {
		return 0, err
	}
	count := len(files)
	c.log.Info(fmt.Sprintf("hi %s, sending files from %s", os.Getenv("USER"), c.dir), zap.Int("items", count))

	// the server resets the set before accepting; announcing earlier would
	// be wiped by that reset
	if err := sem.AwaitBaseline(ctx, SemClientDone); err != nil {
		return 0, err
	}
	if err := chans[FIFOA].Send(NewAnnouncement(count, os.Getpid())); err != nil {
		return 0, err
	}
	if err := sem.Signal(SemChanA, 1); err != nil {
		return 0, err
	}
	if err := sem.Wait(ctx, SemChanD, 1); err != nil {
		return 0, err
	}
	if marker := c.res.Slots.ReadMarker(); marker != ReadyMarker {
		return 0, fmt.Errorf("slot table marker %q: %w", marker, ErrProtocol)
	}

	c.setState(StateSpawning)
	// one unit for each worker, one for each unit the server waits for
	if err := sem.Signal(SemAccess, 2*count); err != nil {
		return 0, err
	}
	streams := c.res.StreamFiles()
	for _, item := range files {
		if _, err := c.pool.Spawn(Task{Config: c.cfg, Root: c.dir, Item: item}, streams); err != nil {
			c.pool.Terminate(DefaultTerminateGrace)
			return 0, err
		}
	}

	c.setState(StateAwaitWorkers)
	if err := c.pool.Wait(ctx); err != nil {
		if !isTermination(ctx, err) {
			c.pool.Terminate(DefaultTerminateGrace)
		}
		return 0, err
	}

	c.setState(StateAckDone)
	if err := sem.Wait(ctx, SemServerDone, doneBaseline+1); err != nil {
		return 0, err
	}
	if err := sem.Signal(SemClientDone, 1); err != nil {
		return 0, err
	}
	c.log.Info("session acknowledged", zap.Int("items", count))
	return count, nil
}

func (c *Coordinator) shutdown() {
	c.setState(StateClientShuttingDown)
	c.log.Info("shutting down client", zap.Int("live_workers", c.pool.Live()))
	c.pool.Terminate(DefaultTerminateGrace)
	if err := c.res.Release(); err != nil && !errors.Is(err, ErrRemoved) {
		c.log.Warn("release resources", zap.Error(err))
	}
}

func (c *Coordinator) setState(st ClientState) {
	c.state.Store(int32(st))
	if c.OnState != nil {
		c.OnState(st)
	}
}
