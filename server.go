package fragmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ServerState is a step of the server's per-session state machine.
type ServerState int32

const (
	// StateAwaitingClient: the set is at InitialVector and the server blocks
	// on the announcement.
	StateAwaitingClient ServerState = iota
	// StateReadySent: READY is written and the server waits for the
	// session's allowance.
	StateReadySent
	// StateDraining: fragments are being polled from every channel. Skipped
	// by sessions without items.
	StateDraining
	// StateSessionComplete: all fragments arrived; the server notifies the
	// client and waits for its acknowledgement.
	StateSessionComplete
	// StateShuttingDown is final.
	StateShuttingDown
)

func (s ServerState) String() string {
	switch s {
	case StateAwaitingClient:
		return "awaiting_client"
	case StateReadySent:
		return "ready_sent"
	case StateDraining:
		return "draining"
	case StateSessionComplete:
		return "session_complete"
	case StateShuttingDown:
		return "shutting_down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Session is the server's record of one announce-to-acknowledge exchange.
type Session struct {
	ID                uuid.UUID
	ItemCount         int
	ClientPID         int
	FragmentsReceived int
	PerChannel        [NumChannels]int
	Started           time.Time
}

// Expected is the number of fragments that completes the session.
func (s *Session) Expected() int { return s.ItemCount * NumChannels }

// Handler is called for every fragment the server receives.
type Handler func(s *Session, kind ChannelKind, f *Fragment)

// Server owns the IPC resources and runs the receive side of the protocol,
// one session at a time, until its context is cancelled.
type Server struct {
	// Handler, if set, sees every received fragment.
	Handler Handler
	// OnSession, if set, is called after each completed session.
	OnSession func(Session)
	// OnState, if set, is called on every state transition, from the
	// server's goroutine.
	OnState func(ServerState)

	cfg        Config
	res        *Resources
	log        *zap.Logger
	metrics    *Metrics
	state      atomic.Int32
	fresh      bool
	clientPID  atomic.Int64
	closeOnce  sync.Once
	closeError error

	mu      sync.Mutex
	cancel  context.CancelFunc
	running chan struct{}
}

// NewServer creates every IPC resource. It fails if a previous server's
// resources are still present.
func NewServer(cfg Config, log *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	res, err := CreateResources(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		res:     res,
		log:     log,
		metrics: NewMetrics(),
		fresh:   true,
	}, nil
}

// Resources exposes the server's IPC objects.
func (s *Server) Resources() *Resources { return s.res }

// Metrics exposes the server's counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// State reports the current state. Safe from any goroutine.
func (s *Server) State() ServerState { return ServerState(s.state.Load()) }

// Run serves sessions until ctx is cancelled or Shutdown is called, then
// tears everything down. Either is a clean exit and returns nil.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	s.mu.Lock()
	s.cancel, s.running = cancel, done
	s.mu.Unlock()

	s.log.Info("server ready", zap.Int("pid", unix.Getpid()))
	err := s.loop(ctx)
	if ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err())) {
		err = nil
	}
	return errors.Join(err, s.teardown())
}

func (s *Server) loop(ctx context.Context) error {
	for {
		sess, err := s.serveSession(ctx)
		if err != nil {
			return err
		}
		s.metrics.sessionDone(sess)
		if s.OnSession != nil {
			s.OnSession(*sess)
		}
	}
}

func (s *Server) serveSession(ctx context.Context) (*Session, error) {
	sem := s.res.Sem
	chans := s.res.Channels()

	// a freshly created set already holds InitialVector; resetting it again
	// could wipe an announcement made in between
	if s.fresh {
		s.fresh = false
	} else if err := sem.ResetAll(InitialVector[:]); err != nil {
		return nil, err
	}
	s.setState(StateAwaitingClient)
	s.log.Info("waiting for client")

	if err := sem.Wait(ctx, SemChanA, 1); err != nil {
		return nil, err
	}
	ann, err := chans[FIFOA].TryReceive()
	if err != nil {
		return nil, err
	}
	count, pid, err := ParseAnnouncement(ann)
	if err != nil {
		return nil, err
	}
	s.clientPID.Store(int64(pid))
	if err := sem.Signal(SemChanA, 1); err != nil {
		return nil, err
	}

	sess := &Session{ID: uuid.New(), ItemCount: count, ClientPID: pid, Started: time.Now()}
	log := s.log.With(zap.Stringer("session", sess.ID))
	log.Info("session announced", zap.Int("items", count), zap.Int("client_pid", pid))

	s.res.Slots.WriteMarker()
	if err := sem.Signal(SemChanD, 2); err != nil {
		return nil, err
	}
	s.setState(StateReadySent)
	if err := sem.Wait(ctx, SemAccess, count); err != nil {
		return nil, err
	}

	if sess.Expected() > 0 {
		s.setState(StateDraining)
	}
	for sess.FragmentsReceived < sess.Expected() {
		progressed := false
		for k, ch := range chans {
			kind := ChannelKind(k)
			f, err := s.receive(kind, ch)
			if err != nil {
				return nil, err
			}
			if f == nil {
				continue
			}
			progressed = true
			sess.FragmentsReceived++
			sess.PerChannel[kind]++
			s.metrics.fragment(kind)
			log.Info("fragment received",
				zap.Stringer("channel", kind),
				zap.Int32("pid", f.PID),
				zap.String("message", f.Payload))
			if s.Handler != nil {
				s.Handler(sess, kind, f)
			}
		}
		if !progressed {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
		}
	}

	s.setState(StateSessionComplete)
	s.logDone(log, "before notify")
	if err := sem.Signal(SemServerDone, 1); err != nil {
		return nil, err
	}
	if err := sem.Wait(ctx, SemClientDone, doneBaseline+1); err != nil {
		return nil, err
	}
	log.Info("session complete",
		zap.Int("fragments", sess.FragmentsReceived),
		zap.Ints("per_channel", sess.PerChannel[:]),
		zap.Duration("elapsed", time.Since(sess.Started)))
	return sess, nil
}

// receive performs one non-blocking read on ch and, when a fragment was
// taken, hands the channel's permit back to the writers.
func (s *Server) receive(kind ChannelKind, ch Channel) (*Fragment, error) {
	sem := s.res.Sem
	if kind == SlotTable {
		ok, err := sem.TryWait(SemChanD, 1)
		if err != nil || !ok {
			return nil, err
		}
		f, err := ch.TryReceive()
		if sigErr := sem.Signal(SemChanD, 1); err == nil {
			err = sigErr
		}
		if err != nil || f == nil {
			return nil, err
		}
		return f, s.checkMType(kind, f)
	}

	f, err := ch.TryReceive()
	if err != nil || f == nil {
		return nil, err
	}
	if err := s.checkMType(kind, f); err != nil {
		return nil, err
	}
	return f, sem.Signal(kind.Semaphore(), 1)
}

func (s *Server) checkMType(kind ChannelKind, f *Fragment) error {
	if f.MType != kind.MType() {
		return fmt.Errorf("%s: unexpected mtype %d: %w", kind, f.MType, ErrProtocol)
	}
	return nil
}

func (s *Server) logDone(log *zap.Logger, when string) {
	if v, err := s.res.Sem.Values(); err == nil {
		log.Debug("server done counter", zap.String("when", when), zap.Uint16("value", v[SemServerDone]))
	}
}

// Shutdown removes every IPC resource and tells the last known client to
// terminate. If Run is active it is stopped first and does the teardown, so
// the receive loop never reads a closed descriptor. Repeated calls return
// the first result. It must not be called from Handler, OnSession or
// OnState.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	cancel, running := s.cancel, s.running
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-running
	}
	return s.teardown()
}

func (s *Server) teardown() error {
	s.closeOnce.Do(func() {
		s.setState(StateShuttingDown)
		s.log.Info("shutting down server")
		s.closeError = s.res.Destroy()
		if pid := int(s.clientPID.Load()); pid > 0 {
			if err := unix.Kill(pid, unix.SIGUSR1); err != nil && !errors.Is(err, unix.ESRCH) {
				s.closeError = errors.Join(s.closeError, fmt.Errorf("signal client %d: %w", pid, err))
			}
		}
	})
	return s.closeError
}

func (s *Server) setState(st ServerState) {
	s.state.Store(int32(st))
	if s.OnState != nil {
		s.OnState(st)
	}
}
