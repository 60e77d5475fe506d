package fragmux

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// Slot names one counter of the SemaphoreSet.
type Slot uint16

const (
	// SemAccess carries the per-session worker allowance.
	SemAccess Slot = iota
	// SemChanA gates FIFO A; the client also uses it to announce a session.
	SemChanA
	// SemChanB gates FIFO B.
	SemChanB
	// SemChanC gates the message queue.
	SemChanC
	// SemChanD guards the slot table; the server also uses it to publish READY.
	SemChanD
	// SemClientDone carries the client's end-of-session acknowledgement.
	SemClientDone
	// SemServerDone carries the server's end-of-session notification.
	SemServerDone

	// NumSlots is the size of the set.
	NumSlots = 7
)

var slotNames = [NumSlots]string{"ACCESS", "CHAN_A", "CHAN_B", "CHAN_C", "CHAN_D", "CLIENT_DONE", "SERVER_DONE"}

func (s Slot) String() string {
	if int(s) < NumSlots {
		return slotNames[s]
	}
	return fmt.Sprintf("slot(%d)", uint16(s))
}

// InitialVector is the value of every counter at creation and at the top of
// every server iteration.
var InitialVector = [NumSlots]uint16{0, 0, 1, 1, 0, 1, 1}

// doneBaseline is the resting value of SemClientDone and SemServerDone. A
// completion notification raises the slot above it.
const doneBaseline = 1

// DefaultWaitSlice bounds a single blocking semaphore syscall so that
// context cancellation is observed in a timely manner.
const DefaultWaitSlice = 200 * time.Millisecond

// SemaphoreSet is a System V semaphore set of NumSlots counters, shared by
// the server, the client coordinator and every worker.
//
// All mutations are single semop calls, so no counter is ever read and
// written as two separate steps. Operations that fail because the set was
// removed return an error wrapping ErrRemoved.
//
// Example:
//
//	set, _ := fragmux.CreateSemaphoreSet(key, 0o660)
//	defer set.Remove()
//
//	set.Wait(ctx, fragmux.SemChanA, 1)
//	// read the announcement
//	set.Signal(fragmux.SemChanD, 2)
type SemaphoreSet struct {
	id    int
	key   Key
	slice time.Duration
}

// CreateSemaphoreSet creates a new set for key with exclusive-creation
// semantics and initializes it to InitialVector.
func CreateSemaphoreSet(key Key, perm int) (*SemaphoreSet, error) {
	id, err := semGet(int(key), NumSlots, unix.IPC_CREAT|unix.IPC_EXCL|perm)
	if err != nil {
		return nil, fmt.Errorf("create semaphore set %s: %w", key, err)
	}
	s := &SemaphoreSet{id: id, key: key, slice: DefaultWaitSlice}
	if err := s.ResetAll(InitialVector[:]); err != nil {
		_ = semRemove(id)
		return nil, err
	}
	return s, nil
}

// OpenSemaphoreSet locates an existing set. The returned error wraps
// unix.ENOENT when the set does not exist yet.
func OpenSemaphoreSet(key Key) (*SemaphoreSet, error) {
	id, err := semGet(int(key), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("open semaphore set %s: %w", key, err)
	}
	return &SemaphoreSet{id: id, key: key, slice: DefaultWaitSlice}, nil
}

// ID returns the kernel identifier of the set.
func (s *SemaphoreSet) ID() int { return s.id }

// SetWaitSlice changes how long a single blocking syscall may sleep before
// the context is checked again.
func (s *SemaphoreSet) SetWaitSlice(d time.Duration) {
	if d > 0 {
		s.slice = d
	}
}

// Wait blocks until slot can be decremented by n without going negative,
// then decrements it. A zero n is a no-op. Wait returns ctx.Err() once the
// context is done.
func (s *SemaphoreSet) Wait(ctx context.Context, slot Slot, n int) error {
	if n == 0 {
		return nil
	}
	op, err := delta(-n)
	if err != nil {
		return err
	}
	return s.waitOps(ctx, "wait "+slot.String(), []semBuf{{num: uint16(slot), op: op}})
}

// WaitTimeout is Wait bounded by d instead of a context. It reports false
// if the timeout elapsed before the decrement was possible.
func (s *SemaphoreSet) WaitTimeout(slot Slot, n int, d time.Duration) (bool, error) {
	op, err := delta(-n)
	if err != nil {
		return false, err
	}
	return s.timedOps("wait "+slot.String(), []semBuf{{num: uint16(slot), op: op}}, d)
}

// TryWait attempts the decrement of Wait without suspending. It reports
// false, with a nil error, when the decrement is not immediately possible.
// With n == 0 it reports whether the counter is currently zero.
func (s *SemaphoreSet) TryWait(slot Slot, n int) (bool, error) {
	op, err := delta(-n)
	if err != nil {
		return false, err
	}
	err = semTimedOp(s.id, []semBuf{{num: uint16(slot), op: op, flg: unix.IPC_NOWAIT}}, nil)
	if errors.Is(err, unix.EAGAIN) {
		return false, nil
	}
	if err != nil {
		return false, s.wrap("try-wait "+slot.String(), err)
	}
	return true, nil
}

// Signal increments slot by n. It never blocks. A zero n is a no-op.
func (s *SemaphoreSet) Signal(slot Slot, n int) error {
	if n == 0 {
		return nil
	}
	op, err := delta(n)
	if err != nil {
		return err
	}
	if err := semTimedOp(s.id, []semBuf{{num: uint16(slot), op: op}}, nil); err != nil {
		return s.wrap("signal "+slot.String(), err)
	}
	return nil
}

// AwaitBaseline blocks until slot holds at least its resting value, without
// changing it. The client uses it on SemClientDone to know the server has
// reset the set and is waiting for an announcement.
func (s *SemaphoreSet) AwaitBaseline(ctx context.Context, slot Slot) error {
	return s.waitOps(ctx, "await "+slot.String(), []semBuf{
		{num: uint16(slot), op: -doneBaseline},
		{num: uint16(slot), op: doneBaseline},
	})
}

// ResetAll atomically rewrites every counter.
func (s *SemaphoreSet) ResetAll(values []uint16) error {
	if len(values) != NumSlots {
		return fmt.Errorf("reset semaphore set: got %d values, want %d", len(values), NumSlots)
	}
	if err := semSetAll(s.id, values); err != nil {
		return s.wrap("reset", err)
	}
	return nil
}

// Values returns a snapshot of every counter.
func (s *SemaphoreSet) Values() ([]uint16, error) {
	v, err := semGetAll(s.id, NumSlots)
	if err != nil {
		return nil, s.wrap("read", err)
	}
	return v, nil
}

// Remove destroys the set. Processes blocked on it wake up with ErrRemoved.
func (s *SemaphoreSet) Remove() error {
	if err := semRemove(s.id); err != nil {
		return s.wrap("remove", err)
	}
	return nil
}

func (s *SemaphoreSet) waitOps(ctx context.Context, what string, ops []semBuf) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := s.timedOps(what, ops, s.slice)
		if err != nil || ok {
			return err
		}
	}
}

func (s *SemaphoreSet) timedOps(what string, ops []semBuf, d time.Duration) (bool, error) {
	ts := unix.NsecToTimespec(d.Nanoseconds())
	err := semTimedOp(s.id, ops, &ts)
	if errors.Is(err, unix.EAGAIN) {
		return false, nil
	}
	if err != nil {
		return false, s.wrap(what, err)
	}
	return true, nil
}

func (s *SemaphoreSet) wrap(what string, err error) error {
	if errors.Is(err, unix.EIDRM) || errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("semaphore %s: %w (%v)", what, ErrRemoved, err)
	}
	return fmt.Errorf("semaphore %s: %w", what, err)
}

func delta(n int) (int16, error) {
	if n > math.MaxInt16 || n < -math.MaxInt16 {
		return 0, fmt.Errorf("semaphore delta %d out of range", n)
	}
	return int16(n), nil
}
