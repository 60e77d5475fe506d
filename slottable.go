package fragmux

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ReadyMarker is the content of slot 0 once the server accepts a session.
const ReadyMarker = "READY"

// DefaultSlotCount is the number of slots, marker slot included.
const DefaultSlotCount = 16

// slotRecord is the in-segment layout of one slot. A zero mtype marks the
// slot empty.
type slotRecord struct {
	mtype   int64
	pid     int32
	length  uint16
	_       uint16
	payload [MaxPayload]byte
}

const slotSize = int(unsafe.Sizeof(slotRecord{}))

// SharedSlots is the shared-memory transport: a System V segment viewed as
// an array of fixed-size slots. Slot 0 holds the READY marker; fragments
// travel in slots 1 and above.
//
// Nothing here synchronizes. Every access, marker included, must happen
// while holding SemChanD.
type SharedSlots struct {
	id    int
	key   Key
	mem   []byte
	slots []slotRecord
}

// CreateSharedSlots creates and attaches a zeroed segment of count slots,
// failing if one already exists for key.
func CreateSharedSlots(key Key, count, perm int) (*SharedSlots, error) {
	if count < 2 {
		return nil, fmt.Errorf("slot table needs at least 2 slots, got %d", count)
	}
	id, err := shmGet(int(key), count*slotSize, unix.IPC_CREAT|unix.IPC_EXCL|perm)
	if err != nil {
		return nil, fmt.Errorf("create shared segment %s: %w", key, err)
	}
	t, err := attachSlots(id, key)
	if err != nil {
		_ = shmRemove(id)
		return nil, err
	}
	return t, nil
}

// OpenSharedSlots attaches the existing segment for key. The slot count is
// derived from the segment size.
func OpenSharedSlots(key Key) (*SharedSlots, error) {
	id, err := shmGet(int(key), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("open shared segment %s: %w", key, err)
	}
	return attachSlots(id, key)
}

func attachSlots(id int, key Key) (*SharedSlots, error) {
	mem, err := shmAttach(id)
	if err != nil {
		return nil, fmt.Errorf("attach shared segment %s: %w", key, err)
	}
	n := len(mem) / slotSize
	if n < 2 {
		_ = shmDetach(mem)
		return nil, fmt.Errorf("shared segment %s holds %d bytes: %w", key, len(mem), ErrProtocol)
	}
	return &SharedSlots{
		id:    id,
		key:   key,
		mem:   mem,
		slots: unsafe.Slice((*slotRecord)(unsafe.Pointer(&mem[0])), n),
	}, nil
}

func (t *SharedSlots) Kind() ChannelKind { return SlotTable }

// Len is the number of slots, marker slot included.
func (t *SharedSlots) Len() int { return len(t.slots) }

// WriteMarker stores ReadyMarker in slot 0.
func (t *SharedSlots) WriteMarker() {
	t.put(0, 0, 0, ReadyMarker)
}

// ReadMarker returns the content of slot 0.
func (t *SharedSlots) ReadMarker() string {
	s := &t.slots[0]
	return string(s.payload[:s.length])
}

// Send stores f in the first empty data slot. It returns ErrWouldBlock when
// every data slot is full.
func (t *SharedSlots) Send(f Fragment) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.MType == 0 {
		return fmt.Errorf("%s: mtype 0 marks an empty slot", SlotTable)
	}
	for i := 1; i < len(t.slots); i++ {
		if t.slots[i].mtype == 0 {
			t.put(i, f.MType, f.PID, f.Payload)
			return nil
		}
	}
	return fmt.Errorf("%s: all %d slots full: %w", SlotTable, len(t.slots)-1, ErrWouldBlock)
}

// TryReceive takes the first full data slot and releases it.
func (t *SharedSlots) TryReceive() (*Fragment, error) {
	for i := 1; i < len(t.slots); i++ {
		s := &t.slots[i]
		if s.mtype == 0 {
			continue
		}
		if int(s.length) > MaxPayload {
			return nil, fmt.Errorf("%s: slot %d length %d: %w", SlotTable, i, s.length, ErrProtocol)
		}
		f := &Fragment{MType: s.mtype, PID: s.pid, Payload: string(s.payload[:s.length])}
		t.Release(i)
		return f, nil
	}
	return nil, nil
}

// Release marks slot i empty.
func (t *SharedSlots) Release(i int) {
	t.slots[i] = slotRecord{}
}

// Occupied counts the full data slots.
func (t *SharedSlots) Occupied() int {
	n := 0
	for i := 1; i < len(t.slots); i++ {
		if t.slots[i].mtype != 0 {
			n++
		}
	}
	return n
}

// the mtype is written last so a reader never sees a half-filled slot as full
func (t *SharedSlots) put(i int, mtype int64, pid int32, payload string) {
	s := &t.slots[i]
	s.pid = pid
	s.length = uint16(copy(s.payload[:], payload))
	s.mtype = mtype
}

// Close detaches the segment from this process.
func (t *SharedSlots) Close() error {
	if t.mem == nil {
		return nil
	}
	t.slots = nil
	mem := t.mem
	t.mem = nil
	if err := shmDetach(mem); err != nil {
		return fmt.Errorf("detach shared segment %s: %w", t.key, err)
	}
	return nil
}

// Remove marks the segment for destruction. It disappears once every
// process has detached.
func (t *SharedSlots) Remove() error {
	if err := shmRemove(t.id); err != nil {
		if errors.Is(err, unix.EIDRM) || errors.Is(err, unix.EINVAL) {
			return fmt.Errorf("remove shared segment %s: %w (%v)", t.key, ErrRemoved, err)
		}
		return fmt.Errorf("remove shared segment %s: %w", t.key, err)
	}
	return nil
}
