package fragmux

import "fmt"

// ChannelKind identifies one of the four transports a session multiplexes.
// The numeric order is the server's fixed polling order.
type ChannelKind int

const (
	// FIFOA is the first named pipe. It also carries the session announcement.
	FIFOA ChannelKind = iota
	// FIFOB is the second named pipe.
	FIFOB
	// MsgQueue is the System V message queue.
	MsgQueue
	// SlotTable is the System V shared-memory slot table.
	SlotTable

	// NumChannels is the number of channel kinds.
	NumChannels = 4
)

var channelNames = [NumChannels]string{"fifo_a", "fifo_b", "msg_queue", "slot_table"}

func (k ChannelKind) String() string {
	if k >= 0 && int(k) < NumChannels {
		return channelNames[k]
	}
	return fmt.Sprintf("channel(%d)", int(k))
}

// Semaphore returns the slot gating this channel.
func (k ChannelKind) Semaphore() Slot {
	return SemChanA + Slot(k)
}

// MType is the message type data fragments carry on this channel. It is
// positive, as the message queue requires, and non-zero, which is how the
// slot table marks a slot as full.
func (k ChannelKind) MType() int64 {
	return int64(k) + 1
}

// Channel is the uniform view of a transport endpoint. Every kind offers a
// non-blocking receive and a send that completes or reports ErrWouldBlock.
//
// A Channel is used by a single goroutine. Cross-process exclusion is the
// caller's job: acquire the kind's semaphore before Send, release it after
// exactly one successful TryReceive.
type Channel interface {
	// Kind reports which transport this is.
	Kind() ChannelKind

	// Send transmits one fragment. Stream kinds block while the pipe is full.
	Send(f Fragment) error

	// TryReceive returns the next pending fragment, or nil with a nil error
	// when nothing is pending. Absence of a message is never an error.
	TryReceive() (*Fragment, error)

	// Close releases this process's handle. It does not destroy the
	// underlying resource.
	Close() error
}
