package fragmux

import (
	"fmt"
	"math"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxPayload bounds Fragment.Payload in bytes.
const MaxPayload = 1024

// MTypeAnnounce tags the session announcement written on FIFO A. Data
// fragments use ChannelKind.MType, which is always positive.
const MTypeAnnounce int64 = -1

// MaxAnnouncedItems bounds a session's item count. SemAccess receives twice
// the count in a single int16 delta.
const MaxAnnouncedItems = math.MaxInt16 / 2

// Fragment is one unit of transmitted data. It is immutable once sent.
type Fragment struct {
	MType   int64  `msgpack:"t"`
	PID     int32  `msgpack:"p"`
	Payload string `msgpack:"m"`
}

// Validate checks the payload bound.
func (f Fragment) Validate() error {
	if len(f.Payload) > MaxPayload {
		return fmt.Errorf("fragment payload of %d bytes exceeds %d", len(f.Payload), MaxPayload)
	}
	return nil
}

// Serializer converts fragments to and from their wire form.
type Serializer interface {
	Marshal(f Fragment) ([]byte, error)
	Unmarshal(data []byte) (Fragment, error)
}

// MsgpackSerializer is the Serializer used on every byte-oriented channel.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Marshal(f Fragment) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(&f)
}

func (MsgpackSerializer) Unmarshal(data []byte) (Fragment, error) {
	var f Fragment
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Fragment{}, fmt.Errorf("decode fragment: %w", err)
	}
	return f, nil
}

// NewAnnouncement builds the fragment the client writes on FIFO A to open a
// session of count items.
func NewAnnouncement(count int, pid int) Fragment {
	return Fragment{MType: MTypeAnnounce, PID: int32(pid), Payload: strconv.Itoa(count)}
}

// ParseAnnouncement extracts the item count and client pid. Anything other
// than a well-formed announcement is a protocol error.
func ParseAnnouncement(f *Fragment) (count int, pid int, err error) {
	if f == nil {
		return 0, 0, fmt.Errorf("announcement missing: %w", ErrProtocol)
	}
	if f.MType != MTypeAnnounce {
		return 0, 0, fmt.Errorf("expected announcement, got mtype %d: %w", f.MType, ErrProtocol)
	}
	count, err = strconv.Atoi(f.Payload)
	if err != nil || count < 0 || count > MaxAnnouncedItems {
		return 0, 0, fmt.Errorf("bad item count %q: %w", f.Payload, ErrProtocol)
	}
	return count, int(f.PID), nil
}

// FragmentPolicy turns one item's content into the fragments a worker
// sends, one per channel kind, indexed by ChannelKind.
type FragmentPolicy func(pid int, content []byte) [NumChannels]Fragment

// SplitQuarters is the default FragmentPolicy. It cuts the content into four
// consecutive parts of near-equal size, the first parts absorbing the
// remainder, so that concatenating the payloads in channel order gives the
// content back. Content beyond NumChannels*MaxPayload bytes is dropped.
func SplitQuarters(pid int, content []byte) [NumChannels]Fragment {
	if len(content) > NumChannels*MaxPayload {
		content = content[:NumChannels*MaxPayload]
	}
	var out [NumChannels]Fragment
	size := (len(content) + NumChannels - 1) / NumChannels
	start := 0
	for k := 0; k < NumChannels; k++ {
		end := min(start+size, len(content))
		out[k] = Fragment{
			MType:   ChannelKind(k).MType(),
			PID:     int32(pid),
			Payload: string(content[start:end]),
		}
		start = end
	}
	return out
}
