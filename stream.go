package fragmux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	// pipeBuf is PIPE_BUF on Linux: writes up to this size are atomic.
	pipeBuf = 4096

	// frameHeader is the big-endian length prefix of every stream frame.
	frameHeader = 4
)

// streamChannel is a named pipe carrying length-prefixed msgpack frames.
// Every frame fits in pipeBuf, so concurrent writers never interleave.
//
// The read side is opened non-blocking and accumulates bytes until a full
// frame is available; the write side blocks while the pipe is full.
type streamChannel struct {
	kind       ChannelKind
	path       string
	fd         int
	file       *os.File // keeps inherited descriptors alive
	serializer Serializer
	pool       *FramePool
	pending    []byte
}

// MakeFIFO creates a named pipe at path.
func MakeFIFO(path string) error {
	if err := unix.Mkfifo(path, 0o660); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// OpenStreamReader opens the read end of the FIFO at path without blocking.
func OpenStreamReader(kind ChannelKind, path string) (Channel, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for reading: %w", path, err)
	}
	return newStream(kind, path, fd, nil), nil
}

// OpenStreamWriter opens the write end of the FIFO at path. It blocks until
// a reader has the FIFO open.
func OpenStreamWriter(kind ChannelKind, path string) (Channel, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for writing: %w", path, err)
	}
	return newStream(kind, path, fd, nil), nil
}

// StreamFromFile wraps a descriptor inherited from a parent process.
func StreamFromFile(kind ChannelKind, f *os.File) Channel {
	return newStream(kind, f.Name(), int(f.Fd()), f)
}

func newStream(kind ChannelKind, path string, fd int, file *os.File) *streamChannel {
	return &streamChannel{
		kind:       kind,
		path:       path,
		fd:         fd,
		file:       file,
		serializer: MsgpackSerializer{},
		pool:       NewFramePool(pipeBuf, 2),
	}
}

func (c *streamChannel) Kind() ChannelKind { return c.kind }

// File exposes the descriptor as an *os.File so it can be handed to a child
// process. The returned file shares the descriptor; do not close it.
func (c *streamChannel) File() *os.File {
	if c.file == nil {
		c.file = os.NewFile(uintptr(c.fd), c.path)
	}
	return c.file
}

func (c *streamChannel) Send(f Fragment) error {
	body, err := c.serializer.Marshal(f)
	if err != nil {
		return err
	}
	if frameHeader+len(body) > pipeBuf {
		return fmt.Errorf("%s: frame of %d bytes exceeds %d", c.kind, frameHeader+len(body), pipeBuf)
	}
	frame := make([]byte, frameHeader+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeader:], body)

	for len(frame) > 0 {
		n, err := unix.Write(c.fd, frame)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: write: %w", c.kind, err)
		}
		frame = frame[n:]
	}
	return nil
}

func (c *streamChannel) TryReceive() (*Fragment, error) {
	if f, err := c.nextFrame(); f != nil || err != nil {
		return f, err
	}

	buf := c.pool.Get()
	defer c.pool.Put(buf)

	n, err := unix.Read(c.fd, buf)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: read: %w", c.kind, err)
	case n == 0:
		// no writer has the pipe open yet
		return nil, nil
	}
	c.pending = append(c.pending, buf[:n]...)
	return c.nextFrame()
}

// nextFrame pops one complete frame off the pending bytes, if there is one.
func (c *streamChannel) nextFrame() (*Fragment, error) {
	if len(c.pending) < frameHeader {
		return nil, nil
	}
	size := int(binary.BigEndian.Uint32(c.pending))
	if size > pipeBuf-frameHeader {
		return nil, fmt.Errorf("%s: frame length %d: %w", c.kind, size, ErrProtocol)
	}
	if len(c.pending) < frameHeader+size {
		return nil, nil
	}
	f, err := c.serializer.Unmarshal(c.pending[frameHeader : frameHeader+size])
	rest := copy(c.pending, c.pending[frameHeader+size:])
	c.pending = c.pending[:rest]
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.kind, err)
	}
	return &f, nil
}

func (c *streamChannel) Close() error {
	if c.fd < 0 {
		return nil
	}
	var err error
	if c.file != nil {
		err = c.file.Close()
	} else {
		err = unix.Close(c.fd)
	}
	c.fd = -1
	return err
}
