package fragmux

// FramePool recycles the fixed-size receive buffers used by the stream and
// queue channels, so the busy-poll loop does not allocate on every tick.
//
// It is a bounded free list built on a buffered channel; Get and Put never
// block and are safe for concurrent use.
type FramePool struct {
	free chan []byte
	size int
}

// NewFramePool creates a pool holding up to depth buffers of size bytes. The
// pool starts empty and fills as buffers are returned.
func NewFramePool(size, depth int) *FramePool {
	return &FramePool{
		free: make(chan []byte, depth),
		size: size,
	}
}

// Size is the length of every buffer handed out.
func (p *FramePool) Size() int { return p.size }

// Get returns a buffer of exactly Size bytes.
func (p *FramePool) Get() []byte {
	select {
	case buf := <-p.free:
		return buf[:p.size]
	default:
		return make([]byte, p.size)
	}
}

// Put hands a buffer back. Foreign buffers, and buffers arriving while the
// pool is full, are left to the garbage collector.
func (p *FramePool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	select {
	case p.free <- buf[:p.size]:
	default:
	}
}
