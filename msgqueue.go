package fragmux

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// mtypeSize is the width of the long mtype that prefixes every msgbuf.
const mtypeSize = 8

// queueChannel is the System V message queue transport. Each message carries
// the fragment's channel mtype and a msgpack body.
type queueChannel struct {
	id         int
	key        Key
	serializer Serializer
	pool       *FramePool
}

// CreateQueue creates the message queue for key, failing if it exists.
func CreateQueue(key Key, perm int) (Channel, error) {
	id, err := msgGet(int(key), unix.IPC_CREAT|unix.IPC_EXCL|perm)
	if err != nil {
		return nil, fmt.Errorf("create message queue %s: %w", key, err)
	}
	return newQueue(id, key), nil
}

// OpenQueue attaches to the existing message queue for key.
func OpenQueue(key Key) (Channel, error) {
	id, err := msgGet(int(key), 0)
	if err != nil {
		return nil, fmt.Errorf("open message queue %s: %w", key, err)
	}
	return newQueue(id, key), nil
}

func newQueue(id int, key Key) *queueChannel {
	return &queueChannel{
		id:         id,
		key:        key,
		serializer: MsgpackSerializer{},
		pool:       NewFramePool(mtypeSize+pipeBuf, 2),
	}
}

func (q *queueChannel) Kind() ChannelKind { return MsgQueue }

func (q *queueChannel) Send(f Fragment) error {
	body, err := q.serializer.Marshal(f)
	if err != nil {
		return err
	}
	if len(body) > pipeBuf {
		return fmt.Errorf("%s: message of %d bytes exceeds %d", MsgQueue, len(body), pipeBuf)
	}
	if err := msgSnd(q.id, MsgQueue.MType(), body, 0); err != nil {
		return q.wrap("send", err)
	}
	return nil
}

func (q *queueChannel) TryReceive() (*Fragment, error) {
	buf := q.pool.Get()
	defer q.pool.Put(buf)

	_, body, err := msgRcv(q.id, buf, 0, unix.IPC_NOWAIT)
	if errors.Is(err, unix.ENOMSG) {
		return nil, nil
	}
	if err != nil {
		return nil, q.wrap("receive", err)
	}
	f, err := q.serializer.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MsgQueue, err)
	}
	return &f, nil
}

// Close is a no-op; a queue identifier holds no per-process state.
func (q *queueChannel) Close() error { return nil }

// Remove destroys the queue.
func (q *queueChannel) Remove() error {
	if err := msgRemove(q.id); err != nil {
		return q.wrap("remove", err)
	}
	return nil
}

func (q *queueChannel) wrap(what string, err error) error {
	if errors.Is(err, unix.EIDRM) || errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("%s %s: %w (%v)", MsgQueue, what, ErrRemoved, err)
	}
	return fmt.Errorf("%s %s: %w", MsgQueue, what, err)
}
