package fragmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestQueueRoundTrip(t *testing.T) {
	key := testKey(t)
	q, err := CreateQueue(key, 0o600)
	require.NoError(t, err)
	defer q.(*queueChannel).Remove()

	assert.Equal(t, MsgQueue, q.Kind())

	f, err := q.TryReceive()
	require.NoError(t, err)
	assert.Nil(t, f, "an empty queue is not an error")

	peer, err := OpenQueue(key)
	require.NoError(t, err)
	require.NoError(t, peer.Send(Fragment{MType: MsgQueue.MType(), PID: 77, Payload: "queued"}))
	require.NoError(t, peer.Send(Fragment{MType: MsgQueue.MType(), PID: 78, Payload: "second"}))

	f, err = q.TryReceive()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, Fragment{MType: MsgQueue.MType(), PID: 77, Payload: "queued"}, *f)

	f, err = q.TryReceive()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "second", f.Payload)
}

func TestQueueExclusiveCreate(t *testing.T) {
	key := testKey(t)
	q, err := CreateQueue(key, 0o600)
	require.NoError(t, err)
	defer q.(*queueChannel).Remove()

	_, err = CreateQueue(key, 0o600)
	assert.ErrorIs(t, err, unix.EEXIST)
}

func TestQueueRemoved(t *testing.T) {
	key := testKey(t)
	q, err := CreateQueue(key, 0o600)
	require.NoError(t, err)
	require.NoError(t, q.(*queueChannel).Remove())

	_, err = q.TryReceive()
	assert.ErrorIs(t, err, ErrRemoved)
	assert.ErrorIs(t, q.Send(Fragment{MType: 3}), ErrRemoved)

	_, err = OpenQueue(key)
	assert.ErrorIs(t, err, unix.ENOENT)
}
