package fragmux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedSlotsMarker(t *testing.T) {
	key := testKey(t)
	table, err := CreateSharedSlots(key, 3, 0o600)
	require.NoError(t, err)
	defer table.Remove()
	defer table.Close()

	assert.Equal(t, "", table.ReadMarker())
	table.WriteMarker()

	peer, err := OpenSharedSlots(key)
	require.NoError(t, err)
	defer peer.Close()
	assert.Equal(t, ReadyMarker, peer.ReadMarker())
	assert.Equal(t, 3, peer.Len())

	// the marker slot never counts as a fragment
	f, err := peer.TryReceive()
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestSharedSlotsFillAndDrain(t *testing.T) {
	key := testKey(t)
	table, err := CreateSharedSlots(key, 3, 0o600)
	require.NoError(t, err)
	defer table.Remove()
	defer table.Close()

	writer, err := OpenSharedSlots(key)
	require.NoError(t, err)
	defer writer.Close()

	long := strings.Repeat("z", MaxPayload)
	require.NoError(t, writer.Send(Fragment{MType: 4, PID: 1, Payload: "one"}))
	require.NoError(t, writer.Send(Fragment{MType: 4, PID: 2, Payload: long}))
	assert.ErrorIs(t, writer.Send(Fragment{MType: 4, PID: 3, Payload: "three"}), ErrWouldBlock)
	assert.Equal(t, 2, table.Occupied())

	f, err := table.TryReceive()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, Fragment{MType: 4, PID: 1, Payload: "one"}, *f)
	assert.Equal(t, 1, writer.Occupied(), "receiving frees the slot")

	require.NoError(t, writer.Send(Fragment{MType: 4, PID: 3, Payload: "three"}))

	f, err = table.TryReceive()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "three", f.Payload, "first full slot wins")

	f, err = table.TryReceive()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, long, f.Payload)

	f, err = table.TryReceive()
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestSharedSlotsRejects(t *testing.T) {
	table, err := CreateSharedSlots(testKey(t), 2, 0o600)
	require.NoError(t, err)
	defer table.Remove()
	defer table.Close()

	assert.Error(t, table.Send(Fragment{MType: 0, Payload: "x"}))
	assert.Error(t, table.Send(Fragment{MType: 4, Payload: strings.Repeat("x", MaxPayload+1)}))

	_, err = CreateSharedSlots(testKey(t), 1, 0o600)
	assert.Error(t, err)
}

func TestSharedSlotsRelease(t *testing.T) {
	table, err := CreateSharedSlots(testKey(t), 2, 0o600)
	require.NoError(t, err)
	defer table.Remove()
	defer table.Close()

	require.NoError(t, table.Send(Fragment{MType: 4, Payload: "x"}))
	table.Release(1)
	assert.Zero(t, table.Occupied())
	assert.NoError(t, table.Close())
	assert.NoError(t, table.Close())
}
