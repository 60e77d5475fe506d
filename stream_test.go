package fragmux

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openTestStream(t *testing.T) (reader, writer *streamChannel) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fifo")
	require.NoError(t, MakeFIFO(path))

	r, err := OpenStreamReader(FIFOB, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	w, err := OpenStreamWriter(FIFOB, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return r.(*streamChannel), w.(*streamChannel)
}

func TestStreamEmptyIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fifo")
	require.NoError(t, MakeFIFO(path))
	r, err := OpenStreamReader(FIFOA, path)
	require.NoError(t, err)
	defer r.Close()

	// no writer attached yet
	f, err := r.TryReceive()
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestStreamRoundTrip(t *testing.T) {
	r, w := openTestStream(t)

	f, err := r.TryReceive()
	require.NoError(t, err)
	assert.Nil(t, f)

	sent := []Fragment{
		{MType: 2, PID: 10, Payload: "first"},
		{MType: 2, PID: 11, Payload: ""},
		{MType: 2, PID: 12, Payload: string(make([]byte, MaxPayload))},
	}
	for _, f := range sent {
		require.NoError(t, w.Send(f))
	}

	// several frames may arrive in one read; each call yields exactly one
	for _, want := range sent {
		got, err := r.TryReceive()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, *got)
	}
	f, err = r.TryReceive()
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestStreamPartialFrame(t *testing.T) {
	r, w := openTestStream(t)

	body, err := MsgpackSerializer{}.Marshal(Fragment{MType: 2, PID: 5, Payload: "split"})
	require.NoError(t, err)
	frame := make([]byte, frameHeader+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeader:], body)

	_, err = unix.Write(w.fd, frame[:3])
	require.NoError(t, err)
	f, err := r.TryReceive()
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = unix.Write(w.fd, frame[3:])
	require.NoError(t, err)
	f, err = r.TryReceive()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "split", f.Payload)
}

func TestStreamCorruptLength(t *testing.T) {
	r, w := openTestStream(t)

	_, err := unix.Write(w.fd, []byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	_, err = r.TryReceive()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	r, w := openTestStream(t)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.NoError(t, r.Close())
}
