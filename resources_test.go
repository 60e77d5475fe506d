package fragmux

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCreateResources(t *testing.T) {
	cfg := testConfig(t)
	res, err := CreateResources(cfg, nil)
	require.NoError(t, err)
	defer res.Destroy()

	values, err := res.Sem.Values()
	require.NoError(t, err)
	assert.Equal(t, InitialVector[:], values)
	assert.Equal(t, cfg.SlotCount, res.Slots.Len())

	for _, kind := range []ChannelKind{FIFOA, FIFOB} {
		info, err := os.Stat(cfg.FIFOPath(kind))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&os.ModeNamedPipe)
	}

	for k, ch := range res.Channels() {
		require.NotNil(t, ch)
		assert.Equal(t, ChannelKind(k), ch.Kind())
	}

	_, err = CreateResources(cfg, nil)
	assert.ErrorIs(t, err, unix.EEXIST, "a second server must not start")
	for _, kind := range []ChannelKind{FIFOA, FIFOB} {
		_, err := os.Stat(cfg.FIFOPath(kind))
		assert.NoError(t, err, "a failed start leaves the running server's FIFOs alone")
	}
}

func TestDestroyAllowsRecreate(t *testing.T) {
	cfg := testConfig(t)
	res, err := CreateResources(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, res.Destroy())
	require.NoError(t, res.Destroy(), "destroy is idempotent")

	key, err := cfg.Key()
	require.NoError(t, err)
	_, err = OpenSemaphoreSet(key)
	assert.ErrorIs(t, err, unix.ENOENT)
	_, err = os.Stat(cfg.FIFOPath(FIFOA))
	assert.ErrorIs(t, err, os.ErrNotExist)

	again, err := CreateResources(cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, again.Destroy())
}

func TestCreateResourcesReplacesStaleFIFO(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, MakeFIFO(cfg.FIFOPath(FIFOA)))

	res, err := CreateResources(cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, res.Destroy())
}

func TestAttachResourcesWaitsForServer(t *testing.T) {
	cfg := testConfig(t)

	created := make(chan *Resources, 1)
	go func() {
		time.Sleep(3 * cfg.DiscoveryBackoff)
		res, err := CreateResources(cfg, nil)
		if err != nil {
			t.Error(err)
		}
		created <- res
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := AttachResources(ctx, cfg, nil)
	require.NoError(t, err)

	server := <-created
	require.NotNil(t, server)
	defer server.Destroy()

	assert.Equal(t, server.Sem.ID(), client.Sem.ID())
	require.NoError(t, client.OpenStreams())
	require.NoError(t, client.Streams[0].Send(NewAnnouncement(2, 1)))

	f, err := server.Streams[0].TryReceive()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, MTypeAnnounce, f.MType)
	assert.Len(t, client.StreamFiles(), 2)

	assert.NoError(t, client.Release())
	assert.NoError(t, client.Destroy(), "a non-owner never removes anything")
	_, err = OpenSemaphoreSet(server.Sem.key)
	assert.NoError(t, err)
}

func TestAttachResourcesCancelled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.DiscoveryBackoff)
	defer cancel()

	_, err := AttachResources(ctx, cfg, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
