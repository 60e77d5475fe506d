package fragmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const resourcePerm = 0o660

// Resources bundles every IPC object of one side of the protocol. The
// server owns them and destroys them on shutdown; clients and workers only
// release their handles.
type Resources struct {
	Sem     *SemaphoreSet
	Streams [2]Channel
	queue   *queueChannel
	Slots   *SharedSlots

	cfg       Config
	fifos     []string
	owner     bool
	destroyed bool
	log       *zap.Logger
}

// CreateResources creates the FIFOs, the message queue, the slot table and,
// last, the semaphore set. The existence of the set therefore implies that
// everything else is in place. Anything created before a failure is removed
// again.
func CreateResources(cfg Config, log *zap.Logger) (res *Resources, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	if _, err := OpenSemaphoreSet(key); err == nil {
		return nil, fmt.Errorf("resources for key %s already exist: %w", key, unix.EEXIST)
	}

	res = &Resources{cfg: cfg, owner: true, log: log}
	defer func() {
		if err != nil {
			_ = res.Destroy()
			res = nil
		}
	}()

	for i, kind := range []ChannelKind{FIFOA, FIFOB} {
		path := cfg.FIFOPath(kind)
		if err := removeStaleFIFO(path); err != nil {
			return res, err
		}
		if err := MakeFIFO(path); err != nil {
			return res, err
		}
		res.fifos = append(res.fifos, path)
		if res.Streams[i], err = OpenStreamReader(kind, path); err != nil {
			return res, err
		}
	}

	q, err := CreateQueue(key, resourcePerm)
	if err != nil {
		return res, err
	}
	res.queue = q.(*queueChannel)

	if res.Slots, err = CreateSharedSlots(key, cfg.SlotCount, resourcePerm); err != nil {
		return res, err
	}

	if res.Sem, err = CreateSemaphoreSet(key, resourcePerm); err != nil {
		return res, err
	}
	res.Sem.SetWaitSlice(cfg.WaitSlice)

	log.Info("IPC resources created",
		zap.Stringer("key", key),
		zap.Int("semid", res.Sem.ID()),
		zap.Int("slots", res.Slots.Len()))
	return res, nil
}

// AttachResources locates the semaphore set, retrying every
// cfg.DiscoveryBackoff while it does not exist, then opens the message queue
// and the slot table. Streams are left nil; see OpenStreams.
func AttachResources(ctx context.Context, cfg Config, log *zap.Logger) (*Resources, error) {
	if log == nil {
		log = zap.NewNop()
	}
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}

	var sem *SemaphoreSet
	for {
		sem, err = OpenSemaphoreSet(key)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.ENOENT) {
			return nil, err
		}
		log.Info("server not found, retrying", zap.Stringer("key", key), zap.Duration("backoff", cfg.DiscoveryBackoff))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.DiscoveryBackoff):
		}
	}
	sem.SetWaitSlice(cfg.WaitSlice)

	res := &Resources{Sem: sem, cfg: cfg, log: log}
	q, err := OpenQueue(key)
	if err != nil {
		return nil, err
	}
	res.queue = q.(*queueChannel)
	if res.Slots, err = OpenSharedSlots(key); err != nil {
		return nil, err
	}
	return res, nil
}

// OpenStreams opens the write ends of both FIFOs.
func (r *Resources) OpenStreams() error {
	for i, kind := range []ChannelKind{FIFOA, FIFOB} {
		if r.Streams[i] != nil {
			continue
		}
		ch, err := OpenStreamWriter(kind, r.cfg.FIFOPath(kind))
		if err != nil {
			return err
		}
		r.Streams[i] = ch
	}
	return nil
}

// StreamFiles returns the stream descriptors for handing to a worker.
func (r *Resources) StreamFiles() []*os.File {
	files := make([]*os.File, 0, len(r.Streams))
	for _, s := range r.Streams {
		if sc, ok := s.(*streamChannel); ok {
			files = append(files, sc.File())
		}
	}
	return files
}

// Channels returns the four transports in polling order.
func (r *Resources) Channels() [NumChannels]Channel {
	return [NumChannels]Channel{r.Streams[0], r.Streams[1], r.queue, r.Slots}
}

// Release closes this process's handles without destroying anything.
func (r *Resources) Release() error {
	var err error
	for i, s := range r.Streams {
		if s != nil {
			err = multierr.Append(err, s.Close())
			r.Streams[i] = nil
		}
	}
	if r.Slots != nil {
		err = multierr.Append(err, r.Slots.Close())
	}
	return err
}

// Destroy releases the handles and removes every resource. It may be called
// more than once; resources that are already gone are not an error.
func (r *Resources) Destroy() error {
	err := r.Release()
	if !r.owner || r.destroyed {
		return err
	}
	r.destroyed = true

	if r.Sem != nil {
		err = multierr.Append(err, ignoreGone(r.Sem.Remove()))
	}
	if r.queue != nil {
		err = multierr.Append(err, ignoreGone(r.queue.Remove()))
	}
	if r.Slots != nil {
		err = multierr.Append(err, ignoreGone(r.Slots.Remove()))
	}
	for _, path := range r.fifos {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, rmErr)
		}
	}
	r.log.Info("IPC resources removed")
	return err
}

func ignoreGone(err error) error {
	if errors.Is(err, ErrRemoved) || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

// removeStaleFIFO deletes a named pipe left by a previous server. Any other
// kind of file at path is left alone and reported.
func removeStaleFIFO(path string) error {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("%s exists and is not a fifo", path)
	}
	return os.Remove(path)
}
