package fragmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Worker sends the fragments of a single item and exits.
type Worker struct {
	Task   Task
	Policy FragmentPolicy

	res *Resources
	log *zap.Logger
}

// WorkerMain is the body of a worker process: it decodes the task from r,
// picks up the inherited stream descriptors named by EnvStreamFDs and runs
// the worker. A server that disappears mid-session is not an error.
func WorkerMain(ctx context.Context, r io.Reader, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	var task Task
	if err := msgpack.NewDecoder(r).Decode(&task); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	streams, err := inheritedStreams(os.Getenv(EnvStreamFDs))
	if err != nil {
		return err
	}

	res, err := AttachResources(ctx, task.Config, log)
	if err != nil {
		return err
	}
	res.Streams = streams
	defer res.Release()

	w := &Worker{Task: task, Policy: SplitQuarters, res: res, log: log.With(zap.Int("pid", os.Getpid()))}
	err = w.Run(ctx)
	if isTermination(ctx, err) {
		return nil
	}
	return err
}

func inheritedStreams(list string) ([2]Channel, error) {
	var out [2]Channel
	fds := strings.Split(list, ",")
	if len(fds) != len(out) {
		return out, fmt.Errorf("%s=%q: want %d descriptors", EnvStreamFDs, list, len(out))
	}
	for i, s := range fds {
		fd, err := strconv.Atoi(s)
		if err != nil {
			return out, fmt.Errorf("%s=%q: %w", EnvStreamFDs, list, err)
		}
		kind := ChannelKind(i)
		out[i] = StreamFromFile(kind, os.NewFile(uintptr(fd), kind.String()))
	}
	return out, nil
}

// Run claims one unit of the session allowance, then sends fragment k of
// the item on channel k, holding the channel's semaphore for each send.
func (w *Worker) Run(ctx context.Context) error {
	sem := w.res.Sem
	if err := sem.Wait(ctx, SemAccess, 1); err != nil {
		return err
	}
	// checkpoint only: the allowance may legitimately be non-zero here
	if zero, err := sem.TryWait(SemAccess, 0); err != nil {
		return err
	} else if zero {
		w.log.Debug("last worker past the gate")
	}

	content, err := os.ReadFile(filepath.Join(w.Task.Root, w.Task.Item))
	if err != nil {
		return fmt.Errorf("read item: %w", err)
	}
	frags := w.Policy(os.Getpid(), content)

	chans := w.res.Channels()
	for k, ch := range chans {
		if err := w.send(ctx, ChannelKind(k), ch, frags[k]); err != nil {
			return err
		}
	}
	w.log.Debug("item sent", zap.String("item", w.Task.Item), zap.Int("bytes", len(content)))
	return nil
}

func (w *Worker) send(ctx context.Context, kind ChannelKind, ch Channel, f Fragment) error {
	sem := w.res.Sem
	if kind != SlotTable {
		if err := sem.Wait(ctx, kind.Semaphore(), 1); err != nil {
			return err
		}
		return ch.Send(f)
	}

	for {
		if err := sem.Wait(ctx, SemChanD, 1); err != nil {
			return err
		}
		err := ch.Send(f)
		if sigErr := sem.Signal(SemChanD, 1); sigErr != nil {
			return sigErr
		}
		if !errors.Is(err, ErrWouldBlock) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.Task.Config.PollInterval):
		}
	}
}
