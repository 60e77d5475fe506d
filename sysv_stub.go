//go:build unix && !(linux && (amd64 || arm64))

package fragmux

import "golang.org/x/sys/unix"

// semBuf mirrors struct sembuf.
type semBuf struct {
	num uint16
	op  int16
	flg int16
}

// The System V calls below are only wired for linux/amd64 and linux/arm64.
// Everything else gets ErrNotSupported so the package still builds.

func semGet(key, nsems, flags int) (int, error) { return -1, ErrNotSupported }

func semTimedOp(id int, ops []semBuf, timeout *unix.Timespec) error { return ErrNotSupported }

func semSetAll(id int, values []uint16) error { return ErrNotSupported }

func semGetAll(id int, n int) ([]uint16, error) { return nil, ErrNotSupported }

func semRemove(id int) error { return ErrNotSupported }

func msgGet(key, flags int) (int, error) { return -1, ErrNotSupported }

func msgSnd(id int, mtype int64, body []byte, flags int) error { return ErrNotSupported }

func msgRcv(id int, buf []byte, mtype int64, flags int) (int64, []byte, error) {
	return 0, nil, ErrNotSupported
}

func msgRemove(id int) error { return ErrNotSupported }

func shmGet(key, size, flags int) (int, error) { return -1, ErrNotSupported }

func shmAttach(id int) ([]byte, error) { return nil, ErrNotSupported }

func shmDetach(mem []byte) error { return ErrNotSupported }

func shmRemove(id int) error { return ErrNotSupported }
