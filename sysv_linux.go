//go:build linux && (amd64 || arm64)

package fragmux

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

// semctl commands from <linux/sem.h>; x/sys does not export them.
const (
	semGETALL = 13
	semSETALL = 17
)

// semBuf mirrors struct sembuf.
type semBuf struct {
	num uint16
	op  int16
	flg int16
}

func semGet(key, nsems, flags int) (int, error) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(nsems), uintptr(flags))
	if errno != 0 {
		return -1, errno
	}
	return int(id), nil
}

// semTimedOp applies ops atomically. A nil timeout blocks indefinitely.
func semTimedOp(id int, ops []semBuf, timeout *unix.Timespec) error {
	if len(ops) == 0 {
		return nil
	}
	for {
		_, _, errno := unix.Syscall6(unix.SYS_SEMTIMEDOP,
			uintptr(id),
			uintptr(unsafe.Pointer(&ops[0])),
			uintptr(len(ops)),
			uintptr(unsafe.Pointer(timeout)),
			0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

func semSetAll(id int, values []uint16) error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL,
		uintptr(id), 0, semSETALL, uintptr(unsafe.Pointer(&values[0])), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func semGetAll(id int, n int) ([]uint16, error) {
	values := make([]uint16, n)
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL,
		uintptr(id), 0, semGETALL, uintptr(unsafe.Pointer(&values[0])), 0, 0)
	if errno != 0 {
		return nil, errno
	}
	return values, nil
}

func semRemove(id int) error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), 0, unix.IPC_RMID, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func msgGet(key, flags int) (int, error) {
	id, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(key), uintptr(flags), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(id), nil
}

func msgSnd(id int, mtype int64, body []byte, flags int) error {
	buf := make([]byte, mtypeSize+len(body))
	binary.NativeEndian.PutUint64(buf, uint64(mtype))
	copy(buf[mtypeSize:], body)
	for {
		_, _, errno := unix.Syscall6(unix.SYS_MSGSND,
			uintptr(id), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(body)), uintptr(flags), 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

// msgRcv receives into buf, which must be larger than mtypeSize. The body
// returned aliases buf.
func msgRcv(id int, buf []byte, mtype int64, flags int) (int64, []byte, error) {
	for {
		n, _, errno := unix.Syscall6(unix.SYS_MSGRCV,
			uintptr(id), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)-mtypeSize),
			uintptr(mtype), uintptr(flags), 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return 0, nil, errno
		}
		got := int64(binary.NativeEndian.Uint64(buf))
		return got, buf[mtypeSize : mtypeSize+int(n)], nil
	}
}

func msgRemove(id int) error {
	_, _, errno := unix.Syscall(unix.SYS_MSGCTL, uintptr(id), unix.IPC_RMID, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func shmGet(key, size, flags int) (int, error) {
	return unix.SysvShmGet(key, size, flags)
}

func shmAttach(id int) ([]byte, error) {
	return unix.SysvShmAttach(id, 0, 0)
}

func shmDetach(mem []byte) error {
	return unix.SysvShmDetach(mem)
}

func shmRemove(id int) error {
	_, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	return err
}
