package fragmux

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Key is a System V IPC key. Server and client locate every shared
// resource (semaphore set, message queue, shared segment) by the same Key.
type Key int

// Ftok derives a Key from an existing file and a one-byte project id, using
// the same bit layout as ftok(3): the low 16 bits of the inode, the low 8
// bits of the device and the project id in the top byte.
func Ftok(path string, projectID byte) (Key, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("ftok %s: %w", path, err)
	}
	k := uint32(uint64(st.Ino)&0xffff) |
		uint32(uint64(st.Dev)&0xff)<<16 |
		uint32(projectID)<<24
	return Key(int32(k)), nil
}

// String formats the key the way ipcs(1) prints it.
func (k Key) String() string {
	return fmt.Sprintf("0x%08x", uint32(k))
}
