package fragmux

import "errors"

var (
	// ErrWouldBlock is returned when an operation could not complete without
	// suspending the caller, e.g. a send into a full slot table.
	ErrWouldBlock = errors.New("operation would block")

	// ErrRemoved is returned when an IPC resource was removed while in use.
	// For the client this means the server has torn everything down.
	ErrRemoved = errors.New("ipc resource removed")

	// ErrProtocol marks a handshake desynchronization (missing or corrupted
	// marker, malformed announcement). Semaphore counts can no longer be
	// trusted after it, so callers must terminate.
	ErrProtocol = errors.New("protocol desynchronization")

	// ErrSpawn is returned when a worker could not be started or reaped.
	ErrSpawn = errors.New("worker spawn failed")

	// ErrNotSupported is returned by System V IPC calls on platforms where
	// they are not wired up.
	ErrNotSupported = errors.New("System V IPC is not supported on this platform")
)
