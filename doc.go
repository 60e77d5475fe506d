// Package fragmux moves files between a long-lived server and a client over
// four System V and POSIX IPC channels at once, coordinated by a single
// seven-counter System V semaphore set.
//
// # Channels
//
// Every item the client sends is cut into four fragments, one per channel:
//
//   - FIFOA and FIFOB: named pipes carrying length-prefixed msgpack frames
//     no larger than PIPE_BUF, so concurrent writers never interleave
//   - MsgQueue: a System V message queue
//   - SlotTable: a System V shared-memory segment of fixed-size slots
//
// All four satisfy the Channel interface. The server polls them in that
// order with non-blocking receives.
//
// # Semaphores
//
// The set holds, in order, SemAccess, SemChanA to SemChanD, SemClientDone
// and SemServerDone, and starts each session at InitialVector:
//
//	ACCESS  CHAN_A  CHAN_B  CHAN_C  CHAN_D  CLIENT_DONE  SERVER_DONE
//	   0       0       1       1       0         1            1
//
// Every blocking wait is issued as a series of bounded semtimedop calls so
// that a cancelled context is noticed promptly.
//
// # Session
//
// The server (see Server) creates every resource, the semaphore set last,
// and then loops:
//
//	reset → wait CHAN_A → read announcement → write READY, post CHAN_D×2
//	      → wait ACCESS×count → drain count×4 fragments
//	      → post SERVER_DONE → wait CLIENT_DONE×2
//
// The client (see Coordinator) waits for SIGINT, then:
//
//	scan dir → await idle server → announce on FIFO A, post CHAN_A
//	         → wait CHAN_D, check READY → post ACCESS×2·count
//	         → start one worker per item → reap all
//	         → wait SERVER_DONE×2 → post CLIENT_DONE
//
// Workers are separate processes (see WorkerPool and ExecLauncher). Each
// takes one ACCESS unit, then sends fragment k under channel k's
// semaphore.
//
// # Shutdown
//
// SIGINT or SIGTERM on the server cancels its context; it removes every
// resource and sends SIGUSR1 to the client. SIGUSR1 or SIGTERM on the client
// terminates its workers and releases its handles. A client that finds the
// resources gone treats it as a request to stop.
//
// # Example
//
//	cfg := fragmux.DefaultConfig()
//	srv, err := fragmux.NewServer(cfg, logger)
//	if err != nil {
//		return err
//	}
//	ctx, stop := fragmux.NotifyShutdown(context.Background())
//	defer stop()
//	return srv.Run(ctx)
package fragmux
