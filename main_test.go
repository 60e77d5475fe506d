package fragmux

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

// envTestWorker turns the test binary into a worker process. "1" runs the
// real worker, "stall" hangs until killed and "fail" exits non-zero.
const envTestWorker = "FRAGMUX_WORKER"

func TestMain(m *testing.M) {
	switch os.Getenv(envTestWorker) {
	case "1":
		if err := WorkerMain(context.Background(), os.Stdin, nil); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	case "stall":
		time.Sleep(time.Minute)
		os.Exit(0)
	case "fail":
		os.Exit(3)
	}

	// a stopping server sends SIGUSR1 to its client, which in these tests is
	// this very process
	signal.Notify(make(chan os.Signal, 1), syscall.SIGUSR1)
	os.Exit(m.Run())
}
