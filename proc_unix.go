//go:build !windows
// +build !windows

package fragmux

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// setSignalsForEvents routes the client's wake and terminate signals to c.
func setSignalsForEvents(c chan os.Signal) {
	signal.Notify(c, os.Interrupt, syscall.SIGUSR1, syscall.SIGTERM)
}

// setSignalsForServer routes the server's termination signals to c.
func setSignalsForServer(c chan os.Signal) {
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
}

// waitForExit waits for a worker to exit and returns an appropriate error.
func waitForExit(cmd *exec.Cmd) error {
	err := cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
			// The worker was killed by a signal
			return fmt.Errorf("worker %d killed: %s", cmd.Process.Pid, exitErr.ProcessState)
		}
		return fmt.Errorf("worker %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// setExtraFiles attaches extra files to the command and returns their FD numbers.
// On Unix, extra files start at FD 3 (after stdin=0, stdout=1, stderr=2).
func setExtraFiles(cmd *exec.Cmd, extraFiles []*os.File) []string {
	cmd.ExtraFiles = extraFiles
	retv := make([]string, len(extraFiles))

	// stdio file descriptors are 0, 1, 2
	// extra file descriptors are 3, 4, 5, ...
	for i := range extraFiles {
		retv[i] = fmt.Sprintf("%d", i+3)
	}
	return retv
}
