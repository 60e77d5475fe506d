package fragmux

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// requireSysV skips the test where System V IPC is not wired up.
func requireSysV(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("System V IPC tests need linux")
	}
	id, err := semGet(int(unix.IPC_PRIVATE), 1, unix.IPC_CREAT|0o600)
	if errors.Is(err, ErrNotSupported) {
		t.Skip(err.Error())
	}
	require.NoError(t, err)
	_ = semRemove(id)
}

// testConfig returns a config whose key and FIFOs are private to the test.
// Anything left behind under that key is removed when the test ends.
func testConfig(t *testing.T) Config {
	t.Helper()
	requireSysV(t)

	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(keyFile, nil, 0o600))

	cfg := DefaultConfig()
	cfg.KeyPath = keyFile
	cfg.FIFODir = dir
	cfg.SlotCount = 4
	cfg.PollInterval = time.Millisecond
	cfg.WaitSlice = 20 * time.Millisecond
	cfg.DiscoveryBackoff = 50 * time.Millisecond

	key, err := cfg.Key()
	require.NoError(t, err)
	t.Cleanup(func() { removeIPC(key) })
	return cfg
}

func testKey(t *testing.T) Key {
	t.Helper()
	key, err := testConfig(t).Key()
	require.NoError(t, err)
	return key
}

func removeIPC(key Key) {
	if id, err := semGet(int(key), 0, 0); err == nil {
		_ = semRemove(id)
	}
	if id, err := msgGet(int(key), 0); err == nil {
		_ = msgRemove(id)
	}
	if id, err := shmGet(int(key), 0, 0); err == nil {
		_ = shmRemove(id)
	}
}

// writeTree creates files under dir from a path to content map.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}
