package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-worker/internal/common"
)

func TestAcquireLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "_locks")

	lock, err := AcquireLock(dir, "lidl", time.Hour, nil)
	require.NoError(t, err)
	assert.FileExists(t, lock.Path())

	body, err := os.ReadFile(lock.Path())
	require.NoError(t, err)
	assert.Contains(t, string(body), "pid=")

	_, err = AcquireLock(dir, "lidl", time.Hour, nil)
	assert.ErrorIs(t, err, common.ErrStoreLocked)

	other, err := AcquireLock(dir, "kaufland", time.Hour, nil)
	require.NoError(t, err)
	require.NoError(t, other.Release())

	require.NoError(t, lock.Release())
	assert.NoFileExists(t, lock.Path())

	again, err := AcquireLock(dir, "lidl", time.Hour, nil)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireLock_TakesOverStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lidl.lock")
	require.NoError(t, os.WriteFile(path, []byte("pid=1\n"), 0o644))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	lock, err := AcquireLock(dir, "lidl", 2*time.Hour, nil)
	require.NoError(t, err)
	defer lock.Release()

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "pid=1\n", string(body))
}

func TestAcquireLock_NoTakeoverWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lidl.lock")
	require.NoError(t, os.WriteFile(path, []byte("pid=1\n"), 0o644))
	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	_, err := AcquireLock(dir, "lidl", 0, nil)
	assert.ErrorIs(t, err, common.ErrStoreLocked)
}

func TestTakeOver_KeepsFreshLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lidl.lock")
	require.NoError(t, os.WriteFile(path, []byte("pid=1\n"), 0o644))
	stale, err := os.Stat(path)
	require.NoError(t, err)

	// another runner already replaced the stale lock with its own
	require.NoError(t, os.Rename(path, path+".old"))
	require.NoError(t, os.WriteFile(path, []byte("pid=2\n"), 0o644))

	err = takeOver(path, stale)
	assert.ErrorIs(t, err, common.ErrStoreLocked)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pid=2\n", string(body))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"lidl.lock", "lidl.lock.old"}, names)
}

func TestTakeOver_RemovesStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lidl.lock")
	require.NoError(t, os.WriteFile(path, []byte("pid=1\n"), 0o644))
	stale, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, takeOver(path, stale))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLock_KeepAlive(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "lidl", time.Hour, nil)
	require.NoError(t, err)
	defer lock.Release()

	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(lock.Path(), old, old))

	stop := lock.KeepAlive(context.Background(), 10*time.Millisecond, nil)
	assert.Eventually(t, func() bool {
		st, err := os.Stat(lock.Path())
		return err == nil && time.Since(st.ModTime()) < time.Hour
	}, 2*time.Second, 10*time.Millisecond)
	stop()
	stop()

	// a refreshed lock is not stale for the next runner
	_, err = AcquireLock(dir, "lidl", 2*time.Hour, nil)
	assert.ErrorIs(t, err, common.ErrStoreLocked)
}
