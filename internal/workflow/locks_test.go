package workflow

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockAcquireReleaseCycle(t *testing.T) {
	store, err := OpenLockStore(filepath.Join(t.TempDir(), "locks.db"), "inst-a")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	release, err := store.Acquire("alice", "assistant")
	require.NoError(t, err)

	_, err = store.Acquire("alice", "assistant")
	assert.ErrorIs(t, err, ErrWorkflowBusy)

	// A different workflow is independent.
	release2, err := store.Acquire("alice", "coding")
	require.NoError(t, err)
	release2()

	release()
	release3, err := store.Acquire("alice", "assistant")
	require.NoError(t, err)
	release3()
}

func TestClearStaleRemovesOtherInstancesLocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks.db")

	crashed, err := OpenLockStore(path, "inst-a")
	require.NoError(t, err)
	_, err = crashed.Acquire("alice", "assistant")
	require.NoError(t, err)
	// Simulated crash: the database closes without releasing.
	require.NoError(t, crashed.Close())

	store, err := OpenLockStore(path, "inst-b")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	cleared, err := store.ClearStale()
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	release, err := store.Acquire("alice", "assistant")
	require.NoError(t, err)
	release()
}

func TestClearStaleKeepsOwnLocks(t *testing.T) {
	store, err := OpenLockStore(filepath.Join(t.TempDir(), "locks.db"), "inst-a")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	release, err := store.Acquire("alice", "assistant")
	require.NoError(t, err)
	defer release()

	cleared, err := store.ClearStale()
	require.NoError(t, err)
	assert.Zero(t, cleared)

	_, err = store.Acquire("alice", "assistant")
	assert.ErrorIs(t, err, ErrWorkflowBusy)
}
