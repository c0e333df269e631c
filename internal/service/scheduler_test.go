package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunCleanup(t *testing.T) {
	store := newFakeStore()
	s := NewScheduler(store, "", 30, 24, testLogger())

	s.runCleanup(context.Background())

	assert.Equal(t, 1, store.cleanupCalls)
	assert.Equal(t, 30, store.lastRetention)
}

func TestSchedulerSweepsOrphanedMedia(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "voice-stale.ogg")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0600))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(dir, "voice-fresh.ogg")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0600))

	s := NewScheduler(newFakeStore(), dir, 30, 24, testLogger())
	s.sweepOrphanedMedia()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestSchedulerSweepSkipsWhenNoMediaDir(t *testing.T) {
	s := NewScheduler(newFakeStore(), "", 30, 24, testLogger())
	s.sweepOrphanedMedia()
}

func TestSchedulerStop(t *testing.T) {
	store := newFakeStore()
	s := NewScheduler(store, "", 30, 24, testLogger())

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.GreaterOrEqual(t, store.cleanupCalls, 1)
}
