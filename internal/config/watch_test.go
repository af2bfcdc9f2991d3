package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsValidChangesAndIgnoresInvalid(t *testing.T) {
	// Given: a watched project config
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectFileName)
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  rrf_k: 10\n"), 0o644))

	var mu sync.Mutex
	var got []int
	w, err := NewWatcher([]string{path}, func() (*Config, error) { return Load(dir) }, func(c *Config) {
		mu.Lock()
		got = append(got, c.Retrieval.RRFK)
		mu.Unlock()
	})
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	defer func() {
		cancel()
		<-w.Done()
	}()

	seen := func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), got...)
	}

	// When: an invalid edit is saved
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  rrf_k: 0\n"), 0o644))
	time.Sleep(200 * time.Millisecond)

	// Then: nothing is delivered
	assert.Empty(t, seen())

	// When: a valid edit is saved
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  rrf_k: 25\n"), 0o644))

	// Then: the new value arrives
	require.Eventually(t, func() bool {
		s := seen()
		return len(s) > 0 && s[len(s)-1] == 25
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectFileName)

	calls := make(chan struct{}, 4)
	w, err := NewWatcher([]string{path}, func() (*Config, error) { return NewConfig(), nil }, func(*Config) {
		calls <- struct{}{}
	})
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	defer func() {
		cancel()
		<-w.Done()
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))

	select {
	case <-calls:
		t.Fatal("unexpected reload")
	case <-time.After(150 * time.Millisecond):
	}
}
