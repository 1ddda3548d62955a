package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
)

type recordingClearer struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingClearer) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *recordingClearer) cleared() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestKeyForEvent(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		key   string
		ok    bool
	}{
		{"write", fsnotify.Event{Name: "/d/SDG_1_1.csv", Op: fsnotify.Write}, "SDG_1_1", true},
		{"create", fsnotify.Event{Name: "/d/a.csv", Op: fsnotify.Create}, "a", true},
		{"remove", fsnotify.Event{Name: "/d/a.csv", Op: fsnotify.Remove}, "a", true},
		{"rename", fsnotify.Event{Name: "/d/a.csv", Op: fsnotify.Rename}, "a", true},
		{"escaped key", fsnotify.Event{Name: "/d/" + cache.SafeToken("a/b") + ".csv", Op: fsnotify.Write}, "a/b", true},
		{"chmod only", fsnotify.Event{Name: "/d/a.csv", Op: fsnotify.Chmod}, "", false},
		{"not csv", fsnotify.Event{Name: "/d/a.txt", Op: fsnotify.Write}, "", false},
		{"editor temp", fsnotify.Event{Name: "/d/a.csv~", Op: fsnotify.Write}, "", false},
		{"bad token", fsnotify.Event{Name: "/d/a b.csv", Op: fsnotify.Write}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := keyForEvent(tt.event)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), &recordingClearer{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigLoad))
}

func TestSourceWatcher_ClearsChangedKeys(t *testing.T) {
	dir := t.TempDir()
	clearer := &recordingClearer{}

	w, err := New(dir, clearer, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "SDG_1_1.csv"), []byte("year,value\n2020,1\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	assert.Eventually(t, func() bool {
		for _, k := range clearer.cleared() {
			if k == "SDG_1_1" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}

	for _, k := range clearer.cleared() {
		assert.Equal(t, "SDG_1_1", k)
	}
}

func TestSourceWatcher_ClearsManagerEntry(t *testing.T) {
	dir := t.TempDir()
	mgr, err := cache.NewManager(cache.Config{Directory: filepath.Join(t.TempDir(), "cache"), DiskTTL: time.Hour})
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	loader := func(ctx context.Context, key string) (*dataset.Table, error) {
		return &dataset.Table{Key: key, Columns: []string{"value"}, Rows: [][]string{{"1"}}}, nil
	}
	_, err = mgr.GetOrLoad(context.Background(), "SDG_2_1", loader)
	require.NoError(t, err)

	w, err := New(dir, mgr, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "SDG_2_1.csv"), []byte("value\n2\n"), 0600))

	assert.Eventually(t, func() bool {
		_, ok := mgr.Get("SDG_2_1")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
