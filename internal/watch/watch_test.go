package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBurstOfWritesFiresOnce(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var batches [][]string
	w := &Watcher{
		Dirs:     []string{dir, dir},
		Ext:      ".wv",
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) {
			mu.Lock()
			batches = append(batches, changed)
			mu.Unlock()
		},
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	// let the watch register
	time.Sleep(50 * time.Millisecond)

	src := filepath.Join(dir, "main.wv")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(src, []byte("x = 1\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]string{{src}}, batches)
}

func TestMissingDirectory(t *testing.T) {
	w := &Watcher{Dirs: []string{filepath.Join(t.TempDir(), "absent")}, OnChange: func(context.Context, []string) {}}
	assert.Error(t, w.Run(context.Background()))
}
