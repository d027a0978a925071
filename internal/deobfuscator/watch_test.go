package deobfuscator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherProcessesWrittenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	s := newTestSession(t, nil)

	w, err := NewWatcher(s, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *Report, 16)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, dir, func(path string, rep *Report) {
			if filepath.Base(path) == "a.php" {
				reports <- rep
			}
		})
	}()

	target := filepath.Join(dir, "sub", "a.php")
	var rep *Report
	require.Eventually(t, func() bool {
		_ = os.WriteFile(target, []byte(`<?php echo strrev('olleh');`), 0644)
		_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)
		select {
		case rep = <-reports:
			return true
		case <-time.After(250 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, `<?php echo 'hello';`, rep.TextAfter)
	assert.Equal(t, target, rep.Source)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancellation")
	}
}

func TestWatcherShouldProcessEvent(t *testing.T) {
	s := newTestSession(t, nil)
	w, err := NewWatcher(s, 0)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, DefaultDebounce, w.debounce)
	w.root = "a"

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write php", fsnotify.Event{Name: "a/index.php", Op: fsnotify.Write}, true},
		{"create inc", fsnotify.Event{Name: "a/lib.inc", Op: fsnotify.Create}, true},
		{"chmod only", fsnotify.Event{Name: "a/index.php", Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: "a/index.php", Op: fsnotify.Remove}, false},
		{"not php", fsnotify.Event{Name: "a/style.css", Op: fsnotify.Write}, false},
		{"skipped backup", fsnotify.Event{Name: "a/index.php.bak", Op: fsnotify.Write}, false},
		{"file under skipped directory", fsnotify.Event{Name: filepath.Join("a", "vendor", "x.php"), Op: fsnotify.Write}, false},
		{"nested under skipped directory", fsnotify.Event{Name: filepath.Join("a", "vendor", "pkg", "x.php"), Op: fsnotify.Write}, false},
		{"vendor name outside root prefix", fsnotify.Event{Name: filepath.Join("a", "lib", "vendor.php"), Op: fsnotify.Write}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.shouldProcessEvent(tt.event))
		})
	}
}

func TestWatcherMissingPath(t *testing.T) {
	s := newTestSession(t, nil)
	w, err := NewWatcher(s, 0)
	require.NoError(t, err)
	defer w.Close()

	err = w.Watch(context.Background(), filepath.Join(t.TempDir(), "missing"), func(string, *Report) {})
	assert.Error(t, err)
}
