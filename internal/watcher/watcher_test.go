package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) onChange(paths []string) {
	r.mu.Lock()
	r.calls = append(r.calls, paths)
	r.mu.Unlock()
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func TestWatcher_DebouncesMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New(dir, []string{".json"}, rec.onChange, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for _, name := range []string{"1.json", "2.json", "notes.txt"} {
		if err := writeFile(filepath.Join(dir, name), "[1, 0]"); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(500 * time.Millisecond)

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected one debounced callback, got %v", calls)
	}
	if len(calls[0]) != 2 || filepath.Base(calls[0][0]) != "1.json" || filepath.Base(calls[0][1]) != "2.json" {
		t.Errorf("changed paths = %v", calls[0])
	}

	if err := os.Remove(filepath.Join(dir, "1.json")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	calls = rec.snapshot()
	if len(calls) != 2 || filepath.Base(calls[1][0]) != "1.json" {
		t.Errorf("expected removal callback, got %v", calls)
	}
}

func TestWatcher_IgnoresSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := New(dir, []string{".json"}, rec.onChange, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(filepath.Join(sub, "deep.json"), "[1]"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("nested file should not trigger a callback: %v", calls)
	}
}

func TestWatcher_StartCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs", "points")
	w := New(dir, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory should exist after Start: %v", err)
	}
	if w.Dir() != dir {
		t.Errorf("Dir() = %q", w.Dir())
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := New(t.TempDir(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
	cancel()
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/1.json", []string{".json"}, true},
		{"/a/1.JSON", []string{"json"}, true},
		{"/a/1.txt", []string{".json"}, false},
		{"/a/.point-123", []string{".json"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
