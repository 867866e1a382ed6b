package extensions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avandelay/parley/internal/observability"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("parley_ext_test_%d", time.Now().UnixNano()))
}

func TestRescanFiresReloadOnFileChange(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "system.tmpl")
	if err := os.WriteFile(file, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reloads atomic.Int32
	host := NewHost(time.Hour, testMetrics())
	host.Register("templates", []string{file}, func(context.Context) error {
		reloads.Add(1)
		return nil
	})

	host.Rescan(context.Background())
	if got := reloads.Load(); got != 0 {
		t.Fatalf("reloads = %d before any change, want 0", got)
	}

	// mtime granularity on some filesystems is one second.
	past := time.Now().Add(-2 * time.Second)
	if err := os.Chtimes(file, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	host.Rescan(context.Background())
	if got := reloads.Load(); got != 1 {
		t.Fatalf("reloads = %d after change, want 1", got)
	}

	// Unchanged files do not refire.
	host.Rescan(context.Background())
	if got := reloads.Load(); got != 1 {
		t.Fatalf("reloads = %d after no-op rescan, want 1", got)
	}
}

func TestRescanDetectsNewFileInDirectory(t *testing.T) {
	dir := t.TempDir()

	var reloads atomic.Int32
	host := NewHost(time.Hour, testMetrics())
	host.Register("corpus", []string{dir}, func(context.Context) error {
		reloads.Add(1)
		return nil
	})

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("doc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	host.Rescan(context.Background())
	if got := reloads.Load(); got != 1 {
		t.Fatalf("reloads = %d after new file, want 1", got)
	}
}

func TestReloadFailureIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "user.tmpl")
	if err := os.WriteFile(file, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	host := NewHost(time.Hour, testMetrics())
	host.Register("templates", []string{file}, func(context.Context) error {
		return errors.New("parse error")
	})

	past := time.Now().Add(-2 * time.Second)
	if err := os.Chtimes(file, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	// Must not panic or escalate; the failure is logged and counted.
	host.Rescan(context.Background())
}

func TestRegisterIgnoresEmptyPaths(t *testing.T) {
	host := NewHost(time.Hour, testMetrics())
	host.Register("noop", []string{"", "   "}, func(context.Context) error {
		t.Fatal("reload should never fire for an empty registration")
		return nil
	})
	host.Rescan(context.Background())
}
