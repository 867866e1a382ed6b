// Package extensions hot-reloads runtime assets (prompt templates, corpus
// files) while the service is running.
package extensions

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/avandelay/parley/internal/observability"
)

const defaultRescanInterval = 60 * time.Second

// target pairs filesystem paths with the reload hook to fire when they change.
type target struct {
	name   string
	paths  []string
	reload func(ctx context.Context) error
	mtimes map[string]time.Time
}

// Host watches registered paths with fsnotify and a periodic mtime rescan as
// a safety net. Reload failures are logged and counted, never fatal: the
// running configuration stays in effect until a good reload lands.
type Host struct {
	interval time.Duration
	metrics  *observability.Metrics

	mu      sync.Mutex
	targets []*target
}

func NewHost(rescanInterval time.Duration, metrics *observability.Metrics) *Host {
	if rescanInterval <= 0 {
		rescanInterval = defaultRescanInterval
	}
	return &Host{interval: rescanInterval, metrics: metrics}
}

// Register adds a reload hook for a set of files or directories. Paths that
// do not exist yet are picked up by the rescan once they appear.
func (h *Host) Register(name string, paths []string, reload func(ctx context.Context) error) {
	clean := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		clean = append(clean, filepath.Clean(p))
	}
	if len(clean) == 0 {
		return
	}

	t := &target{name: name, paths: clean, reload: reload, mtimes: make(map[string]time.Time)}
	t.snapshot()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.targets = append(h.targets, t)
}

// Run blocks until ctx is cancelled, firing reload hooks on changes.
func (h *Host) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("extensions: fsnotify unavailable, falling back to rescan only: %v", err)
		watcher = nil
	} else {
		defer watcher.Close()
		for _, dir := range h.watchDirs() {
			if err := watcher.Add(dir); err != nil {
				log.Printf("extensions: cannot watch %s: %v", dir, err)
			}
		}
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			h.handleChange(ctx, ev.Name)
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		case <-ticker.C:
			h.rescan(ctx)
		}
	}
}

// Rescan forces one mtime comparison pass. Exposed for tests and for a
// manual reload trigger.
func (h *Host) Rescan(ctx context.Context) {
	h.rescan(ctx)
}

func (h *Host) watchDirs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]struct{})
	var dirs []string
	for _, t := range h.targets {
		for _, p := range t.paths {
			dir := p
			if info, err := os.Stat(p); err != nil || !info.IsDir() {
				dir = filepath.Dir(p)
			}
			if _, ok := seen[dir]; ok {
				continue
			}
			seen[dir] = struct{}{}
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func (h *Host) handleChange(ctx context.Context, changed string) {
	changed = filepath.Clean(changed)

	h.mu.Lock()
	var matched []*target
	for _, t := range h.targets {
		if t.covers(changed) {
			matched = append(matched, t)
		}
	}
	h.mu.Unlock()

	for _, t := range matched {
		t.snapshot()
		h.fire(ctx, t)
	}
}

func (h *Host) rescan(ctx context.Context) {
	h.mu.Lock()
	targets := make([]*target, len(h.targets))
	copy(targets, h.targets)
	h.mu.Unlock()

	for _, t := range targets {
		if t.changed() {
			t.snapshot()
			h.fire(ctx, t)
		}
	}
}

func (h *Host) fire(ctx context.Context, t *target) {
	log.Printf("extensions: change detected in %s, reloading", t.name)
	if err := t.reload(ctx); err != nil {
		h.metrics.ReloadEvents.WithLabelValues("failure").Inc()
		log.Printf("extensions: reload of %s failed: %v", t.name, err)
		return
	}
	h.metrics.ReloadEvents.WithLabelValues("success").Inc()
	log.Printf("extensions: reloaded %s", t.name)
}

func (t *target) covers(path string) bool {
	for _, p := range t.paths {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// snapshot records current mtimes for all files under the target's paths.
func (t *target) snapshot() {
	t.mtimes = collectMtimes(t.paths)
}

func (t *target) changed() bool {
	current := collectMtimes(t.paths)
	if len(current) != len(t.mtimes) {
		return true
	}
	for path, mtime := range current {
		if prev, ok := t.mtimes[path]; !ok || !prev.Equal(mtime) {
			return true
		}
	}
	return false
}

func collectMtimes(paths []string) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			out[p] = info.ModTime()
			continue
		}
		_ = filepath.WalkDir(p, func(path string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return nil
			}
			if info, err := entry.Info(); err == nil {
				out[path] = info.ModTime()
			}
			return nil
		})
	}
	return out
}
