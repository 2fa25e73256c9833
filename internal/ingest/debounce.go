package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Debouncer absorbs bursts of file system events for a path, emitting the
// path once it has been quiet for the configured window. Large files being
// copied in to a watched directory generate a stream of write events; only
// the last one matters.
type Debouncer struct {
	mutex   sync.Mutex
	window  time.Duration
	pending map[string]time.Time
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]time.Time),
	}
}

// Observe records activity on the given path, restarting it's quiet window.
func (debouncer *Debouncer) Observe(path string, at time.Time) {
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()

	debouncer.pending[path] = at
}

// PendingCount returns the number of paths awaiting settlement.
func (debouncer *Debouncer) PendingCount() int {
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()

	return len(debouncer.pending)
}

// Run ticks once a second, draining any paths whose quiet window has
// elapsed on to the settled channel. Settled paths are collected under the
// lock but delivered outside it, so a slow consumer never blocks Observe.
// Run returns when the context is cancelled.
func (debouncer *Debouncer) Run(ctx context.Context, settled chan<- string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, path := range debouncer.drainSettled(time.Now()) {
				select {
				case settled <- path:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (debouncer *Debouncer) drainSettled(now time.Time) []string {
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()

	var out []string
	for path, lastSeen := range debouncer.pending {
		if now.Sub(lastSeen) >= debouncer.window {
			out = append(out, path)
			delete(debouncer.pending, path)
		}
	}

	return out
}

// isExcludedName reports whether a file name should never be considered for
// import: hidden files and in-progress download artifacts.
func isExcludedName(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return true
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".part":
		return true
	}

	return false
}
