package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hbomb79/Siphon/pkg/logger"
	"github.com/rjeczalik/notify"
)

// enqueueFunc hands a discovered path (and the processing options it should
// be imported under) back to the service for queueing.
type enqueueFunc func(watch *WatchConfig, path string, opts Options)

// watchSession is one running watch. The service owns a session per
// configured watch and supervises their lifecycles.
type watchSession interface {
	Watch() *WatchConfig
	Run(ctx context.Context) error
}

// eventSession drives a watch in event mode: OS file system notifications
// feed a debouncer, and paths which settle are enqueued for import. The
// ledger gate is left off as a settled event implies freshly written
// content; content-level dedup still applies downstream.
type eventSession struct {
	watch   *WatchConfig
	enqueue enqueueFunc
}

func newEventSession(watch *WatchConfig, enqueue enqueueFunc) *eventSession {
	return &eventSession{watch: watch, enqueue: enqueue}
}

func (session *eventSession) Watch() *WatchConfig { return session.watch }

func (session *eventSession) Run(ctx context.Context) error {
	watch := session.watch

	target := watch.Path
	if watch.Recursive {
		target = filepath.Join(watch.Path, "...")
	}

	// Buffered so a burst of events from the OS does not drop
	// notifications while we're busy.
	events := make(chan notify.EventInfo, 128)
	if err := notify.Watch(target, events, notify.Create, notify.Write, notify.Rename); err != nil {
		return fmt.Errorf("failed to establish watch on %s: %w", target, err)
	}
	defer notify.Stop(events)

	debouncer := NewDebouncer(watch.DebounceWindow())
	settled := make(chan string)

	debounceCtx, cancelDebounce := context.WithCancel(ctx)
	defer cancelDebounce()
	go debouncer.Run(debounceCtx, settled)

	// Files already present at startup are observed immediately so they
	// settle once the quiet window passes.
	if err := iterateFiles(watch.Path, watch.Recursive, func(path string, _ fs.FileInfo) error {
		if watch.AllowsExtension(path) {
			debouncer.Observe(path, time.Now())
		}
		return nil
	}); err != nil {
		log.Emit(logger.WARNING, "Initial scan of %s failed: %s\n", watch.Path, err.Error())
	}

	log.Emit(logger.NEW, "Watch %s started in event mode\n", watch.ConfigName())
	for {
		select {
		case ev := <-events:
			session.observeEvent(debouncer, ev)
		case path := <-settled:
			session.enqueue(watch, path, Options{})
		case <-ctx.Done():
			log.Emit(logger.STOP, "Watch %s stopping\n", watch.ConfigName())
			return nil
		}
	}
}

func (session *eventSession) observeEvent(debouncer *Debouncer, ev notify.EventInfo) {
	path := ev.Path()
	if isExcludedName(path) || !session.watch.AllowsExtension(path) {
		return
	}

	// Renames and rapid deletes leave events for paths that no longer
	// exist; directories are never imported.
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	debouncer.Observe(path, time.Now())
}
