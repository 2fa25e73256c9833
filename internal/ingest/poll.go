package ingest

import (
	"context"
	"io/fs"
	"time"

	"github.com/hbomb79/Siphon/pkg/logger"
)

// pollSession drives a watch in poll mode: the directory is scanned on a
// fixed interval, and every discovered file is enqueued with the ledger
// gate enabled so already-imported paths are skipped without re-reading
// their content.
type pollSession struct {
	watch   *WatchConfig
	enqueue enqueueFunc
}

func newPollSession(watch *WatchConfig, enqueue enqueueFunc) *pollSession {
	return &pollSession{watch: watch, enqueue: enqueue}
}

func (session *pollSession) Watch() *WatchConfig { return session.watch }

func (session *pollSession) Run(ctx context.Context) error {
	ticker := time.NewTicker(session.watch.PollInterval())
	defer ticker.Stop()

	log.Emit(logger.NEW, "Watch %s started in poll mode (interval %s)\n", session.watch.ConfigName(), session.watch.PollInterval())
	session.scan()

	for {
		select {
		case <-ticker.C:
			session.scan()
		case <-ctx.Done():
			log.Emit(logger.STOP, "Watch %s stopping\n", session.watch.ConfigName())
			return nil
		}
	}
}

func (session *pollSession) scan() {
	watch := session.watch
	err := iterateFiles(watch.Path, watch.Recursive, func(path string, _ fs.FileInfo) error {
		session.enqueue(watch, path, Options{LedgerGate: true})
		return nil
	})
	if err != nil {
		log.Emit(logger.ERROR, "Scan of %s failed: %s\n", watch.Path, err.Error())
	}
}
