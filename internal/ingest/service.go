package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/Siphon/internal/event"
	"github.com/hbomb79/Siphon/pkg/logger"
	"github.com/hbomb79/Siphon/pkg/worker"
	"golang.org/x/sys/unix"
)

var log = logger.Get("IngestServ")

type (
	// identityResolver maps the human-friendly identifiers in a watch
	// configuration (owner username/email, channel and category titles) to
	// database identities. The media service implements this.
	identityResolver interface {
		ResolveOwner(identifier string) (uuid.UUID, error)
		ResolveChannel(ownerID uuid.UUID, title string) (uuid.UUID, error)
		ResolveCategories(titles []string) ([]uuid.UUID, error)
	}

	// importService supervises one session per configured watch, queues
	// the files they discover, and runs a worker pool which drives queued
	// items through the import pipeline.
	importService struct {
		*sync.Mutex

		eventBus event.EventCoordinator
		resolver identityResolver
		pipeline *Pipeline

		config     Config
		watches    []WatchConfig
		identities map[string]WatchIdentity
		items      []*ImportItem
		workerPool *worker.WorkerPool
	}
)

// New creates a new import service for the watches provided. Construction
// never touches the file system; missing watch directories are created when
// a real watch session starts (see Run).
func New(
	config Config,
	watches []WatchConfig,
	collaborator mediaCollaborator,
	resolver identityResolver,
	ledger importLedger,
	eventBus event.EventCoordinator,
) (*importService, error) {
	service := &importService{
		Mutex:      &sync.Mutex{},
		eventBus:   eventBus,
		resolver:   resolver,
		pipeline:   NewPipeline(config, collaborator, ledger),
		config:     config,
		watches:    watches,
		identities: make(map[string]WatchIdentity),
		items:      make([]*ImportItem, 0),
		workerPool: worker.NewWorkerPool(),
	}

	parallelism := config.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	for i := 0; i < parallelism; i++ {
		label := fmt.Sprintf("import-worker-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, service.PerformImport))
	}

	return service, nil
}

// Run is the main entry point of this service. Watch identities are
// resolved, a session is started per watch, and the worker pool begins
// draining queued items. Watches which fail to resolve or start are dropped
// with an error logged; the service only refuses to run when no watch at
// all could be started. To kill the service, cancel the provided context.
func (service *importService) Run(ctx context.Context) error {
	validWatches, err := service.resolveIdentities()
	if err != nil {
		return err
	}

	if err := service.workerPool.Start(); err != nil {
		return err
	}
	defer service.workerPool.Close()

	sessionCtx, cancelSessions := context.WithCancel(ctx)
	defer cancelSessions()

	var wg sync.WaitGroup
	failures := make(chan string, len(validWatches))
	for i := range validWatches {
		if err := ensureWatchDir(&validWatches[i]); err != nil {
			log.Emit(logger.ERROR, "Watch %s failed: %s\n", validWatches[i].ConfigName(), err.Error())
			failures <- validWatches[i].ConfigName()
			continue
		}

		session := service.sessionFor(&validWatches[i])

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := session.Run(sessionCtx); err != nil {
				log.Emit(logger.ERROR, "Watch %s failed: %s\n", session.Watch().ConfigName(), err.Error())
				failures <- session.Watch().ConfigName()
			}
		}()
	}

	wg.Wait()
	close(failures)

	failed := 0
	for range failures {
		failed++
	}
	if failed == len(validWatches) && ctx.Err() == nil {
		return errors.New("all watch sessions failed to start")
	}

	return nil
}

// RunOnce scans every configured watch a single time, synchronously running
// each discovered file through the pipeline, then returns. Used by the CLI
// for one-shot imports and dry runs. The ledger gate is always enabled for
// one-shot scans (subject to force).
func (service *importService) RunOnce(dryRun bool, force bool) error {
	validWatches, err := service.resolveIdentities()
	if err != nil {
		return err
	}

	opts := Options{LedgerGate: true, Force: force, DryRun: dryRun}
	for i := range validWatches {
		watch := &validWatches[i]
		identity := service.identities[watch.ConfigName()]

		err := iterateFiles(watch.Path, watch.Recursive, func(path string, _ fs.FileInfo) error {
			item := &ImportItem{ID: uuid.New(), Path: path, Watch: watch, State: Importing, opts: opts}
			service.processItem(item, identity)
			return nil
		})
		if err != nil {
			log.Emit(logger.ERROR, "Scan of %s failed: %s\n", watch.Path, err.Error())
		}
	}

	return nil
}

// ValidateWatches checks every watch path and identity without importing
// anything, returning an aggregate error describing each invalid watch.
func (service *importService) ValidateWatches() error {
	var problems []error
	for i := range service.watches {
		watch := &service.watches[i]
		if info, err := os.Stat(watch.Path); err != nil {
			problems = append(problems, fmt.Errorf("watch %s: path inaccessible: %w", watch.ConfigName(), err))
			continue
		} else if !info.IsDir() {
			problems = append(problems, fmt.Errorf("watch %s: path is not a directory", watch.ConfigName()))
			continue
		}

		if watch.ProcessedAction() == ActionMove && watch.ProcessedDir == "" {
			problems = append(problems, fmt.Errorf("watch %s: action 'move' requires processed_dir", watch.ConfigName()))
		} else if watch.ProcessedDir != "" {
			if err := validateProcessedDir(watch.ProcessedDir); err != nil {
				problems = append(problems, fmt.Errorf("watch %s: processed dir unusable: %w", watch.ConfigName(), err))
			}
		}

		if _, err := service.resolveWatchIdentity(watch); err != nil {
			problems = append(problems, fmt.Errorf("watch %s: %w", watch.ConfigName(), err))
		}
	}

	return errors.Join(problems...)
}

// PerformImport is the worker function for this service, called by the
// services WorkerPool. It claims the first Discovered item it finds and
// runs it through the pipeline.
func (service *importService) PerformImport(w worker.Worker) (bool, error) {
	item := service.claimDiscoveredItem()
	if item == nil {
		return false, nil
	}

	identity := service.identityFor(item.Watch)
	service.processItem(item, identity)
	return true, nil
}

func (service *importService) processItem(item *ImportItem, identity WatchIdentity) {
	if err := service.pipeline.Process(item, identity, item.opts); err != nil {
		var trbl Trouble
		if errors.As(err, &trbl) {
			log.Emit(logger.WARNING, "Import of %s hit trouble (%s): %s\n", item.Path, trbl.Type(), trbl.Error())
			item.Trouble = &trbl
			item.State = Troubled
			service.eventBus.Dispatch(event.IMPORT_UPDATE, item.ID)
			return
		}

		log.Emit(logger.ERROR, "Import of %s failed: %s\n", item.Path, err.Error())
		item.State = Troubled
		return
	}

	switch item.State {
	case Imported:
		service.eventBus.Dispatch(event.IMPORT_COMPLETE, item.ID)
	case Skipped, Duplicate:
		service.eventBus.Dispatch(event.IMPORT_SKIPPED, item.ID)
	}
}

// Enqueue adds a discovered path to the import queue, unless an item for
// the same path is already queued or in-flight. Terminal items are pruned
// on each enqueue, which also allows a re-written file to be re-queued, and
// a troubled item is returned to the queue when it's path is rediscovered
// so transient failures retry on the next pass/event.
//
// Note: this function takes ownership of the mutex, and releases it when returning.
func (service *importService) Enqueue(watch *WatchConfig, path string, opts Options) {
	service.Lock()
	defer service.Unlock()

	retained := service.items[:0]
	for _, existing := range service.items {
		if !existing.IsTerminal() {
			retained = append(retained, existing)
		}
	}
	service.items = retained

	for _, existing := range service.items {
		if existing.Path == path {
			if existing.State == Troubled {
				existing.Trouble = nil
				existing.State = Discovered
				existing.opts = opts

				service.eventBus.Dispatch(event.IMPORT_UPDATE, existing.ID)
				service.workerPool.WakeupWorkers()
			}

			return
		}
	}

	item := &ImportItem{
		ID:    uuid.New(),
		Path:  path,
		Watch: watch,
		State: Discovered,
		opts:  opts,
	}

	service.items = append(service.items, item)
	service.eventBus.Dispatch(event.IMPORT_UPDATE, item.ID)
	service.workerPool.WakeupWorkers()
}

// GetImport accepts the ID of an import item and attempts to find it in
// the services queue. If it cannot be found, nil is returned.
func (service *importService) GetImport(itemID uuid.UUID) *ImportItem {
	service.Lock()
	defer service.Unlock()

	return service.getImportLocked(itemID)
}

func (service *importService) getImportLocked(itemID uuid.UUID) *ImportItem {
	for _, item := range service.items {
		if item.ID == itemID {
			return item
		}
	}

	return nil
}

// GetAllImports returns a snapshot of the items currently tracked by this
// service.
func (service *importService) GetAllImports() []*ImportItem {
	service.Lock()
	defer service.Unlock()

	out := make([]*ImportItem, len(service.items))
	copy(out, service.items)
	return out
}

// RemoveImport removes the item with the given ID from the services state.
// This method fails if the item is currently being imported, as
// interrupting the import is not possible.
//
// Note: this function takes ownership of the mutex, and releases it when returning.
func (service *importService) RemoveImport(itemID uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	for k, v := range service.items {
		if v.ID == itemID {
			if v.State == Importing {
				return fmt.Errorf("cannot remove item %v as a worker is currently importing it", itemID)
			}

			service.items = append(service.items[:k], service.items[k+1:]...)
			return nil
		}
	}

	return nil
}

// ResolveTroubledImport applies a resolution to a troubled item. A RETRY
// resolution returns the item to the queue; an ABORT removes it.
func (service *importService) ResolveTroubledImport(itemID uuid.UUID, method ResolutionType, context map[string]any) error {
	service.Lock()
	item := service.getImportLocked(itemID)
	if item == nil {
		service.Unlock()
		return ErrImportNotFound
	}

	if item.State != Troubled || item.Trouble == nil {
		service.Unlock()
		return ErrNoTrouble
	}

	resolution, err := item.Trouble.GenerateResolution(method, context)
	if err != nil {
		service.Unlock()
		return err
	}

	switch resolution.(type) {
	case *RetryResolution:
		item.Trouble = nil
		item.State = Discovered
		service.Unlock()

		service.eventBus.Dispatch(event.IMPORT_UPDATE, item.ID)
		service.workerPool.WakeupWorkers()
		return nil
	case *AbortResolution:
		service.Unlock()
		return service.RemoveImport(itemID)
	default:
		service.Unlock()
		return ErrResolutionIncompatible
	}
}

// claimDiscoveredItem will try and find a Discovered item in the queue and
// set it's state to Importing to prevent another worker from claiming it
// once the mutex lock is released.
//
// Note: this function takes ownership of the mutex, and releases it when returning.
func (service *importService) claimDiscoveredItem() *ImportItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == Discovered {
			item.State = Importing
			return item
		}
	}

	return nil
}

func (service *importService) sessionFor(watch *WatchConfig) watchSession {
	if watch.WatchMode() == WatchModePoll {
		return newPollSession(watch, service.Enqueue)
	}

	return newEventSession(watch, service.Enqueue)
}

// resolveIdentities resolves the owner/channel/categories of every watch,
// dropping watches which fail to resolve. An error is only returned when no
// watch at all survives.
func (service *importService) resolveIdentities() ([]WatchConfig, error) {
	valid := make([]WatchConfig, 0, len(service.watches))
	for i := range service.watches {
		watch := &service.watches[i]
		identity, err := service.resolveWatchIdentity(watch)
		if err != nil {
			log.Emit(logger.ERROR, "Dropping watch %s: %s\n", watch.ConfigName(), err.Error())
			continue
		}

		service.Lock()
		service.identities[watch.ConfigName()] = *identity
		service.Unlock()
		valid = append(valid, *watch)
	}

	if len(valid) == 0 {
		return nil, errors.New("no configured watch could be resolved")
	}

	return valid, nil
}

func (service *importService) resolveWatchIdentity(watch *WatchConfig) (*WatchIdentity, error) {
	ownerID, err := service.resolver.ResolveOwner(watch.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner %q could not be resolved: %w", watch.Owner, err)
	}

	identity := &WatchIdentity{OwnerID: ownerID}
	if watch.Channel != "" {
		channelID, err := service.resolver.ResolveChannel(ownerID, watch.Channel)
		if err != nil {
			return nil, fmt.Errorf("channel %q could not be resolved: %w", watch.Channel, err)
		}

		identity.ChannelID = &channelID
	}

	if len(watch.Categories) > 0 {
		categoryIDs, err := service.resolver.ResolveCategories(watch.Categories)
		if err != nil {
			return nil, err
		}

		identity.CategoryIDs = categoryIDs
	}

	return identity, nil
}

func (service *importService) identityFor(watch *WatchConfig) WatchIdentity {
	service.Lock()
	defer service.Unlock()

	return service.identities[watch.ConfigName()]
}

// validateProcessedDir checks a processed dir is usable without creating
// anything: an existing path must be a writable directory, and a missing
// one must sit beneath a writable existing ancestor so it can be created
// later.
func validateProcessedDir(path string) error {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		info, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			if filepath.Dir(p) == p {
				return fmt.Errorf("no existing ancestor for %s", path)
			}

			continue
		} else if err != nil {
			return err
		}

		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", p)
		}

		if err := unix.Access(p, unix.W_OK); err != nil {
			return fmt.Errorf("%s is not writable: %w", p, err)
		}

		return nil
	}
}

func ensureWatchDir(watch *WatchConfig) error {
	if info, err := os.Stat(watch.Path); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("watch path '%s' is not a directory", watch.Path)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(watch.Path, os.ModeDir|os.ModePerm); err != nil {
			return fmt.Errorf("watch path '%s' could not be created: %w", watch.Path, err)
		}
	} else {
		return fmt.Errorf("watch path '%s' could not be accessed: %w", watch.Path, err)
	}

	return nil
}
