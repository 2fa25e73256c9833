package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Siphon/internal/event"
	"github.com/hbomb79/Siphon/internal/media"
	"github.com/hbomb79/Siphon/pkg/logger"
	"github.com/hbomb79/go-chanassert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// A default event bus which should be used as a NOOP event bus. DO NOT
// subscribe to this inside of a test as the subscribers are not removed
// between tests.
var defaultEventBus = event.New()

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE)
}

type stubResolver struct {
	ownerID uuid.UUID
	err     error
}

func (resolver *stubResolver) ResolveOwner(string) (uuid.UUID, error) {
	return resolver.ownerID, resolver.err
}

func (resolver *stubResolver) ResolveChannel(uuid.UUID, string) (uuid.UUID, error) {
	return uuid.New(), resolver.err
}

func (resolver *stubResolver) ResolveCategories([]string) ([]uuid.UUID, error) {
	return nil, resolver.err
}

func startService(t *testing.T, service *importService) {
	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, service.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func matchImportEvent(expected event.Event) chanassert.Matcher[event.HandlerEvent] {
	return chanassert.MatchPredicate(func(message event.HandlerEvent) bool {
		return message.Event == expected
	})
}

func Test_Service_PollMode_ImportsDiscoveredFile(t *testing.T) {
	t.Parallel()
	// The interval is deliberately huge; only the immediate startup scan
	// should run during this test.
	watch := WatchConfig{Name: "poll-watch", Path: t.TempDir(), Owner: "admin", Mode: WatchModePoll, PollIntervalSeconds: 3600}
	path := writeWatchedFile(t, &watch, "discovered.mp4", "poll mode content")
	expectedSum, _ := media.ComputeChecksum(path)

	collaborator := &mockCollaborator{}
	ledger := &mockLedger{}
	saved := &media.Media{ID: uuid.New(), Checksum: expectedSum}
	ledger.On("GetOrCreate", path, "poll-watch").Return(&LedgerEntry{SourcePath: path}, true, nil)
	collaborator.On("GetByChecksum", expectedSum).Return(nil, media.ErrMediaNotFound).Once()
	collaborator.On("CreateMedia", mock.Anything).Return(saved, nil).Once()
	ledger.On("MarkImported", path, saved.ID, expectedSum).Return(nil).Once()

	bus := event.New()
	activity := make(event.HandlerChannel, 10)
	bus.RegisterHandlerChannel(activity, event.IMPORT_COMPLETE)
	expecter := chanassert.NewChannelExpecter(chan event.HandlerEvent(activity)).Expect(
		chanassert.ExactlyNOf(1, matchImportEvent(event.IMPORT_COMPLETE)),
	)
	expecter.Listen()

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, collaborator, &stubResolver{ownerID: uuid.New()}, ledger, bus)
	assert.Nil(t, err)
	startService(t, service)

	expecter.AssertSatisfied(t, time.Second*10)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		items := service.GetAllImports()
		if assert.Len(c, items, 1) {
			assert.Equal(c, Imported, items[0].State)
			assert.Equal(c, saved.ID, *items[0].MediaID)
		}
	}, time.Second*5, time.Millisecond*100)

	collaborator.AssertExpectations(t)
}

func Test_Service_PollMode_SkipsLedgerImportedFile(t *testing.T) {
	t.Parallel()
	watch := WatchConfig{Name: "gated", Path: t.TempDir(), Owner: "admin", Mode: WatchModePoll, PollIntervalSeconds: 3600}
	path := writeWatchedFile(t, &watch, "seen.mp4", "previously imported")

	collaborator := &mockCollaborator{}
	ledger := &mockLedger{}
	importedID := uuid.New()
	ledger.On("GetOrCreate", path, "gated").
		Return(&LedgerEntry{SourcePath: path, MediaID: &importedID}, false, nil)

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, collaborator, &stubResolver{ownerID: uuid.New()}, ledger, defaultEventBus)
	assert.Nil(t, err)
	startService(t, service)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		items := service.GetAllImports()
		if assert.Len(c, items, 1) {
			assert.Equal(c, Skipped, items[0].State)
		}
	}, time.Second*5, time.Millisecond*100)

	// Poll mode relies on the ledger gate; the file content must never be
	// fingerprinted.
	collaborator.AssertNotCalled(t, "GetByChecksum", mock.Anything)
	collaborator.AssertNotCalled(t, "CreateMedia", mock.Anything)
}

func Test_Service_EventMode_ImportsSettledFile(t *testing.T) {
	t.Parallel()
	watch := WatchConfig{Name: "events", Path: t.TempDir(), Owner: "admin", DebounceWindowSeconds: 1}
	path := writeWatchedFile(t, &watch, "settled.mp4", "event mode content")
	expectedSum, _ := media.ComputeChecksum(path)

	collaborator := &mockCollaborator{}
	ledger := &mockLedger{}
	saved := &media.Media{ID: uuid.New(), Checksum: expectedSum}
	ledger.On("GetOrCreate", path, "events").Return(&LedgerEntry{SourcePath: path}, true, nil)
	collaborator.On("GetByChecksum", expectedSum).Return(nil, media.ErrMediaNotFound).Once()
	collaborator.On("CreateMedia", mock.Anything).Return(saved, nil).Once()
	ledger.On("MarkImported", path, saved.ID, expectedSum).Return(nil).Once()

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, collaborator, &stubResolver{ownerID: uuid.New()}, ledger, defaultEventBus)
	assert.Nil(t, err)
	startService(t, service)

	// The file existed at startup, so it is observed immediately and must
	// settle once the quiet window elapses.
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		items := service.GetAllImports()
		if assert.Len(c, items, 1) {
			assert.Equal(c, Imported, items[0].State)
		}
	}, time.Second*10, time.Millisecond*100)
}

func Test_Service_Enqueue_DeduplicatesActivePaths(t *testing.T) {
	t.Parallel()
	watch := WatchConfig{Name: "dedup", Path: t.TempDir(), Owner: "admin"}

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)

	service.Enqueue(&watch, "/watch/a.mp4", Options{})
	service.Enqueue(&watch, "/watch/a.mp4", Options{})
	service.Enqueue(&watch, "/watch/b.mp4", Options{})

	assert.Len(t, service.GetAllImports(), 2, "identical in-flight paths must not be queued twice")
}

func Test_Service_Enqueue_PrunesTerminalItems(t *testing.T) {
	t.Parallel()
	watch := WatchConfig{Name: "prune", Path: t.TempDir(), Owner: "admin"}

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)

	service.Enqueue(&watch, "/watch/done.mp4", Options{})
	items := service.GetAllImports()
	assert.Len(t, items, 1)
	items[0].State = Imported

	// A terminal item is pruned on the next enqueue, which also allows a
	// re-written file to be queued again.
	service.Enqueue(&watch, "/watch/done.mp4", Options{})
	items = service.GetAllImports()
	assert.Len(t, items, 1)
	assert.Equal(t, Discovered, items[0].State)
}

func Test_Service_Construction_LeavesMissingWatchDirAlone(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "not-yet")
	watch := WatchConfig{Name: "lazy", Path: missing, Owner: "admin"}

	_, err := New(Config{}, []WatchConfig{watch}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)
	assert.NoDirExists(t, missing)
}

func Test_Service_ValidateWatches_DoesNotTouchFilesystem(t *testing.T) {
	t.Parallel()

	missingPath := filepath.Join(t.TempDir(), "missing-watch")
	broken := WatchConfig{Name: "missing", Path: missingPath, Owner: "admin"}
	service, err := New(Config{}, []WatchConfig{broken}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)
	assert.Error(t, service.ValidateWatches(), "a nonexistent watch path must be reported, not created")
	assert.NoDirExists(t, missingPath)

	// A missing processed dir beneath a writable parent is creatable, so it
	// validates, but validation itself must not create it.
	missingProcessed := filepath.Join(t.TempDir(), "processed-missing")
	moving := WatchConfig{Name: "mover", Path: t.TempDir(), Owner: "admin", Action: ActionMove, ProcessedDir: missingProcessed}
	service, err = New(Config{}, []WatchConfig{moving}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)
	assert.Nil(t, service.ValidateWatches())
	assert.NoDirExists(t, missingProcessed)

	occupied := writeWatchedFile(t, &moving, "occupied", "x")
	clash := WatchConfig{Name: "clash", Path: t.TempDir(), Owner: "admin", Action: ActionMove, ProcessedDir: occupied}
	service, err = New(Config{}, []WatchConfig{clash}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)
	assert.Error(t, service.ValidateWatches(), "a processed dir pointing at a file is unusable")

	noDest := WatchConfig{Name: "nodest", Path: t.TempDir(), Owner: "admin", Action: ActionMove}
	service, err = New(Config{}, []WatchConfig{noDest}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)
	assert.Error(t, service.ValidateWatches(), "action 'move' without a processed dir is invalid")
}

func Test_Service_Run_CreatesMissingWatchDir(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "incoming")
	watch := WatchConfig{Name: "created-on-run", Path: missing, Owner: "admin", Mode: WatchModePoll, PollIntervalSeconds: 3600}

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)
	startService(t, service)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.DirExists(c, missing)
	}, time.Second*5, time.Millisecond*50)
}

func Test_Service_Enqueue_RequeuesTroubledPath(t *testing.T) {
	t.Parallel()
	watch := WatchConfig{Name: "retry", Path: t.TempDir(), Owner: "admin"}

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)

	service.Enqueue(&watch, "/watch/flaky.mp4", Options{})
	items := service.GetAllImports()
	assert.Len(t, items, 1)

	trouble := newTrouble(IOFailure, errExpected)
	items[0].State = Troubled
	items[0].Trouble = &trouble

	// Rediscovery on the next poll pass (or settle event) must return the
	// item to the queue instead of dropping the path.
	service.Enqueue(&watch, "/watch/flaky.mp4", Options{LedgerGate: true})
	items = service.GetAllImports()
	assert.Len(t, items, 1)
	assert.Equal(t, Discovered, items[0].State)
	assert.Nil(t, items[0].Trouble)
	assert.True(t, items[0].opts.LedgerGate)
}

func Test_Service_ResolveTroubledImport(t *testing.T) {
	t.Parallel()
	watch := WatchConfig{Name: "troubles", Path: t.TempDir(), Owner: "admin"}

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)

	trouble := newTrouble(IOFailure, errExpected)
	item := &ImportItem{ID: uuid.New(), Path: "/watch/troubled.mp4", Watch: &watch, State: Troubled, Trouble: &trouble}
	service.items = append(service.items, item)

	assert.ErrorIs(t, service.ResolveTroubledImport(uuid.New(), RETRY, nil), ErrImportNotFound)

	assert.Nil(t, service.ResolveTroubledImport(item.ID, RETRY, nil))
	assert.Equal(t, Discovered, item.State)
	assert.Nil(t, item.Trouble)

	assert.ErrorIs(t, service.ResolveTroubledImport(item.ID, RETRY, nil), ErrNoTrouble)

	item.State = Troubled
	item.Trouble = &trouble
	assert.Nil(t, service.ResolveTroubledImport(item.ID, ABORT, nil))
	assert.Empty(t, service.GetAllImports())
}

func Test_Service_RunOnce_DryRunReportsWithoutWriting(t *testing.T) {
	t.Parallel()
	watch := WatchConfig{Name: "once", Path: t.TempDir(), Owner: "admin"}
	writeWatchedFile(t, &watch, "one.mp4", "a")
	writeWatchedFile(t, &watch, "two.mp4", "b")
	writeWatchedFile(t, &watch, "three.mp4", "c")

	collaborator := &mockCollaborator{}
	ledger := &mockLedger{}

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, collaborator, &stubResolver{ownerID: uuid.New()}, ledger, defaultEventBus)
	assert.Nil(t, err)
	assert.Nil(t, service.RunOnce(true, false))

	ledger.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything)
	collaborator.AssertNotCalled(t, "CreateMedia", mock.Anything)
}

func Test_Service_RunOnce_ImportsEveryFile(t *testing.T) {
	t.Parallel()
	watch := WatchConfig{Name: "once-real", Path: t.TempDir(), Owner: "admin"}
	writeWatchedFile(t, &watch, "one.mp4", "first unique content")
	writeWatchedFile(t, &watch, "two.mp4", "second unique content")

	collaborator := &mockCollaborator{}
	ledger := &mockLedger{}
	ledger.On("GetOrCreate", mock.Anything, "once-real").Return(&LedgerEntry{}, true, nil)
	collaborator.On("GetByChecksum", mock.Anything).Return(nil, media.ErrMediaNotFound)
	collaborator.On("CreateMedia", mock.Anything).Return(&media.Media{ID: uuid.New()}, nil)
	ledger.On("MarkImported", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	service, err := New(Config{Parallelism: 1}, []WatchConfig{watch}, collaborator, &stubResolver{ownerID: uuid.New()}, ledger, defaultEventBus)
	assert.Nil(t, err)
	assert.Nil(t, service.RunOnce(false, false))

	collaborator.AssertNumberOfCalls(t, "CreateMedia", 2)
}

func Test_Service_ValidateWatches(t *testing.T) {
	t.Parallel()

	valid := WatchConfig{Name: "ok", Path: t.TempDir(), Owner: "admin"}
	service, err := New(Config{}, []WatchConfig{valid}, &mockCollaborator{}, &stubResolver{ownerID: uuid.New()}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)
	assert.Nil(t, service.ValidateWatches())

	broken, err := New(Config{}, []WatchConfig{valid}, &mockCollaborator{}, &stubResolver{err: errExpected}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)
	assert.Error(t, broken.ValidateWatches())
}

func Test_Service_RefusesRunWhenNoWatchResolves(t *testing.T) {
	t.Parallel()
	watch := WatchConfig{Name: "unresolvable", Path: t.TempDir(), Owner: "ghost"}

	service, err := New(Config{}, []WatchConfig{watch}, &mockCollaborator{}, &stubResolver{err: errExpected}, &mockLedger{}, defaultEventBus)
	assert.Nil(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	assert.Error(t, service.Run(ctx))
}
