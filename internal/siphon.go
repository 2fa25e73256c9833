package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Siphon/internal/database"
	"github.com/hbomb79/Siphon/internal/event"
	"github.com/hbomb79/Siphon/internal/ingest"
	"github.com/hbomb79/Siphon/internal/media"
	"github.com/hbomb79/Siphon/pkg/docker"
	"github.com/hbomb79/Siphon/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// ImportService is the surface the core (and CLI) consumes from the
	// ingest package.
	ImportService interface {
		RunnableService
		RunOnce(dryRun bool, force bool) error
		ValidateWatches() error
		GetImport(uuid.UUID) *ingest.ImportItem
		GetAllImports() []*ingest.ImportItem
		RemoveImport(uuid.UUID) error
		ResolveTroubledImport(uuid.UUID, ingest.ResolutionType, map[string]any) error
	}
)

// Siphon represents the top-level object for the server, responsible for
// initialising embedded support services, the database connection, stores,
// event handling, et cetera...
type siphonImpl struct {
	eventBus      event.EventCoordinator
	config        SiphonConfig
	dockerManager docker.Manager
	db            database.Manager

	mediaService  *media.Service
	importService ImportService
}

func New(config SiphonConfig) *siphonImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Siphon services using config: %#v\n", config)
	return &siphonImpl{
		eventBus: event.New(),
		config:   config,
	}
}

// Run will start all of Siphon by bringing up all required services and
// connections: docker services, the database connection and the import
// service. This function will not return until Siphon is stopped. To stop
// Siphon, the provided context must be cancelled. Errors from which Siphon
// cannot recover will also cause it to stop.
func (siphon *siphonImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	if err := siphon.connect(ctx, crashHandler); err != nil {
		return err
	}
	if siphon.dockerManager != nil {
		defer siphon.dockerManager.Shutdown(time.Second * 10)
	}

	siphon.registerActivityHandlers()

	wg := &sync.WaitGroup{}
	siphon.spawnAsyncService(ctx, wg, siphon.importService, "import-service", crashHandler)
	log.Emit(logger.SUCCESS, "Siphon services spawned!\n")

	wg.Wait()
	return nil
}

// RunOnce brings up the database connection, performs a single scan-and-
// import pass over every watch, and returns. Used by the CLI for one-shot
// imports and dry runs.
func (siphon *siphonImpl) RunOnce(ctx context.Context, dryRun bool, force bool) error {
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
	}

	if err := siphon.connect(ctx, crashHandler); err != nil {
		return err
	}
	if siphon.dockerManager != nil {
		defer siphon.dockerManager.Shutdown(time.Second * 10)
	}

	siphon.registerActivityHandlers()
	return siphon.importService.RunOnce(dryRun, force)
}

// Validate checks every configured watch (path accessibility, owner,
// channel and category resolution) without importing anything.
func (siphon *siphonImpl) Validate(ctx context.Context) error {
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
	}

	if err := siphon.connect(ctx, crashHandler); err != nil {
		return err
	}
	if siphon.dockerManager != nil {
		defer siphon.dockerManager.Shutdown(time.Second * 10)
	}

	return siphon.importService.ValidateWatches()
}

// connect initialises the docker services (if enabled), connects the
// database and constructs the media and import services.
func (siphon *siphonImpl) connect(ctx context.Context, crashHandler func(string, error)) error {
	if siphon.config.Services.EnablePostgres {
		log.Emit(logger.NEW, "Initialising embedded database...\n")
		manager, err := docker.NewManager()
		if err != nil {
			return err
		}
		siphon.dockerManager = manager

		dockerCrash := make(chan error, 1)
		if _, err := database.InitialiseDockerDatabase(siphon.dockerManager, siphon.config.Database, dockerCrash); err != nil {
			return err
		}

		go func() {
			select {
			case err := <-dockerCrash:
				crashHandler("docker-postgres", err)
			case <-ctx.Done():
			}
		}()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(siphon.config.Database); err != nil {
		return err
	}
	siphon.db = db

	siphon.mediaService = media.NewService(db, siphon.eventBus)

	importService, err := ingest.New(
		siphon.config.Ingest,
		siphon.config.Watches,
		siphon.mediaService,
		siphon.mediaService,
		ingest.NewLedger(db),
		siphon.eventBus,
	)
	if err != nil {
		return fmt.Errorf("failed to construct import service: %w", err)
	}
	siphon.importService = importService

	return nil
}

// registerActivityHandlers subscribes log-emitting handlers to the import
// lifecycle events so that activity is visible even with no other consumer
// attached.
func (siphon *siphonImpl) registerActivityHandlers() {
	siphon.eventBus.RegisterAsyncHandlerFunction(event.IMPORT_COMPLETE, func(ev event.Event, payload event.Payload) {
		if id, ok := payload.(uuid.UUID); ok {
			if item := siphon.importService.GetImport(id); item != nil {
				log.Emit(logger.SUCCESS, "Import %s complete (%s)\n", id, item.Path)
			}
		}
	})

	siphon.eventBus.RegisterAsyncHandlerFunction(event.IMPORT_UPDATE, func(ev event.Event, payload event.Payload) {
		if id, ok := payload.(uuid.UUID); ok {
			if item := siphon.importService.GetImport(id); item != nil && item.State == ingest.Troubled {
				log.Emit(logger.WARNING, "Import %s is troubled: %s\n", id, item.Trouble.Error())
			}
		}
	})
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the service waitgroup is updated correctly
func (siphon *siphonImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
