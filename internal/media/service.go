package media

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hbomb79/Siphon/internal/database"
	"github.com/hbomb79/Siphon/internal/event"
	"github.com/hbomb79/Siphon/internal/user"
	"github.com/hbomb79/Siphon/pkg/logger"
	"github.com/jmoiron/sqlx"
)

var log = logger.Get("Media")

type (
	// CreateMediaRequest carries everything needed to commit a new media
	// record and it's channel/category/tag bindings in one transaction.
	CreateMediaRequest struct {
		Title       string
		Description string
		Checksum    string
		SizeBytes   int64
		SourcePath  string
		Visibility  Visibility
		OwnerID     uuid.UUID
		ChannelID   *uuid.UUID
		CategoryIDs []uuid.UUID
		TagTitles   []string
	}

	// Service is the collaborator the import pipeline hands completed files
	// to. It owns the media store and is the only component permitted to
	// insert media rows.
	Service struct {
		db        database.Manager
		eventBus  event.EventCoordinator
		store     *Store
		userStore *user.Store
	}
)

func NewService(db database.Manager, eventBus event.EventCoordinator) *Service {
	return &Service{
		db:        db,
		eventBus:  eventBus,
		store:     NewStore(),
		userStore: user.NewStore(),
	}
}

// CreateMedia commits a new media record along with it's tag and category
// bindings inside a single transaction, then announces the new media on the
// event bus. The media checksum's UNIQUE constraint means a concurrent
// import of identical content will fail here and roll back cleanly.
func (service *Service) CreateMedia(request CreateMediaRequest) (*Media, error) {
	if !request.Visibility.IsValid() {
		return nil, fmt.Errorf("cannot create media with unknown visibility %q", request.Visibility)
	}

	media := &Media{
		ID:          uuid.New(),
		Title:       request.Title,
		Description: request.Description,
		Checksum:    request.Checksum,
		SizeBytes:   request.SizeBytes,
		SourcePath:  request.SourcePath,
		Visibility:  request.Visibility,
		OwnerID:     request.OwnerID,
		ChannelID:   request.ChannelID,
	}

	err := service.db.WrapTx(func(tx *sqlx.Tx) error {
		if err := service.store.Save(tx, media); err != nil {
			return err
		}

		if len(request.CategoryIDs) > 0 {
			if err := service.store.BindCategories(tx, media.ID, request.CategoryIDs); err != nil {
				return err
			}
		}

		for _, title := range request.TagTitles {
			tag, err := service.store.GetOrCreateTag(tx, title)
			if err != nil {
				return err
			}

			if err := service.store.BindTags(tx, media.ID, []uuid.UUID{tag.ID}); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Emit(logger.NEW, "Media %s (%s) created\n", media.ID, media.Title)
	service.eventBus.Dispatch(event.MEDIA_NEW, media.ID)

	return media, nil
}

// GetByChecksum exposes content-level lookup to the import pipeline's
// deduplication stage.
func (service *Service) GetByChecksum(checksum string) (*Media, error) {
	return service.store.GetByChecksum(service.db.GetSqlxDb(), checksum)
}

func (service *Service) ChecksumExists(checksum string) (bool, error) {
	return service.store.ChecksumExists(service.db.GetSqlxDb(), checksum)
}

// ResolveOwner finds the user a watch configuration refers to, accepting
// either a username or an email address.
func (service *Service) ResolveOwner(identifier string) (uuid.UUID, error) {
	owner, err := service.userStore.GetByUsernameOrEmail(service.db.GetSqlxDb(), identifier)
	if err != nil {
		return uuid.Nil, err
	}

	return owner.ID, nil
}

// ResolveChannel finds the channel with the given title belonging to the
// owner. Channels are not implicitly created.
func (service *Service) ResolveChannel(ownerID uuid.UUID, title string) (uuid.UUID, error) {
	channel, err := service.store.GetChannel(service.db.GetSqlxDb(), ownerID, title)
	if err != nil {
		return uuid.Nil, err
	}

	return channel.ID, nil
}

// ResolveCategories maps the category titles given to their IDs, failing if
// any do not exist.
func (service *Service) ResolveCategories(titles []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(titles))
	for _, title := range titles {
		category, err := service.store.GetCategory(service.db.GetSqlxDb(), title)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", title, err)
		}

		ids = append(ids, category.ID)
	}

	return ids, nil
}
