package media

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hbomb79/Siphon/internal/database"
)

var (
	ErrMediaNotFound    = errors.New("media does not exist")
	ErrChannelNotFound  = errors.New("channel does not exist")
	ErrCategoryNotFound = errors.New("category does not exist")
)

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (store *Store) Save(db database.Queryable, media *Media) error {
	_, err := db.NamedExec(`
		INSERT INTO media(id, title, description, checksum, size_bytes, source_path, visibility, owner_id, channel_id, created_at)
		VALUES (:id, :title, :description, :checksum, :size_bytes, :source_path, :visibility, :owner_id, :channel_id, current_timestamp)
	`, media)
	if err != nil {
		return fmt.Errorf("failed to insert media: %w", err)
	}

	return nil
}

func (store *Store) GetWithID(db database.Queryable, id uuid.UUID) (*Media, error) {
	query, args, err := selectMediaBuilder().Where("media.id=?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select media query: %w", err)
	}

	var result mediaModel
	if err := db.Get(&result, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMediaNotFound
		}

		return nil, err
	}

	return mediaModelToMedia(&result), nil
}

// GetByChecksum returns the media record whose content fingerprint matches
// the checksum given, or ErrMediaNotFound.
func (store *Store) GetByChecksum(db database.Queryable, checksum string) (*Media, error) {
	query, args, err := selectMediaBuilder().Where("media.checksum=?", checksum).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select media query: %w", err)
	}

	var result mediaModel
	if err := db.Get(&result, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMediaNotFound
		}

		return nil, err
	}

	return mediaModelToMedia(&result), nil
}

func (store *Store) ChecksumExists(db database.Queryable, checksum string) (bool, error) {
	var exists bool
	if err := db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM media WHERE checksum=$1)`, checksum); err != nil {
		return false, err
	}

	return exists, nil
}

func (store *Store) List(db database.Queryable) ([]*Media, error) {
	query, args, err := selectMediaBuilder().ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list media query: %w", err)
	}

	var results []mediaModel
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*Media, len(results))
	for k, v := range results {
		output[k] = mediaModelToMedia(&v)
	}

	return output, nil
}

// GetChannel resolves a channel owned by the given user by it's title.
// Channels are never implicitly created; a missing channel is a
// configuration error surfaced to the caller.
func (store *Store) GetChannel(db database.Queryable, ownerID uuid.UUID, title string) (*Channel, error) {
	var channel Channel
	err := db.Get(&channel, `SELECT * FROM channels WHERE owner_id=$1 AND title=$2`, ownerID, title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChannelNotFound
		}

		return nil, err
	}

	return &channel, nil
}

// GetCategory resolves a category by title. As with channels, categories
// must already exist.
func (store *Store) GetCategory(db database.Queryable, title string) (*Category, error) {
	var category Category
	err := db.Get(&category, `SELECT * FROM categories WHERE title=$1`, title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}

		return nil, err
	}

	return &category, nil
}

// GetOrCreateTag resolves a tag by title, creating it if it doesn't yet
// exist. Unlike channels and categories, tags are free-form.
func (store *Store) GetOrCreateTag(db database.Queryable, title string) (*Tag, error) {
	var tag Tag
	err := db.Get(&tag, `
		INSERT INTO tags(id, title) VALUES ($1, $2)
		ON CONFLICT (title) DO UPDATE SET title=EXCLUDED.title
		RETURNING *
	`, uuid.New(), title)
	if err != nil {
		return nil, fmt.Errorf("failed to get-or-create tag %s: %w", title, err)
	}

	return &tag, nil
}

func (store *Store) BindCategories(db database.Queryable, mediaID uuid.UUID, categoryIDs []uuid.UUID) error {
	for _, id := range categoryIDs {
		if _, err := db.Exec(`
			INSERT INTO media_categories(media_id, category_id) VALUES ($1, $2)
			ON CONFLICT (media_id, category_id) DO NOTHING
		`, mediaID, id); err != nil {
			return fmt.Errorf("failed to bind category %s to media %s: %w", id, mediaID, err)
		}
	}

	return nil
}

func (store *Store) BindTags(db database.Queryable, mediaID uuid.UUID, tagIDs []uuid.UUID) error {
	for _, id := range tagIDs {
		if _, err := db.Exec(`
			INSERT INTO media_tags(media_id, tag_id) VALUES ($1, $2)
			ON CONFLICT (media_id, tag_id) DO NOTHING
		`, mediaID, id); err != nil {
			return fmt.Errorf("failed to bind tag %s to media %s: %w", id, mediaID, err)
		}
	}

	return nil
}

type mediaModel struct {
	Media
	Tags database.JsonColumn[[]string] `db:"tags"`
}

func selectMediaBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("media.*", "COALESCE(JSONB_AGG(DISTINCT tags.title) FILTER (WHERE tags.id IS NOT NULL), '[]') AS tags").
		From("media").
		LeftJoin("media_tags ON media_tags.media_id = media.id").
		LeftJoin("tags ON tags.id = media_tags.tag_id").
		GroupBy("media.id")
}

func mediaModelToMedia(model *mediaModel) *Media {
	out := model.Media
	out.Tags = *model.Tags.Get()
	return &out
}
