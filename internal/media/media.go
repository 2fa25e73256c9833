package media

import (
	"time"

	"github.com/google/uuid"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
)

func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityUnlisted:
		return true
	}

	return false
}

type (
	// Media is a single imported file. The checksum column carries a UNIQUE
	// constraint, making the database the final authority on content-level
	// deduplication regardless of how many watchers race to import.
	Media struct {
		ID          uuid.UUID  `db:"id"`
		Title       string     `db:"title"`
		Description string     `db:"description"`
		Checksum    string     `db:"checksum"`
		SizeBytes   int64      `db:"size_bytes"`
		SourcePath  string     `db:"source_path"`
		Visibility  Visibility `db:"visibility"`
		OwnerID     uuid.UUID  `db:"owner_id"`
		ChannelID   *uuid.UUID `db:"channel_id"`
		CreatedAt   time.Time  `db:"created_at"`

		// Tags is populated from the joined tag rows on read paths; it is
		// never written directly (see Store.BindTags).
		Tags []string `db:"-"`
	}

	Channel struct {
		ID      uuid.UUID `db:"id"`
		Title   string    `db:"title"`
		OwnerID uuid.UUID `db:"owner_id"`
	}

	Category struct {
		ID    uuid.UUID `db:"id"`
		Title string    `db:"title"`
	}

	Tag struct {
		ID    uuid.UUID `db:"id"`
		Title string    `db:"title"`
	}
)
