package ingest

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Siphon/internal/database"
)

var (
	ErrLedgerEntryNotFound = errors.New("no ledger entry exists for path")
	ErrAlreadyImported     = errors.New("ledger entry already records an import for path")
)

type (
	// LedgerEntry is the durable record of Siphon's history with a source
	// path. The source_path column is UNIQUE, so concurrent watchers racing
	// on the same file converge on a single row.
	LedgerEntry struct {
		ID          uuid.UUID  `db:"id"`
		SourcePath  string     `db:"source_path"`
		ConfigName  string     `db:"config_name"`
		Checksum    *string    `db:"checksum"`
		MediaID     *uuid.UUID `db:"media_id"`
		ImportedAt  *time.Time `db:"imported_at"`
		FirstSeenAt time.Time  `db:"first_seen_at"`
		LastSeenAt  time.Time  `db:"last_seen_at"`
	}

	LedgerStore struct{}
)

// IsImported reports whether this entry records a completed import.
func (entry *LedgerEntry) IsImported() bool {
	return entry.MediaID != nil
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// GetOrCreate upserts the ledger row for the given path. An existing row has
// it's last_seen_at refreshed and config_name re-stamped (the most recent
// watch to observe a path owns it); a missing row is created. The returned
// 'created' flag distinguishes the two, derived from the rows xmax.
func (store *LedgerStore) GetOrCreate(db database.Queryable, sourcePath string, configName string) (*LedgerEntry, bool, error) {
	row := db.QueryRowx(`
		INSERT INTO import_ledger(id, source_path, config_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_path) DO UPDATE
			SET last_seen_at = current_timestamp, config_name = EXCLUDED.config_name
		RETURNING *, (xmax = 0) AS was_created
	`, uuid.New(), sourcePath, configName)

	var result struct {
		LedgerEntry
		WasCreated bool `db:"was_created"`
	}
	if err := row.StructScan(&result); err != nil {
		return nil, false, fmt.Errorf("failed to upsert ledger entry for %s: %w", sourcePath, err)
	}

	return &result.LedgerEntry, result.WasCreated, nil
}

// Get fetches the ledger entry for a path, returning ErrLedgerEntryNotFound
// if the path has never been observed.
func (store *LedgerStore) Get(db database.Queryable, sourcePath string) (*LedgerEntry, error) {
	var entry LedgerEntry
	if err := db.Get(&entry, `SELECT * FROM import_ledger WHERE source_path=$1`, sourcePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLedgerEntryNotFound
		}

		return nil, err
	}

	return &entry, nil
}

// MarkImported records a completed import against the path's ledger row. The
// update is guarded on media_id still being NULL, which makes the mark
// atomic: of two racing importers, exactly one wins and the loser receives
// ErrAlreadyImported.
func (store *LedgerStore) MarkImported(db database.Queryable, sourcePath string, mediaID uuid.UUID, checksum string) error {
	result, err := db.Exec(`
		UPDATE import_ledger
		SET media_id=$2, checksum=$3, imported_at=current_timestamp
		WHERE source_path=$1 AND media_id IS NULL
	`, sourcePath, mediaID, checksum)
	if err != nil {
		return fmt.Errorf("failed to mark ledger entry %s as imported: %w", sourcePath, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		if _, err := store.Get(db, sourcePath); err != nil {
			return err
		}

		return ErrAlreadyImported
	}

	return nil
}

// IsImported reports whether a completed import is recorded for the path.
// A path with no ledger row is simply not imported.
func (store *LedgerStore) IsImported(db database.Queryable, sourcePath string) (bool, error) {
	entry, err := store.Get(db, sourcePath)
	if err != nil {
		if errors.Is(err, ErrLedgerEntryNotFound) {
			return false, nil
		}

		return false, err
	}

	return entry.IsImported(), nil
}

// ListForConfig returns every ledger entry stamped with the given watch
// config name, most recently seen first.
func (store *LedgerStore) ListForConfig(db database.Queryable, configName string) ([]*LedgerEntry, error) {
	var entries []*LedgerEntry
	err := db.Select(&entries, `
		SELECT * FROM import_ledger WHERE config_name=$1 ORDER BY last_seen_at DESC
	`, configName)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Ledger binds the LedgerStore to a live database connection, providing the
// connection-free surface the pipeline consumes.
type Ledger struct {
	db    database.Manager
	store *LedgerStore
}

func NewLedger(db database.Manager) *Ledger {
	return &Ledger{db: db, store: NewLedgerStore()}
}

func (ledger *Ledger) GetOrCreate(sourcePath string, configName string) (*LedgerEntry, bool, error) {
	return ledger.store.GetOrCreate(ledger.db.GetSqlxDb(), sourcePath, configName)
}

func (ledger *Ledger) MarkImported(sourcePath string, mediaID uuid.UUID, checksum string) error {
	return ledger.store.MarkImported(ledger.db.GetSqlxDb(), sourcePath, mediaID, checksum)
}

func (ledger *Ledger) IsImported(sourcePath string) (bool, error) {
	return ledger.store.IsImported(ledger.db.GetSqlxDb(), sourcePath)
}
