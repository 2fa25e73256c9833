package integration_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hbomb79/Siphon/internal/ingest"
	"github.com/hbomb79/Siphon/internal/media"
	"github.com/hbomb79/Siphon/internal/user"
	"github.com/hbomb79/Siphon/tests/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_GetOrCreate_UpsertSemantics(t *testing.T) {
	db := helpers.RequireDatabase(t)
	store := ingest.NewLedgerStore()

	entry, created, err := store.GetOrCreate(db.GetSqlxDb(), "/watch/a/file.mp4", "watch-a")
	require.NoError(t, err)
	assert.True(t, created, "first observation of a path should create the ledger row")
	assert.Equal(t, "watch-a", entry.ConfigName)
	assert.False(t, entry.IsImported())

	// A second observation from a different watch must reuse the row,
	// re-stamping the config name and advancing last_seen_at.
	again, created, err := store.GetOrCreate(db.GetSqlxDb(), "/watch/a/file.mp4", "watch-b")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, entry.ID, again.ID)
	assert.Equal(t, "watch-b", again.ConfigName)
	assert.Equal(t, entry.FirstSeenAt, again.FirstSeenAt)
	assert.True(t, again.LastSeenAt.After(entry.LastSeenAt) || again.LastSeenAt.Equal(entry.LastSeenAt))

	// The re-stamped row now belongs to watch-b.
	entries, err := store.ListForConfig(db.GetSqlxDb(), "watch-b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)

	orphaned, err := store.ListForConfig(db.GetSqlxDb(), "watch-a")
	require.NoError(t, err)
	assert.Empty(t, orphaned)
}

func TestLedger_MarkImported_AtMostOncePerPath(t *testing.T) {
	db := helpers.RequireDatabase(t)
	ledgerStore := ingest.NewLedgerStore()
	mediaStore := media.NewStore()
	userStore := user.NewStore()

	owner, err := userStore.Create(db.GetSqlxDb(), "importer", "importer@example.com")
	require.NoError(t, err)

	first := &media.Media{
		ID: uuid.New(), Title: "first", Checksum: "aaa111", SizeBytes: 10,
		SourcePath: "/watch/file.mp4", Visibility: media.VisibilityPrivate, OwnerID: owner.ID,
	}
	second := &media.Media{
		ID: uuid.New(), Title: "second", Checksum: "bbb222", SizeBytes: 20,
		SourcePath: "/watch/file.mp4", Visibility: media.VisibilityPrivate, OwnerID: owner.ID,
	}
	require.NoError(t, mediaStore.Save(db.GetSqlxDb(), first))
	require.NoError(t, mediaStore.Save(db.GetSqlxDb(), second))

	_, _, err = ledgerStore.GetOrCreate(db.GetSqlxDb(), "/watch/file.mp4", "watch")
	require.NoError(t, err)

	require.NoError(t, ledgerStore.MarkImported(db.GetSqlxDb(), "/watch/file.mp4", first.ID, first.Checksum))

	imported, err := ledgerStore.IsImported(db.GetSqlxDb(), "/watch/file.mp4")
	require.NoError(t, err)
	assert.True(t, imported)

	// The second mark must lose: the guard on media_id IS NULL means the
	// row is never reassigned.
	err = ledgerStore.MarkImported(db.GetSqlxDb(), "/watch/file.mp4", second.ID, second.Checksum)
	assert.ErrorIs(t, err, ingest.ErrAlreadyImported)

	entry, err := ledgerStore.Get(db.GetSqlxDb(), "/watch/file.mp4")
	require.NoError(t, err)
	require.NotNil(t, entry.MediaID)
	assert.Equal(t, first.ID, *entry.MediaID)
}

func TestLedger_IsImported_UnknownPath(t *testing.T) {
	db := helpers.RequireDatabase(t)
	store := ingest.NewLedgerStore()

	imported, err := store.IsImported(db.GetSqlxDb(), "/never/seen.mp4")
	require.NoError(t, err)
	assert.False(t, imported)

	_, err = store.Get(db.GetSqlxDb(), "/never/seen.mp4")
	assert.ErrorIs(t, err, ingest.ErrLedgerEntryNotFound)
}

func TestMediaStore_ChecksumUniqueness(t *testing.T) {
	db := helpers.RequireDatabase(t)
	mediaStore := media.NewStore()
	userStore := user.NewStore()

	owner, err := userStore.Create(db.GetSqlxDb(), "uniq", "uniq@example.com")
	require.NoError(t, err)

	first := &media.Media{
		ID: uuid.New(), Title: "one", Checksum: "samesum", SizeBytes: 5,
		SourcePath: "/a.mp4", Visibility: media.VisibilityPublic, OwnerID: owner.ID,
	}
	require.NoError(t, mediaStore.Save(db.GetSqlxDb(), first))

	dup := &media.Media{
		ID: uuid.New(), Title: "two", Checksum: "samesum", SizeBytes: 5,
		SourcePath: "/b.mp4", Visibility: media.VisibilityPublic, OwnerID: owner.ID,
	}
	assert.Error(t, mediaStore.Save(db.GetSqlxDb(), dup), "database must reject a second media row with the same checksum")

	found, err := mediaStore.GetByChecksum(db.GetSqlxDb(), "samesum")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = mediaStore.GetByChecksum(db.GetSqlxDb(), "nosuchsum")
	assert.ErrorIs(t, err, media.ErrMediaNotFound)
}

func TestUserStore_ResolveByUsernameOrEmail(t *testing.T) {
	db := helpers.RequireDatabase(t)
	userStore := user.NewStore()

	created, err := userStore.Create(db.GetSqlxDb(), "alex", "alex@example.com")
	require.NoError(t, err)

	byName, err := userStore.GetByUsernameOrEmail(db.GetSqlxDb(), "alex")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	byEmail, err := userStore.GetByUsernameOrEmail(db.GetSqlxDb(), "alex@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = userStore.GetByUsernameOrEmail(db.GetSqlxDb(), "nobody")
	assert.ErrorIs(t, err, user.ErrUserNotFound)
}
