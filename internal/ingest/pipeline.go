package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Siphon/internal/media"
	"github.com/hbomb79/Siphon/pkg/logger"
)

type (
	// mediaCollaborator is the boundary between the import pipeline and
	// media persistence. The concrete implementation is the media service.
	mediaCollaborator interface {
		CreateMedia(media.CreateMediaRequest) (*media.Media, error)
		GetByChecksum(checksum string) (*media.Media, error)
	}

	// importLedger is the durable path-level memory consulted and updated
	// by the pipeline.
	importLedger interface {
		GetOrCreate(sourcePath string, configName string) (*LedgerEntry, bool, error)
		MarkImported(sourcePath string, mediaID uuid.UUID, checksum string) error
	}

	// WatchIdentity carries the database identities a watch configuration
	// resolves to. Resolution happens once at watch start rather than per
	// file.
	WatchIdentity struct {
		OwnerID     uuid.UUID
		ChannelID   *uuid.UUID
		CategoryIDs []uuid.UUID
	}

	// Options adjust pipeline behaviour per processing run.
	Options struct {
		// LedgerGate skips files whose ledger row already records an
		// import. Poll-mode sessions enable this; event-mode sessions rely
		// on content dedup alone as a settled event implies a new write.
		LedgerGate bool

		// Force processes files even when the ledger gate would skip them.
		Force bool

		// DryRun reports what would happen without writing to the
		// database or touching any file.
		DryRun bool
	}

	// Pipeline executes the import state machine for a single file. It is
	// stateless; all per-file state lives on the ImportItem.
	Pipeline struct {
		config       Config
		collaborator mediaCollaborator
		ledger       importLedger
	}
)

func NewPipeline(config Config, collaborator mediaCollaborator, ledger importLedger) *Pipeline {
	return &Pipeline{
		config:       config,
		collaborator: collaborator,
		ledger:       ledger,
	}
}

// Process runs the item through validation, ledger consultation, content
// fingerprinting, deduplication and persistence. The item's state is
// advanced as each stage completes; errors which may be resolvable are
// returned as a Trouble.
func (pipeline *Pipeline) Process(item *ImportItem, identity WatchIdentity, opts Options) error {
	watch := item.Watch

	info, err := pipeline.validate(item)
	if err != nil {
		return err
	}
	if info == nil {
		item.State = Skipped
		return nil
	}

	if opts.DryRun {
		log.Emit(logger.INFO, "[dry-run] would import %s (%d bytes) for watch %s\n", item.Path, info.Size(), watch.ConfigName())
		item.State = Skipped
		return nil
	}

	entry, created, err := pipeline.ledger.GetOrCreate(item.Path, watch.ConfigName())
	if err != nil {
		return newTrouble(LedgerFailure, err)
	}

	if opts.LedgerGate && !opts.Force && entry.IsImported() {
		log.Emit(logger.DEBUG, "Skipping %s: ledger already records import as media %s\n", item.Path, entry.MediaID)
		item.MediaID = entry.MediaID
		item.State = Skipped
		return nil
	}

	if created {
		log.Emit(logger.VERBOSE, "Ledger entry created for %s\n", item.Path)
	}

	checksum, err := media.ComputeChecksum(item.Path)
	if err != nil {
		return newTrouble(IOFailure, err)
	}

	if existing, err := pipeline.collaborator.GetByChecksum(checksum); err == nil {
		log.Emit(logger.INFO, "Skipping %s: content matches existing media %s\n", item.Path, existing.ID)
		item.MediaID = &existing.ID
		item.State = Duplicate

		if err := pipeline.relocate(item, "duplicates"); err != nil {
			return newTrouble(IOFailure, err)
		}

		return nil
	} else if !errors.Is(err, media.ErrMediaNotFound) {
		return newTrouble(CollaboratorFailure, err)
	}

	newMedia, err := pipeline.collaborator.CreateMedia(media.CreateMediaRequest{
		Title:       titleForPath(item.Path),
		Description: descriptionFor(watch, item.Path),
		Checksum:    checksum,
		SizeBytes:   info.Size(),
		SourcePath:  item.Path,
		Visibility:  visibilityFor(watch),
		OwnerID:     identity.OwnerID,
		ChannelID:   identity.ChannelID,
		CategoryIDs: identity.CategoryIDs,
		TagTitles:   watch.Tags,
	})
	if err != nil {
		return newTrouble(CollaboratorFailure, err)
	}

	if err := pipeline.ledger.MarkImported(item.Path, newMedia.ID, checksum); err != nil {
		if errors.Is(err, ErrAlreadyImported) {
			// A forced re-import of changed content lands here. The ledger
			// keeps it's original media reference; the new media stands on
			// it's own.
			log.Emit(logger.WARNING, "Ledger entry for %s already references media; new media %s not recorded against it\n", item.Path, newMedia.ID)
		} else {
			return newTrouble(LedgerFailure, err)
		}
	}

	item.MediaID = &newMedia.ID
	item.State = Imported
	log.Emit(logger.SUCCESS, "Imported %s as media %s\n", item.Path, newMedia.ID)

	if err := pipeline.postProcess(item); err != nil {
		return newTrouble(IOFailure, err)
	}

	return nil
}

// validate checks the file still exists, is a regular file, passes the
// extension filter and falls within the size ceiling. A nil FileInfo with a
// nil error means the file should be silently skipped.
func (pipeline *Pipeline) validate(item *ImportItem) (os.FileInfo, error) {
	info, err := os.Stat(item.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Emit(logger.DEBUG, "Skipping %s: file no longer exists\n", item.Path)
			return nil, nil
		}

		return nil, newTrouble(IOFailure, err)
	}

	if !info.Mode().IsRegular() {
		log.Emit(logger.DEBUG, "Skipping %s: not a regular file\n", item.Path)
		return nil, nil
	}

	if !item.Watch.AllowsExtension(item.Path) {
		log.Emit(logger.DEBUG, "Skipping %s: extension not allowed by watch %s\n", item.Path, item.Watch.ConfigName())
		return nil, nil
	}

	if info.Size() == 0 {
		log.Emit(logger.WARNING, "Skipping %s: file is empty\n", item.Path)
		return nil, nil
	}

	if info.Size() > pipeline.config.MaxFileSize() {
		log.Emit(logger.WARNING, "Skipping %s: size %d exceeds ceiling %d\n", item.Path, info.Size(), pipeline.config.MaxFileSize())
		return nil, nil
	}

	return info, nil
}

// postProcess applies the watch's configured action to a successfully
// imported source file.
func (pipeline *Pipeline) postProcess(item *ImportItem) error {
	switch item.Watch.ProcessedAction() {
	case ActionNone:
		return nil
	case ActionDelete:
		log.Emit(logger.REMOVE, "Deleting imported source file %s\n", item.Path)
		return os.Remove(item.Path)
	case ActionMove:
		return pipeline.relocate(item, "imported")
	}

	return nil
}

// relocate moves the item's source file in to the named subdirectory of the
// watch's processed dir. Duplicates are relocated regardless of the
// configured action (they would otherwise be rediscovered forever), but
// only when a processed dir is configured.
func (pipeline *Pipeline) relocate(item *ImportItem, subdir string) error {
	root := item.Watch.ProcessedDir
	if root == "" {
		return nil
	}

	destDir := filepath.Join(root, subdir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create processed dir %s: %w", destDir, err)
	}

	dest := filepath.Join(destDir, filepath.Base(item.Path))
	if _, err := os.Stat(dest); err == nil {
		// A file with this name already landed here; disambiguate with a
		// timestamp suffix.
		ext := filepath.Ext(dest)
		stem := dest[:len(dest)-len(ext)]
		dest = fmt.Sprintf("%s_%s%s", stem, time.Now().Format("20060102_150405"), ext)
	}

	log.Emit(logger.INFO, "Moving %s -> %s\n", item.Path, dest)
	if err := os.Rename(item.Path, dest); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", item.Path, dest, err)
	}

	return nil
}

// titleForPath derives the media title from the file name, minus extension.
func titleForPath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func descriptionFor(watch *WatchConfig, path string) string {
	if watch.Description != "" {
		return watch.Description
	}

	return fmt.Sprintf("Auto-imported from %s on %s", path, time.Now().Format(time.RFC3339))
}

func visibilityFor(watch *WatchConfig) media.Visibility {
	if watch.Visibility == "" {
		return media.VisibilityPrivate
	}

	return media.Visibility(watch.Visibility)
}
