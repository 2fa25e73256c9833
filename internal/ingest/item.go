package ingest

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

type (
	ImportItemState int

	// ImportItem tracks one discovered file through the import pipeline.
	// Items are held in memory by the service; the durable record of the
	// outcome lives in the import ledger.
	ImportItem struct {
		ID      uuid.UUID
		Path    string
		Watch   *WatchConfig
		State   ImportItemState
		Trouble *Trouble

		// MediaID is set once the item reaches Imported (or Duplicate, in
		// which case it references the already-existing media).
		MediaID *uuid.UUID

		// opts are the processing options the item was enqueued with.
		opts Options
	}
)

const (
	// Discovered items are waiting for a worker to claim them.
	Discovered ImportItemState = iota

	// Importing items are owned by a worker and progressing through
	// validation, checksumming and persistence.
	Importing

	// Skipped is terminal: the ledger already records an import for this
	// path and the item was discarded without touching the file content.
	Skipped

	// Duplicate is terminal: the file's content fingerprint matches media
	// that already exists.
	Duplicate

	// Imported is terminal: a new media record was created for this file.
	Imported

	// Troubled items hit an error a human (or a retry) may be able to fix.
	Troubled
)

var (
	ErrNoTrouble                     = errors.New("import has no trouble")
	ErrImportNotFound                = errors.New("no import item could be found")
	ErrResolutionIncompatible        = errors.New("provided resolution method is not valid for import trouble")
	ErrResolutionContextIncompatible = errors.New("trouble resolution failed, consult logs for further information")
)

// IsTerminal reports whether the item has finished processing (successfully
// or otherwise). Troubled is not terminal as a resolution may revive it.
func (item *ImportItem) IsTerminal() bool {
	switch item.State {
	case Skipped, Duplicate, Imported:
		return true
	}

	return false
}

func (item *ImportItem) String() string {
	return fmt.Sprintf("ImportItem{ID=%s state=%s path=%s}", item.ID, item.State, item.Path)
}

func (s ImportItemState) String() string {
	switch s {
	case Discovered:
		return fmt.Sprintf("DISCOVERED[%d]", s)
	case Importing:
		return fmt.Sprintf("IMPORTING[%d]", s)
	case Skipped:
		return fmt.Sprintf("SKIPPED[%d]", s)
	case Duplicate:
		return fmt.Sprintf("DUPLICATE[%d]", s)
	case Imported:
		return fmt.Sprintf("IMPORTED[%d]", s)
	case Troubled:
		return fmt.Sprintf("TROUBLED[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

type (
	TroubleType int
	Trouble     struct {
		error
		tType TroubleType
	}

	ResolutionType  int
	RetryResolution struct{}
	AbortResolution struct{}
)

const (
	// IOFailure covers problems reading, moving or deleting the source
	// file. Usually transient (permissions, NFS hiccups) so retryable.
	IOFailure TroubleType = iota

	// CollaboratorFailure covers errors raised by the media service while
	// committing the import.
	CollaboratorFailure

	// LedgerFailure covers errors reading or writing the import ledger.
	LedgerFailure

	GenericFailure

	RETRY ResolutionType = iota
	ABORT
)

var allowedResolutionTypes = map[TroubleType][]ResolutionType{
	IOFailure:           {ABORT, RETRY},
	CollaboratorFailure: {ABORT, RETRY},
	LedgerFailure:       {ABORT, RETRY},
	GenericFailure:      {ABORT, RETRY},
}

func newTrouble(tType TroubleType, err error) Trouble {
	return Trouble{error: err, tType: tType}
}

func (t *Trouble) Type() TroubleType { return t.tType }

func (t *Trouble) AllowedResolutionTypes() []ResolutionType {
	if allowed, ok := allowedResolutionTypes[t.tType]; ok {
		return allowed
	}

	return []ResolutionType{}
}

func (t *Trouble) isResolutionTypeAllowed(resType ResolutionType) bool {
	for _, v := range t.AllowedResolutionTypes() {
		if v == resType {
			return true
		}
	}

	return false
}

// GenerateResolution constructs the resolution payload for the method
// provided. The context map is weakly decoded, so string-typed values from
// an external caller are acceptable.
func (t *Trouble) GenerateResolution(resolutionMethod ResolutionType, context map[string]any) (interface{}, error) {
	if !t.isResolutionTypeAllowed(resolutionMethod) {
		return nil, ErrResolutionIncompatible
	}

	switch resolutionMethod {
	case ABORT:
		resolution := &AbortResolution{}
		if err := mapstructure.WeakDecode(context, resolution); err != nil {
			return nil, ErrResolutionContextIncompatible
		}

		return resolution, nil
	case RETRY:
		resolution := &RetryResolution{}
		if err := mapstructure.WeakDecode(context, resolution); err != nil {
			return nil, ErrResolutionContextIncompatible
		}

		return resolution, nil
	default:
		return nil, ErrResolutionIncompatible
	}
}

func (t TroubleType) String() string {
	switch t {
	case IOFailure:
		return fmt.Sprintf("IO_FAILURE[%d]", t)
	case CollaboratorFailure:
		return fmt.Sprintf("COLLABORATOR_FAILURE[%d]", t)
	case LedgerFailure:
		return fmt.Sprintf("LEDGER_FAILURE[%d]", t)
	default:
		return fmt.Sprintf("GENERIC_FAILURE[%d]", t)
	}
}
