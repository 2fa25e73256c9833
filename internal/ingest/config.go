package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFileSizeBytes caps imports at roughly 4GB unless overridden
// per deployment.
const DefaultMaxFileSizeBytes int64 = 800 * 1024 * 1000 * 5

type WatchMode string

const (
	// WatchModeEvents listens to OS file system notifications and debounces
	// them before handing settled files to the import pipeline.
	WatchModeEvents WatchMode = "events"

	// WatchModePoll scans the watched directory on a fixed interval,
	// relying on the import ledger to skip already-processed paths.
	WatchModePoll WatchMode = "poll"
)

type ProcessedAction string

const (
	ActionNone   ProcessedAction = "none"
	ActionMove   ProcessedAction = "move"
	ActionDelete ProcessedAction = "delete"
)

// Config contains service-wide ingestion options shared by every watch.
type Config struct {
	// Controls the number of workers that can perform imports. Reducing
	// to 1 means one import at a time.
	Parallelism int `yaml:"parallelism" env:"INGEST_PARALLELISM" env-default:"2"`

	// Files larger than this are rejected during validation. Zero means
	// the default ceiling applies.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes" env:"INGEST_MAX_FILE_SIZE" env-default:"0"`
}

func (config *Config) MaxFileSize() int64 {
	if config.MaxFileSizeBytes <= 0 {
		return DefaultMaxFileSizeBytes
	}

	return config.MaxFileSizeBytes
}

// WatchConfig describes a single watched directory and the import defaults
// applied to every file discovered beneath it.
type WatchConfig struct {
	// Name identifies this watch in the ledger and in logs. If omitted,
	// the cleaned absolute Path is used.
	Name string `yaml:"name"`

	// Path is the directory to watch. A '~' prefix is expanded to the
	// users home directory at load time.
	Path string `yaml:"path" validate:"required"`

	// Owner is the username OR email of the user imported media is
	// attributed to.
	Owner string `yaml:"owner" validate:"required"`

	Mode      WatchMode `yaml:"mode" validate:"omitempty,oneof=events poll"`
	Recursive bool      `yaml:"recursive"`

	// Extensions restricts imports to the listed file extensions (with or
	// without a leading dot, case-insensitive). Empty means all files.
	Extensions []string `yaml:"extensions"`

	Visibility string `yaml:"visibility" validate:"omitempty,oneof=public private unlisted"`

	// Action controls what happens to a source file after a successful
	// import: left in place, moved under ProcessedDir, or deleted.
	Action       ProcessedAction `yaml:"action" validate:"omitempty,oneof=none move delete"`
	ProcessedDir string          `yaml:"processed_dir"`

	DebounceWindowSeconds int `yaml:"debounce_window_seconds"`
	PollIntervalSeconds   int `yaml:"poll_interval_seconds"`

	// Channel, Categories and Tags are applied to every import from this
	// watch. Channel and categories must already exist; tags are created
	// on demand.
	Channel    string   `yaml:"channel"`
	Categories []string `yaml:"categories"`
	Tags       []string `yaml:"tags"`

	// Description overrides the generated per-file description.
	Description string `yaml:"description"`
}

// ConfigName returns the stable identifier stamped on to ledger rows
// produced by this watch.
func (watch *WatchConfig) ConfigName() string {
	if watch.Name != "" {
		return watch.Name
	}

	return filepath.Clean(watch.Path)
}

func (watch *WatchConfig) WatchMode() WatchMode {
	if watch.Mode == "" {
		return WatchModeEvents
	}

	return watch.Mode
}

func (watch *WatchConfig) DebounceWindow() time.Duration {
	if watch.DebounceWindowSeconds <= 0 {
		return time.Second * 5
	}

	return time.Duration(watch.DebounceWindowSeconds) * time.Second
}

func (watch *WatchConfig) PollInterval() time.Duration {
	if watch.PollIntervalSeconds <= 0 {
		return time.Minute
	}

	return time.Duration(watch.PollIntervalSeconds) * time.Second
}

func (watch *WatchConfig) ProcessedAction() ProcessedAction {
	if watch.Action == "" {
		return ActionNone
	}

	return watch.Action
}

// NormalisedExtensions returns the configured extension filter lowercased
// and dot-prefixed, ready for comparison against filepath.Ext output.
func (watch *WatchConfig) NormalisedExtensions() []string {
	out := make([]string, 0, len(watch.Extensions))
	for _, ext := range watch.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}

		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		out = append(out, ext)
	}

	return out
}

// AllowsExtension reports whether the path's extension passes this watch's
// filter. An empty filter allows everything.
func (watch *WatchConfig) AllowsExtension(path string) bool {
	allowed := watch.NormalisedExtensions()
	if len(allowed) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range allowed {
		if a == ext {
			return true
		}
	}

	return false
}

func (watch *WatchConfig) String() string {
	return fmt.Sprintf("Watch{name=%s path=%s mode=%s}", watch.ConfigName(), watch.Path, watch.WatchMode())
}
