package internal

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Siphon/internal/database"
	"github.com/hbomb79/Siphon/internal/ingest"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// SiphonConfig is the struct used to contain the various user config
// supplied by file, or manually inside the code.
type SiphonConfig struct {
	Ingest   ingest.Config           `yaml:"ingest"`
	Watches  []ingest.WatchConfig    `yaml:"watches" validate:"required,min=1,dive"`
	Services ServiceConfig           `yaml:"docker_services"`
	Database database.DatabaseConfig `yaml:"database" env-required:"true"`
}

// ServiceConfig is used to enable/disable the internal initialisation of
// supporting services for Siphon. Deployments with an existing Postgres
// instance should disable the embedded one.
type ServiceConfig struct {
	EnablePostgres bool `yaml:"enable_postgres" env:"SERVICE_ENABLE_POSTGRES" env-default:"false"`
}

// LoadFromFile loads a YAML configuration file in to a SiphonConfig,
// expanding '~' in watch paths and validating the result.
func (config *SiphonConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	for i := range config.Watches {
		watch := &config.Watches[i]

		expanded, err := homedir.Expand(watch.Path)
		if err != nil {
			return fmt.Errorf("failed to expand watch path %q: %w", watch.Path, err)
		}
		watch.Path = expanded

		if watch.ProcessedDir != "" {
			expanded, err := homedir.Expand(watch.ProcessedDir)
			if err != nil {
				return fmt.Errorf("failed to expand processed dir %q: %w", watch.ProcessedDir, err)
			}
			watch.ProcessedDir = expanded
		}
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	return nil
}
