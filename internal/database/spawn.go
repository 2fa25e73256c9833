package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/hbomb79/Siphon/pkg/docker"
)

// DatabaseConfig is a subset of the configuration focusing solely
// on database connection items
type DatabaseConfig struct {
	User     string `yaml:"username" env:"DB_USERNAME" env-required:"true"`
	Password string `yaml:"password" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env:"DB_NAME" env-default:"SIPHON_DB"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
}

const postgresImage = "postgres:14.1-alpine"

// InitialiseDockerDatabase spawns a Postgres container configured to match
// the provided DatabaseConfig. The containers data directory is bind-mounted
// in to the users home directory so imports survive restarts. A crash of the
// container after a successful spawn is reported over errChannel.
func InitialiseDockerDatabase(dockerManager docker.Manager, config DatabaseConfig, errChannel chan error) (docker.Container, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot initialise docker db volume mount as user home dir is unavailable: %w", err)
	}

	dbDataPath := filepath.Join(homeDir, "siphon_db.dat")
	if err := os.MkdirAll(dbDataPath, os.ModeDir); err != nil {
		return nil, err
	}

	containerConfig := &container.Config{
		Image: postgresImage,
		Env: []string{
			fmt.Sprintf("POSTGRES_PASSWORD=%s", config.Password),
			fmt.Sprintf("POSTGRES_USER=%s", config.User),
			fmt.Sprintf("POSTGRES_DB=%s", config.Name),
			fmt.Sprintf("DATABASE_HOST=%s", config.Host),
		},
		ExposedPorts: nat.PortSet{
			"5432": struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(config.Port): []nat.PortBinding{{
				HostIP:   config.Host,
				HostPort: config.Port,
			}},
		},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: dbDataPath,
				Target: "/var/lib/postgresql/data",
			},
		},
	}

	db := docker.NewContainer("db", postgresImage, containerConfig, hostConfig)
	if err := dockerManager.SpawnContainer(db); err != nil {
		return nil, err
	}

	go func() {
		st, err := dockerManager.WaitForContainer(db, docker.StatusCrashed)
		if st != docker.StatusCrashed || err != nil {
			return
		}

		errChannel <- fmt.Errorf("container %s has crashed", db)
	}()

	return db, nil
}
