package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/hbomb79/Siphon/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	User     = "postgres"
	Password = "postgres"
	DBName   = "SIPHON_DB"
)

// RequireDatabase spawns a disposable Postgres container, connects a
// database manager to it (running all migrations) and returns the manager.
// The container is torn down when the test completes.
func RequireDatabase(t *testing.T) database.Manager {
	ctx := context.Background()
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(DBName),
		postgres.WithUsername(User),
		postgres.WithPassword(Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %s", err)
	}

	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("WARNING: failed to terminate postgres container: %s", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to determine postgres container host: %s", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to determine postgres container port: %s", err)
	}

	manager := database.New()
	err = manager.Connect(database.DatabaseConfig{
		User:     User,
		Password: Password,
		Name:     DBName,
		Host:     host,
		Port:     port.Port(),
	})
	if err != nil {
		t.Fatalf("failed to connect to spawned postgres container: %s", err)
	}

	return manager
}
