// Package storetest starts a throwaway Postgres for store integration tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"lumen.app/studio/core/db"
	"lumen.app/studio/migrations"
)

var (
	once      sync.Once
	sharedDSN string
	container testcontainers.Container
	initErr   error
)

// Start launches one Postgres container per test binary, applies the embedded
// migrations and returns a DB on top of a fresh pool. The error is non-nil when
// no container runtime is available; callers skip in that case.
func Start(ctx context.Context) (*db.DB, error) {
	once.Do(func() {
		sharedDSN, initErr = startContainerAndMigrate()
	})
	if initErr != nil {
		return nil, initErr
	}

	pool, err := pgxpool.New(ctx, sharedDSN)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	return db.FromPool(pool), nil
}

// Terminate stops the shared container, if one was started.
func Terminate(ctx context.Context) error {
	if container == nil {
		return nil
	}
	return container.Terminate(ctx)
}

func startContainerAndMigrate() (dsn string, err error) {
	defer func() {
		// testcontainers panics on some hosts without a Docker socket
		if r := recover(); r != nil {
			err = fmt.Errorf("container runtime unavailable: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "studio",
			"POSTGRES_PASSWORD": "studio",
			"POSTGRES_DB":       "studio_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("mapped port: %w", err)
	}

	dsn = fmt.Sprintf("postgres://studio:studio@%s:%s/studio_test?sslmode=disable", host, port.Port())

	database, err := db.New(ctx, db.Config{DSN: dsn, MaxConns: 4, MinConns: 1})
	if err != nil {
		return "", err
	}
	defer database.Close()

	if err := database.Migrate(ctx, migrations.FS); err != nil {
		return "", err
	}
	return dsn, nil
}
