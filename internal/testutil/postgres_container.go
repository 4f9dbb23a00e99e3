package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgUser     = "flowq"
	pgPassword = "flowq"
	pgDatabase = "flowq_test"
)

var postgresContainer = &sharedContainer{name: "postgres"}

func pgURL(hostPort string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, hostPort, pgDatabase)
}

// GetPostgresDSN returns a pgx DSN for a shared Postgres container.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	endpoint := postgresContainer.endpointFor(t, func(ctx context.Context) (testcontainers.Container, error) {
		return testcontainers.Run(ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDatabase,
			}),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return pgURL(host + ":" + port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
		)
	})
	return pgURL(endpoint)
}
