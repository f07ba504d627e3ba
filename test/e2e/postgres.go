//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresHelper manages the PostgreSQL container for E2E tests.
type PostgresHelper struct {
	T         *testing.T
	Container testcontainers.Container
	Host      string
	Port      int
	Database  string
	User      string
	Password  string
}

// Shared PostgreSQL container for E2E tests (started once per test run).
var sharedPostgresHelper *PostgresHelper

// NewPostgresHelper returns the shared PostgreSQL helper, starting a
// testcontainer on first use. Set POSTGRES_HOST to target an external
// database instead.
func NewPostgresHelper(t *testing.T) *PostgresHelper {
	t.Helper()

	if sharedPostgresHelper != nil {
		return sharedPostgresHelper
	}

	ctx := context.Background()

	// External PostgreSQL configured via environment
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		port := 5432
		if p := os.Getenv("POSTGRES_PORT"); p != "" {
			fmt.Sscanf(p, "%d", &port)
		}
		database := envOr("POSTGRES_DATABASE", "shuttle_e2e")
		user := envOr("POSTGRES_USER", "shuttle")
		password := envOr("POSTGRES_PASSWORD", "shuttle")

		helper := &PostgresHelper{
			T:        t,
			Host:     host,
			Port:     port,
			Database: database,
			User:     user,
			Password: password,
		}
		sharedPostgresHelper = helper
		return helper
	}

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "shuttle_e2e",
			"POSTGRES_USER":     "shuttle_e2e",
			"POSTGRES_PASSWORD": "shuttle_e2e",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("5432/tcp"),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get container port: %v", err)
	}

	helper := &PostgresHelper{
		T:         t,
		Container: container,
		Host:      host,
		Port:      port.Int(),
		Database:  "shuttle_e2e",
		User:      "shuttle_e2e",
		Password:  "shuttle_e2e",
	}

	// No t.Cleanup here: the container is shared across tests and Ryuk
	// reaps it when the test process exits.
	sharedPostgresHelper = helper
	return helper
}

// ConnectionString returns a PostgreSQL connection string.
func (ph *PostgresHelper) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		ph.User, ph.Password, ph.Host, ph.Port, ph.Database)
}

// TruncateTables clears all rows so tests sharing the container start
// from a clean slate. Tables that do not exist yet are skipped.
func (ph *PostgresHelper) TruncateTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, ph.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect for truncation: %w", err)
	}
	defer pool.Close()

	for _, table := range []string{"chunks", "idempotency_records", "uploads"} {
		if _, err := pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			// First run: migrations have not created the table yet
			continue
		}
	}
	return nil
}

// Cleanup terminates the PostgreSQL container.
func (ph *PostgresHelper) Cleanup() {
	if ph.Container != nil {
		ph.Container.Terminate(context.Background())
	}
}

// cleanupSharedContainers terminates every shared container.
func cleanupSharedContainers() {
	if sharedPostgresHelper != nil {
		sharedPostgresHelper.Cleanup()
		sharedPostgresHelper = nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
