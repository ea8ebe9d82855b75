// Package testhelpers starts containerized infrastructure for repository tests.
//
// Tests that use it carry the "container" build tag and need a reachable Docker daemon:
//
//	go test -tags container ./internal/...
package testhelpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/database"
)

const postgresImage = "postgres:16-alpine"

// StartPostgres runs a throwaway PostgreSQL container, applies the migrations and
// returns a pool connected to it. Everything is torn down through t.Cleanup.
func StartPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "campuspass",
			"POSTGRES_PASSWORD": "campuspass",
			"POSTGRES_DB":       "campuspass",
		},
		// The server restarts once after init, so the line shows up twice.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}

	logger := zaptest.NewLogger(t)
	dsn := fmt.Sprintf("postgres://campuspass:campuspass@%s:%s/campuspass?sslmode=disable", host, port.Port())
	pool, err := database.NewPostgresPool(ctx, dsn, 32, logger)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.Migrate(ctx, pool, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// SeedUser inserts a user with the given role and returns its id.
func SeedUser(t *testing.T, pool *pgxpool.Pool, role models.Role) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, name, email, password_hash, role) VALUES ($1, $2, $3, 'x', $4)`,
		id, "user-"+id.String()[:8], id.String()+"@college.edu", string(role))
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

// SeedEvent inserts an event as-is, including its status and seat counter, and returns its id.
func SeedEvent(t *testing.T, pool *pgxpool.Pool, createdBy uuid.UUID, date time.Time, capacity, taken int, status models.EventStatus) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO events (id, title, description, date, venue, capacity, current_registrations, created_by, status)
		VALUES ($1, 'Tech Fest', 'Talks and demos', $2, 'Main Hall', $3, $4, $5, $6)`,
		id, date, capacity, taken, createdBy, string(status))
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return id
}

// Seats returns the seat counter of an event.
func Seats(t *testing.T, pool *pgxpool.Pool, eventID uuid.UUID) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), `SELECT current_registrations FROM events WHERE id = $1`, eventID).Scan(&n); err != nil {
		t.Fatalf("read seats: %v", err)
	}
	return n
}
