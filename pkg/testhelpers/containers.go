// Package testhelpers starts the containers integration tests run against.
// Each container is started once per test binary and shared by every test.
package testhelpers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/database"
)

const (
	PostgresImage = "postgres:16-alpine"
	RedisImage    = "redis:7-alpine"

	startupTimeout = 60 * time.Second
)

// EngineDB is a migrated PostgreSQL database.
type EngineDB struct {
	DB      *database.DB
	ConnStr string
}

// shared memoizes one container-backed resource for the whole test binary.
type shared[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (s *shared[T]) get(t *testing.T, what string, setup func(context.Context) (T, error)) T {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	s.once.Do(func() {
		s.val, s.err = setup(context.Background())
	})
	if s.err != nil {
		t.Fatalf("Failed to set up %s: %v", what, s.err)
	}
	return s.val
}

var (
	engineDB    shared[*EngineDB]
	redisClient shared[*redis.Client]
)

// GetEngineDB returns the shared PostgreSQL database with migrations applied.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()
	return engineDB.get(t, "engine database", setupEngineDB)
}

// GetRedis returns a client for the shared Redis container. The keyspace is
// flushed so each test starts empty.
func GetRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redisClient.get(t, "redis", setupRedis)
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to flush redis: %v", err)
	}
	return client
}

// Truncate empties the given tables so a test starts from a known state.
// Tests sharing tables must not run in parallel.
func (e *EngineDB) Truncate(t *testing.T, tables ...string) {
	t.Helper()

	_, err := e.DB.Exec(context.Background(),
		"TRUNCATE "+strings.Join(tables, ", ")+" RESTART IDENTITY")
	if err != nil {
		t.Fatalf("Failed to truncate %v: %v", tables, err)
	}
}

// startContainer runs req and returns host:port for the given container port.
func startContainer(ctx context.Context, req testcontainers.ContainerRequest, port string) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start %s: %w", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get %s host: %w", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return "", fmt.Errorf("failed to get %s port: %w", req.Image, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

func setupEngineDB(ctx context.Context) (*EngineDB, error) {
	addr, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "piculi_test",
			"POSTGRES_USER":     "piculi",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The server logs readiness twice: once for the init run, once for real
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(startupTimeout),
	}, "5432")
	if err != nil {
		return nil, err
	}
	connStr := fmt.Sprintf("postgres://piculi:test_password@%s/piculi_test?sslmode=disable", addr)

	db, err := database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 5})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	sqlDB, err := database.OpenSQL(connStr)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &EngineDB{DB: db, ConnStr: connStr}, nil
}

func setupRedis(ctx context.Context) (*redis.Client, error) {
	addr, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        RedisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(startupTimeout),
	}, "6379")
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
