package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Engine is the contract both storage backends implement. Callers and the
// migration coordinator stay backend agnostic; the active engine is picked
// once by NewEngine and injected.
//
// Every operation expects Init to have run (directly or through Store).
// Failures surface as *StoreError; a missing record is a NOT_FOUND error,
// never silent data loss.
type Engine interface {
	// Init opens or creates the underlying storage. Idempotent; safe to
	// call repeatedly.
	Init(ctx context.Context) error

	// Upsert inserts the record or replaces the one sharing its ID.
	Upsert(ctx context.Context, record *Record) error

	// List returns records in timestamp-descending order. A limit <= 0
	// means no cap; the limit never affects retention.
	List(ctx context.Context, limit int) ([]*Record, error)

	// Get returns the record with the given ID or a NOT_FOUND error.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes the record if present; deleting an absent ID is a no-op.
	Delete(ctx context.Context, id string) error

	// DeleteAll empties the store.
	DeleteAll(ctx context.Context) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Search returns records whose text or translated text contains query,
	// case-insensitively, in the same order as List.
	Search(ctx context.Context, query string) ([]*Record, error)

	// Close releases the underlying handle.
	Close() error
}

// Backend identifiers accepted by NewEngine.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// envBackendOverride lets the execution environment force a backend without
// touching the config file.
const envBackendOverride = "HISTORY_BACKEND"

// Options carries everything the resolver needs to construct either engine.
type Options struct {
	// Backend selects the engine: "sqlite" (structured) or "redis" (flat).
	// Empty resolves to sqlite, the capable engine.
	Backend string

	// SQLitePath is the database file path, or ":memory:".
	SQLitePath string

	// Redis connection settings for the flat engine.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RedisKeyPrefix namespaces every key the flat engine touches.
	RedisKeyPrefix string
}

// ResolveBackend applies the environment override on top of the configured
// backend and defaults to sqlite when neither says anything.
func ResolveBackend(configured string) string {
	if env := os.Getenv(envBackendOverride); env != "" {
		return env
	}
	if configured == "" {
		return BackendSQLite
	}
	return configured
}

// NewEngine constructs the engine the environment resolved to. The engine is
// returned uninitialized; Store.Init (or Engine.Init) opens the storage.
func NewEngine(opts Options) (Engine, error) {
	backend := ResolveBackend(opts.Backend)
	switch backend {
	case BackendSQLite:
		slog.Info("resolved history backend", "backend", BackendSQLite, "path", opts.SQLitePath)
		return NewSQLiteEngine(opts.SQLitePath), nil
	case BackendRedis:
		slog.Info("resolved history backend", "backend", BackendRedis, "addr", opts.RedisAddr)
		return NewRedisEngine(RedisOptions{
			Addr:      opts.RedisAddr,
			Password:  opts.RedisPassword,
			DB:        opts.RedisDB,
			KeyPrefix: opts.RedisKeyPrefix,
		}), nil
	default:
		return nil, newInitError(fmt.Sprintf("unsupported history backend: %s", backend), nil)
	}
}
