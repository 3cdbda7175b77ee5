package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Key suffixes of the flat layout. The history key holds one JSON array of
// records, newest first. The last-result and migrated keys are legacy
// companions only the migration coordinator reads.
const (
	historyKeySuffix    = "ocr:history"
	lastResultKeySuffix = "ocr:last_result"
	migratedKeySuffix   = "ocr:history_migrated"
)

// RedisOptions configures the flat engine's connection and key namespace.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func (o RedisOptions) key(suffix string) string {
	return o.KeyPrefix + suffix
}

// RedisEngine is the flat engine: the whole store is one serialized blob
// under one key. Every operation decodes the full list, works in memory and,
// when it mutates, writes the full list back. O(n) per call, bounded by the
// retention cap.
type RedisEngine struct {
	opts   RedisOptions
	client *redis.Client
}

// NewRedisEngine creates the engine without connecting. Init dials and
// verifies the connection.
func NewRedisEngine(opts RedisOptions) *RedisEngine {
	return &RedisEngine{opts: opts}
}

// dialRedis connects and verifies the connection before handing the client
// out. Callers own closing it.
func dialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *RedisEngine) Init(ctx context.Context) error {
	if r.client != nil {
		return nil
	}

	client, err := dialRedis(ctx, r.opts)
	if err != nil {
		return newInitError(fmt.Sprintf("failed to reach redis at %s", r.opts.Addr), err)
	}

	r.client = client
	slog.Info("redis history engine initialized", "addr", r.opts.Addr, "key", r.opts.key(historyKeySuffix))
	return nil
}

func (r *RedisEngine) Upsert(ctx context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	records, err := r.readAll(ctx)
	if err != nil {
		return err
	}

	// Replace any record sharing the id, then re-sort and cap.
	kept := records[:0]
	for _, existing := range records {
		if existing.ID != record.ID {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, record)
	sortRecordsDesc(kept)
	if len(kept) > RetentionLimit {
		kept = kept[:RetentionLimit]
	}

	return r.writeAll(ctx, kept)
}

func (r *RedisEngine) List(ctx context.Context, limit int) ([]*Record, error) {
	records, err := r.readAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *RedisEngine) Get(ctx context.Context, id string) (*Record, error) {
	records, err := r.readAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.ID == id {
			return record, nil
		}
	}
	return nil, newNotFoundError(id)
}

func (r *RedisEngine) Delete(ctx context.Context, id string) error {
	records, err := r.readAll(ctx)
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, record := range records {
		if record.ID != id {
			kept = append(kept, record)
		}
	}
	if len(kept) == len(records) {
		// Absent id; deleting is a no-op.
		return nil
	}
	return r.writeAll(ctx, kept)
}

func (r *RedisEngine) DeleteAll(ctx context.Context) error {
	if err := r.client.Del(ctx, r.opts.key(historyKeySuffix)).Err(); err != nil {
		return newWriteError("failed to delete history key", err)
	}
	return nil
}

func (r *RedisEngine) Count(ctx context.Context) (int, error) {
	records, err := r.readAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (r *RedisEngine) Search(ctx context.Context, query string) ([]*Record, error) {
	records, err := r.readAll(ctx)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)
	var matches []*Record
	for _, record := range records {
		if record.matchesLower(queryLower) {
			matches = append(matches, record)
		}
	}
	return matches, nil
}

func (r *RedisEngine) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// readAll decodes the whole blob. A missing key is an empty store. Records
// come back normalized and timestamp-descending regardless of how the blob
// was written.
func (r *RedisEngine) readAll(ctx context.Context) ([]*Record, error) {
	raw, err := r.client.Get(ctx, r.opts.key(historyKeySuffix)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, newReadError("failed to read history key", err)
	}

	var records []*Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, newReadError("failed to decode history blob", err)
	}
	for _, record := range records {
		record.Normalize()
	}
	sortRecordsDesc(records)
	return records, nil
}

func (r *RedisEngine) writeAll(ctx context.Context, records []*Record) error {
	if records == nil {
		records = []*Record{}
	}
	blob, err := json.Marshal(records)
	if err != nil {
		return newWriteError("failed to encode history blob", err)
	}
	if err := r.client.Set(ctx, r.opts.key(historyKeySuffix), blob, 0).Err(); err != nil {
		return newWriteError("failed to write history key", err)
	}
	return nil
}
