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

// LegacyStore reads the flat layout left behind by earlier client versions:
// the history list, the single last-result slot and the migration flag. It is
// the owner of the flag, so the coordinator never touches raw keys.
type LegacyStore struct {
	opts   RedisOptions
	client *redis.Client
}

func NewLegacyStore(opts RedisOptions) *LegacyStore {
	return &LegacyStore{opts: opts}
}

// Open dials the legacy medium. Idempotent.
func (l *LegacyStore) Open(ctx context.Context) error {
	if l.client != nil {
		return nil
	}
	client, err := dialRedis(ctx, l.opts)
	if err != nil {
		return newInitError(fmt.Sprintf("failed to reach legacy store at %s", l.opts.Addr), err)
	}
	l.client = client
	return nil
}

func (l *LegacyStore) Close() error {
	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	l.client = nil
	return err
}

// MigrationDone reports whether a previous migration run completed. Earlier
// client versions wrote the flag as "true", newer ones write "1"; both count.
func (l *LegacyStore) MigrationDone(ctx context.Context) (bool, error) {
	raw, err := l.client.Get(ctx, l.opts.key(migratedKeySuffix)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, newReadError("failed to read migration flag", err)
	}
	return raw == "1" || strings.EqualFold(raw, "true"), nil
}

func (l *LegacyStore) SetMigrationDone(ctx context.Context) error {
	if err := l.client.Set(ctx, l.opts.key(migratedKeySuffix), "1", 0).Err(); err != nil {
		return newWriteError("failed to persist migration flag", err)
	}
	return nil
}

// History returns the parseable records of the legacy history list. Malformed
// entries are logged and skipped so one bad record cannot hold the rest of
// the history hostage; a blob that is not a JSON array at all counts as
// empty.
func (l *LegacyStore) History(ctx context.Context) ([]*Record, error) {
	raw, err := l.client.Get(ctx, l.opts.key(historyKeySuffix)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, newReadError("failed to read legacy history key", err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("legacy history blob is malformed, treating as empty", "error", err)
		return nil, nil
	}

	records := make([]*Record, 0, len(entries))
	for i, entry := range entries {
		record := new(Record)
		if err := json.Unmarshal(entry, record); err != nil {
			slog.Warn("skipping malformed legacy history entry", "index", i, "error", err)
			continue
		}
		if err := record.Validate(); err != nil {
			slog.Warn("skipping incomplete legacy history entry", "index", i, "error", err)
			continue
		}
		record.Normalize()
		records = append(records, record)
	}
	return records, nil
}

// LastResult returns the record in the legacy single-result slot, or nil when
// the slot is absent or unusable.
func (l *LegacyStore) LastResult(ctx context.Context) (*Record, error) {
	raw, err := l.client.Get(ctx, l.opts.key(lastResultKeySuffix)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, newReadError("failed to read legacy last-result key", err)
	}

	record := new(Record)
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		slog.Warn("legacy last-result entry is malformed, skipping", "error", err)
		return nil, nil
	}
	if err := record.Validate(); err != nil {
		slog.Warn("legacy last-result entry is incomplete, skipping", "error", err)
		return nil, nil
	}
	record.Normalize()
	return record, nil
}

// Migrator moves legacy flat-format history into a destination engine exactly
// once per deployment. The flag check-and-set is not atomic; one logical
// caller per process is assumed.
type Migrator struct {
	legacy *LegacyStore
	dest   Engine
}

func NewMigrator(legacy *LegacyStore, dest Engine) *Migrator {
	return &Migrator{legacy: legacy, dest: dest}
}

// Run performs the transfer. Already-migrated and no-legacy-data deployments
// are cheap no-ops. The completion flag is only written after every upsert
// succeeded; a failed run leaves the flag unset so the next run retries from
// scratch, which is harmless because the inserts are upserts.
func (m *Migrator) Run(ctx context.Context) error {
	done, err := m.legacy.MigrationDone(ctx)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	records, err := m.legacy.History(ctx)
	if err != nil {
		return err
	}
	last, err := m.legacy.LastResult(ctx)
	if err != nil {
		return err
	}
	if last != nil && !containsID(records, last.ID) {
		records = append([]*Record{last}, records...)
	}

	for _, record := range records {
		if err := m.dest.Upsert(ctx, record); err != nil {
			return newMigrationError(fmt.Sprintf("failed to migrate record %s", record.ID), err)
		}
	}

	if err := m.legacy.SetMigrationDone(ctx); err != nil {
		return err
	}
	slog.Info("legacy history migrated", "records", len(records))
	return nil
}

func containsID(records []*Record, id string) bool {
	for _, record := range records {
		if record.ID == id {
			return true
		}
	}
	return false
}
