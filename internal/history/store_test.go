package history

import (
	"context"
	"testing"
)

// countingEngine records how often Init reaches the underlying engine.
type countingEngine struct {
	Engine
	initCalls int
}

func (c *countingEngine) Init(ctx context.Context) error {
	c.initCalls++
	return c.Engine.Init(ctx)
}

// flakyInitEngine fails its first Init attempts, then behaves normally.
type flakyInitEngine struct {
	Engine
	failures int
}

func (f *flakyInitEngine) Init(ctx context.Context) error {
	if f.failures > 0 {
		f.failures--
		return newInitError("temporarily unavailable", nil)
	}
	return f.Engine.Init(ctx)
}

func TestStore_InitIsCachedAfterFirstSuccess(t *testing.T) {
	engine := &countingEngine{Engine: NewSQLiteEngine(":memory:")}
	store := NewStore(engine, nil)
	t.Cleanup(func() { _ = store.Close() })

	for i := 0; i < 3; i++ {
		if err := store.Init(context.Background()); err != nil {
			t.Fatalf("Init #%d error: %v", i+1, err)
		}
	}
	if _, err := store.Count(context.Background()); err != nil {
		t.Fatalf("Count error: %v", err)
	}

	if engine.initCalls != 1 {
		t.Fatalf("expected engine Init to run once, ran %d times", engine.initCalls)
	}
}

func TestStore_FailedInitCanBeRetried(t *testing.T) {
	engine := &flakyInitEngine{Engine: NewSQLiteEngine(":memory:"), failures: 1}
	store := NewStore(engine, nil)
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Init(context.Background()); err == nil {
		t.Fatalf("expected first Init to fail")
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("retry Init error: %v", err)
	}
}

func TestStore_OperationsInitializeTransitively(t *testing.T) {
	store := NewStore(NewSQLiteEngine(":memory:"), nil)
	t.Cleanup(func() { _ = store.Close() })

	// No explicit Init; the first operation opens the engine.
	if err := store.Upsert(context.Background(), testRecord("1", "hello", "", "2024-01-01T00:00:00.000Z")); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	got, err := store.Get(context.Background(), "1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Text != "hello" {
		t.Errorf("expected text %q, got %q", "hello", got.Text)
	}
}

func TestStore_MigrateWithoutLegacySourceIsNoOp(t *testing.T) {
	store := NewStore(NewSQLiteEngine(":memory:"), nil)
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty store, got %d records", count)
	}
}

func TestStore_MigrateMovesLegacyData(t *testing.T) {
	mr, legacy := newTestLegacyStore(t)
	seedLegacyHistory(t, mr,
		testRecord("2", "newer", "", "2024-01-02T00:00:00.000Z"),
		testRecord("1", "older", "", "2024-01-01T00:00:00.000Z"),
	)

	store := NewStore(NewSQLiteEngine(":memory:"), legacy)
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}

	records, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(records) != 2 || records[0].ID != "2" || records[1].ID != "1" {
		t.Fatalf("expected ids [2 1], got %v", recordIDs(records))
	}

	// A second Migrate sees the flag and does nothing.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate error: %v", err)
	}
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records after repeated Migrate, got %d", count)
	}
}

func TestStore_MigrateSkipsFlatDestination(t *testing.T) {
	mr, legacy := newTestLegacyStore(t)
	seedLegacyHistory(t, mr, testRecord("1", "legacy", "", "2024-01-01T00:00:00.000Z"))

	// A flat active engine is never a migration destination; the flag must
	// stay unset so a later structured deployment still picks the data up.
	store := NewStore(NewRedisEngine(RedisOptions{Addr: mr.Addr()}), legacy)
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}

	done, err := legacy.MigrationDone(context.Background())
	if err != nil {
		t.Fatalf("MigrationDone error: %v", err)
	}
	if done {
		t.Fatalf("expected migration flag to stay unset for a flat destination")
	}
}

func TestStore_SearchAndDeleteDelegate(t *testing.T) {
	store := NewStore(NewSQLiteEngine(":memory:"), nil)
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Upsert(context.Background(), testRecord("1", "hello", "", "2024-01-01T00:00:00.000Z")); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := store.Upsert(context.Background(), testRecord("2", "world", "", "2024-01-02T00:00:00.000Z")); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	matches, err := store.Search(context.Background(), "HELLO")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "1" {
		t.Fatalf("expected search match for id 1, got %v", recordIDs(matches))
	}

	if err := store.Delete(context.Background(), "1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := store.DeleteAll(context.Background()); err != nil {
		t.Fatalf("DeleteAll error: %v", err)
	}
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty store, got %d", count)
	}
}
