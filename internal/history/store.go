package history

import (
	"context"
	"sync"
)

// Store is the single object dependents hold. It owns the resolved engine,
// caches one-time initialization and coordinates the legacy migration, so no
// caller ever reaches for a module-level handle.
type Store struct {
	engine Engine
	legacy *LegacyStore

	mu          sync.Mutex
	initialized bool
}

// NewStore wires a store around the resolved engine. legacy may be nil when
// the deployment has no flat-format data to migrate into this engine.
func NewStore(engine Engine, legacy *LegacyStore) *Store {
	return &Store{engine: engine, legacy: legacy}
}

// Init opens the underlying engine. The first success is cached so repeated
// calls from any call site are cheap; a failed attempt may be retried.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.engine.Init(ctx); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

// Migrate transfers legacy flat-format history into the active engine. It is
// a no-op unless a legacy source is configured and the active engine is the
// structured one; the completion flag is only ever written with the records
// in the structured store.
func (s *Store) Migrate(ctx context.Context) error {
	if s.legacy == nil {
		return nil
	}
	if _, ok := s.engine.(*SQLiteEngine); !ok {
		return nil
	}
	if err := s.Init(ctx); err != nil {
		return err
	}
	if err := s.legacy.Open(ctx); err != nil {
		return err
	}
	return NewMigrator(s.legacy, s.engine).Run(ctx)
}

func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	return s.engine.Upsert(ctx, record)
}

func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s.engine.List(ctx, limit)
}

func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s.engine.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	return s.engine.Delete(ctx, id)
}

func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	return s.engine.DeleteAll(ctx)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.Init(ctx); err != nil {
		return 0, err
	}
	return s.engine.Count(ctx)
}

func (s *Store) Search(ctx context.Context, query string) ([]*Record, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s.engine.Search(ctx, query)
}

func (s *Store) Close() error {
	var firstErr error
	if err := s.engine.Close(); err != nil {
		firstErr = err
	}
	if s.legacy != nil {
		if err := s.legacy.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
