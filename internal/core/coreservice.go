package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/snaplate/snaplate/internal/history"
	"github.com/snaplate/snaplate/internal/imaging"
	"github.com/snaplate/snaplate/internal/recognition"
)

// CoreService owns the history store and the recognizer client and carries
// every operation the HTTP layer exposes.
type CoreService struct {
	config     *ServiceConfig
	store      *history.Store
	recognizer *recognition.Client
	ids        history.IDGenerator
}

func NewCoreService(config *ServiceConfig) *CoreService {
	store, err := getHistoryStore(config)
	if err != nil {
		slog.Error("failed to initialize history store", "error", err)
		panic(err)
	}

	recognizer := recognition.NewClient(
		config.Recognizer.BaseURL,
		time.Duration(config.Recognizer.TimeoutSeconds)*time.Second,
	)

	return &CoreService{
		config:     config,
		store:      store,
		recognizer: recognizer,
	}
}

// getHistoryStore resolves the engine and wires the legacy flat source when
// one can exist: a structured deployment with redis settings still present
// has flat-format data from earlier versions to migrate.
func getHistoryStore(config *ServiceConfig) (*history.Store, error) {
	engine, err := history.NewEngine(history.Options{
		Backend:        config.History.Backend,
		SQLitePath:     config.History.SQLite.Path,
		RedisAddr:      config.History.Redis.Addr,
		RedisPassword:  config.History.Redis.Password,
		RedisDB:        config.History.Redis.DB,
		RedisKeyPrefix: config.History.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history engine: %w", err)
	}

	var legacy *history.LegacyStore
	resolved := history.ResolveBackend(config.History.Backend)
	if resolved == history.BackendSQLite && config.History.Redis.Addr != "" {
		legacy = history.NewLegacyStore(history.RedisOptions{
			Addr:      config.History.Redis.Addr,
			Password:  config.History.Redis.Password,
			DB:        config.History.Redis.DB,
			KeyPrefix: config.History.Redis.KeyPrefix,
		})
	}

	slog.Info("history store configured", "backend", resolved, "legacy_source", legacy != nil)
	return history.NewStore(engine, legacy), nil
}

// Startup opens the store and runs the one-time legacy migration. A failed
// migration is logged but does not stop the service; the completion flag
// stays unset so the next startup retries.
func (service *CoreService) Startup(ctx context.Context) error {
	if err := service.store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	if err := service.store.Migrate(ctx); err != nil {
		slog.Error("legacy history migration failed", "error", err)
	}
	return nil
}

// Recognize runs the full capture flow: normalize the upload, call the
// recognizer with the translation target, persist the outcome. Results without
// detected text are returned but not persisted, so empty captures never
// clutter the history.
func (service *CoreService) Recognize(ctx context.Context, image []byte, targetLang string) (*history.Record, error) {
	pngImage, err := imaging.ToPNG(image)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize image: %w", err)
	}

	if targetLang == "" {
		targetLang = history.DefaultTargetLang
	}
	result, err := service.recognizer.Recognize(ctx, pngImage, targetLang)
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}

	now := time.Now()
	record := &history.Record{
		Text:           result.Text,
		TranslatedText: result.TranslatedText,
		Confidence:     result.Confidence,
		Engine:         result.Engine,
		TargetLang:     targetLang,
		Timestamp:      history.NewTimestamp(now),
	}
	if result.AnnotatedImage != "" {
		record.AnnotatedImage = annotatedPayload(result.AnnotatedImage)
	}

	if !result.Detected() {
		return record, nil
	}

	record.ID = service.ids.Next(now)
	if err := service.store.Upsert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// annotatedPayload rewrites the recognizer's overlay, plain base64 or data
// URL, into the data-URL form stored records embed directly. An undecodable
// payload is dropped rather than persisted.
func annotatedPayload(payload string) *string {
	raw, err := imaging.DecodePayload(payload)
	if err != nil {
		slog.Warn("dropping unusable annotated image payload", "error", err)
		return nil
	}
	normalized := imaging.EncodePayload(raw)
	return &normalized
}

// SaveResult persists a record supplied by a client. Records arriving without
// an id or timestamp get them assigned here.
func (service *CoreService) SaveResult(ctx context.Context, record *history.Record) (*history.Record, error) {
	now := time.Now()
	if record.Timestamp == "" {
		record.Timestamp = history.NewTimestamp(now)
	}
	if record.ID == "" {
		record.ID = service.ids.Next(now)
	}
	record.Normalize()

	if err := service.store.Upsert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (service *CoreService) History(ctx context.Context, limit int) ([]*history.Record, error) {
	return service.store.List(ctx, limit)
}

func (service *CoreService) Result(ctx context.Context, id string) (*history.Record, error) {
	return service.store.Get(ctx, id)
}

func (service *CoreService) SearchHistory(ctx context.Context, query string) ([]*history.Record, error) {
	return service.store.Search(ctx, query)
}

func (service *CoreService) DeleteResult(ctx context.Context, id string) error {
	return service.store.Delete(ctx, id)
}

func (service *CoreService) ClearHistory(ctx context.Context) error {
	return service.store.DeleteAll(ctx)
}

func (service *CoreService) CountResults(ctx context.Context) (int, error) {
	return service.store.Count(ctx)
}

// Thumbnail renders a record's annotated image as a PNG scaled to the given
// width. A width of zero or less falls back to the configured default.
func (service *CoreService) Thumbnail(ctx context.Context, id string, width int) ([]byte, error) {
	if width <= 0 {
		width = service.config.ThumbnailWidth
	}

	record, err := service.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.AnnotatedImage == nil {
		return nil, nil
	}

	raw, err := imaging.DecodePayload(*record.AnnotatedImage)
	if err != nil {
		return nil, fmt.Errorf("failed to decode annotated image for %s: %w", id, err)
	}
	pngImage, err := imaging.ToPNG(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert annotated image for %s: %w", id, err)
	}
	thumbnail, err := imaging.ScaleToWidth(pngImage, width)
	if err != nil {
		return nil, fmt.Errorf("failed to generate thumbnail for %s: %w", id, err)
	}
	return thumbnail, nil
}

// RecognizerHealth reports whether the recognition backend is reachable.
func (service *CoreService) RecognizerHealth(ctx context.Context) error {
	return service.recognizer.Health(ctx)
}

func (service *CoreService) Close() error {
	return service.store.Close()
}
