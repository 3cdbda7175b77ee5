package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// SQLiteEngine is the structured engine: one table keyed by id with a
// descending timestamp index so recent-first listings and searches avoid
// full scans.
type SQLiteEngine struct {
	db   *sql.DB
	path string
}

// NewSQLiteEngine creates the engine without touching the filesystem.
// Init opens or creates the database file.
func NewSQLiteEngine(path string) *SQLiteEngine {
	if path == "" {
		path = "history.db"
	}
	return &SQLiteEngine{path: path}
}

func (s *SQLiteEngine) Init(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return newInitError(fmt.Sprintf("failed to open database %s", s.path), err)
	}
	// One logical writer: the store serializes access anyway, and a single
	// connection keeps ":memory:" databases on one schema.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return newInitError(fmt.Sprintf("failed to reach database %s", s.path), err)
	}

	schema := `CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL DEFAULT '',
		translated_text TEXT NOT NULL DEFAULT '',
		annotated_image TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		engine TEXT NOT NULL DEFAULT '',
		target_lang TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_timestamp ON results(timestamp DESC);`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return newInitError("failed to create results schema", err)
	}

	s.db = db
	slog.Info("sqlite history engine initialized", "path", s.path)
	return nil
}

func (s *SQLiteEngine) Upsert(ctx context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (id, text, translated_text, annotated_image, confidence, engine, target_lang, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			translated_text = excluded.translated_text,
			annotated_image = excluded.annotated_image,
			confidence = excluded.confidence,
			engine = excluded.engine,
			target_lang = excluded.target_lang,
			timestamp = excluded.timestamp
	`, record.ID, record.Text, record.TranslatedText, annotatedToNull(record.AnnotatedImage),
		record.Confidence, record.Engine, record.TargetLang, record.Timestamp)
	if err != nil {
		return newWriteError(fmt.Sprintf("failed to upsert result %s", record.ID), err)
	}

	// Retention: both engines keep the RetentionLimit newest records.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM results WHERE id NOT IN (
			SELECT id FROM results ORDER BY timestamp DESC, id DESC LIMIT ?
		)
	`, RetentionLimit)
	if err != nil {
		return newWriteError("failed to prune results beyond retention limit", err)
	}
	return nil
}

const resultColumns = `id, text, translated_text, annotated_image, confidence, engine, target_lang, timestamp`

func (s *SQLiteEngine) List(ctx context.Context, limit int) ([]*Record, error) {
	query := `SELECT ` + resultColumns + ` FROM results ORDER BY timestamp DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newReadError("failed to query results", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return collectRecords(rows)
}

func (s *SQLiteEngine) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newNotFoundError(id)
	}
	if err != nil {
		return nil, newReadError(fmt.Sprintf("failed to read result %s", id), err)
	}
	return record, nil
}

func (s *SQLiteEngine) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE id = ?`, id); err != nil {
		return newWriteError(fmt.Sprintf("failed to delete result %s", id), err)
	}
	return nil
}

func (s *SQLiteEngine) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM results`); err != nil {
		return newWriteError("failed to delete all results", err)
	}
	return nil
}

func (s *SQLiteEngine) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&count); err != nil {
		return 0, newReadError("failed to count results", err)
	}
	return count, nil
}

func (s *SQLiteEngine) Search(ctx context.Context, query string) ([]*Record, error) {
	// Every record contains the empty substring; instr() would disagree.
	if query == "" {
		return s.List(ctx, 0)
	}

	// instr keeps substring semantics without LIKE wildcard escaping.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+` FROM results
		WHERE instr(lower(text), lower(?)) > 0 OR instr(lower(translated_text), lower(?)) > 0
		ORDER BY timestamp DESC, id DESC
	`, query, query)
	if err != nil {
		return nil, newReadError("failed to search results", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return collectRecords(rows)
}

func (s *SQLiteEngine) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var annotated sql.NullString
	if err := row.Scan(&record.ID, &record.Text, &record.TranslatedText, &annotated,
		&record.Confidence, &record.Engine, &record.TargetLang, &record.Timestamp); err != nil {
		return nil, err
	}
	if annotated.Valid {
		record.AnnotatedImage = &annotated.String
	}
	record.Normalize()
	return &record, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, newReadError("failed to scan result row", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, newReadError("failed to iterate result rows", err)
	}
	return records, nil
}

func annotatedToNull(image *string) sql.NullString {
	if image == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *image, Valid: true}
}
