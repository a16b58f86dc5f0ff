package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// ErrRecordNotFound is returned by Get for unknown job ids.
var ErrRecordNotFound = errors.New("recognition record not found")

// PostgresResultStore persists asynchronous recognition jobs.
type PostgresResultStore struct {
	db    *sql.DB
	table string
}

// NewPostgresResultStore opens databaseURL, checks the connection and
// creates the jobs table when missing.
func NewPostgresResultStore(ctx context.Context, databaseURL, table string) (*PostgresResultStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if table == "" {
		table = "recognition_jobs"
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresResultStore{db: db, table: pq.QuoteIdentifier(table)}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func createTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		id                 UUID PRIMARY KEY,
		source             TEXT NOT NULL,
		status             TEXT NOT NULL,
		outcome            JSONB,
		error              TEXT,
		processing_time_ms BIGINT NOT NULL DEFAULT 0,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
}

func upsertSQL(table string) string {
	return `INSERT INTO ` + table + ` (id, source, status, outcome, error, processing_time_ms, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4::jsonb, NULLIF($5, ''), $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			outcome = COALESCE(EXCLUDED.outcome, ` + table + `.outcome),
			error = EXCLUDED.error,
			processing_time_ms = EXCLUDED.processing_time_ms,
			updated_at = NOW()`
}

func (s *PostgresResultStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL(s.table)); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

// Save inserts or updates rec. A nil outcome keeps the stored one.
func (s *PostgresResultStore) Save(ctx context.Context, rec models.RecognitionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record ID is required")
	}
	if rec.Status == "" {
		return fmt.Errorf("status is required")
	}

	var outcome []byte
	if len(rec.Outcome.Results()) > 0 {
		var err error
		if outcome, err = json.Marshal(rec.Outcome); err != nil {
			return fmt.Errorf("failed to marshal outcome: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, upsertSQL(s.table),
		rec.ID, rec.Source, rec.Status, nullableJSON(outcome), rec.Error, rec.ProcessingTimeMs)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("failed to save record %s (%s): %w", rec.ID, pqErr.Code.Name(), err)
		}
		return fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one record.
func (s *PostgresResultStore) Get(ctx context.Context, id string) (models.RecognitionRecord, error) {
	rec := models.RecognitionRecord{ID: id}
	var outcome []byte
	var errText sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT source, status, outcome, error, processing_time_ms, created_at, updated_at FROM `+s.table+` WHERE id = $1::uuid`,
		id,
	).Scan(&rec.Source, &rec.Status, &outcome, &errText, &rec.ProcessingTimeMs, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrRecordNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to load record %s: %w", id, err)
	}
	rec.Error = errText.String
	if len(outcome) > 0 {
		if err := json.Unmarshal(outcome, &rec.Outcome); err != nil {
			return rec, fmt.Errorf("failed to decode outcome of %s: %w", id, err)
		}
	}
	return rec, nil
}

func (s *PostgresResultStore) Close() error {
	return s.db.Close()
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
