// Package store provides embedding record persistence and the
// eligibility snapshot adapter over the CRUD database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
)

// Compile-time check to ensure PostgresStore satisfies the port.
var _ port.EmbeddingStore = (*PostgresStore)(nil)

// PostgresStore persists embedding records in Postgres. The vector
// column uses the pgvector text format so the table can double as a
// server-side index later without a schema change.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the embedding_records table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS embedding_records (
		entity_type      TEXT NOT NULL,
		entity_id        TEXT NOT NULL,
		vector           TEXT,
		source_text_hash TEXT NOT NULL,
		status           TEXT NOT NULL,
		attempts         INT  NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		generated_at     TIMESTAMPTZ,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (entity_type, entity_id)
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get returns the record for the entity, or port.ErrRecordNotFound.
func (s *PostgresStore) Get(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.EmbeddingRecord, error) {
	query := `SELECT entity_type, entity_id, vector, source_text_hash, status, attempts, last_error, generated_at, updated_at
	          FROM embedding_records WHERE entity_type = $1 AND entity_id = $2`

	var (
		rec         domain.EmbeddingRecord
		vectorStr   sql.NullString
		generatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, entityType, entityID).Scan(
		&rec.EntityType, &rec.EntityID, &vectorStr, &rec.SourceTextHash,
		&rec.Status, &rec.Attempts, &rec.LastError, &generatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding record: %w", err)
	}

	if vectorStr.Valid && vectorStr.String != "" {
		rec.Vector, err = parseVector(vectorStr.String)
		if err != nil {
			return nil, fmt.Errorf("get embedding record: %w", err)
		}
	}
	if generatedAt.Valid {
		rec.GeneratedAt = generatedAt.Time
	}
	return &rec, nil
}

// Put inserts or fully replaces the record for its entity.
func (s *PostgresStore) Put(ctx context.Context, rec *domain.EmbeddingRecord) error {
	query := `INSERT INTO embedding_records (entity_type, entity_id, vector, source_text_hash, status, attempts, last_error, generated_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	          ON CONFLICT (entity_type, entity_id) DO UPDATE SET
	              vector = EXCLUDED.vector,
	              source_text_hash = EXCLUDED.source_text_hash,
	              status = EXCLUDED.status,
	              attempts = EXCLUDED.attempts,
	              last_error = EXCLUDED.last_error,
	              generated_at = EXCLUDED.generated_at,
	              updated_at = NOW()`

	var generatedAt sql.NullTime
	if !rec.GeneratedAt.IsZero() {
		generatedAt = sql.NullTime{Time: rec.GeneratedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.EntityType, rec.EntityID, vectorToString(rec.Vector),
		rec.SourceTextHash, rec.Status, rec.Attempts, rec.LastError, generatedAt,
	)
	if err != nil {
		return fmt.Errorf("put embedding record: %w", err)
	}
	return nil
}

// Delete removes the record. Unknown entities are a no-op.
func (s *PostgresStore) Delete(ctx context.Context, entityType domain.EntityType, entityID string) error {
	query := `DELETE FROM embedding_records WHERE entity_type = $1 AND entity_id = $2`
	if _, err := s.db.ExecContext(ctx, query, entityType, entityID); err != nil {
		return fmt.Errorf("delete embedding record: %w", err)
	}
	return nil
}

// ListFresh returns every fresh record, for index rebuilds.
func (s *PostgresStore) ListFresh(ctx context.Context) ([]domain.EmbeddingRecord, error) {
	query := `SELECT entity_type, entity_id, vector, source_text_hash, status, attempts, last_error, generated_at, updated_at
	          FROM embedding_records WHERE status = $1 ORDER BY entity_type, entity_id`

	rows, err := s.db.QueryContext(ctx, query, domain.EmbeddingStatusFresh)
	if err != nil {
		return nil, fmt.Errorf("list fresh records: %w", err)
	}
	defer rows.Close()

	var records []domain.EmbeddingRecord
	for rows.Next() {
		var (
			rec         domain.EmbeddingRecord
			vectorStr   sql.NullString
			generatedAt sql.NullTime
		)
		if err := rows.Scan(
			&rec.EntityType, &rec.EntityID, &vectorStr, &rec.SourceTextHash,
			&rec.Status, &rec.Attempts, &rec.LastError, &generatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fresh record: %w", err)
		}
		if vectorStr.Valid && vectorStr.String != "" {
			rec.Vector, err = parseVector(vectorStr.String)
			if err != nil {
				return nil, fmt.Errorf("scan fresh record: %w", err)
			}
		}
		if generatedAt.Valid {
			rec.GeneratedAt = generatedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByStatus returns record counts grouped by lifecycle status.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[domain.EmbeddingStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM embedding_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EmbeddingStatus]int)
	for rows.Next() {
		var (
			status domain.EmbeddingStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// vectorToString converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	if v == nil {
		return ""
	}
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector parses the pgvector string format back into a float32 slice.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector literal %q", s)
	}
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", part, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
