// Package sqlstore implements storage.Driver on top of database/sql. The
// sqlite and postgres packages open the connection and hand it over.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/ollamabridge/pkg/storage"
	"github.com/papercomputeco/ollamabridge/pkg/usage"
)

// Dialect adapts queries to a database flavour.
type Dialect int

const (
	// DialectSQLite uses "?" placeholders.
	DialectSQLite Dialect = iota

	// DialectPostgres uses "$n" placeholders.
	DialectPostgres
)

const schema = `CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	finish_reason TEXT NOT NULL,
	streaming BOOLEAN NOT NULL,
	status INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	started_at BIGINT NOT NULL,
	duration_ns BIGINT NOT NULL
)`

const index = `CREATE INDEX IF NOT EXISTS usage_records_started_at ON usage_records (started_at)`

const columns = `id, model, prompt_tokens, completion_tokens, total_tokens, finish_reason,
	streaming, status, skipped, started_at, duration_ns`

const upsert = `INSERT INTO usage_records (` + columns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		model = excluded.model,
		prompt_tokens = excluded.prompt_tokens,
		completion_tokens = excluded.completion_tokens,
		total_tokens = excluded.total_tokens,
		finish_reason = excluded.finish_reason,
		streaming = excluded.streaming,
		status = excluded.status,
		skipped = excluded.skipped,
		started_at = excluded.started_at,
		duration_ns = excluded.duration_ns`

// Store is a SQL backed storage.Driver.
type Store struct {
	DB      *sql.DB
	dialect Dialect
}

// New wraps db and creates the ledger table if needed.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{DB: db, dialect: dialect}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, index); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return s, nil
}

// Put upserts record by ID.
func (s *Store) Put(ctx context.Context, record *usage.Record) error {
	if record == nil {
		return storage.ErrNilRecord
	}

	_, err := s.DB.ExecContext(ctx, s.rebind(upsert),
		record.ID,
		record.Model,
		record.PromptTokens,
		record.CompletionTokens,
		record.TotalTokens,
		record.FinishReason,
		record.Streaming,
		record.Status,
		record.Skipped,
		record.StartedAt.UnixNano(),
		int64(record.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to store usage record %s: %w", record.ID, err)
	}
	return nil
}

// Get retrieves a record by its ID.
func (s *Store) Get(ctx context.Context, id string) (*usage.Record, error) {
	row := s.DB.QueryRowContext(ctx,
		s.rebind(`SELECT `+columns+` FROM usage_records WHERE id = ?`), id)

	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record %s: %w", id, err)
	}
	return r, nil
}

// List returns records newest first, at most limit when limit > 0.
func (s *Store) List(ctx context.Context, limit int) ([]*usage.Record, error) {
	query := `SELECT ` + columns + ` FROM usage_records ORDER BY started_at DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	records := []*usage.Record{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (*usage.Record, error) {
	var (
		r         usage.Record
		startedAt int64
		duration  int64
	)
	err := sc.Scan(
		&r.ID,
		&r.Model,
		&r.PromptTokens,
		&r.CompletionTokens,
		&r.TotalTokens,
		&r.FinishReason,
		&r.Streaming,
		&r.Status,
		&r.Skipped,
		&startedAt,
		&duration,
	)
	if err != nil {
		return nil, err
	}

	r.StartedAt = time.Unix(0, startedAt).UTC()
	r.Duration = time.Duration(duration)
	return &r, nil
}

// rebind rewrites "?" placeholders for the store's dialect. Queries here
// never contain a literal "?".
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
