// CLAUDE:SUMMARY Append-only SQLite history of queries and outcomes, listed by sequence id descending.
// Package history persists each query and its outcome. The log is
// append-only: the pipeline never mutates or deletes entries, and ordering
// for display is sequence id descending. Concurrent retrievals append
// independent rows; SQLite's single-statement atomicity is the only locking
// discipline required.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/greffe/court"
)

// Schema for the history table. Applied by Init.
const Schema = `
CREATE TABLE IF NOT EXISTS history (
	sequence_id INTEGER PRIMARY KEY AUTOINCREMENT,
	case_type   TEXT NOT NULL,
	case_number INTEGER NOT NULL,
	filing_year INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	record_json TEXT,
	excerpt     TEXT NOT NULL DEFAULT '',
	executed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_executed ON history(executed_at);
`

const (
	defaultLimit = 50
	maxLimit     = 200

	// maxExcerptLen caps the stored markdown rendition of a result page.
	maxExcerptLen = 4096
)

// Store is the SQLite-backed history log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	md     *excerptRenderer
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a history store backed by the given database.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default(), md: newExcerptRenderer()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the history table if it doesn't exist.
func (s *Store) Init() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("history: init: %w", err)
	}
	return nil
}

// Append records one terminal query outcome. rawPage, when non-empty, is
// rendered to a markdown excerpt for display; rendering failures degrade to
// an empty excerpt, never block the write.
func (s *Store) Append(ctx context.Context, q court.CaseQuery, r court.RetrievalResult, rawPage string) error {
	var recordJSON sql.NullString
	if r.Record != nil {
		data, err := json.Marshal(r.Record)
		if err != nil {
			return fmt.Errorf("history: marshal record: %w", err)
		}
		recordJSON = sql.NullString{String: string(data), Valid: true}
	}

	excerpt := s.md.render(rawPage)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (case_type, case_number, filing_year, outcome, detail, record_json, excerpt, executed_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		q.CaseType, q.CaseNumber, q.FilingYear,
		string(r.Outcome), r.Detail, recordJSON, excerpt, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}

	s.logger.Debug("history: appended", "query", q.String(), "outcome", r.Outcome)
	return nil
}

// List returns entries ordered by sequence id descending. limit <= 0 uses
// the default page size; limits above the cap are clamped.
func (s *Store) List(ctx context.Context, offset, limit int) ([]court.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_id, case_type, case_number, filing_year, outcome, detail, record_json, excerpt, executed_at
		FROM history
		ORDER BY sequence_id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var entries []court.HistoryEntry
	for rows.Next() {
		var (
			e          court.HistoryEntry
			recordJSON sql.NullString
			executedAt int64
		)
		if err := rows.Scan(
			&e.SequenceID,
			&e.Query.CaseType, &e.Query.CaseNumber, &e.Query.FilingYear,
			&e.Result.Outcome, &e.Result.Detail,
			&recordJSON, &e.Excerpt, &executedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if recordJSON.Valid {
			var rec court.CaseRecord
			if err := json.Unmarshal([]byte(recordJSON.String), &rec); err != nil {
				s.logger.Warn("history: corrupt record json", "sequence_id", e.SequenceID, "error", err)
			} else {
				e.Result.Record = &rec
			}
		}
		e.ExecutedAt = time.Unix(executedAt, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return entries, nil
}
