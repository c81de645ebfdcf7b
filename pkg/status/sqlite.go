package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps status records in one SQLite table in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database file and its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create status db directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS message_status (
		id           TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		endpoint     TEXT NOT NULL,
		filename     TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		processed_at TEXT,
		error        TEXT,
		summary      TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_message_status_status ON message_status(status);
	`
	return retryOnContention(func() error {
		_, err := s.db.Exec(schema)
		return err
	})
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Upsert inserts the record or replaces every column of the existing row.
func (s *SQLiteStore) Upsert(ctx context.Context, record Record) error {
	if err := record.validate(); err != nil {
		return err
	}

	var processedAt sql.NullString
	if record.ProcessedAt != nil {
		processedAt = sql.NullString{String: formatTime(*record.ProcessedAt), Valid: true}
	}

	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO message_status (id, status, endpoint, filename, created_at, processed_at, error, summary)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				endpoint = excluded.endpoint,
				filename = excluded.filename,
				created_at = excluded.created_at,
				processed_at = excluded.processed_at,
				error = excluded.error,
				summary = excluded.summary`,
			record.ID, string(record.Status), record.Endpoint, record.Filename,
			formatTime(record.CreatedAt), processedAt,
			nullString(record.Error), nullString(record.Summary),
		)
		return err
	})
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, endpoint, filename, created_at, processed_at, error, summary
		 FROM message_status WHERE id = ?`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return record, err
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT id, status, endpoint, filename, created_at, processed_at, error, summary FROM message_status`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM message_status`)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		record                        Record
		status, createdAt             string
		processedAt, errText, summary sql.NullString
	)
	if err := row.Scan(&record.ID, &status, &record.Endpoint, &record.Filename, &createdAt, &processedAt, &errText, &summary); err != nil {
		return Record{}, err
	}

	record.Status = State(status)
	record.Error = errText.String
	record.Summary = summary.String

	var processed *string
	if processedAt.Valid {
		processed = &processedAt.String
	}
	if err := record.setTimes(createdAt, processed); err != nil {
		return Record{}, err
	}

	return record, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
