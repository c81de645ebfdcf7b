package status

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps status records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, pings and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS message_status (
			id           TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			endpoint     TEXT NOT NULL,
			filename     TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			processed_at TEXT,
			error        TEXT,
			summary      TEXT
		)
	`); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_message_status_status ON message_status(status)`)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Upsert(ctx context.Context, record Record) error {
	if err := record.validate(); err != nil {
		return err
	}

	var processedAt *string
	if record.ProcessedAt != nil {
		formatted := formatTime(*record.ProcessedAt)
		processedAt = &formatted
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_status (id, status, endpoint, filename, created_at, processed_at, error, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			endpoint = EXCLUDED.endpoint,
			filename = EXCLUDED.filename,
			created_at = EXCLUDED.created_at,
			processed_at = EXCLUDED.processed_at,
			error = EXCLUDED.error,
			summary = EXCLUDED.summary
	`, record.ID, string(record.Status), record.Endpoint, record.Filename,
		formatTime(record.CreatedAt), processedAt, optionalText(record.Error), optionalText(record.Summary))
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, endpoint, filename, created_at, processed_at, error, summary
		FROM message_status WHERE id = $1
	`, id)

	record, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return record, err
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT id, status, endpoint, filename, created_at, processed_at, error, summary FROM message_status`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	// Byte order on id matches the other backends whatever the database collation.
	query += ` ORDER BY created_at COLLATE "C" DESC, id COLLATE "C" ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM message_status`)
	return err
}

func scanPostgresRecord(row pgx.Row) (Record, error) {
	var (
		record                        Record
		status, createdAt             string
		processedAt, errText, summary *string
	)
	if err := row.Scan(&record.ID, &status, &record.Endpoint, &record.Filename, &createdAt, &processedAt, &errText, &summary); err != nil {
		return Record{}, err
	}

	record.Status = State(status)
	if err := record.setTimes(createdAt, processedAt); err != nil {
		return Record{}, err
	}
	if errText != nil {
		record.Error = *errText
	}
	if summary != nil {
		record.Summary = *summary
	}
	return record, nil
}

func optionalText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
