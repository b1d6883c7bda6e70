package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// SQLStore keeps reports in PostgreSQL
type SQLStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and ensures the reports table exists
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := NewSQLStore(db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS scan_reports (
		id VARCHAR(64) PRIMARY KEY,
		run_id VARCHAR(64) NOT NULL,
		title TEXT NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		started TIMESTAMPTZ NOT NULL,
		finished TIMESTAMPTZ,
		scanned_paths JSONB NOT NULL,
		files JSONB NOT NULL,
		scanned INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, r *Report) error {
	paths, err := json.Marshal(r.ScannedPaths)
	if err != nil {
		return fmt.Errorf("encode paths: %w", err)
	}
	files, err := json.Marshal(r.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}

	query := `INSERT INTO scan_reports
		(id, run_id, title, outcome, started, finished, scanned_paths, files, scanned, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			finished = EXCLUDED.finished,
			files = EXCLUDED.files,
			scanned = EXCLUDED.scanned,
			failed = EXCLUDED.failed`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.RunID, r.Title, string(r.Outcome), r.Started, nullTime(r.Finished),
		paths, files, r.Scanned, r.Failed)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, run_id, title, outcome, started, finished, scanned_paths, files, scanned, failed FROM scan_reports`

func (s *SQLStore) Get(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	return r, nil
}

func (s *SQLStore) List(ctx context.Context) ([]*Report, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY started DESC`)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		r        Report
		outcome  string
		finished sql.NullTime
		paths    []byte
		files    []byte
	)
	err := row.Scan(&r.ID, &r.RunID, &r.Title, &outcome, &r.Started, &finished,
		&paths, &files, &r.Scanned, &r.Failed)
	if err != nil {
		return nil, err
	}
	r.Outcome = Outcome(outcome)
	if finished.Valid {
		r.Finished = finished.Time
	}
	if err := json.Unmarshal(paths, &r.ScannedPaths); err != nil {
		return nil, fmt.Errorf("decode paths: %w", err)
	}
	if err := json.Unmarshal(files, &r.Files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	return &r, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
