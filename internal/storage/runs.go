package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hybriddb/internal/etl"
)

// RunStore implements persistence for stream run logs.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// ── Run Logs ───────────────────────────────────────────────

// StartRun records a run in the running state and assigns its id.
func (s *RunStore) StartRun(ctx context.Context, log *etl.RunLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now()
	}
	log.Status = "running"
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO stream_runs (id, source_type, status, started_at) VALUES (?, ?, ?, ?)`,
		log.ID, log.SourceType, log.Status, log.StartedAt,
	)
	return err
}

// FinishRun stores the final counters and status of a run.
func (s *RunStore) FinishRun(ctx context.Context, log *etl.RunLog) error {
	now := time.Now()
	log.FinishedAt = &now
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE stream_runs SET status=?, records_read=?, records_held=?, error=?, finished_at=? WHERE id=?`,
		log.Status, log.RecordsRead, log.RecordsHeld, log.Error, now, log.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stream run not found: %s", log.ID)
	}
	return nil
}

// GetRun returns a single run.
func (s *RunStore) GetRun(ctx context.Context, id string) (*etl.RunLog, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT id, source_type, status, records_read, records_held, error, started_at, finished_at
		 FROM stream_runs WHERE id = ?`, id)
	l, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("stream run not found: %s", id)
	}
	return l, err
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]etl.RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, source_type, status, records_read, records_held, error, started_at, finished_at
		 FROM stream_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []etl.RunLog
	for rows.Next() {
		l, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*etl.RunLog, error) {
	var l etl.RunLog
	var finished sql.NullTime
	if err := sc.Scan(&l.ID, &l.SourceType, &l.Status, &l.RecordsRead, &l.RecordsHeld, &l.Error, &l.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		l.FinishedAt = &t
	}
	return &l, nil
}
