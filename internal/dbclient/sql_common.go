package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"hybriddb/internal/domain"
	"hybriddb/internal/logger"
)

// dialect holds what differs between the SQL engines.
type dialect struct {
	driver      string
	createTable string // DDL with the table name as its only verb
	placeholder func(i int) string
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLSink writes routed fields to one table of a MySQL, Postgres,
// SQL Server or SQLite database.
type SQLSink struct {
	dialect dialect
	db      *sql.DB
	table   string
	insert  string
}

// newSQLSink opens the database behind dsn. Nothing is sent to the server
// until the first statement.
func newSQLSink(d dialect, dsn, table string) (*SQLSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	marks := make([]string, 6)
	for i := range marks {
		marks[i] = d.placeholder(i + 1)
	}
	insert := fmt.Sprintf(
		"INSERT INTO %s (record_id, field_name, value_json, value_type, t_stamp, sys_ingested_at) VALUES (%s)",
		table, strings.Join(marks, ", "),
	)
	return &SQLSink{dialect: d, db: db, table: table, insert: insert}, nil
}

// Driver returns the database/sql driver name.
func (s *SQLSink) Driver() string { return s.dialect.driver }

// Table returns the target table.
func (s *SQLSink) Table() string { return s.table }

// DB exposes the pool, mainly for inspection in tests.
func (s *SQLSink) DB() *sql.DB { return s.db }

func (s *SQLSink) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureTable creates the target table when it does not exist yet.
func (s *SQLSink) EnsureTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.createTable, s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// WriteRows inserts rows in a single transaction.
func (s *SQLSink) WriteRows(ctx context.Context, rows []domain.FieldRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		var ts any
		if r.TStamp != nil {
			ts = r.TStamp.UTC()
		}
		var value any
		if r.ValueJSON != "" && r.ValueJSON != "null" {
			value = r.ValueJSON
		}
		if _, err := stmt.ExecContext(ctx,
			r.RecordID, r.FieldName, value, string(r.ValueType), ts, r.IngestedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert %s.%s: %w", r.RecordID, r.FieldName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	log := logger.Get("sink.sql")
	log.Debug().
		Str("driver", s.dialect.driver).
		Int("rows", len(rows)).
		Msg("rows written")
	return nil
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}
