package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"hybriddb/internal/domain"
)

// QuarantineStore keeps values held back while their field drifts.
type QuarantineStore struct {
	db *DB
}

// NewQuarantineStore creates a new QuarantineStore.
func NewQuarantineStore(db *DB) *QuarantineStore {
	return &QuarantineStore{db: db}
}

// Hold stores values in one transaction.
func (s *QuarantineStore) Hold(ctx context.Context, values []domain.QuarantinedValue) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for i := range values {
		v := &values[i]
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		valueJSON, err := json.Marshal(v.Value)
		if err != nil {
			return fmt.Errorf("encode held value %q: %w", v.FieldName, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO quarantined_values (id, record_id, field_name, value_json, reason_code, held_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			v.ID, v.RecordID, v.FieldName, string(valueJSON), v.ReasonCode, v.HeldAt,
		)
		if err != nil {
			return fmt.Errorf("hold %q: %w", v.FieldName, err)
		}
	}
	return tx.Commit()
}

// ListHeld returns held values, newest first. An empty field lists all.
func (s *QuarantineStore) ListHeld(ctx context.Context, field string, limit int) ([]domain.QuarantinedValue, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, record_id, field_name, value_json, reason_code, held_at FROM quarantined_values`
	args := []any{}
	if field != "" {
		q += ` WHERE field_name = ?`
		args = append(args, field)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QuarantinedValue
	for rows.Next() {
		var v domain.QuarantinedValue
		var valueJSON string
		if err := rows.Scan(&v.ID, &v.RecordID, &v.FieldName, &valueJSON, &v.ReasonCode, &v.HeldAt); err != nil {
			return nil, err
		}
		dec := json.NewDecoder(strings.NewReader(valueJSON))
		dec.UseNumber()
		if err := dec.Decode(&v.Value); err != nil {
			return nil, fmt.Errorf("decode held value %s: %w", v.ID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountHeld returns the number of held values per field.
func (s *QuarantineStore) CountHeld(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT field_name, COUNT(*) FROM quarantined_values GROUP BY field_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}
