package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"hybriddb/internal/domain"
)

// MetadataStore persists field profiles, drift events and placement
// decisions. Profiles are upserted in place; events and decisions are
// only ever inserted.
type MetadataStore struct {
	db *DB
}

// NewMetadataStore creates a new MetadataStore.
func NewMetadataStore(db *DB) *MetadataStore {
	return &MetadataStore{db: db}
}

// ── Writes ─────────────────────────────────────────────────

// SaveBatch writes a batch in one transaction. Events and decisions whose
// id is already stored are skipped, so a retried batch is harmless.
func (s *MetadataStore) SaveBatch(ctx context.Context, batch domain.MetadataBatch) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, p := range batch.Profiles {
		profileJSON, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode profile %q: %w", p.FieldName, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO field_profiles (field_name, total_count, drift_state, dominant_type,
			 approx_distinct, profile_json, cardinality, first_seen_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(field_name) DO UPDATE SET
			 total_count=excluded.total_count, drift_state=excluded.drift_state,
			 dominant_type=excluded.dominant_type, approx_distinct=excluded.approx_distinct,
			 profile_json=excluded.profile_json, cardinality=excluded.cardinality,
			 updated_at=excluded.updated_at`,
			p.FieldName, p.TotalCount, string(p.DriftState), string(p.DominantType),
			p.ApproxDistinct, string(profileJSON), p.Cardinality, p.FirstSeenAt, p.LastUpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert profile %q: %w", p.FieldName, err)
		}
	}

	for _, ev := range batch.DriftEvents {
		windowJSON, err := json.Marshal(ev.WindowSnapshot)
		if err != nil {
			return fmt.Errorf("encode window %q: %w", ev.FieldName, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO drift_events (id, field_name, from_state, to_state, window_json, detected_at)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
			ev.ID, ev.FieldName, string(ev.FromState), string(ev.ToState), string(windowJSON), ev.DetectedAt,
		)
		if err != nil {
			return fmt.Errorf("insert drift event %q: %w", ev.FieldName, err)
		}
	}

	for _, d := range batch.Decisions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO placement_decisions (id, field_name, backend, reason_code, confidence, decided_at)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
			d.ID, d.FieldName, string(d.Backend), d.ReasonCode, d.Confidence, d.DecidedAt,
		)
		if err != nil {
			return fmt.Errorf("insert decision %q: %w", d.FieldName, err)
		}
	}

	return tx.Commit()
}

// ── Reads ──────────────────────────────────────────────────

// LoadAll returns every field's metadata in first-seen order.
func (s *MetadataStore) LoadAll(ctx context.Context) ([]domain.FieldMetadata, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT field_name, profile_json, cardinality FROM field_profiles ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.FieldMetadata
	index := make(map[string]int)
	for rows.Next() {
		var name, profileJSON string
		var card []byte
		if err := rows.Scan(&name, &profileJSON, &card); err != nil {
			return nil, err
		}
		var p domain.FieldProfile
		if err := json.Unmarshal([]byte(profileJSON), &p); err != nil {
			return nil, fmt.Errorf("decode profile %q: %w", name, err)
		}
		p.FieldName = name
		p.Cardinality = card
		index[name] = len(out)
		out = append(out, domain.FieldMetadata{
			Profile:     p,
			DriftEvents: []domain.DriftEvent{},
			Decisions:   []domain.PlacementDecision{},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	events, err := s.events(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if i, ok := index[ev.FieldName]; ok {
			out[i].DriftEvents = append(out[i].DriftEvents, ev)
		}
	}

	decisions, err := s.decisions(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, d := range decisions {
		if i, ok := index[d.FieldName]; ok {
			out[i].Decisions = append(out[i].Decisions, d)
		}
	}
	return out, nil
}

// DriftEvents returns field's drift history, oldest first.
func (s *MetadataStore) DriftEvents(ctx context.Context, field string) ([]domain.DriftEvent, error) {
	return s.events(ctx, field)
}

// Decisions returns field's decision history, oldest first.
func (s *MetadataStore) Decisions(ctx context.Context, field string) ([]domain.PlacementDecision, error) {
	return s.decisions(ctx, field)
}

func (s *MetadataStore) events(ctx context.Context, field string) ([]domain.DriftEvent, error) {
	q := `SELECT id, field_name, from_state, to_state, window_json, detected_at FROM drift_events`
	var args []any
	if field != "" {
		q += ` WHERE field_name = ?`
		args = append(args, field)
	}
	rows, err := s.db.conn.QueryContext(ctx, q+` ORDER BY seq ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query drift events: %w", err)
	}
	defer rows.Close()

	var out []domain.DriftEvent
	for rows.Next() {
		var ev domain.DriftEvent
		var from, to, windowJSON string
		if err := rows.Scan(&ev.ID, &ev.FieldName, &from, &to, &windowJSON, &ev.DetectedAt); err != nil {
			return nil, err
		}
		ev.FromState, ev.ToState = domain.DriftState(from), domain.DriftState(to)
		if err := json.Unmarshal([]byte(windowJSON), &ev.WindowSnapshot); err != nil {
			return nil, fmt.Errorf("decode window %s: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *MetadataStore) decisions(ctx context.Context, field string) ([]domain.PlacementDecision, error) {
	q := `SELECT id, field_name, backend, reason_code, confidence, decided_at FROM placement_decisions`
	var args []any
	if field != "" {
		q += ` WHERE field_name = ?`
		args = append(args, field)
	}
	rows, err := s.db.conn.QueryContext(ctx, q+` ORDER BY seq ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.PlacementDecision
	for rows.Next() {
		var d domain.PlacementDecision
		var backend string
		if err := rows.Scan(&d.ID, &d.FieldName, &backend, &d.ReasonCode, &d.Confidence, &d.DecidedAt); err != nil {
			return nil, err
		}
		d.Backend = domain.Backend(backend)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountFields returns the number of persisted profiles.
func (s *MetadataStore) CountFields(ctx context.Context) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM field_profiles`).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
