package domain

import (
	"context"
	"time"
)

// MetadataBatch is the set of metadata changes produced since the last
// durable write.
type MetadataBatch struct {
	Profiles    []FieldProfile      `json:"profiles"`
	DriftEvents []DriftEvent        `json:"drift_events"`
	Decisions   []PlacementDecision `json:"decisions"`
}

// Empty reports whether the batch carries nothing to write.
func (b MetadataBatch) Empty() bool {
	return len(b.Profiles) == 0 && len(b.DriftEvents) == 0 && len(b.Decisions) == 0
}

// MetadataStore is the durable home of field metadata. Profiles are
// upserted; drift events and decisions are append-only.
type MetadataStore interface {
	SaveBatch(ctx context.Context, batch MetadataBatch) error
	LoadAll(ctx context.Context) ([]FieldMetadata, error)
}

// QuarantinedValue is a field value held back from both backends while its
// field is drifting.
type QuarantinedValue struct {
	ID         string    `json:"id"`
	RecordID   string    `json:"record_id"`
	FieldName  string    `json:"field_name"`
	Value      any       `json:"value"`
	ReasonCode string    `json:"reason_code"`
	HeldAt     time.Time `json:"held_at"`
}

// QuarantineStore keeps quarantined values for later review or replay.
type QuarantineStore interface {
	Hold(ctx context.Context, values []QuarantinedValue) error
	ListHeld(ctx context.Context, field string, limit int) ([]QuarantinedValue, error)
}
