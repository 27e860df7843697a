package domain

import (
	"sort"
	"time"
)

// TypeTag is the structural type of a single observed value.
type TypeTag string

const (
	TypeNull    TypeTag = "null"
	TypeBool    TypeTag = "bool"
	TypeInt     TypeTag = "int"
	TypeFloat   TypeTag = "float"
	TypeString  TypeTag = "string"
	TypeArray   TypeTag = "array"
	TypeObject  TypeTag = "object"
	TypeUnknown TypeTag = "unknown"
)

// IsScalar reports whether values of this type fit a single relational column.
func (t TypeTag) IsScalar() bool {
	switch t {
	case TypeBool, TypeInt, TypeFloat, TypeString:
		return true
	}
	return false
}

// IsNested reports whether values of this type carry a variable shape.
func (t TypeTag) IsNested() bool {
	return t == TypeArray || t == TypeObject
}

// DriftState is the drift classification of a field's recent type history.
type DriftState string

const (
	DriftStable   DriftState = "STABLE"
	DriftSuspect  DriftState = "SUSPECT"
	DriftDrifting DriftState = "DRIFTING"
)

// Backend is the placement chosen for a field.
type Backend string

const (
	BackendSQL      Backend = "SQL"
	BackendDocument Backend = "DOCUMENT"
	BackendHold     Backend = "HOLD"
)

// FieldProfile is the evolving statistical profile of one field.
// Profiles handed out of the analyzer are snapshots; mutating one has no
// effect on the live profile.
type FieldProfile struct {
	FieldName          string          `json:"field_name"`
	ObservedTypes      map[TypeTag]int `json:"observed_types"`
	TotalCount         int64           `json:"total_count"`
	NullCount          int64           `json:"null_count"`
	DistinctValueCount int64           `json:"distinct_value_count"`
	ApproxDistinct     bool            `json:"approx_distinct"`
	UniquenessRatio    float64         `json:"uniqueness_ratio"`
	StabilityScore     float64         `json:"stability_score"`
	DominantType       TypeTag         `json:"dominant_type"`
	DriftState         DriftState      `json:"drift_state"`
	Window             []TypeTag       `json:"window"`
	LowStreak          int             `json:"low_streak"`
	TypeSequence       []TypeTag       `json:"type_sequence,omitempty"`
	FlipPatterns       []string        `json:"flip_patterns,omitempty"`
	SampleValues       []any           `json:"sample_values"`
	FirstSeenAt        time.Time       `json:"first_seen_at"`
	LastUpdatedAt      time.Time       `json:"last_updated_at"`

	// TypesChangedAt is when a non-null type was last seen for the first
	// time after the field's first observation.
	TypesChangedAt *time.Time `json:"types_changed_at,omitempty"`

	// Cardinality is the encoded distinct-count estimator, attached only
	// when a profile is persisted.
	Cardinality []byte `json:"-"`
}

// Clone returns a deep copy of the profile's mutable collections.
func (p FieldProfile) Clone() FieldProfile {
	out := p
	out.ObservedTypes = make(map[TypeTag]int, len(p.ObservedTypes))
	for k, v := range p.ObservedTypes {
		out.ObservedTypes[k] = v
	}
	out.Window = append([]TypeTag(nil), p.Window...)
	out.TypeSequence = append([]TypeTag(nil), p.TypeSequence...)
	out.FlipPatterns = append([]string(nil), p.FlipPatterns...)
	out.SampleValues = append([]any(nil), p.SampleValues...)
	out.Cardinality = append([]byte(nil), p.Cardinality...)
	return out
}

// NullRatio is the share of observations that were null or absent.
func (p FieldProfile) NullRatio() float64 {
	if p.TotalCount == 0 {
		return 0
	}
	return float64(p.NullCount) / float64(p.TotalCount)
}

// TypeShares returns each tag's share of total_count, ordered by share
// descending and then by tag name.
func (p FieldProfile) TypeShares() []TypeShare {
	shares := make([]TypeShare, 0, len(p.ObservedTypes))
	for tag, n := range p.ObservedTypes {
		s := TypeShare{Type: tag, Count: n}
		if p.TotalCount > 0 {
			s.Share = float64(n) / float64(p.TotalCount)
		}
		shares = append(shares, s)
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].Type < shares[j].Type
	})
	return shares
}

// TypeShare is one bucket of a profile's type histogram.
type TypeShare struct {
	Type  TypeTag `json:"type"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// WindowSnapshot captures the drift window at the moment of a transition.
type WindowSnapshot struct {
	Tags      []TypeTag `json:"tags"`
	Dominant  TypeTag   `json:"dominant"`
	Stability float64   `json:"stability"`
	Support   float64   `json:"support"`
	LowStreak int       `json:"low_streak"`
	Patterns  []string  `json:"flip_patterns,omitempty"`
}

// DriftEvent records a single drift state transition. Never mutated.
type DriftEvent struct {
	ID             string         `json:"id"`
	FieldName      string         `json:"field_name"`
	WindowSnapshot WindowSnapshot `json:"window_snapshot"`
	FromState      DriftState     `json:"from_state"`
	ToState        DriftState     `json:"to_state"`
	DetectedAt     time.Time      `json:"detected_at"`
}

// PlacementDecision is one classifier verdict for a field. Never mutated.
type PlacementDecision struct {
	ID         string    `json:"id"`
	FieldName  string    `json:"field_name"`
	Backend    Backend   `json:"chosen_backend"`
	ReasonCode string    `json:"reason_code"`
	Confidence float64   `json:"confidence"`
	DecidedAt  time.Time `json:"decided_at"`
}

// SameVerdict reports whether two decisions agree on backend and reason.
func (d PlacementDecision) SameVerdict(o PlacementDecision) bool {
	return d.Backend == o.Backend && d.ReasonCode == o.ReasonCode
}

// FieldMetadata is the complete metadata entry of a field.
type FieldMetadata struct {
	Profile     FieldProfile        `json:"profile"`
	DriftEvents []DriftEvent        `json:"drift_events"`
	Decisions   []PlacementDecision `json:"decisions"`
}

// Current returns the most recent placement decision, if any.
func (m FieldMetadata) Current() (PlacementDecision, bool) {
	if len(m.Decisions) == 0 {
		return PlacementDecision{}, false
	}
	return m.Decisions[len(m.Decisions)-1], true
}

// LastPlacement returns the most recent non-HOLD backend, if any.
func (m FieldMetadata) LastPlacement() (Backend, bool) {
	for i := len(m.Decisions) - 1; i >= 0; i-- {
		if m.Decisions[i].Backend != BackendHold {
			return m.Decisions[i].Backend, true
		}
	}
	return "", false
}
