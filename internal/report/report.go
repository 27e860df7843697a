package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"hybriddb/internal/domain"
)

// ── Field view ─────────────────────────────────────────────

// Stability trend labels.
const (
	TrendStable         = "stable"
	TrendMostlyStable   = "mostly_stable"
	TrendUnstable       = "unstable"
	TrendHighlyUnstable = "highly_unstable"
)

const (
	reviewConfidenceBar  = 0.7
	indexUniquenessFloor = 0.9
)

var identifierTokens = map[string]bool{"id": true, "uuid": true, "key": true, "token": true, "session": true}

// Quality holds the per-field quality metrics and their weighted score.
type Quality struct {
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Validity     float64 `json:"validity"`
	Accuracy     float64 `json:"accuracy_estimate"`
	Score        float64 `json:"data_quality_score"`
}

// FieldSummary is the reporting view of one field.
type FieldSummary struct {
	Field          string            `json:"field"`
	Backend        domain.Backend    `json:"backend,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Confidence     float64           `json:"confidence"`
	State          domain.DriftState `json:"drift_state"`
	DominantType   domain.TypeTag    `json:"dominant_type"`
	TypeAmbiguous  bool              `json:"type_ambiguous"`
	TotalCount     int64             `json:"total_count"`
	NullRatio      float64           `json:"null_ratio"`
	Uniqueness     float64           `json:"uniqueness_ratio"`
	Stability      float64           `json:"stability_score"`
	StabilityTrend string            `json:"stability_trend"`
	Identifier     bool              `json:"identifier"`
	NeedsReview    bool              `json:"needs_review"`
	Quality        Quality           `json:"quality"`
	FlipPatterns   []string          `json:"flip_patterns"`
	DriftNote      string            `json:"drift_note,omitempty"`
	SchemaChanged  bool              `json:"schema_changed"`
	Governance     Governance        `json:"governance"`
	DriftEvents    int               `json:"drift_events"`
	Decisions      int               `json:"decisions"`
}

// Field builds the summary of one field's metadata.
func Field(m domain.FieldMetadata) FieldSummary {
	p := m.Profile
	fs := FieldSummary{
		Field:          p.FieldName,
		State:          p.DriftState,
		DominantType:   p.DominantType,
		TypeAmbiguous:  len(valueTypes(p)) > 1,
		TotalCount:     p.TotalCount,
		NullRatio:      round3(p.NullRatio()),
		Uniqueness:     round3(p.UniquenessRatio),
		Stability:      round3(p.StabilityScore),
		StabilityTrend: Trend(p.StabilityScore),
		Identifier:     IsIdentifier(p.FieldName),
		FlipPatterns:   append([]string{}, p.FlipPatterns...),
		SchemaChanged:  p.TypesChangedAt != nil,
		Governance:     Govern(p),
		DriftEvents:    len(m.DriftEvents),
		Decisions:      len(m.Decisions),
	}
	if d, ok := m.Current(); ok {
		fs.Backend = d.Backend
		fs.Reason = d.ReasonCode
		fs.Confidence = d.Confidence
	}
	held := p.DriftState == domain.DriftDrifting
	fs.NeedsReview = fs.TypeAmbiguous || held || fs.Confidence < reviewConfidenceBar
	fs.Quality = quality(p, fs.TypeAmbiguous, held)
	if fs.TypeAmbiguous {
		fs.DriftNote = driftNote(fs, p)
	}
	return fs
}

// driftNote explains a mixed-type field in one line.
func driftNote(fs FieldSummary, p domain.FieldProfile) string {
	var mix []string
	for _, s := range p.TypeShares() {
		if s.Type != domain.TypeNull && s.Count > 0 {
			mix = append(mix, fmt.Sprintf("%s %.0f%%", s.Type, s.Share*100))
		}
	}
	var where string
	switch fs.Backend {
	case domain.BackendSQL:
		where = "stable enough for SQL"
	case domain.BackendDocument:
		where = "routed to DOCUMENT"
	case domain.BackendHold:
		where = "held"
	default:
		where = "undecided"
	}
	note := fmt.Sprintf("mixed data: %q showed type drift (%s); %s. confidence=%.2f",
		fs.Field, strings.Join(mix, ", "), where, fs.Confidence)
	if len(fs.FlipPatterns) > 0 {
		note += " (patterns: " + strings.Join(fs.FlipPatterns, ", ") + ")"
	}
	return note
}

// Trend labels a stability score.
func Trend(stability float64) string {
	switch {
	case stability > 0.9:
		return TrendStable
	case stability > 0.7:
		return TrendMostlyStable
	case stability > 0.5:
		return TrendUnstable
	default:
		return TrendHighlyUnstable
	}
}

// IsIdentifier reports whether any '_'-separated token of name is an
// identifier word.
func IsIdentifier(name string) bool {
	for _, tok := range nameTokens(name) {
		if identifierTokens[tok] {
			return true
		}
	}
	return false
}

func quality(p domain.FieldProfile, ambiguous, held bool) Quality {
	q := Quality{
		Completeness: 1 - p.NullRatio(),
		Consistency:  p.StabilityScore,
	}
	q.Validity = math.Max(0, 1-float64(len(valueTypes(p))-1)*0.2)
	if len(valueTypes(p)) == 0 {
		q.Validity = 0
	}
	q.Accuracy = 0.8
	if ambiguous {
		q.Accuracy -= 0.2
	}
	if held {
		q.Accuracy -= 0.3
	}
	q.Accuracy = math.Max(0, q.Accuracy)
	q.Score = round3(0.3*q.Completeness + 0.25*q.Consistency + 0.25*q.Validity + 0.2*q.Accuracy)
	q.Completeness = round3(q.Completeness)
	q.Consistency = round3(q.Consistency)
	q.Validity = round3(q.Validity)
	q.Accuracy = round3(q.Accuracy)
	return q
}

// valueTypes are the non-null tags of the histogram, most frequent first.
func valueTypes(p domain.FieldProfile) []domain.TypeTag {
	var out []domain.TypeTag
	for _, s := range p.TypeShares() {
		if s.Type != domain.TypeNull && s.Count > 0 {
			out = append(out, s.Type)
		}
	}
	return out
}

// ── Summary ────────────────────────────────────────────────

// Summary is the store-wide overview.
type Summary struct {
	TotalFields    int                    `json:"total_fields"`
	Placements     map[domain.Backend]int `json:"placements"`
	DriftingFields []string               `json:"drifting_fields"`
	SuspectFields  []string               `json:"suspect_fields"`
	ReviewFields   []string               `json:"fields_needing_review"`
	TypeAmbiguous  int                    `json:"type_ambiguous_fields"`
	DriftPatterns  map[string][]string    `json:"drift_patterns"`
	SchemaChanges  []string               `json:"schema_changed_fields"`
	AverageQuality float64                `json:"average_quality_score"`
	GeneratedAt    time.Time              `json:"generated_at"`
}

// Summarize aggregates all fields, in the order given.
func Summarize(all []domain.FieldMetadata, now time.Time) Summary {
	s := Summary{
		TotalFields: len(all),
		Placements: map[domain.Backend]int{
			domain.BackendSQL:      0,
			domain.BackendDocument: 0,
			domain.BackendHold:     0,
		},
		DriftingFields: []string{},
		SuspectFields:  []string{},
		ReviewFields:   []string{},
		DriftPatterns:  map[string][]string{},
		SchemaChanges:  []string{},
		GeneratedAt:    now,
	}
	var qualitySum float64
	for _, m := range all {
		fs := Field(m)
		if fs.Backend != "" {
			s.Placements[fs.Backend]++
		}
		switch fs.State {
		case domain.DriftDrifting:
			s.DriftingFields = append(s.DriftingFields, fs.Field)
		case domain.DriftSuspect:
			s.SuspectFields = append(s.SuspectFields, fs.Field)
		}
		if fs.NeedsReview {
			s.ReviewFields = append(s.ReviewFields, fs.Field)
		}
		if fs.TypeAmbiguous {
			s.TypeAmbiguous++
		}
		for _, pat := range fs.FlipPatterns {
			s.DriftPatterns[pat] = append(s.DriftPatterns[pat], fs.Field)
		}
		if fs.SchemaChanged {
			s.SchemaChanges = append(s.SchemaChanges, fs.Field)
		}
		qualitySum += fs.Quality.Score
	}
	if len(all) > 0 {
		s.AverageQuality = round3(qualitySum / float64(len(all)))
	}
	return s
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
