package report

import (
	"fmt"
	"time"

	"hybriddb/internal/domain"
)

// ── Schema recommendations ─────────────────────────────────

// Column is a suggested relational column for an SQL-placed field.
type Column struct {
	Field    string `json:"field"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Index    bool   `json:"index_recommended"`
	Privacy  string `json:"privacy_level"`
}

// DocumentField is a DOCUMENT-placed field and why it went there.
type DocumentField struct {
	Field         string `json:"field"`
	Reason        string `json:"reason"`
	TypeAmbiguity bool   `json:"type_ambiguity"`
}

// IndexCandidate is a field worth indexing on its backend.
type IndexCandidate struct {
	Field     string         `json:"field"`
	Backend   domain.Backend `json:"backend"`
	IndexType string         `json:"index_type"`
	Reasoning string         `json:"reasoning"`
}

// Recommendations is the schema advice derived from current placements.
type Recommendations struct {
	SQLColumns     []Column         `json:"sql_columns"`
	DocumentFields []DocumentField  `json:"document_fields"`
	HeldFields     []string         `json:"held_fields"`
	Indexes        []IndexCandidate `json:"index_candidates"`

	// PIIFields lists decided fields labelled pii; Compliance maps each
	// compliance tag to the decided fields it applies to.
	PIIFields   []string            `json:"pii_fields"`
	Compliance  map[string][]string `json:"compliance"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Recommend derives schema advice for every decided field.
func Recommend(all []domain.FieldMetadata, now time.Time) Recommendations {
	r := Recommendations{
		SQLColumns:     []Column{},
		DocumentFields: []DocumentField{},
		HeldFields:     []string{},
		Indexes:        []IndexCandidate{},
		PIIFields:      []string{},
		Compliance:     map[string][]string{},
		GeneratedAt:    now,
	}
	for _, m := range all {
		fs := Field(m)
		idx, indexed := indexFor(fs)
		if fs.Backend != "" {
			if fs.Governance.PrivacyLevel == PrivacyPII {
				r.PIIFields = append(r.PIIFields, fs.Field)
			}
			for _, tag := range fs.Governance.ComplianceTags {
				r.Compliance[tag] = append(r.Compliance[tag], fs.Field)
			}
		}

		switch fs.Backend {
		case domain.BackendSQL:
			r.SQLColumns = append(r.SQLColumns, Column{
				Field:    fs.Field,
				Type:     ColumnType(m.Profile),
				Nullable: m.Profile.NullCount > 0,
				Index:    indexed,
				Privacy:  fs.Governance.PrivacyLevel,
			})
		case domain.BackendDocument:
			r.DocumentFields = append(r.DocumentFields, DocumentField{
				Field:         fs.Field,
				Reason:        fs.Reason,
				TypeAmbiguity: fs.TypeAmbiguous,
			})
		case domain.BackendHold:
			r.HeldFields = append(r.HeldFields, fs.Field)
			continue
		default:
			continue
		}
		if indexed {
			r.Indexes = append(r.Indexes, idx)
		}
	}
	return r
}

func indexFor(fs FieldSummary) (IndexCandidate, bool) {
	c := IndexCandidate{Field: fs.Field, Backend: fs.Backend}
	switch {
	case fs.Identifier && fs.Uniqueness >= indexUniquenessFloor:
		c.IndexType = "unique"
		c.Reasoning = "identifier field with unique values"
	case fs.Identifier:
		c.IndexType = "standard"
		c.Reasoning = "identifier field"
	case fs.Uniqueness >= indexUniquenessFloor:
		c.IndexType = "standard"
		c.Reasoning = fmt.Sprintf("high uniqueness (%.2f)", fs.Uniqueness)
	default:
		return c, false
	}
	return c, true
}

// ColumnType maps a profile's dominant value type to a portable SQL type.
// Strings longer than 255 characters in the sample widen to TEXT.
func ColumnType(p domain.FieldProfile) string {
	types := valueTypes(p)
	if len(types) == 0 {
		return "TEXT"
	}
	if len(types) == 2 && containsBoth(types, domain.TypeInt, domain.TypeFloat) {
		return "DOUBLE"
	}
	switch types[0] {
	case domain.TypeInt:
		return "BIGINT"
	case domain.TypeFloat:
		return "DOUBLE"
	case domain.TypeBool:
		return "BOOLEAN"
	case domain.TypeString:
		for _, v := range p.SampleValues {
			if s, ok := v.(string); ok && len([]rune(s)) > 255 {
				return "TEXT"
			}
		}
		return "VARCHAR(255)"
	default:
		return "TEXT"
	}
}

func containsBoth(types []domain.TypeTag, a, b domain.TypeTag) bool {
	var hasA, hasB bool
	for _, t := range types {
		hasA = hasA || t == a
		hasB = hasB || t == b
	}
	return hasA && hasB
}
