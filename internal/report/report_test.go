package report_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybriddb/internal/domain"
	"hybriddb/internal/report"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func meta(name string, types map[domain.TypeTag]int, uniq, stab float64, state domain.DriftState, d ...domain.PlacementDecision) domain.FieldMetadata {
	var total, nulls int64
	for tag, n := range types {
		total += int64(n)
		if tag == domain.TypeNull {
			nulls += int64(n)
		}
	}
	return domain.FieldMetadata{
		Profile: domain.FieldProfile{
			FieldName:       name,
			ObservedTypes:   types,
			TotalCount:      total,
			NullCount:       nulls,
			UniquenessRatio: uniq,
			StabilityScore:  stab,
			DriftState:      state,
		},
		Decisions: d,
	}
}

func decision(b domain.Backend, reason string, conf float64) domain.PlacementDecision {
	return domain.PlacementDecision{Backend: b, ReasonCode: reason, Confidence: conf}
}

func fixtures() []domain.FieldMetadata {
	return []domain.FieldMetadata{
		meta("user_id", map[domain.TypeTag]int{domain.TypeInt: 100}, 1, 1, domain.DriftStable,
			decision(domain.BackendSQL, "scalar_unique_key", 1)),
		meta("age", map[domain.TypeTag]int{domain.TypeInt: 90, domain.TypeNull: 10}, 0.4, 1, domain.DriftStable,
			decision(domain.BackendSQL, "scalar_categorical", 0.8)),
		meta("payload", map[domain.TypeTag]int{domain.TypeObject: 50, domain.TypeArray: 50}, 1, 0.5, domain.DriftSuspect,
			decision(domain.BackendDocument, "nested_shape", 0.5)),
		meta("status", map[domain.TypeTag]int{domain.TypeString: 20, domain.TypeInt: 5}, 0.08, 0.4, domain.DriftDrifting,
			decision(domain.BackendSQL, "scalar_categorical", 0.9),
			decision(domain.BackendHold, "active_drift", 1)),
	}
}

func TestField_Metrics(t *testing.T) {
	fs := report.Field(fixtures()[1])

	assert.Equal(t, "age", fs.Field)
	assert.Equal(t, domain.BackendSQL, fs.Backend)
	assert.False(t, fs.TypeAmbiguous)
	assert.Equal(t, 0.1, fs.NullRatio)
	assert.Equal(t, report.TrendStable, fs.StabilityTrend)
	assert.False(t, fs.NeedsReview)
	// 0.3*0.9 + 0.25*1 + 0.25*1 + 0.2*0.8
	assert.Equal(t, 0.93, fs.Quality.Score)
}

func TestField_ReviewReasons(t *testing.T) {
	all := fixtures()
	assert.True(t, report.Field(all[2]).NeedsReview, "low confidence and ambiguous")
	held := report.Field(all[3])
	assert.True(t, held.NeedsReview)
	assert.Equal(t, domain.BackendHold, held.Backend)
	assert.InDelta(t, 0.3, held.Quality.Accuracy, 1e-9)
}

func TestTrend(t *testing.T) {
	assert.Equal(t, report.TrendStable, report.Trend(0.95))
	assert.Equal(t, report.TrendMostlyStable, report.Trend(0.9))
	assert.Equal(t, report.TrendUnstable, report.Trend(0.6))
	assert.Equal(t, report.TrendHighlyUnstable, report.Trend(0.5))
}

func TestIsIdentifier(t *testing.T) {
	for _, name := range []string{"id", "user_id", "session_token", "api_key", "uuid"} {
		assert.True(t, report.IsIdentifier(name), name)
	}
	for _, name := range []string{"valid", "keyboard", "width", "age"} {
		assert.False(t, report.IsIdentifier(name), name)
	}
}

func TestSummarize(t *testing.T) {
	s := report.Summarize(fixtures(), now)

	assert.Equal(t, 4, s.TotalFields)
	assert.Equal(t, 2, s.Placements[domain.BackendSQL])
	assert.Equal(t, 1, s.Placements[domain.BackendDocument])
	assert.Equal(t, 1, s.Placements[domain.BackendHold])
	assert.Equal(t, []string{"status"}, s.DriftingFields)
	assert.Equal(t, []string{"payload"}, s.SuspectFields)
	assert.Equal(t, []string{"payload", "status"}, s.ReviewFields)
	assert.Equal(t, 2, s.TypeAmbiguous)
	assert.Equal(t, now, s.GeneratedAt)
	assert.Greater(t, s.AverageQuality, 0.0)
}

func TestSummarize_Empty(t *testing.T) {
	s := report.Summarize(nil, now)
	assert.Equal(t, 0, s.TotalFields)
	assert.NotNil(t, s.DriftingFields)
	assert.Zero(t, s.AverageQuality)
}

func TestRecommend(t *testing.T) {
	r := report.Recommend(fixtures(), now)

	require.Len(t, r.SQLColumns, 2)
	assert.Equal(t, report.Column{Field: "user_id", Type: "BIGINT", Nullable: false, Index: true, Privacy: report.PrivacyStandard}, r.SQLColumns[0])
	assert.Equal(t, report.Column{Field: "age", Type: "BIGINT", Nullable: true, Index: false, Privacy: report.PrivacyStandard}, r.SQLColumns[1])

	require.Len(t, r.DocumentFields, 1)
	assert.Equal(t, "nested_shape", r.DocumentFields[0].Reason)
	assert.True(t, r.DocumentFields[0].TypeAmbiguity)

	assert.Equal(t, []string{"status"}, r.HeldFields)

	require.Len(t, r.Indexes, 2)
	assert.Equal(t, "user_id", r.Indexes[0].Field)
	assert.Equal(t, "unique", r.Indexes[0].IndexType)
	assert.Equal(t, "payload", r.Indexes[1].Field)
	assert.Equal(t, domain.BackendDocument, r.Indexes[1].Backend)
}

func TestColumnType(t *testing.T) {
	p := func(types map[domain.TypeTag]int, samples ...any) domain.FieldProfile {
		return domain.FieldProfile{ObservedTypes: types, SampleValues: samples}
	}
	assert.Equal(t, "DOUBLE", report.ColumnType(p(map[domain.TypeTag]int{domain.TypeInt: 3, domain.TypeFloat: 1})))
	assert.Equal(t, "BOOLEAN", report.ColumnType(p(map[domain.TypeTag]int{domain.TypeBool: 2, domain.TypeNull: 5})))
	assert.Equal(t, "VARCHAR(255)", report.ColumnType(p(map[domain.TypeTag]int{domain.TypeString: 1}, "short")))
	assert.Equal(t, "TEXT", report.ColumnType(p(map[domain.TypeTag]int{domain.TypeString: 1}, strings.Repeat("x", 300))))
	assert.Equal(t, "TEXT", report.ColumnType(p(map[domain.TypeTag]int{domain.TypeNull: 4})))
}

func TestField_FlipPatternsAndNote(t *testing.T) {
	m := fixtures()[3]
	m.Profile.FlipPatterns = []string{"str→num→str", "num→str→num"}
	changed := now
	m.Profile.TypesChangedAt = &changed

	fs := report.Field(m)
	assert.Equal(t, []string{"str→num→str", "num→str→num"}, fs.FlipPatterns)
	assert.True(t, fs.SchemaChanged)
	assert.Equal(t,
		`mixed data: "status" showed type drift (string 80%, int 20%); held. confidence=1.00 (patterns: str→num→str, num→str→num)`,
		fs.DriftNote)

	plain := report.Field(fixtures()[1])
	assert.Empty(t, plain.DriftNote)
	assert.Empty(t, plain.FlipPatterns)
	assert.False(t, plain.SchemaChanged)
}

func TestSummarize_DriftPatterns(t *testing.T) {
	all := fixtures()
	all[2].Profile.FlipPatterns = []string{"object→array→object"}
	all[3].Profile.FlipPatterns = []string{"str→num→str"}
	all = append(all, meta("code", map[domain.TypeTag]int{domain.TypeString: 3, domain.TypeInt: 3}, 0.5, 0.5, domain.DriftSuspect))
	all[4].Profile.FlipPatterns = []string{"str→num→str"}
	changed := now
	all[4].Profile.TypesChangedAt = &changed

	s := report.Summarize(all, now)
	assert.Equal(t, map[string][]string{
		"object→array→object": {"payload"},
		"str→num→str":         {"status", "code"},
	}, s.DriftPatterns)
	assert.Equal(t, []string{"code"}, s.SchemaChanges)
}

func TestGovern(t *testing.T) {
	profile := func(name string, total, nulls, distinct int64, uniq float64) domain.FieldProfile {
		return domain.FieldProfile{
			FieldName:          name,
			TotalCount:         total,
			NullCount:          nulls,
			DistinctValueCount: distinct,
			UniquenessRatio:    uniq,
		}
	}

	t.Run("pii", func(t *testing.T) {
		g := report.Govern(profile("customer_email", 10, 0, 10, 1))
		assert.Equal(t, "sensitive", g.Sensitivity)
		assert.Equal(t, "high", g.BusinessImportance)
		assert.Equal(t, "excellent", g.QueryOptimization)
		assert.Equal(t, "user_management", g.BusinessDomain)
		assert.Equal(t, report.PrivacyPII, g.PrivacyLevel)
		assert.Equal(t, "7_years", g.RetentionPolicy)
		assert.Equal(t, []string{report.ComplianceGDPR, report.ComplianceCCPA}, g.ComplianceTags)
	})

	t.Run("payment", func(t *testing.T) {
		g := report.Govern(profile("payment_amount", 10, 0, 4, 0.4))
		assert.Equal(t, "critical", g.Criticality)
		assert.Equal(t, "moderate", g.QueryOptimization)
		assert.Equal(t, "commerce", g.BusinessDomain)
		assert.Equal(t, report.PrivacyStandard, g.PrivacyLevel)
		assert.Equal(t, []string{report.CompliancePCI}, g.ComplianceTags)
	})

	t.Run("health", func(t *testing.T) {
		g := report.Govern(profile("health_score", 10, 5, 3, 0.3))
		assert.Equal(t, report.PrivacySensitive, g.PrivacyLevel)
		assert.Equal(t, "3_years", g.RetentionPolicy)
		assert.Equal(t, []string{report.ComplianceHIPAA}, g.ComplianceTags)
		assert.Equal(t, "standard", g.Criticality)
		assert.Equal(t, "low", g.QueryOptimization)
	})

	t.Run("public", func(t *testing.T) {
		g := report.Govern(profile("city", 10, 0, 3, 0.3))
		assert.Equal(t, "public", g.Sensitivity)
		assert.Equal(t, "important", g.Criticality)
		assert.Equal(t, "location", g.BusinessDomain)
		assert.Equal(t, "medium", g.BusinessImportance)
		assert.Empty(t, g.ComplianceTags)
	})

	t.Run("short keywords match whole tokens", func(t *testing.T) {
		assert.Equal(t, "critical", report.Govern(profile("order_id", 1, 0, 1, 1)).Criticality)
		assert.Equal(t, "device", report.Govern(profile("os", 1, 0, 1, 1)).BusinessDomain)
		assert.Equal(t, "internal", report.Govern(profile("paid", 1, 0, 1, 1)).Sensitivity)
		assert.Equal(t, "general", report.Govern(profile("costs", 1, 0, 1, 1)).BusinessDomain)
	})
}

func TestRecommend_Governance(t *testing.T) {
	all := append(fixtures(),
		meta("email", map[domain.TypeTag]int{domain.TypeString: 10}, 1, 1, domain.DriftStable,
			decision(domain.BackendSQL, "scalar_unique_key", 1)),
		meta("card_payment", map[domain.TypeTag]int{domain.TypeFloat: 10}, 0.5, 1, domain.DriftStable,
			decision(domain.BackendSQL, "scalar_categorical", 0.9)),
		meta("phone", map[domain.TypeTag]int{domain.TypeString: 10}, 1, 1, domain.DriftStable),
	)

	r := report.Recommend(all, now)
	assert.Equal(t, []string{"email"}, r.PIIFields, "undecided fields are left out")
	assert.Equal(t, map[string][]string{
		report.ComplianceGDPR: {"email"},
		report.ComplianceCCPA: {"email"},
		report.CompliancePCI:  {"card_payment"},
	}, r.Compliance)
	require.Len(t, r.SQLColumns, 4)
	assert.Equal(t, report.PrivacyPII, r.SQLColumns[2].Privacy)
}
