package classifier_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybriddb/internal/classifier"
	"hybriddb/internal/domain"
)

func newClassifier(t *testing.T) *classifier.Classifier {
	t.Helper()
	c, err := classifier.New(classifier.DefaultThresholds(), nil)
	require.NoError(t, err)
	return c
}

func profile(dominant domain.TypeTag, stability, uniqueness float64, types map[domain.TypeTag]int) domain.FieldProfile {
	var total int64
	for _, n := range types {
		total += int64(n)
	}
	return domain.FieldProfile{
		FieldName:       "f",
		ObservedTypes:   types,
		TotalCount:      total,
		DominantType:    dominant,
		StabilityScore:  stability,
		UniquenessRatio: uniqueness,
		LastUpdatedAt:   time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC),
	}
}

func TestDecide_Table(t *testing.T) {
	c := newClassifier(t)
	cases := []struct {
		name     string
		p        domain.FieldProfile
		state    domain.DriftState
		previous domain.Backend
		backend  domain.Backend
		reason   string
	}{
		{
			name:    "unique integers",
			p:       profile(domain.TypeInt, 1, 1, map[domain.TypeTag]int{domain.TypeInt: 50}),
			state:   domain.DriftStable,
			backend: domain.BackendSQL, reason: classifier.ReasonScalarUniqueKey,
		},
		{
			name:    "categorical strings",
			p:       profile(domain.TypeString, 1, 0.04, map[domain.TypeTag]int{domain.TypeString: 100}),
			state:   domain.DriftStable,
			backend: domain.BackendSQL, reason: classifier.ReasonScalarCategorical,
		},
		{
			name:    "free text",
			p:       profile(domain.TypeString, 1, 0.4, map[domain.TypeTag]int{domain.TypeString: 100}),
			state:   domain.DriftStable,
			backend: domain.BackendDocument, reason: classifier.ReasonMurkyUniqueness,
		},
		{
			name:    "nested objects",
			p:       profile(domain.TypeObject, 1, 1, map[domain.TypeTag]int{domain.TypeObject: 10}),
			state:   domain.DriftStable,
			backend: domain.BackendDocument, reason: classifier.ReasonNestedShape,
		},
		{
			name:    "nullable integers are not heterogeneous",
			p:       profile(domain.TypeInt, 0.9, 0.95, map[domain.TypeTag]int{domain.TypeInt: 60, domain.TypeNull: 40}),
			state:   domain.DriftStable,
			backend: domain.BackendSQL, reason: classifier.ReasonScalarUniqueKey,
		},
		{
			name:    "mixed scalars tie without history",
			p:       profile(domain.TypeInt, 0.85, 0.95, map[domain.TypeTag]int{domain.TypeInt: 70, domain.TypeString: 30}),
			state:   domain.DriftStable,
			backend: domain.BackendDocument, reason: classifier.ReasonTieDefault,
		},
		{
			name:     "mixed scalars tie keeps previous",
			p:        profile(domain.TypeInt, 0.85, 0.95, map[domain.TypeTag]int{domain.TypeInt: 70, domain.TypeString: 30}),
			state:    domain.DriftStable,
			previous: domain.BackendSQL,
			backend:  domain.BackendSQL, reason: classifier.ReasonTiePrevious,
		},
		{
			name:     "unstable scalar has no vote",
			p:        profile(domain.TypeInt, 0.6, 1, map[domain.TypeTag]int{domain.TypeInt: 100}),
			state:    domain.DriftSuspect,
			previous: domain.BackendSQL,
			backend:  domain.BackendSQL, reason: classifier.ReasonTiePrevious,
		},
		{
			name:    "all null defaults to document",
			p:       profile(domain.TypeNull, 1, 0, map[domain.TypeTag]int{domain.TypeNull: 5}),
			state:   domain.DriftStable,
			backend: domain.BackendDocument, reason: classifier.ReasonTieDefault,
		},
		{
			name:    "unknown values default to document",
			p:       profile(domain.TypeUnknown, 1, 1, map[domain.TypeTag]int{domain.TypeUnknown: 5}),
			state:   domain.DriftStable,
			backend: domain.BackendDocument, reason: classifier.ReasonTieDefault,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := c.Decide(tc.p, tc.state, tc.previous)
			assert.Equal(t, tc.backend, d.Backend)
			assert.Equal(t, tc.reason, d.ReasonCode)
			assert.GreaterOrEqual(t, d.Confidence, 0.0)
			assert.LessOrEqual(t, d.Confidence, 1.0)
		})
	}
}

func TestDecide_DriftOverridesEverything(t *testing.T) {
	c := newClassifier(t)
	profiles := []domain.FieldProfile{
		profile(domain.TypeInt, 1, 1, map[domain.TypeTag]int{domain.TypeInt: 50}),
		profile(domain.TypeObject, 0.2, 0.5, map[domain.TypeTag]int{domain.TypeObject: 3, domain.TypeArray: 3}),
		profile(domain.TypeNull, 0, 0, map[domain.TypeTag]int{domain.TypeNull: 1}),
		{},
	}
	for _, p := range profiles {
		for _, prev := range []domain.Backend{"", domain.BackendSQL, domain.BackendDocument} {
			d := c.Decide(p, domain.DriftDrifting, prev)
			assert.Equal(t, domain.BackendHold, d.Backend)
			assert.Equal(t, classifier.ReasonActiveDrift, d.ReasonCode)
		}
	}
}

func TestDecide_Deterministic(t *testing.T) {
	c := newClassifier(t)
	p := profile(domain.TypeString, 0.9, 0.3, map[domain.TypeTag]int{domain.TypeString: 9, domain.TypeInt: 1})
	first := c.Decide(p, domain.DriftStable, domain.BackendSQL)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, c.Decide(p, domain.DriftStable, domain.BackendSQL))
	}
	assert.Equal(t, p.LastUpdatedAt, first.DecidedAt)
	assert.Empty(t, first.ID)
}

func TestDecide_ConfidenceMonotonic(t *testing.T) {
	c := newClassifier(t)
	types := map[domain.TypeTag]int{domain.TypeInt: 100}

	prev := -1.0
	for _, s := range []float64{0.8, 0.85, 0.9, 0.95, 1} {
		d := c.Decide(profile(domain.TypeInt, s, 0.9, types), domain.DriftStable, "")
		require.Equal(t, domain.BackendSQL, d.Backend)
		assert.Greater(t, d.Confidence, prev, "stability %g", s)
		prev = d.Confidence
	}

	prev = -1.0
	for _, u := range []float64{0.7, 0.8, 0.9, 1} {
		d := c.Decide(profile(domain.TypeInt, 1, u, types), domain.DriftStable, "")
		require.Equal(t, domain.BackendSQL, d.Backend)
		assert.Greater(t, d.Confidence, prev, "uniqueness %g", u)
		prev = d.Confidence
	}

	prev = -1.0
	for _, u := range []float64{0.1, 0.05, 0} {
		d := c.Decide(profile(domain.TypeInt, 1, u, types), domain.DriftStable, "")
		require.Equal(t, domain.BackendSQL, d.Backend)
		assert.Greater(t, d.Confidence, prev, "uniqueness %g", u)
		prev = d.Confidence
	}
}

func TestRulesByName(t *testing.T) {
	rules, err := classifier.RulesByName([]string{classifier.ReasonScalarUniqueKey})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, classifier.ReasonActiveDrift, rules[0].Name)

	c, err := classifier.New(classifier.DefaultThresholds(), rules)
	require.NoError(t, err)
	// without the nested rule, an object field has no vote at all
	d := c.Decide(profile(domain.TypeObject, 1, 1, map[domain.TypeTag]int{domain.TypeObject: 5}), domain.DriftStable, "")
	assert.Equal(t, classifier.ReasonTieDefault, d.ReasonCode)

	_, err = classifier.RulesByName([]string{"no_such_rule"})
	assert.Error(t, err)
	assert.Len(t, classifier.DefaultRules(), len(classifier.RuleNames()))
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, classifier.DefaultThresholds().Validate())
	bad := classifier.DefaultThresholds()
	bad.MurkyLow, bad.MurkyHigh = 0.7, 0.1
	assert.Error(t, bad.Validate())
	_, err := classifier.New(bad, nil)
	assert.Error(t, err)
}
