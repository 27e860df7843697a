package classifier

import (
	"fmt"

	"hybriddb/internal/domain"
)

// ── Rule table ─────────────────────────────────────────────
// Rules are evaluated in order. A terminal rule decides on its own; every
// other matching rule casts a vote for its backend. Predicates read their
// cut-offs from Thresholds, never from literals.

// Thresholds are the tunable cut-offs the rule predicates read.
type Thresholds struct {
	SuspectThreshold float64 // stability required to favor SQL
	MurkyLow         float64 // uniqueness band (MurkyLow, MurkyHigh) is ambiguous
	MurkyHigh        float64
	MinTypeShare     float64 // share a non-null type needs to count as present
}

// DefaultThresholds matches the stock drift thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{SuspectThreshold: 0.8, MurkyLow: 0.1, MurkyHigh: 0.7, MinTypeShare: 0.1}
}

// Validate checks the band and share bounds.
func (t Thresholds) Validate() error {
	if t.MurkyLow < 0 || t.MurkyHigh > 1 || t.MurkyLow >= t.MurkyHigh {
		return fmt.Errorf("murky band must satisfy 0 <= low < high <= 1, got (%g, %g)", t.MurkyLow, t.MurkyHigh)
	}
	if t.MinTypeShare <= 0 || t.MinTypeShare > 1 {
		return fmt.Errorf("min type share must be in (0,1], got %g", t.MinTypeShare)
	}
	if t.SuspectThreshold <= 0 || t.SuspectThreshold > 1 {
		return fmt.Errorf("suspect threshold must be in (0,1], got %g", t.SuspectThreshold)
	}
	return nil
}

// Signals are the classifier inputs derived from one profile.
type Signals struct {
	State         domain.DriftState
	Dominant      domain.TypeTag
	Stability     float64
	Uniqueness    float64
	Heterogeneous bool
	PresentTypes  int
}

// Rule maps a predicate over Signals to a backend.
type Rule struct {
	Name     string
	Backend  domain.Backend
	Terminal bool
	When     func(Signals, Thresholds) bool
}

const (
	ReasonActiveDrift        = "active_drift"
	ReasonNestedShape        = "nested_shape"
	ReasonHeterogeneousTypes = "heterogeneous_types"
	ReasonMurkyUniqueness    = "murky_uniqueness"
	ReasonScalarCategorical  = "scalar_categorical"
	ReasonScalarUniqueKey    = "scalar_unique_key"
	ReasonTiePrevious        = "tie_previous_placement"
	ReasonTieDefault         = "tie_default_document"
)

var catalog = map[string]Rule{
	ReasonActiveDrift: {
		Name: ReasonActiveDrift, Backend: domain.BackendHold, Terminal: true,
		When: func(s Signals, _ Thresholds) bool { return s.State == domain.DriftDrifting },
	},
	ReasonNestedShape: {
		Name: ReasonNestedShape, Backend: domain.BackendDocument,
		When: func(s Signals, _ Thresholds) bool { return s.Dominant.IsNested() },
	},
	ReasonHeterogeneousTypes: {
		Name: ReasonHeterogeneousTypes, Backend: domain.BackendDocument,
		When: func(s Signals, _ Thresholds) bool { return s.Heterogeneous },
	},
	ReasonMurkyUniqueness: {
		Name: ReasonMurkyUniqueness, Backend: domain.BackendDocument,
		When: func(s Signals, t Thresholds) bool { return inBand(s.Uniqueness, t) },
	},
	ReasonScalarCategorical: {
		Name: ReasonScalarCategorical, Backend: domain.BackendSQL,
		When: func(s Signals, t Thresholds) bool {
			return s.Dominant.IsScalar() && s.Stability >= t.SuspectThreshold && s.Uniqueness <= t.MurkyLow
		},
	},
	ReasonScalarUniqueKey: {
		Name: ReasonScalarUniqueKey, Backend: domain.BackendSQL,
		When: func(s Signals, t Thresholds) bool {
			return s.Dominant.IsScalar() && s.Stability >= t.SuspectThreshold && s.Uniqueness >= t.MurkyHigh
		},
	},
}

var defaultOrder = []string{
	ReasonActiveDrift,
	ReasonNestedShape,
	ReasonHeterogeneousTypes,
	ReasonMurkyUniqueness,
	ReasonScalarCategorical,
	ReasonScalarUniqueKey,
}

// DefaultRules returns the stock rule table.
func DefaultRules() []Rule {
	rules, _ := RulesByName(defaultOrder)
	return rules
}

// RuleNames lists every rule known to the catalog, in stock order.
func RuleNames() []string {
	return append([]string(nil), defaultOrder...)
}

// RulesByName builds a rule table from catalog names, in the given order.
// The drift override is always evaluated first, whether named or not.
func RulesByName(names []string) ([]Rule, error) {
	rules := []Rule{catalog[ReasonActiveDrift]}
	seen := map[string]bool{ReasonActiveDrift: true}
	for _, name := range names {
		r, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("unknown classifier rule %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		rules = append(rules, r)
	}
	return rules, nil
}

func inBand(u float64, t Thresholds) bool {
	return u > t.MurkyLow && u < t.MurkyHigh
}
