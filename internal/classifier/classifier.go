package classifier

import (
	"fmt"
	"math"

	"hybriddb/internal/domain"
)

// Classifier maps a profile and drift state to a placement. It holds no
// state beyond its rule table and thresholds.
type Classifier struct {
	rules []Rule
	th    Thresholds
}

// New returns a Classifier. A nil rule table selects DefaultRules.
func New(th Thresholds, rules []Rule) (*Classifier, error) {
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("classifier thresholds: %w", err)
	}
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules, th: th}, nil
}

// Thresholds returns the cut-offs in use.
func (c *Classifier) Thresholds() Thresholds { return c.th }

// Signals derives the classifier inputs from a profile.
func (c *Classifier) Signals(p domain.FieldProfile, state domain.DriftState) Signals {
	s := Signals{
		State:      state,
		Dominant:   p.DominantType,
		Stability:  p.StabilityScore,
		Uniqueness: p.UniquenessRatio,
	}
	if p.TotalCount > 0 {
		for tag, n := range p.ObservedTypes {
			if tag == domain.TypeNull {
				continue
			}
			if float64(n)/float64(p.TotalCount) >= c.th.MinTypeShare {
				s.PresentTypes++
			}
		}
	}
	s.Heterogeneous = s.PresentTypes > 1
	return s
}

// Decide returns the placement for p. previous is the field's last
// non-HOLD placement, or "" when it has none. The decision carries no ID
// and is stamped with the profile's last update time, so identical inputs
// yield identical decisions.
func (c *Classifier) Decide(p domain.FieldProfile, state domain.DriftState, previous domain.Backend) domain.PlacementDecision {
	s := c.Signals(p, state)
	d := domain.PlacementDecision{FieldName: p.FieldName, DecidedAt: p.LastUpdatedAt}

	var sqlReason, docReason string
	for _, r := range c.rules {
		if !r.When(s, c.th) {
			continue
		}
		if r.Terminal {
			d.Backend = r.Backend
			d.ReasonCode = r.Name
			d.Confidence = 1
			return d
		}
		switch r.Backend {
		case domain.BackendSQL:
			if sqlReason == "" {
				sqlReason = r.Name
			}
		case domain.BackendDocument:
			if docReason == "" {
				docReason = r.Name
			}
		}
	}

	base := 0.6*s.Stability + 0.4*c.bandDistance(s.Uniqueness)
	switch {
	case sqlReason != "" && docReason == "":
		d.Backend, d.ReasonCode, d.Confidence = domain.BackendSQL, sqlReason, round3(base)
	case docReason != "" && sqlReason == "":
		d.Backend, d.ReasonCode, d.Confidence = domain.BackendDocument, docReason, round3(base)
	case previous == domain.BackendSQL || previous == domain.BackendDocument:
		d.Backend, d.ReasonCode, d.Confidence = previous, ReasonTiePrevious, round3(base/2)
	default:
		d.Backend, d.ReasonCode, d.Confidence = domain.BackendDocument, ReasonTieDefault, round3(base/2)
	}
	return d
}

// bandDistance is 0 inside the murky band and grows to 1 at the extremes.
func (c *Classifier) bandDistance(u float64) float64 {
	lo, hi := c.th.MurkyLow, c.th.MurkyHigh
	var d float64
	switch {
	case u <= lo:
		if lo == 0 {
			d = 1
		} else {
			d = (lo - u) / lo
		}
	case u >= hi:
		if hi == 1 {
			d = 1
		} else {
			d = (u - hi) / (1 - hi)
		}
	}
	return math.Max(0, math.Min(1, d))
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
