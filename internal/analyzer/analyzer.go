package analyzer

import (
	"fmt"
	"sync"
	"time"

	"hybriddb/internal/domain"
)

// Options tunes profile bookkeeping.
type Options struct {
	SampleSize int // most-recent values kept per field
	ExactLimit int // distinct values counted exactly before sketching
}

// DefaultOptions returns the stock profile settings.
func DefaultOptions() Options {
	return Options{SampleSize: 10, ExactLimit: 10000}
}

// Analyzer owns the live FieldProfile of every field it has seen. Each
// field is guarded separately; updates to different fields never contend
// beyond the map lookup.
type Analyzer struct {
	opts Options

	mu     sync.RWMutex
	fields map[string]*fieldState
}

type fieldState struct {
	mu      sync.Mutex
	profile domain.FieldProfile
	card    *Cardinality
	base    int64 // distinct values restored without estimator state
}

// New creates an empty Analyzer.
func New(opts Options) *Analyzer {
	if opts.SampleSize < 0 {
		opts.SampleSize = 0
	}
	if opts.ExactLimit <= 0 {
		opts.ExactLimit = DefaultOptions().ExactLimit
	}
	return &Analyzer{opts: opts, fields: make(map[string]*fieldState)}
}

// Update folds one observation of field into its profile and returns a
// snapshot of the updated profile. Pass Absent for a field missing from
// the record.
func (a *Analyzer) Update(field string, raw any, at time.Time) domain.FieldProfile {
	st := a.state(field, at)
	st.mu.Lock()
	defer st.mu.Unlock()

	tag := TagOf(raw)
	p := &st.profile
	if tag != domain.TypeNull && p.ObservedTypes[tag] == 0 && p.TotalCount > p.NullCount {
		changed := at
		p.TypesChangedAt = &changed
	}
	p.ObservedTypes[tag]++
	p.TotalCount++
	if tag == domain.TypeNull {
		p.NullCount++
	}
	if key, ok := valueKey(raw, tag); ok {
		st.card.Add(key)
	}
	p.DistinctValueCount = st.base + st.card.Count()
	if limit := p.TotalCount - p.NullCount; p.DistinctValueCount > limit {
		p.DistinctValueCount = limit
	}
	p.ApproxDistinct = st.base > 0 || st.card.Approximate()
	p.UniquenessRatio = float64(p.DistinctValueCount) / float64(p.TotalCount)
	if p.UniquenessRatio > 1 {
		// HLL can overshoot on tiny populations.
		p.UniquenessRatio = 1
	}

	if a.opts.SampleSize > 0 {
		sample := raw
		if _, ok := raw.(absent); ok {
			sample = nil
		}
		p.SampleValues = append(p.SampleValues, sample)
		if over := len(p.SampleValues) - a.opts.SampleSize; over > 0 {
			p.SampleValues = append(p.SampleValues[:0:0], p.SampleValues[over:]...)
		}
	}
	if at.After(p.LastUpdatedAt) {
		p.LastUpdatedAt = at
	}
	return p.Clone()
}

// DriftResult is the part of a drift reading written back into a profile.
type DriftResult struct {
	State     domain.DriftState
	Dominant  domain.TypeTag
	Stability float64
	Window    []domain.TypeTag
	LowStreak int
	Sequence  []domain.TypeTag
	Patterns  []string
}

// ApplyDrift records the drift detector's reading on the field's profile
// and returns the final snapshot for this update.
func (a *Analyzer) ApplyDrift(field string, r DriftResult) (domain.FieldProfile, error) {
	a.mu.RLock()
	st, ok := a.fields[field]
	a.mu.RUnlock()
	if !ok {
		return domain.FieldProfile{}, fmt.Errorf("apply drift: unknown field %q", field)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.profile.DriftState = r.State
	st.profile.DominantType = r.Dominant
	st.profile.StabilityScore = r.Stability
	st.profile.Window = append(st.profile.Window[:0:0], r.Window...)
	st.profile.LowStreak = r.LowStreak
	st.profile.TypeSequence = append(st.profile.TypeSequence[:0:0], r.Sequence...)
	st.profile.FlipPatterns = append(st.profile.FlipPatterns[:0:0], r.Patterns...)
	return st.profile.Clone(), nil
}

// Profile returns a snapshot of field's profile.
func (a *Analyzer) Profile(field string) (domain.FieldProfile, bool) {
	a.mu.RLock()
	st, ok := a.fields[field]
	a.mu.RUnlock()
	if !ok {
		return domain.FieldProfile{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.profile.Clone(), true
}

// CardinalityState encodes field's distinct-count estimator for
// persistence. It returns nil for unknown fields.
func (a *Analyzer) CardinalityState(field string) ([]byte, error) {
	a.mu.RLock()
	st, ok := a.fields[field]
	a.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.card.MarshalBinary()
}

// Restore seeds a field from a persisted profile. cardinality may be nil,
// in which case the estimator is reseeded from the sample values and the
// rest of the persisted distinct count is carried as a base. Values seen
// before the restore and outside the sample count again when they recur,
// so the distinct count becomes an upper bound, capped by the non-null
// observations, and the profile is flagged approximate.
func (a *Analyzer) Restore(p domain.FieldProfile, cardinality []byte) error {
	card := NewCardinality(a.opts.ExactLimit)
	approx := p.ApproxDistinct
	var base int64
	if len(cardinality) > 0 {
		if err := card.UnmarshalBinary(cardinality); err != nil {
			return fmt.Errorf("restore %q: %w", p.FieldName, err)
		}
	} else if p.DistinctValueCount > 0 {
		for _, v := range p.SampleValues {
			if key, ok := valueKey(v, TagOf(v)); ok {
				card.Add(key)
			}
		}
		base = max(0, p.DistinctValueCount-card.Count())
		approx = approx || base > 0
	}

	st := &fieldState{profile: p.Clone(), card: card, base: base}
	st.profile.Cardinality = nil
	if st.profile.ObservedTypes == nil {
		st.profile.ObservedTypes = make(map[domain.TypeTag]int)
	}
	st.profile.ApproxDistinct = approx || card.Approximate()

	a.mu.Lock()
	a.fields[p.FieldName] = st
	a.mu.Unlock()
	return nil
}

// Len returns the number of profiled fields.
func (a *Analyzer) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.fields)
}

func (a *Analyzer) state(field string, at time.Time) *fieldState {
	a.mu.RLock()
	st, ok := a.fields[field]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.fields[field]; ok {
		return st
	}
	st = &fieldState{
		profile: domain.FieldProfile{
			FieldName:     field,
			ObservedTypes: make(map[domain.TypeTag]int),
			DriftState:    domain.DriftStable,
			FirstSeenAt:   at,
			LastUpdatedAt: at,
		},
		card: NewCardinality(a.opts.ExactLimit),
	}
	a.fields[field] = st
	return st
}
