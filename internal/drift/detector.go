package drift

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"hybriddb/internal/domain"
)

// ── Drift detection ────────────────────────────────────────
// Each observation is scored by its support: the share of its own type in
// the window after it is pushed. A conforming value scores the stability
// score itself; a deviant value scores its type's share, so the first
// off-type value already reads low.
//
//   STABLE   → SUSPECT   support <  T_suspect
//   SUSPECT  → DRIFTING  last K supports all < T_drift
//   SUSPECT  → STABLE    support >= T_suspect
//   DRIFTING → SUSPECT   support >= T_drift
//
// At most one transition per observation.

// Config holds the drift thresholds.
type Config struct {
	WindowSize       int     // W
	SuspectThreshold float64 // T_suspect
	DriftThreshold   float64 // T_drift
	Hysteresis       int     // K
}

// DefaultConfig returns W=20, T_suspect=0.8, T_drift=0.5, K=3.
func DefaultConfig() Config {
	return Config{WindowSize: 20, SuspectThreshold: 0.8, DriftThreshold: 0.5, Hysteresis: 3}
}

// Validate rejects threshold combinations the state machine cannot honor.
func (c Config) Validate() error {
	var errs []error
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("window size must be positive, got %d", c.WindowSize))
	}
	if c.Hysteresis < 1 {
		errs = append(errs, fmt.Errorf("hysteresis must be at least 1, got %d", c.Hysteresis))
	}
	if c.SuspectThreshold <= 0 || c.SuspectThreshold > 1 {
		errs = append(errs, fmt.Errorf("suspect threshold must be in (0,1], got %g", c.SuspectThreshold))
	}
	if c.DriftThreshold <= 0 || c.DriftThreshold > 1 {
		errs = append(errs, fmt.Errorf("drift threshold must be in (0,1], got %g", c.DriftThreshold))
	}
	if c.DriftThreshold >= c.SuspectThreshold {
		errs = append(errs, fmt.Errorf("drift threshold %g must be below suspect threshold %g", c.DriftThreshold, c.SuspectThreshold))
	}
	return errors.Join(errs...)
}

// Reading is the detector's verdict for one observation.
type Reading struct {
	State      domain.DriftState
	Dominant   domain.TypeTag
	Stability  float64 // share of the dominant type in the window
	Support    float64 // share of the observed type in the window
	LowStreak  int
	Window     []domain.TypeTag
	Sequence   []domain.TypeTag   // recent non-null type changes
	Patterns   []string           // flip patterns found in Sequence
	Event      *domain.DriftEvent // set only on a transition
	Quarantine bool               // the observed value must be held
}

// Detector tracks one window and state machine per field.
type Detector struct {
	cfg Config

	mu     sync.RWMutex
	fields map[string]*tracker
}

type tracker struct {
	mu        sync.Mutex
	win       *window
	state     domain.DriftState
	dominant  domain.TypeTag
	lowStreak int
	sequence  []domain.TypeTag
}

// NewDetector validates cfg and returns an empty Detector.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("drift config: %w", err)
	}
	return &Detector{cfg: cfg, fields: make(map[string]*tracker)}, nil
}

// Config returns the detector's thresholds.
func (d *Detector) Config() Config { return d.cfg }

// Observe pushes tag into field's window and advances its state machine.
func (d *Detector) Observe(field string, tag domain.TypeTag, at time.Time) Reading {
	tr := d.tracker(field)
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.win.push(tag)
	tr.sequence = extendSequence(tr.sequence, tag)
	tr.dominant = tr.win.dominant(tr.dominant)
	stability := tr.win.share(tr.dominant)
	support := tr.win.share(tag)

	if support < d.cfg.DriftThreshold {
		tr.lowStreak++
	} else {
		tr.lowStreak = 0
	}

	from := tr.state
	switch tr.state {
	case domain.DriftStable:
		if support < d.cfg.SuspectThreshold {
			tr.state = domain.DriftSuspect
		}
	case domain.DriftSuspect:
		if tr.lowStreak >= d.cfg.Hysteresis {
			tr.state = domain.DriftDrifting
		} else if support >= d.cfg.SuspectThreshold {
			tr.state = domain.DriftStable
		}
	case domain.DriftDrifting:
		if support >= d.cfg.DriftThreshold {
			tr.state = domain.DriftSuspect
		}
	}

	r := Reading{
		State:      tr.state,
		Dominant:   tr.dominant,
		Stability:  stability,
		Support:    support,
		LowStreak:  tr.lowStreak,
		Window:     tr.win.snapshot(),
		Sequence:   append([]domain.TypeTag(nil), tr.sequence...),
		Patterns:   FlipPatterns(tr.sequence),
		Quarantine: tr.state == domain.DriftDrifting,
	}
	if from != tr.state {
		r.Event = &domain.DriftEvent{
			FieldName: field,
			WindowSnapshot: domain.WindowSnapshot{
				Tags:      r.Window,
				Dominant:  r.Dominant,
				Stability: stability,
				Support:   support,
				LowStreak: tr.lowStreak,
				Patterns:  r.Patterns,
			},
			FromState:  from,
			ToState:    tr.state,
			DetectedAt: at,
		}
	}
	return r
}

// State returns field's current drift state. Unknown fields are STABLE.
func (d *Detector) State(field string) domain.DriftState {
	d.mu.RLock()
	tr, ok := d.fields[field]
	d.mu.RUnlock()
	if !ok {
		return domain.DriftStable
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.state
}

// WindowLen returns the number of tags currently held for field.
func (d *Detector) WindowLen(field string) int {
	d.mu.RLock()
	tr, ok := d.fields[field]
	d.mu.RUnlock()
	if !ok {
		return 0
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.win.len()
}

// Restore seeds field from a persisted profile. A window longer than the
// configured size keeps only its newest entries.
func (d *Detector) Restore(p domain.FieldProfile) {
	tr := &tracker{
		win:       newWindow(d.cfg.WindowSize),
		state:     p.DriftState,
		dominant:  p.DominantType,
		lowStreak: p.LowStreak,
	}
	if tr.state == "" {
		tr.state = domain.DriftStable
	}
	tags := p.Window
	if len(tags) > d.cfg.WindowSize {
		tags = tags[len(tags)-d.cfg.WindowSize:]
	}
	for _, tag := range tags {
		tr.win.push(tag)
	}
	if tr.dominant == "" {
		tr.dominant = tr.win.dominant("")
	}
	for _, tag := range p.TypeSequence {
		tr.sequence = extendSequence(tr.sequence, tag)
	}

	d.mu.Lock()
	d.fields[p.FieldName] = tr
	d.mu.Unlock()
}

func (d *Detector) tracker(field string) *tracker {
	d.mu.RLock()
	tr, ok := d.fields[field]
	d.mu.RUnlock()
	if ok {
		return tr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if tr, ok := d.fields[field]; ok {
		return tr
	}
	tr = &tracker{win: newWindow(d.cfg.WindowSize), state: domain.DriftStable}
	d.fields[field] = tr
	return tr
}
