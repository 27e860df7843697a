package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hybriddb/internal/analyzer"
	"hybriddb/internal/classifier"
	"hybriddb/internal/domain"
	"hybriddb/internal/drift"
	"hybriddb/internal/logger"
	"hybriddb/internal/metadata"
)

// Config wires the core chain together.
type Config struct {
	Analyzer   analyzer.Options
	Drift      drift.Config
	Thresholds classifier.Thresholds
	Rules      []string // classifier rule names; empty selects the defaults
	Workers    int      // max fields analysed in parallel per record
	FlushEvery int      // commit metadata every N records; 0 disables
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		Analyzer:   analyzer.DefaultOptions(),
		Drift:      drift.DefaultConfig(),
		Thresholds: classifier.DefaultThresholds(),
		Workers:    4,
		FlushEvery: 1,
	}
}

// Placement is the outcome of one record for one field.
type Placement struct {
	Field       string                   `json:"field"`
	Value       any                      `json:"value"`
	Present     bool                     `json:"present"`
	Backend     domain.Backend           `json:"backend"`
	Quarantined bool                     `json:"quarantined"`
	State       domain.DriftState        `json:"state"`
	Decision    domain.PlacementDecision `json:"decision"`
	Changed     bool                     `json:"changed"`
	Event       *domain.DriftEvent       `json:"event,omitempty"`
}

// Result is the outcome of one record: record fields first in record
// order, then known fields the record omitted.
type Result struct {
	RecordID   string      `json:"record_id"`
	At         time.Time   `json:"at"`
	Placements []Placement `json:"placements"`
}

// Quarantined reports whether any field of the record is held.
func (r *Result) Quarantined() bool {
	for _, p := range r.Placements {
		if p.Quarantined {
			return true
		}
	}
	return false
}

// Placement returns the entry for field.
func (r *Result) Placement(field string) (Placement, bool) {
	for _, p := range r.Placements {
		if p.Field == field {
			return p, true
		}
	}
	return Placement{}, false
}

// ── Engine ─────────────────────────────────────────────────
// Analyzer → DriftDetector → Classifier → MetadataManager, once per field
// per record. Fields run in parallel; each field's chain runs under its
// own lock so a field's updates keep arrival order. Process is meant to
// be called by one producer at a time.

// Engine runs the placement chain.
type Engine struct {
	cfg        Config
	analyzer   *analyzer.Analyzer
	detector   *drift.Detector
	classifier *classifier.Classifier
	meta       *metadata.Manager
	log        zerolog.Logger

	locks     sync.Map // field → *sync.Mutex
	processed atomic.Int64
}

// New validates cfg and builds an Engine persisting through store. A nil
// store keeps metadata in memory only.
func New(cfg Config, store domain.MetadataStore) (*Engine, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("pipeline: workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.FlushEvery < 0 {
		return nil, fmt.Errorf("pipeline: flush_every must be >= 0, got %d", cfg.FlushEvery)
	}
	det, err := drift.NewDetector(cfg.Drift)
	if err != nil {
		return nil, err
	}
	// The SQL stability gate is the drift suspect threshold.
	cfg.Thresholds.SuspectThreshold = cfg.Drift.SuspectThreshold
	var rules []classifier.Rule
	if len(cfg.Rules) > 0 {
		if rules, err = classifier.RulesByName(cfg.Rules); err != nil {
			return nil, err
		}
	}
	cls, err := classifier.New(cfg.Thresholds, rules)
	if err != nil {
		return nil, err
	}

	an := analyzer.New(cfg.Analyzer)
	meta := metadata.NewManager(store)
	meta.SetStateFunc(an.CardinalityState)

	return &Engine{
		cfg:        cfg,
		analyzer:   an,
		detector:   det,
		classifier: cls,
		meta:       meta,
		log:        logger.Get("pipeline"),
	}, nil
}

// Metadata returns the metadata manager.
func (e *Engine) Metadata() *metadata.Manager { return e.meta }

// Classifier returns the classifier in use.
func (e *Engine) Classifier() *classifier.Classifier { return e.classifier }

// Detector returns the drift detector in use.
func (e *Engine) Detector() *drift.Detector { return e.detector }

// Processed returns the number of records processed since start.
func (e *Engine) Processed() int64 { return e.processed.Load() }

// Restore loads persisted metadata and seeds the analyzer and detector
// with it. Call once before the first Process.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	all, err := e.meta.Load(ctx)
	if err != nil {
		return 0, err
	}
	for _, fm := range all {
		if err := e.analyzer.Restore(fm.Profile, fm.Profile.Cardinality); err != nil {
			return 0, fmt.Errorf("restore: %w", err)
		}
		e.detector.Restore(fm.Profile)
	}
	if len(all) > 0 {
		e.log.Info().Int("fields", len(all)).Msg("metadata restored")
	}
	return len(all), nil
}

// Process runs every field of rec, plus every known field rec omits,
// through the chain. A *metadata.PersistenceError is returned together
// with a complete Result; the in-memory decisions stand.
func (e *Engine) Process(ctx context.Context, rec domain.Record, at time.Time) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names := rec.FieldNames()
	tracked := e.meta.Track(names...)
	inRecord := make(map[string]bool, len(names))
	for _, n := range names {
		inRecord[n] = true
	}
	for _, n := range e.meta.Fields() {
		if !inRecord[n] {
			names = append(names, n)
		}
	}

	res := &Result{RecordID: rec.ID, At: at, Placements: make([]Placement, len(names))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, name := range names {
		value, present := rec.Data[name]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := e.observe(name, value, present, at)
			if err != nil {
				return err
			}
			res.Placements[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.meta.Untrack(tracked...)
		return nil, fmt.Errorf("process record %s: %w", rec.ID, err)
	}

	n := e.processed.Add(1)
	if e.cfg.FlushEvery > 0 && n%int64(e.cfg.FlushEvery) == 0 {
		if err := e.meta.Commit(ctx); err != nil {
			e.log.Error().Err(err).Str("record", rec.ID).Msg("metadata commit failed")
			return res, err
		}
	}
	return res, nil
}

// observe runs one field's chain under the field lock.
func (e *Engine) observe(field string, value any, present bool, at time.Time) (Placement, error) {
	mu := e.fieldLock(field)
	mu.Lock()
	defer mu.Unlock()

	raw := value
	if !present {
		raw = analyzer.Absent
	}
	e.analyzer.Update(field, raw, at)
	reading := e.detector.Observe(field, analyzer.TagOf(raw), at)
	profile, err := e.analyzer.ApplyDrift(field, analyzer.DriftResult{
		State:     reading.State,
		Dominant:  reading.Dominant,
		Stability: reading.Stability,
		Window:    reading.Window,
		LowStreak: reading.LowStreak,
		Sequence:  reading.Sequence,
		Patterns:  reading.Patterns,
	})
	if err != nil {
		return Placement{}, err
	}

	previous, _ := e.meta.LastPlacement(field)
	decision := e.classifier.Decide(profile, reading.State, previous)
	out := e.meta.Apply(metadata.Update{Profile: profile, Event: reading.Event, Decision: decision})

	if reading.Event != nil {
		e.log.Warn().
			Str("field", field).
			Str("from", string(reading.Event.FromState)).
			Str("to", string(reading.Event.ToState)).
			Float64("support", reading.Support).
			Int("low_streak", reading.LowStreak).
			Msg("drift transition")
	}
	if out.Changed {
		e.log.Info().
			Str("field", field).
			Str("backend", string(out.Current.Backend)).
			Str("reason", out.Current.ReasonCode).
			Float64("confidence", out.Current.Confidence).
			Msg("placement changed")
	}

	return Placement{
		Field:       field,
		Value:       value,
		Present:     present,
		Backend:     out.Current.Backend,
		Quarantined: reading.Quarantine,
		State:       reading.State,
		Decision:    out.Current,
		Changed:     out.Changed,
		Event:       reading.Event,
	}, nil
}

// Reevaluate re-runs the classifier on field's current profile and
// appends the result even when it matches the current decision.
func (e *Engine) Reevaluate(field string) (domain.PlacementDecision, error) {
	mu := e.fieldLock(field)
	mu.Lock()
	defer mu.Unlock()

	profile, ok := e.analyzer.Profile(field)
	if !ok {
		return domain.PlacementDecision{}, fmt.Errorf("reevaluate: %w: %q", ErrUnknownField, field)
	}
	previous, _ := e.meta.LastPlacement(field)
	decision := e.classifier.Decide(profile, e.detector.State(field), previous)
	out := e.meta.Apply(metadata.Update{Profile: profile, Decision: decision, Force: true})
	return out.Current, nil
}

// Flush commits pending metadata.
func (e *Engine) Flush(ctx context.Context) error {
	return e.meta.Commit(ctx)
}

// ErrUnknownField is returned for fields never observed.
var ErrUnknownField = errors.New("unknown field")

func (e *Engine) fieldLock(field string) *sync.Mutex {
	if mu, ok := e.locks.Load(field); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := e.locks.LoadOrStore(field, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
