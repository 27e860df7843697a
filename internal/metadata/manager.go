package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"hybriddb/internal/domain"
)

// ── Manager ────────────────────────────────────────────────
// The system of record for profiles, drift events and decisions. All
// writes go through Apply under one lock so a profile, the drift event
// and the decision of the same update land together. Histories are
// append-only.
//
// Durability is an outbox: Apply queues changes, Commit hands them to the
// store. A failed Commit keeps the outbox and leaves memory untouched.

// PersistenceError reports that queued metadata could not be written.
// In-memory state is unaffected and the changes stay queued.
type PersistenceError struct {
	Op      string
	Pending int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("metadata %s (%d pending): %v", e.Op, e.Pending, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err carries a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// Update is everything one analysis cycle produced for one field.
type Update struct {
	Profile  domain.FieldProfile
	Event    *domain.DriftEvent
	Decision domain.PlacementDecision
	Force    bool // append the decision even if it matches the current one
}

// Outcome reports what Apply did with an Update's decision.
type Outcome struct {
	Current  domain.PlacementDecision
	Appended bool // a new decision entered the history
	Changed  bool // the backend differs from the previous decision
}

// StateFunc returns opaque per-field state to persist next to a profile.
type StateFunc func(field string) ([]byte, error)

// Manager owns the metadata store aggregate.
type Manager struct {
	store domain.MetadataStore
	newID func() string

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	commitMu    sync.Mutex
	stateFn     StateFunc
	dirty       map[string]uint64 // field → version at last change
	version     uint64
	outEvents   []domain.DriftEvent
	outDecision []domain.PlacementDecision
}

type entry struct {
	profile   domain.FieldProfile
	events    []domain.DriftEvent
	decisions []domain.PlacementDecision
	applied   bool // false while only reserved by Track
}

// NewManager returns a Manager backed by store. A nil store keeps
// metadata in memory only.
func NewManager(store domain.MetadataStore) *Manager {
	return &Manager{
		store:   store,
		newID:   func() string { return uuid.New().String() },
		entries: make(map[string]*entry),
		dirty:   make(map[string]uint64),
	}
}

// SetStateFunc installs the hook that attaches extra state (such as a
// cardinality estimator) to profiles at commit time.
func (m *Manager) SetStateFunc(fn StateFunc) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	m.stateFn = fn
}

// Track registers names that are not yet known, in order, and returns
// the ones it added.
func (m *Manager) Track(names ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var added []string
	for _, name := range names {
		if _, ok := m.entries[name]; ok {
			continue
		}
		m.entries[name] = &entry{profile: domain.FieldProfile{FieldName: name}}
		m.order = append(m.order, name)
		added = append(added, name)
	}
	return added
}

// Untrack drops names reserved by Track that never received an update.
// Fields with applied or loaded metadata are kept.
func (m *Manager) Untrack(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool)
	for _, name := range names {
		if e, ok := m.entries[name]; ok && !e.applied {
			delete(m.entries, name)
			drop[name] = true
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := m.order[:0]
	for _, name := range m.order {
		if !drop[name] {
			kept = append(kept, name)
		}
	}
	m.order = kept
}

// Apply records one update. The profile supersedes the stored one, the
// event is appended, and the decision is appended only when its verdict
// differs from the current decision or u.Force is set.
func (m *Manager) Apply(u Update) Outcome {
	name := u.Profile.FieldName

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		e = &entry{}
		m.entries[name] = e
		m.order = append(m.order, name)
	}
	e.profile = u.Profile.Clone()
	e.applied = true
	m.version++
	m.dirty[name] = m.version

	if u.Event != nil {
		ev := *u.Event
		ev.FieldName = name
		if ev.ID == "" {
			ev.ID = m.newID()
		}
		ev.WindowSnapshot.Tags = append([]domain.TypeTag(nil), ev.WindowSnapshot.Tags...)
		ev.WindowSnapshot.Patterns = append([]string(nil), ev.WindowSnapshot.Patterns...)
		e.events = append(e.events, ev)
		m.outEvents = append(m.outEvents, ev)
	}

	var out Outcome
	var prev domain.PlacementDecision
	hasPrev := len(e.decisions) > 0
	if hasPrev {
		prev = e.decisions[len(e.decisions)-1]
	}
	if !hasPrev || u.Force || !prev.SameVerdict(u.Decision) {
		d := u.Decision
		d.FieldName = name
		if d.ID == "" {
			d.ID = m.newID()
		}
		e.decisions = append(e.decisions, d)
		m.outDecision = append(m.outDecision, d)
		out.Appended = true
		out.Changed = !hasPrev || prev.Backend != d.Backend
	}
	out.Current = e.decisions[len(e.decisions)-1]
	return out
}

// Get returns a copy of field's metadata.
func (m *Manager) Get(field string) (domain.FieldMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[field]
	if !ok {
		return domain.FieldMetadata{}, false
	}
	return e.view(), true
}

// All returns a copy of every field's metadata in first-seen order.
func (m *Manager) All() []domain.FieldMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.FieldMetadata, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.entries[name].view())
	}
	return out
}

// Fields returns every known field name in first-seen order.
func (m *Manager) Fields() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Len returns the number of known fields.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// LastPlacement returns field's most recent non-HOLD backend.
func (m *Manager) LastPlacement(field string) (domain.Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[field]
	if !ok {
		return "", false
	}
	for i := len(e.decisions) - 1; i >= 0; i-- {
		if e.decisions[i].Backend != domain.BackendHold {
			return e.decisions[i].Backend, true
		}
	}
	return "", false
}

// Pending returns the number of queued changes not yet committed.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dirty) + len(m.outEvents) + len(m.outDecision)
}

// Commit writes queued changes to the store. Store I/O happens outside
// the metadata lock, so analysis continues while a commit is in flight.
func (m *Manager) Commit(ctx context.Context) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.RLock()
	batch := domain.MetadataBatch{
		DriftEvents: append([]domain.DriftEvent(nil), m.outEvents...),
		Decisions:   append([]domain.PlacementDecision(nil), m.outDecision...),
	}
	versions := make(map[string]uint64, len(m.dirty))
	for _, name := range m.order {
		if v, ok := m.dirty[name]; ok {
			versions[name] = v
			batch.Profiles = append(batch.Profiles, m.entries[name].profile.Clone())
		}
	}
	m.mu.RUnlock()

	if batch.Empty() {
		return nil
	}
	pending := len(batch.Profiles) + len(batch.DriftEvents) + len(batch.Decisions)

	if m.store != nil {
		if m.stateFn != nil {
			for i := range batch.Profiles {
				state, err := m.stateFn(batch.Profiles[i].FieldName)
				if err != nil {
					return &PersistenceError{Op: "encode state", Pending: pending, Err: err}
				}
				batch.Profiles[i].Cardinality = state
			}
		}
		if err := m.store.SaveBatch(ctx, batch); err != nil {
			return &PersistenceError{Op: "save batch", Pending: pending, Err: err}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.outEvents = append(m.outEvents[:0:0], m.outEvents[len(batch.DriftEvents):]...)
	m.outDecision = append(m.outDecision[:0:0], m.outDecision[len(batch.Decisions):]...)
	for name, v := range versions {
		if m.dirty[name] == v {
			delete(m.dirty, name)
		}
	}
	return nil
}

// Load replaces in-memory metadata with the store's contents and returns
// what it loaded. It must run before any Apply.
func (m *Manager) Load(ctx context.Context) ([]domain.FieldMetadata, error) {
	if m.store == nil {
		return nil, nil
	}
	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*entry, len(all))
	m.order = m.order[:0]
	for _, fm := range all {
		name := fm.Profile.FieldName
		if _, dup := m.entries[name]; dup {
			continue
		}
		m.entries[name] = &entry{
			profile:   fm.Profile.Clone(),
			events:    append([]domain.DriftEvent(nil), fm.DriftEvents...),
			decisions: append([]domain.PlacementDecision(nil), fm.Decisions...),
			applied:   true,
		}
		m.order = append(m.order, name)
	}
	return all, nil
}

// Export writes one JSON document per field, in first-seen order.
func (m *Manager) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, fm := range m.All() {
		if err := enc.Encode(fm); err != nil {
			return fmt.Errorf("export %q: %w", fm.Profile.FieldName, err)
		}
	}
	return nil
}

func (e *entry) view() domain.FieldMetadata {
	return domain.FieldMetadata{
		Profile:     e.profile.Clone(),
		DriftEvents: append([]domain.DriftEvent{}, e.events...),
		Decisions:   append([]domain.PlacementDecision{}, e.decisions...),
	}
}
