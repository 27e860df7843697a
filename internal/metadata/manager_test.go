package metadata_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybriddb/internal/domain"
	"hybriddb/internal/metadata"
)

// ─────────────────────────────────────────────────────────────
// fakeStore records batches and can be told to fail
// ─────────────────────────────────────────────────────────────

type fakeStore struct {
	mu      sync.Mutex
	fail    error
	batches []domain.MetadataBatch
	loaded  []domain.FieldMetadata
}

func (s *fakeStore) SaveBatch(_ context.Context, b domain.MetadataBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *fakeStore) LoadAll(context.Context) ([]domain.FieldMetadata, error) {
	return s.loaded, nil
}

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func update(field string, backend domain.Backend, reason string) metadata.Update {
	return metadata.Update{
		Profile:  domain.FieldProfile{FieldName: field, TotalCount: 1, ObservedTypes: map[domain.TypeTag]int{domain.TypeInt: 1}},
		Decision: domain.PlacementDecision{Backend: backend, ReasonCode: reason, DecidedAt: t0},
	}
}

func TestApply_AppendsOnlyOnChange(t *testing.T) {
	m := metadata.NewManager(nil)

	out := m.Apply(update("age", domain.BackendSQL, "scalar_unique_key"))
	assert.True(t, out.Appended)
	assert.True(t, out.Changed)

	out = m.Apply(update("age", domain.BackendSQL, "scalar_unique_key"))
	assert.False(t, out.Appended)
	assert.False(t, out.Changed)

	// same backend, new reason: history grows, placement unchanged
	out = m.Apply(update("age", domain.BackendSQL, "tie_previous_placement"))
	assert.True(t, out.Appended)
	assert.False(t, out.Changed)

	out = m.Apply(update("age", domain.BackendHold, "active_drift"))
	assert.True(t, out.Changed)
	assert.Equal(t, domain.BackendHold, out.Current.Backend)

	forced := update("age", domain.BackendHold, "active_drift")
	forced.Force = true
	out = m.Apply(forced)
	assert.True(t, out.Appended)

	fm, ok := m.Get("age")
	require.True(t, ok)
	require.Len(t, fm.Decisions, 4)
	for _, d := range fm.Decisions {
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, "age", d.FieldName)
	}
	last, _ := m.LastPlacement("age")
	assert.Equal(t, domain.BackendSQL, last)
}

func TestApply_EventsAppendOnly(t *testing.T) {
	m := metadata.NewManager(nil)
	u := update("status", domain.BackendSQL, "scalar_categorical")
	u.Event = &domain.DriftEvent{FromState: domain.DriftStable, ToState: domain.DriftSuspect, DetectedAt: t0}
	m.Apply(u)
	u.Event = &domain.DriftEvent{FromState: domain.DriftSuspect, ToState: domain.DriftDrifting, DetectedAt: t0}
	m.Apply(u)

	fm, _ := m.Get("status")
	require.Len(t, fm.DriftEvents, 2)
	assert.Equal(t, domain.DriftDrifting, fm.DriftEvents[1].ToState)
	assert.NotEqual(t, fm.DriftEvents[0].ID, fm.DriftEvents[1].ID)

	// views are copies
	fm.DriftEvents[0].ToState = domain.DriftStable
	again, _ := m.Get("status")
	assert.Equal(t, domain.DriftSuspect, again.DriftEvents[0].ToState)
}

func TestAll_FirstSeenOrder(t *testing.T) {
	m := metadata.NewManager(nil)
	assert.Equal(t, []string{"b", "a"}, m.Track("b", "a", "b"))
	m.Apply(update("c", domain.BackendSQL, "x"))
	m.Apply(update("a", domain.BackendSQL, "x"))

	var names []string
	for _, fm := range m.All() {
		names = append(names, fm.Profile.FieldName)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
	assert.Equal(t, names, m.Fields())
	assert.Equal(t, 3, m.Len())

	_, ok := m.Get("nope")
	assert.False(t, ok)
}

func TestUntrack_DropsOnlyReservedFields(t *testing.T) {
	m := metadata.NewManager(nil)
	m.Apply(update("a", domain.BackendSQL, "x"))
	added := m.Track("b", "a", "c", "d")
	assert.Equal(t, []string{"b", "c", "d"}, added)
	m.Apply(update("c", domain.BackendSQL, "x"))

	m.Untrack(append(added, "a", "nope")...)

	assert.Equal(t, []string{"a", "c"}, m.Fields())
	_, ok := m.Get("b")
	assert.False(t, ok)
	_, ok = m.Get("c")
	assert.True(t, ok)
}

func TestCommit_WritesOutbox(t *testing.T) {
	store := &fakeStore{}
	m := metadata.NewManager(store)
	m.SetStateFunc(func(field string) ([]byte, error) { return []byte(field), nil })

	m.Apply(update("a", domain.BackendSQL, "x"))
	m.Apply(update("a", domain.BackendSQL, "x"))
	m.Apply(update("b", domain.BackendDocument, "y"))
	require.NoError(t, m.Commit(context.Background()))

	require.Len(t, store.batches, 1)
	b := store.batches[0]
	require.Len(t, b.Profiles, 2, "one snapshot per dirty field")
	assert.Equal(t, []byte("a"), b.Profiles[0].Cardinality)
	assert.Len(t, b.Decisions, 2)
	assert.Zero(t, m.Pending())

	// nothing queued: no write
	require.NoError(t, m.Commit(context.Background()))
	assert.Len(t, store.batches, 1)
}

func TestCommit_FailureKeepsStateAndRetries(t *testing.T) {
	store := &fakeStore{fail: errors.New("disk full")}
	m := metadata.NewManager(store)

	out := m.Apply(update("a", domain.BackendSQL, "x"))
	err := m.Commit(context.Background())
	require.Error(t, err)

	var pe *metadata.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, metadata.IsPersistenceError(err))
	assert.Equal(t, "save batch", pe.Op)
	assert.EqualError(t, errors.Unwrap(err), "disk full")

	// the in-memory decision stands
	fm, ok := m.Get("a")
	require.True(t, ok)
	cur, _ := fm.Current()
	assert.Equal(t, out.Current, cur)
	assert.Equal(t, 2, m.Pending())

	m.Apply(update("b", domain.BackendDocument, "y"))
	store.fail = nil
	require.NoError(t, m.Commit(context.Background()))
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0].Profiles, 2)
	assert.Len(t, store.batches[0].Decisions, 2)
	assert.Zero(t, m.Pending())
}

func TestLoad_RestoresOrderAndHistory(t *testing.T) {
	store := &fakeStore{loaded: []domain.FieldMetadata{
		{Profile: domain.FieldProfile{FieldName: "z"}, Decisions: []domain.PlacementDecision{{ID: "1", Backend: domain.BackendSQL, ReasonCode: "x"}}},
		{Profile: domain.FieldProfile{FieldName: "y"}},
	}}
	m := metadata.NewManager(store)
	got, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"z", "y"}, m.Fields())

	out := m.Apply(update("z", domain.BackendSQL, "x"))
	assert.False(t, out.Appended, "loaded decision is the current one")
}

func TestExport_OneDocumentPerField(t *testing.T) {
	m := metadata.NewManager(nil)
	m.Apply(update("a", domain.BackendSQL, "x"))
	m.Apply(update("b", domain.BackendDocument, "y"))

	var buf bytes.Buffer
	require.NoError(t, m.Export(&buf))

	sc := bufio.NewScanner(&buf)
	var fields []string
	for sc.Scan() {
		var doc struct {
			Profile struct {
				FieldName string `json:"field_name"`
			} `json:"profile"`
			DriftEvents []json.RawMessage `json:"drift_events"`
			Decisions   []struct {
				Backend string `json:"chosen_backend"`
			} `json:"decisions"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &doc))
		require.NotNil(t, doc.DriftEvents)
		require.Len(t, doc.Decisions, 1)
		fields = append(fields, doc.Profile.FieldName)
	}
	assert.Equal(t, []string{"a", "b"}, fields)
}
