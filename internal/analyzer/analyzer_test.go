package analyzer_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybriddb/internal/analyzer"
	"hybriddb/internal/domain"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestTagOf(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want domain.TypeTag
	}{
		{"nil", nil, domain.TypeNull},
		{"absent", analyzer.Absent, domain.TypeNull},
		{"bool", true, domain.TypeBool},
		{"string", "hello", domain.TypeString},
		{"numeric string stays string", "0042", domain.TypeString},
		{"integral float64", 30.0, domain.TypeInt},
		{"fractional float64", 30.5, domain.TypeFloat},
		{"json int", json.Number("17"), domain.TypeInt},
		{"json integral decimal", json.Number("17.0"), domain.TypeInt},
		{"json exponent", json.Number("1e3"), domain.TypeInt},
		{"json fraction", json.Number("0.25"), domain.TypeFloat},
		{"json huge int", json.Number("123456789012345678901234567890"), domain.TypeInt},
		{"json garbage", json.Number("abc"), domain.TypeUnknown},
		{"go int", 5, domain.TypeInt},
		{"go uint8", uint8(5), domain.TypeInt},
		{"array", []any{1, 2}, domain.TypeArray},
		{"typed slice", []string{"a"}, domain.TypeArray},
		{"object", map[string]any{"a": 1}, domain.TypeObject},
		{"typed map", map[string]int{"a": 1}, domain.TypeObject},
		{"int keyed map", map[int]int{1: 1}, domain.TypeUnknown},
		{"channel", make(chan int), domain.TypeUnknown},
		{"nil pointer", (*int)(nil), domain.TypeNull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, analyzer.TagOf(tc.in))
		})
	}
}

func TestUpdate_MonotonicCounts(t *testing.T) {
	a := analyzer.New(analyzer.DefaultOptions())
	values := []any{1, "x", nil, analyzer.Absent, 2.5, []any{}, map[string]any{}, true, make(chan int)}

	var prev int64
	for i, v := range values {
		p := a.Update("f", v, t0.Add(time.Duration(i)*time.Second))
		require.Greater(t, p.TotalCount, prev)
		prev = p.TotalCount

		sum := 0
		for _, n := range p.ObservedTypes {
			sum += n
		}
		assert.Equal(t, int(p.TotalCount), sum, "histogram must sum to total_count")
	}

	p, ok := a.Profile("f")
	require.True(t, ok)
	assert.EqualValues(t, len(values), p.TotalCount)
	assert.EqualValues(t, 2, p.NullCount)
	assert.Equal(t, 1, p.ObservedTypes[domain.TypeUnknown])
	assert.Equal(t, t0, p.FirstSeenAt)
	assert.Equal(t, t0.Add(8*time.Second), p.LastUpdatedAt)
}

func TestUpdate_DistinctCountsByValue(t *testing.T) {
	a := analyzer.New(analyzer.DefaultOptions())
	for _, v := range []any{30, 30.0, json.Number("30"), json.Number("30.0"), "30", nil, nil} {
		a.Update("n", v, t0)
	}
	p, _ := a.Profile("n")
	// one numeric identity plus the string "30"; nulls are not values
	assert.EqualValues(t, 2, p.DistinctValueCount)
	assert.InDelta(t, 2.0/7.0, p.UniquenessRatio, 1e-9)
	assert.False(t, p.ApproxDistinct)
}

func TestUpdate_ObjectKeyOrderIrrelevant(t *testing.T) {
	a := analyzer.New(analyzer.DefaultOptions())
	a.Update("o", map[string]any{"a": 1, "b": 2}, t0)
	a.Update("o", map[string]any{"b": 2, "a": 1}, t0)
	p, _ := a.Profile("o")
	assert.EqualValues(t, 1, p.DistinctValueCount)
}

func TestUpdate_SampleValuesFIFO(t *testing.T) {
	a := analyzer.New(analyzer.Options{SampleSize: 3, ExactLimit: 100})
	for i := 0; i < 5; i++ {
		a.Update("s", i, t0)
	}
	a.Update("s", analyzer.Absent, t0)
	p, _ := a.Profile("s")
	assert.Equal(t, []any{3, 4, nil}, p.SampleValues)
}

func TestUpdate_SnapshotIsolated(t *testing.T) {
	a := analyzer.New(analyzer.DefaultOptions())
	p := a.Update("x", 1, t0)
	p.ObservedTypes[domain.TypeString] = 99
	p.SampleValues[0] = "mutated"

	live, _ := a.Profile("x")
	assert.Zero(t, live.ObservedTypes[domain.TypeString])
	assert.Equal(t, 1, live.SampleValues[0])
}

func TestUpdate_SwitchesToSketch(t *testing.T) {
	a := analyzer.New(analyzer.Options{SampleSize: 1, ExactLimit: 100})
	for i := 0; i < 5000; i++ {
		a.Update("id", fmt.Sprintf("user-%d", i), t0)
	}
	p, _ := a.Profile("id")
	assert.True(t, p.ApproxDistinct)
	assert.InEpsilon(t, 5000, p.DistinctValueCount, 0.05)
	assert.LessOrEqual(t, p.UniquenessRatio, 1.0)
}

func TestApplyDrift_WritesBack(t *testing.T) {
	a := analyzer.New(analyzer.DefaultOptions())
	a.Update("f", "x", t0)
	p, err := a.ApplyDrift("f", analyzer.DriftResult{
		State:     domain.DriftSuspect,
		Dominant:  domain.TypeString,
		Stability: 0.75,
		Window:    []domain.TypeTag{domain.TypeString},
		LowStreak: 1,
		Sequence:  []domain.TypeTag{domain.TypeString, domain.TypeInt, domain.TypeString},
		Patterns:  []string{"str→num→str"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DriftSuspect, p.DriftState)
	assert.Len(t, p.TypeSequence, 3)
	assert.Equal(t, []string{"str→num→str"}, p.FlipPatterns)
	assert.Equal(t, 0.75, p.StabilityScore)
	assert.Equal(t, domain.TypeString, p.DominantType)

	_, err = a.ApplyDrift("missing", analyzer.DriftResult{})
	assert.Error(t, err)
}

func TestRestore_RoundTrip(t *testing.T) {
	a := analyzer.New(analyzer.DefaultOptions())
	for i := 0; i < 10; i++ {
		a.Update("k", i%4, t0)
	}
	p, _ := a.Profile("k")
	state, err := a.CardinalityState("k")
	require.NoError(t, err)

	b := analyzer.New(analyzer.DefaultOptions())
	require.NoError(t, b.Restore(p, state))
	got := b.Update("k", 3, t0.Add(time.Minute))
	assert.EqualValues(t, 11, got.TotalCount)
	assert.EqualValues(t, 4, got.DistinctValueCount)
	assert.False(t, got.ApproxDistinct)

	// Every distinct value is still in the sample, so the count stays exact.
	c := analyzer.New(analyzer.DefaultOptions())
	require.NoError(t, c.Restore(p, nil))
	got = c.Update("k", 3, t0.Add(time.Minute))
	assert.False(t, got.ApproxDistinct)
	assert.EqualValues(t, 4, got.DistinctValueCount)
}

func TestRestore_WithoutStateIsUpperBound(t *testing.T) {
	a := analyzer.New(analyzer.Options{SampleSize: 2, ExactLimit: 100})
	for _, v := range []string{"a", "b", "c", "d", "e"} {
		a.Update("k", v, t0)
	}
	p, _ := a.Profile("k")
	require.EqualValues(t, 5, p.DistinctValueCount)

	b := analyzer.New(analyzer.Options{SampleSize: 2, ExactLimit: 100})
	require.NoError(t, b.Restore(p, nil))

	got := b.Update("k", "e", t0.Add(time.Minute))
	assert.EqualValues(t, 5, got.DistinctValueCount, "sampled value is not counted twice")
	assert.True(t, got.ApproxDistinct)

	got = b.Update("k", "a", t0.Add(time.Minute))
	assert.EqualValues(t, 6, got.DistinctValueCount, "unsampled value may count again")
	assert.LessOrEqual(t, got.DistinctValueCount, got.TotalCount-got.NullCount)
	assert.LessOrEqual(t, got.UniquenessRatio, 1.0)
}

func TestRestore_DistinctCappedByObservations(t *testing.T) {
	a := analyzer.New(analyzer.DefaultOptions())
	require.NoError(t, a.Restore(domain.FieldProfile{
		FieldName:          "k",
		ObservedTypes:      map[domain.TypeTag]int{domain.TypeString: 3, domain.TypeNull: 1},
		TotalCount:         4,
		NullCount:          1,
		DistinctValueCount: 40,
	}, nil))

	got := a.Update("k", "x", t0)
	assert.EqualValues(t, 4, got.DistinctValueCount)
	assert.Equal(t, 0.8, got.UniquenessRatio)
}

func TestUpdate_TypesChangedAt(t *testing.T) {
	a := analyzer.New(analyzer.DefaultOptions())
	a.Update("k", nil, t0)
	p := a.Update("k", "x", t0.Add(time.Second))
	assert.Nil(t, p.TypesChangedAt, "first non-null type is not a change")

	p = a.Update("k", nil, t0.Add(2*time.Second))
	assert.Nil(t, p.TypesChangedAt)

	at := t0.Add(3 * time.Second)
	p = a.Update("k", json.Number("7"), at)
	require.NotNil(t, p.TypesChangedAt)
	assert.Equal(t, at, *p.TypesChangedAt)

	p = a.Update("k", json.Number("8"), t0.Add(4*time.Second))
	assert.Equal(t, at, *p.TypesChangedAt, "known type leaves the mark alone")
}

func TestCardinality_MarshalRoundTrip(t *testing.T) {
	c := analyzer.NewCardinality(10)
	for i := 0; i < 8; i++ {
		c.Add(fmt.Sprint(i))
	}
	data, err := c.MarshalBinary()
	require.NoError(t, err)

	d := analyzer.NewCardinality(10)
	require.NoError(t, d.UnmarshalBinary(data))
	assert.EqualValues(t, 8, d.Count())
	assert.False(t, d.Approximate())

	for i := 0; i < 100; i++ {
		d.Add(fmt.Sprint(i))
	}
	assert.True(t, d.Approximate())
	data, err = d.MarshalBinary()
	require.NoError(t, err)

	e := analyzer.NewCardinality(10)
	require.NoError(t, e.UnmarshalBinary(data))
	assert.True(t, e.Approximate())
	assert.InDelta(t, float64(d.Count()), float64(e.Count()), 2)

	assert.Error(t, e.UnmarshalBinary(nil))
	assert.Error(t, e.UnmarshalBinary([]byte{9}))
}
