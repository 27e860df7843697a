package etl_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybriddb/internal/etl"
)

func TestDecodeRecord_KeepsKeyOrder(t *testing.T) {
	rec, err := etl.DecodeRecord([]byte(`{"zeta": 1, "Alpha": "x", "mid": {"b": 2, "a": [1, 2.5]}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "Alpha", "mid"}, rec.Keys)
	assert.Equal(t, json.Number("1"), rec.Data["zeta"])

	nested, ok := rec.Data["mid"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{json.Number("1"), json.Number("2.5")}, nested["a"])
}

func TestDecodeRecord_DuplicateKeyKeepsFirstPosition(t *testing.T) {
	rec, err := etl.DecodeRecord([]byte(`{"a": 1, "b": 2, "a": 3}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rec.Keys)
	assert.Equal(t, json.Number("3"), rec.Data["a"])
}

func TestDecodeRecord_Rejects(t *testing.T) {
	for _, in := range []string{`[1,2]`, `"x"`, `{"a": }`, `{"a": 1} {"b": 2}`, ``} {
		_, err := etl.DecodeRecord([]byte(in))
		assert.Error(t, err, in)
	}
	_, err := etl.DecodeRecord([]byte(`[1]`))
	assert.True(t, errors.Is(err, etl.ErrNotObject))
}

func TestRecord_SetDelete(t *testing.T) {
	var r etl.Record
	r.Set("a", 1)
	r.Set("b", 2)
	r.Set("a", 3)
	r.Delete("missing")
	assert.Equal(t, []string{"a", "b"}, r.Keys)
	r.Delete("a")
	assert.Equal(t, []string{"b"}, r.Keys)
	assert.NotContains(t, r.Data, "a")
}
