package etl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ── Transformer ────────────────────────────────────────────
// Transformers modify records between source and pipeline. Each takes a
// record and returns a (possibly modified) record and whether to keep it.

// Transformer processes a single record.
type Transformer interface {
	Transform(Record) (Record, bool)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(Record) (Record, bool)

func (f TransformerFunc) Transform(r Record) (Record, bool) { return f(r) }

// TransformConfig is a declarative transform definition.
type TransformConfig struct {
	Type   string         `json:"type" mapstructure:"type"` // "normalize" | "filter" | "rename" | "select" | "dedupe" | "limit"
	Config map[string]any `json:"config" mapstructure:"config"`
}

// ApplyTransformers runs r through ts in order, stopping at the first
// transformer that drops it.
func ApplyTransformers(r Record, ts []Transformer) (Record, bool) {
	for _, t := range ts {
		var keep bool
		r, keep = t.Transform(r)
		if !keep {
			return r, false
		}
	}
	return r, true
}

// ── Built-in Transforms ────────────────────────────────────

// NormalizeKey lowercases key and replaces every character outside
// [a-z0-9] with an underscore.
func NormalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// NormalizeTransform rewrites every key with NormalizeKey. Keys that
// collide after normalization keep the first position and the last value.
type NormalizeTransform struct{}

func (NormalizeTransform) Transform(r Record) (Record, bool) {
	out := Record{Data: make(map[string]any, len(r.Data))}
	for _, k := range orderedKeys(r) {
		out.Set(NormalizeKey(k), r.Data[k])
	}
	return out, true
}

// FilterTransform drops records where the given field does not match the value.
type FilterTransform struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains" | "exists"
	Value any
}

func (t *FilterTransform) Transform(r Record) (Record, bool) {
	v, ok := r.Data[t.Field]
	if t.Op == "exists" {
		return r, ok
	}
	if !ok {
		return r, false
	}
	switch t.Op {
	case "eq":
		return r, fmt.Sprint(v) == fmt.Sprint(t.Value)
	case "neq":
		return r, fmt.Sprint(v) != fmt.Sprint(t.Value)
	case "contains":
		return r, strings.Contains(fmt.Sprint(v), fmt.Sprint(t.Value))
	case "gt":
		return r, toFloat(v) > toFloat(t.Value)
	case "lt":
		return r, toFloat(v) < toFloat(t.Value)
	default:
		return r, true
	}
}

// RenameTransform renames fields in place, keeping their position.
type RenameTransform struct {
	Mapping map[string]string // oldName → newName
}

func (t *RenameTransform) Transform(r Record) (Record, bool) {
	out := Record{Data: make(map[string]any, len(r.Data))}
	for _, k := range orderedKeys(r) {
		name := k
		if to, ok := t.Mapping[k]; ok && to != "" {
			name = to
		}
		out.Set(name, r.Data[k])
	}
	return out, true
}

// SelectTransform keeps only the specified fields, in record order.
type SelectTransform struct {
	Fields []string
}

func (t *SelectTransform) Transform(r Record) (Record, bool) {
	want := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		want[f] = true
	}
	out := Record{Data: make(map[string]any, len(t.Fields))}
	for _, k := range orderedKeys(r) {
		if want[k] {
			out.Set(k, r.Data[k])
		}
	}
	return out, true
}

// DedupeTransform drops records with duplicate values for the given key.
// Records without the key pass through.
type DedupeTransform struct {
	Key  string
	seen map[string]bool
}

func NewDedupeTransform(key string) *DedupeTransform {
	return &DedupeTransform{Key: key, seen: make(map[string]bool)}
}

func (t *DedupeTransform) Transform(r Record) (Record, bool) {
	v, ok := r.Data[t.Key]
	if !ok {
		return r, true
	}
	k := fmt.Sprint(v)
	if t.seen[k] {
		return r, false
	}
	t.seen[k] = true
	return r, true
}

// LimitTransform caps the number of records.
type LimitTransform struct {
	Count int
	seen  int
}

func NewLimitTransform(count int) *LimitTransform {
	return &LimitTransform{Count: count}
}

func (t *LimitTransform) Transform(r Record) (Record, bool) {
	t.seen++
	return r, t.seen <= t.Count
}

// BuildTransformers converts declarative configs into Transformer
// instances. Unknown types and incomplete configs are errors.
func BuildTransformers(configs []TransformConfig) ([]Transformer, error) {
	var ts []Transformer

	for i, tc := range configs {
		switch tc.Type {
		case "normalize":
			ts = append(ts, NormalizeTransform{})

		case "filter":
			field, _ := tc.Config["field"].(string)
			op, _ := tc.Config["op"].(string)
			if field == "" || op == "" {
				return nil, fmt.Errorf("transform %d: filter needs field and op", i)
			}
			ts = append(ts, &FilterTransform{Field: field, Op: op, Value: tc.Config["value"]})

		case "rename":
			mapping, ok := tc.Config["mapping"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("transform %d: rename needs a mapping", i)
			}
			m := make(map[string]string, len(mapping))
			for k, v := range mapping {
				m[k] = fmt.Sprint(v)
			}
			ts = append(ts, &RenameTransform{Mapping: m})

		case "select":
			fields, ok := tc.Config["fields"].([]any)
			if !ok {
				return nil, fmt.Errorf("transform %d: select needs fields", i)
			}
			var ff []string
			for _, f := range fields {
				ff = append(ff, fmt.Sprint(f))
			}
			ts = append(ts, &SelectTransform{Fields: ff})

		case "dedupe":
			key, _ := tc.Config["key"].(string)
			if key == "" {
				return nil, fmt.Errorf("transform %d: dedupe needs a key", i)
			}
			ts = append(ts, NewDedupeTransform(key))

		case "limit":
			count := int(toFloat(tc.Config["count"]))
			if count <= 0 {
				return nil, fmt.Errorf("transform %d: limit needs a positive count", i)
			}
			ts = append(ts, NewLimitTransform(count))

		default:
			return nil, fmt.Errorf("transform %d: unknown type %q", i, tc.Type)
		}
	}

	return ts, nil
}

// ── Helpers ────────────────────────────────────────────────

// orderedKeys returns r's keys in record order. Keys missing from the
// order follow in sorted order.
func orderedKeys(r Record) []string {
	if len(r.Keys) == len(r.Data) {
		return r.Keys
	}
	keys := make([]string, 0, len(r.Data))
	seen := make(map[string]bool, len(r.Data))
	for _, k := range r.Keys {
		if _, ok := r.Data[k]; ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range r.Data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
