package etl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format. Every source emits Records; the
// stream engine turns them into domain records for the placement
// pipeline. Keys keeps the order fields appeared in the input.

// Record is a single input record flowing through the stream.
type Record struct {
	Data map[string]any `json:"data"`
	Keys []string       `json:"-"`
}

// NewRecord builds a Record from data with keys in the given order.
func NewRecord(keys []string, data map[string]any) Record {
	return Record{Data: data, Keys: keys}
}

// Set assigns key, appending it to the key order if new.
func (r *Record) Set(key string, v any) {
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	if _, ok := r.Data[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Data[key] = v
}

// Delete removes key.
func (r *Record) Delete(key string) {
	if _, ok := r.Data[key]; !ok {
		return
	}
	delete(r.Data, key)
	for i, k := range r.Keys {
		if k == key {
			r.Keys = append(r.Keys[:i:i], r.Keys[i+1:]...)
			break
		}
	}
}

// ErrNotObject is returned when a payload is valid JSON but not an object.
var ErrNotObject = errors.New("record is not a JSON object")

// DecodeRecord parses one JSON object, keeping its key order. Numbers are
// decoded as json.Number so integral and fractional values stay distinct.
// A repeated key keeps its first position and its last value.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Record{}, ErrNotObject
	}

	rec := Record{Data: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Record{}, fmt.Errorf("decode key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return Record{}, fmt.Errorf("decode key: unexpected %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return Record{}, fmt.Errorf("decode %q: %w", key, err)
		}
		rec.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{}, fmt.Errorf("decode record: trailing data")
	}
	return rec, nil
}
