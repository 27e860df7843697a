package domain

import (
	"sort"
	"time"
)

// Record is one normalized input record. Keys keeps the field order in
// which the record was decoded; it may be nil for records built in code.
type Record struct {
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
	Keys       []string       `json:"-"`
	ReceivedAt time.Time      `json:"received_at"`
}

// FieldNames returns the record's field names in decode order. Records
// without a usable key order fall back to sorted order.
func (r Record) FieldNames() []string {
	if len(r.Keys) == len(r.Data) {
		ok := true
		for _, k := range r.Keys {
			if _, present := r.Data[k]; !present {
				ok = false
				break
			}
		}
		if ok {
			return append([]string(nil), r.Keys...)
		}
	}
	names := make([]string, 0, len(r.Data))
	for k := range r.Data {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
