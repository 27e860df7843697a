package router

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hybriddb/internal/analyzer"
	"hybriddb/internal/domain"
	"hybriddb/internal/pipeline"
)

// Granularity decides how much of a record a quarantined field holds back.
type Granularity string

const (
	// GranularityField holds only the drifting field's value.
	GranularityField Granularity = "field"
	// GranularityRecord holds every field of a record that has any held field.
	GranularityRecord Granularity = "record"
)

// ReasonRecordHeld marks values held only because a sibling field was.
const ReasonRecordHeld = "record_quarantined"

// Routed is one record split by placement.
type Routed struct {
	RecordID string
	Rows     []domain.FieldRow
	Document *domain.Document
	Held     []domain.QuarantinedValue
}

// Empty reports whether nothing of the record goes anywhere.
func (r Routed) Empty() bool {
	return len(r.Rows) == 0 && r.Document == nil && len(r.Held) == 0
}

// Router splits pipeline results into backend writes.
type Router struct {
	granularity    Granularity
	timestampField string
	now            func() time.Time
}

// New builds a Router. timestampField names the client field carried as
// t_stamp; empty disables it.
func New(granularity Granularity, timestampField string) (*Router, error) {
	switch granularity {
	case "":
		granularity = GranularityField
	case GranularityField, GranularityRecord:
	default:
		return nil, fmt.Errorf("router: unknown quarantine granularity %q", granularity)
	}
	return &Router{granularity: granularity, timestampField: timestampField, now: time.Now}, nil
}

// WithClock replaces the ingestion clock.
func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// Route splits res for rec. Fields absent from the record are not written.
func (r *Router) Route(rec domain.Record, res *pipeline.Result) (Routed, error) {
	out := Routed{RecordID: rec.ID}
	if res == nil {
		return out, nil
	}
	ingested := r.now().UTC()
	ts := r.clientTimestamp(rec)
	holdAll := r.granularity == GranularityRecord && holdsPresentValue(res)

	var doc *domain.Document
	for _, p := range res.Placements {
		if !p.Present {
			continue
		}
		switch {
		case p.Quarantined || p.Backend == domain.BackendHold:
			out.Held = append(out.Held, held(rec.ID, p, p.Decision.ReasonCode, res.At))
		case holdAll:
			out.Held = append(out.Held, held(rec.ID, p, ReasonRecordHeld, res.At))
		case p.Backend == domain.BackendSQL:
			raw, err := json.Marshal(p.Value)
			if err != nil {
				return Routed{}, fmt.Errorf("encode %s.%s: %w", rec.ID, p.Field, err)
			}
			out.Rows = append(out.Rows, domain.FieldRow{
				RecordID:   rec.ID,
				FieldName:  p.Field,
				ValueJSON:  string(raw),
				ValueType:  analyzer.TagOf(p.Value),
				TStamp:     ts,
				IngestedAt: ingested,
			})
		default:
			if doc == nil {
				doc = &domain.Document{
					RecordID:   rec.ID,
					Fields:     make(map[string]any),
					TStamp:     ts,
					IngestedAt: ingested,
				}
			}
			doc.Keys = append(doc.Keys, p.Field)
			doc.Fields[p.Field] = p.Value
		}
	}
	out.Document = doc
	return out, nil
}

// holdsPresentValue reports whether a value the record actually carries is
// held. Absent fields of a drifting field hold nothing.
func holdsPresentValue(res *pipeline.Result) bool {
	for _, p := range res.Placements {
		if p.Present && (p.Quarantined || p.Backend == domain.BackendHold) {
			return true
		}
	}
	return false
}

func held(recordID string, p pipeline.Placement, reason string, at time.Time) domain.QuarantinedValue {
	return domain.QuarantinedValue{
		RecordID:   recordID,
		FieldName:  p.Field,
		Value:      p.Value,
		ReasonCode: reason,
		HeldAt:     at,
	}
}

func (r *Router) clientTimestamp(rec domain.Record) *time.Time {
	if r.timestampField == "" {
		return nil
	}
	v, ok := rec.Data[r.timestampField]
	if !ok {
		return nil
	}
	t, ok := ParseTimestamp(v)
	if !ok {
		return nil
	}
	return &t
}

// ParseTimestamp reads RFC 3339 strings and numeric Unix times. Numbers
// above 1e12 are taken as milliseconds.
func ParseTimestamp(v any) (time.Time, bool) {
	var secs float64
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	case float64:
		secs = x
	case int64:
		secs = float64(x)
	case int:
		secs = float64(x)
	default:
		return time.Time{}, false
	}
	if secs <= 0 {
		return time.Time{}, false
	}
	if secs > 1e12 {
		secs /= 1000
	}
	whole := int64(secs)
	nanos := int64((secs - float64(whole)) * 1e9)
	return time.Unix(whole, nanos).UTC(), true
}
