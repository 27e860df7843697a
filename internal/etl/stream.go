package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hybriddb/internal/domain"
)

// ── StreamJob ──────────────────────────────────────────────
// Orchestrates: source.Read → transform chain → handler, one record at a
// time and in arrival order.

// StreamJob holds the configuration of one streaming run.
type StreamJob struct {
	ID         string            `json:"id"`
	SourceType string            `json:"sourceType"`
	SourceCfg  SourceConfig      `json:"sourceConfig"`
	Normalize  bool              `json:"normalize"`
	Transforms []TransformConfig `json:"transforms,omitempty"`
	MaxRecords int               `json:"maxRecords"` // 0 = until the source ends
}

// RunResult is the outcome of a streaming run.
type RunResult struct {
	RunID       string        `json:"runId"`
	Status      string        `json:"status"` // "success" | "error" | "canceled"
	RecordsRead int           `json:"recordsRead"`
	RecordsKept int           `json:"recordsKept"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// RunLog is the historical record of a streaming run.
type RunLog struct {
	ID          string     `json:"id"`
	SourceType  string     `json:"sourceType"`
	Status      string     `json:"status"`
	RecordsRead int        `json:"recordsRead"`
	RecordsHeld int        `json:"recordsHeld"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Handler consumes the records of a stream. A returned error stops the run.
type Handler interface {
	Handle(ctx context.Context, rec domain.Record) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, rec domain.Record) error

func (f HandlerFunc) Handle(ctx context.Context, rec domain.Record) error { return f(ctx, rec) }

// ── Engine ─────────────────────────────────────────────────

// Engine runs streaming jobs using the registered sources.
type Engine struct {
	Handler Handler
	Now     func() time.Time // arrival clock; defaults to time.Now
}

// Run executes a job until the source ends, MaxRecords records were
// kept, the handler fails or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, job *StreamJob) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: job.ID}
	fail := func(err error) (*RunResult, error) {
		result.Status = "error"
		result.Error = err.Error()
		if errors.Is(err, context.Canceled) {
			result.Status = "canceled"
		}
		result.Duration = time.Since(start)
		return result, err
	}

	source, err := GetSource(job.SourceType)
	if err != nil {
		return fail(err)
	}

	var ts []Transformer
	if job.Normalize {
		ts = append(ts, NormalizeTransform{})
	}
	configured, err := BuildTransformers(job.Transforms)
	if err != nil {
		return fail(err)
	}
	ts = append(ts, configured...)

	now := e.Now
	if now == nil {
		now = time.Now
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	recCh, errCh := source.Read(readCtx, job.SourceCfg)
	defer func() {
		// unblock the source goroutine before returning
		cancel()
		for range recCh {
		}
	}()

	for rec := range recCh {
		result.RecordsRead++
		rec, keep := ApplyTransformers(rec, ts)
		if !keep {
			continue
		}
		dr := domain.Record{
			ID:         uuid.New().String(),
			Data:       rec.Data,
			Keys:       rec.Keys,
			ReceivedAt: now(),
		}
		if err := e.Handler.Handle(ctx, dr); err != nil {
			return fail(fmt.Errorf("handle record %d: %w", result.RecordsRead, err))
		}
		result.RecordsKept++
		if job.MaxRecords > 0 && result.RecordsKept >= job.MaxRecords {
			result.Status = "success"
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	if err := <-errCh; err != nil {
		return fail(fmt.Errorf("read: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	result.Status = "success"
	result.Duration = time.Since(start)
	return result, nil
}
