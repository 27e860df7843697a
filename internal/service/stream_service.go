package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"hybriddb/internal/domain"
	"hybriddb/internal/etl"
	"hybriddb/internal/logger"
	"hybriddb/internal/metadata"
	"hybriddb/internal/pipeline"
	"hybriddb/internal/router"
)

// ─────────────────────────────────────────────────────────────
// Stream Service: source → pipeline → router → backends
// ─────────────────────────────────────────────────────────────

// Sinks are the write targets of routed records. Any of them may be nil;
// a nil sink drops its share of the record.
type Sinks struct {
	Rows       domain.RowSink
	Documents  domain.DocumentSink
	Quarantine domain.QuarantineStore
}

// RunLogger keeps the history of stream runs.
type RunLogger interface {
	StartRun(ctx context.Context, log *etl.RunLog) error
	FinishRun(ctx context.Context, log *etl.RunLog) error
}

// Stats are running totals since the service started.
type Stats struct {
	Records     int64 `json:"records"`
	HeldRecords int64 `json:"held_records"`
	Rows        int64 `json:"rows"`
	Documents   int64 `json:"documents"`
	HeldValues  int64 `json:"held_values"`
	SinkErrors  int64 `json:"sink_errors"`
}

// StreamService feeds stream records through the placement engine and
// writes every part of a record to the backend it was placed on.
type StreamService struct {
	engine  *pipeline.Engine
	router  *router.Router
	sinks   Sinks
	runs    RunLogger
	emitter EventEmitter
	guard   runGuard

	records, heldRecords        atomic.Int64
	rows, documents, heldValues atomic.Int64
	sinkErrors                  atomic.Int64

	cronMu    sync.Mutex
	cronSched *cron.Cron
}

// NewStreamService creates a StreamService ready for use. runs may be nil.
func NewStreamService(
	engine *pipeline.Engine,
	rt *router.Router,
	sinks Sinks,
	runs RunLogger,
	emitter EventEmitter,
) *StreamService {
	if emitter == nil {
		emitter = LogEmitter{}
	}
	return &StreamService{
		engine:  engine,
		router:  rt,
		sinks:   sinks,
		runs:    runs,
		emitter: emitter,
	}
}

// Engine returns the placement engine.
func (s *StreamService) Engine() *pipeline.Engine { return s.engine }

// Stats returns the running totals.
func (s *StreamService) Stats() Stats {
	return Stats{
		Records:     s.records.Load(),
		HeldRecords: s.heldRecords.Load(),
		Rows:        s.rows.Load(),
		Documents:   s.documents.Load(),
		HeldValues:  s.heldValues.Load(),
		SinkErrors:  s.sinkErrors.Load(),
	}
}

// ── Record handling ────────────────────────────────────────

// Handle places one record. Metadata persistence failures and backend
// write failures are logged and counted; they never stop the stream.
func (s *StreamService) Handle(ctx context.Context, rec domain.Record) error {
	log := logger.Get("stream")

	at := rec.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.engine.Process(ctx, rec, at)
	if err != nil {
		if !metadata.IsPersistenceError(err) {
			return err
		}
		log.Error().Err(err).Str("record", rec.ID).Msg("metadata not persisted; continuing")
	}
	s.records.Add(1)
	s.emitChanges(ctx, res)

	routed, err := s.router.Route(rec, res)
	if err != nil {
		return fmt.Errorf("route record %s: %w", rec.ID, err)
	}
	if len(routed.Held) > 0 {
		s.heldRecords.Add(1)
	}
	s.write(ctx, routed)
	return nil
}

func (s *StreamService) emitChanges(ctx context.Context, res *pipeline.Result) {
	for _, p := range res.Placements {
		if p.Event != nil {
			s.emitter.Emit(ctx, EventDrift, *p.Event)
		}
		if p.Changed {
			s.emitter.Emit(ctx, EventPlacement, p.Decision)
		}
	}
}

func (s *StreamService) write(ctx context.Context, routed router.Routed) {
	log := logger.Get("stream")
	fail := func(target string, err error) {
		s.sinkErrors.Add(1)
		log.Error().Err(err).Str("record", routed.RecordID).Str("sink", target).Msg("write failed")
	}

	if len(routed.Rows) > 0 && s.sinks.Rows != nil {
		if err := s.sinks.Rows.WriteRows(ctx, routed.Rows); err != nil {
			fail("sql", err)
		} else {
			s.rows.Add(int64(len(routed.Rows)))
		}
	}
	if routed.Document != nil && s.sinks.Documents != nil {
		if err := s.sinks.Documents.WriteDocuments(ctx, []domain.Document{*routed.Document}); err != nil {
			fail("document", err)
		} else {
			s.documents.Add(1)
		}
	}
	if len(routed.Held) > 0 && s.sinks.Quarantine != nil {
		if err := s.sinks.Quarantine.Hold(ctx, routed.Held); err != nil {
			fail("quarantine", err)
		} else {
			s.heldValues.Add(int64(len(routed.Held)))
		}
	}
}

// ── Runs ───────────────────────────────────────────────────

// Run consumes job until its source ends, its record limit is reached or
// ctx is cancelled. Pending metadata is flushed before it returns.
func (s *StreamService) Run(ctx context.Context, job *etl.StreamJob) (*etl.RunResult, error) {
	key := job.SourceType + ":" + job.ID
	if !s.guard.TryLock(key) {
		return nil, fmt.Errorf("stream %s is already running", key)
	}
	defer s.guard.Unlock(key)

	log := logger.Get("stream")
	runLog := &etl.RunLog{ID: job.ID, SourceType: job.SourceType}
	if s.runs != nil {
		if err := s.runs.StartRun(ctx, runLog); err != nil {
			log.Warn().Err(err).Msg("could not record run start")
		}
		job.ID = runLog.ID
	}
	heldBefore := s.heldRecords.Load()

	log.Info().Str("run", job.ID).Str("source", job.SourceType).Msg("stream started")
	engine := &etl.Engine{Handler: s}
	result, runErr := engine.Run(ctx, job)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.engine.Flush(flushCtx); err != nil {
		log.Error().Err(err).Msg("final metadata flush failed")
	}

	if s.runs != nil {
		runLog.Status = result.Status
		runLog.RecordsRead = result.RecordsRead
		runLog.RecordsHeld = int(s.heldRecords.Load() - heldBefore)
		runLog.Error = result.Error
		if err := s.runs.FinishRun(flushCtx, runLog); err != nil {
			log.Warn().Err(err).Msg("could not record run end")
		}
	}

	ev := log.Info()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		ev = log.Error().Err(runErr)
	}
	ev.Str("run", job.ID).
		Str("status", result.Status).
		Int("read", result.RecordsRead).
		Int("kept", result.RecordsKept).
		Dur("duration", result.Duration).
		Msg("stream finished")
	s.emitter.Emit(ctx, EventRunDone, result)
	return result, runErr
}

// Running lists the active stream keys.
func (s *StreamService) Running() []string {
	return s.guard.Running()
}

// WaitRunning blocks until all running streams finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *StreamService) WaitRunning(ctx context.Context) {
	s.guard.WaitAll(ctx)
}

// ── Schedules ──────────────────────────────────────────────

// Schedule configures the periodic jobs. Empty expressions are skipped.
type Schedule struct {
	FlushCron    string
	SnapshotCron string
	SnapshotPath string
}

// StartSchedules starts the cron scheduler for metadata flushes and
// snapshot exports, replacing any previous one.
func (s *StreamService) StartSchedules(ctx context.Context, sch Schedule) error {
	s.Stop()
	log := logger.Get("cron")

	c := cron.New()
	n := 0
	if sch.FlushCron != "" {
		if _, err := c.AddFunc(sch.FlushCron, func() {
			if err := s.engine.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("scheduled flush failed")
			}
		}); err != nil {
			return fmt.Errorf("invalid flush schedule %q: %w", sch.FlushCron, err)
		}
		n++
	}
	if sch.SnapshotCron != "" {
		if sch.SnapshotPath == "" {
			return fmt.Errorf("snapshot schedule set without a snapshot path")
		}
		if _, err := c.AddFunc(sch.SnapshotCron, func() {
			if err := s.Snapshot(sch.SnapshotPath); err != nil {
				log.Error().Err(err).Str("path", sch.SnapshotPath).Msg("snapshot failed")
			}
		}); err != nil {
			return fmt.Errorf("invalid snapshot schedule %q: %w", sch.SnapshotCron, err)
		}
		n++
	}
	if n == 0 {
		return nil
	}

	c.Start()
	s.cronMu.Lock()
	s.cronSched = c
	s.cronMu.Unlock()
	log.Info().Int("jobs", n).Msg("scheduled")
	return nil
}

// Snapshot writes the JSON-lines metadata export to path. The file is
// replaced atomically.
func (s *StreamService) Snapshot(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.engine.Metadata().Export(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	log := logger.Get("cron")
	log.Debug().Str("path", path).Msg("snapshot written")
	return nil
}

// Stop tears down the scheduler. Safe to call more than once.
func (s *StreamService) Stop() {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cronSched != nil {
		<-s.cronSched.Stop().Done()
		s.cronSched = nil
	}
}
