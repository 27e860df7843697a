package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"hybriddb/internal/api"
	"hybriddb/internal/bus"
	"hybriddb/internal/config"
	"hybriddb/internal/dbclient"
	"hybriddb/internal/logger"
	mcpserver "hybriddb/internal/mcp"
	"hybriddb/internal/pipeline"
	"hybriddb/internal/router"
	"hybriddb/internal/service"
	"hybriddb/internal/storage"

	_ "hybriddb/internal/etl/sources"
)

var version = "dev"

const usage = `hybriddb: adaptive field placement engine

Usage:
  hybriddb run    [-config file]             stream records, place fields, serve the API
  hybriddb mcp    [-config file]             serve field metadata over MCP (stdio)
  hybriddb export [-config file] [-o file]   write field metadata as JSON lines
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = runCmd(ctx, args)
	case "mcp":
		err = mcpCmd(ctx, args)
	case "export":
		err = exportCmd(ctx, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log := logger.Get("main")
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		os.Exit(1)
	}
}

// ── Shared setup ───────────────────────────────────────────

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", "", "config file (default: hybriddb.yaml in ., ./config, /etc/hybriddb)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ResolvePasswords(); err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// runtime is the metadata database and the engine restored from it.
type runtime struct {
	db         *storage.DB
	engine     *pipeline.Engine
	quarantine *storage.QuarantineStore
	runs       *storage.RunStore
}

func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	log := logger.Get("main")

	db, err := storage.New(cfg.Metadata.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	engine, err := pipeline.New(cfg.Pipeline(), storage.NewMetadataStore(db))
	if err != nil {
		db.Close()
		return nil, err
	}
	n, err := engine.Restore(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("restore metadata: %w", err)
	}
	log.Info().Str("db", db.Path()).Int("fields", n).Msg("metadata db ready")

	return &runtime{
		db:         db,
		engine:     engine,
		quarantine: storage.NewQuarantineStore(db),
		runs:       storage.NewRunStore(db),
	}, nil
}

func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log := logger.Get("main")
	if err := rt.engine.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("final metadata flush failed")
	}
	rt.db.Close()
}

// ── run ────────────────────────────────────────────────────

func runCmd(ctx context.Context, args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("run", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	log := logger.Get("main")

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	rtr, err := router.New(router.Granularity(cfg.Routing.Granularity), cfg.Routing.TimestampField)
	if err != nil {
		return err
	}

	sinks := service.Sinks{Quarantine: rt.quarantine}
	if cfg.SQL.Enabled {
		rows, err := dbclient.NewRowSink(ctx, cfg.SQLConnection())
		if err != nil {
			return fmt.Errorf("sql backend: %w", err)
		}
		defer rows.Close()
		sinks.Rows = rows
		log.Info().Str("driver", rows.Driver()).Str("table", rows.Table()).Msg("sql backend ready")
	}
	if cfg.Mongo.Enabled {
		docs, err := dbclient.NewDocumentSink(cfg.MongoConnection())
		if err != nil {
			return fmt.Errorf("document backend: %w", err)
		}
		defer docs.Close()
		if err := docs.TestConnection(ctx); err != nil {
			return fmt.Errorf("document backend: %w", err)
		}
		sinks.Documents = docs
		log.Info().Str("collection", docs.Collection()).Msg("document backend ready")
	}

	emitter := service.MultiEmitter{service.LogEmitter{}}
	if cfg.Events.NATSURL != "" {
		pub, err := bus.NewPublisher(cfg.Events.NATSURL, cfg.Events.Prefix)
		if err != nil {
			return err
		}
		defer pub.Close()
		emitter = append(emitter, pub)
	}

	svc := service.NewStreamService(rt.engine, rtr, sinks, rt.runs, emitter)
	defer svc.Stop()
	if err := svc.StartSchedules(ctx, service.Schedule{
		FlushCron:    cfg.Metadata.FlushCron,
		SnapshotCron: cfg.Metadata.SnapshotCron,
		SnapshotPath: cfg.Metadata.SnapshotPath,
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := svc.Run(gctx, cfg.StreamJob())
		if err != nil {
			return err
		}
		log.Info().Str("run", res.RunID).Str("status", res.Status).
			Int("records", res.RecordsRead).Dur("took", res.Duration).Msg("stream finished")
		if !cfg.API.Enabled {
			cancel()
		}
		return nil
	})

	if cfg.API.Enabled {
		srv := &http.Server{
			Addr: cfg.API.Addr,
			Handler: api.NewRouter(&api.Handler{
				Engine:     rt.engine,
				Quarantine: rt.quarantine,
				Runs:       rt.runs,
				Stats:      func() any { return svc.Stats() },
			}),
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	svc.WaitRunning(context.Background())
	st := svc.Stats()
	log.Info().Int64("records", st.Records).Int64("rows", st.Rows).Int64("documents", st.Documents).
		Int64("held", st.HeldValues).Int64("sink_errors", st.SinkErrors).Msg("shutting down")
	return ignoreCanceled(err)
}

// ignoreCanceled treats an interrupted run as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ── mcp ────────────────────────────────────────────────────

func mcpCmd(ctx context.Context, args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("mcp", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := mcpserver.New(mcpserver.Deps{
		Engine:     rt.engine,
		Quarantine: rt.quarantine,
		Version:    version,
	})
	return srv.ServeStdio()
}

// ── export ─────────────────────────────────────────────────

func exportCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "output file (default: stdout)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if *out == "" {
		return rt.engine.Metadata().Export(os.Stdout)
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := rt.engine.Metadata().Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
