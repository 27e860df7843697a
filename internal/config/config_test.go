package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hybriddb.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// Change to an empty dir so no config file is found
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Analysis.WindowSize != 20 {
		t.Errorf("Analysis.WindowSize = %d, want 20", cfg.Analysis.WindowSize)
	}
	if cfg.Analysis.SuspectThreshold != 0.8 || cfg.Analysis.DriftThreshold != 0.5 {
		t.Errorf("thresholds = %g/%g, want 0.8/0.5", cfg.Analysis.SuspectThreshold, cfg.Analysis.DriftThreshold)
	}
	if cfg.Analysis.Hysteresis != 3 {
		t.Errorf("Analysis.Hysteresis = %d, want 3", cfg.Analysis.Hysteresis)
	}
	if cfg.Classifier.MurkyLow != 0.1 || cfg.Classifier.MurkyHigh != 0.7 {
		t.Errorf("murky band = (%g, %g), want (0.1, 0.7)", cfg.Classifier.MurkyLow, cfg.Classifier.MurkyHigh)
	}
	if cfg.Routing.Granularity != "field" {
		t.Errorf("Routing.Granularity = %q, want field", cfg.Routing.Granularity)
	}
	if cfg.API.Addr != ":8080" || cfg.API.ReadTimeout != 10*time.Second {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.SQL.Enabled || cfg.Mongo.Enabled {
		t.Error("backends should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
analysis:
  window_size: 10
  hysteresis: 2
classifier:
  rules: [nested_shape, scalar_unique_key]
source:
  type: jsonl
  normalize: false
  max_records: 100
  config:
    path: /tmp/records.jsonl
    follow: true
  transforms:
    - type: rename
      config:
        from: uid
        to: user_id
sql:
  enabled: true
  driver: postgres
  host: db.internal
  port: 5432
  table: fields
mongo:
  enabled: true
  uri: mongodb://mongo:27017/routed
routing:
  granularity: record
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Analysis.WindowSize != 10 || cfg.Analysis.Hysteresis != 2 {
		t.Errorf("Analysis = %+v", cfg.Analysis)
	}
	if got := strings.Join(cfg.Classifier.Rules, ","); got != "nested_shape,scalar_unique_key" {
		t.Errorf("Classifier.Rules = %q", got)
	}

	job := cfg.StreamJob()
	if job.SourceType != "jsonl" || job.Normalize || job.MaxRecords != 100 {
		t.Errorf("StreamJob = %+v", job)
	}
	if job.SourceCfg["path"] != "/tmp/records.jsonl" {
		t.Errorf("SourceCfg[path] = %v", job.SourceCfg["path"])
	}
	if len(job.Transforms) != 1 || job.Transforms[0].Type != "rename" || job.Transforms[0].Config["to"] != "user_id" {
		t.Errorf("Transforms = %+v", job.Transforms)
	}

	sqlConn := cfg.SQLConnection()
	if sqlConn.Driver != "postgres" || sqlConn.Host != "db.internal" || sqlConn.Port != 5432 || sqlConn.Table != "fields" {
		t.Errorf("SQLConnection = %+v", sqlConn)
	}
	mongoConn := cfg.MongoConnection()
	if mongoConn.Driver != "mongodb" || mongoConn.Host != "mongodb://mongo:27017/routed" || mongoConn.Collection != "routed_records" {
		t.Errorf("MongoConnection = %+v", mongoConn)
	}

	pc := cfg.Pipeline()
	if pc.Drift.WindowSize != 10 || pc.Thresholds.SuspectThreshold != 0.8 || pc.Workers != 4 {
		t.Errorf("Pipeline = %+v", pc)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "analysis:\n  window_size: 10\n")
	t.Setenv("HYBRIDDB_ANALYSIS_WINDOW_SIZE", "40")
	t.Setenv("HYBRIDDB_EVENTS_NATS_URL", "nats://bus:4222")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Analysis.WindowSize != 40 {
		t.Errorf("Analysis.WindowSize = %d, want 40", cfg.Analysis.WindowSize)
	}
	if cfg.Events.NATSURL != "nats://bus:4222" {
		t.Errorf("Events.NATSURL = %q", cfg.Events.NATSURL)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	cfg.Analysis.WindowSize = 0
	cfg.Analysis.DriftThreshold = 0.9 // above T_suspect
	cfg.Analysis.Hysteresis = 0
	cfg.Classifier.MurkyLow = 0.8
	cfg.Classifier.Rules = []string{"bogus"}
	cfg.Routing.Granularity = "page"
	cfg.SQL.Enabled = true
	cfg.SQL.Driver = "oracle"

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("error should wrap ErrInvalid: %v", err)
	}
	for _, want := range []string{
		"analysis.window_size",
		"drift_threshold < suspect_threshold",
		"analysis.hysteresis",
		"murky_low < murky_high",
		`unknown classifier rule "bogus"`,
		"routing.granularity",
		"sql.driver",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_SnapshotNeedsPath(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Metadata.SnapshotCron = "@hourly"
	cfg.Metadata.SnapshotPath = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "snapshot_path") {
		t.Errorf("Validate() = %v, want snapshot_path error", err)
	}
}

func TestResolvePasswords(t *testing.T) {
	t.Setenv("HYBRIDDB_SECRET_SQL_PROD", "from-env")
	path := writeConfig(t, `
sql:
  enabled: true
  driver: mysql
  password_secret: sql-prod
mongo:
  enabled: true
  password: inline
  password_secret: unused
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.ResolvePasswords(); err != nil {
		t.Fatalf("ResolvePasswords() error = %v", err)
	}
	if cfg.SQL.Password != "from-env" {
		t.Errorf("SQL.Password = %q, want from-env", cfg.SQL.Password)
	}
	if cfg.Mongo.Password != "inline" {
		t.Errorf("Mongo.Password = %q, want inline", cfg.Mongo.Password)
	}

	cfg.SQL.Password = ""
	cfg.SQL.PasswordSecret = "absent-key"
	if err := cfg.ResolvePasswords(); err == nil {
		t.Error("expected error for a missing secret")
	}
}
