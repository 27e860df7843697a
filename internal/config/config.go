package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hybriddb/internal/analyzer"
	"hybriddb/internal/classifier"
	"hybriddb/internal/domain"
	"hybriddb/internal/drift"
	"hybriddb/internal/etl"
	"hybriddb/internal/pipeline"
	"hybriddb/internal/router"
	"hybriddb/internal/secret"
)

// Config holds all configuration for hybriddb
type Config struct {
	Log        LogConfig
	Analysis   AnalysisConfig
	Classifier ClassifierConfig
	Metadata   MetadataConfig
	Source     SourceConfig
	SQL        SQLConfig
	Mongo      MongoConfig
	Routing    RoutingConfig
	Events     EventsConfig
	API        APIConfig
	Secrets    SecretsConfig
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // console or json
}

type AnalysisConfig struct {
	SampleSize       int     // sample values kept per field
	ExactLimit       int     // distinct values counted exactly before switching to a sketch
	Workers          int     // fields analysed in parallel per record
	WindowSize       int     // drift window W
	SuspectThreshold float64 // T_suspect
	DriftThreshold   float64 // T_drift
	Hysteresis       int     // K consecutive low readings before DRIFTING
}

type ClassifierConfig struct {
	MurkyLow     float64
	MurkyHigh    float64
	MinTypeShare float64
	Rules        []string // rule names in evaluation order; empty = stock table
}

type MetadataConfig struct {
	DBPath       string // local sqlite file for metadata and quarantine
	FlushEvery   int    // commit every N records; 0 leaves it to FlushCron
	FlushCron    string
	SnapshotCron string
	SnapshotPath string
}

type SourceConfig struct {
	Type       string
	Config     map[string]any
	Normalize  bool
	MaxRecords int
	Transforms []etl.TransformConfig
}

type SQLConfig struct {
	Enabled  bool
	Driver   string // mysql, postgres, sqlserver, sqlite
	Host     string // file path for sqlite
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
	Table    string

	PasswordSecret string // secret store key used when Password is empty
}

type MongoConfig struct {
	Enabled    bool
	URI        string // host or full mongodb:// URI
	Port       int
	Database   string
	Username   string
	Password   string
	Collection string

	PasswordSecret string
}

type RoutingConfig struct {
	Granularity    string // field or record
	TimestampField string
}

type EventsConfig struct {
	NATSURL string // empty disables the publisher
	Prefix  string
}

type SecretsConfig struct {
	Backend string // env or keychain
}

type APIConfig struct {
	Enabled      bool
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Load reads configuration from defaults, an optional config file and
// HYBRIDDB_* environment variables. An empty file searches hybriddb.yaml
// in ., ./config and /etc/hybriddb.
func Load(file string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("HYBRIDDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("hybriddb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/hybriddb/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Analysis: AnalysisConfig{
			SampleSize:       v.GetInt("analysis.sample_size"),
			ExactLimit:       v.GetInt("analysis.exact_limit"),
			Workers:          v.GetInt("analysis.workers"),
			WindowSize:       v.GetInt("analysis.window_size"),
			SuspectThreshold: v.GetFloat64("analysis.suspect_threshold"),
			DriftThreshold:   v.GetFloat64("analysis.drift_threshold"),
			Hysteresis:       v.GetInt("analysis.hysteresis"),
		},
		Classifier: ClassifierConfig{
			MurkyLow:     v.GetFloat64("classifier.murky_low"),
			MurkyHigh:    v.GetFloat64("classifier.murky_high"),
			MinTypeShare: v.GetFloat64("classifier.min_type_share"),
			Rules:        v.GetStringSlice("classifier.rules"),
		},
		Metadata: MetadataConfig{
			DBPath:       v.GetString("metadata.db_path"),
			FlushEvery:   v.GetInt("metadata.flush_every"),
			FlushCron:    v.GetString("metadata.flush_cron"),
			SnapshotCron: v.GetString("metadata.snapshot_cron"),
			SnapshotPath: v.GetString("metadata.snapshot_path"),
		},
		Source: SourceConfig{
			Type:       v.GetString("source.type"),
			Config:     v.GetStringMap("source.config"),
			Normalize:  v.GetBool("source.normalize"),
			MaxRecords: v.GetInt("source.max_records"),
		},
		SQL: SQLConfig{
			Enabled:  v.GetBool("sql.enabled"),
			Driver:   v.GetString("sql.driver"),
			Host:     v.GetString("sql.host"),
			Port:     v.GetInt("sql.port"),
			Database: v.GetString("sql.database"),
			Username: v.GetString("sql.username"),
			Password: v.GetString("sql.password"),
			SSLMode:  v.GetString("sql.ssl_mode"),
			Table:    v.GetString("sql.table"),

			PasswordSecret: v.GetString("sql.password_secret"),
		},
		Mongo: MongoConfig{
			Enabled:    v.GetBool("mongo.enabled"),
			URI:        v.GetString("mongo.uri"),
			Port:       v.GetInt("mongo.port"),
			Database:   v.GetString("mongo.database"),
			Username:   v.GetString("mongo.username"),
			Password:   v.GetString("mongo.password"),
			Collection: v.GetString("mongo.collection"),

			PasswordSecret: v.GetString("mongo.password_secret"),
		},
		Routing: RoutingConfig{
			Granularity:    v.GetString("routing.granularity"),
			TimestampField: v.GetString("routing.timestamp_field"),
		},
		Events: EventsConfig{
			NATSURL: v.GetString("events.nats_url"),
			Prefix:  v.GetString("events.prefix"),
		},
		API: APIConfig{
			Enabled:      v.GetBool("api.enabled"),
			Addr:         v.GetString("api.addr"),
			ReadTimeout:  v.GetDuration("api.read_timeout"),
			WriteTimeout: v.GetDuration("api.write_timeout"),
		},
		Secrets: SecretsConfig{
			Backend: v.GetString("secrets.backend"),
		},
	}
	if err := v.UnmarshalKey("source.transforms", &cfg.Source.Transforms); err != nil {
		return nil, fmt.Errorf("invalid source.transforms: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Analysis defaults
	v.SetDefault("analysis.sample_size", 5)
	v.SetDefault("analysis.exact_limit", 10000)
	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.window_size", 20)
	v.SetDefault("analysis.suspect_threshold", 0.8)
	v.SetDefault("analysis.drift_threshold", 0.5)
	v.SetDefault("analysis.hysteresis", 3)

	// Classifier defaults
	v.SetDefault("classifier.murky_low", 0.1)
	v.SetDefault("classifier.murky_high", 0.7)
	v.SetDefault("classifier.min_type_share", 0.1)
	v.SetDefault("classifier.rules", []string{})

	// Metadata defaults
	v.SetDefault("metadata.db_path", "./data/hybriddb.db")
	v.SetDefault("metadata.flush_every", 1)
	v.SetDefault("metadata.flush_cron", "")
	v.SetDefault("metadata.snapshot_cron", "")
	v.SetDefault("metadata.snapshot_path", "./data/metadata.jsonl")

	// Source defaults
	v.SetDefault("source.type", "sse")
	v.SetDefault("source.config", map[string]any{})
	v.SetDefault("source.normalize", true)
	v.SetDefault("source.max_records", 0)

	// Backends are off until configured
	v.SetDefault("sql.enabled", false)
	v.SetDefault("sql.driver", "sqlite")
	v.SetDefault("sql.host", "./data/routed.db")
	v.SetDefault("sql.port", 0)
	v.SetDefault("sql.database", "")
	v.SetDefault("sql.username", "")
	v.SetDefault("sql.password", "")
	v.SetDefault("sql.ssl_mode", "")
	v.SetDefault("sql.table", "routed_fields")
	v.SetDefault("sql.password_secret", "")

	v.SetDefault("mongo.enabled", false)
	v.SetDefault("mongo.uri", "localhost")
	v.SetDefault("mongo.port", 27017)
	v.SetDefault("mongo.database", "hybriddb")
	v.SetDefault("mongo.username", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.collection", "routed_records")
	v.SetDefault("mongo.password_secret", "")

	// Routing defaults
	v.SetDefault("routing.granularity", "field")
	v.SetDefault("routing.timestamp_field", "timestamp")

	// Events defaults
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.prefix", "hybriddb")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")

	v.SetDefault("secrets.backend", "env")
}

// Validate checks every range the engine depends on and reports all
// violations at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	a := c.Analysis
	if a.WindowSize <= 0 {
		bad("analysis.window_size must be > 0, got %d", a.WindowSize)
	}
	if !(a.DriftThreshold > 0 && a.DriftThreshold < a.SuspectThreshold && a.SuspectThreshold <= 1) {
		bad("thresholds must satisfy 0 < drift_threshold < suspect_threshold <= 1, got %g and %g",
			a.DriftThreshold, a.SuspectThreshold)
	}
	if a.Hysteresis < 1 {
		bad("analysis.hysteresis must be >= 1, got %d", a.Hysteresis)
	}
	if a.SampleSize < 0 {
		bad("analysis.sample_size must be >= 0, got %d", a.SampleSize)
	}
	if a.ExactLimit <= 0 {
		bad("analysis.exact_limit must be > 0, got %d", a.ExactLimit)
	}
	if a.Workers < 1 {
		bad("analysis.workers must be >= 1, got %d", a.Workers)
	}

	cl := c.Classifier
	if !(cl.MurkyLow >= 0 && cl.MurkyLow < cl.MurkyHigh && cl.MurkyHigh <= 1) {
		bad("classifier band must satisfy 0 <= murky_low < murky_high <= 1, got (%g, %g)", cl.MurkyLow, cl.MurkyHigh)
	}
	if cl.MinTypeShare <= 0 || cl.MinTypeShare > 1 {
		bad("classifier.min_type_share must be in (0, 1], got %g", cl.MinTypeShare)
	}
	if _, err := classifier.RulesByName(cl.Rules); err != nil {
		bad("%v", err)
	}

	if c.Metadata.FlushEvery < 0 {
		bad("metadata.flush_every must be >= 0, got %d", c.Metadata.FlushEvery)
	}
	if c.Metadata.SnapshotCron != "" && c.Metadata.SnapshotPath == "" {
		bad("metadata.snapshot_path is required with metadata.snapshot_cron")
	}
	if c.Source.MaxRecords < 0 {
		bad("source.max_records must be >= 0, got %d", c.Source.MaxRecords)
	}

	switch router.Granularity(c.Routing.Granularity) {
	case router.GranularityField, router.GranularityRecord:
	default:
		bad("routing.granularity must be field or record, got %q", c.Routing.Granularity)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		bad("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.SQL.Enabled {
		switch domain.DatabaseDriver(c.SQL.Driver) {
		case domain.DatabaseDriverMySQL, domain.DatabaseDriverPostgres,
			domain.DatabaseDriverSQLServer, domain.DatabaseDriverSQLite:
		default:
			bad("sql.driver must be mysql, postgres, sqlserver or sqlite, got %q", c.SQL.Driver)
		}
	}
	switch c.Secrets.Backend {
	case "env", "keychain":
	default:
		bad("secrets.backend must be env or keychain, got %q", c.Secrets.Backend)
	}
	if c.API.Enabled && c.API.Addr == "" {
		bad("api.addr is required when the api is enabled")
	}
	return errors.Join(errs...)
}

// ── Derived settings ───────────────────────────────────────

// ResolvePasswords fills empty backend passwords from the secret store.
func (c *Config) ResolvePasswords() error {
	store, err := secret.New(c.Secrets.Backend)
	if err != nil {
		return err
	}
	if c.SQL.Enabled {
		if c.SQL.Password, err = secret.Resolve(store, c.SQL.Password, c.SQL.PasswordSecret); err != nil {
			return fmt.Errorf("sql password: %w", err)
		}
	}
	if c.Mongo.Enabled {
		if c.Mongo.Password, err = secret.Resolve(store, c.Mongo.Password, c.Mongo.PasswordSecret); err != nil {
			return fmt.Errorf("mongo password: %w", err)
		}
	}
	return nil
}

// Pipeline returns the engine settings.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Analyzer: analyzer.Options{
			SampleSize: c.Analysis.SampleSize,
			ExactLimit: c.Analysis.ExactLimit,
		},
		Drift: drift.Config{
			WindowSize:       c.Analysis.WindowSize,
			SuspectThreshold: c.Analysis.SuspectThreshold,
			DriftThreshold:   c.Analysis.DriftThreshold,
			Hysteresis:       c.Analysis.Hysteresis,
		},
		Thresholds: classifier.Thresholds{
			SuspectThreshold: c.Analysis.SuspectThreshold,
			MurkyLow:         c.Classifier.MurkyLow,
			MurkyHigh:        c.Classifier.MurkyHigh,
			MinTypeShare:     c.Classifier.MinTypeShare,
		},
		Rules:      c.Classifier.Rules,
		Workers:    c.Analysis.Workers,
		FlushEvery: c.Metadata.FlushEvery,
	}
}

// SQLConnection describes the relational backend.
func (c *Config) SQLConnection() *domain.DatabaseConnection {
	return &domain.DatabaseConnection{
		Driver:   domain.DatabaseDriver(c.SQL.Driver),
		Host:     c.SQL.Host,
		Port:     c.SQL.Port,
		Database: c.SQL.Database,
		Username: c.SQL.Username,
		Password: c.SQL.Password,
		SSLMode:  c.SQL.SSLMode,
		Table:    c.SQL.Table,
	}
}

// MongoConnection describes the document backend.
func (c *Config) MongoConnection() *domain.DatabaseConnection {
	return &domain.DatabaseConnection{
		Driver:     domain.DatabaseDriverMongoDB,
		Host:       c.Mongo.URI,
		Port:       c.Mongo.Port,
		Database:   c.Mongo.Database,
		Username:   c.Mongo.Username,
		Password:   c.Mongo.Password,
		Collection: c.Mongo.Collection,
	}
}

// StreamJob builds the streaming job for the configured source.
func (c *Config) StreamJob() *etl.StreamJob {
	cfg := etl.SourceConfig{}
	for k, v := range c.Source.Config {
		cfg[k] = v
	}
	return &etl.StreamJob{
		SourceType: c.Source.Type,
		SourceCfg:  cfg,
		Normalize:  c.Source.Normalize,
		Transforms: c.Source.Transforms,
		MaxRecords: c.Source.MaxRecords,
	}
}
