package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Receipts ReceiptsConfig
	Database DatabaseConfig
	OCR      OCRConfig
	Archive  ArchiveConfig
	Watch    WatchConfig
	Log      LogConfig
}

// ReceiptsConfig holds the ingestion run settings
type ReceiptsConfig struct {
	Root           string `validate:"required"`
	LogsRoot       string `validate:"required"`
	OwnerID        string `validate:"omitempty,uuid"`
	DryRun         bool
	NoDB           bool
	NoMove         bool
	NoJSON         bool
	BatchSize      int           `validate:"gte=0"`
	ParseAttempts  int           `validate:"gte=1"`
	LockStaleAfter time.Duration `validate:"gte=0"`
}

// DBWritesEnabled reports whether parsed receipts are persisted.
func (r ReceiptsConfig) DBWritesEnabled() bool {
	return !r.DryRun && !r.NoDB
}

// MovesEnabled reports whether files are routed out of the inbox.
func (r ReceiptsConfig) MovesEnabled() bool {
	return !r.DryRun && !r.NoMove
}

// ArtifactsEnabled reports whether audit artifacts are written.
// Dry runs always leave an artifact.
func (r ReceiptsConfig) ArtifactsEnabled() bool {
	return r.DryRun || !r.NoJSON
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string `validate:"oneof=postgres sqlite"`
	DSN              string
	MaxConns         int32 `validate:"gte=0"`
	MinConns         int32 `validate:"gte=0"`
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	TesseractLang    string
	HeicConverter    string `validate:"omitempty,oneof=heif-convert magick sips"`
	TessdataDir      string
	ArtifactCacheDir string
}

// ArchiveConfig holds the optional S3-compatible archive
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether archive uploads are configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

// WatchConfig holds settings for the long-running watch mode
type WatchConfig struct {
	Debounce       time.Duration
	RescanInterval time.Duration
	HealthAddr     string
}

// LogConfig holds logger settings
type LogConfig struct {
	Format string `validate:"oneof=text json"`
	Level  string `validate:"oneof=debug info warn error"`
}

// LoadConfig loads configuration from environment variables, overlaid by
// the YAML file at path when path is non-empty. YAML keys use the
// environment variable names.
func LoadConfig(path string) (*Config, error) {
	src := source{}
	if path != "" {
		overlay, err := readOverlay(path)
		if err != nil {
			return nil, err
		}
		src = overlay
	}

	root := src.getEnv("RECEIPTS_ROOT", "~/Dropbox/bonuri")
	cfg := &Config{
		Receipts: ReceiptsConfig{
			Root:           root,
			LogsRoot:       src.getEnv("LOGS_ROOT", ""),
			OwnerID:        src.firstOf("OWNER_ID", "SUPABASE_OWNER_ID", "RECEIPTS_OWNER_ID"),
			BatchSize:      src.getEnvAsInt("BATCH_SIZE", 0),
			ParseAttempts:  src.getEnvAsInt("PARSE_ATTEMPTS", 3),
			LockStaleAfter: src.getEnvAsDuration("LOCK_STALE_AFTER", 2*time.Hour),
		},
		Database: DatabaseConfig{
			Driver:           src.getEnv("DB_DRIVER", "postgres"),
			DSN:              src.getEnv("DB_URL", ""),
			MaxConns:         src.getEnvAsInt32("DB_MAX_CONNS", 4),
			MinConns:         src.getEnvAsInt32("DB_MIN_CONNS", 0),
			MaxConnLifetime:  src.getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  src.getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      src.getEnvAsDuration("DB_DIAL_TIMEOUT", 5*time.Second),
			StatementTimeout: src.getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		OCR: OCRConfig{
			TesseractLang:    src.getEnv("TESSERACT_LANG", "ron+eng"),
			HeicConverter:    src.getEnv("HEIC_CONVERTER", "magick"),
			TessdataDir:      src.getEnv("TESSDATA_PREFIX", ""),
			ArtifactCacheDir: src.getEnv("ARTIFACT_CACHE_DIR", ""),
		},
		Archive: ArchiveConfig{
			Endpoint:  src.getEnv("ARCHIVE_S3_ENDPOINT", ""),
			AccessKey: src.getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretKey: src.getEnv("ARCHIVE_S3_SECRET_KEY", ""),
			Bucket:    src.getEnv("ARCHIVE_S3_BUCKET", ""),
			Region:    src.getEnv("ARCHIVE_S3_REGION", ""),
			UseSSL:    src.getEnvAsBool("ARCHIVE_S3_USE_SSL", true),
		},
		Watch: WatchConfig{
			Debounce:       src.getEnvAsDuration("WATCH_DEBOUNCE", 2*time.Second),
			RescanInterval: src.getEnvAsDuration("WATCH_RESCAN_INTERVAL", 15*time.Minute),
			HealthAddr:     src.getEnv("HEALTH_ADDR", ""),
		},
		Log: LogConfig{
			Format: src.getEnv("LOG_FORMAT", "text"),
			Level:  src.getEnv("LOG_LEVEL", "info"),
		},
	}
	cfg.SetRoot(root)
	if v := cfg.Receipts.LogsRoot; v != "" {
		cfg.Receipts.LogsRoot = ExpandPath(v)
	}
	if cfg.OCR.ArtifactCacheDir != "" {
		cfg.OCR.ArtifactCacheDir = ExpandPath(cfg.OCR.ArtifactCacheDir)
	}
	return cfg, nil
}

// SetRoot replaces the receipts root and re-derives the default log and
// cache directories from it unless they were set explicitly.
func (c *Config) SetRoot(root string) {
	prev := c.Receipts.Root
	c.Receipts.Root = ExpandPath(root)
	derivedLogs := filepath.Join(ExpandPath(prev), "_logs", "receipts_worker")
	if c.Receipts.LogsRoot == "" || c.Receipts.LogsRoot == derivedLogs {
		c.Receipts.LogsRoot = filepath.Join(c.Receipts.Root, "_logs", "receipts_worker")
	}
	derivedCache := filepath.Join(ExpandPath(prev), "_cache")
	if c.OCR.ArtifactCacheDir == "" || c.OCR.ArtifactCacheDir == derivedCache {
		c.OCR.ArtifactCacheDir = filepath.Join(c.Receipts.Root, "_cache")
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return err
	}
	if c.Receipts.DBWritesEnabled() {
		if c.Receipts.OwnerID == "" {
			return NewAppError("CONFIG_ERROR", "OWNER_ID is required when database writes are enabled", ErrInvalidInput)
		}
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required when database writes are enabled", ErrInvalidInput)
		}
	}
	if c.Archive.Endpoint != "" && c.Archive.Bucket == "" {
		return NewAppError("CONFIG_ERROR", "ARCHIVE_S3_BUCKET is required with ARCHIVE_S3_ENDPOINT", ErrInvalidInput)
	}
	return nil
}

// CheckRoot verifies the receipts root exists and is a directory.
func (c *Config) CheckRoot() error {
	st, err := os.Stat(c.Receipts.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRootMissing, c.Receipts.Root)
		}
		return fmt.Errorf("stat receipts root: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootMissing, c.Receipts.Root)
	}
	return nil
}

// ExpandPath expands ~ and environment variables and makes p absolute.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p
}

// source resolves keys from the YAML overlay first, then the environment.
type source map[string]string

func readOverlay(path string) (source, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	out := source{}
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func (s source) lookup(key string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return os.Getenv(key)
}

// Helper functions for environment variable parsing
func (s source) getEnv(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) firstOf(keys ...string) string {
	for _, k := range keys {
		if v := s.lookup(k); v != "" {
			return v
		}
	}
	return ""
}

func (s source) getEnvAsInt(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func (s source) getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := s.lookup(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func (s source) getEnvAsBool(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (s source) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
