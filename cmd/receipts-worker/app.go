package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-worker/internal/archive"
	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/ingest"
	"github.com/joseph-ayodele/receipts-worker/internal/ocr"
	"github.com/joseph-ayodele/receipts-worker/internal/parser"
	"github.com/joseph-ayodele/receipts-worker/internal/parser/lidl"
	"github.com/joseph-ayodele/receipts-worker/internal/pipeline"
	repo "github.com/joseph-ayodele/receipts-worker/internal/repository"
	"github.com/joseph-ayodele/receipts-worker/internal/status"
)

// runFlags select stores and side effects for run and watch.
type runFlags struct {
	stores    []string
	all       bool
	dryRun    bool
	noDB      bool
	noMove    bool
	noJSON    bool
	batchSize int
	ownerID   string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.stores, "store", nil, "store id to process (repeatable)")
	cmd.Flags().BoolVar(&f.all, "all", false, "process every registered store")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "parse and write artifacts only: no DB writes, no moves")
	cmd.Flags().BoolVar(&f.noDB, "no-db", false, "skip database writes")
	cmd.Flags().BoolVar(&f.noMove, "no-move", false, "leave files in the inbox")
	cmd.Flags().BoolVar(&f.noJSON, "no-json", false, "skip audit artifacts")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", -1, "max files per store per pass (0 = no limit)")
	cmd.Flags().StringVar(&f.ownerID, "owner", "", "owner id (default $OWNER_ID)")
}

func (f *runFlags) apply(cfg *common.Config) {
	r := &cfg.Receipts
	r.DryRun = r.DryRun || f.dryRun
	r.NoDB = r.NoDB || f.noDB
	r.NoMove = r.NoMove || f.noMove
	r.NoJSON = r.NoJSON || f.noJSON
	if f.batchSize >= 0 {
		r.BatchSize = f.batchSize
	}
	if f.ownerID != "" {
		r.OwnerID = f.ownerID
	}
}

// loadConfig builds the config from env, the YAML overlay and flags, in
// that order of increasing precedence.
func loadConfig(rf *rootFlags, apply func(*common.Config)) (*common.Config, error) {
	cfg, err := common.LoadConfig(rf.configPath)
	if err != nil {
		return nil, err
	}
	if rf.root != "" {
		cfg.SetRoot(rf.root)
	}
	if rf.logLevel != "" {
		cfg.Log.Level = rf.logLevel
	}
	if rf.logFormat != "" {
		cfg.Log.Format = rf.logFormat
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the long-lived pieces a command needs.
type app struct {
	cfg     *common.Config
	logger  *slog.Logger
	layout  ingest.Layout
	parsers *parser.Registry
	db      *repo.DB
	closers []io.Closer
}

type appOptions struct {
	fileLog bool // append to the daily log under LogsRoot
	needDB  bool
}

func newApp(ctx context.Context, cfg *common.Config, opts appOptions) (*app, error) {
	logsRoot := ""
	if opts.fileLog {
		logsRoot = cfg.Receipts.LogsRoot
	}
	logger, logCloser, err := common.NewLogger(cfg.Log, logsRoot, time.Now())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		layout:  ingest.NewLayout(cfg.Receipts.Root),
		closers: []io.Closer{logCloser},
	}
	a.parsers, err = newRegistry(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	if opts.needDB {
		if cfg.Database.DSN == "" {
			a.Close()
			return nil, common.NewAppError("CONFIG_ERROR", "DB_URL is required", common.ErrInvalidInput)
		}
		db, err := repo.Open(ctx, cfg.Database, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		a.closers = append([]io.Closer{db}, a.closers...)
		if err := db.HealthCheck(ctx, 5*time.Second); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Close releases the database and the log file.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("app.close.failed", "error", err)
		}
	}
	a.closers = nil
}

// newExtractor builds the OCR extractor shared by all store parsers.
func newExtractor(cfg *common.Config, logger *slog.Logger) *ocr.Extractor {
	return ocr.NewExtractor(ocr.Config{
		TesseractLang:    cfg.OCR.TesseractLang,
		TessdataDir:      cfg.OCR.TessdataDir,
		HeicConverter:    cfg.OCR.HeicConverter,
		ArtifactCacheDir: cfg.OCR.ArtifactCacheDir,
		PSM:              4,
	}, logger)
}

// newRegistry registers every store parser this build knows about.
func newRegistry(cfg *common.Config, logger *slog.Logger) (*parser.Registry, error) {
	extractor := newExtractor(cfg, logger)

	reg := parser.NewRegistry()
	if err := reg.Register(lidl.StoreID, lidl.New(extractor, logger)); err != nil {
		return nil, err
	}
	return reg, nil
}

// newRunner wires processor, persistence, archive and status sinks.
// extra sinks are reported to in addition to the apps table.
func (a *app) newRunner(ctx context.Context, extra ...status.Sink) (*pipeline.Runner, error) {
	opts, err := pipeline.OptionsFromConfig(a.cfg.Receipts)
	if err != nil {
		return nil, err
	}

	var (
		store pipeline.ReceiptStore
		sinks status.MultiSink
	)
	if a.db != nil && opts.DBWrites {
		store = repo.NewReceiptRepository(a.db, a.logger)
		sinks = append(sinks, status.NewDBSink(repo.NewAppStatusRepository(a.db, a.logger), a.logger))
	}
	sinks = append(sinks, extra...)

	var archiver pipeline.Archiver
	if a.cfg.Archive.Enabled() && !opts.DryRun {
		s3, err := archive.NewS3Archive(a.cfg.Archive, a.logger)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("archive bucket: %w", err)
		}
		archiver = s3
	}

	proc := pipeline.NewProcessor(a.layout, a.parsers, store, archiver, opts, a.logger)
	a.logger.Info("runner.config",
		"root", a.cfg.Receipts.Root,
		"db_writes", opts.DBWrites,
		"moves", opts.Moves,
		"artifacts", opts.Artifacts,
		"dry_run", opts.DryRun,
		"archive", archiver != nil,
		"batch_size", a.cfg.Receipts.BatchSize,
	)
	return pipeline.NewRunner(a.layout, proc, sinks, pipeline.RunnerOptions{
		BatchSize:      a.cfg.Receipts.BatchSize,
		LockStaleAfter: a.cfg.Receipts.LockStaleAfter,
	}, a.logger), nil
}

// isConfigError reports errors the user fixes with flags or env.
func isConfigError(err error) bool {
	return errors.Is(err, common.ErrInvalidInput) || errors.Is(err, common.ErrUnknownStore) || errors.Is(err, common.ErrValidation)
}
