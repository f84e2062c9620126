// Package pipeline runs inbox files through READ, FINGERPRINT, PARSE,
// PERSIST, ROUTE and AUDIT, and drives store passes over the receipts root.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/entity"
	"github.com/joseph-ayodele/receipts-worker/internal/ingest"
	"github.com/joseph-ayodele/receipts-worker/internal/parser"
	"github.com/joseph-ayodele/receipts-worker/internal/repository"
)

// ReceiptStore is the part of the repository the processor writes through.
type ReceiptStore interface {
	Insert(ctx context.Context, rec *entity.Receipt) (repository.InsertResult, error)
	FoodHints(ctx context.Context, ownerID uuid.UUID, names []string) (map[string]entity.FoodHint, error)
}

// Archiver copies a routed file somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, store string, at time.Time, localPath string) error
}

// Options control which side effects a run performs.
type Options struct {
	OwnerID       uuid.UUID
	DryRun        bool
	DBWrites      bool
	Moves         bool
	Artifacts     bool
	ParseAttempts int
	RetryDelay    time.Duration
}

// OptionsFromConfig derives processor options from the receipts config.
func OptionsFromConfig(cfg common.ReceiptsConfig) (Options, error) {
	opts := Options{
		DryRun:        cfg.DryRun,
		DBWrites:      cfg.DBWritesEnabled(),
		Moves:         cfg.MovesEnabled(),
		Artifacts:     cfg.ArtifactsEnabled(),
		ParseAttempts: cfg.ParseAttempts,
		RetryDelay:    500 * time.Millisecond,
	}
	if cfg.OwnerID != "" {
		id, err := uuid.Parse(cfg.OwnerID)
		if err != nil {
			return Options{}, fmt.Errorf("%w: owner id: %v", common.ErrInvalidInput, err)
		}
		opts.OwnerID = id
	}
	if opts.DBWrites && opts.OwnerID == uuid.Nil {
		return Options{}, fmt.Errorf("%w: owner id is required when DB writes are enabled", common.ErrInvalidInput)
	}
	if opts.ParseAttempts <= 0 {
		opts.ParseAttempts = 1
	}
	return opts, nil
}

// FileResult is the terminal record of one file in a run.
type FileResult struct {
	Store        string
	File         string
	SourcePath   string
	FinalPath    string
	ArtifactPath string
	Hash         string
	Status       constants.ProcessingStatus
	Outcome      constants.Outcome
	Disposition  constants.Disposition
	ErrorKind    constants.ErrorKind
	Message      string
	Items        int
	Total        float64
	Discount     float64
	Duplicate    bool
	Warnings     int
	Duration     time.Duration
}

// Processor handles single files. It never returns an error: every
// failure ends as a FAILED result.
type Processor struct {
	layout   ingest.Layout
	parsers  *parser.Registry
	store    ReceiptStore
	archiver Archiver
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor wires a processor. store and archiver may be nil.
func NewProcessor(layout ingest.Layout, parsers *parser.Registry, store ReceiptStore, archiver Archiver, opts Options, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ParseAttempts <= 0 {
		opts.ParseAttempts = 1
	}
	return &Processor{
		layout:   layout,
		parsers:  parsers,
		store:    store,
		archiver: archiver,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessFile runs one inbox file through the pipeline.
func (p *Processor) ProcessFile(ctx context.Context, store, path string) (res FileResult) {
	started := time.Now()
	res = FileResult{
		Store:       store,
		File:        filepath.Base(path),
		SourcePath:  path,
		FinalPath:   path,
		Disposition: constants.DispositionInbox,
	}
	log := p.logger.With("store", store, "file", res.File)
	defer func() {
		res.Duration = time.Since(started)
	}()

	// READ
	data, err := os.ReadFile(path)
	if err != nil {
		return p.fail(ctx, log, res, common.NewFileError(constants.ErrorKindRead, err), nil)
	}

	// FINGERPRINT
	res.Hash = ingest.Fingerprint(data)
	log = log.With("hash", shortHash(res.Hash))

	// PARSE
	rec, err := p.parse(ctx, store, path, data, res.Hash, log)
	if err != nil {
		var partial *entity.Receipt
		if pe, ok := parser.AsParseError(err); ok {
			partial = pe.Partial
		}
		return p.fail(ctx, log, res, common.NewFileError(constants.ErrorKindParse, err), partial)
	}
	rec.OwnerID = p.opts.OwnerID
	rec.SourceHash = res.Hash
	rec.Normalize()
	p.enrich(ctx, rec, log)
	if err := parser.Validate(rec); err != nil {
		return p.fail(ctx, log, res, common.NewFileError(constants.ErrorKindSchema, err), rec)
	}

	// PERSIST
	if p.opts.DBWrites && p.store != nil {
		ins, err := p.store.Insert(ctx, rec)
		if err != nil {
			log.Error("pipeline.persist.failed", "error", err)
			return p.fail(ctx, log, res, common.NewFileError(constants.ErrorKindPersist, err), rec)
		}
		res.Duplicate = ins.Duplicate
		switch {
		case ins.Duplicate && totalsDiffer(ins.ExistingTotal, rec.Total):
			detail := fmt.Sprintf("stored total %.2f, parsed total %.2f", *ins.ExistingTotal, rec.TotalValue())
			rec.AddWarning(constants.WarnDuplicateContentMismatch, detail)
			log.Warn("pipeline.persist.duplicate_mismatch", "receipt_id", ins.ID, "detail", detail)
		case ins.Duplicate:
			log.Info("pipeline.persist.duplicate", "receipt_id", ins.ID)
		default:
			log.Info("pipeline.persist.ok", "receipt_id", ins.ID, "items", ins.Items)
		}
	}

	res.Status = rec.Processing.Status
	res.Outcome = constants.OutcomeProcessedOK
	if rec.HasWarnings() {
		res.Outcome = constants.OutcomeProcessedWarn
	}

	// ROUTE
	if p.opts.Moves {
		dst, err := ingest.MoveNoClobber(path, p.layout.Processed(store))
		if err != nil {
			return p.fail(ctx, log, res, common.NewFileError(constants.ErrorKindRoute, err), rec)
		}
		res.FinalPath = dst
		res.Disposition = constants.DispositionProcessed
		p.clearInbox(log, path)
	}

	// AUDIT
	p.audit(log, &res, rec)
	if res.Disposition == constants.DispositionProcessed && p.archiver != nil && !p.opts.DryRun {
		if err := p.archive(ctx, store, rec, &res); err != nil {
			rec.AddWarning(constants.WarnArchiveFailed, err.Error())
			log.Warn("pipeline.archive.failed", "error", err)
			// rewrite so the artifact carries the warning
			p.audit(log, &res, rec)
		}
	}

	res.Items = len(rec.Items)
	res.Total = rec.TotalValue()
	res.Discount = rec.DiscountTotal
	res.Warnings = len(rec.Processing.Warnings)
	log.Info("pipeline.file.done",
		"outcome", res.Outcome,
		"disposition", res.Disposition,
		"items", res.Items,
		"total", res.Total,
		"warnings", res.Warnings,
		"duplicate", res.Duplicate,
	)
	return res
}

func (p *Processor) parse(ctx context.Context, store, path string, data []byte, hash string, log *slog.Logger) (*entity.Receipt, error) {
	prs, err := p.parsers.Get(store)
	if err != nil {
		return nil, err
	}
	in := parser.Input{
		Store:    store,
		FileName: filepath.Base(path),
		RelBase:  "inbox",
		Data:     data,
		Hash:     hash,
	}
	rec, err := parser.ParseWithRetry(ctx, prs, in, p.opts.ParseAttempts, p.opts.RetryDelay, log)
	if err != nil {
		return rec, err
	}
	if rec == nil {
		return nil, errors.New("parser returned no receipt")
	}
	return rec, nil
}

// enrich fills food fields from what the owner stored before.
func (p *Processor) enrich(ctx context.Context, rec *entity.Receipt, log *slog.Logger) {
	if p.store == nil || len(rec.Items) == 0 || rec.OwnerID == uuid.Nil {
		return
	}
	names := make([]string, 0, len(rec.Items))
	for _, it := range rec.Items {
		names = append(names, it.Name)
	}
	hints, err := p.store.FoodHints(ctx, rec.OwnerID, names)
	if err != nil {
		log.Warn("pipeline.hints.failed", "error", err)
		return
	}
	applied := 0
	for i := range rec.Items {
		if h, ok := hints[repository.HintKey(rec.Items[i].Name)]; ok {
			rec.Items[i].ApplyHint(h)
			applied++
		}
	}
	if applied > 0 {
		log.Debug("pipeline.hints.applied", "count", applied)
	}
}

func (p *Processor) archive(ctx context.Context, store string, rec *entity.Receipt, res *FileResult) error {
	at := p.now()
	if rec.Timestamp != nil {
		at = rec.Timestamp.Time
	}
	if err := p.archiver.Archive(ctx, store, at, res.FinalPath); err != nil {
		return err
	}
	if res.ArtifactPath != "" {
		return p.archiver.Archive(ctx, store, at, res.ArtifactPath)
	}
	return nil
}

// fail finishes a file as FAILED. Read and route failures leave the file
// where it is; an interrupted run leaves it untouched for the next pass.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, res FileResult, ferr *common.FileError, data *entity.Receipt) FileResult {
	kind, err := ferr.Kind, ferr.Err
	res.Outcome = constants.OutcomeFailed
	res.Status = constants.StatusFail
	res.ErrorKind = kind
	res.Message = err.Error()
	if data != nil {
		res.Items = len(data.Items)
		res.Total = data.TotalValue()
		res.Discount = data.DiscountTotal
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.Warn("pipeline.file.interrupted", "kind", kind, "error", err)
		return res
	}

	if p.opts.Moves && kind != constants.ErrorKindRead && kind != constants.ErrorKindRoute {
		dst, mvErr := ingest.MoveNoClobber(res.SourcePath, p.layout.Failed(res.Store))
		if mvErr != nil {
			log.Error("pipeline.route.failed", "error", mvErr)
			res.Message = fmt.Sprintf("%s; move to failed: %v", res.Message, mvErr)
		} else {
			res.FinalPath = dst
			res.Disposition = constants.DispositionFailed
			p.clearInbox(log, res.SourcePath)
		}
	}

	if p.opts.Artifacts {
		doc := entity.ErrorArtifact{
			RunnerError: entity.RunnerError{
				Code:    ferr.Code(),
				Kind:    kind,
				Message: res.Message,
				At:      p.now().UTC(),
			},
			Disposition: p.disposition(res),
			Data:        data,
		}
		artifact := ingest.ArtifactPath(res.FinalPath, true)
		if werr := ingest.WriteArtifact(artifact, doc); werr != nil {
			log.Error("pipeline.audit.failed", "path", artifact, "error", werr)
		} else {
			res.ArtifactPath = artifact
		}
	}

	log.Error("pipeline.file.failed",
		"kind", kind,
		"code", ferr.Code(),
		"disposition", res.Disposition,
		"error", err,
	)
	return res
}

func (p *Processor) audit(log *slog.Logger, res *FileResult, rec *entity.Receipt) {
	if !p.opts.Artifacts {
		return
	}
	artifact := ingest.ArtifactPath(res.FinalPath, false)
	doc := entity.RunArtifact{Receipt: rec, Disposition: p.disposition(*res)}
	if err := ingest.WriteArtifact(artifact, doc); err != nil {
		log.Error("pipeline.audit.failed", "path", artifact, "error", err)
		res.ErrorKind = constants.ErrorKindAudit
		res.Message = err.Error()
		return
	}
	res.ArtifactPath = artifact
}

// clearInbox drops artifacts an earlier dry run left beside the source.
func (p *Processor) clearInbox(log *slog.Logger, sourcePath string) {
	if err := ingest.RemoveArtifacts(sourcePath); err != nil {
		log.Warn("pipeline.inbox.cleanup_failed", "error", err)
	}
}

func (p *Processor) disposition(res FileResult) entity.Disposition {
	return entity.Disposition{
		Location:  res.Disposition,
		FileName:  filepath.Base(res.FinalPath),
		Path:      p.layout.RelPath(res.FinalPath),
		Hash:      res.Hash,
		Duplicate: res.Duplicate,
		DryRun:    p.opts.DryRun,
	}
}

func totalsDiffer(stored, parsed *float64) bool {
	if stored == nil || parsed == nil {
		return false
	}
	return entity.RoundMoney(*stored) != entity.RoundMoney(*parsed)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
