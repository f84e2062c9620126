package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/ingest"
	"github.com/joseph-ayodele/receipts-worker/internal/status"
)

// RunnerOptions bound a store pass.
type RunnerOptions struct {
	BatchSize      int // 0 = no cap
	LockStaleAfter time.Duration
}

// Runner drives store passes: lock, list, process, report.
type Runner struct {
	layout    ingest.Layout
	processor *Processor
	sink      status.Sink
	opts      RunnerOptions
	logger    *slog.Logger
}

// NewRunner wires a runner. sink may be nil.
func NewRunner(layout ingest.Layout, processor *Processor, sink status.Sink, opts RunnerOptions, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		layout:    layout,
		processor: processor,
		sink:      sink,
		opts:      opts,
		logger:    logger,
	}
}

// StoreRun is the outcome of one store pass.
type StoreRun struct {
	Store   string
	Metrics RunMetrics
	Files   []FileResult
	Err     error
}

// Report is the outcome of a whole invocation.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Stores    []StoreRun
}

// ExitCode is 1 when any file failed or any store pass errored.
func (r Report) ExitCode() int {
	for _, s := range r.Stores {
		if s.Err != nil || s.Metrics.Failed > 0 {
			return 1
		}
	}
	return 0
}

// Totals sums the metrics of every store.
func (r Report) Totals() RunMetrics {
	var total RunMetrics
	for _, s := range r.Stores {
		total.Merge(s.Metrics)
	}
	return total
}

// Run processes the given stores one after another.
func (r *Runner) Run(ctx context.Context, stores []string) Report {
	ctx, runID := common.NewRunContext(ctx)
	report := Report{RunID: runID, StartedAt: time.Now()}
	r.logger.Info("runner.start", "run_id", runID, "stores", stores)

	for _, store := range stores {
		if ctx.Err() != nil {
			r.logger.Warn("runner.interrupted", "run_id", runID, "error", ctx.Err())
			break
		}
		report.Stores = append(report.Stores, r.RunStore(ctx, store))
	}

	report.Duration = time.Since(report.StartedAt)
	r.logger.Info("runner.done", "run_id", runID, "duration_ms", report.Duration.Milliseconds(), "exit_code", report.ExitCode())
	return report
}

// RunStore performs one pass over a store inbox. Store-level failures
// (missing root, held lock, unreadable inbox) end up in StoreRun.Err.
func (r *Runner) RunStore(ctx context.Context, store string) StoreRun {
	log := r.logger.With("store", store, "run_id", common.RunIDFromContext(ctx))
	run := StoreRun{Store: store, Metrics: RunMetrics{Store: store}}
	started := time.Now()

	run.Err = r.pass(ctx, store, &run, log)
	run.Metrics.Duration = time.Since(started)

	if run.Err != nil {
		log.Error("runner.store.failed", "error", run.Err)
	}
	log.Info("runner.metrics", run.Metrics.LogAttrs()...)
	r.report(ctx, run, log)
	return run
}

func (r *Runner) pass(ctx context.Context, store string, run *StoreRun, log *slog.Logger) error {
	if err := r.layout.EnsureStoreDirs(store); err != nil {
		return err
	}
	lock, err := ingest.AcquireLock(r.layout.Locks(), store, r.opts.LockStaleAfter, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("runner.lock.release_failed", "path", lock.Path(), "error", err)
		}
	}()
	stop := lock.KeepAlive(ctx, r.opts.LockStaleAfter/4, log)
	defer stop()

	files, err := ingest.ListInbox(r.layout.Inbox(store))
	if err != nil {
		return fmt.Errorf("list inbox: %w", err)
	}
	if r.opts.BatchSize > 0 && len(files) > r.opts.BatchSize {
		run.Metrics.Remaining = len(files) - r.opts.BatchSize
		files = files[:r.opts.BatchSize]
	}
	log.Info("runner.store.start", "files", len(files), "remaining", run.Metrics.Remaining)

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			run.Metrics.Remaining += len(files) - i
			return fmt.Errorf("store pass interrupted: %w", err)
		}
		res := r.processor.ProcessFile(ctx, store, path)
		run.Files = append(run.Files, res)
		run.Metrics.Add(res)
	}
	return nil
}

func (r *Runner) report(ctx context.Context, run StoreRun, log *slog.Logger) {
	if r.sink == nil {
		return
	}
	rep := status.StoreReport{
		Store:       run.Store,
		Status:      run.Metrics.AppStatus(run.Err),
		RunAt:       time.Now().UTC(),
		Description: run.Metrics.Description(),
		LastError:   lastError(run),
	}
	// the sink is still told about interrupted passes
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := r.sink.Report(ctx, rep); err != nil {
		log.Error("runner.status.failed", "error", err)
	}
}

func lastError(run StoreRun) string {
	if run.Err != nil {
		return run.Err.Error()
	}
	for i := len(run.Files) - 1; i >= 0; i-- {
		f := run.Files[i]
		if f.Outcome == constants.OutcomeFailed {
			return f.File + ": " + f.Message
		}
	}
	return ""
}
