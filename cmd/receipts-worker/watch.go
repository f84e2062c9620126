package main

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health"

	"github.com/joseph-ayodele/receipts-worker/internal/async"
	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/ingest"
	"github.com/joseph-ayodele/receipts-worker/internal/pipeline"
	"github.com/joseph-ayodele/receipts-worker/internal/status"
)

func newWatchCmd(rf *rootFlags) *cobra.Command {
	flags := &runFlags{}
	var (
		healthAddr string
		debounce   time.Duration
		rescan     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process inboxes continuously as files arrive",
		Long: `watch runs a pass for each selected store at start, then again whenever
files land in a store inbox (debounced) and on a periodic rescan. It stops on
SIGINT or SIGTERM after the running passes finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(rf, func(c *common.Config) {
				flags.apply(c)
				if healthAddr != "" {
					c.Watch.HealthAddr = healthAddr
				}
				if debounce > 0 {
					c.Watch.Debounce = debounce
				}
				if rescan >= 0 {
					c.Watch.RescanInterval = rescan
				}
			})
			if err != nil {
				return err
			}
			if err := cfg.CheckRoot(); err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, appOptions{fileLog: true, needDB: cfg.Receipts.DBWritesEnabled()})
			if err != nil {
				return err
			}
			defer a.Close()

			stores, err := a.parsers.Select(flags.stores, flags.all)
			if err != nil {
				return err
			}
			for _, s := range stores {
				if err := a.layout.EnsureStoreDirs(s); err != nil {
					return err
				}
			}
			return watch(ctx, cmd, a, stores)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "serve gRPC health on this address, e.g. :8081 (default $HEALTH_ADDR)")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before a changed inbox is processed (default $WATCH_DEBOUNCE)")
	cmd.Flags().DurationVar(&rescan, "rescan", -1, "periodic full rescan, 0 disables (default $WATCH_RESCAN_INTERVAL)")
	return cmd
}

func watch(ctx context.Context, cmd *cobra.Command, a *app, stores []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := a.logger
	var (
		extra []status.Sink
		wg    sync.WaitGroup
	)
	if addr := a.cfg.Watch.HealthAddr; addr != "" {
		hs := health.NewServer()
		sink := status.NewHealthSink(hs)
		sink.Register(stores...)
		extra = append(extra, sink)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := status.ServeHealth(ctx, addr, hs, logger); err != nil {
				logger.Error("health.serve.failed", "addr", addr, "error", err)
			}
		}()
	}

	runner, err := a.newRunner(ctx, extra...)
	if err != nil {
		return err
	}

	var outMu sync.Mutex
	queue := async.NewStoreQueue(ctx, func(ctx context.Context, store string) {
		ctx, _ = common.NewRunContext(ctx)
		run := runner.RunStore(ctx, store)
		outMu.Lock()
		printReport(cmd.OutOrStdout(), pipeline.Report{Stores: []pipeline.StoreRun{run}}, a.cfg.Receipts)
		outMu.Unlock()
	}, logger, async.WithWorkers(len(stores)))

	enqueue := func(store, reason string) {
		if err := queue.Enqueue(ctx, async.Job{Store: store, Reason: reason, SubmittedAt: time.Now()}); err != nil {
			logger.Warn("watch.enqueue.failed", "store", store, "reason", reason, "error", err)
		}
	}
	for _, s := range stores {
		enqueue(s, "startup")
	}

	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Layout:   a.layout,
		Stores:   stores,
		Debounce: a.cfg.Watch.Debounce,
		Logger:   logger,
	})
	if err != nil {
		queue.Shutdown(context.Background())
		return err
	}

	var tick <-chan time.Time
	if every := a.cfg.Watch.RescanInterval; every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}
	logger.Info("watch.started", "stores", stores, "debounce", a.cfg.Watch.Debounce.String(), "rescan", a.cfg.Watch.RescanInterval.String())

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case store, ok := <-events:
			if !ok {
				break loop
			}
			enqueue(store, "fs")
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Error("watch.error", "error", err)
		case <-tick:
			for _, s := range stores {
				enqueue(s, "rescan")
			}
		}
	}

	logger.Info("watch.stopping")
	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Minute)
	defer stop()
	queue.Shutdown(shutdownCtx)
	cancel()
	wg.Wait()
	return nil
}
