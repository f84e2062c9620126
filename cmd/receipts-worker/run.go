package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/pipeline"
)

func newRunCmd(rf *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every inbox file of the selected stores once",
		Example: `  receipts-worker run --store lidl
  receipts-worker run --all --dry-run
  receipts-worker run --all --batch-size 10 --no-move`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(rf, flags.apply)
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
			runner, err := a.newRunner(ctx)
			if err != nil {
				return err
			}

			report := runner.Run(ctx, stores)
			printReport(cmd.OutOrStdout(), report, cfg.Receipts)
			if code := report.ExitCode(); code != 0 {
				return exitCodeError{code: code}
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// printReport writes one summary line per store plus the failed files.
func printReport(w io.Writer, report pipeline.Report, rc common.ReceiptsConfig) {
	mode := ""
	switch {
	case rc.DryRun:
		mode = " (dry run)"
	case rc.NoDB && rc.NoMove:
		mode = " (no db, no move)"
	case rc.NoDB:
		mode = " (no db)"
	case rc.NoMove:
		mode = " (no move)"
	}

	for _, s := range report.Stores {
		m := s.Metrics
		st := m.AppStatus(s.Err)
		label := statusColor(st).Sprintf("%-4s", strings.ToUpper(string(st)))
		_, _ = fmt.Fprintf(w, "%s %-10s seen=%d ok=%d warn=%d fail=%d dup=%d items=%d total=%.2f discount=%.2f %s%s\n",
			label, s.Store, m.Seen, m.OK, m.Warn, m.Failed, m.Duplicates, m.Items, m.TotalValue, m.TotalDiscount,
			dimColor.Sprint(m.Duration.Round(time.Millisecond)), mode)
		if m.Remaining > 0 {
			_, _ = fmt.Fprintf(w, "     %s\n", dimColor.Sprintf("%d file(s) left for the next pass", m.Remaining))
		}
		if s.Err != nil {
			_, _ = fmt.Fprintf(w, "     %s\n", failColor.Sprint(s.Err.Error()))
		}
		for _, f := range s.Files {
			if f.Outcome.Succeeded() {
				continue
			}
			_, _ = fmt.Fprintf(w, "     %s %s [%s] %s\n", failColor.Sprint("x"), f.File, f.ErrorKind, f.Message)
		}
	}
}

func statusColor(s constants.AppStatus) *color.Color {
	switch s {
	case constants.AppStatusFail:
		return failColor
	case constants.AppStatusWarn:
		return warnColor
	default:
		return okColor
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
