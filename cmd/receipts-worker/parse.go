package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-worker/internal/ingest"
	"github.com/joseph-ayodele/receipts-worker/internal/parser"
)

// newParseCmd runs extraction and a store parser on files outside the
// inbox. Nothing is persisted or moved.
func newParseCmd(rf *rootFlags) *cobra.Command {
	var (
		store    string
		textOnly bool
	)
	cmd := &cobra.Command{
		Use:   "parse <file>...",
		Short: "Parse receipt files and print the canonical JSON without touching the inbox",
		Example: `  receipts-worker parse --store lidl ~/Downloads/IMG_2231.jpg
  receipts-worker parse --text scan.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(rf, noWrites)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if textOnly {
				extractor := newExtractor(cfg, a.logger)
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					res, err := extractor.ExtractBytes(ctx, filepath.Base(path), data, ingest.Fingerprint(data))
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					a.logger.Info("parse.text.ok", "file", path, "method", res.Method, "pages", res.Pages,
						"bytes", len(res.Text), "duration_ms", res.Duration.Milliseconds())
					_, _ = fmt.Fprintln(w, res.Text)
				}
				return nil
			}

			p, err := a.parsers.Get(store)
			if err != nil {
				return err
			}
			failed := false
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				start := time.Now()
				rec, err := p.Parse(ctx, parser.Input{
					Store:    store,
					FileName: filepath.Base(path),
					RelBase:  "adhoc",
					Data:     data,
					Hash:     ingest.Fingerprint(data),
				})
				if err == nil && rec != nil {
					rec.Normalize()
					err = parser.Validate(rec)
				}
				if err != nil {
					failed = true
					_, _ = fmt.Fprintf(w, "%s %s: %v\n", failColor.Sprint("x"), path, err)
					pe, ok := parser.AsParseError(err)
					if !ok || pe.Partial == nil {
						continue
					}
					rec = pe.Partial
				}
				a.logger.Debug("parse.file.done", "file", path, "duration_ms", time.Since(start).Milliseconds())
				out, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(w, string(out))
			}
			if failed {
				return exitCodeError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "lidl", "store parser to use")
	cmd.Flags().BoolVar(&textOnly, "text", false, "print the extracted text only")
	return cmd
}
