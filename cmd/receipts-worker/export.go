package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/export"
	repo "github.com/joseph-ayodele/receipts-worker/internal/repository"
)

func newExportCmd(rf *rootFlags) *cobra.Command {
	var (
		out     string
		fromStr string
		toStr   string
		ownerID string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored receipts and items to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := parseDay("--from", fromStr)
			if err != nil {
				return err
			}
			to, err := parseDay("--to", toStr)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(rf, func(c *common.Config) {
				if ownerID != "" {
					c.Receipts.OwnerID = ownerID
				}
			})
			if err != nil {
				return err
			}
			owner, err := uuid.Parse(cfg.Receipts.OwnerID)
			if err != nil {
				return common.NewAppError("CONFIG_ERROR", "a valid OWNER_ID is required for export", common.ErrInvalidInput)
			}

			a, err := newApp(ctx, cfg, appOptions{needDB: true})
			if err != nil {
				return err
			}
			defer a.Close()

			// If output file not specified, write next to the receipts root
			if out == "" {
				out = filepath.Join(cfg.Receipts.Root, "receipts.xlsx")
			}

			svc := export.NewService(repo.NewReceiptRepository(a.db, a.logger), a.logger)
			data, err := svc.ExportXLSX(ctx, owner, from, to)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okColor.Sprint("wrote"), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output XLSX path (default <root>/receipts.xlsx)")
	cmd.Flags().StringVar(&fromStr, "from", "", "from date YYYY-MM-DD")
	cmd.Flags().StringVar(&toStr, "to", "", "to date YYYY-MM-DD")
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner id (default $OWNER_ID)")
	return cmd
}

func parseDay(flag, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("invalid %s date %q, use YYYY-MM-DD", flag, v), common.ErrInvalidInput)
	}
	return &t, nil
}
