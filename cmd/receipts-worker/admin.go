package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-worker/internal/common"
	repo "github.com/joseph-ayodele/receipts-worker/internal/repository"
	"github.com/joseph-ayodele/receipts-worker/internal/status"
)

// noWrites lets admin commands load config without OWNER_ID.
func noWrites(c *common.Config) { c.Receipts.NoDB = true }

func newStoresCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List the registered store ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf, noWrites)
			if err != nil {
				return err
			}
			reg, err := newRegistry(cfg, nil)
			if err != nil {
				return err
			}
			for _, s := range reg.Stores() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}

func newMigrateCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the receipts, receipt_items and apps tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(rf, noWrites)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, appOptions{needDB: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.Migrate(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s schema applied (%s)\n", okColor.Sprint("OK"), a.db.Dialect())
			return nil
		},
	}
}

func newDBHealthCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dbhealth",
		Short: "Check database connectivity and show the last status of every store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(rf, noWrites)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, appOptions{needDB: true})
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "DB health: %s (%s)\n", okColor.Sprint("OK"), a.db.Dialect())

			apps := repo.NewAppStatusRepository(a.db, a.logger)
			for _, store := range a.parsers.Stores() {
				slug := status.AppSlug(store)
				row, err := apps.Get(ctx, slug)
				if errors.Is(err, common.ErrNotFound) {
					_, _ = fmt.Fprintf(w, "- %-16s %s\n", slug, dimColor.Sprint("(never run)"))
					continue
				}
				if err != nil {
					return err
				}
				last := "-"
				if row.LastRunAt != nil {
					last = row.LastRunAt.Local().Format("2006-01-02 15:04")
				}
				_, _ = fmt.Fprintf(w, "- %-16s %-5s last=%s %s\n", slug, statusColor(row.Status).Sprint(row.Status), last, deref(row.Description))
				if row.LastError != nil && *row.LastError != "" {
					_, _ = fmt.Fprintf(w, "  %s\n", failColor.Sprint(*row.LastError))
				}
			}
			return nil
		},
	}
}
