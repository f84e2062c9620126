package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// exitCodeError carries a non-zero exit code without an error message.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var ec exitCodeError
		if errors.As(err, &ec) {
			stop()
			os.Exit(ec.code)
		}
		fmt.Fprintf(os.Stderr, "receipts-worker: %v\n", err)
		code := 1
		if isConfigError(err) {
			code = 2
		}
		stop()
		os.Exit(code)
	}
}

// rootFlags are shared by every command.
type rootFlags struct {
	configPath string
	root       string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "receipts-worker",
		Short: "Ingest store receipts from inbox folders into the receipts database",
		Long: `receipts-worker watches per-store inbox folders under the receipts root,
parses every receipt with the store's parser, records it in the database and
routes the source file to processed/ or failed/ next to a JSON audit artifact.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML file overriding environment settings")
	cmd.PersistentFlags().StringVar(&flags.root, "root", "", "receipts root (default $RECEIPTS_ROOT or ~/Dropbox/bonuri)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug | info | warn | error")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "text | json")

	cmd.AddCommand(
		newRunCmd(flags),
		newWatchCmd(flags),
		newExportCmd(flags),
		newStoresCmd(flags),
		newMigrateCmd(flags),
		newDBHealthCmd(flags),
		newHealthCmd(flags),
		newParseCmd(flags),
	)
	return cmd
}
