package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/status"
)

func newHealthCmd(rf *rootFlags) *cobra.Command {
	var (
		addr    string
		asJSON  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health endpoint of a running watch",
		Example: `  receipts-worker health --addr localhost:8081
  receipts-worker health --addr localhost:8081 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf, noWrites)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Watch.HealthAddr
			}
			if addr == "" {
				return common.NewAppError("CONFIG_ERROR", "--addr or HEALTH_ADDR is required", common.ErrInvalidInput)
			}
			if strings.HasPrefix(addr, ":") {
				addr = "localhost" + addr
			}
			reg, err := newRegistry(cfg, nil)
			if err != nil {
				return err
			}

			results, err := status.Probe(cmd.Context(), addr, reg.Stores(), timeout)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			failed := false
			for _, r := range results {
				name := r.Service
				if name == "" {
					name = "(overall)"
				}
				if r.Err != nil {
					failed = true
					_, _ = fmt.Fprintf(w, "%s %-16s %v\n", failColor.Sprint("x"), name, r.Err)
					continue
				}
				if asJSON {
					_, _ = fmt.Fprintf(w, "%s %s\n", name, r.JSON())
					continue
				}
				st := r.Response.GetStatus()
				c := okColor
				if st != healthpb.HealthCheckResponse_SERVING {
					failed = true
					c = failColor
				}
				_, _ = fmt.Fprintf(w, "%-4s %s\n", c.Sprint(st.String()), name)
			}
			if failed {
				return exitCodeError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "health endpoint address (default $HEALTH_ADDR)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw responses as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "per-check timeout")
	return cmd
}
