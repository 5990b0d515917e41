package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitalis-app/telemetry-agent/internal/agent"
	"github.com/vitalis-app/telemetry-agent/internal/logging"
)

func newDrainCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Send buffered batches once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Close()

			a, err := agent.New(cfg, logger, agent.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rep := a.Drain(ctx)
			out := cmd.OutOrStdout()
			switch {
			case rep.Skipped:
				fmt.Fprintln(out, "Drain skipped: server rate limit in effect")
			default:
				fmt.Fprintf(out, "Delivered %d, dropped %d, remaining %d of %d buffered batches\n",
					rep.Delivered, rep.Dropped, rep.Remaining, rep.Records)
			}
			return rep.Err
		},
	}
}
