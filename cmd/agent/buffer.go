package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/agent"
	"github.com/vitalis-app/telemetry-agent/internal/buffer"
)

func newBufferCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Inspect the local batch buffer",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show how many batches are waiting in the buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			buf, err := agent.OpenBuffer(cfg.Buffer, zap.NewNop(), nil)
			if errors.Is(err, buffer.ErrLocked) {
				return fmt.Errorf("buffer %s is in use by a running agent", cfg.Buffer.Path)
			}
			if err != nil {
				return err
			}
			defer buf.Close()

			st := buf.Stats()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Backend:\t%s\n", st.Backend)
			fmt.Fprintf(w, "Path:\t%s\n", cfg.Buffer.Path)
			fmt.Fprintf(w, "Batches:\t%s\n", humanize.Comma(int64(st.Records)))
			fmt.Fprintf(w, "Size:\t%s\n", humanize.IBytes(uint64(st.Bytes)))
			if st.Records > 0 {
				fmt.Fprintf(w, "Sequence:\t%d..%d\n", st.OldestSeq, st.NewestSeq)
			}
			if limit := cfg.Buffer.MaxBytes(); limit > 0 {
				fmt.Fprintf(w, "Limit:\t%s, %s batches (%s)\n",
					humanize.IBytes(uint64(limit)), humanize.Comma(int64(cfg.Buffer.MaxRecords)), cfg.Buffer.Eviction)
			}
			return w.Flush()
		},
	})
	return cmd
}
