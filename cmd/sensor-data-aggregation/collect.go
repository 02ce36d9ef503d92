package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/i474232898/sensor-data-aggregation/internal/config"
)

func newCollectCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection for a scheduled source and print the run",
		Example: `  sensor-data-aggregation collect
  sensor-data-aggregation collect --source nebo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			svc, err := buildServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close(context.Background())

			collector, err := svc.scheduler.Collector(source)
			if err != nil {
				return err
			}
			run, err := collector.Tick(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(run); err != nil {
				return err
			}
			if run.Outcome() == "failed" {
				return fmt.Errorf("collection run %s failed", run.RunID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", config.SourceNebo, "Scheduled source to collect")
	return cmd
}

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Print every source and whether it is configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			svc, err := buildServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close(context.Background())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tMODE\tMAX INTERVAL\tAVAILABLE\tSENSORS\tREASON")
			for _, info := range svc.engine.Registry().Describe(ctx) {
				interval := "-"
				if info.MaxInterval > 0 {
					interval = info.MaxInterval.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n", info.ID, info.Mode, interval, info.Available, info.Sensors, info.Reason)
			}
			return w.Flush()
		},
	}
}
