package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/config"
)

func newQueueCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the extraction queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print task counts of the extraction queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, func(rt *runtime) error {
				info, err := rt.manager.QueueStats()
				if err != nil {
					return fmt.Errorf("failed to read queue %s: %w", rt.manager.Queue(), err)
				}
				return printQueueInfo(cmd.OutOrStdout(), info)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Trim finished tasks down to the retention limits once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, func(rt *runtime) error {
				res, err := rt.pruner.Prune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned completed=%d archived=%d\n", res.Completed, res.Archived)
				return nil
			})
		},
	})
	return cmd
}

func withRuntime(ctx context.Context, configPath string, fn func(*runtime) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	rt, err := setupRuntime(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(rt)
}

func printQueueInfo(w io.Writer, info *asynq.QueueInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "queue\t%s\n", info.Queue)
	fmt.Fprintf(tw, "paused\t%t\n", info.Paused)
	fmt.Fprintf(tw, "pending\t%d\n", info.Pending)
	fmt.Fprintf(tw, "active\t%d\n", info.Active)
	fmt.Fprintf(tw, "scheduled\t%d\n", info.Scheduled)
	fmt.Fprintf(tw, "retry\t%d\n", info.Retry)
	fmt.Fprintf(tw, "archived\t%d\n", info.Archived)
	fmt.Fprintf(tw, "completed\t%d\n", info.Completed)
	fmt.Fprintf(tw, "processed today\t%d\n", info.Processed)
	fmt.Fprintf(tw, "failed today\t%d\n", info.Failed)
	return tw.Flush()
}
