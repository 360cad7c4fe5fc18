package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"background-agents/internal/blackboard"
)

func newWatchCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [pattern]",
		Short: "Print blackboard updates for keys matching pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load(cmd)
			if err != nil {
				return err
			}
			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store := blackboard.NewRedisStore(redisOptions(cfg), rf.logger(cmd))
			defer store.Close()
			updates, err := store.Watch(ctx, pattern)
			if err != nil {
				return fmt.Errorf("watch %s: %w", pattern, err)
			}
			out := cmd.OutOrStdout()
			for upd := range updates {
				if upd.Value == nil {
					fmt.Fprintf(out, "%s %s\n", color.YellowString("deleted"), upd.Key)
					continue
				}
				value, _ := json.Marshal(upd.Value)
				fmt.Fprintf(out, "%s %s v%d %s\n", color.GreenString("updated"), upd.Key, upd.Version, value)
			}
			return nil
		},
	}
}
