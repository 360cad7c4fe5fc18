package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"background-agents/internal/blackboard"
)

func newGetCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one blackboard value and its version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load(cmd)
			if err != nil {
				return err
			}
			store := blackboard.NewRedisStore(redisOptions(cfg), rf.logger(cmd))
			defer store.Close()

			value, ver, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get %s: %w", args[0], err)
			}
			if ver == 0 {
				return fmt.Errorf("no value at %s", args[0])
			}
			data, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n%s\n", bold(args[0]), color.CyanString("v%d", ver), data)
			return nil
		},
	}
}
