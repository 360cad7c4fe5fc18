package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"background-agents/internal/core"
	"background-agents/internal/eventbus"
)

func newSendCmd(rf *rootFlags) *cobra.Command {
	var data, sender, session string
	cmd := &cobra.Command{
		Use:   "send <message_type>",
		Short: "Publish one message on the Redis bus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load(cmd)
			if err != nil {
				return err
			}
			msg := core.NewMessage(args[0], nil)
			if data != "" {
				if err := json.Unmarshal([]byte(data), &msg.Data); err != nil {
					return fmt.Errorf("--data: %w", err)
				}
			}
			if sender != "" {
				msg.Sender = sender
			}
			msg.SessionID = session
			if err := msg.Validate(); err != nil {
				return err
			}

			bus := eventbus.NewRedisBus(redisOptions(cfg), rf.logger(cmd))
			defer bus.Close()
			if err := bus.Publish(cmd.Context(), cfg.Host.TopicPrefix+msg.Type, msg); err != nil {
				return fmt.Errorf("publish %s: %w", msg.Type, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s sent %s %s\n", okMark, bold(msg.Type), msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON object payload")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender name (default \"system\")")
	cmd.Flags().StringVar(&session, "session", "", "Deliver only to agents of this session")
	return cmd
}
