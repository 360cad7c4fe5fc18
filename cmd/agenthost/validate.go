package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"background-agents/internal/manifest"
)

func newValidateCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Check a package manifest and summarise its agents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rf.manifest
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				cfg, err := rf.load(cmd)
				if err != nil {
					return err
				}
				path = cfg.Manifest
			}
			out := cmd.OutOrStdout()
			m, err := manifest.Load(path)
			if err != nil {
				fmt.Fprintf(out, "%s %s\n", failMark, path)
				return err
			}
			m = m.Normalized()

			fmt.Fprintf(out, "%s %s %s\n", okMark, bold(m.Name), m.Version)
			if m.Description != "" {
				fmt.Fprintf(out, "  %s\n", m.Description)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, a := range m.Agents {
				fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
					color.CyanString(a.Type),
					describeInterval(a.Interval),
					strings.Join(a.Sessions, ","),
					strings.Join(a.Subscriptions, " "))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(m.Requirements) > 0 {
				fmt.Fprintf(out, "  requires %s\n", strings.Join(m.Requirements, ", "))
			}
			return nil
		},
	}
}

func describeInterval(iv manifest.Interval) string {
	switch {
	case !iv.Set:
		return "default"
	case iv.Duration == 0:
		return "messages only"
	default:
		return "every " + iv.Duration.String()
	}
}
