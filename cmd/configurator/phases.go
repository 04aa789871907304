package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spapperi/configurator/internal/flow"
)

func newPhasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "Print the question catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFIELD\tUI\tNEXT\tOPTIONS")
			for _, p := range flow.Phases() {
				next := p.Next
				if p.Prompt.IsConditional() || p.Format.IsConditional() {
					next += " *"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Field, p.UIHint, next, strings.Join(p.Options, ", "))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\n* prompt depends on earlier answers")
			return nil
		},
	}
}
