package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/spapperi/configurator/internal/export"
	"github.com/spapperi/configurator/internal/models"
)

func newExportCmd(root *rootFlags) *cobra.Command {
	var (
		all    bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "export [conversation-id]",
		Short: "Write the TXT and YAML reports of a conversation",
		Long: `Write the TXT and YAML reports of a conversation to the export directory.

With --format the selected report is printed instead of written. With --all
the reports of every completed conversation are written.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && format != "" {
				return errors.New("--format cannot be combined with --all")
			}
			cfg, err := loadConfig(cmd, root, nil)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			ctx := cmd.Context()
			writer := export.NewWriter(st, cfg.ReportDir())
			out := cmd.OutOrStdout()

			if format != "" {
				f, err := export.ParseFormat(format)
				if err != nil {
					return err
				}
				body, err := writer.Render(ctx, args[0], f)
				if err != nil {
					return err
				}
				_, err = out.Write(body)
				return err
			}

			ids := args
			if all {
				convs, err := st.ListConversations(ctx, models.ConversationStatusCompleted)
				if err != nil {
					return fmt.Errorf("failed to list conversations: %w", err)
				}
				ids = make([]string, 0, len(convs))
				for _, c := range convs {
					ids = append(ids, c.ID)
				}
				slog.Debug("Exporting completed conversations", "count", len(ids))
			}
			for _, id := range ids {
				paths, err := writer.WriteAll(ctx, id)
				if err != nil {
					return fmt.Errorf("export %s: %w", id, err)
				}
				for _, p := range paths {
					fmt.Fprintln(out, p)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "export every completed conversation")
	cmd.Flags().StringVar(&format, "format", "", "print a single report to stdout: txt or yaml")
	return cmd
}
