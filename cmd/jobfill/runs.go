package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tbxark/jobfill/artifact"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse recorded runs (requires artifacts.sqlite)",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuns(func(sink *artifact.SQLiteSink) error {
				runs, err := sink.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				table := tablewriter.NewTable(cmd.OutOrStdout())
				table.Header("Run", "Status", "Filled", "URL")
				for _, r := range runs {
					if err := table.Append(r.RunID, r.Status, strconv.Itoa(r.Filled), r.URL); err != nil {
						return err
					}
				}
				return table.Render()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the full record of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuns(func(sink *artifact.SQLiteSink) error {
				rec, err := sink.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out, err := sonic.ConfigStd.MarshalIndent(rec, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal run: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}
	cmd.AddCommand(list, show)
	return cmd
}

func withRuns(fn func(*artifact.SQLiteSink) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Artifacts.SQLite == "" {
		return errors.New("artifacts.sqlite is not configured")
	}
	var cl closers
	defer func() { _ = cl.Close() }()
	db, err := openDB(cfg.Artifacts.SQLite, &cl)
	if err != nil {
		return err
	}
	sink, err := artifact.NewSQLiteSink(db)
	if err != nil {
		return err
	}
	return fn(sink)
}
