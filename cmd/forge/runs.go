package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/serverforge/internal/statedb"
)

var (
	runsFormat string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Run history and rollback journals",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a run and its journalled snapshots (the last run by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRunsShow,
}

var runsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show state database status",
	Args:  cobra.NoArgs,
	RunE:  runRunsStatus,
}

func init() {
	runsListCmd.Flags().StringVar(&runsFormat, "format", "", "Output format (json)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 10, "Number of runs to show (0 for all)")
	runsShowCmd.Flags().StringVar(&runsFormat, "format", "", "Output format (json)")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatusCmd)
}

func openStateDB() (*statedb.DB, error) {
	cfg, err := loadState()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create dirs: %w", err)
	}
	return statedb.Open(cfg.DBPath())
}

func runRunsList(cmd *cobra.Command, args []string) error {
	db, err := openStateDB()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(runsLimit)
	if err != nil {
		return err
	}

	if runsFormat == "json" {
		out, err := statedb.FormatRunListJSON(runs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), statedb.FormatRunList(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	db, err := openStateDB()
	if err != nil {
		return err
	}
	defer db.Close()

	var run statedb.RunRecord
	if len(args) == 1 {
		run, err = db.GetRun(args[0])
	} else {
		run, err = db.LastRun()
	}
	if errors.Is(err, statedb.ErrNotFound) {
		return fmt.Errorf("no such run")
	}
	if err != nil {
		return err
	}

	infos, err := db.LoadSnapshots(run.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runsFormat == "json" {
		s, err := statedb.FormatRunJSON(run, infos)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	fmt.Fprint(out, statedb.FormatRunList([]statedb.RunRecord{run}))
	if run.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", run.Error)
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, statedb.FormatSnapshots(infos))
	return nil
}

func runRunsStatus(cmd *cobra.Command, args []string) error {
	db, err := openStateDB()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, snapshots, err := db.Counts()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), statedb.FormatStatus(db.Path(), runs, snapshots))
	return nil
}
