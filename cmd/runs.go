// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/runlog-org/runlog/internal/paths"
	"github.com/runlog-org/runlog/internal/runindex"
	"github.com/spf13/cobra"
)

func NewRunsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	c.AddCommand(newRunsListCmd())
	c.AddCommand(newRunsShowCmd())
	c.AddCommand(newRunsRescanCmd())
	return c
}

func newRunsListCmd() *cobra.Command {
	var (
		rootDir string
		jsonOut bool
	)
	c := &cobra.Command{
		Use:   "list",
		Short: "List catalogued runs (most recent first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDefaults(rootDir)
			if err != nil {
				return err
			}
			index, err := runindex.Open(cmd.Context(), cfg.Root)
			if err != nil {
				return err
			}
			defer index.Close()

			entries, err := index.List(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Printf("(no runs catalogued under %s; try 'runlog runs rescan')\n", cfg.Root)
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tENDED\tSUCCESSFUL")
			for _, entry := range entries {
				ended := entry.DateEnd
				if ended == "" {
					ended = "(open)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", entry.RunID, entry.DateStart, ended, entry.Successful)
			}
			return tw.Flush()
		},
	}
	c.Flags().StringVar(&rootDir, "root", "", "Run root directory")
	c.Flags().BoolVar(&jsonOut, "json", false, "Output runs as JSON")
	return c
}

func newRunsShowCmd() *cobra.Command {
	var (
		rootDir string
		suffix  string
	)
	c := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a run's metadata record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDefaults(rootDir)
			if err != nil {
				return err
			}
			// "latest" works here too: RunDir resolves it to the alias path.
			runID := args[0]
			base := paths.RunDir(cfg.Root, runID)
			metaPath := paths.ForRun(base, suffix).Meta
			data, err := os.ReadFile(metaPath)
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("run %q has no metadata at %s", runID, metaPath)
			}
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		},
	}
	c.Flags().StringVar(&rootDir, "root", "", "Run root directory")
	c.Flags().StringVar(&suffix, "suffix", "", "Artifact filename suffix")
	return c
}

func newRunsRescanCmd() *cobra.Command {
	var rootDir string
	c := &cobra.Command{
		Use:   "rescan",
		Short: "Rebuild the run catalogue from meta.json files on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDefaults(rootDir)
			if err != nil {
				return err
			}
			index, err := runindex.Open(cmd.Context(), cfg.Root)
			if err != nil {
				return err
			}
			defer index.Close()

			count, err := index.Rescan(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Catalogued %d run(s) under %s\n", count, cfg.Root)
			return nil
		},
	}
	c.Flags().StringVar(&rootDir, "root", "", "Run root directory")
	return c
}
