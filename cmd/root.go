// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"

	"github.com/runlog-org/runlog/internal/configloader"
	"github.com/runlog-org/runlog/internal/paths"
	"github.com/runlog-org/runlog/internal/types"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "runlog",
	Short: "Run-scoped experiment recorder",
}

func Execute() {
	if rootDir := os.Getenv("RUNLOG_DIR"); rootDir != "" {
		paths.SetRootOverride(rootDir)
	}

	rootCmd.AddCommand(NewRecordCmd())
	rootCmd.AddCommand(NewRunsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadDefaults resolves the CLI defaults for the supplied root flag value:
// an explicit --root wins, otherwise config.yaml under the resolved root
// (which itself may pin a different root) supplies defaults.
func loadDefaults(rootFlag string) (*types.Config, error) {
	if rootFlag != "" {
		paths.SetRootOverride(rootFlag)
	}
	cfg, err := configloader.Load(paths.ConfigPath(""))
	if err != nil {
		return nil, err
	}
	if rootFlag != "" {
		// The flag outranks whatever the config file pinned.
		paths.SetRootOverride(rootFlag)
		cfg.Root = paths.Root()
	}
	return cfg, nil
}
