// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/runlog-org/runlog/internal/recorder"
	"github.com/runlog-org/runlog/internal/runindex"
	"github.com/spf13/cobra"
)

func NewRecordCmd() *cobra.Command {
	var (
		runID     string
		rootDir   string
		suffix    string
		overwrite bool
		verbose   bool
		noLatest  bool
		argPairs  []string
	)
	c := &cobra.Command{
		Use:   "record",
		Short: "Record stdin key=value lines as tabular log rows for a run",
		Long: `Reads one record per stdin line, each a comma- or space-separated list
of key=value pairs, and appends them to the run's tabular log. Numeric
and boolean values are stored typed; everything else is a string.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDefaults(rootDir)
			if err != nil {
				return err
			}
			if suffix == "" {
				suffix = cfg.Suffix
			}

			runArgs, err := parsePairs(strings.Join(argPairs, ","))
			if err != nil {
				return fmt.Errorf("invalid --arg: %w", err)
			}

			index, err := runindex.Open(cmd.Context(), cfg.Root)
			if err != nil {
				return err
			}
			defer index.Close()

			rec, err := recorder.Open(cmd.Context(), recorder.Options{
				RunID:         runID,
				Args:          runArgs,
				Root:          cfg.Root,
				SymlinkLatest: cfg.LatestEnabled() && !noLatest,
				Suffix:        suffix,
				Overwrite:     overwrite,
				Verbose:       verbose || cfg.Verbose,
				Index:         index,
			})
			if err != nil {
				return err
			}

			successful := true
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				record, err := parsePairs(line)
				if err != nil {
					rec.Sink().Warnf("Skipping malformed record %q: %v", line, err)
					continue
				}
				if err := rec.Log(record, false); err != nil {
					_ = rec.Close(cmd.Context(), false)
					return err
				}
			}
			if scanErr := scanner.Err(); scanErr != nil {
				rec.Sink().Warnf("Input stream failed: %v", scanErr)
				successful = false
			}

			return rec.Close(cmd.Context(), successful)
		},
	}
	c.Flags().StringVar(&runID, "id", "", "Run id (default: <pid>_<unixtime>)")
	c.Flags().StringVar(&rootDir, "root", "", "Run root directory")
	c.Flags().StringVar(&suffix, "suffix", "", "Artifact filename suffix")
	c.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing metadata file")
	c.Flags().BoolVarP(&verbose, "verbose", "v", false, "Echo every record to the message sink")
	c.Flags().BoolVar(&noLatest, "no-latest", false, "Do not update the 'latest' symlink")
	c.Flags().StringArrayVar(&argPairs, "arg", nil, "Configuration key=value recorded in the run metadata (repeatable)")
	return c
}

// parsePairs splits a "k=v,k2=v2" (or space-separated) line into a record,
// coercing numeric and boolean values.
func parsePairs(line string) (map[string]any, error) {
	record := make(map[string]any)
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", field)
		}
		record[key] = coerce(value)
	}
	return record, nil
}

func coerce(value string) any {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}
