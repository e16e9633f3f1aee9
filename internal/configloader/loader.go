// SPDX-License-Identifier: AGPL-3.0-or-later

package configloader

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/runlog-org/runlog/internal/paths"
	"github.com/runlog-org/runlog/internal/types"
	"gopkg.in/yaml.v3"
)

// Load reads the CLI defaults file at configPath. A missing file is not an
// error: the zero config is returned so the built-in defaults apply.
// Loading also resolves the run-root precedence (config root > process env
// > platform default) and pins it via paths.SetRootOverride so every later
// paths call agrees on one root.
func Load(configPath string) (*types.Config, error) {
	var cfg types.Config

	f, err := os.Open(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No defaults file; fall through to root resolution.
	case err != nil:
		return nil, fmt.Errorf("open config: %w", err)
	default:
		defer f.Close()
		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		if env := os.Getenv("RUNLOG_DIR"); env != "" {
			root = env
		}
	}
	if root != "" {
		paths.SetRootOverride(root)
	}
	resolved := paths.Root()
	paths.SetRootOverride(resolved)
	cfg.Root = resolved

	return &cfg, nil
}
