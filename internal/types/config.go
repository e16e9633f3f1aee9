// SPDX-License-Identifier: AGPL-3.0-or-later
package types

// Config carries the optional CLI defaults loaded from config.yaml under
// the run root. All fields are optional; the zero value means "use
// built-in defaults".
type Config struct {
	// Root pins the run root directory, overriding RUNLOG_DIR and the
	// platform default.
	Root string `yaml:"root,omitempty"`
	// SymlinkLatest toggles maintenance of the root-level "latest" alias.
	// Nil means enabled.
	SymlinkLatest *bool `yaml:"symlink_latest,omitempty"`
	// Suffix is the default filename suffix for the run artifacts.
	Suffix string `yaml:"suffix,omitempty"`
	// Verbose echoes every logged record through the message sink.
	Verbose bool `yaml:"verbose,omitempty"`
	// Env provides extra environment values recorded alongside defaults.
	Env map[string]string `yaml:"env,omitempty"`
}

// LatestEnabled resolves the SymlinkLatest tri-state.
func (c *Config) LatestEnabled() bool {
	if c == nil || c.SymlinkLatest == nil {
		return true
	}
	return *c.SymlinkLatest
}
