// SPDX-License-Identifier: AGPL-3.0-or-later

// Package paths centralises runlog root-directory and run-artifact resolution.
package paths

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

const (
	appDirName     = "runlog"
	envRootDir     = "RUNLOG_DIR"
	envXDGDataHome = "XDG_DATA_HOME"

	// LatestAlias is the name of the symlink under the root directory that
	// points at the most recently opened run.
	LatestAlias = "latest"
)

var override atomic.Pointer[string]

// SetRootOverride allows callers (e.g. config loader) to pin the run root
// to an explicit location. Passing an empty string clears the override.
func SetRootOverride(dir string) {
	if dir == "" {
		override.Store(nil)
		return
	}
	clean := filepath.Clean(Expand(dir))
	override.Store(&clean)
}

// Root returns the directory runlog should use as the run root.
// Order of precedence:
//  1. Explicit override provided via SetRootOverride.
//  2. RUNLOG_DIR environment variable.
//  3. $XDG_DATA_HOME/runlog, or ~/.local/share/runlog
//  4. Fallback: current working directory ./runlog (mainly for constrained envs)
func Root() string {
	if ptr := override.Load(); ptr != nil && *ptr != "" {
		return *ptr
	}

	if dir := os.Getenv(envRootDir); dir != "" {
		return filepath.Clean(Expand(dir))
	}

	if xdg := os.Getenv(envXDGDataHome); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", appDirName)
	}

	if cwd, err := os.Getwd(); err == nil && cwd != "" {
		return filepath.Join(cwd, appDirName)
	}

	// As an absolute last resort fall back to the OS temp dir.
	return filepath.Join(os.TempDir(), appDirName)
}

// Expand resolves a leading ~ and any $VAR environment references in the
// supplied path, mirroring what a shell would do with a user-typed root.
func Expand(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Resolve cleans and expands a caller-supplied root, falling back to the
// platform default when it is empty.
func Resolve(root string) string {
	if root == "" {
		return Root()
	}
	return filepath.Clean(Expand(root))
}

// RunDir returns the artifact directory for a specific run under root.
func RunDir(root, runID string) string {
	return filepath.Join(Resolve(root), runID)
}

// EnsureRunDir ensures the artifact directory for a run exists and returns
// it. Creating an already-existing directory is not an error.
func EnsureRunDir(root, runID string) (string, error) {
	dir := RunDir(root, runID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// RunPaths holds the derived artifact file locations for one run.
type RunPaths struct {
	Base string
	Meta string
	Logs string
	Msg  string
}

// ForRun derives the artifact file paths under base. The optional suffix is
// spliced into each filename so several recorders can share one run
// directory (e.g. "logs_model.csv" next to "logs.csv").
func ForRun(base, suffix string) RunPaths {
	return RunPaths{
		Base: base,
		Meta: filepath.Join(base, "meta"+suffix+".json"),
		Logs: filepath.Join(base, "logs"+suffix+".csv"),
		Msg:  filepath.Join(base, "out"+suffix+".log"),
	}
}

// EnsureLatestAlias points root/latest at base, replacing a previous alias.
// The operation is best effort: when another process wins the race to
// create the alias, or the platform refuses symlinks, the alias is left as
// whoever won and no error is reported. A regular file or directory already
// named "latest" is never touched.
func EnsureLatestAlias(root, base string) {
	alias := filepath.Join(Resolve(root), LatestAlias)

	if fi, err := os.Lstat(alias); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			// Not a symlink: leave it alone.
			return
		}
		if err := os.Remove(alias); err != nil && !errors.Is(err, os.ErrNotExist) {
			return
		}
	}
	// A concurrent creator may re-make the alias between the remove and the
	// symlink; that is their run winning, not a failure.
	_ = os.Symlink(base, alias)
}

// IndexPath returns the location of the run index database under root.
func IndexPath(root string) string {
	return filepath.Join(Resolve(root), "index.db")
}

// ConfigPath returns the location of the optional CLI defaults file.
func ConfigPath(root string) string {
	return filepath.Join(Resolve(root), "config.yaml")
}
