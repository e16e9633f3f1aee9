// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metadata assembles the one-shot descriptive record persisted as
// meta.json for a run: timestamps, environment snapshot, optional revision
// and scheduler context, and a frozen copy of the caller's configuration.
package metadata

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// TimeFormat is the wall-clock format used for date_start / date_end.
const TimeFormat = "2006-01-02 15:04:05.000000"

const (
	schedulerTriggerVar = "SLURM_JOB_ID"
	schedulerPrefix     = "SLURM"
)

// Revision describes the version-control state of the process working tree.
// Branch is nil when HEAD is detached.
type Revision struct {
	Commit string  `json:"commit"`
	Branch *string `json:"branch"`
	Path   string  `json:"path"`
}

// Record is the full metadata document for one run. DateEnd stays nil and
// Successful stays false until the recorder is closed; every other field is
// frozen at collection time.
type Record struct {
	DateStart   string
	DateEnd     *string
	Successful  bool
	Revision    *Revision
	Scheduler   map[string]string
	Environment map[string]string
	Args        map[string]any
	RunID       string
}

// Map renders the record as the generic document written to meta.json.
// Returning a map keeps JSON key order sorted on marshal.
func (r *Record) Map() map[string]any {
	doc := map[string]any{
		"date_start":  r.DateStart,
		"successful":  r.Successful,
		"environment": r.Environment,
		"args":        r.Args,
		"run_id":      r.RunID,
	}
	if r.DateEnd != nil {
		doc["date_end"] = *r.DateEnd
	} else {
		doc["date_end"] = nil
	}
	if r.Revision != nil {
		// Rendered as a map so nested keys marshal sorted like the rest of
		// the document.
		var branch any
		if r.Revision.Branch != nil {
			branch = *r.Revision.Branch
		}
		doc["revision_info"] = map[string]any{
			"commit": r.Revision.Commit,
			"branch": branch,
			"path":   r.Revision.Path,
		}
	} else {
		doc["revision_info"] = nil
	}
	if r.Scheduler != nil {
		doc["scheduler_info"] = r.Scheduler
	} else {
		doc["scheduler_info"] = nil
	}
	return doc
}

// Collector gathers metadata records. The zero value is not usable; use New.
type Collector struct {
	nowFn     func() time.Time
	environFn func() []string
	gitFn     func(ctx context.Context) *Revision
}

// Option customises a Collector, mainly for tests.
type Option func(*Collector)

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(c *Collector) { c.nowFn = now }
}

// WithEnviron overrides the process environment source.
func WithEnviron(environ func() []string) Option {
	return func(c *Collector) { c.environFn = environ }
}

// WithRevisionSource overrides version-control discovery. The function may
// return nil to signal absence.
func WithRevisionSource(fn func(ctx context.Context) *Revision) Option {
	return func(c *Collector) { c.gitFn = fn }
}

// New returns a Collector backed by the real clock, process environment and
// the git binary.
func New(opts ...Option) *Collector {
	c := &Collector{
		nowFn:     time.Now,
		environFn: os.Environ,
		gitFn:     discoverRevision,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect builds the metadata record for a run. Discovery failures (no git
// repository, no scheduler environment) downgrade the corresponding field
// to nil; Collect itself never fails.
func (c *Collector) Collect(ctx context.Context, runID string, args map[string]any) *Record {
	env := snapshotEnv(c.environFn())
	return &Record{
		DateStart:   c.nowFn().Format(TimeFormat),
		DateEnd:     nil,
		Successful:  false,
		Revision:    c.gitFn(ctx),
		Scheduler:   schedulerInfo(env),
		Environment: env,
		Args:        DeepCopyArgs(args),
		RunID:       runID,
	}
}

// Now formats the current collector time, used by the recorder at close.
func (c *Collector) Now() string {
	return c.nowFn().Format(TimeFormat)
}

func snapshotEnv(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// schedulerInfo flattens cluster-scheduler environment variables into a
// mapping with the prefix stripped and keys lower-cased. Returns nil when
// the process is not running under the scheduler.
func schedulerInfo(env map[string]string) map[string]string {
	if _, ok := env[schedulerTriggerVar]; !ok {
		return nil
	}
	info := make(map[string]string)
	for k, v := range env {
		if !strings.HasPrefix(k, schedulerPrefix) {
			continue
		}
		key := strings.TrimPrefix(k, schedulerPrefix+"D_")
		key = strings.TrimPrefix(key, schedulerPrefix+"_")
		info[strings.ToLower(key)] = v
	}
	return info
}

// discoverRevision shells out to git. Any failure means the process is not
// inside a discoverable repository; absence is a normal outcome.
func discoverRevision(ctx context.Context) *Revision {
	commit, err := runGit(ctx, "rev-parse", "HEAD")
	if err != nil || commit == "" {
		return nil
	}
	gitDir, err := runGit(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return nil
	}
	rev := &Revision{Commit: commit, Path: gitDir}
	// symbolic-ref fails with a non-zero exit in a detached-HEAD state; the
	// branch is simply absent then.
	if branch, err := runGit(ctx, "symbolic-ref", "--short", "-q", "HEAD"); err == nil && branch != "" {
		rev.Branch = &branch
	}
	return rev
}

func runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// DeepCopyArgs returns an independent copy of the caller's configuration so
// later in-place mutation by the caller cannot corrupt the stored record.
func DeepCopyArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	case []int:
		return append([]int(nil), val...)
	default:
		// Scalars (and anything else) are copied by value.
		return val
	}
}
