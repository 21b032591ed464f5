// Package proctree expands seed process IDs into the set of processes to
// act on, optionally including every live descendant found under /proc.
package proctree

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrProcUnavailable means the process-information root could not be
	// opened at all.
	ErrProcUnavailable = errors.New("process information unavailable")

	// ErrBadPattern is returned for a malformed command filter.
	ErrBadPattern = errors.New("invalid command pattern")
)

// Resolver walks a /proc-shaped filesystem.
type Resolver struct {
	fsys   fs.FS
	logger *slog.Logger
	match  string
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithCommandFilter keeps only discovered descendants whose command name
// (the comm file) matches the glob pattern. Seeds are never filtered.
func WithCommandFilter(pattern string) Option {
	return func(r *Resolver) {
		r.match = pattern
	}
}

// NewResolver returns a Resolver reading from fsys, which is rooted at
// the process-information directory (os.DirFS("/proc") on a live system).
func NewResolver(fsys fs.FS, opts ...Option) (*Resolver, error) {
	r := &Resolver{fsys: fsys, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.match != "" && !doublestar.ValidatePattern(r.match) {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, r.match)
	}
	return r, nil
}

// Resolve returns the seeds, deduplicated and in order. When recursive is
// set, every descendant reachable through the kernel's children lists is
// appended breadth-first.
func (r *Resolver) Resolve(seeds []int, recursive bool) (*PIDSet, error) {
	set := NewPIDSet(seeds...)
	if !recursive {
		return set, nil
	}

	if _, err := fs.Stat(r.fsys, "."); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcUnavailable, err)
	}

	// seen also holds filtered-out processes so they are walked once.
	seen := NewPIDSet(set.Slice()...)
	frontier := NewPIDSet(set.Slice()...)
	for frontier.Len() > 0 {
		next := NewPIDSet()
		for {
			pid, ok := frontier.Pop()
			if !ok {
				break
			}
			for _, child := range r.Children(pid) {
				if seen.Add(child) {
					next.Add(child)
				}
			}
		}
		for _, pid := range next.Slice() {
			if r.keep(pid) {
				set.Add(pid)
			}
		}
		frontier = next
	}
	r.logger.Debug("resolved targets", "seeds", len(seeds), "total", set.Len())
	return set, nil
}

// Children returns the direct children of every thread of pid. Threads
// or children files that cannot be read are skipped.
func (r *Resolver) Children(pid int) []int {
	taskDir := strconv.Itoa(pid) + "/task"
	tasks, err := fs.ReadDir(r.fsys, taskDir)
	if err != nil {
		r.logger.Debug("skipping process", "pid", pid, "error", err)
		return nil
	}

	var children []int
	for _, task := range tasks {
		if _, err := strconv.Atoi(task.Name()); err != nil {
			continue
		}
		path := taskDir + "/" + task.Name() + "/children"
		data, err := fs.ReadFile(r.fsys, path)
		if err != nil {
			r.logger.Debug("skipping task", "pid", pid, "tid", task.Name(), "error", err)
			continue
		}
		for _, field := range strings.Fields(string(data)) {
			child, err := strconv.Atoi(field)
			if err != nil || child < 1 {
				continue
			}
			children = append(children, child)
		}
	}
	return children
}

func (r *Resolver) keep(pid int) bool {
	if r.match == "" {
		return true
	}
	data, err := fs.ReadFile(r.fsys, strconv.Itoa(pid)+"/comm")
	if err != nil {
		r.logger.Debug("cannot read command name", "pid", pid, "error", err)
		return false
	}
	ok, err := doublestar.Match(r.match, strings.TrimSpace(string(data)))
	return err == nil && ok
}
