//go:build linux

package inject

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"gitlab.com/tozd/go/errors"
)

// DefaultStopTimeout bounds each wait for the target to stop.
const DefaultStopTimeout = 5 * time.Second

// Options configures an Injector.
type Options struct {
	Logger *slog.Logger
	// StopTimeout bounds each wait for the target to stop. With zero,
	// waits before the code is patched end only with ctx, and later
	// waits never end on their own.
	StopTimeout time.Duration
	// DryRun queries the limit without changing it.
	DryRun bool
	// Tracer replaces the kernel's ptrace, for tests.
	Tracer Tracer
}

// Outcome reports what Enforce found and did.
type Outcome struct {
	PID      int
	Resource int
	Before   Record
	After    Record
	Changed  bool
}

// Injector raises soft limits of other processes. It handles one target
// at a time and keeps no state between calls.
type Injector struct {
	logger      *slog.Logger
	stopTimeout time.Duration
	dryRun      bool
	tracer      Tracer
	abi         *abi
}

// result holds the outcome of a session goroutine.
type result struct {
	outcome Outcome
	err     error
}

func New(opts Options) (*Injector, error) {
	if hostABI == nil {
		return nil, errors.WithDetails(ErrUnsupportedArch, "arch", runtime.GOARCH)
	}
	in := &Injector{
		logger:      opts.Logger,
		stopTimeout: opts.StopTimeout,
		dryRun:      opts.DryRun,
		tracer:      opts.Tracer,
		abi:         hostABI,
	}
	if in.logger == nil {
		in.logger = slog.Default()
	}
	if in.tracer == nil {
		in.tracer = ptraceTracer{}
	}
	return in, nil
}

// Enforce raises the soft limit of resource in process pid to its hard
// limit. The target is stopped for the duration of the call and resumed
// with its code, stack and registers as they were. ctx only bounds the
// time spent waiting for the target to stop before it is modified.
func (in *Injector) Enforce(ctx context.Context, pid int, resource int) (Outcome, error) {
	if pid < 1 || pid == os.Getpid() {
		return Outcome{PID: pid, Resource: resource}, errors.WithDetails(ErrInvalidTarget, "pid", pid)
	}
	if resource < 0 {
		return Outcome{PID: pid, Resource: resource}, errors.WithDetails(ErrInvalidTarget, "pid", pid, "resource", resource)
	}

	s := &session{
		pid:         pid,
		tracer:      in.tracer,
		abi:         in.abi,
		logger:      in.logger,
		stopTimeout: in.stopTimeout,
	}

	resChan := make(chan result, 1)
	go func() {
		// ptrace requests must come from the thread that attached. The
		// thread is never unlocked, so if this goroutine ends while still
		// attached, the thread exits and the kernel detaches the target.
		runtime.LockOSThread()

		out, errE := s.run(ctx, resource, in.dryRun)
		if errE != nil {
			resChan <- result{out, errE}
			return
		}
		resChan <- result{out, nil}
	}()
	res := <-resChan

	if res.err != nil {
		in.logger.Debug("enforce failed", "pid", pid, "resource", resource, "error", res.err, "details", errors.Details(res.err))
		return res.outcome, res.err
	}
	if res.outcome.Changed {
		in.logger.Info("raised soft limit", "pid", pid, "resource", resource,
			"from", res.outcome.Before.String(), "to", res.outcome.After.String())
	} else {
		in.logger.Info("soft limit unchanged", "pid", pid, "resource", resource, "limit", res.outcome.Before.String())
	}
	return res.outcome, nil
}
