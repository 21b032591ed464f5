//go:build linux

package inject

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

const (
	pollDelay    = time.Millisecond
	maxPollDelay = 50 * time.Millisecond
)

var errNotStopped = errors.Base("no state change yet")

// wait returns the target's next wait status, polling with WNOHANG and
// backing off until ctx ends or the stop timeout passes. A zero stop
// timeout leaves ctx as the only bound.
func (s *session) wait(ctx context.Context) (unix.WaitStatus, errors.E) {
	if s.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.stopTimeout)
		defer cancel()
	}

	status, err := retry.NewWithData[unix.WaitStatus](
		retry.Context(ctx),
		retry.UntilSucceeded(),
		retry.Delay(pollDelay),
		retry.MaxDelay(maxPollDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errNotStopped) || errors.Is(err, unix.EINTR)
		}),
	).Do(func() (unix.WaitStatus, error) {
		var status unix.WaitStatus
		wpid, err := s.tracer.Wait(s.pid, &status, unix.WALL|unix.WNOHANG)
		if err != nil {
			return 0, err
		}
		if wpid == 0 {
			return 0, errNotStopped
		}
		return status, nil
	})
	if err == nil {
		return status, nil
	}
	if ctx.Err() != nil {
		return 0, wrap(ErrStopTimeout, context.Cause(ctx), "wait4", "pid", s.pid, "timeout", s.stopTimeout.String())
	}
	return 0, s.waitError(err)
}

func (s *session) waitError(err error) errors.E {
	if errors.Is(err, unix.ECHILD) {
		// Not our tracee any more; nothing is left to restore.
		s.gone = true
	}
	return wrap(ErrTargetAccess, err, "wait4", "pid", s.pid)
}

// waitStop waits until the target stops with the given trap cause.
// Signal-delivery stops for other signals are passed back to the target
// when forward is set; otherwise they end the wait and the signal is
// kept for redelivery after detaching.
func (s *session) waitStop(ctx context.Context, cause int, forward bool) errors.E {
	for {
		status, errE := s.wait(ctx)
		if errE != nil {
			return errE
		}

		switch {
		case status.Exited():
			s.gone = true
			return errors.WithDetails(ErrTargetExited, "pid", s.pid, "exitStatus", status.ExitStatus())
		case status.Signaled():
			s.gone = true
			return errors.WithDetails(ErrTargetKilled, "pid", s.pid, "signal", status.Signal().String())
		case !status.Stopped():
			return errors.WithDetails(ErrUnexpectedStop, "pid", s.pid, "status", int(status))
		}

		s.running = false
		if status.TrapCause() == cause {
			return nil
		}

		signalStop := status.StopSignal() != unix.SIGTRAP && int(status)>>16 == 0
		if signalStop && forward {
			s.logger.Debug("forwarding signal", "pid", s.pid, "signal", status.StopSignal().String())
			if err := s.tracer.Cont(s.pid, status.StopSignal()); err != nil {
				return wrap(ErrTargetAccess, err, "ptrace cont", "pid", s.pid, "signal", status.StopSignal().String())
			}
			s.running = true
			continue
		}
		if signalStop {
			s.pending = status.StopSignal()
		}
		return errors.WithDetails(
			ErrUnexpectedStop,
			"pid", s.pid,
			"stopSignal", status.StopSignal().String(),
			"trapCause", status.TrapCause(),
			"expectedTrapCause", cause,
		)
	}
}
