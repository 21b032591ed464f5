//go:build linux

package inject

import (
	"context"
	"fmt"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

var (
	ErrInvalidTarget     = errors.Base("invalid target")
	ErrUnsupportedArch   = errors.Base("syscall injection is not supported on this architecture")
	ErrAttach            = errors.Base("cannot attach to target")
	ErrTargetExited      = errors.Base("target exited")
	ErrTargetKilled      = errors.Base("target killed by signal")
	ErrUnexpectedStop    = errors.Base("target stopped unexpectedly")
	ErrProtocolViolation = errors.Base("injected call misbehaved")
	ErrStopTimeout       = errors.Base("target did not stop in time")
	ErrTargetAccess      = errors.Base("cannot access target registers or memory")
)

// Kind groups failures by what the caller should do about them.
type Kind int

const (
	KindNone Kind = iota
	// KindAttach means the target could not be traced, usually for lack
	// of privilege.
	KindAttach
	// KindLifecycle means the target went away mid-session.
	KindLifecycle
	// KindProtocol means the session was aborted and the target restored.
	KindProtocol
	KindTimeout
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAttach:
		return "attach"
	case KindLifecycle:
		return "lifecycle"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindInvalid:
		return "invalid"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// KindOf classifies an error returned by Enforce.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTargetExited), errors.Is(err, ErrTargetKilled), errors.Is(err, unix.ECHILD):
		return KindLifecycle
	case errors.Is(err, ErrAttach):
		return KindAttach
	case errors.Is(err, ErrStopTimeout), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrUnexpectedStop), errors.Is(err, ErrProtocolViolation), errors.Is(err, ErrTargetAccess):
		return KindProtocol
	}
	return KindInvalid
}

// wrap ties base to the failing call and its cause, so errors.Is matches
// both the sentinel and the errno.
func wrap(base error, cause error, call string, kv ...interface{}) errors.E {
	return errors.WithDetails(fmt.Errorf("%w: %s: %w", base, call, cause), kv...)
}
