//go:build linux

package inject

import (
	"context"
	"log/slog"
	"time"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

// session holds everything needed to put one target back the way it
// was. It must be used from a single locked OS thread.
type session struct {
	pid         int
	tracer      Tracer
	abi         *abi
	logger      *slog.Logger
	stopTimeout time.Duration

	attached bool
	// running is set while the target is not known to be in a ptrace stop.
	running bool
	// gone is set once the target exited or is no longer traced.
	gone bool

	armed bool

	origRegs    unix.PtraceRegs
	origWord    uint64
	slot        uintptr
	origScratch [2]uint64

	// pending is a signal swallowed by an unexpected stop.
	pending unix.Signal
}

func (s *session) run(ctx context.Context, resource int, dryRun bool) (out Outcome, errE errors.E) {
	out = Outcome{PID: s.pid, Resource: resource}

	if err := s.tracer.Seize(s.pid); err != nil {
		return out, wrap(ErrAttach, err, "ptrace seize", "pid", s.pid)
	}
	s.attached = true
	s.running = true

	defer func() {
		if errE2 := s.release(); errE2 != nil {
			errE = errors.Join(errE, errE2)
		}
	}()

	if err := s.tracer.Interrupt(s.pid); err != nil {
		return out, wrap(ErrAttach, err, "ptrace interrupt", "pid", s.pid)
	}
	if errE := s.waitStop(ctx, unix.PTRACE_EVENT_STOP, true); errE != nil {
		return out, errE
	}

	if errE := s.snapshot(); errE != nil {
		return out, errE
	}

	// Once the code is patched the session runs to restoration.
	ctx = context.WithoutCancel(ctx)
	if errE := s.arm(); errE != nil {
		return out, errE
	}

	if errE := s.syscall(ctx, s.abi.getrlimit, uint64(resource), uint64(s.slot)); errE != nil {
		errors.Details(errE)["call"] = "getrlimit"
		return out, errE
	}
	before, errE := s.readRecord()
	if errE != nil {
		return out, errE
	}
	if !before.valid() {
		return out, errors.WithDetails(ErrProtocolViolation, "pid", s.pid, "call", "getrlimit", "record", before.String())
	}
	out.Before, out.After = before, before
	s.logger.Debug("queried limit", "pid", s.pid, "resource", resource, "limit", before.String())

	if before.AtHard() || dryRun {
		return out, nil
	}

	want := before.Raised()
	if errE := s.writeRecord(want); errE != nil {
		return out, errE
	}
	if errE := s.syscall(ctx, s.abi.setrlimit, uint64(resource), uint64(s.slot)); errE != nil {
		errors.Details(errE)["call"] = "setrlimit"
		return out, errE
	}
	out.After = want
	out.Changed = true
	return out, nil
}

// snapshot saves registers, the code word at the instruction pointer and
// the memory under the scratch slot. Nothing is modified.
func (s *session) snapshot() errors.E {
	if err := s.tracer.GetRegs(s.pid, &s.origRegs); err != nil {
		return wrap(ErrTargetAccess, err, "ptrace getregs", "pid", s.pid)
	}

	pc := uintptr(s.abi.pc(&s.origRegs))
	word, err := s.tracer.PeekWord(s.pid, pc)
	if err != nil {
		return wrap(ErrTargetAccess, err, "ptrace peektext", "pid", s.pid, "addr", pc)
	}
	s.origWord = word

	s.slot = s.abi.scratch(&s.origRegs)
	for i := range s.origScratch {
		addr := s.slot + uintptr(i*wordSize)
		w, err := s.tracer.PeekWord(s.pid, addr)
		if err != nil {
			return wrap(ErrTargetAccess, err, "ptrace peekdata", "pid", s.pid, "addr", addr)
		}
		s.origScratch[i] = w
	}
	return nil
}

func (s *session) arm() errors.E {
	pc := uintptr(s.abi.pc(&s.origRegs))
	if err := s.tracer.PokeWord(s.pid, pc, s.abi.armed(s.origWord)); err != nil {
		return wrap(ErrTargetAccess, err, "ptrace poketext", "pid", s.pid, "addr", pc)
	}
	s.armed = true
	return nil
}

// syscall runs one system call in the target from the saved register
// state and checks that exactly the injected instruction executed and
// returned success.
func (s *session) syscall(ctx context.Context, nr uint64, args ...uint64) errors.E {
	regs := s.origRegs
	var a [3]uint64
	copy(a[:], args)
	s.abi.prepare(&regs, nr, a)

	if err := s.tracer.SetRegs(s.pid, &regs); err != nil {
		return wrap(ErrTargetAccess, err, "ptrace setregs", "pid", s.pid)
	}
	if err := s.tracer.SingleStep(s.pid); err != nil {
		return wrap(ErrTargetAccess, err, "ptrace singlestep", "pid", s.pid)
	}
	s.running = true
	if errE := s.waitStop(ctx, 0, false); errE != nil {
		return errE
	}

	var after unix.PtraceRegs
	if err := s.tracer.GetRegs(s.pid, &after); err != nil {
		return wrap(ErrTargetAccess, err, "ptrace getregs", "pid", s.pid)
	}
	if delta := s.abi.pc(&after) - s.abi.pc(&s.origRegs); delta != s.abi.insnLen {
		return errors.WithDetails(ErrProtocolViolation, "pid", s.pid, "pcDelta", int64(delta))
	}
	if ret := s.abi.ret(&after); ret != 0 {
		errE := errors.WithDetails(ErrProtocolViolation, "pid", s.pid, "return", int64(ret))
		if errno := -int64(ret); errno > 0 && errno < 4096 {
			errors.Details(errE)["errno"] = unix.Errno(errno).Error()
		}
		return errE
	}
	return nil
}

func (s *session) readRecord() (Record, errors.E) {
	var w [2]uint64
	for i := range w {
		addr := s.slot + uintptr(i*wordSize)
		v, err := s.tracer.PeekWord(s.pid, addr)
		if err != nil {
			return Record{}, wrap(ErrTargetAccess, err, "ptrace peekdata", "pid", s.pid, "addr", addr)
		}
		w[i] = v
	}
	return recordFromWords(w), nil
}

func (s *session) writeRecord(r Record) errors.E {
	for i, v := range r.words() {
		addr := s.slot + uintptr(i*wordSize)
		if err := s.tracer.PokeWord(s.pid, addr, v); err != nil {
			return wrap(ErrTargetAccess, err, "ptrace pokedata", "pid", s.pid, "addr", addr)
		}
	}
	return nil
}

// release undoes every modification in reverse order and detaches.
func (s *session) release() errors.E {
	if !s.attached || s.gone {
		return nil
	}

	if s.running {
		if !s.armed {
			// Nothing to restore. The kernel detaches when this thread exits.
			s.logger.Debug("target not stopped, leaving detach to thread exit", "pid", s.pid)
			return nil
		}
		if errE := s.restop(); errE != nil {
			return errE
		}
	}

	// Registers and scratch memory only change after the code is armed.
	var errE errors.E
	if s.armed {
		pc := uintptr(s.abi.pc(&s.origRegs))
		if err := s.tracer.PokeWord(s.pid, pc, s.origWord); err != nil {
			errE = errors.Join(errE, wrap(ErrTargetAccess, err, "restore code", "pid", s.pid, "addr", pc))
		}
		for i, v := range s.origScratch {
			addr := s.slot + uintptr(i*wordSize)
			if err := s.tracer.PokeWord(s.pid, addr, v); err != nil {
				errE = errors.Join(errE, wrap(ErrTargetAccess, err, "restore stack", "pid", s.pid, "addr", addr))
			}
		}
		if err := s.tracer.SetRegs(s.pid, &s.origRegs); err != nil {
			errE = errors.Join(errE, wrap(ErrTargetAccess, err, "restore registers", "pid", s.pid))
		}
	}
	if err := s.tracer.Detach(s.pid); err != nil {
		return errors.Join(errE, wrap(ErrTargetAccess, err, "ptrace detach", "pid", s.pid))
	}
	s.attached = false

	if s.pending != 0 {
		s.logger.Debug("redelivering signal", "pid", s.pid, "signal", s.pending.String())
		if err := s.tracer.Kill(s.pid, s.pending); err != nil {
			errE = errors.Join(errE, wrap(ErrTargetAccess, err, "kill", "pid", s.pid, "signal", s.pending.String()))
		}
	}
	return errE
}

// restop brings a target that was resumed by a timed-out step back into
// a ptrace stop so it can be restored. Any stop will do.
func (s *session) restop() errors.E {
	if err := s.tracer.Interrupt(s.pid); err != nil {
		return wrap(ErrTargetAccess, err, "ptrace interrupt", "pid", s.pid)
	}
	errE := s.waitStop(context.Background(), unix.PTRACE_EVENT_STOP, false)
	if errE != nil && (s.running || s.gone) {
		return errE
	}
	return nil
}
