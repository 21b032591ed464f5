//go:build linux

package inject

import (
	"encoding/binary"
	"io"

	"golang.org/x/sys/unix"
)

// Tracer is the set of ptrace primitives a session uses. All calls for
// one pid must come from the OS thread that seized it.
type Tracer interface {
	Seize(pid int) error
	Interrupt(pid int) error
	Wait(pid int, status *unix.WaitStatus, options int) (int, error)
	Cont(pid int, sig unix.Signal) error
	GetRegs(pid int, regs *unix.PtraceRegs) error
	SetRegs(pid int, regs *unix.PtraceRegs) error
	PeekWord(pid int, addr uintptr) (uint64, error)
	PokeWord(pid int, addr uintptr, word uint64) error
	SingleStep(pid int) error
	Detach(pid int) error
	Kill(pid int, sig unix.Signal) error
}

// ptraceTracer talks to the kernel.
type ptraceTracer struct{}

func (ptraceTracer) Seize(pid int) error {
	return unix.PtraceSeize(pid)
}

func (ptraceTracer) Interrupt(pid int) error {
	return unix.PtraceInterrupt(pid)
}

func (ptraceTracer) Wait(pid int, status *unix.WaitStatus, options int) (int, error) {
	return unix.Wait4(pid, status, options, nil)
}

func (ptraceTracer) Cont(pid int, sig unix.Signal) error {
	return unix.PtraceCont(pid, int(sig))
}

func (ptraceTracer) GetRegs(pid int, regs *unix.PtraceRegs) error {
	return unix.PtraceGetRegs(pid, regs)
}

func (ptraceTracer) SetRegs(pid int, regs *unix.PtraceRegs) error {
	return unix.PtraceSetRegs(pid, regs)
}

func (ptraceTracer) PeekWord(pid int, addr uintptr) (uint64, error) {
	var buf [wordSize]byte
	n, err := unix.PtracePeekData(pid, addr, buf[:])
	if err != nil {
		return 0, err
	}
	if n != wordSize {
		return 0, io.ErrUnexpectedEOF
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

func (ptraceTracer) PokeWord(pid int, addr uintptr, word uint64) error {
	var buf [wordSize]byte
	binary.NativeEndian.PutUint64(buf[:], word)
	n, err := unix.PtracePokeData(pid, addr, buf[:])
	if err != nil {
		return err
	}
	if n != wordSize {
		return io.ErrShortWrite
	}
	return nil
}

func (ptraceTracer) SingleStep(pid int) error {
	return unix.PtraceSingleStep(pid)
}

func (ptraceTracer) Detach(pid int) error {
	return unix.PtraceDetach(pid)
}

func (ptraceTracer) Kill(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}
