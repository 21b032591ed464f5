//go:build linux

package inject

import (
	"golang.org/x/sys/unix"
)

// abi describes how to inject a system call on one instruction set.
type abi struct {
	name string

	// insn is the system call instruction as it appears in the low bytes
	// of a little-endian word; insnMask covers exactly those bytes.
	insn     uint64
	insnMask uint64
	insnLen  uint64

	// redZone is the area below the stack pointer that leaf functions
	// may use without moving it.
	redZone uint64

	getrlimit uint64
	setrlimit uint64

	pc  func(*unix.PtraceRegs) uint64
	sp  func(*unix.PtraceRegs) uint64
	ret func(*unix.PtraceRegs) uint64

	// prepare loads a call number and three arguments. Every other
	// register keeps its value.
	prepare func(regs *unix.PtraceRegs, nr uint64, args [3]uint64)
}

// armed returns word with the system call instruction patched over its
// low bytes.
func (a *abi) armed(word uint64) uint64 {
	return word&^a.insnMask | a.insn
}

// scratch returns a word-aligned address for the limit record, below
// the red zone.
func (a *abi) scratch(regs *unix.PtraceRegs) uintptr {
	return uintptr((a.sp(regs) - a.redZone - recordSize) &^ (wordSize - 1))
}
