//go:build linux && amd64

package inject

import (
	"golang.org/x/sys/unix"
)

var hostABI = &abi{
	name:      "amd64",
	insn:      0x050f, // syscall
	insnMask:  0xffff,
	insnLen:   2,
	redZone:   128,
	getrlimit: unix.SYS_GETRLIMIT,
	setrlimit: unix.SYS_SETRLIMIT,
	pc:        func(r *unix.PtraceRegs) uint64 { return r.Rip },
	sp:        func(r *unix.PtraceRegs) uint64 { return r.Rsp },
	ret:       func(r *unix.PtraceRegs) uint64 { return r.Rax },
	prepare: func(r *unix.PtraceRegs, nr uint64, args [3]uint64) {
		r.Rax = nr
		r.Rdi = args[0]
		r.Rsi = args[1]
		r.Rdx = args[2]
	},
}
