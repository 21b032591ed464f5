//go:build linux && amd64

package inject

import (
	"golang.org/x/sys/unix"
)

const (
	statusInterrupted = unix.WaitStatus(0x7f | int(unix.SIGTRAP)<<8 | unix.PTRACE_EVENT_STOP<<16)
	statusStepped     = unix.WaitStatus(0x7f | int(unix.SIGTRAP)<<8)
)

func signalStop(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(0x7f | int(sig)<<8)
}

func groupStop(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(0x7f | int(sig)<<8 | unix.PTRACE_EVENT_STOP<<16)
}

func exited(code int) unix.WaitStatus {
	return unix.WaitStatus(code << 8)
}

func killed(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(sig)
}

const (
	fakePID  = 4242
	fakePC   = 0x401000
	fakeSP   = 0x7ffc1000
	fakeSlot = (fakeSP - 128 - recordSize) &^ (wordSize - 1)
	fakeCode = 0x8877665544332211
)

// fakeProc simulates a seized process closely enough to run the
// injection protocol: it executes the syscall instruction when the word
// at the instruction pointer holds one and refuses memory and register
// access while the process is not stopped.
type fakeProc struct {
	regs   unix.PtraceRegs
	mem    map[uintptr]uint64
	limits map[int]Record

	seizeErr error
	// onInterrupt replaces the single interrupt stop when non-nil.
	onInterrupt []unix.WaitStatus
	// onStep replaces the next step results, one per single step.
	onStep []unix.WaitStatus
	// getErrno makes the injected getrlimit fail.
	getErrno unix.Errno
	// pcSkew is added to the instruction pointer after a syscall.
	pcSkew uint64

	queue    []unix.WaitStatus
	attached bool
	stopped  bool
	gone     bool

	calls    []string
	syscalls []uint64
	pokes    map[uintptr][]uint64
	conts    []unix.Signal
	kills    []unix.Signal
}

func newFakeProc() *fakeProc {
	p := &fakeProc{
		mem: map[uintptr]uint64{
			fakePC:              fakeCode,
			fakeSlot:            0xdead,
			fakeSlot + wordSize: 0xbeef,
		},
		limits: map[int]Record{
			unix.RLIMIT_NOFILE: {Cur: 1024, Max: 4096},
			unix.RLIMIT_CORE:   {Cur: 0, Max: unix.RLIM_INFINITY},
			unix.RLIMIT_STACK:  {Cur: 8 << 20, Max: 8 << 20},
		},
		pokes: map[uintptr][]uint64{},
	}
	p.regs.Rip = fakePC
	p.regs.Rsp = fakeSP
	intr := unix.EINTR
	p.regs.Rax = uint64(-int64(intr))
	p.regs.Orig_rax = unix.SYS_NANOSLEEP
	p.regs.Rdi = 0x1111
	p.regs.Rsi = 0x2222
	p.regs.Rdx = 0x3333
	p.regs.R10 = 0x4444
	return p
}

func (p *fakeProc) snapshotMem() map[uintptr]uint64 {
	out := make(map[uintptr]uint64, len(p.mem))
	for k, v := range p.mem {
		out[k] = v
	}
	return out
}

func (p *fakeProc) count(call string) int {
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *fakeProc) usable() error {
	switch {
	case p.gone:
		return unix.ESRCH
	case !p.attached || !p.stopped:
		return unix.ESRCH
	}
	return nil
}

func (p *fakeProc) Seize(pid int) error {
	p.calls = append(p.calls, "seize")
	if p.seizeErr != nil {
		return p.seizeErr
	}
	p.attached = true
	return nil
}

func (p *fakeProc) Interrupt(pid int) error {
	p.calls = append(p.calls, "interrupt")
	if !p.attached {
		return unix.ESRCH
	}
	if p.onInterrupt != nil {
		p.queue = append(p.queue, p.onInterrupt...)
		p.onInterrupt = nil
		return nil
	}
	p.queue = append(p.queue, statusInterrupted)
	return nil
}

func (p *fakeProc) Wait(pid int, status *unix.WaitStatus, options int) (int, error) {
	p.calls = append(p.calls, "wait")
	if p.gone || !p.attached {
		return -1, unix.ECHILD
	}
	if len(p.queue) == 0 {
		if options&unix.WNOHANG != 0 {
			return 0, nil
		}
		return -1, unix.ECHILD
	}
	*status = p.queue[0]
	p.queue = p.queue[1:]
	switch {
	case status.Exited(), status.Signaled():
		p.gone = true
	case status.Stopped():
		p.stopped = true
	}
	return pid, nil
}

func (p *fakeProc) Cont(pid int, sig unix.Signal) error {
	p.calls = append(p.calls, "cont")
	if err := p.usable(); err != nil {
		return err
	}
	p.conts = append(p.conts, sig)
	p.stopped = false
	return nil
}

func (p *fakeProc) GetRegs(pid int, regs *unix.PtraceRegs) error {
	p.calls = append(p.calls, "getregs")
	if err := p.usable(); err != nil {
		return err
	}
	*regs = p.regs
	return nil
}

func (p *fakeProc) SetRegs(pid int, regs *unix.PtraceRegs) error {
	p.calls = append(p.calls, "setregs")
	if err := p.usable(); err != nil {
		return err
	}
	p.regs = *regs
	return nil
}

func (p *fakeProc) PeekWord(pid int, addr uintptr) (uint64, error) {
	p.calls = append(p.calls, "peek")
	if err := p.usable(); err != nil {
		return 0, err
	}
	v, ok := p.mem[addr]
	if !ok {
		return 0, unix.EIO
	}
	return v, nil
}

func (p *fakeProc) PokeWord(pid int, addr uintptr, word uint64) error {
	p.calls = append(p.calls, "poke")
	if err := p.usable(); err != nil {
		return err
	}
	if _, ok := p.mem[addr]; !ok {
		return unix.EIO
	}
	p.mem[addr] = word
	p.pokes[addr] = append(p.pokes[addr], word)
	return nil
}

func (p *fakeProc) SingleStep(pid int) error {
	p.calls = append(p.calls, "singlestep")
	if err := p.usable(); err != nil {
		return err
	}
	p.stopped = false
	if len(p.onStep) > 0 {
		p.queue = append(p.queue, p.onStep[0])
		p.onStep = p.onStep[1:]
		return nil
	}
	if p.mem[uintptr(p.regs.Rip)]&0xffff == 0x050f {
		p.execSyscall()
		p.regs.Rip += 2 + p.pcSkew
	}
	p.queue = append(p.queue, statusStepped)
	return nil
}

func (p *fakeProc) execSyscall() {
	nr := p.regs.Rax
	p.syscalls = append(p.syscalls, nr)
	errno := func(e unix.Errno) uint64 { return uint64(-int64(e)) }

	res := int(p.regs.Rdi)
	addr := uintptr(p.regs.Rsi)
	switch nr {
	case unix.SYS_GETRLIMIT:
		if p.getErrno != 0 {
			p.regs.Rax = errno(p.getErrno)
			return
		}
		lim := p.limits[res]
		p.mem[addr] = lim.Cur
		p.mem[addr+wordSize] = lim.Max
		p.regs.Rax = 0
	case unix.SYS_SETRLIMIT:
		want := Record{Cur: p.mem[addr], Max: p.mem[addr+wordSize]}
		switch {
		case want.Cur > want.Max:
			p.regs.Rax = errno(unix.EINVAL)
		case want.Max > p.limits[res].Max:
			p.regs.Rax = errno(unix.EPERM)
		default:
			p.limits[res] = want
			p.regs.Rax = 0
		}
	default:
		p.regs.Rax = errno(unix.ENOSYS)
	}
}

func (p *fakeProc) Detach(pid int) error {
	p.calls = append(p.calls, "detach")
	if err := p.usable(); err != nil {
		return err
	}
	p.attached = false
	p.stopped = false
	return nil
}

func (p *fakeProc) Kill(pid int, sig unix.Signal) error {
	p.calls = append(p.calls, "kill")
	p.kills = append(p.kills, sig)
	return nil
}
