// Package inject raises a running process's soft resource limit to its
// hard limit by making the process call getrlimit and setrlimit itself.
//
// The target is seized with ptrace, stopped, and a syscall instruction is
// written over the word at its instruction pointer. Each injected call
// is prepared in the registers and executed with a single step; the
// limit record lives in a scratch slot below the stack pointer. Code,
// scratch memory and registers are restored before the target is
// detached, so it resumes exactly where it was interrupted.
package inject
