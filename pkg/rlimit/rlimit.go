//go:build linux

// Package rlimit maps resource limit names to the kernel's limit
// numbers and formats limit values for display.
package rlimit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Default is the limit raised when none is named.
const Default = "core"

// maxResources is RLIM_NLIMITS on Linux.
const maxResources = 16

// ErrUnknownResource is returned by Lookup for names that are neither a
// known limit nor a numeric literal in range.
var ErrUnknownResource = errors.New("unknown resource limit")

// Resource describes one kernel resource limit.
type Resource struct {
	Name        string
	Description string
	Unit        string
	ID          int
}

func (r Resource) String() string {
	return r.Name
}

// resources is ordered by ID.
var resources = []Resource{
	{"cpu", "CPU time", "seconds", unix.RLIMIT_CPU},
	{"fsize", "file size", "bytes", unix.RLIMIT_FSIZE},
	{"data", "data segment size", "bytes", unix.RLIMIT_DATA},
	{"stack", "stack size", "bytes", unix.RLIMIT_STACK},
	{"core", "core file size", "bytes", unix.RLIMIT_CORE},
	{"rss", "resident set size", "bytes", unix.RLIMIT_RSS},
	{"nproc", "user processes", "", unix.RLIMIT_NPROC},
	{"nofile", "open files", "", unix.RLIMIT_NOFILE},
	{"memlock", "locked-in-memory size", "bytes", unix.RLIMIT_MEMLOCK},
	{"as", "address space", "bytes", unix.RLIMIT_AS},
	{"locks", "file locks", "", unix.RLIMIT_LOCKS},
	{"sigpending", "pending signals", "", unix.RLIMIT_SIGPENDING},
	{"msgqueue", "bytes in POSIX message queues", "bytes", unix.RLIMIT_MSGQUEUE},
	{"nice", "nice ceiling", "", unix.RLIMIT_NICE},
	{"rtprio", "real-time priority", "", unix.RLIMIT_RTPRIO},
	{"rttime", "real-time CPU time without blocking", "microseconds", unix.RLIMIT_RTTIME},
}

// aliases are historical names still accepted on input.
var aliases = map[string]string{
	"ofile": "nofile",
	"vmem":  "as",
}

// All returns every known limit, ordered by ID.
func All() []Resource {
	out := make([]Resource, len(resources))
	copy(out, resources)
	return out
}

// ByID returns the limit with the given kernel number.
func ByID(id int) (Resource, bool) {
	for _, r := range resources {
		if r.ID == id {
			return r, true
		}
	}
	return Resource{}, false
}

// Lookup resolves a limit by name ("nofile", "NOFILE", "RLIMIT_NOFILE")
// or by its kernel number.
func Lookup(s string) (Resource, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "rlimit_")
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	for _, r := range resources {
		if r.Name == name {
			return r, nil
		}
	}

	id, err := strconv.Atoi(name)
	if err != nil || id < 0 || id >= maxResources {
		return Resource{}, fmt.Errorf("%w: %q", ErrUnknownResource, s)
	}
	if r, ok := ByID(id); ok {
		return r, nil
	}
	return Resource{Name: strconv.Itoa(id), ID: id}, nil
}

// FormatValue renders a limit value, spelling out RLIM_INFINITY.
func FormatValue(v uint64) string {
	if v == unix.RLIM_INFINITY {
		return "unlimited"
	}
	return strconv.FormatUint(v, 10)
}
