//go:build linux

package inject

import (
	"github.com/rsturla/setrlimit/pkg/rlimit"
)

const (
	wordSize   = 8
	recordSize = 2 * wordSize
)

// Record is the kernel's two-word limit record.
type Record struct {
	Cur uint64
	Max uint64
}

func (r Record) String() string {
	return rlimit.FormatValue(r.Cur) + "/" + rlimit.FormatValue(r.Max)
}

// AtHard reports whether the soft limit already equals the hard limit.
func (r Record) AtHard() bool {
	return r.Cur == r.Max
}

// Raised returns r with the soft limit lifted to the hard limit. The hard
// limit is never touched.
func (r Record) Raised() Record {
	return Record{Cur: r.Max, Max: r.Max}
}

func (r Record) valid() bool {
	return r.Cur <= r.Max
}

func (r Record) words() [2]uint64 {
	return [2]uint64{r.Cur, r.Max}
}

func recordFromWords(w [2]uint64) Record {
	return Record{Cur: w[0], Max: w[1]}
}
