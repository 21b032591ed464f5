//go:build linux

package rlimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"nofile", unix.RLIMIT_NOFILE},
		{"NOFILE", unix.RLIMIT_NOFILE},
		{"RLIMIT_NOFILE", unix.RLIMIT_NOFILE},
		{" rlimit_core ", unix.RLIMIT_CORE},
		{"ofile", unix.RLIMIT_NOFILE},
		{"vmem", unix.RLIMIT_AS},
		{"7", unix.RLIMIT_NOFILE},
		{"0", unix.RLIMIT_CPU},
		{"15", unix.RLIMIT_RTTIME},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, err := Lookup(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.ID)
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	for _, in := range []string{"", "bogus", "16", "-1", "nofiles"} {
		_, err := Lookup(in)
		assert.ErrorIs(t, err, ErrUnknownResource, "input %q", in)
	}
}

func TestLookup_Default(t *testing.T) {
	r, err := Lookup(Default)
	require.NoError(t, err)
	assert.Equal(t, unix.RLIMIT_CORE, r.ID)
}

func TestAll_OrderedAndIndexed(t *testing.T) {
	all := All()
	require.Len(t, all, maxResources)
	for i, r := range all {
		assert.Equal(t, i, r.ID, "%s", r.Name)

		got, ok := ByID(r.ID)
		require.True(t, ok)
		assert.Equal(t, r, got)
	}

	all[0].Name = "mutated"
	assert.Equal(t, "cpu", All()[0].Name)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "unlimited", FormatValue(unix.RLIM_INFINITY))
	assert.Equal(t, "0", FormatValue(0))
	assert.Equal(t, "4096", FormatValue(4096))
}
