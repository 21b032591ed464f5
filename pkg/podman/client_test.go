package podman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInspect(t *testing.T) {
	out := []byte(`[{"Id": "f00d", "State": {"Status": "running", "Pid": 3141}, "Name": "web"}]`)

	ctr, err := parseInspect("web", out)
	require.NoError(t, err)
	assert.Equal(t, &ContainerInfo{ID: "f00d", State: "running", PID: 3141}, ctr)

	pid, err := ctr.initPID("web")
	require.NoError(t, err)
	assert.Equal(t, 3141, pid)
}

func TestParseInspect_Errors(t *testing.T) {
	_, err := parseInspect("web", []byte(`[]`))
	assert.ErrorContains(t, err, "no inspect data for web")

	_, err = parseInspect("web", []byte(`{`))
	assert.ErrorContains(t, err, "parsing inspect output")
}

func TestInitPID(t *testing.T) {
	tests := []struct {
		state   string
		pid     int
		wantErr error
	}{
		{"paused", 77, nil},
		{"exited", 0, ErrNotRunning},
		{"created", 0, ErrNotRunning},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			pid, err := (&ContainerInfo{State: tt.state, PID: tt.pid}).initPID("db")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pid, pid)
		})
	}

	_, err := (&ContainerInfo{State: "running"}).initPID("db")
	assert.ErrorContains(t, err, "reports no PID")
}

func TestContainerPID_MissingBinary(t *testing.T) {
	old := Binary
	Binary = "/nonexistent/podman"
	t.Cleanup(func() { Binary = old })

	_, err := ContainerPID("web")
	assert.ErrorContains(t, err, "inspecting container web")
}
