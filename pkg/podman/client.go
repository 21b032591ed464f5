// Package podman shells out to the podman CLI to find the host PID of a
// container's init process.
package podman

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Binary is the podman executable looked up in PATH.
var Binary = "podman"

// ErrNotRunning is returned for containers without live processes.
var ErrNotRunning = errors.New("container is not running")

// ContainerInfo holds the subset of container metadata needed to find
// its processes.
type ContainerInfo struct {
	ID    string
	State string // "running", "paused", "stopped", "exited", "created", "configured"
	PID   int    // Only valid when running/paused
}

// inspectResult is the subset of podman inspect JSON we care about.
type inspectResult struct {
	ID    string `json:"Id"`
	State struct {
		Status string `json:"Status"`
		PID    int    `json:"Pid"`
	} `json:"State"`
}

// InspectContainer shells out to `podman container inspect` and
// returns the container's ID, state, and PID.
func InspectContainer(nameOrID string) (*ContainerInfo, error) {
	out, err := exec.Command(Binary, "container", "inspect", "--format", "json", nameOrID).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("inspecting container %s: %s", nameOrID, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("inspecting container %s: %w", nameOrID, err)
	}
	return parseInspect(nameOrID, out)
}

func parseInspect(nameOrID string, out []byte) (*ContainerInfo, error) {
	var results []inspectResult
	if err := json.Unmarshal(out, &results); err != nil {
		return nil, fmt.Errorf("parsing inspect output: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no inspect data for %s", nameOrID)
	}

	return &ContainerInfo{
		ID:    results[0].ID,
		State: results[0].State.Status,
		PID:   results[0].State.PID,
	}, nil
}

// ContainerPID returns the host PID of the init process of a running or
// paused container.
func ContainerPID(nameOrID string) (int, error) {
	ctr, err := InspectContainer(nameOrID)
	if err != nil {
		return 0, err
	}
	return ctr.initPID(nameOrID)
}

func (c *ContainerInfo) initPID(nameOrID string) (int, error) {
	switch c.State {
	case "running", "paused":
		if c.PID < 1 {
			return 0, fmt.Errorf("container %s reports no PID", nameOrID)
		}
		return c.PID, nil
	default:
		return 0, fmt.Errorf("%w: %s is %s", ErrNotRunning, nameOrID, c.State)
	}
}
