package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/rsturla/setrlimit/pkg/config"
	"github.com/rsturla/setrlimit/pkg/rlimit"
)

// escalationArgs builds the sudo command line that retries exactly the
// failed pids. They are already resolved, so recursion and filtering are
// not passed on.
func escalationArgs(self string, res rlimit.Resource, cfg config.Config, verbosity int, pids []int) []string {
	// argv[0] must be the program name for the exec'd binary.
	args := []string{
		"sudo", "--", self,
		"--escalated",
		"--resource", strconv.Itoa(res.ID),
		"--stop-timeout", cfg.StopTimeout.String(),
		"--log-level", cfg.Log.Level,
		"--log-format", cfg.Log.Format,
	}
	if cfg.DryRun {
		args = append(args, "--dry-run")
	}
	if cfg.Log.File != "" {
		args = append(args, "--log-file", cfg.Log.File)
	}
	for i := 0; i < verbosity; i++ {
		args = append(args, "-v")
	}
	for _, pid := range pids {
		args = append(args, strconv.Itoa(pid))
	}
	return args
}

// reexecViaSudo replaces the current process with sudo running args.
// It only returns on failure.
func reexecViaSudo(args []string, targets int) error {
	sudoBin, err := exec.LookPath("sudo")
	if err != nil {
		return fmt.Errorf("sudo not found in PATH: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Note: retrying %d target(s) through sudo.\n", targets)

	// Use exec (replaces the process) to preserve TTY, signals, exit code.
	if err := syscall.Exec(sudoBin, args, os.Environ()); err != nil {
		return fmt.Errorf("exec sudo: %w", err)
	}
	return nil
}
