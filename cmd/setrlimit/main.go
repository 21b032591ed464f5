package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rsturla/setrlimit/pkg/config"
	"github.com/rsturla/setrlimit/pkg/inject"
	"github.com/rsturla/setrlimit/pkg/logging"
	"github.com/rsturla/setrlimit/pkg/podman"
	"github.com/rsturla/setrlimit/pkg/proctree"
	"github.com/rsturla/setrlimit/pkg/rlimit"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	flagConfig      string
	flagResource    string
	flagRecursive   bool
	flagList        bool
	flagDryRun      bool
	flagVerbose     int
	flagMatch       string
	flagContainers  []string
	flagStopTimeout time.Duration
	flagLogLevel    string
	flagLogFormat   string
	flagLogFile     string
	flagSudo        bool
	flagEscalated   bool
)

// errTargetsFailed is returned when at least one target kept its limit.
var errTargetsFailed = errors.New("some targets failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, errTargetsFailed) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(125)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "setrlimit [options] PID [PID...]",
		Short: "Raise a running process's soft resource limit to its hard limit",
		Long: `Raise the soft resource limit of running processes to their hard limit.

Each target is stopped with ptrace and made to call getrlimit and setrlimit
on its own behalf. Its code, stack and registers are restored before it is
resumed, so it carries on exactly where it was interrupted.

Tracing processes owned by other users needs root or CAP_SYS_PTRACE.`,
		RunE:                  run,
		Version:               version,
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		Example: `  setrlimit -r nofile 1234
  setrlimit -R -r core $(pidof nginx)
  setrlimit -R --match 'php-fpm*' -r nofile 812
  setrlimit --container web -R -r nofile
  setrlimit -l`,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&flagConfig, "config", "", "YAML or JSON config file")
	flags.StringVarP(&flagResource, "resource", "r", rlimit.Default, "Limit to raise, by name or number (see --list)")
	flags.BoolVarP(&flagRecursive, "recursive", "R", false, "Include all live descendants of each target")
	flags.BoolVarP(&flagList, "list", "l", false, "List known limit names and exit")
	flags.BoolVarP(&flagDryRun, "dry-run", "n", false, "Report limits without changing them")
	flags.CountVarP(&flagVerbose, "verbose", "v", "More logging, repeat for debug output")
	flags.StringVar(&flagMatch, "match", "", "Only descendants whose command name matches this glob")
	flags.StringArrayVar(&flagContainers, "container", nil, "Add a podman container's init process as a target")
	flags.DurationVar(&flagStopTimeout, "stop-timeout", inject.DefaultStopTimeout, "Give up on a target that does not stop within this time (0 waits forever)")
	flags.StringVar(&flagLogLevel, "log-level", "warn", "Base log level: debug, info, warn, error")
	flags.StringVar(&flagLogFormat, "log-format", "text", `Log format: "text", "json"`)
	flags.StringVar(&flagLogFile, "log-file", "", "Write logs to this file, rotated by size")
	flags.BoolVar(&flagSudo, "sudo", false, "Retry failed targets through sudo")
	flags.BoolVar(&flagEscalated, "escalated", false, "")
	_ = flags.MarkHidden("escalated")

	return rootCmd
}

// applyFlags overrides file settings with flags given on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("resource") {
		cfg.Resource = flagResource
	}
	if f.Changed("recursive") {
		cfg.Recursive = flagRecursive
	}
	if f.Changed("dry-run") {
		cfg.DryRun = flagDryRun
	}
	if f.Changed("match") {
		cfg.Match = flagMatch
	}
	if f.Changed("stop-timeout") {
		cfg.StopTimeout = flagStopTimeout
	}
	if f.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
	if f.Changed("log-file") {
		cfg.Log.File = flagLogFile
	}
}

func run(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	rep := newReporter(out, isTerminal(out))
	if flagList {
		rep.resources(rlimit.All())
		return nil
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	rep.dryRun = cfg.DryRun

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(logging.Options{
		Level:      logging.Verbose(level, flagVerbose),
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Output:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closeLog()

	res, err := rlimit.Lookup(cfg.Resource)
	if errors.Is(err, rlimit.ErrUnknownResource) {
		logger.Warn("unknown resource limit, using default", "resource", cfg.Resource, "default", rlimit.Default)
		res, err = rlimit.Lookup(rlimit.Default)
	}
	if err != nil {
		return err
	}

	seeds, err := parsePIDs(args)
	if err != nil {
		return err
	}
	for _, name := range flagContainers {
		pid, err := podman.ContainerPID(name)
		if err != nil {
			return err
		}
		logger.Info("resolved container", "container", name, "pid", pid)
		seeds = append(seeds, pid)
	}
	if len(seeds) == 0 {
		return errors.New("no target processes given")
	}

	resolver, err := proctree.NewResolver(os.DirFS(cfg.ProcRoot),
		proctree.WithLogger(logger),
		proctree.WithCommandFilter(cfg.Match))
	if err != nil {
		return err
	}
	targets, err := resolver.Resolve(seeds, cfg.Recursive)
	if err != nil {
		return err
	}

	injector, err := inject.New(inject.Options{
		Logger:      logger,
		StopTimeout: cfg.StopTimeout,
		DryRun:      cfg.DryRun,
	})
	if err != nil {
		return err
	}

	b := enforceAll(cmd.Context(), injector, targets.Slice(), res, rep)
	if len(b.failed) == 0 {
		return nil
	}
	if shouldEscalate(cmd.Context(), b) {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cannot determine own executable path: %w", err)
		}
		return reexecViaSudo(escalationArgs(self, res, cfg, flagVerbose, b.denied), len(b.denied))
	}
	if rep.needPrivilege {
		fmt.Fprintln(cmd.ErrOrStderr(), "Note: tracing processes of other users needs root or CAP_SYS_PTRACE; retry with sudo or --sudo.")
	}
	return errTargetsFailed
}

var geteuid = os.Geteuid

// shouldEscalate reports whether --sudo applies. Only a batch whose every
// failure was a refused attach is retried, and never after an interrupt.
func shouldEscalate(ctx context.Context, b batch) bool {
	if !flagSudo || flagEscalated || geteuid() == 0 || ctx.Err() != nil {
		return false
	}
	return len(b.denied) > 0 && len(b.denied) == len(b.failed)
}

// enforcer is the part of inject.Injector the driver needs.
type enforcer interface {
	Enforce(ctx context.Context, pid int, resource int) (inject.Outcome, error)
}

// batch lists the targets that kept their limit.
type batch struct {
	// failed includes targets never started because ctx was canceled.
	failed []int
	// denied is the subset of failed that could not be traced at all.
	denied []int
}

// enforceAll handles targets one at a time.
func enforceAll(ctx context.Context, e enforcer, pids []int, res rlimit.Resource, rep *reporter) batch {
	var b batch
	for _, pid := range pids {
		if ctx.Err() != nil {
			rep.skipped(pid, res)
			b.failed = append(b.failed, pid)
			continue
		}
		out, err := e.Enforce(ctx, pid, res.ID)
		if err != nil {
			rep.failure(pid, res, err)
			b.failed = append(b.failed, pid)
			if inject.KindOf(err) == inject.KindAttach {
				b.denied = append(b.denied, pid)
			}
			continue
		}
		rep.success(out, res)
	}
	return b
}

func parsePIDs(args []string) ([]int, error) {
	pids := make([]int, 0, len(args))
	for _, arg := range args {
		pid, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pid %q", arg)
		}
		if pid < 1 {
			return nil, fmt.Errorf("refusing to trace pid %d", pid)
		}
		if pid == os.Getpid() {
			return nil, fmt.Errorf("refusing to trace myself (pid %d)", pid)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
