package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/HelloWorldSungin/claude-strategist/internal/log"
)

// Local runs the worker on this host.
type Local struct {
	grace  time.Duration
	logger *slog.Logger
}

// NewLocal creates a local executor. A non-positive grace uses DefaultKillGrace.
func NewLocal(grace time.Duration) *Local {
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	return &Local{
		grace:  grace,
		logger: log.WithComponent("executor").With("target", "local"),
	}
}

// Run spawns spec.Command with spec.Args and waits for it to finish, the
// timeout to fire, or ctx to end.
func (l *Local) Run(ctx context.Context, spec Spec) (Result, error) {
	started := time.Now()
	res := Result{ExitCode: -1}
	finish := func(err error) (Result, error) {
		res.Elapsed = time.Since(started)
		res.Err = err
		return res, err
	}

	if spec.Command == "" {
		return finish(transportError("spawn", errors.New("command is empty")))
	}
	if err := ctx.Err(); err != nil {
		return finish(canceledError(err))
	}

	// Termination is managed here, so no CommandContext.
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.SysProcAttr = processGroupAttr()
	cmd.WaitDelay = l.grace
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := l.logger.With("command", spec.Command, "timeout", spec.Timeout.String())
	logger.Debug("spawning worker", "args", len(spec.Args), "stdin_bytes", len(spec.Stdin))

	if err := cmd.Start(); err != nil {
		return finish(transportError("spawn", err))
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	collect := func() {
		res.Output = stdout.String()
		res.Stderr = stderr.String()
	}

	select {
	case <-timeoutC:
		logger.Warn("worker timed out, sending SIGTERM")
		l.terminate(cmd, waitErr, logger)
		collect()
		return finish(timeoutError(spec.Timeout))

	case <-ctx.Done():
		logger.Warn("worker canceled, sending SIGTERM")
		l.terminate(cmd, waitErr, logger)
		collect()
		return finish(canceledError(ctx.Err()))

	case err := <-waitErr:
		collect()
		if err == nil {
			res.ExitCode = 0
			logger.Debug("worker exited", "elapsed", time.Since(started).String())
			return finish(nil)
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ExitCode() >= 0 {
			res.ExitCode = ee.ExitCode()
			logger.Warn("worker exited with non-zero status", "exit_code", res.ExitCode)
			return finish(exitError(res.ExitCode))
		}
		if ee != nil && ee.ProcessState != nil {
			logger.Warn("worker terminated by signal", "state", ee.ProcessState.String())
			return finish(signaledError(ee.ProcessState.String()))
		}
		return finish(transportError("wait", err))
	}
}

// terminate signals the process group and escalates to SIGKILL after the
// grace period. It returns once Wait has returned.
func (l *Local) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := signalGroup(cmd, sigTerm); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(l.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("worker exited after SIGTERM")
	case <-grace.C:
		logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, sigKill); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

// mergeEnv overlays overrides onto base. Override order is made deterministic.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		name := kv
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				name = kv[:i]
				break
			}
		}
		if _, replaced := overrides[name]; replaced {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
