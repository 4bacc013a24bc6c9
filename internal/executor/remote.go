package executor

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/HelloWorldSungin/claude-strategist/internal/log"
)

// Transport executes a single command string on a remote host. A command
// that ran and exited non-zero must be reported as *ExitError; any other
// error is treated as a transport failure.
type Transport interface {
	Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) error
}

// RemoteOptions configures a Remote executor.
type RemoteOptions struct {
	// StageDir, when set, receives the payload as <StageDir>/<blake3>.in
	// before the worker starts; the worker then reads it from that file.
	StageDir string
	// KillGrace is passed to timeout(1) as -k.
	KillGrace time.Duration
	// NoTimeoutWrapper disables wrapping the remote command in timeout(1).
	NoTimeoutWrapper bool
}

// Remote runs the worker through a Transport.
type Remote struct {
	transport Transport
	opts      RemoteOptions
	logger    *slog.Logger
}

// NewRemote creates a remote executor.
func NewRemote(t Transport, opts RemoteOptions) *Remote {
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	return &Remote{
		transport: t,
		opts:      opts,
		logger:    log.WithComponent("executor").With("target", "remote"),
	}
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Run executes spec on the remote host. spec.Timeout is used as given; see
// RemoteTimeoutFactor for how callers derive it.
func (r *Remote) Run(ctx context.Context, spec Spec) (Result, error) {
	started := time.Now()
	res := Result{ExitCode: -1}
	finish := func(err error) (Result, error) {
		res.Elapsed = time.Since(started)
		res.Err = err
		return res, err
	}

	command, err := r.BuildCommand(spec)
	if err != nil {
		return finish(transportError("build command", err))
	}
	if err := ctx.Err(); err != nil {
		return finish(canceledError(err))
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var stdin io.Reader
	if spec.Stdin != nil {
		stdin = bytes.NewReader(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer

	logger := r.logger.With("command", spec.Command, "timeout", spec.Timeout.String())
	logger.Debug("starting remote worker", "stdin_bytes", len(spec.Stdin))

	err = r.transport.Exec(runCtx, command, stdin, &stdout, &stderr)
	res.Output = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case err == nil:
		res.ExitCode = 0
		return finish(nil)
	case ctx.Err() != nil:
		logger.Warn("remote worker canceled")
		return finish(canceledError(ctx.Err()))
	case runCtx.Err() != nil:
		logger.Warn("remote worker timed out")
		return finish(timeoutError(spec.Timeout))
	}

	var ee *ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.Code
		// timeout(1) exits 124 when it had to stop the command.
		if !r.opts.NoTimeoutWrapper && spec.Timeout > 0 && (ee.Code == 124 || ee.Code == 137) {
			return finish(timeoutError(spec.Timeout))
		}
		logger.Warn("remote worker exited with non-zero status", "exit_code", ee.Code)
		return finish(exitError(ee.Code))
	}
	logger.Error("remote transport failed", "error", err)
	return finish(transportError("remote exec", err))
}

// BuildCommand assembles the remote command string. Every element is
// quoted; the payload is never part of it.
func (r *Remote) BuildCommand(spec Spec) (string, error) {
	if spec.Command == "" {
		return "", errors.New("command is empty")
	}

	argv := make([]string, 0, len(spec.Args)+8)
	if len(spec.Env) > 0 {
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			if !envKeyPattern.MatchString(k) {
				return "", fmt.Errorf("invalid environment variable name %q", k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		argv = append(argv, "env")
		for _, k := range keys {
			argv = append(argv, k+"="+spec.Env[k])
		}
	}
	if !r.opts.NoTimeoutWrapper && spec.Timeout > 0 {
		argv = append(argv, "timeout",
			"-k", seconds(r.opts.KillGrace),
			seconds(spec.Timeout))
	}
	argv = append(argv, spec.Command)
	argv = append(argv, spec.Args...)

	run := joinQuoted(argv)

	var b strings.Builder
	if spec.Dir != "" {
		b.WriteString("cd " + shellQuote(spec.Dir) + " && ")
	}

	if r.opts.StageDir == "" || spec.Stdin == nil {
		b.WriteString("exec " + run)
		return b.String(), nil
	}

	staged := StagedPath(r.opts.StageDir, spec.Stdin)
	q := shellQuote(staged)
	fmt.Fprintf(&b, "umask 077 && mkdir -p %s && cat > %s && %s < %s; rc=$?; rm -f %s; exit $rc",
		shellQuote(r.opts.StageDir), q, run, q, q)
	return b.String(), nil
}

// StagedPath returns the content-addressed remote path for payload.
func StagedPath(dir string, payload []byte) string {
	sum := blake3.Sum256(payload)
	return path.Join(dir, hex.EncodeToString(sum[:])+".in")
}

func seconds(d time.Duration) string {
	s := int64(d.Round(time.Second) / time.Second)
	if s < 1 {
		s = 1
	}
	return strconv.FormatInt(s, 10)
}

func joinQuoted(argv []string) string {
	q := make([]string, len(argv))
	for i, a := range argv {
		q[i] = shellQuote(a)
	}
	return strings.Join(q, " ")
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellQuote quotes v for a POSIX shell.
func shellQuote(v string) string {
	if v != "" && shellSafe.MatchString(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
}
