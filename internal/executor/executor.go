package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error classes.
var (
	ErrTimeout   = errors.New("process timed out")
	ErrExit      = errors.New("process exited with non-zero status")
	ErrTransport = errors.New("process transport failure")
	ErrCanceled  = errors.New("process canceled")
)

// DefaultKillGrace is the wait between SIGTERM and SIGKILL.
const DefaultKillGrace = 5 * time.Second

// RemoteTimeoutFactor scales a local timeout into the remote default.
const RemoteTimeoutFactor = 2

// Spec describes one invocation.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Stdin   []byte
	Timeout time.Duration
}

// Result is produced once per Run. Err mirrors the returned error.
type Result struct {
	Output   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
	Err      error
}

// Failed reports whether the run produced an error.
func (r Result) Failed() bool { return r.Err != nil }

// Executor runs a worker to completion.
type Executor interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Error classifies a failed run.
type Error struct {
	Class    error
	ExitCode int
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Class.Error()
	if e.Class == ErrExit && e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Class }

func (e *Error) Unwrap() error { return e.Err }

// ExitError is returned by a Transport when the remote command ran and
// exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

func timeoutError(d time.Duration) error {
	return &Error{Class: ErrTimeout, ExitCode: -1, Detail: "exceeded " + d.String()}
}

func exitError(code int) error {
	return &Error{Class: ErrExit, ExitCode: code}
}

// signaledError reports a worker that ran but was terminated by a signal it
// did not get from us, such as the OOM killer.
func signaledError(state string) error {
	return &Error{Class: ErrExit, ExitCode: -1, Detail: state}
}

func transportError(detail string, err error) error {
	return &Error{Class: ErrTransport, ExitCode: -1, Detail: detail, Err: err}
}

func canceledError(err error) error {
	return &Error{Class: ErrCanceled, ExitCode: -1, Err: err}
}

// ExitCode extracts the worker exit code from err, or -1.
func ExitCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode
	}
	return -1
}
