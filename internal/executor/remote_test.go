package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	command string
	stdin   []byte
	stdout  string
	stderr  string
	err     error
	block   bool
}

func (f *fakeTransport) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) error {
	f.command = command
	if stdin != nil {
		f.stdin, _ = io.ReadAll(stdin)
	}
	_, _ = io.WriteString(stdout, f.stdout)
	_, _ = io.WriteString(stderr, f.stderr)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

// shellTransport runs the command string with the local /bin/sh, standing in
// for the remote login shell.
type shellTransport struct{}

func (shellTransport) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 500 * time.Millisecond
	err := cmd.Run()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Code: ee.ExitCode()}
	}
	return err
}

func TestRemotePayloadTravelsOnStdin(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{stdout: "ok"}
	r := NewRemote(ft, RemoteOptions{})
	payload := []byte("research: '; rm -rf / #")

	res, err := r.Run(context.Background(), Spec{
		Command: "/opt/worker/bin/claude",
		Args:    []string{"--print", "--output-format", "text"},
		Dir:     "/srv/strategist",
		Stdin:   payload,
		Timeout: 40 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, payload, ft.stdin)
	assert.NotContains(t, ft.command, "rm -rf")
	assert.Equal(t,
		"cd /srv/strategist && exec timeout -k 5 2400 /opt/worker/bin/claude --print --output-format text",
		ft.command)
}

func TestRemoteExitAndTransportClassification(t *testing.T) {
	t.Parallel()

	res, err := NewRemote(&fakeTransport{stderr: "bad", err: &ExitError{Code: 2}}, RemoteOptions{}).
		Run(context.Background(), Spec{Command: "w", Timeout: time.Second})
	require.ErrorIs(t, err, ErrExit)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "bad", res.Stderr)

	_, err = NewRemote(&fakeTransport{err: errors.New("connection refused")}, RemoteOptions{}).
		Run(context.Background(), Spec{Command: "w", Timeout: time.Second})
	require.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = NewRemote(&fakeTransport{err: &ExitError{Code: 124}}, RemoteOptions{}).
		Run(context.Background(), Spec{Command: "w", Timeout: time.Second})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRemoteTimeoutAndCancel(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := NewRemote(&fakeTransport{block: true}, RemoteOptions{}).
		Run(context.Background(), Spec{Command: "w", Timeout: 100 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = NewRemote(&fakeTransport{block: true}, RemoteOptions{}).
		Run(ctx, Spec{Command: "w", Timeout: time.Minute})
	require.ErrorIs(t, err, ErrCanceled)
}

func TestBuildCommandQuoting(t *testing.T) {
	t.Parallel()
	r := NewRemote(nil, RemoteOptions{NoTimeoutWrapper: true})

	cmd, err := r.BuildCommand(Spec{
		Command: "worker",
		Args:    []string{"it's", "a b", ""},
		Env:     map[string]string{"MODE": "deep research"},
	})
	require.NoError(t, err)
	assert.Equal(t, `exec env 'MODE=deep research' worker 'it'"'"'s' 'a b' ''`, cmd)

	_, err = r.BuildCommand(Spec{Command: "w", Env: map[string]string{"BAD;NAME": "x"}})
	require.Error(t, err)

	_, err = r.BuildCommand(Spec{})
	require.Error(t, err)
}

func TestBuildCommandStagesPayloadByDigest(t *testing.T) {
	t.Parallel()
	r := NewRemote(nil, RemoteOptions{StageDir: "/tmp/strategist", NoTimeoutWrapper: true})
	payload := []byte("secret prompt")

	cmd, err := r.BuildCommand(Spec{Command: "worker", Stdin: payload})
	require.NoError(t, err)

	staged := StagedPath("/tmp/strategist", payload)
	assert.True(t, strings.HasPrefix(staged, "/tmp/strategist/"))
	assert.Len(t, strings.TrimSuffix(filepath.Base(staged), ".in"), 64)
	assert.Contains(t, cmd, "cat > "+staged)
	assert.Contains(t, cmd, "worker < "+staged)
	assert.NotContains(t, cmd, "secret")
	assert.Equal(t, staged, StagedPath("/tmp/strategist", payload))
	assert.NotEqual(t, staged, StagedPath("/tmp/strategist", []byte("other")))
}

func TestRemoteCommandRunsUnderRealShell(t *testing.T) {
	t.Parallel()
	script := writeScript(t, `cat; for a in "$@"; do printf '[%s]' "$a"; done`)
	stage := t.TempDir()
	hostile := []string{"$(id)", "`id`", "a'b", "x; echo y", ""}

	for _, opts := range []RemoteOptions{
		{NoTimeoutWrapper: true},
		{StageDir: filepath.Join(stage, "in"), NoTimeoutWrapper: true},
	} {
		res, err := NewRemote(shellTransport{}, opts).Run(context.Background(), Spec{
			Command: script,
			Args:    hostile,
			Stdin:   []byte("body;$(id)\n"),
			Timeout: 10 * time.Second,
		})
		require.NoError(t, err, "opts %+v", opts)

		var want bytes.Buffer
		want.WriteString("body;$(id)\n")
		for _, a := range hostile {
			want.WriteString("[" + a + "]")
		}
		assert.Equal(t, want.String(), res.Output)
	}

	left, _ := os.ReadDir(filepath.Join(stage, "in"))
	assert.Empty(t, left, "staged payload should be removed after the run")
}

func TestRemoteWrapperEnforcesTimeoutOnHost(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("timeout"); err != nil {
		t.Skip("timeout(1) not available")
	}
	script := writeScript(t, `sleep 30`)

	start := time.Now()
	_, err := NewRemote(shellTransport{}, RemoteOptions{KillGrace: time.Second}).Run(context.Background(), Spec{
		Command: script,
		Timeout: time.Second,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
