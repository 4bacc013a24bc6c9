package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloWorldSungin/claude-strategist/internal/admission"
	"github.com/HelloWorldSungin/claude-strategist/internal/cache"
	"github.com/HelloWorldSungin/claude-strategist/internal/delivery"
	"github.com/HelloWorldSungin/claude-strategist/internal/executor"
	"github.com/HelloWorldSungin/claude-strategist/internal/metrics"
)

const owner = "user-42"

// fakeExecutor runs fn for every spec it receives.
type fakeExecutor struct {
	mu    sync.Mutex
	specs []executor.Spec
	fn    func(ctx context.Context, spec executor.Spec) (executor.Result, error)
}

func (f *fakeExecutor) Run(ctx context.Context, spec executor.Spec) (executor.Result, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	if f.fn == nil {
		return executor.Result{Output: "ok"}, nil
	}
	return f.fn(ctx, spec)
}

func (f *fakeExecutor) calls() []executor.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Spec(nil), f.specs...)
}

func output(text string) func(context.Context, executor.Spec) (executor.Result, error) {
	return func(context.Context, executor.Spec) (executor.Result, error) {
		return executor.Result{Output: text, Elapsed: time.Millisecond}, nil
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

func testCommands() map[Class]Command {
	return map[Class]Command{
		ClassInstant:     {Target: TargetLocal, Spec: executor.Spec{Command: "claude", Args: []string{"--print"}, Timeout: time.Second}},
		ClassSpawn:       {Target: TargetLocal, Spec: executor.Spec{Command: "claude", Args: []string{"--print"}, Timeout: time.Second}},
		ClassConstrained: {Target: TargetRemote, Spec: executor.Spec{Command: "claude", Timeout: time.Second}},
	}
}

type fixture struct {
	d        *Dispatcher
	local    *fakeExecutor
	remote   *fakeExecutor
	notifier *recordingNotifier
	opts     Options
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		local:    &fakeExecutor{},
		remote:   &fakeExecutor{},
		notifier: &recordingNotifier{},
	}
	opts := Options{
		Authorizer: NewAuthorizer(owner),
		Limiter:    admission.NewRateLimiter(time.Minute, 5),
		Guard:      admission.NewGuard(1),
		Local:      f.local,
		Remote:     f.remote,
		Commands:   testCommands(),
		Notifier:   f.notifier,
		Metrics:    metrics.New(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	d, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Wait(ctx)
	})
	f.d = d
	f.opts = opts
	return f
}

func request(class Class, payload string) Request {
	return Request{Principal: owner, Class: class, Payload: payload}
}

func TestAuthorizerFailsClosed(t *testing.T) {
	a := NewAuthorizer("")
	for _, p := range []string{"", owner, "anything"} {
		assert.ErrorIs(t, a.Authorize(p), ErrAuthorization, "principal %q", p)
	}

	a = NewAuthorizer(owner)
	assert.NoError(t, a.Authorize(owner))
	assert.ErrorIs(t, a.Authorize("user-43"), ErrAuthorization)
	assert.ErrorIs(t, a.Authorize(""), ErrAuthorization)
}

func TestDispatchUnconfiguredPrincipalRejectsEverything(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Authorizer = NewAuthorizer("") })

	for _, p := range []string{"", owner} {
		var buf delivery.Buffer
		out := f.d.Dispatch(context.Background(), Request{Principal: p, Class: ClassInstant}, &buf)
		assert.Equal(t, StateRejected, out.State)
		assert.ErrorIs(t, out.Err, ErrAuthorization)
		assert.Equal(t, []string{"Not authorized."}, buf.Segments())
	}
	assert.Empty(t, f.local.calls())
	assert.Equal(t, 0, f.d.Stats().SpawnsInWindow, "rejected requests must not spend budget")
}

func TestDispatchInstantDeliversChunks(t *testing.T) {
	text := strings.Repeat("word ", 30)
	f := newFixture(t, func(o *Options) { o.MaxMessageLength = 40 })
	f.local.fn = output(text)

	var buf delivery.Buffer
	out := f.d.Dispatch(context.Background(), request(ClassInstant, ""), &buf)

	require.Equal(t, StateCompleted, out.State)
	require.NoError(t, out.Err)
	segs := buf.Segments()
	assert.Equal(t, len(segs), out.Segments)
	assert.Greater(t, len(segs), 1)
	for _, s := range segs {
		assert.LessOrEqual(t, len([]rune(s)), 40)
	}
	assert.Equal(t, strings.TrimSpace(text), strings.Join(segs, " "))
	assert.NotEmpty(t, out.RequestID)
}

func TestDispatchPayloadTravelsOnStdin(t *testing.T) {
	f := newFixture(t)
	payload := `summarize "$(rm -rf /)"; echo pwned`

	var buf delivery.Buffer
	out := f.d.Dispatch(context.Background(), request(ClassSpawn, payload), &buf)
	require.Equal(t, StateCompleted, out.State)

	calls := f.local.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []byte(payload), calls[0].Stdin)
	assert.Equal(t, []string{"--print"}, calls[0].Args)
	assert.Equal(t, out.RequestID, calls[0].Env["STRATEGIST_REQUEST_ID"])
	assert.Equal(t, string(ClassSpawn), calls[0].Env["STRATEGIST_CLASS"])
}

func TestDispatchRateLimitSharedAcrossClasses(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Limiter = admission.NewRateLimiter(time.Minute, 2) })

	var a, b, c delivery.Buffer
	assert.Equal(t, StateCompleted, f.d.Dispatch(context.Background(), request(ClassInstant, ""), &a).State)
	assert.Equal(t, StateCompleted, f.d.Dispatch(context.Background(), request(ClassSpawn, "task"), &b).State)

	out := f.d.Dispatch(context.Background(), request(ClassInstant, ""), &c)
	assert.Equal(t, StateRejected, out.State)
	assert.ErrorIs(t, out.Err, ErrRateLimited)
	require.Len(t, c.Segments(), 1)
	assert.Contains(t, c.Segments()[0], "Try again in")
	assert.Len(t, f.local.calls(), 2)
}

func TestDispatchConstrainedRunsDetached(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.remote.fn = func(ctx context.Context, spec executor.Spec) (executor.Result, error) {
		<-release
		return executor.Result{Output: "research done"}, nil
	}

	var first delivery.Buffer
	out := f.d.Dispatch(context.Background(), request(ClassConstrained, "dig into rates"), &first)
	require.Equal(t, StateAccepted, out.State)
	require.Len(t, first.Segments(), 1)
	assert.Contains(t, first.Segments()[0], "Accepted")
	assert.Equal(t, 1, f.d.Stats().ConstrainedInFlight)

	var second delivery.Buffer
	out2 := f.d.Dispatch(context.Background(), request(ClassConstrained, "again"), &second)
	assert.Equal(t, StateRejected, out2.State)
	assert.ErrorIs(t, out2.Err, ErrConcurrencyLimited)
	assert.Len(t, second.Segments(), 1)

	close(release)
	require.NoError(t, f.d.Wait(context.Background()))

	assert.Equal(t, 0, f.d.Stats().ConstrainedInFlight)
	assert.Equal(t, 0, f.d.Stats().Detached)
	assert.Equal(t, []string{"research done"}, f.notifier.all())
}

func TestDetachedTaskReleasesSlotOnEveryExit(t *testing.T) {
	cases := map[string]func(context.Context, executor.Spec) (executor.Result, error){
		"success": output("fine"),
		"failure": func(context.Context, executor.Spec) (executor.Result, error) {
			err := &executor.Error{Class: executor.ErrExit, ExitCode: 3}
			return executor.Result{ExitCode: 3, Stderr: "boom", Err: err}, err
		},
		"panic": func(context.Context, executor.Spec) (executor.Result, error) {
			panic("worker exploded")
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.remote.fn = fn

			for i := 0; i < 2; i++ {
				var buf delivery.Buffer
				out := f.d.Dispatch(context.Background(), request(ClassConstrained, "task"), &buf)
				require.Equal(t, StateAccepted, out.State, "run %d", i)
				require.NoError(t, f.d.Wait(context.Background()))
				assert.Equal(t, 0, f.opts.Guard.InFlight())
			}
			assert.Len(t, f.notifier.all(), 2, "one notification per task")
		})
	}
}

func TestDispatchFailureIsScrubbedAndBounded(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxErrorLength = 120 })
	f.local.fn = func(context.Context, executor.Spec) (executor.Result, error) {
		err := &executor.Error{Class: executor.ErrExit, ExitCode: 1}
		stderr := "auth failed with sk-ant-REDACTED\n" + strings.Repeat("trace line\n", 500)
		return executor.Result{ExitCode: 1, Stderr: stderr, Err: err}, err
	}

	var buf delivery.Buffer
	out := f.d.Dispatch(context.Background(), request(ClassSpawn, "task"), &buf)

	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, executor.ErrExit)
	segs := buf.Segments()
	require.Len(t, segs, 1, "a failure yields exactly one reply")
	assert.LessOrEqual(t, len([]rune(segs[0])), 120)
	assert.Contains(t, segs[0], "Task failed (exit)")
	assert.NotContains(t, segs[0], "sk-ant-abcdefgh")
}

func TestDispatchTimeoutClassified(t *testing.T) {
	f := newFixture(t)
	f.local.fn = func(context.Context, executor.Spec) (executor.Result, error) {
		err := &executor.Error{Class: executor.ErrTimeout}
		return executor.Result{ExitCode: -1, Err: err}, err
	}

	var buf delivery.Buffer
	out := f.d.Dispatch(context.Background(), request(ClassInstant, ""), &buf)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "timeout", Classify(out.Err))
	assert.True(t, Retryable(out.Err))
	assert.Contains(t, buf.Segments()[0], "(timeout)")
}

func TestDispatchValidationBeforeAdmission(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxPayloadBytes = 8 })

	cases := []Request{
		{Principal: owner, Class: "bogus"},
		{Principal: owner, Class: ClassSpawn, Payload: "   "},
		{Principal: owner, Class: ClassSpawn, Payload: "far too long for the limit"},
		{Principal: owner, Class: ClassSpawn, Payload: "a\x00b"},
	}
	for _, req := range cases {
		var buf delivery.Buffer
		out := f.d.Dispatch(context.Background(), req, &buf)
		assert.Equal(t, StateRejected, out.State)
		assert.ErrorIs(t, out.Err, ErrValidation)
		assert.Len(t, buf.Segments(), 1)
	}
	assert.Equal(t, 0, f.d.Stats().SpawnsInWindow)
	assert.Empty(t, f.local.calls())
}

func TestDispatchMissingExecutor(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Remote = nil })

	var buf delivery.Buffer
	out := f.d.Dispatch(context.Background(), request(ClassConstrained, "task"), &buf)
	assert.Equal(t, StateRejected, out.State)
	assert.ErrorIs(t, out.Err, ErrExecutorUnavailable)
	assert.Equal(t, 0, f.opts.Guard.InFlight())
}

func TestDispatchWritesCacheDocument(t *testing.T) {
	store, err := cache.New(t.TempDir())
	require.NoError(t, err)

	f := newFixture(t, func(o *Options) {
		o.Cache = store
		o.CacheDocs = map[Class]string{ClassInstant: "status", ClassSpawn: "last_task"}
	})

	f.local.fn = output(`{"equity": 1000}`)
	var a delivery.Buffer
	f.d.Dispatch(context.Background(), request(ClassInstant, ""), &a)

	doc, ok := store.Read("status")
	require.True(t, ok)
	assert.JSONEq(t, `{"equity": 1000}`, string(doc.Data))

	f.local.fn = output("plain text answer")
	var b delivery.Buffer
	out := f.d.Dispatch(context.Background(), request(ClassSpawn, "task"), &b)

	var wrapped struct {
		Output    string `json:"output"`
		RequestID string `json:"request_id"`
		Class     string `json:"class"`
	}
	require.True(t, store.ReadInto("last_task", &wrapped))
	assert.Equal(t, "plain text answer", wrapped.Output)
	assert.Equal(t, out.RequestID, wrapped.RequestID)
	assert.Equal(t, string(ClassSpawn), wrapped.Class)
}

func TestWaitCancelsDetachedTasks(t *testing.T) {
	f := newFixture(t)
	f.remote.fn = func(ctx context.Context, spec executor.Spec) (executor.Result, error) {
		<-ctx.Done()
		err := &executor.Error{Class: executor.ErrCanceled, Err: ctx.Err()}
		return executor.Result{Err: err}, err
	}

	var buf delivery.Buffer
	require.Equal(t, StateAccepted, f.d.Dispatch(context.Background(), request(ClassConstrained, "slow"), &buf).State)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := f.d.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, f.opts.Guard.InFlight())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Authorizer: NewAuthorizer(owner), Limiter: admission.NewRateLimiter(0, 0), Guard: admission.NewGuard(1)})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := map[string]error{
		"ok":                  nil,
		"authorization":       ErrAuthorization,
		"rate_limited":        ErrRateLimited,
		"concurrency_limited": ErrConcurrencyLimited,
		"validation":          ErrValidation,
		"exit":                &executor.Error{Class: executor.ErrExit},
		"transport":           &executor.Error{Class: executor.ErrTransport},
		"canceled":            context.Canceled,
		"state_io":            &cache.StateIOError{Op: "write", Name: "x", Err: errors.New("disk full")},
		"internal":            errors.New("mystery"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Classify(err))
	}
	assert.False(t, Retryable(ErrRateLimited))
}
