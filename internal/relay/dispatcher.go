package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/HelloWorldSungin/claude-strategist/internal/admission"
	"github.com/HelloWorldSungin/claude-strategist/internal/cache"
	"github.com/HelloWorldSungin/claude-strategist/internal/delivery"
	"github.com/HelloWorldSungin/claude-strategist/internal/executor"
	"github.com/HelloWorldSungin/claude-strategist/internal/log"
	"github.com/HelloWorldSungin/claude-strategist/internal/metrics"
	"github.com/HelloWorldSungin/claude-strategist/internal/notify"
	"github.com/HelloWorldSungin/claude-strategist/internal/scrub"
)

// State is a step of the per-request state machine.
type State string

const (
	StateReceived           State = "received"
	StateAuthorized         State = "authorized"
	StateRateChecked        State = "rate_checked"
	StateConcurrencyChecked State = "concurrency_checked"
	StateExecuting          State = "executing"
	StateCompleted          State = "completed"
	StateRejected           State = "rejected"
	StateFailed             State = "failed"
	// StateAccepted means a constrained task was admitted and continues detached.
	StateAccepted State = "accepted"
)

// Targets for Command.
const (
	TargetLocal  = "local"
	TargetRemote = "remote"
)

// Command is how one request class reaches the worker. Spec carries the
// executable, base arguments and timeout; the payload is added per request.
type Command struct {
	Target string
	Spec   executor.Spec
}

// Outcome is what Dispatch reports back to the chat boundary.
type Outcome struct {
	RequestID string
	Class     Class
	State     State
	Err       error
	Segments  int
	Elapsed   time.Duration
}

// Stats is a point-in-time view of admission state.
type Stats struct {
	SpawnsInWindow      int `json:"spawns_in_window"`
	SpawnCapacity       int `json:"spawn_capacity"`
	ConstrainedInFlight int `json:"constrained_in_flight"`
	ConstrainedCeiling  int `json:"constrained_ceiling"`
	Detached            int `json:"detached"`
	RetryAfterSeconds   int `json:"retry_after_seconds"`
}

// Options wires the dispatcher's collaborators. Authorizer, Limiter, Guard
// and at least one executor are required.
type Options struct {
	Authorizer *Authorizer
	Limiter    *admission.RateLimiter
	Guard      *admission.Guard
	Local      executor.Executor
	Remote     executor.Executor
	Commands   map[Class]Command
	// CacheDocs names the cache document a class's output is written to.
	CacheDocs map[Class]string
	Cache     *cache.Store
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Scrubber  *scrub.Scrubber

	MaxMessageLength int
	MaxErrorLength   int
	MaxPayloadBytes  int
}

// Dispatcher runs requests through the relay state machine.
type Dispatcher struct {
	opts   Options
	logger *slog.Logger

	// base outlives every request so detached tasks do not depend on the
	// caller's context.
	base     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	detached atomic.Int64
	now      func() time.Time
}

// New creates a Dispatcher. Missing optional collaborators get defaults.
func New(opts Options) (*Dispatcher, error) {
	if opts.Authorizer == nil {
		return nil, errors.New("relay: authorizer is required")
	}
	if opts.Limiter == nil || opts.Guard == nil {
		return nil, errors.New("relay: rate limiter and concurrency guard are required")
	}
	if opts.Local == nil && opts.Remote == nil {
		return nil, errors.New("relay: at least one executor is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Scrubber == nil {
		opts.Scrubber = scrub.New()
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = delivery.DefaultMaxLength
	}
	if opts.MaxErrorLength <= 0 {
		opts.MaxErrorLength = scrub.DefaultMaxLength
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		opts:   opts,
		logger: log.WithComponent("relay"),
		base:   base,
		cancel: cancel,
		now:    time.Now,
	}, nil
}

// Dispatch takes req through authorization, admission and execution and
// replies through r. Rejections and failures produce exactly one reply.
// Constrained tasks return StateAccepted once acknowledged; their result is
// delivered through the notifier.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, r delivery.Replier) Outcome {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = d.now()
	}
	out := Outcome{RequestID: req.ID, Class: req.Class, State: StateReceived}
	logger := d.logger.With("request_id", req.ID, "class", string(req.Class))

	if err := d.opts.Authorizer.Authorize(req.Principal); err != nil {
		return d.reject(ctx, out, r, logger, err)
	}
	out.State = StateAuthorized

	if err := req.Validate(d.opts.MaxPayloadBytes); err != nil {
		return d.reject(ctx, out, r, logger, err)
	}
	cmd, exec, err := d.route(req.Class)
	if err != nil {
		return d.reject(ctx, out, r, logger, err)
	}

	if !d.opts.Limiter.Admit() {
		return d.reject(ctx, out, r, logger, ErrRateLimited)
	}
	out.State = StateRateChecked

	var slot *admission.Slot
	if req.Class.Constrained() {
		if slot = d.opts.Guard.TryAcquire(); slot == nil {
			return d.reject(ctx, out, r, logger, ErrConcurrencyLimited)
		}
		out.State = StateConcurrencyChecked
	}
	d.observeAdmission()

	spec := buildSpec(cmd, req)
	if slot != nil {
		return d.detach(ctx, out, req, cmd, exec, spec, slot, r, logger)
	}

	out.State = StateExecuting
	logger.Info("executing request", "target", cmd.Target, "timeout", spec.Timeout.String())
	res, err := exec.Run(ctx, spec)
	return d.complete(ctx, out, req, cmd, res, err, r, logger)
}

func (d *Dispatcher) route(class Class) (Command, executor.Executor, error) {
	cmd, ok := d.opts.Commands[class]
	if !ok || cmd.Spec.Command == "" {
		return Command{}, nil, fmt.Errorf("%w: %s", ErrExecutorUnavailable, class)
	}
	var exec executor.Executor
	switch cmd.Target {
	case TargetRemote:
		exec = d.opts.Remote
	default:
		exec = d.opts.Local
	}
	if exec == nil {
		return Command{}, nil, fmt.Errorf("%w: %s has no %s executor", ErrExecutorUnavailable, class, cmd.Target)
	}
	return cmd, exec, nil
}

// buildSpec copies the class spec and attaches the payload as stdin. The
// payload never becomes an argument.
func buildSpec(cmd Command, req Request) executor.Spec {
	spec := cmd.Spec
	spec.Args = append([]string(nil), cmd.Spec.Args...)
	spec.Env = make(map[string]string, len(cmd.Spec.Env)+2)
	for k, v := range cmd.Spec.Env {
		spec.Env[k] = v
	}
	spec.Env["STRATEGIST_REQUEST_ID"] = req.ID
	spec.Env["STRATEGIST_CLASS"] = string(req.Class)
	if req.Payload != "" {
		spec.Stdin = []byte(req.Payload)
	}
	return spec
}

func (d *Dispatcher) detach(ctx context.Context, out Outcome, req Request, cmd Command, exec executor.Executor, spec executor.Spec, slot *admission.Slot, r delivery.Replier, logger *slog.Logger) Outcome {
	d.wg.Add(1)
	d.detached.Add(1)
	go d.runDetached(req, cmd, exec, spec, slot, logger)

	ack := fmt.Sprintf("Accepted %s %s. The result will be sent when it finishes.", req.Class, shortID(req.ID))
	if err := r.Edit(ctx, ack); err != nil {
		logger.Warn("failed to acknowledge request", "error", err)
	}
	logger.Info("constrained task detached", "target", cmd.Target, "timeout", spec.Timeout.String())
	out.State = StateAccepted
	return out
}

// runDetached owns slot and releases it on every exit, including a panic.
func (d *Dispatcher) runDetached(req Request, cmd Command, exec executor.Executor, spec executor.Spec, slot *admission.Slot, logger *slog.Logger) {
	defer d.wg.Done()
	defer d.detached.Add(-1)
	defer func() {
		slot.Release()
		d.observeAdmission()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("internal error: %v", rec)
			logger.Error("detached task panicked", "panic", rec)
			d.opts.Metrics.Request(string(req.Class), "internal")
			notify.BestEffort(d.base, d.opts.Notifier, logger, d.failureText(err, ""))
		}
	}()

	out := Outcome{RequestID: req.ID, Class: req.Class, State: StateExecuting}
	res, err := exec.Run(d.base, spec)
	out = d.complete(d.base, out, req, cmd, res, err, notifyReplier{n: d.opts.Notifier}, logger)
	logger.Info("constrained task finished", "state", string(out.State), "elapsed", out.Elapsed.String())
}

func (d *Dispatcher) complete(ctx context.Context, out Outcome, req Request, cmd Command, res executor.Result, err error, r delivery.Replier, logger *slog.Logger) Outcome {
	out.Elapsed = res.Elapsed
	d.opts.Metrics.Exec(cmd.Target, string(req.Class), res.Elapsed)

	if err != nil {
		out.State = StateFailed
		out.Err = err
		reason := Classify(err)
		logger.Warn("request failed", "reason", reason, "exit_code", res.ExitCode, "elapsed", res.Elapsed.String())
		d.opts.Metrics.Request(string(req.Class), reason)
		d.reply(ctx, r, d.failureText(err, res.Stderr), logger)
		return out
	}

	d.store(req, res.Output, logger)

	n, derr := delivery.Deliver(ctx, r, res.Output, d.opts.MaxMessageLength)
	out.Segments = n
	out.State = StateCompleted
	d.opts.Metrics.Segments(n)
	d.opts.Metrics.Request(string(req.Class), "ok")
	if derr != nil {
		out.Err = derr
		logger.Warn("delivery incomplete", "segments_sent", n, "error", derr)
	}
	logger.Info("request completed", "segments", n, "elapsed", res.Elapsed.String())
	return out
}

func (d *Dispatcher) reject(ctx context.Context, out Outcome, r delivery.Replier, logger *slog.Logger, err error) Outcome {
	out.State = StateRejected
	out.Err = err
	reason := Classify(err)
	logger.Warn("request rejected", "reason", reason)
	d.opts.Metrics.Request(string(out.Class), reason)
	d.reply(ctx, r, d.rejectionText(err), logger)
	return out
}

func (d *Dispatcher) reply(ctx context.Context, r delivery.Replier, text string, logger *slog.Logger) {
	if err := r.Edit(ctx, text); err != nil {
		logger.Warn("failed to send reply", "error", err)
	}
}

func (d *Dispatcher) rejectionText(err error) string {
	switch {
	case errors.Is(err, ErrAuthorization):
		return "Not authorized."
	case errors.Is(err, ErrRateLimited):
		wait := d.opts.Limiter.RetryAfter().Round(time.Second)
		if wait < time.Second {
			wait = time.Second
		}
		return fmt.Sprintf("Too many tasks started recently. Try again in %s.", wait)
	case errors.Is(err, ErrConcurrencyLimited):
		return "A constrained task is already running. Try again when it finishes."
	default:
		return d.opts.Scrubber.Bounded("Rejected: "+err.Error(), d.opts.MaxErrorLength)
	}
}

// failureText is the single user-visible message for a failed execution.
// Diagnostics are scrubbed of secrets and bounded.
func (d *Dispatcher) failureText(err error, stderr string) string {
	msg := fmt.Sprintf("Task failed (%s): %v", Classify(err), err)
	if s := strings.TrimSpace(stderr); s != "" {
		msg += "\n" + s
	}
	return d.opts.Scrubber.Bounded(msg, d.opts.MaxErrorLength)
}

// store writes the class's cache document. Failures are logged only.
func (d *Dispatcher) store(req Request, output string, logger *slog.Logger) {
	name := d.opts.CacheDocs[req.Class]
	if name == "" || d.opts.Cache == nil {
		return
	}
	doc := cache.OutputDocument(output, map[string]string{
		"request_id": req.ID,
		"class":      string(req.Class),
		"at":         d.now().UTC().Format(time.RFC3339),
	})
	if err := d.opts.Cache.Write(name, doc); err != nil {
		logger.Warn("cache write failed", "doc", name, "error", err)
	}
}

func (d *Dispatcher) observeAdmission() {
	d.opts.Metrics.Admission(d.opts.Limiter.InUse(), d.opts.Guard.InFlight())
}

// Stats reports the current admission state.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		SpawnsInWindow:      d.opts.Limiter.InUse(),
		SpawnCapacity:       d.opts.Limiter.Capacity(),
		ConstrainedInFlight: d.opts.Guard.InFlight(),
		ConstrainedCeiling:  d.opts.Guard.Ceiling(),
		Detached:            int(d.detached.Load()),
		RetryAfterSeconds:   int(math.Ceil(d.opts.Limiter.RetryAfter().Seconds())),
	}
}

// Wait blocks until every detached task has finished. When ctx expires first
// the tasks are canceled, which terminates their workers, and Wait returns
// ctx's error once they have unwound.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("canceling detached tasks", "count", d.detached.Load())
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// notifyReplier delivers detached results through the notification boundary.
type notifyReplier struct {
	n notify.Notifier
}

func (r notifyReplier) Edit(ctx context.Context, text string) error { return r.n.Notify(ctx, text) }
func (r notifyReplier) Send(ctx context.Context, text string) error { return r.n.Notify(ctx, text) }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
