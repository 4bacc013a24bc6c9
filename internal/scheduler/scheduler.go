// Package scheduler runs unattended background jobs on fixed intervals.
// Every run goes through the retry wrapper and the executor, is recorded as
// a run record and may refresh a cache document.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HelloWorldSungin/claude-strategist/internal/cache"
	"github.com/HelloWorldSungin/claude-strategist/internal/config"
	"github.com/HelloWorldSungin/claude-strategist/internal/executor"
	"github.com/HelloWorldSungin/claude-strategist/internal/metrics"
	"github.com/HelloWorldSungin/claude-strategist/internal/notify"
	"github.com/HelloWorldSungin/claude-strategist/internal/records"
	"github.com/HelloWorldSungin/claude-strategist/internal/retry"
	"github.com/HelloWorldSungin/claude-strategist/internal/scrub"
)

// DefaultTickInterval is how often due jobs are checked.
const DefaultTickInterval = 30 * time.Second

// Options wires a Scheduler.
type Options struct {
	Jobs []config.JobConfig
	// Local and Remote carry the executable and base args for each target.
	Local       executor.Spec
	Remote      executor.Spec
	LocalExec   executor.Executor
	RemoteExec  executor.Executor
	Runs        RunStore
	Cache       DocWriter
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
	Scrubber    *scrub.Scrubber
	Logger      *slog.Logger
	Tick        time.Duration
	MaxErrorLen int
}

type job struct {
	cfg     config.JobConfig
	every   time.Duration
	next    time.Time
	running atomic.Bool
}

// Scheduler manages background job runs. A job never overlaps itself.
type Scheduler struct {
	opts   Options
	jobs   []*job
	logger *slog.Logger
	stopCh chan struct{}
	once   sync.Once
	mu     sync.Mutex // guards job.next
	wg     sync.WaitGroup
	now    func() time.Time
}

// New validates job intervals and targets.
func New(opts Options) (*Scheduler, error) {
	if opts.Runs == nil {
		return nil, errors.New("scheduler: run store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Scrubber == nil {
		opts.Scrubber = scrub.New()
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTickInterval
	}
	if opts.MaxErrorLen <= 0 {
		opts.MaxErrorLen = scrub.DefaultMaxLength
	}

	s := &Scheduler{
		opts:   opts,
		logger: opts.Logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	for _, jc := range opts.Jobs {
		every, err := config.ParseInterval(jc.Every)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", jc.Name, err)
		}
		if s.executorFor(jc.Target) == nil {
			return nil, fmt.Errorf("job %s: no %s executor configured", jc.Name, jc.Target)
		}
		s.jobs = append(s.jobs, &job{cfg: jc, every: every})
	}
	// Sorted for deterministic iteration.
	sort.Slice(s.jobs, func(i, j int) bool { return s.jobs[i].cfg.Name < s.jobs[j].cfg.Name })
	return s, nil
}

// Start seeds each job's next run from its last success and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "jobs", len(s.jobs))
	s.seed(ctx)
	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop ends the tick loop and waits for running jobs.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// seed schedules a job one interval after its last success so restarts do
// not rerun everything at once. Jobs that never succeeded are due now.
func (s *Scheduler) seed(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, j := range s.jobs {
		last, ok, err := s.opts.Runs.LastSuccess(ctx, j.cfg.Name)
		switch {
		case err != nil:
			s.logger.Warn("Failed to read last success, scheduling now", "job", j.cfg.Name, "error", err)
			j.next = now
		case !ok:
			j.next = now
		default:
			j.next = last.Add(calculateJitteredInterval(j.every, j.cfg.Jitter))
		}
		s.logger.Debug("Job scheduled", "job", j.cfg.Name, "next", j.next.UTC().Format(time.RFC3339))
	}
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick launches every due job that is not already running.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, j := range s.jobs {
		if now.Before(j.next) {
			continue
		}
		if !j.running.CompareAndSwap(false, true) {
			s.logger.Debug("Skipped job, previous run still active", "job", j.cfg.Name)
			continue
		}
		j.next = now.Add(calculateJitteredInterval(j.every, j.cfg.Jitter))

		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()
			defer j.running.Store(false)
			s.runJob(ctx, j.cfg)
		}(j)
	}
}

func (s *Scheduler) executorFor(target string) executor.Executor {
	if target == "remote" {
		return s.opts.RemoteExec
	}
	return s.opts.LocalExec
}

func (s *Scheduler) specFor(jc config.JobConfig) executor.Spec {
	base := s.opts.Local
	if jc.Target == "remote" {
		base = s.opts.Remote
	}
	spec := base
	spec.Args = append(append([]string(nil), base.Args...), jc.Args...)
	spec.Env = map[string]string{"STRATEGIST_JOB": jc.Name}
	for k, v := range base.Env {
		spec.Env[k] = v
	}
	if jc.Payload != "" {
		spec.Stdin = []byte(jc.Payload)
	}
	if jc.Timeout > 0 {
		spec.Timeout = jc.Timeout
	}
	return spec
}

// runJob executes one job run end to end and returns its record.
func (s *Scheduler) runJob(ctx context.Context, jc config.JobConfig) records.Run {
	logger := s.logger.With("job", jc.Name, "target", jc.Target)
	exec := s.executorFor(jc.Target)
	spec := s.specFor(jc)
	started := s.now()

	var (
		attempts int
		last     executor.Result
	)
	policy := retry.Policy{
		Label:      "job " + jc.Name,
		MaxRetries: jc.MaxRetries,
		BaseDelay:  jc.BaseDelay,
		Logger:     logger,
	}
	res, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (executor.Result, error) {
		attempts = attempt
		r, err := exec.Run(ctx, spec)
		last = r
		if errors.Is(err, executor.ErrCanceled) {
			return r, retry.Permanent(err)
		}
		return r, err
	})

	run := records.Run{
		Job:       jc.Name,
		Attempts:  attempts,
		StartedAt: started,
		Duration:  s.now().Sub(started),
	}
	if err != nil {
		run.Status = records.StatusFailure
		run.Error = s.failureText(err, last.Stderr)
		logger.Error("Job failed", "attempts", attempts, "exit_code", last.ExitCode, "error", err)
	} else {
		run.Status = records.StatusSuccess
		logger.Info("Job succeeded", "attempts", attempts, "duration", run.Duration.String())
		s.store(jc, res.Output, logger)
	}

	// Recording uses a fresh context so a shutdown still leaves a trace.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	stored, aerr := s.opts.Runs.Append(recCtx, run)
	if aerr != nil {
		logger.Error("Failed to record job run", "error", aerr)
	} else {
		run = stored
	}
	s.opts.Metrics.JobRun(jc.Name, string(run.Status), run.Duration)

	switch {
	case err != nil:
		notify.BestEffort(recCtx, s.opts.Notifier, logger,
			fmt.Sprintf("Job %s failed after %d attempt(s): %s", jc.Name, attempts, run.Error))
	case jc.NotifyOnSuccess:
		notify.BestEffort(recCtx, s.opts.Notifier, logger,
			fmt.Sprintf("Job %s completed in %s.", jc.Name, run.Duration.Round(time.Second)))
	}
	return run
}

func (s *Scheduler) failureText(err error, stderr string) string {
	msg := err.Error()
	if st := strings.TrimSpace(stderr); st != "" {
		msg += ": " + st
	}
	return s.opts.Scrubber.Bounded(msg, s.opts.MaxErrorLen)
}

func (s *Scheduler) store(jc config.JobConfig, output string, logger *slog.Logger) {
	if jc.CacheDoc == "" || s.opts.Cache == nil {
		return
	}
	doc := cache.OutputDocument(output, map[string]string{
		"job": jc.Name,
		"at":  s.now().UTC().Format(time.RFC3339),
	})
	if err := s.opts.Cache.Write(jc.CacheDoc, doc); err != nil {
		logger.Warn("Failed to write cache document", "doc", jc.CacheDoc, "error", err)
	}
}

// Next reports when each job is due, keyed by job name.
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.jobs))
	for _, j := range s.jobs {
		out[j.cfg.Name] = j.next
	}
	return out
}

// calculateJitteredInterval adds a random jitter to the base interval.
func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	return baseInterval + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
