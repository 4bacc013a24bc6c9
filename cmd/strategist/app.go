package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HelloWorldSungin/claude-strategist/internal/admission"
	"github.com/HelloWorldSungin/claude-strategist/internal/api"
	"github.com/HelloWorldSungin/claude-strategist/internal/cache"
	"github.com/HelloWorldSungin/claude-strategist/internal/config"
	"github.com/HelloWorldSungin/claude-strategist/internal/executor"
	"github.com/HelloWorldSungin/claude-strategist/internal/freshness"
	"github.com/HelloWorldSungin/claude-strategist/internal/log"
	"github.com/HelloWorldSungin/claude-strategist/internal/metrics"
	"github.com/HelloWorldSungin/claude-strategist/internal/notify"
	"github.com/HelloWorldSungin/claude-strategist/internal/records"
	"github.com/HelloWorldSungin/claude-strategist/internal/relay"
	"github.com/HelloWorldSungin/claude-strategist/internal/scheduler"
	"github.com/HelloWorldSungin/claude-strategist/internal/scrub"
	"github.com/HelloWorldSungin/claude-strategist/internal/storage"
)

// shutdownGrace bounds how long detached tasks may keep running after a
// shutdown signal before they are canceled.
const shutdownGrace = 30 * time.Second

// app holds the assembled service.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *storage.DB
	runs       *records.Store
	cache      *cache.Store
	metrics    *metrics.Metrics
	notifier   notify.Notifier
	dispatcher *relay.Dispatcher
	scheduler  *scheduler.Scheduler
	monitor    *freshness.Monitor
	api        *api.Server

	closers []func() error
}

// buildApp wires every component from cfg. The caller must Close the result.
func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log.WithComponent("main")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = storage.Open(ctx, cfg.State.DBDriver, cfg.State.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)
	a.runs = records.New(a.db)

	a.cache, err = cache.New(cfg.State.CacheDir)
	if err != nil {
		return nil, err
	}

	localExec, remoteExec, err := buildExecutors(cfg)
	if err != nil {
		return nil, err
	}

	a.notifier = a.buildNotifier()
	a.metrics = metrics.New()
	scrubber := buildScrubber(cfg)

	a.dispatcher, err = relay.New(relay.Options{
		Authorizer:       relay.NewAuthorizer(cfg.Auth.PrincipalID),
		Limiter:          admission.NewRateLimiter(cfg.Admission.SpawnWindow, cfg.Admission.SpawnCapacity),
		Guard:            admission.NewGuard(cfg.Admission.ConstrainedCeiling),
		Local:            localExec,
		Remote:           remoteExec,
		Commands:         relay.CommandsFromConfig(cfg),
		CacheDocs:        relay.CacheDocsFromConfig(cfg),
		Cache:            a.cache,
		Notifier:         a.notifier,
		Metrics:          a.metrics,
		Scrubber:         scrubber,
		MaxMessageLength: cfg.Delivery.MaxMessageLength,
		MaxErrorLength:   cfg.Delivery.MaxErrorLength,
		MaxPayloadBytes:  cfg.Admission.MaxPayloadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}

	lc, rc := cfg.Executor.Local, cfg.Executor.Remote
	a.scheduler, err = scheduler.New(scheduler.Options{
		Jobs: cfg.Jobs,
		Local: executor.Spec{
			Command: lc.Command, Args: lc.Args, Dir: lc.Dir, Env: lc.Env,
			Timeout: cfg.Executor.Timeouts.Spawn,
		},
		Remote: executor.Spec{
			Command: rc.Command, Args: rc.Args, Dir: rc.Dir, Env: rc.Env,
			Timeout: rc.Timeouts.Spawn,
		},
		LocalExec:   localExec,
		RemoteExec:  remoteExec,
		Runs:        a.runs,
		Cache:       a.cache,
		Notifier:    a.notifier,
		Metrics:     a.metrics,
		Scrubber:    scrubber,
		Logger:      log.Get(),
		MaxErrorLen: cfg.Delivery.MaxErrorLength,
	})
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	a.monitor = freshness.New(buildProbes(cfg, a.runs, a.cache), a.notifier, cfg.Freshness.ProbeTimeout)

	a.api = api.New(api.Config{
		Listen:       cfg.API.Listen,
		Token:        cfg.API.Token,
		MaxBodyBytes: int64(2*cfg.Admission.MaxPayloadBytes + 4096),
	}, api.Deps{
		Dispatcher: a.dispatcher,
		Cache:      a.cache,
		Runs:       a.runs,
		Freshness:  a.monitor,
		Metrics:    a.metrics.Handler(),
	}, log.WithComponent("api"))

	return a, nil
}

// buildExecutors returns nil interfaces, not typed nils, for targets that
// are not configured.
func buildExecutors(cfg *config.Config) (local, remote executor.Executor, err error) {
	if cfg.Executor.Local.Command != "" {
		local = executor.NewLocal(cfg.Executor.KillGrace)
	}
	rc := cfg.Executor.Remote
	if !rc.Enabled() {
		return local, nil, nil
	}
	transport, err := executor.NewSSHTransport(executor.SSHConfig{
		Host:           rc.Host,
		Port:           rc.Port,
		User:           rc.User,
		KeyFile:        rc.KeyFile,
		KnownHostsFile: rc.KnownHostsFile,
		DialTimeout:    rc.DialTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("remote executor: %w", err)
	}
	remote = executor.NewRemote(transport, executor.RemoteOptions{
		StageDir:  rc.StageDir,
		KillGrace: cfg.Executor.KillGrace,
	})
	return local, remote, nil
}

func (a *app) buildNotifier() notify.Notifier {
	n := a.cfg.Notify
	var sinks notify.Multi
	if n.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(n.WebhookURL, n.WebhookSecret, a.cfg.Service.Name, n.Timeout))
	}
	if n.RedisAddr != "" {
		r := notify.NewRedis(n.RedisAddr, n.RedisKey, a.cfg.Service.Name)
		a.closers = append(a.closers, r.Close)
		sinks = append(sinks, r)
	}
	switch len(sinks) {
	case 0:
		a.logger.Warn("no notifier configured; alerts will only be logged")
		return notify.Nop{}
	case 1:
		return sinks[0]
	}
	return sinks
}

// buildScrubber adds the configured secrets to the default patterns.
func buildScrubber(cfg *config.Config) *scrub.Scrubber {
	var extra []scrub.Pattern
	for name, secret := range map[string]string{
		"api_token":      cfg.API.Token,
		"webhook_secret": cfg.Notify.WebhookSecret,
	} {
		if len(secret) >= 8 {
			extra = append(extra, scrub.Literal(name, secret))
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	return scrub.New(extra...)
}

func buildProbes(cfg *config.Config, runs *records.Store, docs *cache.Store) []freshness.Probe {
	f := cfg.Freshness
	client := &http.Client{Timeout: f.ProbeTimeout}

	var probes []freshness.Probe
	switch {
	case f.LivenessURL != "":
		probes = append(probes, freshness.HTTP("liveness", f.LivenessURL, client))
	case cfg.API.Enabled:
		probes = append(probes, freshness.HTTP("liveness", "http://"+cfg.API.Listen+"/healthz", client))
	}
	probes = append(probes, freshness.Ping("database", runs))

	for _, doc := range sortedKeys(f.CacheMaxAge) {
		probes = append(probes, freshness.CacheAge(docs, doc, f.CacheMaxAge[doc]))
	}
	for _, job := range sortedKeys(f.JobMaxGap) {
		probes = append(probes, freshness.JobGap(runs, job, f.JobMaxGap[job], time.Now))
	}
	return probes
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// run supervises the long-lived components until ctx ends or one fails,
// then drains detached tasks.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.scheduler.Run(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	if a.cfg.Freshness.Enabled {
		g.Go(func() error {
			if err := a.monitor.Run(gctx, a.cfg.Freshness.Interval); err != nil {
				return fmt.Errorf("freshness: %w", err)
			}
			return nil
		})
	}
	if a.cfg.API.Enabled {
		g.Go(func() error {
			if err := a.api.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		a.logger.Info("API server enabled", "listen", a.cfg.API.Listen)
	}

	a.logger.Info("strategist running (press Ctrl+C to stop)")
	runErr := g.Wait()

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.dispatcher.Wait(waitCtx); err != nil {
		a.logger.Warn("detached tasks canceled at shutdown", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
