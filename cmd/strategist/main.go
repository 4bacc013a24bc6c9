package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/HelloWorldSungin/claude-strategist/internal/cache"
	"github.com/HelloWorldSungin/claude-strategist/internal/config"
	"github.com/HelloWorldSungin/claude-strategist/internal/doctor"
	"github.com/HelloWorldSungin/claude-strategist/internal/lock"
	"github.com/HelloWorldSungin/claude-strategist/internal/log"
	"github.com/HelloWorldSungin/claude-strategist/internal/records"
	"github.com/HelloWorldSungin/claude-strategist/internal/storage"
	"github.com/HelloWorldSungin/claude-strategist/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

// command is one CLI action. usage is printed for --help and on misuse.
type command struct {
	usage   string
	summary string
	run     func(args []string) int
}

// action is a named command under a noun.
type action struct {
	name string
	cmd  command
}

// nouns maps each resource to its actions, in help order.
var nouns = map[string][]action{
	"system": {
		{"start", command{"strategist system start [--config PATH]",
			"Start the relay, scheduler, watchdog, and API in the foreground", runStart}},
		{"status", command{"strategist system status [--config PATH] [--json]",
			"Show instance lock, database readiness, and cache state (exit 1 if a check fails)", runSystemStatus}},
		{"watch", command{"strategist system watch [--api-url URL] [--api-key KEY]",
			"Real-time monitoring TUI (q quits, r refreshes; key defaults to $STRATEGIST_API_TOKEN)", runWatch}},
	},
	"config": {
		{"check", command{"strategist config check [--config PATH] [--strict] [--json]",
			"Validate configuration and report every error and warning", runConfigCheck}},
	},
	"cache": {
		{"ls", command{"strategist cache ls [--config PATH] [--json]",
			"List cached documents", runCacheList}},
		{"get", command{"strategist cache get <name> [--config PATH]",
			"Print a cached document", runCacheGet}},
	},
}

// roots are the commands that take no noun.
var roots = map[string]command{
	"runs": {"strategist runs [--config PATH] [--job NAME] [--limit N] [--json]",
		"Show recent background job runs, newest first", runRuns},
	"start":   {"strategist start [--config PATH]", "Alias for system start", runStart},
	"doctor":  {"strategist doctor [--config PATH]", "Alias for config check", runConfigCheck},
	"version": {"strategist version [--json]", "Show version information", runVersion},
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}
	name, args := cliArgs[0], cliArgs[1:]

	if name == "--version" {
		name = "version"
	}
	if isHelpToken(name) {
		printUsage()
		return 0
	}
	if actions, ok := nouns[name]; ok {
		return runNoun(name, actions, args)
	}
	if c, ok := roots[name]; ok {
		return invoke(c, args)
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	printUsage()
	return 1
}

func runNoun(noun string, actions []action, args []string) int {
	help := func(w *os.File) {
		names := make([]string, 0, len(actions))
		for _, a := range actions {
			names = append(names, a.name)
		}
		fmt.Fprintf(w, "Usage: strategist %s <action> [flags]\n", noun)
		fmt.Fprintf(w, "Actions: %s\n", strings.Join(names, ", "))
	}
	if len(args) < 1 {
		help(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		help(os.Stdout)
		return 0
	}
	for _, a := range actions {
		if a.name == args[0] || noun == "cache" && a.name == "ls" && args[0] == "list" {
			return invoke(a.cmd, args[1:])
		}
	}
	return failf("Unknown %s action: %s", noun, args[0])
}

func invoke(c command, args []string) int {
	if hasHelpFlag(args) {
		fmt.Printf("Usage: %s\n%s.\n", c.usage, c.summary)
		return 0
	}
	return c.run(args)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	var b strings.Builder
	b.WriteString("strategist - Chat command relay for the strategist worker\n\n")
	b.WriteString("Usage:\n  strategist <noun> <action> [flags]\n")
	for _, noun := range []string{"system", "config", "cache"} {
		fmt.Fprintf(&b, "\n%s%s Commands:\n", strings.ToUpper(noun[:1]), noun[1:])
		for _, a := range nouns[noun] {
			fmt.Fprintf(&b, "  %-18s %s\n", noun+" "+a.name, firstClause(a.cmd.summary))
		}
	}
	b.WriteString("\nGeneral:\n")
	for _, name := range []string{"runs", "version"} {
		fmt.Fprintf(&b, "  %-18s %s\n", name, roots[name].summary)
	}
	fmt.Fprintf(&b, "  %-18s %s\n", "help", "Show this help message")
	b.WriteString("\nUse 'strategist <noun> help' for resource-specific flags.\n")
	fmt.Print(b.String())
}

// firstClause trims a summary at its first parenthesis for the overview.
func firstClause(s string) string {
	if i := strings.Index(s, " ("); i >= 0 {
		return s[:i]
	}
	return s
}

// parseFlags reports flag errors the same way for every action.
func parseFlags(fs *flag.FlagSet, args []string) bool {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return false
	}
	return true
}

// failf prints to stderr and returns exit code 1.
func failf(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return 1
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if !parseFlags(fs, args) {
		return 1
	}
	if fs.NArg() > 0 {
		return failf("Usage: strategist version [--json]")
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}
	fmt.Printf("strategist %s\ncommit: %s\nbuilt_at: %s\n", info.Version, info.Commit, info.BuildTime)
	return 0
}

// currentVersionInfo prefers ldflags values and falls back to VCS stamps.
func currentVersionInfo() versionInfo {
	settings := map[string]string{}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			settings[s.Key] = s.Value
		}
	}
	pick := func(flagged, setting string) string {
		if v := strings.TrimSpace(flagged); v != "" && v != "unknown" {
			return v
		}
		return strings.TrimSpace(settings[setting])
	}

	info := versionInfo{Version: strings.TrimSpace(version), Commit: "unknown", BuildTime: "unknown"}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}
	if c := pick(gitCommit, "vcs.revision"); c != "" {
		info.Commit = c[:min(len(c), 12)]
	}
	if t, err := time.Parse(time.RFC3339Nano, pick(buildDate, "vcs.time")); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return failf("JSON format error: %v", err)
	}
	fmt.Println(string(data))
	return 0
}

func resolveConfigPath(explicit string) (string, error) {
	path, err := config.Discover(explicit)
	if err != nil {
		return "", fmt.Errorf("failed to discover config: %w", err)
	}
	return path, nil
}

func loadConfig(explicit string) (*config.Config, error) {
	path, err := resolveConfigPath(explicit)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if !parseFlags(fs, args) {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return failf("Failed to load config: %v", err)
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("strategist starting", "version", version, "config", cfg.SourcePath, "config_hash", cfg.Fingerprint())

	checks := map[string]string{
		"service.lock_path": cfg.Service.LockPath,
		"state.cache_dir":   cfg.State.CacheDir,
	}
	if cfg.State.DBDriver == storage.DriverSQLite {
		checks["state.db_dsn"] = cfg.State.DBDSN
	}
	for setting, path := range checks {
		if err := storage.ValidateLocalPath(path, setting); err != nil {
			logger.Error("path is not on a local filesystem", "setting", setting, "error", err)
			return 1
		}
	}

	pidLock, err := lock.Acquire(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire instance lock (another instance may be running)", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer func() {
		if err := pidLock.Release(); err != nil {
			logger.Warn("failed to release instance lock", "error", err)
		}
	}()
	logger.Info("acquired instance lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer a.Close()

	if err := a.run(ctx); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("strategist stopped")
	return 0
}

type statusReport struct {
	Config   string `json:"config"`
	Hash     string `json:"config_hash,omitempty"`
	Lock     string `json:"lock"`
	PID      int    `json:"pid,omitempty"`
	Database string `json:"database"`
	CacheDir string `json:"cache_dir"`
	Docs     int    `json:"cache_documents"`
	Healthy  bool   `json:"healthy"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if !parseFlags(fs, args) {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return failf("Config load error: %v", err)
	}
	report := collectStatus(context.Background(), cfg)

	if *jsonOut {
		printJSON(report)
	} else {
		fmt.Printf("config:    %s (%s)\n", report.Config, report.Hash)
		if report.PID > 0 {
			fmt.Printf("lock:      %s (pid %d)\n", report.Lock, report.PID)
		} else {
			fmt.Printf("lock:      %s\n", report.Lock)
		}
		fmt.Printf("database:  %s\n", report.Database)
		fmt.Printf("cache:     %s (%d document(s))\n", report.CacheDir, report.Docs)
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func collectStatus(ctx context.Context, cfg *config.Config) statusReport {
	r := statusReport{Config: cfg.SourcePath, Hash: cfg.Fingerprint(), Healthy: true}

	pid, err := lock.ReadPID(cfg.Service.LockPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		r.Lock = "not running"
	case err != nil:
		r.Lock = "unreadable: " + err.Error()
	case lock.ProcessAlive(pid):
		r.Lock, r.PID = "running", pid
	default:
		r.Lock, r.PID = "stale", pid
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	db, err := storage.Open(ctx, cfg.State.DBDriver, cfg.State.DBDSN)
	if err != nil {
		r.Database, r.Healthy = "error: "+err.Error(), false
	} else {
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			r.Database, r.Healthy = "error: "+err.Error(), false
		} else {
			r.Database = "ok (" + db.Driver + ")"
		}
	}

	store, err := cache.New(cfg.State.CacheDir)
	if err != nil {
		r.CacheDir, r.Healthy = "error: "+err.Error(), false
		return r
	}
	r.CacheDir = store.Dir()
	if entries, err := store.List(); err == nil {
		r.Docs = len(entries)
	}
	return r
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Relay API URL")
	apiKey := fs.String("api-key", os.Getenv("STRATEGIST_API_TOKEN"), "API Bearer Token")
	if !parseFlags(fs, args) {
		return 1
	}

	if *apiKey == "" {
		return failf("Error: API key required. Use --api-key or STRATEGIST_API_TOKEN env var.")
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		return failf("TUI error: %v", err)
	}
	return 0
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if !parseFlags(fs, args) {
		return 1
	}
	if jsonOut {
		format = "json"
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		return failf("%v", err)
	}
	cfg, err := config.LoadUnvalidated(path)
	if err != nil {
		return failf("Config load error: %v", err)
	}

	result := doctor.New(cfg).Validate()
	if err := config.Validate(cfg); err != nil && result.Valid {
		result.Errors = append(result.Errors, doctor.Issue{Category: "config", Message: err.Error()})
		result.Valid = false
	}

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			return failf("JSON format error: %v", err)
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func openCache(configPath string) (*cache.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return cache.New(cfg.State.CacheDir)
}

func runCacheList(args []string) int {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if !parseFlags(fs, args) {
		return 1
	}

	store, err := openCache(*configPath)
	if err != nil {
		return failf("Cache error: %v", err)
	}
	entries, err := store.List()
	if err != nil {
		return failf("Cache error: %v", err)
	}

	if *jsonOut {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No cached documents.")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Name, e.Size, time.Since(e.ModTime).Truncate(time.Second))
	}
	_ = tw.Flush()
	return 0
}

func runCacheGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if !parseFlags(fs, args) {
		return 1
	}
	if fs.NArg() != 1 {
		return failf("Usage: strategist cache get <name> [--config PATH]")
	}

	store, err := openCache(*configPath)
	if err != nil {
		return failf("Cache error: %v", err)
	}
	doc, ok := store.Read(fs.Arg(0))
	if !ok {
		return failf("No cached document named %q", fs.Arg(0))
	}
	fmt.Println(string(doc.Data))
	return 0
}

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	job := fs.String("job", "", "Only show runs for this job")
	limit := fs.Int("limit", 20, "Maximum number of runs")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if !parseFlags(fs, args) {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return failf("Config load error: %v", err)
	}
	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.State.DBDriver, cfg.State.DBDSN)
	if err != nil {
		return failf("Failed to open database: %v", err)
	}
	defer db.Close()

	runs, err := records.New(db).Recent(ctx, *job, *limit)
	if err != nil {
		return failf("Failed to list runs: %v", err)
	}

	if *jsonOut {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No job runs recorded.")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tJOB\tSTATUS\tATTEMPTS\tDURATION\tERROR")
	for _, r := range runs {
		errText := r.Error
		if i := strings.IndexByte(errText, '\n'); i >= 0 {
			errText = errText[:i]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.FinishedAt.Local().Format(time.DateTime), r.Job, r.Status, r.Attempts,
			r.Duration.Truncate(time.Millisecond), errText)
	}
	_ = tw.Flush()
	return 0
}
