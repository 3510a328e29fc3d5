// Command teamforged runs the orchestration core: a Planner that
// reconciles an external project board and its pull requests against a
// bounded pool of coding-agent Workers, per spec section 4.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/teamforge/orchestrator/internal/basebranch"
	"github.com/teamforge/orchestrator/internal/boardsvc"
	"github.com/teamforge/orchestrator/internal/commentfilter"
	"github.com/teamforge/orchestrator/internal/config"
	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/developer"
	"github.com/teamforge/orchestrator/internal/gitcli"
	"github.com/teamforge/orchestrator/internal/gitlock"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/planner"
	"github.com/teamforge/orchestrator/internal/prompt"
	"github.com/teamforge/orchestrator/internal/prsvc"
	"github.com/teamforge/orchestrator/internal/reposcache"
	"github.com/teamforge/orchestrator/internal/router"
	"github.com/teamforge/orchestrator/internal/store"
	"github.com/teamforge/orchestrator/internal/utils"
	"github.com/teamforge/orchestrator/internal/worker"
	"github.com/teamforge/orchestrator/internal/workerpool"
	"github.com/teamforge/orchestrator/internal/workspace"
)

const pidFileName = "teamforged.pid"

func main() {
	args := os.Args[1:]
	command := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "run":
		runCommand(args)
	case "status":
		statusCommand(args)
	case "force-sync":
		forceSyncCommand(args)
	case "shutdown":
		shutdownCommand(args)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q (expected run, status, force-sync, or shutdown)\n", command)
		os.Exit(1)
	}
}

// loadConfigOrExit parses flags/env into a validated Config, handling
// --help and --version the same way the teacher's main() does and
// exiting 1 on any other initialization failure.
func loadConfigOrExit(args []string) *config.Config {
	cfg, opts, err := config.Load(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		if opts != nil && opts.Version {
			fmt.Println(core.GetVersion())
			os.Exit(0)
		}
		os.Exit(0)
	}
	return cfg
}

// components bundles the collaborators shared by run, force-sync, and
// status once a data directory has been loaded.
type components struct {
	store   *store.StateStore
	pool    *workerpool.Pool
	router  *router.Router
	planner *planner.Planner
	board   boardsvc.Service
	prs     prsvc.Service
}

func buildComponents(cfg *config.Config) (*components, error) {
	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	lock := gitlock.New(time.Duration(cfg.LockTimeoutMs) * time.Millisecond)
	git := gitcli.New()

	resolveURL := func(repoID string) (string, error) {
		if cfg.GitHubToken == "" {
			return fmt.Sprintf("https://github.com/%s.git", repoID), nil
		}
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", cfg.GitHubToken, repoID), nil
	}
	repos := reposcache.New(cfg.WorkspaceRoot, time.Duration(cfg.RepositoryCacheTimeoutMs)*time.Millisecond, git, lock, resolveURL, st)

	resolveRepo := func(ctx context.Context, repoID string) (string, error) {
		return repos.EnsureRepository(ctx, repoID, false)
	}
	workspaces := workspace.New(cfg.WorkspaceRoot, git, lock, resolveRepo, st)

	baseBranch := basebranch.New(func(ctx context.Context, repoID string) (string, error) {
		localPath, err := resolveRepo(ctx, repoID)
		if err != nil {
			return "", err
		}
		return git.DefaultBranch(ctx, localPath)
	})

	dev, err := developer.NewDeveloper(string(cfg.DeveloperType), time.Duration(cfg.DeveloperTimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to construct developer backend: %w", err)
	}

	deps := worker.Deps{
		Store:      st,
		Repos:      repos,
		Workspaces: workspaces,
		BaseBranch: baseBranch,
		Prompts:    prompt.New(),
		Developer:  dev,
	}

	poolCfg := workerpool.Config{
		MinWorkers:           cfg.MinWorkers,
		MaxWorkers:           cfg.MaxWorkers,
		MinPersistentWorkers: cfg.MinPersistentWorkers,
		IdleTimeout:          time.Duration(cfg.IdleTimeoutMinutes) * time.Minute,
		RecoveryTimeout:      time.Duration(cfg.WorkerRecoveryTimeoutMs) * time.Millisecond,
	}
	pool := workerpool.New(poolCfg, cfg.DeveloperType, deps, st)
	if err := pool.InitializePool(); err != nil {
		return nil, fmt.Errorf("failed to initialize worker pool: %w", err)
	}

	rtr := router.New(pool, workspaces)

	var board boardsvc.Service
	var prs prsvc.Service
	if cfg.DeveloperType == models.DeveloperMock {
		board = boardsvc.NewInMemoryBoard()
		prs = prsvc.NewInMemoryPullRequests()
	} else {
		board = boardsvc.NewGitHubIssuesBoard(cfg.GitHubToken, cfg.BoardID)
		prs = prsvc.NewGitHubPullRequests(cfg.GitHubToken)
	}
	board = boardsvc.Filtered(board, cfg.RepositoryFilter)

	allowedBots := append(append([]string(nil), commentfilter.DefaultAllowedBots...), cfg.AllowedBots...)
	pl := planner.New(board, prs, rtr, pool, st, planner.Config{
		Interval:      time.Duration(cfg.MonitoringIntervalMs) * time.Millisecond,
		CommentFilter: commentfilter.Options{ExcludeAuthor: true, AllowedBots: allowedBots},
	})

	return &components{store: st, pool: pool, router: rtr, planner: pl, board: board, prs: prs}, nil
}

func runCommand(args []string) {
	cfg := loadConfigOrExit(args)
	log.SetLevel(slog.LevelInfo)

	dirLock, err := utils.NewDirLock(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory lock: %v\n", err)
		os.Exit(1)
	}
	if err := dirLock.TryLock(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := dirLock.Unlock(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to release directory lock: %v\n", err)
		}
	}()

	if err := writePIDFile(cfg.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write PID file: %v\n", err)
	}
	defer removePIDFile(cfg.DataDir)

	rotatingWriter, err := log.NewRotatingWriter(log.RotatingWriterConfig{
		LogDir:     filepath.Join(cfg.DataDir, "logs"),
		FilePrefix: "teamforged",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to set up log file: %v\n", err)
	} else {
		defer rotatingWriter.Close()
		log.SetWriterWithLevel(rotatingWriter, slog.LevelInfo)
		fmt.Printf("logging to: %s\n", rotatingWriter.GetCurrentLogPath())
	}

	comps, err := buildComponents(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log.Info("teamforged starting (version=%s board=%s developer=%s workers=%d-%d)",
		core.GetVersion(), cfg.BoardID, cfg.DeveloperType, cfg.MinWorkers, cfg.MaxWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go comps.planner.Run(ctx)
	go runMaintenanceLoop(ctx, comps.pool, time.Duration(cfg.WorkerRecoveryTimeoutMs)*time.Millisecond)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining in-flight work")
	comps.planner.Stop()
	cancel()
	comps.pool.Shutdown()
	log.Info("teamforged stopped")
}

// runMaintenanceLoop periodically recovers crashed workers and evicts
// idle ones above the persistent floor, per spec sections 4.5's
// recovery/eviction sweeps. It runs independently of the Planner's
// tick so a slow board/PR provider never delays worker upkeep.
func runMaintenanceLoop(ctx context.Context, pool *workerpool.Pool, recoveryTimeout time.Duration) {
	interval := recoveryTimeout / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := pool.RecoverStoppedWorkers(); n > 0 {
				log.Info("recovered %d stopped worker(s)", n)
			}
			if n := pool.EvictIdleWorkers(); n > 0 {
				log.Info("evicted %d idle worker(s)", n)
			}
		}
	}
}

func statusCommand(args []string) {
	cfg := loadConfigOrExit(args)
	comps, err := buildComponents(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	st := comps.planner.Status()
	fmt.Printf("lanes: todo=%d in_progress=%d in_review=%d done=%d\n", st.Lanes.Todo, st.Lanes.InProgress, st.Lanes.InReview, st.Lanes.Done)
	fmt.Printf("pool: size=%d idle=%d waiting=%d working=%d stopped=%d\n", st.PoolSize, st.Idle, st.Waiting, st.Working, st.Stopped)
	if !st.LastSyncTime.IsZero() {
		fmt.Printf("last sync: %s\n", st.LastSyncTime.Format(time.RFC3339))
	}
	if len(st.Errors) > 0 {
		fmt.Printf("recent errors (%d):\n", len(st.Errors))
		for _, e := range st.Errors {
			fmt.Printf("  [%s] task=%s lane=%s: %s\n", e.Timestamp.Format(time.RFC3339), e.TaskID, e.Lane, e.Message)
		}
	}
}

func forceSyncCommand(args []string) {
	cfg := loadConfigOrExit(args)
	comps, err := buildComponents(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	comps.planner.ForceSync(context.Background())
	st := comps.planner.Status()
	fmt.Printf("force-sync complete: todo=%d in_progress=%d in_review=%d done=%d\n", st.Lanes.Todo, st.Lanes.InProgress, st.Lanes.InReview, st.Lanes.Done)
}

func shutdownCommand(args []string) {
	cfg := loadConfigOrExit(args)

	pid, err := readPIDFile(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: no such process %d: %v\n", pid, err)
		os.Exit(2)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to signal process %d: %v\n", pid, err)
		os.Exit(2)
	}
	fmt.Printf("sent shutdown signal to teamforged (pid %d)\n", pid)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, pidFileName)
}

func writePIDFile(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(dataDir), []byte(strconv.Itoa(os.Getpid())), 0644)
}

func removePIDFile(dataDir string) {
	_ = os.Remove(pidFilePath(dataDir))
}

func readPIDFile(dataDir string) (int, error) {
	data, err := os.ReadFile(pidFilePath(dataDir))
	if err != nil {
		return 0, fmt.Errorf("no running instance found for data dir %s: %w", dataDir, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed PID file: %w", err)
	}
	return pid, nil
}
