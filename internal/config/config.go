// Package config loads and validates teamforged's configuration from CLI
// flags, a ".env" file, and the process environment, following the
// teacher's flags-struct-plus-godotenv layering (cmd/main.go, core/env).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/models"
)

// Options is the CLI flags surface, parsed with go-flags the same way the
// teacher's cmd/main.go Options struct is.
type Options struct {
	DataDir              string `long:"data-dir" description:"Directory for state, locks, and worktrees" default:"./.teamforged"`
	WorkspaceRoot        string `long:"workspace-root" description:"Root directory under which per-task git worktrees are created"`
	BoardID              string `long:"board" description:"Project board identifier (owner/repo for the GitHub-Issues adapter)" env:"TEAMFORGED_BOARD_ID"`
	GitHubToken          string `long:"github-token" description:"GitHub token used by the board and pull-request adapters" env:"TEAMFORGED_GITHUB_TOKEN"`
	DeveloperType        string `long:"developer" description:"Developer backend to drive" choice:"claude" choice:"gemini" choice:"mock" default:"claude"`
	MinWorkers           int    `long:"min-workers" description:"Minimum number of workers kept warm in the pool" default:"1"`
	MaxWorkers           int    `long:"max-workers" description:"Maximum number of workers the pool may grow to" default:"4"`
	MinPersistentWorkers int    `long:"min-persistent-workers" description:"Workers never evicted by the idle reaper" default:"1"`
	IdleTimeoutMinutes   int    `long:"idle-timeout-minutes" description:"Minutes an IDLE worker above the persistent floor may sit before eviction" default:"30"`

	WorkerRecoveryTimeoutMs  int `long:"worker-recovery-timeout-ms" description:"How long a STOPPED worker is left alone before recovery re-queues its task" default:"60000"`
	GitOperationTimeoutMs    int `long:"git-operation-timeout-ms" description:"Timeout applied to individual git subprocess invocations" default:"120000"`
	RepositoryCacheTimeoutMs int `long:"repository-cache-timeout-ms" description:"Time a cached bare-repo fetch is considered fresh" default:"300000"`
	LockTimeoutMs            int `long:"lock-timeout-ms" description:"Age after which a held GitOpLock counts as expired and may be reclaimed" default:"300000"`
	DeveloperTimeoutMs       int `long:"developer-timeout-ms" description:"Timeout applied to a single developer CLI invocation" default:"1800000"`
	MonitoringIntervalMs     int `long:"monitoring-interval-ms" description:"Planner reconciliation tick interval" default:"15000"`

	AllowedBots      []string `long:"allowed-bot" description:"Bot login allow-listed past the CommentFilter heuristic (repeatable)"`
	RepositoryFilter []string `long:"repository" description:"Restrict the Planner to these repository ids (repeatable; empty means all)"`

	Version bool `long:"version" short:"v" description:"Show version information"`
}

// Config is the validated, fully-resolved configuration the rest of
// teamforged is built against.
type Config struct {
	DataDir       string
	WorkspaceRoot string
	BoardID       string
	GitHubToken   string
	DeveloperType models.DeveloperType

	MinWorkers           int
	MaxWorkers           int
	MinPersistentWorkers int
	IdleTimeoutMinutes   int

	WorkerRecoveryTimeoutMs  int
	GitOperationTimeoutMs    int
	RepositoryCacheTimeoutMs int
	LockTimeoutMs            int
	DeveloperTimeoutMs       int
	MonitoringIntervalMs     int

	AllowedBots      []string
	RepositoryFilter []string
}

// Load parses args (typically os.Args[1:]) into Options, layers in a
// ".env" file from dataDir if present (matching the teacher's
// core/env.EnvManager), and validates the result. A *core.FatalConfigError
// is returned for any misconfiguration that should abort startup rather
// than degrade.
func Load(args []string) (*Config, *Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil, &opts, err
		}
		return nil, nil, &core.FatalConfigError{Reason: "failed to parse command-line flags", Err: err}
	}

	if opts.Version {
		return nil, &opts, nil
	}

	loadDotEnv(opts.DataDir)

	if opts.BoardID == "" {
		opts.BoardID = os.Getenv("TEAMFORGED_BOARD_ID")
	}
	if opts.GitHubToken == "" {
		opts.GitHubToken = os.Getenv("TEAMFORGED_GITHUB_TOKEN")
	}

	cfg := &Config{
		DataDir:       opts.DataDir,
		WorkspaceRoot: opts.WorkspaceRoot,
		BoardID:       opts.BoardID,
		GitHubToken:   opts.GitHubToken,
		DeveloperType: models.DeveloperType(opts.DeveloperType),

		MinWorkers:           opts.MinWorkers,
		MaxWorkers:           opts.MaxWorkers,
		MinPersistentWorkers: opts.MinPersistentWorkers,
		IdleTimeoutMinutes:   opts.IdleTimeoutMinutes,

		WorkerRecoveryTimeoutMs:  opts.WorkerRecoveryTimeoutMs,
		GitOperationTimeoutMs:    opts.GitOperationTimeoutMs,
		RepositoryCacheTimeoutMs: opts.RepositoryCacheTimeoutMs,
		LockTimeoutMs:            opts.LockTimeoutMs,
		DeveloperTimeoutMs:       opts.DeveloperTimeoutMs,
		MonitoringIntervalMs:     opts.MonitoringIntervalMs,

		AllowedBots:      opts.AllowedBots,
		RepositoryFilter: opts.RepositoryFilter,
	}

	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = filepath.Join(cfg.DataDir, "workspaces")
	}

	if err := cfg.Validate(); err != nil {
		return nil, &opts, err
	}
	return cfg, &opts, nil
}

// Validate reports the first misconfiguration found, wrapped as a
// *core.FatalConfigError per spec section 7's "misconfiguration" example.
func (c *Config) Validate() error {
	if c.MaxWorkers < c.MinWorkers {
		return &core.FatalConfigError{Reason: fmt.Sprintf("max-workers (%d) is less than min-workers (%d)", c.MaxWorkers, c.MinWorkers)}
	}
	if c.MinWorkers < 0 || c.MaxWorkers <= 0 {
		return &core.FatalConfigError{Reason: "min-workers must not be negative and max-workers must be positive"}
	}
	if c.MinPersistentWorkers > c.MaxWorkers {
		return &core.FatalConfigError{Reason: fmt.Sprintf("min-persistent-workers (%d) exceeds max-workers (%d)", c.MinPersistentWorkers, c.MaxWorkers)}
	}
	if c.BoardID == "" {
		return &core.FatalConfigError{Reason: "no project board configured (--board or TEAMFORGED_BOARD_ID)"}
	}
	switch c.DeveloperType {
	case models.DeveloperClaude, models.DeveloperGemini, models.DeveloperMock:
	default:
		return &core.FatalConfigError{Reason: fmt.Sprintf("unsupported developer type: %s", c.DeveloperType)}
	}
	if c.DeveloperType != models.DeveloperMock && strings.TrimSpace(c.GitHubToken) == "" {
		return &core.FatalConfigError{Reason: "no GitHub token configured (--github-token or TEAMFORGED_GITHUB_TOKEN)"}
	}
	for _, ms := range []struct {
		name string
		val  int
	}{
		{"worker-recovery-timeout-ms", c.WorkerRecoveryTimeoutMs},
		{"git-operation-timeout-ms", c.GitOperationTimeoutMs},
		{"repository-cache-timeout-ms", c.RepositoryCacheTimeoutMs},
		{"lock-timeout-ms", c.LockTimeoutMs},
		{"developer-timeout-ms", c.DeveloperTimeoutMs},
		{"monitoring-interval-ms", c.MonitoringIntervalMs},
	} {
		if ms.val <= 0 {
			return &core.FatalConfigError{Reason: fmt.Sprintf("%s must be positive", ms.name)}
		}
	}
	return nil
}

// loadDotEnv mirrors core/env.EnvManager.Load: a missing file is fine,
// since flags and the surrounding process environment still apply.
func loadDotEnv(dataDir string) {
	if dataDir == "" {
		return
	}
	envPath := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return
	}
	if err := godotenv.Load(envPath); err != nil {
		log.Warn("failed to load .env file at %s: %v", envPath, err)
	}
}
