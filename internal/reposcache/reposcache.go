// Package reposcache owns the bare clones backing every task's
// worktree, serialized through gitlock so two workers racing to clone
// the same new repository only ever produce one clone. The directory
// layout (workspaceRoot/repos/<owner>/<name>.git) and the
// clone-if-missing/fetch-if-stale contract are grounded on the
// teacher's WorktreePool.fillToTarget/refreshWorktree pair, adapted
// from a per-pool-slot worktree model to a shared per-repository bare
// clone.
package reposcache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/gitcli"
	"github.com/teamforge/orchestrator/internal/gitlock"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/store"
)

// GitService is the subset of gitcli.Service the cache needs, broken
// out as an interface so tests can substitute a fake.
type GitService interface {
	CloneBare(ctx context.Context, url, localPath string) error
	Fetch(ctx context.Context, localPath string) error
	IsValidRepository(localPath string) bool
}

var _ GitService = (*gitcli.Service)(nil)

// RemoteURLResolver turns a "owner/name" repository ID into a clone
// URL, e.g. injecting a GitHub token for HTTPS auth.
type RemoteURLResolver func(repoID string) (string, error)

// Cache guarantees a bare clone exists for any repository ID it is
// asked about, refetching when stale. Exclusively owns bare clones:
// no other component creates or removes them.
type Cache struct {
	workspaceRoot string
	cacheTimeout  time.Duration
	git           GitService
	lock          *gitlock.GitOpLock
	resolveURL    RemoteURLResolver
	store         *store.StateStore
}

// New constructs a Cache rooted at workspaceRoot/repos, using lock to
// serialize clone/fetch per repository and resolveURL to turn a
// repository ID into a fetchable URL.
func New(workspaceRoot string, cacheTimeout time.Duration, git GitService, lock *gitlock.GitOpLock, resolveURL RemoteURLResolver, st *store.StateStore) *Cache {
	return &Cache{
		workspaceRoot: workspaceRoot,
		cacheTimeout:  cacheTimeout,
		git:           git,
		lock:          lock,
		resolveURL:    resolveURL,
		store:         st,
	}
}

// LocalPath returns the deterministic on-disk path for repoID, without
// guaranteeing it exists yet.
func (c *Cache) LocalPath(repoID string) string {
	parts := strings.SplitN(repoID, "/", 2)
	owner, name := parts[0], parts[0]
	if len(parts) == 2 {
		name = parts[1]
	}
	return filepath.Join(c.workspaceRoot, "repos", owner, name+".git")
}

// EnsureRepository guarantees a bare clone exists at a deterministic
// path for repoID, fetching when forceUpdate is set or the cached
// clone is older than the configured cache timeout. Clone and fetch
// both run under GitOpLock so two callers racing on the same new
// repository produce exactly one clone.
func (c *Cache) EnsureRepository(ctx context.Context, repoID string, forceUpdate bool) (string, error) {
	localPath := c.LocalPath(repoID)

	err := c.lock.WithLock(ctx, repoID, "clone", func(ctx context.Context) error {
		state := c.loadState(repoID, localPath)

		if !state.IsCloned || !c.git.IsValidRepository(localPath) {
			url, err := c.resolveURL(repoID)
			if err != nil {
				return fmt.Errorf("failed to resolve clone URL for %s: %w", repoID, err)
			}
			if err := c.git.CloneBare(ctx, url, localPath); err != nil {
				return err
			}
			state.IsCloned = true
			state.LastFetchAt = time.Now()
			return c.saveState(state)
		}

		stale := time.Since(state.LastFetchAt) > c.cacheTimeout
		if forceUpdate || stale {
			if err := c.git.Fetch(ctx, localPath); err != nil {
				return err
			}
			state.LastFetchAt = time.Now()
			return c.saveState(state)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return localPath, nil
}

func (c *Cache) loadState(repoID, localPath string) *models.RepositoryState {
	if c.store == nil {
		return &models.RepositoryState{ID: repoID, LocalPath: localPath}
	}
	if rs := c.store.GetRepositoryState(repoID); rs != nil {
		return rs
	}
	return &models.RepositoryState{ID: repoID, LocalPath: localPath}
}

func (c *Cache) saveState(rs *models.RepositoryState) error {
	if c.store == nil {
		return nil
	}
	return c.store.UpsertRepositoryState(rs)
}

// AddWorktree records path as an active worktree of repoID. The
// physical git call happens through WorkspaceManager; this is
// bookkeeping only.
func (c *Cache) AddWorktree(repoID, path string) error {
	state := c.loadState(repoID, c.LocalPath(repoID))
	if state.ActiveWorktrees == nil {
		state.ActiveWorktrees = make(map[string]bool)
	}
	state.ActiveWorktrees[path] = true
	log.Debug("tracking worktree %s for repo %s", path, repoID)
	return c.saveState(state)
}

// RemoveWorktree drops path from repoID's bookkeeping set.
func (c *Cache) RemoveWorktree(repoID, path string) error {
	state := c.loadState(repoID, c.LocalPath(repoID))
	delete(state.ActiveWorktrees, path)
	return c.saveState(state)
}
