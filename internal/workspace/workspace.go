// Package workspace manages the per-task working trees that a Worker
// checks code out into, exclusively owning worktree creation and
// teardown per spec section 4.3. Allocation/cleanup serialization per
// taskId is grounded on the teacher's fillToTarget/cleanupFailedWorktree
// pairing in usecases.WorktreePool, generalized from a fixed-size pool
// of anonymous slots to one durable workspace per task.
package workspace

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lucasepe/codename"

	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/gitcli"
	"github.com/teamforge/orchestrator/internal/gitlock"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/store"
)

// GitService is the subset of gitcli.Service the manager needs.
type GitService interface {
	AddWorktree(ctx context.Context, repoPath, worktreePath, branchName, baseRef string) error
	RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error
}

var _ GitService = (*gitcli.Service)(nil)

// RepoPathResolver returns the local bare-clone path for a repository
// ID, ensuring it exists first (RepositoryCache.EnsureRepository).
type RepoPathResolver func(ctx context.Context, repoID string) (string, error)

// Manager allocates and tears down task worktrees. It exclusively owns
// working trees: no other component creates or removes one.
type Manager struct {
	workspaceRoot string
	git           GitService
	lock          *gitlock.GitOpLock
	resolveRepo   RepoPathResolver
	store         *store.StateStore

	taskLocksMu sync.Mutex
	taskLocks   map[string]*sync.Mutex
}

// New constructs a Manager rooted at workspaceRoot/work.
func New(workspaceRoot string, git GitService, lock *gitlock.GitOpLock, resolveRepo RepoPathResolver, st *store.StateStore) *Manager {
	return &Manager{
		workspaceRoot: workspaceRoot,
		git:           git,
		lock:          lock,
		resolveRepo:   resolveRepo,
		store:         st,
		taskLocks:     make(map[string]*sync.Mutex),
	}
}

func (m *Manager) taskLock(taskID string) *sync.Mutex {
	m.taskLocksMu.Lock()
	defer m.taskLocksMu.Unlock()
	l, ok := m.taskLocks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.taskLocks[taskID] = l
	}
	return l
}

// CreateWorkspace allocates a deterministic workspace directory for
// taskId without creating the worktree yet. Idempotent: if a
// WorkspaceInfo already exists for taskId, it is returned unchanged.
func (m *Manager) CreateWorkspace(taskID, repoID string) (*models.WorkspaceInfo, error) {
	lock := m.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	if existing := m.store.GetWorkspace(taskID); existing != nil {
		return existing, nil
	}

	info := &models.WorkspaceInfo{
		TaskID:       taskID,
		RepositoryID: repoID,
		WorkspaceDir: filepath.Join(m.workspaceRoot, "work", taskID),
		BranchName:   branchNameForTask(taskID),
		CreatedAt:    time.Now(),
	}

	if err := m.store.UpsertWorkspace(info); err != nil {
		return nil, fmt.Errorf("failed to persist workspace for task %s: %w", taskID, err)
	}

	return info, nil
}

// branchNameForTask derives a branch name from taskID per spec section
// 4.3, seeding codename's adjective-noun generator with a hash of
// taskID so the same task always gets the same human-readable suffix
// (grounded on the teacher's generateRandomBranchName, made
// deterministic since a Worker reassigned to the same taskId must
// reproduce its prior branch name, not draw a new one).
func branchNameForTask(taskID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(taskID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	return fmt.Sprintf("teamforged/%s-%s", taskID, codename.Generate(rng, 0))
}

// SetupWorktree creates the worktree named by info if it does not
// already exist validly, under GitOpLock.WithLock(repoId, "worktree").
// baseBranch comes from BaseBranchResolver.
func (m *Manager) SetupWorktree(ctx context.Context, info *models.WorkspaceInfo, baseBranch string) error {
	if m.IsWorktreeValid(info) {
		return nil
	}

	repoPath, err := m.resolveRepo(ctx, info.RepositoryID)
	if err != nil {
		return fmt.Errorf("failed to resolve repository %s: %w", info.RepositoryID, err)
	}

	err = m.lock.WithLock(ctx, info.RepositoryID, "worktree", func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(info.WorkspaceDir), 0755); err != nil {
			return fmt.Errorf("failed to create workspace parent directory: %w", err)
		}
		return m.git.AddWorktree(ctx, repoPath, info.WorkspaceDir, info.BranchName, baseBranch)
	})
	if err != nil {
		return err
	}

	info.WorktreeCreated = true
	if err := m.store.UpsertWorkspace(info); err != nil {
		return fmt.Errorf("failed to persist workspace after worktree setup: %w", err)
	}

	log.Info("worktree ready for task %s at %s", info.TaskID, info.WorkspaceDir)
	return nil
}

// Lookup returns the persisted WorkspaceInfo for taskID, or nil if
// none has been allocated yet.
func (m *Manager) Lookup(taskID string) *models.WorkspaceInfo {
	return m.store.GetWorkspace(taskID)
}

// IsWorktreeValid reports whether info is marked WorktreeCreated and
// its directory contains a .git file whose content begins with
// "gitdir:", the on-disk signature git leaves for a worktree checkout.
func (m *Manager) IsWorktreeValid(info *models.WorkspaceInfo) bool {
	if info == nil || !info.WorktreeCreated {
		return false
	}

	gitFile := filepath.Join(info.WorkspaceDir, ".git")
	data, err := os.ReadFile(gitFile)
	if err != nil {
		return false
	}

	return strings.HasPrefix(string(data), "gitdir:")
}

// CleanupWorkspace removes the worktree (via git), then its directory,
// then the persisted record. Absent pieces are ignored so a partially
// torn-down workspace can be cleaned up again safely.
func (m *Manager) CleanupWorkspace(ctx context.Context, taskID string) error {
	lock := m.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	info := m.store.GetWorkspace(taskID)
	if info == nil {
		return nil
	}

	if info.WorktreeCreated {
		repoPath, err := m.resolveRepo(ctx, info.RepositoryID)
		if err == nil {
			lockErr := m.lock.WithLock(ctx, info.RepositoryID, "worktree", func(ctx context.Context) error {
				return m.git.RemoveWorktree(ctx, repoPath, info.WorkspaceDir)
			})
			if lockErr != nil {
				log.Warn("failed to remove worktree for task %s: %v", taskID, lockErr)
			}
		} else {
			log.Warn("failed to resolve repository for cleanup of task %s: %v", taskID, err)
		}
	}

	if err := os.RemoveAll(info.WorkspaceDir); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove workspace directory %s: %v", info.WorkspaceDir, err)
	}

	return m.store.DeleteWorkspace(taskID)
}
