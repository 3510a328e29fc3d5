// Package gitcli wraps the git binary with the exec.Command-and-parse
// style of the teacher's clients.GitClient, generalized from a single
// working-copy-per-process model to bare clones plus many worktrees.
package gitcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/teamforge/orchestrator/internal/core/log"
)

// Service runs git commands against bare clones and their worktrees.
// It has no state of its own; every method takes the repository path
// it should operate in, so callers (RepositoryCache, WorkspaceManager)
// own the bookkeeping.
type Service struct{}

// New constructs a Service.
func New() *Service {
	return &Service{}
}

func run(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	return cmd.CombinedOutput()
}

func runCtx(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	return cmd.CombinedOutput()
}

// CloneBare clones url as a bare repository at localPath. localPath's
// parent directories are created if missing.
func (s *Service) CloneBare(ctx context.Context, url, localPath string) error {
	log.Info("starting bare clone of %s to %s", url, localPath)

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for clone: %w", err)
	}

	output, err := runCtx(ctx, "", "clone", "--bare", url, localPath)
	if err != nil {
		log.Error("bare clone failed: %v\noutput: %s", err, string(output))
		return fmt.Errorf("git clone --bare failed: %w\noutput: %s", err, string(output))
	}

	log.Info("bare clone of %s complete", url)
	return nil
}

// Fetch updates all refs in the bare clone at localPath.
func (s *Service) Fetch(ctx context.Context, localPath string) error {
	log.Info("fetching %s", localPath)

	output, err := runCtx(ctx, localPath, "fetch", "--prune", "origin")
	if err != nil {
		log.Error("fetch failed for %s: %v\noutput: %s", localPath, err, string(output))
		return fmt.Errorf("git fetch failed: %w\noutput: %s", err, string(output))
	}

	return nil
}

// IsValidRepository reports whether localPath is a usable git
// repository (bare or not) by asking git to resolve its git dir.
func (s *Service) IsValidRepository(localPath string) bool {
	if _, err := os.Stat(localPath); err != nil {
		return false
	}
	_, err := run(localPath, "rev-parse", "--git-dir")
	return err == nil
}

// DefaultBranch asks the remote named origin what its HEAD branch is,
// returning ("", err) if the information is unavailable.
func (s *Service) DefaultBranch(ctx context.Context, localPath string) (string, error) {
	output, err := runCtx(ctx, localPath, "remote", "show", "origin")
	if err != nil {
		return "", fmt.Errorf("failed to get remote information: %w\noutput: %s", err, string(output))
	}

	for _, line := range strings.Split(string(output), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "HEAD branch:") {
			continue
		}
		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("unexpected format in remote show output: %s", trimmed)
		}
		return strings.TrimSpace(parts[1]), nil
	}

	return "", fmt.Errorf("could not determine default branch from remote show output")
}

// AddWorktree creates worktreePath as a new worktree of the bare
// repository at repoPath, on a freshly created branch off baseRef.
func (s *Service) AddWorktree(ctx context.Context, repoPath, worktreePath, branchName, baseRef string) error {
	log.Info("creating worktree at %s for branch %s (base %s)", worktreePath, branchName, baseRef)

	args := []string{"worktree", "add", worktreePath, "-b", branchName}
	if baseRef != "" {
		args = append(args, baseRef)
	}

	output, err := runCtx(ctx, repoPath, args...)
	if err != nil {
		log.Error("failed to add worktree: %v\noutput: %s", err, string(output))
		return fmt.Errorf("git worktree add failed: %w\noutput: %s", err, string(output))
	}

	log.Info("worktree ready at %s", worktreePath)
	return nil
}

// RemoveWorktree removes worktreePath from repoPath's worktree list,
// forcing removal even with uncommitted changes.
func (s *Service) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	output, err := runCtx(ctx, repoPath, "worktree", "remove", worktreePath, "--force")
	if err != nil {
		if strings.Contains(string(output), "is not a working tree") {
			return nil
		}
		log.Error("failed to remove worktree %s: %v\noutput: %s", worktreePath, err, string(output))
		return fmt.Errorf("git worktree remove failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

// MoveWorktree relocates a worktree to a new path, used when a task's
// workspace directory needs to be reassigned without re-cloning.
func (s *Service) MoveWorktree(ctx context.Context, repoPath, oldPath, newPath string) error {
	output, err := runCtx(ctx, repoPath, "worktree", "move", oldPath, newPath)
	if err != nil {
		log.Error("failed to move worktree %s -> %s: %v\noutput: %s", oldPath, newPath, err, string(output))
		return fmt.Errorf("git worktree move failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

// PruneWorktrees removes administrative entries for worktrees whose
// directories no longer exist on disk.
func (s *Service) PruneWorktrees(ctx context.Context, repoPath string) error {
	output, err := runCtx(ctx, repoPath, "worktree", "prune")
	if err != nil {
		return fmt.Errorf("git worktree prune failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

// ResetHard discards all uncommitted changes in worktreePath.
func (s *Service) ResetHard(ctx context.Context, worktreePath string) error {
	output, err := runCtx(ctx, worktreePath, "reset", "--hard", "HEAD")
	if err != nil {
		return fmt.Errorf("git reset --hard failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

// CleanUntracked removes untracked files and directories from
// worktreePath.
func (s *Service) CleanUntracked(ctx context.Context, worktreePath string) error {
	output, err := runCtx(ctx, worktreePath, "clean", "-fd")
	if err != nil {
		return fmt.Errorf("git clean -fd failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

// DeleteLocalBranch force-deletes branchName from the bare repository
// at repoPath. Absence of the branch is not an error.
func (s *Service) DeleteLocalBranch(ctx context.Context, repoPath, branchName string) error {
	output, err := runCtx(ctx, repoPath, "branch", "-D", branchName)
	if err != nil {
		if strings.Contains(string(output), "not found") {
			return nil
		}
		return fmt.Errorf("git branch -D failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

// RenameLocalBranch renames a local branch, used when a task's
// generated branch name collides with an existing one.
func (s *Service) RenameLocalBranch(ctx context.Context, worktreePath, oldName, newName string) error {
	output, err := runCtx(ctx, worktreePath, "branch", "-m", oldName, newName)
	if err != nil {
		return fmt.Errorf("git branch -m failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

// BranchExists reports whether branchName exists as a local branch of
// repoPath.
func (s *Service) BranchExists(ctx context.Context, repoPath, branchName string) (bool, error) {
	output, err := runCtx(ctx, repoPath, "show-ref", "--verify", "--quiet", "refs/heads/"+branchName)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("git show-ref failed: %w\noutput: %s", err, string(output))
	}
	return true, nil
}
