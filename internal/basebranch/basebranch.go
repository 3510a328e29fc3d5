// Package basebranch resolves which branch a new task's worktree
// should fork from, per spec section 4.8.
package basebranch

import (
	"context"
	"strings"

	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/models"
)

const labelPrefix = "base:"

// fallbackBranch is returned when neither a board label nor the
// repository's default branch can be determined.
const fallbackBranch = "main"

// DefaultBranchLookup fetches a repository's default branch, e.g. via
// one GitHub API call. Implementations should return an error (not
// panic) on failure so Resolve can fall through to the literal
// "main".
type DefaultBranchLookup func(ctx context.Context, repoID string) (string, error)

// Resolver extracts the base branch for a task's board item.
type Resolver struct {
	lookupDefault DefaultBranchLookup
}

// New constructs a Resolver that falls back to lookupDefault when the
// board item carries no base: label.
func New(lookupDefault DefaultBranchLookup) *Resolver {
	return &Resolver{lookupDefault: lookupDefault}
}

// ExtractBaseBranch returns the first non-empty of: a case-insensitive
// "base:" label on the board item (value trimmed), the repository's
// default branch (one API call, tolerant of failure), or the literal
// "main".
func (r *Resolver) ExtractBaseBranch(ctx context.Context, item *models.ProjectBoardItem) string {
	if item != nil {
		if value, ok := item.LabelValue(labelPrefix); ok {
			branch := strings.TrimSpace(value)
			if branch != "" {
				return branch
			}
		}
	}

	if r.lookupDefault != nil && item != nil {
		branch, err := r.lookupDefault(ctx, item.RepositoryID)
		if err != nil {
			log.Warn("failed to look up default branch for %s, falling back to %s: %v", item.RepositoryID, fallbackBranch, err)
		} else if strings.TrimSpace(branch) != "" {
			return branch
		}
	}

	return fallbackBranch
}
