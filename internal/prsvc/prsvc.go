// Package prsvc defines the PullRequestService contract (spec section
// 6): read access to a repository's pull requests, their reviews, and
// their comments, plus the approval and comment-deduplication helpers
// the Planner needs.
package prsvc

import (
	"context"
	"time"

	"github.com/teamforge/orchestrator/internal/models"
)

// Service is the external pull-request provider the Planner
// reconciles IN_REVIEW tasks against.
type Service interface {
	// GetPullRequest fetches one PR by (repoID, number).
	GetPullRequest(ctx context.Context, repoID string, number int) (*models.PullRequest, error)

	// ListPullRequests lists PRs for repoID, optionally filtered to
	// state ("open", "closed", or "" for all).
	ListPullRequests(ctx context.Context, repoID string, state string) ([]*models.PullRequest, error)

	// IsApproved reports whether the latest review per reviewer
	// contains an APPROVED and no reviewer's latest review is
	// CHANGES_REQUESTED.
	IsApproved(ctx context.Context, repoID string, number int) (bool, error)

	// GetReviews lists all reviews on a PR.
	GetReviews(ctx context.Context, repoID string, number int) ([]models.Review, error)

	// GetComments lists all comments on a PR.
	GetComments(ctx context.Context, repoID string, number int) ([]models.Comment, error)

	// GetNewComments lists comments newer than since. The
	// implementations in this package do not apply filterOptions;
	// the Planner filters the result with commentfilter itself.
	GetNewComments(ctx context.Context, repoID string, number int, since time.Time, filterOptions *CommentFilterOptions) ([]models.Comment, error)

	// MarkCommentsAsProcessed is advisory bookkeeping for providers
	// that track read state remotely; implementations that don't may
	// treat it as a no-op.
	MarkCommentsAsProcessed(ctx context.Context, ids []string) error
}

// CommentFilterOptions mirrors commentfilter.Options so callers at the
// PullRequestService boundary don't need to import internal/commentfilter
// directly (avoiding a cross-layer dependency in the wrong direction).
type CommentFilterOptions struct {
	ExcludeAuthor bool
	PRAuthor      string
	AllowedBots   []string
}
