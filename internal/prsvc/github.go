package prsvc

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"

	"github.com/teamforge/orchestrator/internal/models"
)

type ghPullRequest struct {
	Number  int       `json:"number"`
	HTMLURL string    `json:"html_url"`
	State   string    `json:"state"`
	Merged  bool      `json:"merged"`
	User    ghUser    `json:"user"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ghUser struct {
	Login string `json:"login"`
}

type ghReview struct {
	User        ghUser    `json:"user"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type ghComment struct {
	ID        int       `json:"id"`
	User      ghUser    `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// GitHubPullRequests is the reference PullRequestService adapter
// against the GitHub REST API, per SPEC_FULL.md's reference-adapter
// note. Approval computation follows spec section 6's "latest review
// per reviewer" rule.
type GitHubPullRequests struct {
	client *resty.Client
}

// NewGitHubPullRequests constructs an adapter authenticated with
// token.
func NewGitHubPullRequests(token string) *GitHubPullRequests {
	client := resty.New().
		SetBaseURL("https://api.github.com").
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Accept", "application/vnd.github+json").
		SetTimeout(30 * time.Second)

	return &GitHubPullRequests{client: client}
}

func (s *GitHubPullRequests) GetPullRequest(ctx context.Context, repoID string, number int) (*models.PullRequest, error) {
	var pr ghPullRequest
	resp, err := s.client.R().SetContext(ctx).SetResult(&pr).
		Get(fmt.Sprintf("/repos/%s/pulls/%d", repoID, number))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PR %s#%d: %w", repoID, number, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GitHub API returned %d fetching PR %s#%d", resp.StatusCode(), repoID, number)
	}

	approved, err := s.IsApproved(ctx, repoID, number)
	if err != nil {
		return nil, err
	}

	return toPullRequest(pr, approved), nil
}

func (s *GitHubPullRequests) ListPullRequests(ctx context.Context, repoID string, state string) ([]*models.PullRequest, error) {
	var prs []ghPullRequest
	req := s.client.R().SetContext(ctx).SetResult(&prs)
	if state != "" {
		req = req.SetQueryParam("state", state)
	}

	resp, err := req.Get(fmt.Sprintf("/repos/%s/pulls", repoID))
	if err != nil {
		return nil, fmt.Errorf("failed to list PRs for %s: %w", repoID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GitHub API returned %d listing PRs for %s", resp.StatusCode(), repoID)
	}

	out := make([]*models.PullRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, toPullRequest(pr, false))
	}
	return out, nil
}

func (s *GitHubPullRequests) IsApproved(ctx context.Context, repoID string, number int) (bool, error) {
	reviews, err := s.GetReviews(ctx, repoID, number)
	if err != nil {
		return false, err
	}
	return computeApproval(reviews), nil
}

// computeApproval implements spec section 6's rule: true iff the
// latest review per reviewer contains an APPROVED and no reviewer's
// latest review is CHANGES_REQUESTED.
func computeApproval(reviews []models.Review) bool {
	latest := make(map[string]models.Review)
	for _, r := range reviews {
		if existing, ok := latest[r.Author]; !ok || r.At.After(existing.At) {
			latest[r.Author] = r
		}
	}

	hasApproval := false
	for _, r := range latest {
		switch r.State {
		case "CHANGES_REQUESTED":
			return false
		case "APPROVED":
			hasApproval = true
		}
	}
	return hasApproval
}

func (s *GitHubPullRequests) GetReviews(ctx context.Context, repoID string, number int) ([]models.Review, error) {
	var reviews []ghReview
	resp, err := s.client.R().SetContext(ctx).SetResult(&reviews).
		Get(fmt.Sprintf("/repos/%s/pulls/%d/reviews", repoID, number))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reviews for PR %s#%d: %w", repoID, number, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GitHub API returned %d fetching reviews for PR %s#%d", resp.StatusCode(), repoID, number)
	}

	out := make([]models.Review, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, models.Review{Author: r.User.Login, State: r.State, At: r.SubmittedAt})
	}
	return out, nil
}

func (s *GitHubPullRequests) GetComments(ctx context.Context, repoID string, number int) ([]models.Comment, error) {
	return s.GetNewComments(ctx, repoID, number, time.Time{}, nil)
}

func (s *GitHubPullRequests) GetNewComments(ctx context.Context, repoID string, number int, since time.Time, filterOptions *CommentFilterOptions) ([]models.Comment, error) {
	var comments []ghComment
	req := s.client.R().SetContext(ctx).SetResult(&comments)
	if !since.IsZero() {
		req = req.SetQueryParam("since", since.Format(time.RFC3339))
	}

	resp, err := req.Get(fmt.Sprintf("/repos/%s/issues/%d/comments", repoID, number))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comments for PR %s#%d: %w", repoID, number, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GitHub API returned %d fetching comments for PR %s#%d", resp.StatusCode(), repoID, number)
	}

	out := make([]models.Comment, 0, len(comments))
	for _, c := range comments {
		out = append(out, models.Comment{
			ID:        fmt.Sprintf("%d", c.ID),
			Author:    c.User.Login,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	return out, nil
}

// MarkCommentsAsProcessed is a no-op: GitHub has no server-side
// "processed" flag for issue comments, so the processed set lives
// entirely in Task.ProcessedCommentIDs.
func (s *GitHubPullRequests) MarkCommentsAsProcessed(ctx context.Context, ids []string) error {
	return nil
}

func toPullRequest(pr ghPullRequest, approved bool) *models.PullRequest {
	return &models.PullRequest{
		URL:        pr.HTMLURL,
		Number:     pr.Number,
		Author:     pr.User.Login,
		IsApproved: approved,
		IsMerged:   pr.Merged,
		IsOpen:     pr.State == "open",
		UpdatedAt:  pr.UpdatedAt,
	}
}

var _ Service = (*GitHubPullRequests)(nil)
