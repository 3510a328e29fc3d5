package boardsvc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/teamforge/orchestrator/internal/models"
)

// laneLabels maps a TaskStatus to the GitHub issue label this adapter
// uses as that lane's marker, per SPEC_FULL's reference-adapter note.
var laneLabels = map[models.TaskStatus]string{
	models.TaskStatusTodo:       "status:todo",
	models.TaskStatusInProgress: "status:in-progress",
	models.TaskStatusInReview:   "status:in-review",
	models.TaskStatusDone:       "status:done",
}

func labelForStatus(status models.TaskStatus) string {
	return laneLabels[status]
}

func statusForLabels(labels []string) models.TaskStatus {
	for status, label := range laneLabels {
		for _, l := range labels {
			if strings.EqualFold(l, label) {
				return status
			}
		}
	}
	return models.TaskStatusTodo
}

type ghIssue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	URL    string   `json:"html_url"`
	Labels []ghLabel `json:"labels"`
}

type ghLabel struct {
	Name string `json:"name"`
}

// GitHubIssuesBoard treats a GitHub repository's issues, labelled with
// status:* lanes, as a project board, per SPEC_FULL.md's reference
// adapter note. Authentication and error-surfacing follow
// clients.AgentsApiClient's Bearer-token + status-code-check style.
type GitHubIssuesBoard struct {
	client *resty.Client
	repo   string // "owner/name"
}

// NewGitHubIssuesBoard constructs an adapter against repo ("owner/name")
// authenticated with token.
func NewGitHubIssuesBoard(token, repo string) *GitHubIssuesBoard {
	client := resty.New().
		SetBaseURL("https://api.github.com").
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Accept", "application/vnd.github+json").
		SetTimeout(30 * time.Second)

	return &GitHubIssuesBoard{client: client, repo: repo}
}

func (b *GitHubIssuesBoard) GetItems(ctx context.Context, status models.TaskStatus) ([]*models.ProjectBoardItem, error) {
	var issues []ghIssue
	req := b.client.R().SetContext(ctx).SetResult(&issues)
	if status != "" {
		req = req.SetQueryParam("labels", labelForStatus(status))
	}

	resp, err := req.Get(fmt.Sprintf("/repos/%s/issues", b.repo))
	if err != nil {
		return nil, fmt.Errorf("failed to list issues for %s: %w", b.repo, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GitHub API returned %d listing issues for %s", resp.StatusCode(), b.repo)
	}

	items := make([]*models.ProjectBoardItem, 0, len(issues))
	for _, issue := range issues {
		items = append(items, toBoardItem(issue, b.repo))
	}
	return items, nil
}

func (b *GitHubIssuesBoard) UpdateItemStatus(ctx context.Context, itemID string, newStatus models.TaskStatus) (*models.ProjectBoardItem, error) {
	for _, label := range laneLabels {
		resp, err := b.client.R().SetContext(ctx).
			Delete(fmt.Sprintf("/repos/%s/issues/%s/labels/%s", b.repo, itemID, label))
		if err != nil {
			return nil, fmt.Errorf("failed to clear label on issue %s: %w", itemID, err)
		}
		if resp.IsError() && resp.StatusCode() != 404 {
			return nil, fmt.Errorf("GitHub API returned %d clearing label on issue %s", resp.StatusCode(), itemID)
		}
	}

	var issue ghIssue
	resp, err := b.client.R().SetContext(ctx).
		SetBody(map[string]any{"labels": []string{labelForStatus(newStatus)}}).
		SetResult(&issue).
		Patch(fmt.Sprintf("/repos/%s/issues/%s", b.repo, itemID))
	if err != nil {
		return nil, fmt.Errorf("failed to update issue %s status: %w", itemID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GitHub API returned %d updating issue %s", resp.StatusCode(), itemID)
	}

	return toBoardItem(issue, b.repo), nil
}

func (b *GitHubIssuesBoard) AddPullRequestToItem(ctx context.Context, itemID string, url string) (*models.ProjectBoardItem, error) {
	resp, err := b.client.R().SetContext(ctx).
		SetBody(map[string]any{"body": "Linked pull request: " + url}).
		Post(fmt.Sprintf("/repos/%s/issues/%s/comments", b.repo, itemID))
	if err != nil || resp.IsError() {
		// Per spec section 7, a missing PR-URL board field is one of the
		// two tolerated silent-swallow cases: warn and continue.
		return nil, fmt.Errorf("failed to attach pull request URL to issue %s: %w", itemID, err)
	}
	return b.GetItem(ctx, itemID)
}

// GetItem fetches a single issue by number for use after a mutation.
func (b *GitHubIssuesBoard) GetItem(ctx context.Context, itemID string) (*models.ProjectBoardItem, error) {
	var issue ghIssue
	resp, err := b.client.R().SetContext(ctx).SetResult(&issue).
		Get(fmt.Sprintf("/repos/%s/issues/%s", b.repo, itemID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s: %w", itemID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GitHub API returned %d fetching issue %s", resp.StatusCode(), itemID)
	}
	return toBoardItem(issue, b.repo), nil
}

func toBoardItem(issue ghIssue, repo string) *models.ProjectBoardItem {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	return &models.ProjectBoardItem{
		ID:           fmt.Sprintf("%d", issue.Number),
		Title:        issue.Title,
		Status:       statusForLabels(labels),
		RepositoryID: repo,
		Labels:       labels,
		URL:          issue.URL,
	}
}
