package models

import (
	"strings"
	"time"
)

// ProjectBoardItem is a read-only projection of one item on the
// external project board (e.g. a GitHub Issue tracked on a project).
// It is never persisted by the StateStore; it is fetched fresh on
// every planner tick.
type ProjectBoardItem struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	RepositoryID string     `json:"repositoryId"`
	Labels       []string   `json:"labels,omitempty"`
	URL          string     `json:"url,omitempty"`
}

// LabelValue returns the first label with the given case-insensitive
// prefix, and the remainder of the label with the prefix stripped.
func (b *ProjectBoardItem) LabelValue(prefix string) (string, bool) {
	for _, label := range b.Labels {
		if len(label) < len(prefix) {
			continue
		}
		if !strings.EqualFold(label[:len(prefix)], prefix) {
			continue
		}
		return label[len(prefix):], true
	}
	return "", false
}

// PullRequest is a read-only projection of an open or merged pull
// request associated with a task.
type PullRequest struct {
	URL         string    `json:"url"`
	Number      int       `json:"number"`
	Author      string    `json:"author"`
	IsApproved  bool      `json:"isApproved"`
	IsMerged    bool      `json:"isMerged"`
	IsOpen      bool      `json:"isOpen"`
	Reviews     []Review  `json:"reviews,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Review is a single review event on a PullRequest.
type Review struct {
	Author string    `json:"author"`
	State  string    `json:"state"`
	At     time.Time `json:"at"`
}

// Comment is a single PR or issue comment, as returned by the
// PullRequestService and filtered by CommentFilter before reaching a
// Worker's prompt.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
