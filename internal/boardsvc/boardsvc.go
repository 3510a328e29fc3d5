// Package boardsvc defines the ProjectBoardService contract (spec
// section 6) and its reference adapters: a GitHub-Issues-as-board
// implementation and an in-memory fake used by the core's own tests.
package boardsvc

import (
	"context"

	"github.com/teamforge/orchestrator/internal/models"
)

// Service is the external project board the Planner reconciles
// against. Implementations must treat getItems(status) as a read-only
// snapshot: the Planner is the only writer of status transitions.
type Service interface {
	// GetItems lists board items in the given lane. An empty status
	// lists every lane.
	GetItems(ctx context.Context, status models.TaskStatus) ([]*models.ProjectBoardItem, error)

	// UpdateItemStatus moves itemID to newStatus and returns the
	// updated item.
	UpdateItemStatus(ctx context.Context, itemID string, newStatus models.TaskStatus) (*models.ProjectBoardItem, error)

	// AddPullRequestToItem attaches url to itemID's board record, e.g.
	// as a comment or linked-PR field, best-effort: a failure here is
	// warn-and-continue per spec section 7 (missing PR-URL board
	// field is one of the two tolerated silent-swallow cases).
	AddPullRequestToItem(ctx context.Context, itemID string, url string) (*models.ProjectBoardItem, error)
}
