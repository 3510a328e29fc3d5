package boardsvc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teamforge/orchestrator/internal/models"
)

// InMemoryBoard is a deterministic fake Service, used by the core's
// own tests to express the scenarios in spec section 8 as table
// tests, grounded on the teacher's func-field mock style
// (services.MockCodexClient) generalized to a small stateful fake
// since board mutation (status transitions) is itself part of what's
// under test here.
type InMemoryBoard struct {
	mu    sync.Mutex
	items map[string]*models.ProjectBoardItem
}

// NewInMemoryBoard constructs an empty fake board.
func NewInMemoryBoard() *InMemoryBoard {
	return &InMemoryBoard{items: make(map[string]*models.ProjectBoardItem)}
}

// Seed adds or replaces an item, for test setup.
func (b *InMemoryBoard) Seed(item *models.ProjectBoardItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[item.ID] = item
}

func (b *InMemoryBoard) GetItems(ctx context.Context, status models.TaskStatus) ([]*models.ProjectBoardItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*models.ProjectBoardItem, 0, len(b.items))
	for _, item := range b.items {
		if status == "" || item.Status == status {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *InMemoryBoard) UpdateItemStatus(ctx context.Context, itemID string, newStatus models.TaskStatus) (*models.ProjectBoardItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, ok := b.items[itemID]
	if !ok {
		return nil, fmt.Errorf("no such board item: %s", itemID)
	}
	item.Status = newStatus
	return item, nil
}

func (b *InMemoryBoard) AddPullRequestToItem(ctx context.Context, itemID string, url string) (*models.ProjectBoardItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, ok := b.items[itemID]
	if !ok {
		return nil, fmt.Errorf("no such board item: %s", itemID)
	}
	item.URL = url
	return item, nil
}

var _ Service = (*InMemoryBoard)(nil)
