package boardsvc

import (
	"context"

	"github.com/teamforge/orchestrator/internal/models"
)

// filtered wraps a Service, hiding items outside an allow-listed set
// of repository ids, per the `repositoryFilter` configuration field
// named in spec section 6.
type filtered struct {
	Service
	allowed map[string]bool
}

// Filtered restricts inner to items whose RepositoryID is in repoIDs.
// An empty repoIDs disables filtering and returns inner unchanged.
func Filtered(inner Service, repoIDs []string) Service {
	if len(repoIDs) == 0 {
		return inner
	}
	allowed := make(map[string]bool, len(repoIDs))
	for _, id := range repoIDs {
		allowed[id] = true
	}
	return &filtered{Service: inner, allowed: allowed}
}

func (f *filtered) GetItems(ctx context.Context, status models.TaskStatus) ([]*models.ProjectBoardItem, error) {
	items, err := f.Service.GetItems(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ProjectBoardItem, 0, len(items))
	for _, item := range items {
		if f.allowed[item.RepositoryID] {
			out = append(out, item)
		}
	}
	return out, nil
}
