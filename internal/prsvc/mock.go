package prsvc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teamforge/orchestrator/internal/models"
)

// InMemoryPullRequests is a deterministic fake Service, grounded on
// the teacher's func-field mock style but stateful since the Planner
// tests in spec section 8 (scenario C, comment de-duplication) need
// comments to accumulate across ticks.
type InMemoryPullRequests struct {
	mu       sync.Mutex
	prs      map[string]*models.PullRequest // key: "repoID#number"
	comments map[string][]models.Comment
}

// NewInMemoryPullRequests constructs an empty fake.
func NewInMemoryPullRequests() *InMemoryPullRequests {
	return &InMemoryPullRequests{
		prs:      make(map[string]*models.PullRequest),
		comments: make(map[string][]models.Comment),
	}
}

func prKey(repoID string, number int) string {
	return fmt.Sprintf("%s#%d", repoID, number)
}

// Seed adds or replaces a PR, for test setup.
func (s *InMemoryPullRequests) Seed(repoID string, pr *models.PullRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prs[prKey(repoID, pr.Number)] = pr
}

// AddComment appends a comment to a PR's timeline, for test setup /
// simulating new review activity between ticks.
func (s *InMemoryPullRequests) AddComment(repoID string, number int, c models.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := prKey(repoID, number)
	s.comments[key] = append(s.comments[key], c)
}

func (s *InMemoryPullRequests) GetPullRequest(ctx context.Context, repoID string, number int) (*models.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs[prKey(repoID, number)]
	if !ok {
		return nil, fmt.Errorf("no such pull request: %s#%d", repoID, number)
	}
	return pr, nil
}

func (s *InMemoryPullRequests) ListPullRequests(ctx context.Context, repoID string, state string) ([]*models.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.PullRequest
	for key, pr := range s.prs {
		if !strings.HasPrefix(key, repoID+"#") {
			continue
		}
		if state == "" || (state == "open" && pr.IsOpen) || (state == "closed" && !pr.IsOpen) {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *InMemoryPullRequests) IsApproved(ctx context.Context, repoID string, number int) (bool, error) {
	pr, err := s.GetPullRequest(ctx, repoID, number)
	if err != nil {
		return false, err
	}
	return pr.IsApproved, nil
}

func (s *InMemoryPullRequests) GetReviews(ctx context.Context, repoID string, number int) ([]models.Review, error) {
	pr, err := s.GetPullRequest(ctx, repoID, number)
	if err != nil {
		return nil, err
	}
	return pr.Reviews, nil
}

func (s *InMemoryPullRequests) GetComments(ctx context.Context, repoID string, number int) ([]models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Comment(nil), s.comments[prKey(repoID, number)]...), nil
}

func (s *InMemoryPullRequests) GetNewComments(ctx context.Context, repoID string, number int, since time.Time, filterOptions *CommentFilterOptions) ([]models.Comment, error) {
	s.mu.Lock()
	all := append([]models.Comment(nil), s.comments[prKey(repoID, number)]...)
	s.mu.Unlock()

	out := make([]models.Comment, 0, len(all))
	for _, c := range all {
		if c.CreatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemoryPullRequests) MarkCommentsAsProcessed(ctx context.Context, ids []string) error {
	return nil
}

var _ Service = (*InMemoryPullRequests)(nil)
