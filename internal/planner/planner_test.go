package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teamforge/orchestrator/internal/basebranch"
	"github.com/teamforge/orchestrator/internal/boardsvc"
	"github.com/teamforge/orchestrator/internal/developer"
	"github.com/teamforge/orchestrator/internal/gitlock"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/prompt"
	"github.com/teamforge/orchestrator/internal/prsvc"
	"github.com/teamforge/orchestrator/internal/reposcache"
	"github.com/teamforge/orchestrator/internal/router"
	"github.com/teamforge/orchestrator/internal/store"
	"github.com/teamforge/orchestrator/internal/worker"
	"github.com/teamforge/orchestrator/internal/workerpool"
	"github.com/teamforge/orchestrator/internal/workspace"
)

type fakeGit struct{}

func (fakeGit) CloneBare(ctx context.Context, url, localPath string) error {
	return os.MkdirAll(localPath, 0755)
}

func (fakeGit) Fetch(ctx context.Context, localPath string) error { return nil }

func (fakeGit) IsValidRepository(localPath string) bool {
	_, err := os.Stat(localPath)
	return err == nil
}

func (fakeGit) AddWorktree(ctx context.Context, repoPath, worktreePath, branchName, baseRef string) error {
	if err := os.MkdirAll(worktreePath, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(worktreePath, ".git"), []byte("gitdir: "+repoPath+"/worktrees/x\n"), 0644)
}

func (fakeGit) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	return os.RemoveAll(worktreePath)
}

type testHarness struct {
	planner *Planner
	board   *boardsvc.InMemoryBoard
	prs     *prsvc.InMemoryPullRequests
	pool    *workerpool.Pool
	store   *store.StateStore
}

func newHarness(t *testing.T, cfg workerpool.Config, dev developer.Developer) *testHarness {
	t.Helper()
	root := t.TempDir()

	st, err := store.New(root)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	lock := gitlock.New(time.Minute)
	git := fakeGit{}
	resolveURL := func(repoID string) (string, error) { return "https://example.com/" + repoID + ".git", nil }
	repos := reposcache.New(root, time.Hour, git, lock, resolveURL, st)
	resolveRepo := func(ctx context.Context, repoID string) (string, error) {
		return repos.LocalPath(repoID), nil
	}
	workspaces := workspace.New(root, git, lock, resolveRepo, st)
	baseBranch := basebranch.New(func(ctx context.Context, repoID string) (string, error) { return "main", nil })

	deps := worker.Deps{
		Store:      st,
		Repos:      repos,
		Workspaces: workspaces,
		BaseBranch: baseBranch,
		Prompts:    prompt.New(),
		Developer:  dev,
	}

	pool := workerpool.New(cfg, models.DeveloperMock, deps, st)
	if err := pool.InitializePool(); err != nil {
		t.Fatalf("InitializePool: %v", err)
	}

	rtr := router.New(pool, workspaces)
	board := boardsvc.NewInMemoryBoard()
	prs := prsvc.NewInMemoryPullRequests()

	p := New(board, prs, rtr, pool, st, Config{Interval: time.Hour, MaxTaskFailures: 3})

	return &testHarness{planner: p, board: board, prs: prs, pool: pool, store: st}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not satisfied before deadline")
}

func TestTickAssignsNewTaskAndAdvancesToInReview(t *testing.T) {
	dev := &developer.MockDeveloper{
		RunFunc: func(ctx context.Context, req developer.Request) (*developer.Output, error) {
			return &developer.Output{PullRequestURL: "https://github.com/acme/widgets/pull/1"}, nil
		},
	}
	h := newHarness(t, workerpool.Config{MinWorkers: 1, MaxWorkers: 2, MinPersistentWorkers: 1, IdleTimeout: time.Hour, RecoveryTimeout: time.Hour}, dev)

	h.board.Seed(&models.ProjectBoardItem{ID: "item-1", Title: "do the thing", Status: models.TaskStatusTodo, RepositoryID: "acme/widgets"})

	h.planner.Tick(context.Background())

	waitFor(t, func() bool {
		item, err := h.board.GetItems(context.Background(), "")
		if err != nil || len(item) == 0 {
			return false
		}
		return item[0].Status == models.TaskStatusInReview
	})

	task := h.store.GetTask("item-1")
	if task == nil {
		t.Fatal("expected item-1 to be tracked")
	}
	if task.Status != models.TaskStatusInReview {
		t.Fatalf("task.Status = %s, want IN_REVIEW", task.Status)
	}
	if task.PullRequestURL != "https://github.com/acme/widgets/pull/1" {
		t.Fatalf("task.PullRequestURL = %s", task.PullRequestURL)
	}
}

func TestTickLeavesTodoUnchangedWhenPoolExhausted(t *testing.T) {
	dev := &developer.MockDeveloper{}
	h := newHarness(t, workerpool.Config{MinWorkers: 1, MaxWorkers: 1, MinPersistentWorkers: 1, IdleTimeout: time.Hour, RecoveryTimeout: time.Hour}, dev)

	busy, err := h.pool.GetAvailableWorker()
	if err != nil {
		t.Fatalf("GetAvailableWorker: %v", err)
	}
	if err := busy.AssignTask(&models.WorkerTask{TaskID: "other-task", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"}); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	h.board.Seed(&models.ProjectBoardItem{ID: "item-1", Status: models.TaskStatusTodo, RepositoryID: "acme/widgets"})
	h.planner.Tick(context.Background())

	task := h.store.GetTask("item-1")
	if task == nil {
		t.Fatal("expected item-1 record to exist even though routing was rejected")
	}
	if task.Status != models.TaskStatusTodo {
		t.Fatalf("task.Status = %s, want TODO (rejected routing should not advance it)", task.Status)
	}

	items, err := h.board.GetItems(context.Background(), models.TaskStatusTodo)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected item-1 to remain in TODO, got %+v", items)
	}
}

func TestApprovedPullRequestTriggersMergeAndDone(t *testing.T) {
	mergeDone := make(chan struct{})
	dev := &developer.MockDeveloper{
		RunFunc: func(ctx context.Context, req developer.Request) (*developer.Output, error) {
			defer close(mergeDone)
			return &developer.Output{}, nil
		},
	}
	h := newHarness(t, workerpool.Config{MinWorkers: 1, MaxWorkers: 2, MinPersistentWorkers: 1, IdleTimeout: time.Hour, RecoveryTimeout: time.Hour}, dev)

	h.board.Seed(&models.ProjectBoardItem{ID: "item-1", Status: models.TaskStatusInReview, RepositoryID: "acme/widgets"})
	if err := h.store.UpsertTask(&models.Task{ID: "item-1", Status: models.TaskStatusInReview, PullRequestURL: "https://github.com/acme/widgets/pull/7"}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	h.prs.Seed("acme/widgets", &models.PullRequest{Number: 7, IsOpen: true, IsApproved: true})

	h.planner.Tick(context.Background())

	select {
	case <-mergeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the merge action to reach the developer")
	}

	waitFor(t, func() bool {
		task := h.store.GetTask("item-1")
		return task != nil && task.Status == models.TaskStatusDone
	})

	items, err := h.board.GetItems(context.Background(), models.TaskStatusDone)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected board item to advance to DONE, got %+v", items)
	}
}

func TestReviewTaskReconcilesFreshCommentsAsFeedback(t *testing.T) {
	handled := make(chan []models.Comment, 1)
	dev := &developer.MockDeveloper{
		RunFunc: func(ctx context.Context, req developer.Request) (*developer.Output, error) {
			return &developer.Output{}, nil
		},
	}
	h := newHarness(t, workerpool.Config{MinWorkers: 1, MaxWorkers: 2, MinPersistentWorkers: 1, IdleTimeout: time.Hour, RecoveryTimeout: time.Hour}, dev)

	h.board.Seed(&models.ProjectBoardItem{ID: "item-1", Status: models.TaskStatusInReview, RepositoryID: "acme/widgets"})
	if err := h.store.UpsertTask(&models.Task{ID: "item-1", Status: models.TaskStatusInReview, PullRequestURL: "https://github.com/acme/widgets/pull/9"}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	h.prs.Seed("acme/widgets", &models.PullRequest{Number: 9, IsOpen: true, IsApproved: false, Author: "author-bot"})
	h.prs.AddComment("acme/widgets", 9, models.Comment{ID: "c1", Author: "reviewer", Body: "please fix x", CreatedAt: time.Now()})

	h.planner.Tick(context.Background())

	waitFor(t, func() bool {
		task := h.store.GetTask("item-1")
		return task != nil && task.HasProcessedComment("c1")
	})
	_ = handled
}

func TestRepeatedCheckStatusErrorsRevertTaskToTodo(t *testing.T) {
	dev := &developer.MockDeveloper{}
	h := newHarness(t, workerpool.Config{MinWorkers: 1, MaxWorkers: 1, MinPersistentWorkers: 1, IdleTimeout: time.Hour, RecoveryTimeout: time.Hour}, dev)
	h.planner = New(h.board, h.prs, router.New(h.pool, workspace.New(t.TempDir(), fakeGit{}, gitlock.New(time.Minute), func(ctx context.Context, repoID string) (string, error) { return "", nil }, h.store)), h.pool, h.store, Config{Interval: time.Hour, MaxTaskFailures: 2})

	h.board.Seed(&models.ProjectBoardItem{ID: "item-1", Status: models.TaskStatusInProgress, RepositoryID: "acme/widgets"})
	if err := h.store.UpsertTask(&models.Task{ID: "item-1", Status: models.TaskStatusInProgress}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	h.planner.Tick(context.Background())
	h.planner.Tick(context.Background())

	task := h.store.GetTask("item-1")
	if task == nil {
		t.Fatal("expected task record to survive")
	}
	if task.Status != models.TaskStatusTodo {
		t.Fatalf("task.Status = %s, want TODO after repeated CHECK_STATUS errors", task.Status)
	}

	items, err := h.board.GetItems(context.Background(), models.TaskStatusTodo)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected board item to revert to TODO, got %+v", items)
	}
}
