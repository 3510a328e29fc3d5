package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teamforge/orchestrator/internal/basebranch"
	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/developer"
	"github.com/teamforge/orchestrator/internal/gitlock"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/prompt"
	"github.com/teamforge/orchestrator/internal/reposcache"
	"github.com/teamforge/orchestrator/internal/store"
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

func newInstance(t *testing.T, dev developer.Developer) *Instance {
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

	return New("worker-1", models.DeveloperMock, Deps{
		Store:      st,
		Repos:      repos,
		Workspaces: workspaces,
		BaseBranch: baseBranch,
		Prompts:    prompt.New(),
		Developer:  dev,
	})
}

func TestAssignTaskFromIdleTransitionsToWaiting(t *testing.T) {
	w := newInstance(t, &developer.MockDeveloper{})

	task := &models.WorkerTask{TaskID: "task-1", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"}
	if err := w.AssignTask(task); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	if got := w.Status(); got != models.WorkerStatusWaiting {
		t.Fatalf("Status() = %s, want WAITING", got)
	}
	if got := w.CurrentTaskID(); got != "task-1" {
		t.Fatalf("CurrentTaskID() = %s, want task-1", got)
	}
}

func TestAssignTaskToBusyWorkerFails(t *testing.T) {
	w := newInstance(t, &developer.MockDeveloper{})

	task1 := &models.WorkerTask{TaskID: "task-1", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"}
	if err := w.AssignTask(task1); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	task2 := &models.WorkerTask{TaskID: "task-2", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"}
	err := w.AssignTask(task2)
	if err == nil {
		t.Fatal("expected error assigning a second task to a WAITING worker")
	}
	var busy *core.WorkerBusy
	if !errors.As(err, &busy) {
		t.Fatalf("expected *core.WorkerBusy, got %T: %v", err, err)
	}

	if got := w.CurrentTaskID(); got != "task-1" {
		t.Fatalf("expected rollback to keep original task, got %s", got)
	}
}

func TestAssignFeedbackForSameTaskReplacesCurrentTask(t *testing.T) {
	w := newInstance(t, &developer.MockDeveloper{})

	task1 := &models.WorkerTask{TaskID: "task-1", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"}
	if err := w.AssignTask(task1); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	feedback := &models.WorkerTask{TaskID: "task-1", Action: models.ActionProcessFeedback, RepositoryID: "acme/widgets"}
	if err := w.AssignTask(feedback); err != nil {
		t.Fatalf("AssignTask (feedback): %v", err)
	}
	if got := w.Status(); got != models.WorkerStatusWaiting {
		t.Fatalf("Status() = %s, want WAITING", got)
	}
}

func TestStartExecutionSucceedsAndReturnsToIdle(t *testing.T) {
	w := newInstance(t, &developer.MockDeveloper{RunFunc: func(ctx context.Context, req developer.Request) (*developer.Output, error) {
		return &developer.Output{PullRequestURL: "https://github.com/acme/widgets/pull/1"}, nil
	}})

	task := &models.WorkerTask{TaskID: "task-1", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"}
	if err := w.AssignTask(task); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	result := w.StartExecution(context.Background(), &models.ProjectBoardItem{Title: "Fix the bug"})
	if !result.Success {
		t.Fatalf("expected success, got err=%v", result.Err)
	}
	if result.PullRequestURL != "https://github.com/acme/widgets/pull/1" {
		t.Fatalf("PullRequestURL = %s", result.PullRequestURL)
	}
	if got := w.Status(); got != models.WorkerStatusIdle {
		t.Fatalf("Status() = %s, want IDLE", got)
	}
	if got := w.CurrentTaskID(); got != "" {
		t.Fatalf("expected no current task after success, got %s", got)
	}
}

func TestStartExecutionFailureStopsWorkerAndKeepsTask(t *testing.T) {
	wantErr := errors.New("developer crashed")
	w := newInstance(t, &developer.MockDeveloper{RunFunc: func(ctx context.Context, req developer.Request) (*developer.Output, error) {
		return nil, wantErr
	}})

	task := &models.WorkerTask{TaskID: "task-1", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"}
	if err := w.AssignTask(task); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	result := w.StartExecution(context.Background(), &models.ProjectBoardItem{Title: "Fix the bug"})
	if result.Success {
		t.Fatal("expected failure")
	}
	if got := w.Status(); got != models.WorkerStatusStopped {
		t.Fatalf("Status() = %s, want STOPPED", got)
	}
	if got := w.CurrentTaskID(); got != "task-1" {
		t.Fatalf("expected task to be retained on failure, got %s", got)
	}
}

func TestRecoverIfStoppedMovesBackToWaitingAfterTimeout(t *testing.T) {
	w := newInstance(t, &developer.MockDeveloper{RunFunc: func(ctx context.Context, req developer.Request) (*developer.Output, error) {
		return nil, errors.New("boom")
	}})

	task := &models.WorkerTask{TaskID: "task-1", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"}
	if err := w.AssignTask(task); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	w.StartExecution(context.Background(), &models.ProjectBoardItem{Title: "Fix the bug"})

	if w.RecoverIfStopped(time.Hour) {
		t.Fatal("expected no recovery before the timeout has elapsed")
	}

	if !w.RecoverIfStopped(0) {
		t.Fatal("expected recovery once the timeout has elapsed")
	}
	if got := w.Status(); got != models.WorkerStatusWaiting {
		t.Fatalf("Status() = %s, want WAITING", got)
	}
	if got := w.CurrentTaskID(); got != "task-1" {
		t.Fatalf("expected recovered worker to keep its task, got %s", got)
	}
}

func TestReleaseResetsWorkerToIdle(t *testing.T) {
	w := newInstance(t, &developer.MockDeveloper{})

	task := &models.WorkerTask{TaskID: "task-1", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"}
	if err := w.AssignTask(task); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	if err := w.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := w.Status(); got != models.WorkerStatusIdle {
		t.Fatalf("Status() = %s, want IDLE", got)
	}
	if got := w.CurrentTaskID(); got != "" {
		t.Fatalf("expected no current task after Release, got %s", got)
	}
}
