package router

import (
	"context"
	"testing"
	"time"

	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/developer"
	"github.com/teamforge/orchestrator/internal/gitlock"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/prompt"
	"github.com/teamforge/orchestrator/internal/store"
	"github.com/teamforge/orchestrator/internal/worker"
	"github.com/teamforge/orchestrator/internal/workspace"
)

type fakeGit struct{}

func (fakeGit) AddWorktree(ctx context.Context, repoPath, worktreePath, branchName, baseRef string) error {
	return nil
}
func (fakeGit) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error { return nil }

type fakePool struct {
	workers    map[string]*worker.Instance
	byTask     map[string]*worker.Instance
	exhausted  bool
}

func newFakePool() *fakePool {
	return &fakePool{workers: map[string]*worker.Instance{}, byTask: map[string]*worker.Instance{}}
}

func (p *fakePool) GetAvailableWorker() (*worker.Instance, error) {
	if p.exhausted {
		return nil, &core.NoAvailableWorker{MaxWorkers: 1}
	}
	id := "worker-" + time.Now().Format(time.RFC3339Nano)
	inst := worker.New(id, models.DeveloperMock, worker.Deps{Prompts: prompt.New(), Developer: &developer.MockDeveloper{}})
	p.workers[id] = inst
	return inst, nil
}

func (p *fakePool) GetWorkerByTaskID(taskID string) *worker.Instance {
	return p.byTask[taskID]
}

func (p *fakePool) assign(taskID string, inst *worker.Instance) {
	p.byTask[taskID] = inst
}

func newTestManager(t *testing.T) *workspace.Manager {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	lock := gitlock.New(time.Minute)
	resolveRepo := func(ctx context.Context, repoID string) (string, error) { return "/repos/" + repoID, nil }
	return workspace.New(t.TempDir(), fakeGit{}, lock, resolveRepo, st)
}

func TestRouteStartNewTaskAssignsIdleWorker(t *testing.T) {
	pool := newFakePool()
	r := New(pool, newTestManager(t))

	resp := r.Route(context.Background(), Request{TaskID: "task-1", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"})
	if resp.Kind != ResponseAccepted {
		t.Fatalf("Kind = %s, want ACCEPTED (reason=%s)", resp.Kind, resp.Reason)
	}
}

func TestRouteStartNewTaskRejectsIfAlreadyTracked(t *testing.T) {
	pool := newFakePool()
	r := New(pool, newTestManager(t))

	inst, _ := pool.GetAvailableWorker()
	pool.assign("task-1", inst)

	resp := r.Route(context.Background(), Request{TaskID: "task-1", Action: models.ActionStartNewTask, RepositoryID: "acme/widgets"})
	if resp.Kind != ResponseRejected {
		t.Fatalf("Kind = %s, want REJECTED", resp.Kind)
	}
}

func TestRouteCheckStatusErrorsWithoutWorkspace(t *testing.T) {
	pool := newFakePool()
	r := New(pool, newTestManager(t))

	resp := r.Route(context.Background(), Request{TaskID: "task-1", Action: models.ActionResumeTask, RepositoryID: "acme/widgets"})
	if resp.Kind != ResponseError {
		t.Fatalf("Kind = %s, want ERROR", resp.Kind)
	}
	if _, ok := core.IsNoWorkspaceFound(resp.Err); !ok {
		t.Fatalf("expected *core.NoWorkspaceFound, got %T: %v", resp.Err, resp.Err)
	}
}

func TestRouteCheckStatusReportsExistingWorker(t *testing.T) {
	pool := newFakePool()
	r := New(pool, newTestManager(t))

	inst, _ := pool.GetAvailableWorker()
	pool.assign("task-1", inst)

	resp := r.Route(context.Background(), Request{TaskID: "task-1", Action: models.ActionResumeTask, RepositoryID: "acme/widgets"})
	if resp.Kind != ResponseReporting {
		t.Fatalf("Kind = %s, want REPORTING", resp.Kind)
	}
}

func TestRouteProcessFeedbackReassignsWaitingWorker(t *testing.T) {
	pool := newFakePool()
	r := New(pool, newTestManager(t))

	inst, _ := pool.GetAvailableWorker()
	if err := inst.AssignTask(&models.WorkerTask{TaskID: "task-1", Action: models.ActionStartNewTask}); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	pool.assign("task-1", inst)

	resp := r.Route(context.Background(), Request{TaskID: "task-1", Action: models.ActionProcessFeedback, RepositoryID: "acme/widgets"})
	if resp.Kind != ResponseAccepted {
		t.Fatalf("Kind = %s, want ACCEPTED (reason=%s)", resp.Kind, resp.Reason)
	}
}

func TestRouteProcessFeedbackAllocatesFreshWorkerWhenUntracked(t *testing.T) {
	pool := newFakePool()
	r := New(pool, newTestManager(t))

	resp := r.Route(context.Background(), Request{TaskID: "task-2", Action: models.ActionProcessFeedback, RepositoryID: "acme/widgets"})
	if resp.Kind != ResponseAccepted {
		t.Fatalf("expected a feedback request for an untracked task to allocate a fresh worker, got %s", resp.Kind)
	}
}

func TestRouteRequestMergeAllocatesWorkerWhenNoneTracked(t *testing.T) {
	pool := newFakePool()
	r := New(pool, newTestManager(t))

	resp := r.Route(context.Background(), Request{TaskID: "task-1", Action: models.ActionRequestMerge, RepositoryID: "acme/widgets", PullRequestURL: "https://github.com/acme/widgets/pull/1"})
	if resp.Kind != ResponseAccepted {
		t.Fatalf("Kind = %s, want ACCEPTED", resp.Kind)
	}
}

func TestPriorityReflectsWorkspaceValidity(t *testing.T) {
	pool := newFakePool()
	mgr := newTestManager(t)
	r := New(pool, mgr)

	if got := r.Priority("task-1"); got != 5 {
		t.Fatalf("Priority() = %d, want 5 for untracked task", got)
	}
}
