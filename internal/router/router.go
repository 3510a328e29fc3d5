// Package router decides, for each incoming TaskRequest, which worker
// (existing or freshly allocated) should handle it and with what
// WorkerAction, per spec section 4.6. It has no teacher analogue: the
// teacher dispatches by job ID directly rather than through a
// priority-ranked router, so this is new code written in the
// surrounding packages' idiom.
package router

import (
	"context"
	"time"

	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/worker"
	"github.com/teamforge/orchestrator/internal/workspace"
)

// ResponseKind is the outcome the Planner acts on after routing a
// TaskRequest.
type ResponseKind string

const (
	ResponseAccepted ResponseKind = "ACCEPTED"
	ResponseRejected ResponseKind = "REJECTED"
	ResponseError    ResponseKind = "ERROR"
	// ResponseReporting carries a worker's current status back for
	// CHECK_STATUS requests that found an existing, still-running
	// worker; it is not itself a terminal outcome.
	ResponseReporting ResponseKind = "REPORTING"
)

// Request is the input to Route: one task-routing decision, named
// TaskRequest in spec section 4.6.
type Request struct {
	TaskID       string
	Action       models.WorkerAction
	RepositoryID string
	BoardItem    *models.ProjectBoardItem
	PullRequestURL string
	Comments     []models.Comment
}

// Response is what Route hands back to the Planner.
type Response struct {
	Kind           ResponseKind
	Reason         string
	Worker         *models.Worker
	PullRequestURL string
	Err            error
}

// Pool is the subset of workerpool.Pool the router depends on, broken
// out as an interface so tests can substitute a fake without pulling
// in the gammazero executor.
type Pool interface {
	GetAvailableWorker() (*worker.Instance, error)
	GetWorkerByTaskID(taskID string) *worker.Instance
}

// Router implements the routing table of spec section 4.6.
type Router struct {
	pool       Pool
	workspaces *workspace.Manager
}

// New constructs a Router over pool, using workspaces to decide
// whether a taskId's prior workspace is still valid for CHECK_STATUS
// reassignment.
func New(pool Pool, workspaces *workspace.Manager) *Router {
	return &Router{pool: pool, workspaces: workspaces}
}

// Route decides the outcome for req per the table in spec section
// 4.6 and, where the table calls for it, assigns the chosen worker.
func (r *Router) Route(ctx context.Context, req Request) Response {
	switch req.Action {
	case models.ActionStartNewTask:
		return r.routeStartNewTask(req)
	case models.ActionResumeTask:
		return r.routeCheckStatus(req)
	case models.ActionProcessFeedback:
		return r.routeProcessFeedback(req)
	case models.ActionRequestMerge:
		return r.routeRequestMerge(req)
	default:
		return Response{Kind: ResponseError, Reason: "unknown action: " + string(req.Action)}
	}
}

func (r *Router) routeStartNewTask(req Request) Response {
	if existing := r.pool.GetWorkerByTaskID(req.TaskID); existing != nil {
		return Response{Kind: ResponseRejected, Reason: "task already has a worker"}
	}

	w, err := r.pool.GetAvailableWorker()
	if err != nil {
		return Response{Kind: ResponseRejected, Reason: err.Error(), Err: err}
	}

	if err := w.AssignTask(&models.WorkerTask{
		TaskID:       req.TaskID,
		Action:       models.ActionStartNewTask,
		RepositoryID: req.RepositoryID,
		BoardItem:    req.BoardItem,
		AssignedAt:   time.Now(),
	}); err != nil {
		return Response{Kind: ResponseRejected, Reason: err.Error(), Err: err}
	}

	return Response{Kind: ResponseAccepted, Worker: w.Snapshot()}
}

func (r *Router) routeCheckStatus(req Request) Response {
	if existing := r.pool.GetWorkerByTaskID(req.TaskID); existing != nil {
		return Response{Kind: ResponseReporting, Worker: existing.Snapshot()}
	}

	if r.workspaces == nil {
		return Response{Kind: ResponseError, Reason: "no workspace found", Err: &core.NoWorkspaceFound{TaskID: req.TaskID}}
	}

	info := r.workspaces.Lookup(req.TaskID)
	if info == nil || !r.workspaces.IsWorktreeValid(info) {
		return Response{Kind: ResponseError, Reason: "no workspace found", Err: &core.NoWorkspaceFound{TaskID: req.TaskID}}
	}

	w, err := r.pool.GetAvailableWorker()
	if err != nil {
		return Response{Kind: ResponseRejected, Reason: err.Error(), Err: err}
	}

	if err := w.AssignTask(&models.WorkerTask{
		TaskID:       req.TaskID,
		Action:       models.ActionResumeTask,
		RepositoryID: req.RepositoryID,
		BoardItem:    req.BoardItem,
		AssignedAt:   time.Now(),
	}); err != nil {
		return Response{Kind: ResponseRejected, Reason: err.Error(), Err: err}
	}

	return Response{Kind: ResponseAccepted, Worker: w.Snapshot()}
}

func (r *Router) routeProcessFeedback(req Request) Response {
	existing := r.pool.GetWorkerByTaskID(req.TaskID)
	if existing != nil {
		if existing.Status() == models.WorkerStatusWorking {
			return Response{Kind: ResponseRejected, Reason: "busy"}
		}

		if err := existing.AssignTask(&models.WorkerTask{
			TaskID:         req.TaskID,
			Action:         models.ActionProcessFeedback,
			RepositoryID:   req.RepositoryID,
			BoardItem:      req.BoardItem,
			PullRequestURL: req.PullRequestURL,
			Comments:       req.Comments,
			AssignedAt:     time.Now(),
		}); err != nil {
			return Response{Kind: ResponseRejected, Reason: err.Error(), Err: err}
		}

		return Response{Kind: ResponseAccepted, Worker: existing.Snapshot()}
	}

	w, err := r.pool.GetAvailableWorker()
	if err != nil {
		return Response{Kind: ResponseRejected, Reason: err.Error(), Err: err}
	}

	if err := w.AssignTask(&models.WorkerTask{
		TaskID:         req.TaskID,
		Action:         models.ActionProcessFeedback,
		RepositoryID:   req.RepositoryID,
		BoardItem:      req.BoardItem,
		PullRequestURL: req.PullRequestURL,
		Comments:       req.Comments,
		AssignedAt:     time.Now(),
	}); err != nil {
		return Response{Kind: ResponseRejected, Reason: err.Error(), Err: err}
	}

	return Response{Kind: ResponseAccepted, Worker: w.Snapshot()}
}

func (r *Router) routeRequestMerge(req Request) Response {
	w := r.pool.GetWorkerByTaskID(req.TaskID)
	if w == nil {
		var err error
		w, err = r.pool.GetAvailableWorker()
		if err != nil {
			return Response{Kind: ResponseRejected, Reason: err.Error(), Err: err}
		}
	}

	if err := w.AssignTask(&models.WorkerTask{
		TaskID:         req.TaskID,
		Action:         models.ActionRequestMerge,
		RepositoryID:   req.RepositoryID,
		BoardItem:      req.BoardItem,
		PullRequestURL: req.PullRequestURL,
		AssignedAt:     time.Now(),
	}); err != nil {
		return Response{Kind: ResponseRejected, Reason: err.Error(), Err: err}
	}

	return Response{Kind: ResponseAccepted, Worker: w.Snapshot()}
}

// Priority reports the reassignment priority for taskId per spec
// section 4.6: 10 when a valid extant workspace exists, 5 otherwise.
func (r *Router) Priority(taskID string) int {
	if r.workspaces == nil {
		return 5
	}
	info := r.workspaces.Lookup(taskID)
	if info != nil && r.workspaces.IsWorktreeValid(info) {
		return 10
	}
	return 5
}
