// Package worker implements the per-instance state machine described
// in spec section 4.4: IDLE -> WAITING -> WORKING -> IDLE on success,
// -> STOPPED on unhandled failure, STOPPED -> WAITING after recovery.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teamforge/orchestrator/internal/basebranch"
	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/developer"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/prompt"
	"github.com/teamforge/orchestrator/internal/reposcache"
	"github.com/teamforge/orchestrator/internal/store"
	"github.com/teamforge/orchestrator/internal/workspace"
)

// Result is what a completed WORKING phase hands back to whatever
// drives the Worker (the WorkerPool, ultimately the TaskRouter), per
// spec section 4.4 step 5.
type Result struct {
	TaskID         string
	Success        bool
	PullRequestURL string
	Err            error
}

// Instance is one execution slot: a state machine plus the
// collaborators it needs to carry out the WORKING phases described in
// spec section 4.4.
type Instance struct {
	mu sync.Mutex

	id             string
	status         models.WorkerStatus
	currentTask    *models.WorkerTask
	workspaceDir   string
	developerType  models.DeveloperType
	createdAt      time.Time
	lastActiveAt   time.Time
	retryBudget    int

	store       *store.StateStore
	repos       *reposcache.Cache
	workspaces  *workspace.Manager
	baseBranch  *basebranch.Resolver
	prompts     *prompt.Builder
	dev         developer.Developer
}

// Deps bundles an Instance's collaborators so construction sites don't
// have to list every argument by hand.
type Deps struct {
	Store      *store.StateStore
	Repos      *reposcache.Cache
	Workspaces *workspace.Manager
	BaseBranch *basebranch.Resolver
	Prompts    *prompt.Builder
	Developer  developer.Developer
}

// New constructs an IDLE Instance with the given ID and developer
// backend.
func New(id string, developerType models.DeveloperType, deps Deps) *Instance {
	now := time.Now()
	return &Instance{
		id:            id,
		status:        models.WorkerStatusIdle,
		developerType: developerType,
		createdAt:     now,
		lastActiveAt:  now,
		store:         deps.Store,
		repos:         deps.Repos,
		workspaces:    deps.Workspaces,
		baseBranch:    deps.BaseBranch,
		prompts:       deps.Prompts,
		dev:           deps.Developer,
	}
}

// Restore rebuilds an Instance from a persisted snapshot, used by
// WorkerPool.initializePool on startup.
func Restore(snapshot *models.Worker, deps Deps) *Instance {
	return &Instance{
		id:            snapshot.ID,
		status:        snapshot.Status,
		currentTask:   snapshot.CurrentTask,
		workspaceDir:  snapshot.WorkspaceDir,
		developerType: snapshot.DeveloperType,
		createdAt:     snapshot.CreatedAt,
		lastActiveAt:  snapshot.LastActiveAt,
		retryBudget:   snapshot.RetryBudget,
		store:         deps.Store,
		repos:         deps.Repos,
		workspaces:    deps.Workspaces,
		baseBranch:    deps.BaseBranch,
		prompts:       deps.Prompts,
		dev:           deps.Developer,
	}
}

// ID returns the worker's identifier.
func (w *Instance) ID() string { return w.id }

// Snapshot returns a models.Worker reflecting the instance's current
// state, for persistence and status reporting.
func (w *Instance) Snapshot() *models.Worker {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Instance) snapshotLocked() *models.Worker {
	snap := &models.Worker{
		ID:            w.id,
		Status:        w.status,
		CurrentTask:   w.currentTask,
		WorkspaceDir:  w.workspaceDir,
		DeveloperType: w.developerType,
		CreatedAt:     w.createdAt,
		LastActiveAt:  w.lastActiveAt,
		RetryBudget:   w.retryBudget,
	}
	return snap.Clone()
}

// Status returns the worker's current state without mutating it.
func (w *Instance) Status() models.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// CurrentTaskID returns the taskId the worker currently owns, or "" if
// idle.
func (w *Instance) CurrentTaskID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentTask == nil {
		return ""
	}
	return w.currentTask.TaskID
}

// AssignTask implements the acceptance rules of spec section 4.4:
// from IDLE any action is accepted; from WAITING only PROCESS_FEEDBACK
// on the same taskId is accepted; anything else fails with
// *core.WorkerBusy. On failure the worker's status and currentTask
// are left exactly as they were (rollback).
func (w *Instance) AssignTask(task *models.WorkerTask) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	prevStatus := w.status
	prevTask := w.currentTask

	switch w.status {
	case models.WorkerStatusIdle:
		w.currentTask = task
		w.status = models.WorkerStatusWaiting
		w.lastActiveAt = time.Now()
		w.retryBudget = 1
	case models.WorkerStatusWaiting:
		if task.Action != models.ActionProcessFeedback || prevTask == nil || prevTask.TaskID != task.TaskID {
			return &core.WorkerBusy{WorkerID: w.id, Status: string(w.status)}
		}
		w.currentTask = task
		w.lastActiveAt = time.Now()
	default:
		return &core.WorkerBusy{WorkerID: w.id, Status: string(w.status)}
	}

	if err := w.persistLocked(); err != nil {
		// Rollback on persistence failure so the in-memory state never
		// diverges from what was (or wasn't) durably recorded.
		w.status = prevStatus
		w.currentTask = prevTask
		return err
	}

	return nil
}

func (w *Instance) persistLocked() error {
	if w.store == nil {
		return nil
	}
	return w.store.UpsertWorker(w.snapshotLocked())
}

// StartExecution runs the WORKING phases (prepare workspace, generate
// prompt, invoke developer, parse result) for the worker's current
// task and reports a Result. It transitions WAITING -> WORKING on
// entry, then WORKING -> IDLE on success or WORKING -> STOPPED on
// failure.
func (w *Instance) StartExecution(ctx context.Context, boardItem *models.ProjectBoardItem) Result {
	w.mu.Lock()
	if w.status != models.WorkerStatusWaiting || w.currentTask == nil {
		taskID := ""
		if w.currentTask != nil {
			taskID = w.currentTask.TaskID
		}
		w.mu.Unlock()
		return Result{TaskID: taskID, Success: false, Err: fmt.Errorf("worker %s not in WAITING state", w.id)}
	}
	task := w.currentTask
	w.status = models.WorkerStatusWorking
	w.lastActiveAt = time.Now()
	_ = w.persistLocked()
	w.mu.Unlock()

	result := w.execute(ctx, task, boardItem)

	w.mu.Lock()
	defer w.mu.Unlock()

	if result.Success {
		w.status = models.WorkerStatusIdle
		w.currentTask = nil
	} else {
		w.status = models.WorkerStatusStopped
		log.Error("worker %s stopped after task %s failure: %v", w.id, task.TaskID, result.Err)
	}
	w.lastActiveAt = time.Now()
	_ = w.persistLocked()

	return result
}

func (w *Instance) execute(ctx context.Context, task *models.WorkerTask, boardItem *models.ProjectBoardItem) Result {
	// Phase 1: prepare workspace.
	if _, err := w.repos.EnsureRepository(ctx, task.RepositoryID, false); err != nil {
		return Result{TaskID: task.TaskID, Err: fmt.Errorf("failed to prepare repository: %w", err)}
	}

	info, err := w.workspaces.CreateWorkspace(task.TaskID, task.RepositoryID)
	if err != nil {
		return Result{TaskID: task.TaskID, Err: fmt.Errorf("failed to create workspace: %w", err)}
	}

	if !w.workspaces.IsWorktreeValid(info) {
		baseBranch := ""
		if w.baseBranch != nil {
			baseBranch = w.baseBranch.ExtractBaseBranch(ctx, boardItem)
		}
		if err := w.workspaces.SetupWorktree(ctx, info, baseBranch); err != nil {
			return Result{TaskID: task.TaskID, Err: fmt.Errorf("failed to set up worktree: %w", err)}
		}
	}

	w.mu.Lock()
	w.workspaceDir = info.WorkspaceDir
	w.mu.Unlock()

	// Phase 2: generate prompt.
	renderedPrompt, err := w.prompts.Build(info.WorkspaceDir, task)
	if err != nil {
		return Result{TaskID: task.TaskID, Err: fmt.Errorf("failed to build prompt: %w", err)}
	}

	// Phase 3: invoke developer.
	out, err := w.dev.Run(ctx, developer.Request{
		WorkspaceDir: info.WorkspaceDir,
		Prompt:       renderedPrompt,
		SessionID:    task.TaskID,
	})
	if err != nil {
		return Result{TaskID: task.TaskID, Err: err}
	}

	// Phase 4 (parse result) already happened inside the developer
	// adapter; phase 5 (emit result) is the caller's responsibility.
	return Result{TaskID: task.TaskID, Success: true, PullRequestURL: out.PullRequestURL}
}

// Release forces the worker back to IDLE and clears its current task,
// used by WorkerPool.releaseWorker.
func (w *Instance) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = models.WorkerStatusIdle
	w.currentTask = nil
	w.lastActiveAt = time.Now()
	return w.persistLocked()
}

// RecoverIfStopped moves a STOPPED worker back to WAITING if it has
// been stopped for longer than recoveryTimeout, keeping its current
// task so the next StartExecution call resumes it. Returns true if a
// transition occurred.
func (w *Instance) RecoverIfStopped(recoveryTimeout time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != models.WorkerStatusStopped {
		return false
	}
	if time.Since(w.lastActiveAt) <= recoveryTimeout {
		return false
	}

	w.status = models.WorkerStatusWaiting
	w.lastActiveAt = time.Now()
	_ = w.persistLocked()
	return true
}

// IdleDuration returns how long the worker has been IDLE, or zero if
// it is not currently idle.
func (w *Instance) IdleDuration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != models.WorkerStatusIdle {
		return 0
	}
	return time.Since(w.lastActiveAt)
}
