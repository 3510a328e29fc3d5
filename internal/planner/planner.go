// Package planner implements the monitoring loop described in spec
// section 4.7: it reconciles the external project board and its pull
// requests against the WorkerPool one lane at a time, every tick.
package planner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teamforge/orchestrator/internal/boardsvc"
	"github.com/teamforge/orchestrator/internal/commentfilter"
	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/prsvc"
	"github.com/teamforge/orchestrator/internal/router"
	"github.com/teamforge/orchestrator/internal/store"
	"github.com/teamforge/orchestrator/internal/worker"
	"github.com/teamforge/orchestrator/internal/workerpool"
)

// defaultMaxTaskFailures bounds how many consecutive routing/execution
// failures a task tolerates before the Planner reverts it to TODO, per
// spec section 4.7's "after repeated failures, revert to TODO" note.
const defaultMaxTaskFailures = 3

const defaultInterval = 15 * time.Second

// Config configures a Planner's tick cadence and comment-filtering
// policy.
type Config struct {
	Interval        time.Duration
	CommentFilter   commentfilter.Options
	MaxTaskFailures int
}

// LaneCounts is a snapshot of how many tracked tasks sit in each board
// lane.
type LaneCounts struct {
	Todo       int
	InProgress int
	InReview   int
	Done       int
}

// Status is the read model the `status` CLI command renders, per
// SPEC_FULL.md's expansion of the data model.
type Status struct {
	Lanes        LaneCounts
	PoolSize     int
	Idle         int
	Waiting      int
	Working      int
	Stopped      int
	Errors       []models.PlannerErrorEntry
	LastSyncTime time.Time
}

// Planner is the single-threaded reconciliation loop of spec section
// 4.7. It never mutates board/PR state directly except through the
// board and prs collaborators, and never holds a Worker directly
// except through router/pool.
type Planner struct {
	board boardsvc.Service
	prs   prsvc.Service

	router *router.Router
	pool   *workerpool.Pool
	store  *store.StateStore

	interval        time.Duration
	commentOpts     commentfilter.Options
	maxTaskFailures int

	// tickMu guarantees a single loop iteration is never re-entered,
	// per spec section 4.7's ordering guarantee; ForceSync and the
	// ticking goroutine both go through Tick, which takes this lock.
	tickMu sync.Mutex

	runMu   sync.Mutex
	running bool
}

// New constructs a Planner. cfg's zero value is usable: Interval
// defaults to 15s, MaxTaskFailures to 3, and CommentFilter to
// commentfilter.DefaultOptions() when left at its own zero value.
func New(board boardsvc.Service, prs prsvc.Service, rtr *router.Router, pool *workerpool.Pool, st *store.StateStore, cfg Config) *Planner {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	maxFailures := cfg.MaxTaskFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxTaskFailures
	}
	opts := cfg.CommentFilter
	if !opts.ExcludeAuthor && opts.AllowedBots == nil {
		opts = commentfilter.DefaultOptions()
	}

	return &Planner{
		board:           board,
		prs:             prs,
		router:          rtr,
		pool:            pool,
		store:           st,
		interval:        interval,
		commentOpts:     opts,
		maxTaskFailures: maxFailures,
	}
}

// Run blocks, ticking every interval until ctx is cancelled. Each tick
// is skipped if Stop has been called (new assignments refused during
// an orderly shutdown window) but the loop itself keeps running until
// ctx is done.
func (p *Planner) Run(ctx context.Context) {
	p.setRunning(true)
	defer p.setRunning(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info("planner loop starting (interval=%s)", p.interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("planner loop stopped")
			return
		case <-ticker.C:
			if !p.isRunning() {
				continue
			}
			p.Tick(ctx)
		}
	}
}

// Stop refuses further scheduled ticks without cancelling ctx itself,
// so a caller can drain Run's goroutine after finishing any in-flight
// ForceSync.
func (p *Planner) Stop() { p.setRunning(false) }

func (p *Planner) setRunning(v bool) {
	p.runMu.Lock()
	p.running = v
	p.runMu.Unlock()
}

func (p *Planner) isRunning() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.running
}

// ForceSync drains exactly one loop iteration synchronously, per spec
// section 4.7.
func (p *Planner) ForceSync(ctx context.Context) {
	p.Tick(ctx)
}

// Tick runs the three lane handlers in order, never re-entrant.
func (p *Planner) Tick(ctx context.Context) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	p.handleNewTasks(ctx)
	p.handleInProgressTasks(ctx)
	p.handleReviewTasks(ctx)

	_ = p.store.UpdatePlannerState(func(s *models.PlannerState) {
		s.LastSyncTime = time.Now()
	})
}

// handleNewTasks implements spec section 4.7 step 1.
func (p *Planner) handleNewTasks(ctx context.Context) {
	items, err := p.board.GetItems(ctx, models.TaskStatusTodo)
	if err != nil {
		p.recordError("", models.TaskStatusTodo, fmt.Errorf("listing TODO items: %w", err))
		return
	}

	for _, item := range items {
		if p.store.GetTask(item.ID) != nil {
			continue
		}

		now := time.Now()
		task := &models.Task{
			ID:        item.ID,
			Title:     item.Title,
			Status:    models.TaskStatusTodo,
			Priority:  item.Priority,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := p.store.UpsertTask(task); err != nil {
			p.recordError(item.ID, models.TaskStatusTodo, err)
			continue
		}
		_ = p.store.UpdatePlannerState(func(s *models.PlannerState) { s.MarkProcessed(item.ID) })

		resp := p.router.Route(ctx, router.Request{
			TaskID:       item.ID,
			Action:       models.ActionStartNewTask,
			RepositoryID: item.RepositoryID,
			BoardItem:    item,
		})
		p.handleAssignment(ctx, item, resp, models.TaskStatusTodo)
	}
}

// handleInProgressTasks implements spec section 4.7 step 2.
func (p *Planner) handleInProgressTasks(ctx context.Context) {
	items, err := p.board.GetItems(ctx, models.TaskStatusInProgress)
	if err != nil {
		p.recordError("", models.TaskStatusInProgress, fmt.Errorf("listing IN_PROGRESS items: %w", err))
		return
	}

	for _, item := range items {
		resp := p.router.Route(ctx, router.Request{
			TaskID:       item.ID,
			Action:       models.ActionResumeTask,
			RepositoryID: item.RepositoryID,
			BoardItem:    item,
		})

		switch resp.Kind {
		case router.ResponseReporting:
			// A worker is still WAITING/WORKING on it; nothing to do
			// this tick.
		case router.ResponseAccepted:
			p.handleAssignment(ctx, item, resp, models.TaskStatusInProgress)
		case router.ResponseError:
			p.recordError(item.ID, models.TaskStatusInProgress, resp.Err)
			p.bumpFailureAndMaybeRevert(ctx, item)
		case router.ResponseRejected:
			// Leave the lane unchanged for retry next tick.
		}
	}
}

// handleReviewTasks implements spec section 4.7 step 3.
func (p *Planner) handleReviewTasks(ctx context.Context) {
	items, err := p.board.GetItems(ctx, models.TaskStatusInReview)
	if err != nil {
		p.recordError("", models.TaskStatusInReview, fmt.Errorf("listing IN_REVIEW items: %w", err))
		return
	}

	for _, item := range items {
		task := p.store.GetTask(item.ID)
		if task == nil || task.PullRequestURL == "" {
			continue
		}

		number, ok := prNumberFromURL(task.PullRequestURL)
		if !ok {
			log.Warn("could not parse a PR number out of %s for task %s", task.PullRequestURL, item.ID)
			continue
		}

		pr, err := p.prs.GetPullRequest(ctx, item.RepositoryID, number)
		if err != nil {
			p.recordError(item.ID, models.TaskStatusInReview, err)
			continue
		}
		if !pr.IsOpen {
			continue
		}

		if pr.IsApproved {
			resp := p.router.Route(ctx, router.Request{
				TaskID:         item.ID,
				Action:         models.ActionRequestMerge,
				RepositoryID:   item.RepositoryID,
				BoardItem:      item,
				PullRequestURL: task.PullRequestURL,
			})
			switch resp.Kind {
			case router.ResponseAccepted:
				p.runWorker(ctx, item, models.ActionRequestMerge)
			case router.ResponseError:
				p.recordError(item.ID, models.TaskStatusInReview, resp.Err)
			case router.ResponseRejected, router.ResponseReporting:
			}
			continue
		}

		p.reconcileFeedback(ctx, item, task, pr, number)
	}
}

func (p *Planner) reconcileFeedback(ctx context.Context, item *models.ProjectBoardItem, task *models.Task, pr *models.PullRequest, number int) {
	since := p.store.PlannerState().CommentCursor(item.ID).LastCommentSyncTime

	raw, err := p.prs.GetNewComments(ctx, item.RepositoryID, number, since, nil)
	if err != nil {
		p.recordError(item.ID, models.TaskStatusInReview, err)
		return
	}

	filtered := commentfilter.Filter(raw, pr.Author, p.commentOpts)
	fresh := make([]models.Comment, 0, len(filtered))
	var latest time.Time
	for _, c := range filtered {
		if task.HasProcessedComment(c.ID) {
			continue
		}
		fresh = append(fresh, c)
		if c.CreatedAt.After(latest) {
			latest = c.CreatedAt
		}
	}
	if len(fresh) == 0 {
		return
	}

	resp := p.router.Route(ctx, router.Request{
		TaskID:         item.ID,
		Action:         models.ActionProcessFeedback,
		RepositoryID:   item.RepositoryID,
		BoardItem:      item,
		PullRequestURL: task.PullRequestURL,
		Comments:       fresh,
	})

	switch resp.Kind {
	case router.ResponseAccepted:
		for _, c := range fresh {
			task.MarkCommentProcessed(c.ID)
		}
		if err := p.store.UpsertTask(task); err != nil {
			p.recordError(item.ID, models.TaskStatusInReview, err)
			return
		}
		_ = p.store.UpdatePlannerState(func(s *models.PlannerState) {
			s.CommentCursor(item.ID).LastCommentSyncTime = latest
		})
		p.runWorker(ctx, item, models.ActionProcessFeedback)
	case router.ResponseError:
		p.recordError(item.ID, models.TaskStatusInReview, resp.Err)
	case router.ResponseRejected, router.ResponseReporting:
		// Cursor stays put; retried whole next tick.
	}
}

// handleAssignment folds the router outcome shared by START_NEW_TASK
// and CHECK_STATUS (RESUME_TASK) into the board/store, then kicks off
// execution on the assigned worker.
func (p *Planner) handleAssignment(ctx context.Context, item *models.ProjectBoardItem, resp router.Response, lane models.TaskStatus) {
	switch resp.Kind {
	case router.ResponseAccepted:
		if task := p.store.GetTask(item.ID); task != nil {
			task.Status = models.TaskStatusInProgress
			task.AssignedWorkerID = resp.Worker.ID
			task.UpdatedAt = time.Now()
			if err := p.store.UpsertTask(task); err != nil {
				p.recordError(item.ID, lane, err)
			}
		}
		if _, err := p.board.UpdateItemStatus(ctx, item.ID, models.TaskStatusInProgress); err != nil {
			log.Warn("failed to advance board item %s to IN_PROGRESS: %v", item.ID, err)
		}
		_ = p.store.UpdatePlannerState(func(s *models.PlannerState) {
			s.MarkActive(item.ID)
		})
		p.runWorker(ctx, item, models.ActionStartNewTask)
	case router.ResponseError:
		p.recordError(item.ID, lane, resp.Err)
	case router.ResponseRejected, router.ResponseReporting:
		// Leave the lane unchanged for retry next tick.
	}
}

// runWorker finds the worker the router just assigned item's task to
// and submits it to the pool's bounded executor, wiring the result
// back through completeTask.
func (p *Planner) runWorker(ctx context.Context, item *models.ProjectBoardItem, action models.WorkerAction) {
	inst := p.pool.GetWorkerByTaskID(item.ID)
	if inst == nil {
		log.Warn("no worker holds task %s immediately after assignment; skipping this tick", item.ID)
		return
	}
	p.pool.Execute(ctx, inst, item, func(result worker.Result) {
		p.completeTask(item, action, result)
	})
}

// completeTask runs on the executor goroutine once a Worker's WORKING
// phase returns, per spec section 4.4 step 5 ("emit result"). It is
// the sole place that advances a task out of IN_PROGRESS/IN_REVIEW.
func (p *Planner) completeTask(item *models.ProjectBoardItem, action models.WorkerAction, result worker.Result) {
	task := p.store.GetTask(result.TaskID)
	if task == nil {
		return
	}

	if !result.Success {
		p.recordError(result.TaskID, task.Status, result.Err)
		p.bumpFailureAndMaybeRevert(context.Background(), item)
		return
	}
	p.resetFailures(result.TaskID)

	ctx := context.Background()
	switch action {
	case models.ActionRequestMerge:
		task.Status = models.TaskStatusDone
		task.UpdatedAt = time.Now()
		if err := p.store.UpsertTask(task); err != nil {
			log.Warn("failed to persist completed task %s: %v", task.ID, err)
		}
		if _, err := p.board.UpdateItemStatus(ctx, item.ID, models.TaskStatusDone); err != nil {
			log.Warn("failed to advance board item %s to DONE: %v", item.ID, err)
		}
		_ = p.store.UpdatePlannerState(func(s *models.PlannerState) { s.ClearActive(item.ID) })
	default:
		task.Status = models.TaskStatusInReview
		if result.PullRequestURL != "" {
			task.PullRequestURL = result.PullRequestURL
		}
		task.UpdatedAt = time.Now()
		if err := p.store.UpsertTask(task); err != nil {
			log.Warn("failed to persist task %s after execution: %v", task.ID, err)
		}
		if _, err := p.board.UpdateItemStatus(ctx, item.ID, models.TaskStatusInReview); err != nil {
			log.Warn("failed to advance board item %s to IN_REVIEW: %v", item.ID, err)
		}
		if result.PullRequestURL != "" {
			// Missing PR-URL board field is one of the two tolerated
			// silent-swallow cases in spec section 7: warn, don't fail
			// the tick over it.
			if _, err := p.board.AddPullRequestToItem(ctx, item.ID, result.PullRequestURL); err != nil {
				log.Warn("failed to attach PR url to board item %s: %v", item.ID, err)
			}
		}
	}
}

// bumpFailureAndMaybeRevert increments the per-task failure counter
// and, once it reaches maxTaskFailures, reverts the task and board
// item back to TODO, per spec section 4.7 step 2.
func (p *Planner) bumpFailureAndMaybeRevert(ctx context.Context, item *models.ProjectBoardItem) {
	reverted := false
	_ = p.store.UpdatePlannerState(func(s *models.PlannerState) {
		cursor := s.CommentCursor(item.ID)
		cursor.Failures++
		if cursor.Failures >= p.maxTaskFailures {
			cursor.Failures = 0
			reverted = true
		}
	})
	if !reverted {
		return
	}

	if task := p.store.GetTask(item.ID); task != nil {
		task.Status = models.TaskStatusTodo
		task.AssignedWorkerID = ""
		task.UpdatedAt = time.Now()
		_ = p.store.UpsertTask(task)
	}
	if _, err := p.board.UpdateItemStatus(ctx, item.ID, models.TaskStatusTodo); err != nil {
		log.Warn("failed to revert board item %s to TODO: %v", item.ID, err)
	}
	_ = p.store.UpdatePlannerState(func(s *models.PlannerState) { s.ClearActive(item.ID) })
	log.Warn("task %s reverted to TODO after %d consecutive failures", item.ID, p.maxTaskFailures)
}

func (p *Planner) resetFailures(taskID string) {
	_ = p.store.UpdatePlannerState(func(s *models.PlannerState) {
		s.CommentCursor(taskID).Failures = 0
	})
}

func (p *Planner) recordError(taskID string, lane models.TaskStatus, err error) {
	if err == nil {
		return
	}
	log.Warn("planner error (task=%s lane=%s): %v", taskID, lane, err)
	_ = p.store.UpdatePlannerState(func(s *models.PlannerState) {
		pushError(s, models.PlannerErrorEntry{
			ID:        core.NewSortableID("err"),
			TaskID:    taskID,
			Lane:      lane,
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
	})
}

// Status returns the read model for the `status` CLI command.
func (p *Planner) Status() Status {
	var lanes LaneCounts
	for _, t := range p.store.ListTasks() {
		switch t.Status {
		case models.TaskStatusTodo:
			lanes.Todo++
		case models.TaskStatusInProgress:
			lanes.InProgress++
		case models.TaskStatusInReview:
			lanes.InReview++
		case models.TaskStatusDone:
			lanes.Done++
		}
	}

	snaps := p.pool.Snapshot()
	status := Status{Lanes: lanes, PoolSize: len(snaps)}
	for _, w := range snaps {
		switch w.Status {
		case models.WorkerStatusIdle:
			status.Idle++
		case models.WorkerStatusWaiting:
			status.Waiting++
		case models.WorkerStatusWorking:
			status.Working++
		case models.WorkerStatusStopped:
			status.Stopped++
		}
	}

	state := p.store.PlannerState()
	status.Errors = append([]models.PlannerErrorEntry(nil), state.Errors...)
	status.LastSyncTime = state.LastSyncTime
	return status
}

// prNumberFromURL extracts the trailing integer path segment from a
// pull request URL such as "https://github.com/acme/widgets/pull/42".
func prNumberFromURL(url string) (int, bool) {
	idx := strings.LastIndex(url, "/")
	if idx == -1 || idx+1 >= len(url) {
		return 0, false
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
