// Package store provides crash-safe JSON persistence for the
// orchestrator's durable records: tasks, workers, workspaces and the
// planner's reconciliation cursor. Every mutation is written through
// write-tmp-then-rename so a crash mid-write never corrupts the file
// on disk, mirroring the persistence style of the teacher's
// AppState.persistStateLocked.
package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/utils"
)

const (
	tasksFile        = "tasks.json"
	workersFile      = "workers.json"
	workspaceFile    = "workspaces.json"
	plannerFile      = "planner-state.json"
	repositoriesFile = "repositories.json"
)

type tasksSnapshot struct {
	Tasks map[string]*models.Task `json:"tasks"`
}

type workersSnapshot struct {
	Workers map[string]*models.Worker `json:"workers"`
}

type workspacesSnapshot struct {
	Workspaces map[string]*models.WorkspaceInfo `json:"workspaces"`
}

type repositoriesSnapshot struct {
	Repositories map[string]*models.RepositoryState `json:"repositories"`
}

// StateStore owns all durable records. Each record family is guarded
// by its own mutex so unrelated writes (e.g. a task update and a
// worker heartbeat) never block each other.
type StateStore struct {
	dataDir string

	tasksMu sync.RWMutex
	tasks   map[string]*models.Task

	workersMu sync.RWMutex
	workers   map[string]*models.Worker

	workspacesMu sync.RWMutex
	workspaces   map[string]*models.WorkspaceInfo

	repositoriesMu sync.RWMutex
	repositories   map[string]*models.RepositoryState

	plannerMu sync.RWMutex
	planner   *models.PlannerState
}

// New creates a StateStore rooted at dataDir and loads any
// already-persisted records from disk. Missing files are treated as
// empty collections, not errors.
func New(dataDir string) (*StateStore, error) {
	s := &StateStore{
		dataDir:    dataDir,
		tasks:        make(map[string]*models.Task),
		workers:      make(map[string]*models.Worker),
		workspaces:   make(map[string]*models.WorkspaceInfo),
		repositories: make(map[string]*models.RepositoryState),
		planner:      &models.PlannerState{},
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *StateStore) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

func (s *StateStore) load() error {
	var tasksSnap tasksSnapshot
	found, err := utils.ReadJSONIfExists(s.path(tasksFile), &tasksSnap)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}
	if found && tasksSnap.Tasks != nil {
		s.tasks = tasksSnap.Tasks
	}

	var workersSnap workersSnapshot
	found, err = utils.ReadJSONIfExists(s.path(workersFile), &workersSnap)
	if err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}
	if found && workersSnap.Workers != nil {
		s.workers = workersSnap.Workers
	}

	var wsSnap workspacesSnapshot
	found, err = utils.ReadJSONIfExists(s.path(workspaceFile), &wsSnap)
	if err != nil {
		return fmt.Errorf("failed to load workspaces: %w", err)
	}
	if found && wsSnap.Workspaces != nil {
		s.workspaces = wsSnap.Workspaces
	}

	var repoSnap repositoriesSnapshot
	found, err = utils.ReadJSONIfExists(s.path(repositoriesFile), &repoSnap)
	if err != nil {
		return fmt.Errorf("failed to load repositories: %w", err)
	}
	if found && repoSnap.Repositories != nil {
		s.repositories = repoSnap.Repositories
	}

	var plannerSnap models.PlannerState
	found, err = utils.ReadJSONIfExists(s.path(plannerFile), &plannerSnap)
	if err != nil {
		return fmt.Errorf("failed to load planner state: %w", err)
	}
	if found {
		s.planner = &plannerSnap
	}

	return nil
}

// ---- Tasks ----

// GetTask returns a deep copy of the task with id, or nil if absent.
func (s *StateStore) GetTask(id string) *models.Task {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	return s.tasks[id].Clone()
}

// ListTasks returns deep copies of every task whose status matches
// any of filter. An empty filter returns every task.
func (s *StateStore) ListTasks(filter ...models.TaskStatus) []*models.Task {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()

	want := make(map[models.TaskStatus]bool, len(filter))
	for _, f := range filter {
		want[f] = true
	}

	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if len(want) == 0 || want[t.Status] {
			out = append(out, t.Clone())
		}
	}
	return out
}

// UpsertTask persists task, overwriting any existing record with the
// same ID.
func (s *StateStore) UpsertTask(task *models.Task) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	task.UpdatedAt = time.Now()
	s.tasks[task.ID] = task.Clone()
	return s.persistTasksLocked()
}

// DeleteTask removes a task record. Not finding it is not an error.
func (s *StateStore) DeleteTask(id string) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	delete(s.tasks, id)
	return s.persistTasksLocked()
}

func (s *StateStore) persistTasksLocked() error {
	if err := utils.WriteJSONAtomic(s.path(tasksFile), tasksSnapshot{Tasks: s.tasks}); err != nil {
		log.ErrorWith("failed to persist tasks", "error", err.Error())
		return err
	}
	return nil
}

// ---- Workers ----

// GetWorker returns a deep copy of the worker with id, or nil if absent.
func (s *StateStore) GetWorker(id string) *models.Worker {
	s.workersMu.RLock()
	defer s.workersMu.RUnlock()
	return s.workers[id].Clone()
}

// ListWorkers returns deep copies of every persisted worker.
func (s *StateStore) ListWorkers() []*models.Worker {
	s.workersMu.RLock()
	defer s.workersMu.RUnlock()

	out := make([]*models.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Clone())
	}
	return out
}

// UpsertWorker persists worker, overwriting any existing record with
// the same ID.
func (s *StateStore) UpsertWorker(worker *models.Worker) error {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	worker.LastActiveAt = time.Now()
	s.workers[worker.ID] = worker.Clone()
	return s.persistWorkersLocked()
}

// DeleteWorker removes a worker record.
func (s *StateStore) DeleteWorker(id string) error {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	delete(s.workers, id)
	return s.persistWorkersLocked()
}

func (s *StateStore) persistWorkersLocked() error {
	if err := utils.WriteJSONAtomic(s.path(workersFile), workersSnapshot{Workers: s.workers}); err != nil {
		log.ErrorWith("failed to persist workers", "error", err.Error())
		return err
	}
	return nil
}

// ---- Workspaces ----

// GetWorkspace returns a deep copy of the workspace for taskId, or
// nil if absent.
func (s *StateStore) GetWorkspace(taskID string) *models.WorkspaceInfo {
	s.workspacesMu.RLock()
	defer s.workspacesMu.RUnlock()
	return s.workspaces[taskID].Clone()
}

// UpsertWorkspace persists a WorkspaceInfo keyed by TaskID.
func (s *StateStore) UpsertWorkspace(info *models.WorkspaceInfo) error {
	s.workspacesMu.Lock()
	defer s.workspacesMu.Unlock()

	s.workspaces[info.TaskID] = info.Clone()
	return s.persistWorkspacesLocked()
}

// DeleteWorkspace removes a workspace record.
func (s *StateStore) DeleteWorkspace(taskID string) error {
	s.workspacesMu.Lock()
	defer s.workspacesMu.Unlock()

	delete(s.workspaces, taskID)
	return s.persistWorkspacesLocked()
}

func (s *StateStore) persistWorkspacesLocked() error {
	if err := utils.WriteJSONAtomic(s.path(workspaceFile), workspacesSnapshot{Workspaces: s.workspaces}); err != nil {
		log.ErrorWith("failed to persist workspaces", "error", err.Error())
		return err
	}
	return nil
}

// ---- Repositories ----

// GetRepositoryState returns a deep copy of the cache record for
// repoId, or nil if it has never been cloned.
func (s *StateStore) GetRepositoryState(repoID string) *models.RepositoryState {
	s.repositoriesMu.RLock()
	defer s.repositoriesMu.RUnlock()
	return s.repositories[repoID].Clone()
}

// UpsertRepositoryState persists rs, overwriting any existing record
// with the same ID.
func (s *StateStore) UpsertRepositoryState(rs *models.RepositoryState) error {
	s.repositoriesMu.Lock()
	defer s.repositoriesMu.Unlock()

	s.repositories[rs.ID] = rs.Clone()
	if err := utils.WriteJSONAtomic(s.path(repositoriesFile), repositoriesSnapshot{Repositories: s.repositories}); err != nil {
		log.ErrorWith("failed to persist repositories", "error", err.Error())
		return err
	}
	return nil
}

// ---- Planner state ----

// PlannerState returns a deep copy of the current planner cursor.
func (s *StateStore) PlannerState() *models.PlannerState {
	s.plannerMu.RLock()
	defer s.plannerMu.RUnlock()
	return s.planner.Clone()
}

// UpdatePlannerState applies mutate to the live planner state under
// lock and persists the result. mutate must not retain the pointer it
// receives beyond the call.
func (s *StateStore) UpdatePlannerState(mutate func(*models.PlannerState)) error {
	s.plannerMu.Lock()
	defer s.plannerMu.Unlock()

	mutate(s.planner)
	if err := utils.WriteJSONAtomic(s.path(plannerFile), s.planner); err != nil {
		log.ErrorWith("failed to persist planner state", "error", err.Error())
		return err
	}
	return nil
}
