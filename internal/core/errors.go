package core

import (
	"errors"
	"fmt"
)

// Error kinds per the taxonomy in spec.md §7. These are not Go error
// *types* to switch on directly (each carries its own struct below);
// Kind exists so callers that only need the coarse classification (e.g.
// the Planner deciding whether to retry) don't have to type-switch.
type Kind string

const (
	KindTransient       Kind = "transient"
	KindRecoverable     Kind = "recoverable"
	KindTerminalPerTask Kind = "terminal_per_task"
	KindFatal           Kind = "fatal"
)

// LockAcquireTimeout is returned by GitOpLock.WithLock when a lock could
// not be acquired after exhausting its retry budget. Transient.
type LockAcquireTimeout struct {
	RepoID string
	Op     string
	Tries  int
}

func (e *LockAcquireTimeout) Error() string {
	return fmt.Sprintf("lock acquire timeout: repo=%s op=%s after %d attempts", e.RepoID, e.Op, e.Tries)
}

func (e *LockAcquireTimeout) Kind() Kind { return KindTransient }

// IsLockAcquireTimeout reports whether err is a *LockAcquireTimeout.
func IsLockAcquireTimeout(err error) (*LockAcquireTimeout, bool) {
	var target *LockAcquireTimeout
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// WorkerBusy is returned when assignTask targets a Worker whose state
// does not accept the requested transition. Recoverable.
type WorkerBusy struct {
	WorkerID string
	Status   string
}

func (e *WorkerBusy) Error() string {
	return fmt.Sprintf("worker %s busy (status=%s)", e.WorkerID, e.Status)
}

func (e *WorkerBusy) Kind() Kind { return KindRecoverable }

// IsWorkerBusy reports whether err is a *WorkerBusy.
func IsWorkerBusy(err error) (*WorkerBusy, bool) {
	var target *WorkerBusy
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// NoAvailableWorker is returned when the pool is at maxWorkers and all
// are busy. Recoverable; the Planner retries next tick.
type NoAvailableWorker struct {
	MaxWorkers int
}

func (e *NoAvailableWorker) Error() string {
	return fmt.Sprintf("no available worker (pool at max: %d)", e.MaxWorkers)
}

func (e *NoAvailableWorker) Kind() Kind { return KindRecoverable }

// IsNoAvailableWorker reports whether err is a *NoAvailableWorker.
func IsNoAvailableWorker(err error) (*NoAvailableWorker, bool) {
	var target *NoAvailableWorker
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// NoWorkspaceFound is returned by TaskRouter's CHECK_STATUS path when
// neither a worker nor a valid workspace exists for a taskId.
type NoWorkspaceFound struct {
	TaskID string
}

func (e *NoWorkspaceFound) Error() string {
	return fmt.Sprintf("no workspace found for task %s", e.TaskID)
}

func (e *NoWorkspaceFound) Kind() Kind { return KindRecoverable }

// IsNoWorkspaceFound reports whether err is a *NoWorkspaceFound.
func IsNoWorkspaceFound(err error) (*NoWorkspaceFound, bool) {
	var target *NoWorkspaceFound
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// DeveloperTimeout is returned when a developer subprocess exceeds its
// hard timeout and its process group was signalled. Recoverable once;
// repeated timeouts for the same task escalate to Terminal-per-task by
// the caller.
type DeveloperTimeout struct {
	TaskID  string
	Timeout string
}

func (e *DeveloperTimeout) Error() string {
	return fmt.Sprintf("developer timed out after %s for task %s", e.Timeout, e.TaskID)
}

func (e *DeveloperTimeout) Kind() Kind { return KindRecoverable }

// IsDeveloperTimeout reports whether err is a *DeveloperTimeout.
func IsDeveloperTimeout(err error) (*DeveloperTimeout, bool) {
	var target *DeveloperTimeout
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// TaskFailed wraps a repeated, unrecoverable failure for one task (a
// developer crash repeated, workspace creation failure, invalid board
// status). Terminal-per-task: after N attempts the Planner reverts the
// board lane to TODO.
type TaskFailed struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e *TaskFailed) Error() string {
	return fmt.Sprintf("task %s failed after %d attempts: %v", e.TaskID, e.Attempts, e.Err)
}

func (e *TaskFailed) Unwrap() error { return e.Err }

func (e *TaskFailed) Kind() Kind { return KindTerminalPerTask }

// IsTaskFailed reports whether err is a *TaskFailed.
func IsTaskFailed(err error) (*TaskFailed, bool) {
	var target *TaskFailed
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// FatalConfigError aborts process startup (misconfiguration, corrupted
// state file, missing credential).
type FatalConfigError struct {
	Reason string
	Err    error
}

func (e *FatalConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal configuration error: %s", e.Reason)
}

func (e *FatalConfigError) Unwrap() error { return e.Err }

func (e *FatalConfigError) Kind() Kind { return KindFatal }

// IsFatalConfigError reports whether err is a *FatalConfigError.
func IsFatalConfigError(err error) (*FatalConfigError, bool) {
	var target *FatalConfigError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// ErrPoolStopping indicates an operation was refused because the
// containing pool/lock/loop is shutting down.
var ErrPoolStopping = errors.New("pool is stopping")
