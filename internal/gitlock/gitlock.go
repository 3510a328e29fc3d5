// Package gitlock serializes git operations per repository. It
// generalizes the teacher's flock-based utils.RepoLock (a single,
// process-exclusive lock file per repo) into an in-process, keyed lock
// with TTL expiry and a retrying acquire path, since the orchestrator
// itself is the only process that touches its bare clones and
// worktrees — cross-process exclusion is handled separately by
// utils.DirLock over the whole data directory.
package gitlock

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/models"
)

const (
	defaultLockTimeout = 5 * time.Minute
	sweepInterval       = 60 * time.Second
	acquireMaxAttempts  = 10
	acquireBackoff      = time.Second
)

// entry is one held lock, keyed by repoId alone per the coarse-grained
// Open Question resolution: all git operations against one repository
// serialize against each other, even across different operation
// kinds. Op is retained purely for reporting.
type entry struct {
	op         string
	acquiredAt time.Time
}

// GitOpLock serializes git operations per repository ID. Zero value is
// not usable; construct with New.
type GitOpLock struct {
	lockTimeout time.Duration

	mu      sync.Mutex
	held    map[string]*entry
	waiters map[string]chan struct{}

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New creates a GitOpLock with the given TTL for held locks. A
// non-positive timeout falls back to the spec default of 5 minutes.
func New(lockTimeout time.Duration) *GitOpLock {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	l := &GitOpLock{
		lockTimeout: lockTimeout,
		held:        make(map[string]*entry),
		waiters:     make(map[string]chan struct{}),
		stopSweep:   make(chan struct{}),
	}
	return l
}

// StartSweeper launches the background goroutine that reclaims locks
// older than the configured TTL, roughly every 60 seconds. It runs
// until ctx is cancelled or Close is called.
func (l *GitOpLock) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopSweep:
				return
			case <-ticker.C:
				l.sweepExpired()
			}
		}
	}()
}

// Close stops the sweeper goroutine, if running.
func (l *GitOpLock) Close() {
	l.sweepOnce.Do(func() { close(l.stopSweep) })
}

func (l *GitOpLock) sweepExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for repoID, e := range l.held {
		if now.Sub(e.acquiredAt) > l.lockTimeout {
			log.WarnWith("reclaiming expired git lock", "repoId", repoID, "op", e.op, "age", now.Sub(e.acquiredAt).String())
			l.releaseLocked(repoID)
		}
	}
}

// tryAcquire attempts to take the lock for repoID without blocking. It
// succeeds if no entry is held, or the held entry has expired (which
// it reclaims inline). Returns false if another caller genuinely holds
// a live lock.
func (l *GitOpLock) tryAcquire(repoID, op string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[repoID]; ok {
		if time.Since(e.acquiredAt) <= l.lockTimeout {
			return false
		}
		log.WarnWith("reclaiming expired git lock on acquire", "repoId", repoID, "previousOp", e.op)
	}

	l.held[repoID] = &entry{op: op, acquiredAt: time.Now()}
	return true
}

func (l *GitOpLock) releaseLocked(repoID string) {
	delete(l.held, repoID)
	if ch, ok := l.waiters[repoID]; ok {
		close(ch)
		delete(l.waiters, repoID)
	}
}

func (l *GitOpLock) release(repoID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(repoID)
}

// WithLock executes fn while exclusively holding repoID's lock,
// retrying the acquire up to 10 times with a 1-second backoff before
// failing with a *core.LockAcquireTimeout. The lock is released on
// every exit path of fn, including panics propagating through it.
// op is recorded on the held entry for status/reporting only; the
// spec's coarse resolution means any op serializes against any other
// op for the same repoID.
func (l *GitOpLock) WithLock(ctx context.Context, repoID, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(acquireBackoff), acquireMaxAttempts-1)

	acquireErr := backoff.Retry(func() error {
		attempts++
		if l.tryAcquire(repoID, op) {
			return nil
		}
		return &core.LockAcquireTimeout{RepoID: repoID, Op: op, Tries: attempts}
	}, backoff.WithContext(b, ctx))

	if acquireErr != nil {
		return &core.LockAcquireTimeout{RepoID: repoID, Op: op, Tries: attempts}
	}

	defer l.release(repoID)
	return fn(ctx)
}

// Snapshot returns a point-in-time view of currently held locks, for
// the status CLI command and tests.
func (l *GitOpLock) Snapshot() []models.GitOperationLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.GitOperationLock, 0, len(l.held))
	for repoID, e := range l.held {
		out = append(out, models.GitOperationLock{
			RepositoryID: repoID,
			Operation:    models.GitOperation(e.op),
			AcquiredAt:   e.acquiredAt,
		})
	}
	return out
}
