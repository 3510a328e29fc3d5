// Package workerpool owns the bounded set of worker.Instance slots
// described in spec section 4.5: it hands out idle workers, restores
// them from a snapshot on startup, evicts idle ones above a floor, and
// recovers ones a crashed developer subprocess left STOPPED.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/core/log"
	"github.com/teamforge/orchestrator/internal/models"
	"github.com/teamforge/orchestrator/internal/store"
	"github.com/teamforge/orchestrator/internal/worker"
)

// Config bounds the pool's size and recovery/eviction timers, per spec
// section 4.5.
type Config struct {
	MinWorkers           int
	MaxWorkers           int
	MinPersistentWorkers int
	IdleTimeout          time.Duration
	RecoveryTimeout      time.Duration
}

// Pool is the bounded set of worker.Instance slots. Exclusively owns
// live Worker process state; StateStore merely persists snapshots of
// it.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	deps    worker.Deps
	devType models.DeveloperType
	store   *store.StateStore

	workers map[string]*worker.Instance
	nextID  int

	exec *workerpool.WorkerPool

	shuttingDown bool
}

// New constructs an empty Pool. Call InitializePool before handing out
// work.
func New(cfg Config, devType models.DeveloperType, deps worker.Deps, st *store.StateStore) *Pool {
	return &Pool{
		cfg:     cfg,
		deps:    deps,
		devType: devType,
		store:   st,
		workers: make(map[string]*worker.Instance),
		exec:    workerpool.New(cfg.MaxWorkers),
	}
}

// InitializePool restores persisted Workers from StateStore, dropping
// any whose live restoration fails, then tops the pool up to
// MinWorkers with fresh Workers. Never exceeds MaxWorkers.
func (p *Pool) InitializePool() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	restored := 0
	if p.store != nil {
		for _, snap := range p.store.ListWorkers() {
			inst := worker.Restore(snap, p.deps)
			p.workers[inst.ID()] = inst
			restored++
			if restored >= p.cfg.MaxWorkers {
				break
			}
		}
	}

	log.Info("worker pool restored %d workers from snapshot", restored)

	for len(p.workers) < p.cfg.MinWorkers {
		p.spawnLocked()
	}

	return nil
}

func (p *Pool) spawnLocked() *worker.Instance {
	p.nextID++
	id := core.NewID("worker")
	inst := worker.New(id, p.devType, p.deps)
	p.workers[id] = inst
	if p.store != nil {
		_ = p.store.UpsertWorker(inst.Snapshot())
	}
	return inst
}

// GetAvailableWorker returns any IDLE worker, lazily creating one up
// to MaxWorkers if none is idle. Returns *core.NoAvailableWorker when
// the pool is already at MaxWorkers and all are busy.
func (p *Pool) GetAvailableWorker() (*worker.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, inst := range p.workers {
		if inst.Status() == models.WorkerStatusIdle {
			return inst, nil
		}
	}

	if len(p.workers) < p.cfg.MaxWorkers {
		return p.spawnLocked(), nil
	}

	return nil, &core.NoAvailableWorker{MaxWorkers: p.cfg.MaxWorkers}
}

// GetWorkerByTaskID locates the worker currently holding taskID, or
// nil if none does.
func (p *Pool) GetWorkerByTaskID(taskID string) *worker.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, inst := range p.workers {
		if inst.CurrentTaskID() == taskID {
			return inst
		}
	}
	return nil
}

// AssignWorkerTask assigns task to the worker identified by workerID.
// See worker.Instance.AssignTask for acceptance rules and rollback.
func (p *Pool) AssignWorkerTask(workerID string, task *models.WorkerTask) error {
	p.mu.Lock()
	inst, ok := p.workers[workerID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker: %s", workerID)
	}
	return inst.AssignTask(task)
}

// ReleaseWorker forces workerID back to IDLE and clears its task.
func (p *Pool) ReleaseWorker(workerID string) error {
	p.mu.Lock()
	inst, ok := p.workers[workerID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker: %s", workerID)
	}
	return inst.Release()
}

// Execute submits the worker's StartExecution call to the pool's
// bounded goroutine pool (github.com/gammazero/workerpool, as the
// teacher's JobDispatcher does for its own per-job workers) and
// invokes onDone with the Result once it finishes. Execute does not
// block; callers that need the result synchronously should not use
// this entry point.
func (p *Pool) Execute(ctx context.Context, inst *worker.Instance, item *models.ProjectBoardItem, onDone func(worker.Result)) {
	p.mu.Lock()
	refused := p.shuttingDown
	p.mu.Unlock()
	if refused {
		log.Warn("refusing to execute task on worker %s: pool is shutting down", inst.ID())
		return
	}

	p.exec.Submit(func() {
		result := inst.StartExecution(ctx, item)
		if onDone != nil {
			onDone(result)
		}
	})
}

// Snapshot returns a models.Worker for every worker currently in the
// pool, for status reporting.
func (p *Pool) Snapshot() []*models.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*models.Worker, 0, len(p.workers))
	for _, inst := range p.workers {
		out = append(out, inst.Snapshot())
	}
	return out
}

// RecoverStoppedWorkers moves any worker STOPPED for longer than
// RecoveryTimeout back to WAITING so the router resubmits its
// currentTask, per spec section 4.4's STOPPED -> WAITING sweeper
// transition.
func (p *Pool) RecoverStoppedWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	recovered := 0
	for _, inst := range p.workers {
		if inst.RecoverIfStopped(p.cfg.RecoveryTimeout) {
			recovered++
		}
	}
	if recovered > 0 {
		log.Info("recovered %d stopped worker(s)", recovered)
	}
	return recovered
}

// EvictIdleWorkers destroys IDLE workers that have been idle longer
// than IdleTimeout, preserving at least MinPersistentWorkers total.
func (p *Pool) EvictIdleWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) <= p.cfg.MinPersistentWorkers {
		return 0
	}

	evicted := 0
	for id, inst := range p.workers {
		if len(p.workers) <= p.cfg.MinPersistentWorkers {
			break
		}
		if inst.Status() != models.WorkerStatusIdle {
			continue
		}
		if inst.IdleDuration() < p.cfg.IdleTimeout {
			continue
		}
		delete(p.workers, id)
		if p.store != nil {
			_ = p.store.DeleteWorker(id)
		}
		evicted++
	}
	if evicted > 0 {
		log.Info("evicted %d idle worker(s)", evicted)
	}
	return evicted
}

// Shutdown stops accepting new assignments. In-flight developer
// subprocesses are left to finish naturally; StopWait blocks until the
// submitted work already queued has drained.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shuttingDown = true
	p.mu.Unlock()

	log.Info("worker pool shutting down, draining in-flight work")
	p.exec.StopWait()
}

// Len reports how many workers the pool currently holds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
