package gitlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithLockSerializesSameRepo(t *testing.T) {
	l := New(time.Minute)

	var running int32
	var maxConcurrent int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), "repo-a", "fetch", func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&maxConcurrent)
					if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}

	wg.Wait()
	if maxConcurrent != 1 {
		t.Fatalf("expected serialized access, max concurrent = %d", maxConcurrent)
	}
}

func TestWithLockAllowsDifferentReposInParallel(t *testing.T) {
	l := New(time.Minute)

	var wg sync.WaitGroup
	start := make(chan struct{})
	var concurrent int32
	var maxConcurrent int32

	for _, repo := range []string{"repo-a", "repo-b"} {
		wg.Add(1)
		go func(repo string) {
			defer wg.Done()
			<-start
			_ = l.WithLock(context.Background(), repo, "fetch", func(ctx context.Context) error {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					old := atomic.LoadInt32(&maxConcurrent)
					if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
		}(repo)
	}

	close(start)
	wg.Wait()

	if maxConcurrent < 2 {
		t.Fatalf("expected different repos to run in parallel, max concurrent = %d", maxConcurrent)
	}
}

func TestWithLockReleasesOnFnError(t *testing.T) {
	l := New(time.Minute)

	sentinel := func(ctx context.Context) error { return nil }

	_ = l.WithLock(context.Background(), "repo-a", "clone", func(ctx context.Context) error {
		return errBoom
	})

	// The failed call above must have released the lock; a fresh
	// acquire should succeed immediately.
	err := l.WithLock(context.Background(), "repo-a", "fetch", sentinel)
	if err != nil {
		t.Fatalf("expected lock to be released after fn error, got %v", err)
	}
}

func TestWithLockTimesOutWhenHeldTooLong(t *testing.T) {
	l := New(time.Hour)

	release := make(chan struct{})
	holderStarted := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "repo-a", "worktree", func(ctx context.Context) error {
			close(holderStarted)
			<-release
			return nil
		})
	}()

	<-holderStarted

	done := make(chan error, 1)
	go func() {
		done <- l.WithLock(context.Background(), "repo-a", "fetch", func(ctx context.Context) error {
			return nil
		})
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected contended acquire to fail while the first holder sleeps")
		}
	case <-time.After(11 * time.Second):
		t.Fatal("acquire did not return within the retry budget")
	}

	close(release)
}

func TestSnapshotReportsHeldLocks(t *testing.T) {
	l := New(time.Minute)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "repo-a", "clone", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	snap := l.Snapshot()
	if len(snap) != 1 || snap[0].RepositoryID != "repo-a" {
		t.Fatalf("expected one held lock for repo-a, got %+v", snap)
	}
	close(release)
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
