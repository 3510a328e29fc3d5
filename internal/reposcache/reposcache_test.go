package reposcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teamforge/orchestrator/internal/gitlock"
	"github.com/teamforge/orchestrator/internal/store"
)

type fakeGit struct {
	mu         sync.Mutex
	cloneCalls int32
	fetchCalls int32
	valid      map[string]bool
}

func newFakeGit() *fakeGit {
	return &fakeGit{valid: make(map[string]bool)}
}

func (f *fakeGit) CloneBare(ctx context.Context, url, localPath string) error {
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&f.cloneCalls, 1)
	f.mu.Lock()
	f.valid[localPath] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeGit) Fetch(ctx context.Context, localPath string) error {
	atomic.AddInt32(&f.fetchCalls, 1)
	return nil
}

func (f *fakeGit) IsValidRepository(localPath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid[localPath]
}

func resolveURL(repoID string) (string, error) {
	return "https://example.com/" + repoID + ".git", nil
}

func TestEnsureRepositoryClonesOnce(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	git := newFakeGit()
	lock := gitlock.New(time.Minute)
	c := New(t.TempDir(), time.Hour, git, lock, resolveURL, st)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.EnsureRepository(context.Background(), "acme/widgets", false); err != nil {
				t.Errorf("EnsureRepository: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&git.cloneCalls); got != 1 {
		t.Fatalf("expected exactly one clone, got %d", got)
	}
}

func TestEnsureRepositoryRefetchesWhenStale(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	git := newFakeGit()
	lock := gitlock.New(time.Minute)
	c := New(t.TempDir(), time.Millisecond, git, lock, resolveURL, st)

	if _, err := c.EnsureRepository(context.Background(), "acme/widgets", false); err != nil {
		t.Fatalf("EnsureRepository: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := c.EnsureRepository(context.Background(), "acme/widgets", false); err != nil {
		t.Fatalf("EnsureRepository (second): %v", err)
	}

	if got := atomic.LoadInt32(&git.fetchCalls); got != 1 {
		t.Fatalf("expected one fetch after cache went stale, got %d", got)
	}
}

func TestEnsureRepositoryForceUpdateAlwaysFetches(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	git := newFakeGit()
	lock := gitlock.New(time.Minute)
	c := New(t.TempDir(), time.Hour, git, lock, resolveURL, st)

	if _, err := c.EnsureRepository(context.Background(), "acme/widgets", false); err != nil {
		t.Fatalf("EnsureRepository: %v", err)
	}
	if _, err := c.EnsureRepository(context.Background(), "acme/widgets", true); err != nil {
		t.Fatalf("EnsureRepository (force): %v", err)
	}

	if got := atomic.LoadInt32(&git.fetchCalls); got != 1 {
		t.Fatalf("expected forceUpdate to trigger a fetch, got %d", got)
	}
}

func TestAddAndRemoveWorktreeBookkeeping(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	git := newFakeGit()
	lock := gitlock.New(time.Minute)
	c := New(t.TempDir(), time.Hour, git, lock, resolveURL, st)

	if err := c.AddWorktree("acme/widgets", "/work/t1"); err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}

	rs := st.GetRepositoryState("acme/widgets")
	if rs == nil || !rs.ActiveWorktrees["/work/t1"] {
		t.Fatalf("expected worktree to be tracked: %+v", rs)
	}

	if err := c.RemoveWorktree("acme/widgets", "/work/t1"); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}

	rs = st.GetRepositoryState("acme/widgets")
	if rs.ActiveWorktrees["/work/t1"] {
		t.Fatal("expected worktree to be untracked after RemoveWorktree")
	}
}
