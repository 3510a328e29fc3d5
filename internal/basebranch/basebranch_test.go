package basebranch

import (
	"context"
	"errors"
	"testing"

	"github.com/teamforge/orchestrator/internal/models"
)

func TestExtractBaseBranchPrefersLabel(t *testing.T) {
	r := New(func(ctx context.Context, repoID string) (string, error) {
		t.Fatal("lookupDefault should not be called when a base: label is present")
		return "", nil
	})

	item := &models.ProjectBoardItem{Labels: []string{"bug", "Base:release/1.2"}}
	if got := r.ExtractBaseBranch(context.Background(), item); got != "release/1.2" {
		t.Fatalf("ExtractBaseBranch = %q, want %q", got, "release/1.2")
	}
}

func TestExtractBaseBranchFallsBackToRepositoryDefault(t *testing.T) {
	r := New(func(ctx context.Context, repoID string) (string, error) {
		return "develop", nil
	})

	item := &models.ProjectBoardItem{RepositoryID: "acme/widgets"}
	if got := r.ExtractBaseBranch(context.Background(), item); got != "develop" {
		t.Fatalf("ExtractBaseBranch = %q, want %q", got, "develop")
	}
}

func TestExtractBaseBranchFallsBackToMainOnLookupFailure(t *testing.T) {
	r := New(func(ctx context.Context, repoID string) (string, error) {
		return "", errors.New("api unavailable")
	})

	item := &models.ProjectBoardItem{RepositoryID: "acme/widgets"}
	if got := r.ExtractBaseBranch(context.Background(), item); got != "main" {
		t.Fatalf("ExtractBaseBranch = %q, want %q", got, "main")
	}
}

func TestExtractBaseBranchIgnoresEmptyLabelValue(t *testing.T) {
	r := New(func(ctx context.Context, repoID string) (string, error) {
		return "develop", nil
	})

	item := &models.ProjectBoardItem{RepositoryID: "acme/widgets", Labels: []string{"base:"}}
	if got := r.ExtractBaseBranch(context.Background(), item); got != "develop" {
		t.Fatalf("ExtractBaseBranch = %q, want %q (empty label value should fall through)", got, "develop")
	}
}
