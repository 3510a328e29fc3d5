package developer

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMockDeveloperDefaultRun(t *testing.T) {
	d := &MockDeveloper{}
	out, err := d.Run(context.Background(), Request{WorkspaceDir: "/work/t1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.RawTranscript, "/work/t1") {
		t.Fatalf("expected default transcript to mention workspace dir, got %q", out.RawTranscript)
	}
	if d.Kind() != "mock" {
		t.Fatalf("Kind() = %q, want mock", d.Kind())
	}
}

func TestMockDeveloperCustomRunFunc(t *testing.T) {
	wantErr := errors.New("boom")
	d := &MockDeveloper{RunFunc: func(ctx context.Context, req Request) (*Output, error) {
		return nil, wantErr
	}}

	_, err := d.Run(context.Background(), Request{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestNewDeveloperMock(t *testing.T) {
	d, err := NewDeveloper("mock", 0)
	if err != nil {
		t.Fatalf("NewDeveloper: %v", err)
	}
	if d.Kind() != "mock" {
		t.Fatalf("Kind() = %q, want mock", d.Kind())
	}
}

func TestNewDeveloperUnsupportedKind(t *testing.T) {
	if _, err := NewDeveloper("copilot", 0); err == nil {
		t.Fatal("expected error for unsupported developer kind")
	}
}

func TestParseOutputExtractsPullRequestURL(t *testing.T) {
	transcript := "I've opened the PR: https://github.com/acme/widgets/pull/42\nDone."
	out := parseOutput(transcript)
	if out.PullRequestURL != "https://github.com/acme/widgets/pull/42" {
		t.Fatalf("PullRequestURL = %q", out.PullRequestURL)
	}
}

func TestParseOutputNoPullRequestURL(t *testing.T) {
	out := parseOutput("nothing to see here")
	if out.PullRequestURL != "" {
		t.Fatalf("expected empty PullRequestURL, got %q", out.PullRequestURL)
	}
}

func TestFilterEnvForDeveloperStripsCredentials(t *testing.T) {
	env := []string{"PATH=/usr/bin", "TEAMFORGED_GITHUB_TOKEN=secret", "HOME=/root"}
	filtered := filterEnvForDeveloper(env)

	for _, e := range filtered {
		if strings.HasPrefix(e, "TEAMFORGED_GITHUB_TOKEN=") {
			t.Fatal("expected credential env var to be filtered out")
		}
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 surviving env vars, got %d: %v", len(filtered), filtered)
	}
}
