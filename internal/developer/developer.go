// Package developer drives the coding-agent subprocess a Worker uses
// to carry out a task, per spec section 4.4 step 3 ("Invoke
// developer").
package developer

import "context"

// Output is what a developer run hands back to the Worker for the
// "parse result" execution phase (spec section 4.4 step 4).
type Output struct {
	// RawTranscript is the full stdout/stderr the developer process
	// produced, kept for prompt splitting and debugging.
	RawTranscript string

	// PullRequestURL is non-empty when the developer reports having
	// opened or updated a pull request.
	PullRequestURL string

	// CommandsExecuted lists shell commands the developer ran, for
	// audit/status purposes. CLIDeveloper's transcript parsing does not
	// fill it in; it is left empty.
	CommandsExecuted []string

	// ModifiedFiles lists paths the developer reports having changed.
	// CLIDeveloper's transcript parsing does not fill it in either.
	ModifiedFiles []string
}

// Request is everything a Developer needs to run one turn: the
// rendered prompt (with any side files already written to
// workspaceDir/.teamforged/) and the working directory to run in.
type Request struct {
	WorkspaceDir string
	Prompt       string
	SessionID    string // non-empty for a resume/feedback turn
	Timeout      string // human-readable, for logging only
}

// Developer runs one coding-agent turn against a prepared workspace.
// Implementations must respect ctx cancellation by terminating their
// subprocess's entire process group.
type Developer interface {
	// Run executes one turn and returns its Output. A context
	// deadline exceeded surfaces as *core.DeveloperTimeout.
	Run(ctx context.Context, req Request) (*Output, error)

	// Kind identifies which backend this Developer drives.
	Kind() string
}
