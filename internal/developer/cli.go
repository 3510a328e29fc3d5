package developer

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/teamforge/orchestrator/internal/core"
	"github.com/teamforge/orchestrator/internal/core/log"
)

// ValidateBinaryExists checks that the CLI binary backing kind is on
// PATH, mirroring the teacher's ValidateBinaryExists/CreateCLIAgent
// pairing: construction fails fast at startup rather than at the
// first task assignment.
func ValidateBinaryExists(kind string) error {
	binaryName, err := binaryForKind(kind)
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(binaryName); err != nil {
		return fmt.Errorf("binary %q not found in PATH for developer %q", binaryName, kind)
	}
	return nil
}

func binaryForKind(kind string) (string, error) {
	switch kind {
	case "claude":
		return "claude", nil
	case "gemini":
		return "gemini", nil
	default:
		return "", fmt.Errorf("unsupported developer type: %s (supported: claude, gemini, mock)", kind)
	}
}

// CLIDeveloper drives a coding-agent CLI binary (e.g. claude) as a
// subprocess per task turn, following the process-group-with-timeout
// pattern described in spec section 4.4 step 3.
type CLIDeveloper struct {
	binary  string
	timeout time.Duration
}

// NewCLIDeveloper constructs a CLIDeveloper for kind, failing if its
// binary cannot be found on PATH.
func NewCLIDeveloper(kind string, timeout time.Duration) (*CLIDeveloper, error) {
	binary, err := binaryForKind(kind)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("binary %q not found in PATH for developer %q: %w", binary, kind, err)
	}
	return &CLIDeveloper{binary: binary, timeout: timeout}, nil
}

func (d *CLIDeveloper) Kind() string { return d.binary }

// Run invokes the CLI binary with req.Prompt piped via -p and waits
// for it to finish, enforcing d.timeout via the whole-process-group
// kill described in process.go.
func (d *CLIDeveloper) Run(ctx context.Context, req Request) (*Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := []string{"-p", req.Prompt}
	if req.SessionID != "" && d.binary == "claude" {
		args = append(args, "--resume", req.SessionID)
	}

	cmd := buildCommand(d.binary, req.WorkspaceDir, args...)

	log.Info("invoking developer %s for workspace %s", d.binary, req.WorkspaceDir)
	output, timedOut, err := runWithProcessGroupTimeout(runCtx, cmd)
	if timedOut {
		return nil, &core.DeveloperTimeout{TaskID: req.SessionID, Timeout: d.timeout.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("developer %s exited with error: %w\noutput: %s", d.binary, err, string(output))
	}

	return parseOutput(string(output)), nil
}

var prURLPattern = regexp.MustCompile(`https://[\w.-]+/[\w.-]+/[\w.-]+/pull/\d+`)

// parseOutput extracts the pieces of a developer transcript the
// Worker cares about for its "parse result" phase, per spec section
// 4.4 step 4. Commands/files extraction is heuristic: the transcript
// format is agent-specific and not contractually stable, so this only
// captures the one signal (the PR URL) that callers depend on for
// correctness.
func parseOutput(transcript string) *Output {
	return &Output{
		RawTranscript:  transcript,
		PullRequestURL: prURLPattern.FindString(transcript),
	}
}
