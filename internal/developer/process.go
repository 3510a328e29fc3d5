package developer

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/teamforge/orchestrator/internal/core/log"
)

// GracePeriod is how long a developer subprocess gets to exit after
// SIGTERM before it is force-killed with SIGKILL, per spec section
// 4.4 step 3.
const GracePeriod = 5 * time.Second

// blockedEnvVars lists environment variables that must never reach a
// developer subprocess: orchestrator credentials the agent has no
// business seeing.
var blockedEnvVars = map[string]bool{
	"TEAMFORGED_GITHUB_TOKEN": true,
	"TEAMFORGED_BOARD_ID":     true,
}

// filterEnvForDeveloper strips credential environment variables before
// they reach a spawned developer process.
func filterEnvForDeveloper(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		key, _, _ := strings.Cut(e, "=")
		if !blockedEnvVars[key] {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// buildCommand constructs an exec.Cmd for name/args, run in workDir
// with a filtered environment, placed in its own process group so a
// timeout can signal the whole tree rather than just the direct child.
func buildCommand(name, workDir string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Dir = workDir
	cmd.Env = filterEnvForDeveloper(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// runWithProcessGroupTimeout starts cmd and waits for it to finish or
// for ctx to be cancelled. On cancellation it signals the whole
// process group with SIGTERM, then SIGKILL after GracePeriod, to
// avoid leaving orphaned child processes behind (spec section 4.4
// step 3). It returns the captured combined output and whether the
// run was cut short by the timeout.
func runWithProcessGroupTimeout(ctx context.Context, cmd *exec.Cmd) (output []byte, timedOut bool, err error) {
	stdout := &limitedBuffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		return nil, false, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return stdout.Bytes(), false, err
	case <-ctx.Done():
		pgid := cmd.Process.Pid
		log.Warn("developer process exceeded timeout, sending SIGTERM to process group %d", pgid)
		_ = syscall.Kill(-pgid, syscall.SIGTERM)

		select {
		case err := <-done:
			return stdout.Bytes(), true, err
		case <-time.After(GracePeriod):
			log.Warn("developer process group %d did not exit after SIGTERM, sending SIGKILL", pgid)
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			<-done
			return stdout.Bytes(), true, ctx.Err()
		}
	}
}

// limitedBuffer caps captured output so a runaway developer process
// cannot exhaust memory; it keeps the most recent bytes.
type limitedBuffer struct {
	buf []byte
}

const maxCapturedOutput = 4 << 20 // 4 MiB

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > maxCapturedOutput {
		b.buf = b.buf[len(b.buf)-maxCapturedOutput:]
	}
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte { return b.buf }
