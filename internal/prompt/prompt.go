// Package prompt builds the action-specific instruction text a
// Worker feeds to its Developer, in the teacher's "respond with
// ONLY..." strict-instruction style (usecases.CommitMessageGenerationPrompt
// and siblings).
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/teamforge/orchestrator/internal/models"
)

// sideFileThreshold is the size above which a piece of context (a
// comment body, a diff) is split into its own indexed file under
// .teamforged/ rather than inlined into the root prompt.
const sideFileThreshold = 2000

// Builder renders prompts for each WorkerAction and manages the
// per-task side-file directory long contexts spill into.
type Builder struct{}

// New constructs a Builder.
func New() *Builder { return &Builder{} }

// Build renders the prompt for task's action, writing any long
// context blocks to indexed files under workspaceDir/.teamforged/ and
// referencing them by path from the returned root prompt, per spec
// section 4.4 step 2.
func (b *Builder) Build(workspaceDir string, task *models.WorkerTask) (string, error) {
	switch task.Action {
	case models.ActionStartNewTask:
		return b.newTaskPrompt(workspaceDir, task)
	case models.ActionResumeTask:
		return b.resumeTaskPrompt(task)
	case models.ActionProcessFeedback:
		return b.feedbackPrompt(workspaceDir, task)
	case models.ActionRequestMerge:
		return b.mergePrompt(task)
	default:
		return "", fmt.Errorf("unknown worker action: %s", task.Action)
	}
}

func (b *Builder) newTaskPrompt(workspaceDir string, task *models.WorkerTask) (string, error) {
	title, body := "", ""
	if task.BoardItem != nil {
		title = task.BoardItem.Title
	}

	bodyRef, err := b.sideFile(workspaceDir, task.TaskID, "task-description", body)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(`You are starting work on a new task.

<title>
%s
</title>

%s

INSTRUCTIONS:
1. Implement the task described above.
2. Commit your changes with a clear, imperative-mood commit message under 50 characters.
3. Push the branch and open a pull request.
4. When you are done, respond with ONLY the pull request URL, nothing else.

Respond with ONLY the pull request URL once the pull request is open.`, title, bodyRef)

	return prompt, nil
}

func (b *Builder) resumeTaskPrompt(task *models.WorkerTask) (string, error) {
	return fmt.Sprintf(`Resume work on task %s. The previous session was interrupted before completion.

INSTRUCTIONS:
1. Review the current state of the working tree and continue from where you left off.
2. Commit any outstanding changes with a clear, imperative-mood commit message.
3. Push the branch and ensure a pull request is open.
4. Respond with ONLY the pull request URL once it is open.`, task.TaskID), nil
}

func (b *Builder) feedbackPrompt(workspaceDir string, task *models.WorkerTask) (string, error) {
	var sb strings.Builder
	for i, c := range task.Comments {
		ref, err := b.sideFile(workspaceDir, task.TaskID, fmt.Sprintf("comment-%d", i), c.Body)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "- %s: %s\n", c.Author, ref)
	}

	return fmt.Sprintf(`Address the following review feedback on pull request %s.

<feedback>
%s</feedback>

INSTRUCTIONS:
1. Make the changes requested in the feedback above.
2. Commit with a clear, imperative-mood commit message.
3. Push the branch so the existing pull request updates.
4. Respond with ONLY the pull request URL, nothing else.`, task.PullRequestURL, sb.String()), nil
}

func (b *Builder) mergePrompt(task *models.WorkerTask) (string, error) {
	return fmt.Sprintf(`Pull request %s has been approved and has no unresolved feedback.

INSTRUCTIONS:
1. Merge the pull request using the appropriate merge method for this repository.
2. Do not make any further code changes.
3. Respond with ONLY the word DONE once the merge is complete.`, task.PullRequestURL), nil
}

// sideFile writes content to workspaceDir/.teamforged/<taskId>/<name>.txt
// when it exceeds sideFileThreshold, returning a short reference the
// root prompt can point the developer at; short content is returned
// inline unchanged.
func (b *Builder) sideFile(workspaceDir, taskID, name, content string) (string, error) {
	if len(content) <= sideFileThreshold {
		return content, nil
	}

	dir := filepath.Join(workspaceDir, ".teamforged", taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create side-file directory: %w", err)
	}

	path := filepath.Join(dir, name+".txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write side file %s: %w", path, err)
	}

	return fmt.Sprintf("(content too long, see file: %s)", path), nil
}
