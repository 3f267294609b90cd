// Package executor implements the bounded-concurrency task pipeline (C7):
// cloning repositories at pinned commits, running untrusted agent code and
// test scripts under per-step timeouts, cleaning up workspaces, and
// broadcasting progress events.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basilica-network/term-executor/internal/archive"
	"github.com/basilica-network/term-executor/internal/sandbox"
	"github.com/basilica-network/term-executor/internal/session"
)

// ErrCancelled is the error text recorded on a task aborted by the batch's
// cancellation signal, per §4.7.
const ErrCancelled = "Cancelled"

// Config bundles the subset of the daemon configuration the executor
// needs, kept narrow so tests can construct it directly without the whole
// internal/config.Config.
type Config struct {
	WorkspaceBase  string
	CloneTimeout   time.Duration
	AgentTimeout   time.Duration
	TestTimeout    time.Duration
	MaxOutputBytes int64
}

// Executor owns one worker pool per batch invocation.
type Executor struct {
	cfg    Config
	runner sandbox.Runner
}

// New constructs an Executor delegating all subprocess work to runner.
func New(cfg Config, runner sandbox.Runner) *Executor {
	return &Executor{cfg: cfg, runner: runner}
}

// Run executes the full batch lifecycle (§4.7 steps 1-5) synchronously;
// callers spawn it as its own goroutine per batch.
func (e *Executor) Run(batch *session.Batch, extracted *archive.Extracted, concurrency int) {
	start := time.Now()
	defer func() {
		batch.SetDuration(time.Since(start))
	}()

	batch.SetStatus(session.StatusExtracting)
	taskIDs := make([]string, len(extracted.Tasks))
	for i, t := range extracted.Tasks {
		taskIDs[i] = t.ID
	}
	batch.InitTasks(taskIDs)

	e.publish(batch, "batch_started", map[string]any{
		"totalTasks":       len(extracted.Tasks),
		"concurrentLimit":  concurrency,
	})

	batch.SetStatus(session.StatusRunning)

	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	done := make(chan struct{})
	remaining := len(extracted.Tasks)
	if remaining == 0 {
		close(done)
	} else {
		completions := make(chan struct{}, remaining)
		for _, task := range extracted.Tasks {
			task := task
			go func() {
				sem <- struct{}{}
				defer func() { <-sem }()
				e.runTaskPipeline(batch, extracted.AgentCode, extracted.AgentLanguage, task)
				completions <- struct{}{}
			}()
		}
		go func() {
			for i := 0; i < remaining; i++ {
				<-completions
			}
			close(done)
		}()
	}
	<-done

	batch.FinalizeCounts()
	batch.SetStatus(session.StatusCompleted)

	snap := batch.Snapshot()
	e.publish(batch, "batch_complete", map[string]any{
		"status":     snap.Status,
		"total":      snap.TotalTasks,
		"passed":     snap.Passed,
		"failed":     snap.Failed,
		"reward":     snap.AggregateReward,
		"durationMs": snap.DurationMs,
	})
}

func (e *Executor) publish(batch *session.Batch, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	batch.Events.Publish(session.Event{Kind: kind, Data: data})
}

var agentExtByLanguage = map[string]string{
	"python":     ".py",
	"javascript": ".js",
	"typescript": ".ts",
	"go":         ".go",
	"ruby":       ".rb",
}

func agentExt(language string) string {
	if ext, ok := agentExtByLanguage[language]; ok {
		return ext
	}
	return ".sh"
}

func agentArgv(language, filePath string) []string {
	switch language {
	case "python":
		return []string{"python3", filePath}
	case "javascript":
		return []string{"node", filePath}
	case "typescript":
		return []string{"npx", "tsx", filePath}
	case "go":
		return []string{"go", "run", filePath}
	case "ruby":
		return []string{"ruby", filePath}
	default:
		return []string{"bash", filePath}
	}
}

// runTaskPipeline executes the seven-stage pipeline for one task,
// checking the batch's cancellation signal at each checkpoint, and always
// removing the task's workspace directory before returning (invariant
// §3.7).
func (e *Executor) runTaskPipeline(batch *session.Batch, agentCode, agentLanguage string, task session.Task) {
	start := time.Now()
	e.publish(batch, "task_started", map[string]any{"taskId": task.ID})

	taskDir := filepath.Join(e.cfg.WorkspaceBase, task.ID)
	defer os.RemoveAll(taskDir)

	result := session.TaskResult{TaskID: task.ID, Status: session.TaskQueued}

	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		result.Status = session.TaskFailed
		result.Error = fmt.Sprintf("create workspace: %v", err)
		e.finishTask(batch, result, start)
		return
	}

	if e.cancelled(batch) {
		result.Status = session.TaskFailed
		result.Error = ErrCancelled
		e.finishTask(batch, result, start)
		return
	}

	repoDir := filepath.Join(taskDir, "repo")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		result.Status = session.TaskFailed
		result.Error = fmt.Sprintf("create repo dir: %v", err)
		e.finishTask(batch, result, start)
		return
	}

	var combined strings.Builder

	// Stage 2: CloningRepo
	result.Status = session.TaskCloningRepo
	batch.UpdateTask(result)
	cloneOut, cloneErr := e.runner.Run(batch.Context(), []string{"git", "clone", "--depth", "50", "--single-branch", task.Workspace.Repo, repoDir}, taskDir, e.cfg.CloneTimeout, nil)
	appendOutput(&combined, "clone", cloneOut)
	if cloneErr != nil || cloneOut.ExitCode != 0 {
		result.Status = session.TaskFailed
		result.Error = "clone failed"
		result.CombinedOutput = sandbox.TruncateOutput(combined.String(), e.cfg.MaxOutputBytes)
		e.finishTask(batch, result, start)
		return
	}
	if task.Workspace.BaseCommit != "" {
		checkoutOut, checkoutErr := e.runner.Run(batch.Context(), []string{"git", "checkout", task.Workspace.BaseCommit}, repoDir, e.cfg.CloneTimeout, nil)
		appendOutput(&combined, "checkout", checkoutOut)
		if checkoutErr != nil || checkoutOut.ExitCode != 0 {
			// Logged, non-fatal per §4.7.1 step 2 — the repo may already
			// be at the correct default branch.
			fmt.Fprintf(&combined, "\nwarning: checkout of base_commit %s failed, continuing\n", task.Workspace.BaseCommit)
		}
	}
	if e.cancelled(batch) {
		result.Status = session.TaskFailed
		result.Error = ErrCancelled
		result.CombinedOutput = sandbox.TruncateOutput(combined.String(), e.cfg.MaxOutputBytes)
		e.finishTask(batch, result, start)
		return
	}

	// Stage 3: InstallingDeps
	result.Status = session.TaskInstallingDeps
	batch.UpdateTask(result)
	for _, installCmd := range task.Workspace.Install {
		installOut, installErr := sandbox.Shell(batch.Context(), e.runner, installCmd, repoDir, e.cfg.CloneTimeout, nil)
		appendOutput(&combined, "install", installOut)
		if installErr != nil || installOut.ExitCode != 0 {
			fmt.Fprintf(&combined, "\nwarning: install command %q failed, continuing\n", installCmd)
		}
	}
	if e.cancelled(batch) {
		result.Status = session.TaskFailed
		result.Error = ErrCancelled
		result.CombinedOutput = sandbox.TruncateOutput(combined.String(), e.cfg.MaxOutputBytes)
		e.finishTask(batch, result, start)
		return
	}

	// Stage 4: RunningAgent
	result.Status = session.TaskRunningAgent
	batch.UpdateTask(result)
	// agentLanguage is captured once from the archive's agent_code/ first-file
	// extension (C6) and governs the agent runtime; task.Workspace.Language
	// describes the task's own repo and never selects how the agent is run.
	agentPath := filepath.Join(repoDir, "_agent_code"+agentExt(agentLanguage))
	if err := os.WriteFile(agentPath, []byte(agentCode), 0o644); err != nil {
		result.Status = session.TaskFailed
		result.Error = fmt.Sprintf("write agent code: %v", err)
		result.CombinedOutput = sandbox.TruncateOutput(combined.String(), e.cfg.MaxOutputBytes)
		e.finishTask(batch, result, start)
		return
	}
	promptPath := filepath.Join(repoDir, "_task_prompt.md")
	if err := os.WriteFile(promptPath, []byte(task.Prompt), 0o644); err != nil {
		result.Status = session.TaskFailed
		result.Error = fmt.Sprintf("write prompt: %v", err)
		result.CombinedOutput = sandbox.TruncateOutput(combined.String(), e.cfg.MaxOutputBytes)
		e.finishTask(batch, result, start)
		return
	}

	agentEnv := append(os.Environ(), "TASK_PROMPT="+promptPath, "REPO_DIR="+repoDir)
	agentOut, agentErr := e.runner.Run(batch.Context(), agentArgv(agentLanguage, agentPath), repoDir, e.cfg.AgentTimeout, agentEnv)
	appendOutput(&combined, "agent", agentOut)
	if agentErr != nil {
		fmt.Fprintf(&combined, "\nwarning: agent invocation error: %v\n", agentErr)
	}
	if e.cancelled(batch) {
		result.Status = session.TaskFailed
		result.Error = ErrCancelled
		result.CombinedOutput = sandbox.TruncateOutput(combined.String(), e.cfg.MaxOutputBytes)
		e.finishTask(batch, result, start)
		return
	}

	// Stage 5: write test source files and test scripts
	for _, src := range task.TestSourceFiles {
		dest := filepath.Join(repoDir, src.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			continue
		}
		_ = os.WriteFile(dest, src.Body, 0o644)
	}
	for _, script := range task.TestScripts {
		dest := filepath.Join(repoDir, script.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			continue
		}
		_ = os.WriteFile(dest, script.Body, 0o755)
	}
	if e.cancelled(batch) {
		result.Status = session.TaskFailed
		result.Error = ErrCancelled
		result.CombinedOutput = sandbox.TruncateOutput(combined.String(), e.cfg.MaxOutputBytes)
		e.finishTask(batch, result, start)
		return
	}

	// Stage 6: RunningTests
	result.Status = session.TaskRunningTests
	batch.UpdateTask(result)
	var testResults []session.TestResult
	for _, script := range task.TestScripts {
		scriptPath := filepath.Join(repoDir, script.Name)
		testOut, testErr := e.runner.Run(batch.Context(), []string{"bash", scriptPath}, repoDir, e.cfg.TestTimeout, nil)
		if testErr != nil {
			testResults = append(testResults, session.TestResult{
				Name:            script.Name,
				Passed:          false,
				TruncatedOutput: sandbox.TruncateOutput("Error: "+testErr.Error(), e.cfg.MaxOutputBytes),
				ExitCode:        -1,
			})
			continue
		}
		output := testOut.Stdout + "\n" + testOut.Stderr
		testResults = append(testResults, session.TestResult{
			Name:            script.Name,
			Passed:          testOut.ExitCode == 0,
			TruncatedOutput: sandbox.TruncateOutput(output, e.cfg.MaxOutputBytes),
			ExitCode:        testOut.ExitCode,
		})
	}

	// Stage 7: aggregate
	passed := len(testResults) > 0
	for _, tr := range testResults {
		if !tr.Passed {
			passed = false
			break
		}
	}
	result.TestResults = testResults
	result.Passed = passed
	if passed {
		result.Reward = 1.0
		result.Status = session.TaskCompleted
	} else {
		result.Reward = 0.0
		result.Status = session.TaskFailed
	}
	result.CombinedOutput = sandbox.TruncateOutput(combined.String(), e.cfg.MaxOutputBytes)

	e.finishTask(batch, result, start)
}

func (e *Executor) finishTask(batch *session.Batch, result session.TaskResult, start time.Time) {
	result.DurationMs = time.Since(start).Milliseconds()
	batch.UpdateTask(result)
	e.publish(batch, "task_complete", map[string]any{
		"taskId": result.TaskID,
		"status": result.Status,
		"passed": result.Passed,
		"reward": result.Reward,
	})
}

func (e *Executor) cancelled(batch *session.Batch) bool {
	select {
	case <-batch.Context().Done():
		return true
	default:
		return false
	}
}

func appendOutput(sb *strings.Builder, stage string, out sandbox.Output) {
	if out.Stdout == "" && out.Stderr == "" {
		return
	}
	fmt.Fprintf(sb, "--- %s ---\n%s\n%s\n", stage, out.Stdout, out.Stderr)
}

// ErrTaskTimeout is a timeout sentinel. No code path in this package
// returns it; a timed-out sandbox invocation is reported through
// sandbox.Output.TimedOut instead.
var ErrTaskTimeout = errors.New("timeout")
