package subaru

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ActionContext carries everything a build action may need. WorkDir is
// threaded explicitly so no action depends on the process-wide working
// directory left behind by an earlier step.
type ActionContext struct {
	Ctx     context.Context
	Exec    *Executor
	Cfg     *Config
	WorkDir string
	Log     io.Writer // combined output of the wrapped action
}

// Action is one opaque build procedure. It reports success or failure;
// the runner decides what that means for the surrounding phase.
type Action func(actx *ActionContext) error

// Step pairs a unique id with its action. The id keys the completion
// marker, so it must stay stable across releases.
type Step struct {
	ID     string
	Action Action
}

// Runner executes steps exactly once across process restarts. A step
// whose marker is already present is skipped without invoking its
// action; a failed step writes no marker and the error names the step,
// phase and log artifact so the operator can diagnose and re-invoke.
type Runner struct {
	Store  StepStore
	LogDir string
}

func NewRunner(store StepStore, logDir string) *Runner {
	return &Runner{Store: store, LogDir: logDir}
}

// logPath names the log artifact for one step of one phase.
func (r *Runner) logPath(stepID, phase string) string {
	return filepath.Join(r.LogDir, fmt.Sprintf("%s-%s.log", stepID, phase))
}

// Run executes step unless its marker is present. Actions must be safe
// to re-run from scratch: a crash after the action but before the
// marker write re-runs the whole action on the next invocation.
func (r *Runner) Run(phase string, step Step, actx *ActionContext) error {
	done, err := r.Store.Status(step.ID)
	if err != nil {
		return fmt.Errorf("step %s: %w", step.ID, err)
	}
	if done {
		colArrow.Print("-> ")
		colInfo.Printf("Skipping %s (already done)\n", step.ID)
		return nil
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Running %s\n", step.ID)

	logPath := r.logPath(step.ID, phase)
	logFile, err := r.openLog(logPath)
	if err != nil {
		return fmt.Errorf("step %s: %w", step.ID, err)
	}

	runActx := *actx
	if logFile != nil {
		defer logFile.Close()
		if Verbose {
			runActx.Log = io.MultiWriter(os.Stdout, logFile)
		} else {
			runActx.Log = logFile
		}
	} else {
		runActx.Log = os.Stdout
	}

	if err := step.Action(&runActx); err != nil {
		colError.Printf("Step %s failed during phase %s (see %s)\n", step.ID, phase, logPath)
		return fmt.Errorf("step %s failed in phase %s: %w (log: %s)", step.ID, phase, err, logPath)
	}

	if err := r.Store.SetDone(step.ID); err != nil {
		return fmt.Errorf("step %s: %w", step.ID, err)
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Done %s\n", step.ID)
	return nil
}

// openLog creates the log artifact, or returns nil when the runner has
// no log directory configured (tests).
func (r *Runner) openLog(path string) (*os.File, error) {
	if r.LogDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(r.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log artifact: %w", err)
	}
	return f, nil
}
