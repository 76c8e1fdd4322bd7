package store

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/agdrone/atlana/pkg/log"
)

// ExecLauncher runs each accepted workflow in a detached copy of the
// current binary. The child process owns the run from then on; crashes
// of the submitting process do not take workflows down with it.
type ExecLauncher struct {
	// ConfigPath is forwarded to the child when set
	ConfigPath string
}

// Launch implements Launcher
func (l *ExecLauncher) Launch(workflowID, workingFolder string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own binary: %w", err)
	}

	args := []string{"run", workingFolder}
	if l.ConfigPath != "" {
		args = append(args, "--config", l.ConfigPath)
	}

	cmd := exec.Command(self, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start workflow process: %w", err)
	}

	logger := log.WithWorkflowID(workflowID)
	logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("folder", workingFolder).
		Msg("workflow process started")

	// The child outlives us; let the OS reap it
	return cmd.Process.Release()
}

// LaunchFunc adapts a function to the Launcher interface
type LaunchFunc func(workflowID, workingFolder string) error

// Launch implements Launcher
func (f LaunchFunc) Launch(workflowID, workingFolder string) error {
	return f(workflowID, workingFolder)
}
