// Package workdir owns the on-disk layout of workflow runs: one root
// directory per workflow under the configured run area and one child
// directory per step. Every path handed out is absolute and verified to
// stay inside the workflow root.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agdrone/atlana/pkg/log"
)

// Manager creates and scopes workflow directories under a run area
type Manager struct {
	runRoot string
}

// NewManager creates a manager rooted at runRoot, creating it if needed
func NewManager(runRoot string) (*Manager, error) {
	abs, err := filepath.Abs(runRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve run area %s: %w", runRoot, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run area %s: %w", abs, err)
	}

	return &Manager{runRoot: abs}, nil
}

// RunRoot returns the absolute run area path
func (m *Manager) RunRoot() string {
	return m.runRoot
}

// WorkflowRoot returns the confined root directory for a workflow ID
// without creating it
func (m *Manager) WorkflowRoot(workflowID string) (string, error) {
	root := filepath.Join(m.runRoot, workflowID)

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workflow root: %w", err)
	}
	if !Within(m.runRoot, abs) {
		return "", fmt.Errorf("workflow id %q escapes the run area", workflowID)
	}

	return abs, nil
}

// CreateWorkflowRoot creates and returns the root directory for a
// workflow ID
func (m *Manager) CreateWorkflowRoot(workflowID string) (string, error) {
	root, err := m.WorkflowRoot(workflowID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workflow root %s: %w", root, err)
	}

	return root, nil
}

// RemoveWorkflowRoot recursively deletes a workflow's root directory
func (m *Manager) RemoveWorkflowRoot(workflowID string) error {
	root, err := m.WorkflowRoot(workflowID)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to remove workflow root %s: %w", root, err)
	}

	return nil
}

// SetupStepDir prepares the working directory for one step beneath the
// workflow root. An existing directory is emptied file by file; cleanup
// failures are logged and ignored so a stale entry never fails the
// workflow.
func SetupStepDir(workflowRoot, command string) (string, error) {
	info, err := os.Stat(workflowRoot)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("workflow root is not a valid directory: %s", workflowRoot)
	}

	stepDir := filepath.Join(workflowRoot, command)

	abs, err := filepath.Abs(stepDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve step directory: %w", err)
	}
	if !Within(workflowRoot, abs) {
		return "", fmt.Errorf("step command %q escapes the workflow root", command)
	}

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		if err := os.Mkdir(abs, 0o755); err != nil {
			return "", fmt.Errorf("failed to create step directory %s: %w", abs, err)
		}
		return abs, nil
	}

	logger := log.WithComponent("workdir")
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read step directory %s: %w", abs, err)
	}
	for _, entry := range entries {
		target := filepath.Join(abs, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			logger.Warn().Err(err).Str("path", target).
				Msg("ignoring cleanup failure, continuing")
		}
	}

	return abs, nil
}

// Within reports whether path sits inside root. Partial path components
// do not count: /a/b/c contains /a/b/c/d.csv but not /a/b/concord.
func Within(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)

	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// ConfinePath resolves path to an absolute, cleaned form and refuses
// anything that escapes root; used on caller-supplied values before any
// filesystem access
func ConfinePath(root, path string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(root, path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", path, err)
	}

	if !Within(root, abs) {
		return "", fmt.Errorf("path %q escapes %s", path, root)
	}

	return abs, nil
}
