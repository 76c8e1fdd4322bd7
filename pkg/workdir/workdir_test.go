package workdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateWorkflowRoot(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	root, err := m.CreateWorkflowRoot("6b3f2a9c0d1e4f5a8b7c6d5e4f3a2b1c")
	if err != nil {
		t.Fatalf("CreateWorkflowRoot() error = %v", err)
	}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("workflow root %s was not created", root)
	}
	if !Within(m.RunRoot(), root) {
		t.Errorf("workflow root %s not within run area %s", root, m.RunRoot())
	}
}

func TestWorkflowRootRejectsEscape(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	for _, id := range []string{"..", "../other", "a/../../b"} {
		if _, err := m.WorkflowRoot(id); err == nil {
			t.Errorf("WorkflowRoot(%q) accepted an escaping id", id)
		}
	}
}

func TestSetupStepDirCreates(t *testing.T) {
	root := t.TempDir()

	dir, err := SetupStepDir(root, "soilmask")
	if err != nil {
		t.Fatalf("SetupStepDir() error = %v", err)
	}
	if dir != filepath.Join(root, "soilmask") {
		t.Errorf("SetupStepDir() = %s, want %s", dir, filepath.Join(root, "soilmask"))
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("step directory was not created")
	}
}

func TestSetupStepDirCleansExisting(t *testing.T) {
	root := t.TempDir()

	dir, err := SetupStepDir(root, "plotclip")
	if err != nil {
		t.Fatalf("SetupStepDir() error = %v", err)
	}

	stale := filepath.Join(dir, "result.json")
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatalf("failed to seed stale file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "output"), 0o755); err != nil {
		t.Fatalf("failed to seed stale directory: %v", err)
	}

	if _, err := SetupStepDir(root, "plotclip"); err != nil {
		t.Fatalf("SetupStepDir() rerun error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read step directory: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("step directory still has %d entries after setup", len(entries))
	}
}

func TestSetupStepDirRejectsEscape(t *testing.T) {
	root := t.TempDir()

	if _, err := SetupStepDir(root, "../outside"); err == nil {
		t.Error("SetupStepDir() accepted an escaping command name")
	}
}

func TestSetupStepDirMissingRoot(t *testing.T) {
	if _, err := SetupStepDir(filepath.Join(t.TempDir(), "gone"), "merge_csv"); err == nil {
		t.Error("SetupStepDir() accepted a missing workflow root")
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		name string
		root string
		path string
		want bool
	}{
		{"same path", "/a/b/c", "/a/b/c", true},
		{"direct child", "/a/b/c", "/a/b/c/d.csv", true},
		{"nested child", "/a/b/c", "/a/b/c/d/e", true},
		{"sibling", "/a/b/c", "/a/b/d", false},
		{"partial component", "/a/b/c", "/a/b/concord", false},
		{"parent", "/a/b/c", "/a/b", false},
		{"unclean child", "/a/b/c", "/a/b/c/./d", true},
		{"unclean escape", "/a/b/c", "/a/b/c/../d", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Within(tt.root, tt.path); got != tt.want {
				t.Errorf("Within(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
			}
		})
	}
}

func TestConfinePath(t *testing.T) {
	root := t.TempDir()

	got, err := ConfinePath(root, "images/ortho.tif")
	if err != nil {
		t.Fatalf("ConfinePath() error = %v", err)
	}
	if got != filepath.Join(root, "images", "ortho.tif") {
		t.Errorf("ConfinePath() = %s", got)
	}

	if _, err := ConfinePath(root, "../escape.tif"); err == nil {
		t.Error("ConfinePath() accepted an escaping relative path")
	}
}
