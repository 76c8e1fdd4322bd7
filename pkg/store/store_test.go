package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agdrone/atlana/pkg/config"
	"github.com/agdrone/atlana/pkg/types"
	"github.com/agdrone/atlana/pkg/workfile"
)

type launchRecord struct {
	workflowID    string
	workingFolder string
}

func newStore(t *testing.T) (*Store, *[]launchRecord) {
	t.Helper()

	cfg := &config.Config{
		WorkingFolder:   t.TempDir(),
		Salt:            config.DefaultSalt,
		DefaultPasscode: config.DefaultPasscode,
	}

	var launched []launchRecord
	launcher := LaunchFunc(func(workflowID, workingFolder string) error {
		launched = append(launched, launchRecord{workflowID, workingFolder})
		return nil
	})

	s, err := Open(cfg, launcher, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, &launched
}

// canopyData binds every mandatory caller-visible field of the Canopy
// Cover template
func canopyData() []types.Parameter {
	return []types.Parameter{
		{Command: "soilmask", FieldName: "image", Value: "/uploads/ortho.tif", DataType: "1"},
		{Command: "plotclip", FieldName: "geometries", Value: "/uploads/plots.geojson", DataType: "1"},
	}
}

func canopyTemplate(t *testing.T, s *Store) *types.WorkflowTemplate {
	t.Helper()
	template, err := s.FindTemplate(CanopyCoverTemplateID)
	require.NoError(t, err)
	return template
}

func markFinished(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, workfile.WriteStatus(root, map[string]any{
		types.StatusCompleted: map[string]any{"message": "Completed"},
	}))
}

func TestSubmitCreatesWorkflow(t *testing.T) {
	s, launched := newStore(t)

	result, err := s.Submit(canopyTemplate(t, s), canopyData(), "")
	require.NoError(t, err)

	assert.Len(t, result.ID, 32, "IDs are dash-free hex")
	_, err = time.Parse("2006-01-02T15:04:05", result.StartTS)
	assert.NoError(t, err)

	root, err := s.Dirs().WorkflowRoot(result.ID)
	require.NoError(t, err)
	for _, name := range []string{workfile.QueueFileName, workfile.WorkflowFileName, workfile.ParamsFileName} {
		_, err := os.Stat(filepath.Join(root, name))
		assert.NoError(t, err, "missing %s", name)
	}

	// The persisted template carries the run's ID, not the template's
	var saved types.WorkflowTemplate
	require.NoError(t, workfile.LoadJSONFile(filepath.Join(root, workfile.WorkflowFileName), &saved))
	assert.Equal(t, result.ID, saved.ID)

	require.Len(t, *launched, 1)
	assert.Equal(t, result.ID, (*launched)[0].workflowID)
	assert.Equal(t, root, (*launched)[0].workingFolder)
}

func TestSubmitRejectionLeavesNoDirectory(t *testing.T) {
	s, launched := newStore(t)

	// Only the soilmask image is bound; plotclip geometries is missing
	data := []types.Parameter{
		{Command: "soilmask", FieldName: "image", Value: "/uploads/ortho.tif", DataType: "1"},
	}

	_, err := s.Submit(canopyTemplate(t, s), data, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing mandatory value for geometries")

	entries, err := os.ReadDir(s.Dirs().RunRoot())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.Equal(t, DatabaseFileName, entry.Name(), "rejected submission left %s behind", entry.Name())
	}
	assert.Empty(t, *launched)
}

func TestSecureParametersRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	passcode := "s3cret12345678901"

	data := []types.Parameter{
		{Command: "soilmask", FieldName: "image", Value: "/irods/ortho.tif", DataType: "2",
			Auth: map[string]any{"host": "data.example.org", "port": float64(1247), "user": "alice"}},
		{Command: "plotclip", FieldName: "geometries", Value: "/uploads/plots.geojson", DataType: "1"},
	}

	assert.True(t, HasSecureParameters(data))

	secured, err := s.SecureParameters(data, passcode)
	require.NoError(t, err)

	encrypted, ok := secured[0].Auth.(string)
	require.True(t, ok, "credentials must be encrypted to a string")
	assert.NotContains(t, encrypted, "alice")
	assert.Nil(t, secured[1].Auth, "parameters without credentials are untouched")

	// Securing again is a no-op on already-encrypted blobs
	again, err := s.SecureParameters(secured, passcode)
	require.NoError(t, err)
	assert.Equal(t, encrypted, again[0].Auth)

	unsecured := s.UnsecureParameters(secured, passcode)
	assert.Equal(t, data[0].Auth, unsecured[0].Auth)
}

func TestUnsecureParametersKeepsBlobOnWrongPasscode(t *testing.T) {
	s, _ := newStore(t)

	data := []types.Parameter{
		{Command: "soilmask", FieldName: "image", Auth: map[string]any{"user": "alice"}},
	}
	secured, err := s.SecureParameters(data, "s3cret12345678901")
	require.NoError(t, err)

	unsecured := s.UnsecureParameters(secured, "wrong-passcode")
	assert.Equal(t, secured[0].Auth, unsecured[0].Auth, "a wrong passcode must not destroy the blob")
}

func TestRecoverForgetsMissingDirectories(t *testing.T) {
	s, _ := newStore(t)
	template := canopyTemplate(t, s)

	kept, err := s.Submit(template, canopyData(), "")
	require.NoError(t, err)
	lost, err := s.Submit(template, canopyData(), "")
	require.NoError(t, err)

	require.NoError(t, s.Dirs().RemoveWorkflowRoot(lost.ID))

	recovered, err := s.Recover()
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, kept.ID, recovered[0].ID)
	assert.Equal(t, template.Name, recovered[0].Workflow.Name)
	assert.Equal(t, types.StateNotStarted, recovered[0].Status.Result)

	// The lost workflow is forgotten for good
	_, err = s.Status(lost.ID)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestRecoverIsIdempotent(t *testing.T) {
	s, _ := newStore(t)

	result, err := s.Submit(canopyTemplate(t, s), canopyData(), "")
	require.NoError(t, err)
	root, err := s.Dirs().WorkflowRoot(result.ID)
	require.NoError(t, err)
	markFinished(t, root)

	first, err := s.Recover()
	require.NoError(t, err)
	second, err := s.Recover()
	require.NoError(t, err)
	assert.Equal(t, first, second, "recovering twice must yield the same result")

	require.NoError(t, s.Delete(result.ID))

	gone, err := s.Recover()
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestDeleteRefusesRunningWorkflow(t *testing.T) {
	s, _ := newStore(t)

	result, err := s.Submit(canopyTemplate(t, s), canopyData(), "")
	require.NoError(t, err)
	root, err := s.Dirs().WorkflowRoot(result.ID)
	require.NoError(t, err)

	// No terminal status yet
	assert.ErrorIs(t, s.Delete(result.ID), ErrStillRunning)

	require.NoError(t, workfile.WriteStatus(root, map[string]any{
		types.StatusRunning: map[string]any{"message": "Running soilmask"},
	}))
	assert.ErrorIs(t, s.Delete(result.ID), ErrStillRunning)

	markFinished(t, root)
	require.NoError(t, s.Delete(result.ID))

	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
	_, err = s.Status(result.ID)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestDeleteUnknownWorkflow(t *testing.T) {
	s, _ := newStore(t)
	assert.ErrorIs(t, s.Delete("0123456789abcdef0123456789abcdef"), ErrUnknownWorkflow)
}

func TestArtifactResolvesDeclaredFile(t *testing.T) {
	s, _ := newStore(t)

	result, err := s.Submit(canopyTemplate(t, s), canopyData(), "")
	require.NoError(t, err)
	root, err := s.Dirs().WorkflowRoot(result.ID)
	require.NoError(t, err)

	stepDir := filepath.Join(root, "merge_csv")
	require.NoError(t, os.Mkdir(stepDir, 0o755))
	expected := filepath.Join(stepDir, "canopycover.csv")
	require.NoError(t, os.WriteFile(expected, []byte("plot,cover\n"), 0o644))

	path, err := s.Artifact(result.ID, "merge_csv", "Canopy cover calculation file")
	require.NoError(t, err)
	assert.Equal(t, expected, path)

	_, err = s.Artifact(result.ID, "merge_csv", "No such artifact")
	assert.Error(t, err)

	// Declared results without a filename are not downloadable
	_, err = s.Artifact(result.ID, "plotclip", "Image clipped to plots")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no downloadable file")
}

func TestArtifactRefusesEscapingFilename(t *testing.T) {
	s, _ := newStore(t)

	template := types.WorkflowTemplate{
		Name: "Escape",
		Steps: []types.Step{
			{
				Name:    "Escape",
				Command: "merge_csv",
				Results: []types.StepResult{
					{Name: "out", Type: types.ResultTypeFile, Filename: "../../etc/passwd"},
				},
			},
		},
	}

	result, err := s.Submit(&template, nil, "")
	require.NoError(t, err)

	_, err = s.Artifact(result.ID, "merge_csv", "out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestAddTemplatePersistsAcrossReopen(t *testing.T) {
	cfg := &config.Config{
		WorkingFolder:   t.TempDir(),
		Salt:            config.DefaultSalt,
		DefaultPasscode: config.DefaultPasscode,
	}
	launcher := LaunchFunc(func(string, string) error { return nil })

	s, err := Open(cfg, launcher, nil)
	require.NoError(t, err)

	added, err := s.AddTemplate(types.WorkflowTemplate{
		Name:  "Custom",
		Steps: []types.Step{{Name: "Noop", Command: "merge_csv"}},
	})
	require.NoError(t, err)
	assert.Len(t, added.ID, 32)
	require.NoError(t, s.Close())

	s, err = Open(cfg, launcher, nil)
	require.NoError(t, err)
	defer s.Close()

	found, err := s.FindTemplate(added.ID)
	require.NoError(t, err)
	assert.Equal(t, "Custom", found.Name)

	// Built-ins are still present alongside the custom entry
	assert.Len(t, s.Templates(), 5)
}

func TestDownloadSecuresParameters(t *testing.T) {
	s, _ := newStore(t)
	template := canopyTemplate(t, s)

	data := []types.Parameter{
		{Command: "soilmask", FieldName: "image", Value: "/irods/ortho.tif", DataType: "2",
			Auth: map[string]any{"user": "alice", "password": "hunter2"}},
	}

	save, err := s.Download(template, data, "s3cret12345678901")
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowSaveVersion, save.Version)
	assert.Equal(t, template.Name, save.Name)
	assert.Len(t, save.Steps, len(template.Steps))

	raw, err := json.Marshal(save)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
}

func TestDownloadAllRoundTripsThroughUpload(t *testing.T) {
	s, _ := newStore(t)

	save := s.DownloadAll()
	assert.Equal(t, types.WorkflowDefinitionSaveType, save.Type)
	require.Len(t, save.Workflows, 4)

	raw, err := json.Marshal(save)
	require.NoError(t, err)

	single, definitions, err := ParseUpload(raw)
	require.NoError(t, err)
	assert.Nil(t, single)
	assert.Len(t, definitions, 4)
}

func TestParseUploadSingleWorkflow(t *testing.T) {
	raw, err := json.Marshal(types.WorkflowSave{
		Version:    types.WorkflowSaveVersion,
		Name:       "Canopy Cover",
		Parameters: []types.Parameter{{Command: "soilmask", FieldName: "image", Value: "/a.tif"}},
	})
	require.NoError(t, err)

	single, definitions, err := ParseUpload(raw)
	require.NoError(t, err)
	require.NotNil(t, single)
	assert.Nil(t, definitions)
	assert.Equal(t, "Canopy Cover", single.Name)
}

func TestParseUploadRejectsUnversionedFiles(t *testing.T) {
	_, _, err := ParseUpload([]byte(`{"name": "nope"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")

	_, _, err = ParseUpload([]byte("not json"))
	assert.Error(t, err)
}

func TestBuiltinTemplates(t *testing.T) {
	tests := []struct {
		id       string
		name     string
		head     string
		analysis string
		csv      string
	}{
		{CanopyCoverTemplateID, "Canopy Cover", "soilmask", "canopycover", "canopycover.csv"},
		{RatioCanopyCoverTemplateID, "Ratio Canopy Cover", "soilmask_ratio", "canopycover", "canopycover.csv"},
		{GreennessTemplateID, "Greenness Levels", "soilmask", "greenness_indices", "rgb_plot.csv"},
		{RatioGreennessTemplateID, "Ratio Greenness Levels", "soilmask_ratio", "greenness_indices", "rgb_plot.csv"},
	}

	templates := BuiltinTemplates()
	require.Len(t, templates, len(tests))

	for i, tt := range tests {
		template := templates[i]
		assert.Equal(t, tt.id, template.ID)
		assert.Equal(t, tt.name, template.Name)

		require.Len(t, template.Steps, 5)
		assert.Equal(t, tt.head, template.Steps[0].Command)
		assert.Equal(t, "plotclip", template.Steps[1].Command)
		assert.Equal(t, "find_files2json", template.Steps[2].Command)
		assert.Equal(t, tt.analysis, template.Steps[3].Command)
		assert.Equal(t, "merge_csv", template.Steps[4].Command)
		assert.Equal(t, tt.csv, template.Steps[4].Results[0].Filename)
	}
}
