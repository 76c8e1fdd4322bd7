package result

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agdrone/atlana/pkg/workfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceFolderPath(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		from   string
		to     string
		want   string
		wantOK bool
	}{
		{"simple file", "/output/mask.tif", "/output", "/work/soilmask", "/work/soilmask/mask.tif", true},
		{"nested file", "/output/plots/1/clip.tif", "/output", "/work", "/work/plots/1/clip.tif", true},
		{"exact match", "/output", "/output", "/work", "/work", true},
		{"partial component", "/outputs/mask.tif", "/output", "/work", "", false},
		{"unrelated path", "/input/mask.tif", "/output", "/work", "", false},
		{"trailing slash on from", "/output/mask.tif", "/output/", "/work", "/work/mask.tif", true},
		{"shorter than from", "/out", "/output", "/work", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ReplaceFolderPath(tt.path, tt.from, tt.to)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	res, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestLoadRewritesPaths(t *testing.T) {
	folder := t.TempDir()
	doc := map[string]any{
		"file": []any{
			map[string]any{"path": "/output/odm_orthophoto_mask.tif", "key": "soilmask"},
			map[string]any{"path": "/input/unexpected.tif"},
		},
		"code": 0,
	}
	require.NoError(t, workfile.SaveJSONFile(filepath.Join(folder, ResultFileName), doc))

	res, err := Load(folder)
	require.NoError(t, err)

	files, ok := res["file"].([]any)
	require.True(t, ok)
	require.Len(t, files, 2)

	first := files[0].(map[string]any)
	assert.Equal(t, filepath.Join(folder, "odm_orthophoto_mask.tif"), first["path"])
	assert.Equal(t, "soilmask", first["key"])

	second := files[1].(map[string]any)
	assert.Nil(t, second["path"], "paths outside the output mount are cleared")
}

func TestLoadRewritesContainerPaths(t *testing.T) {
	folder := t.TempDir()
	doc := map[string]any{
		"container": []any{
			map[string]any{
				"name": "plot_1",
				"file": []any{map[string]any{"path": "/output/plot_1/clip.tif"}},
			},
		},
	}
	require.NoError(t, workfile.SaveJSONFile(filepath.Join(folder, ResultFileName), doc))

	res, err := Load(folder)
	require.NoError(t, err)

	containers := res["container"].([]any)
	entry := containers[0].(map[string]any)
	files := entry["file"].([]any)
	file := files[0].(map[string]any)
	assert.Equal(t, filepath.Join(folder, "plot_1", "clip.tif"), file["path"])
}

func TestLoadRecursive(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, workfile.SaveJSONFile(filepath.Join(folder, ResultFileName),
		map[string]any{"file": []any{map[string]any{"path": "/output/top.csv"}}}))

	plotDir := filepath.Join(folder, "plot_1")
	require.NoError(t, os.Mkdir(plotDir, 0o755))
	require.NoError(t, workfile.SaveJSONFile(filepath.Join(plotDir, ResultFileName),
		map[string]any{"file": []any{map[string]any{"path": "/output/canopycover.csv"}}}))

	emptyDir := filepath.Join(folder, "plot_2")
	require.NoError(t, os.Mkdir(emptyDir, 0o755))

	all, err := LoadRecursive(folder)
	require.NoError(t, err)
	require.Len(t, all, 2, "folders without a document contribute nothing")

	topFiles := all[0]["file"].([]any)
	assert.Equal(t, filepath.Join(folder, "top.csv"), topFiles[0].(map[string]any)["path"])

	nestedFiles := all[1]["file"].([]any)
	assert.Equal(t, filepath.Join(plotDir, "canopycover.csv"), nestedFiles[0].(map[string]any)["path"])
}

func TestRepointFileList(t *testing.T) {
	srcDir := t.TempDir()
	workDir := t.TempDir()

	filename := filepath.Join(srcDir, "canopy_cover_files.json")
	require.NoError(t, workfile.SaveJSONFile(filename, map[string]any{
		FileListKey: []any{
			map[string]any{"DIR": "/work/plotclip/plot_1/", "NAME": "clip.tif"},
			map[string]any{"DIR": "/work/plotclip/plot_2/", "NAME": "clip.tif"},
			map[string]any{"DIR": "/elsewhere/plot_3/", "NAME": "clip.tif"},
		},
	}))

	newFile, err := RepointFileList(filename, "/work/plotclip", "/output", workDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "canopy_cover_files.json"), newFile)

	var doc map[string]any
	require.NoError(t, workfile.LoadJSONFile(newFile, &doc))
	files := doc[FileListKey].([]any)
	require.Len(t, files, 3)
	assert.Equal(t, "/output/plot_1", files[0].(map[string]any)["DIR"])
	assert.Equal(t, "/output/plot_2", files[1].(map[string]any)["DIR"])
	assert.Equal(t, "/elsewhere/plot_3/", files[2].(map[string]any)["DIR"], "entries outside the source folder are untouched")
}

func TestRepointFileListGuessesSource(t *testing.T) {
	srcDir := t.TempDir()
	workDir := t.TempDir()

	filename := filepath.Join(srcDir, "files.json")
	require.NoError(t, workfile.SaveJSONFile(filename, map[string]any{
		FileListKey: []any{
			map[string]any{"DIR": "/work/plotclip/plot_1/", "NAME": "clip.tif"},
		},
	}))

	newFile, err := RepointFileList(filename, "", "/output", workDir)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, workfile.LoadJSONFile(newFile, &doc))
	files := doc[FileListKey].([]any)
	assert.Equal(t, "/output/plot_1", files[0].(map[string]any)["DIR"])
}

func TestRepointFileListMissingKey(t *testing.T) {
	srcDir := t.TempDir()
	filename := filepath.Join(srcDir, "files.json")
	require.NoError(t, workfile.SaveJSONFile(filename, map[string]any{"other": true}))

	_, err := RepointFileList(filename, "", "/output", t.TempDir())
	require.Error(t, err)
}
