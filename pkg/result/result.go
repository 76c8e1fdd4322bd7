// Package result loads the result.json documents algorithm containers
// leave behind and rewrites their container-side paths back onto the
// host filesystem so later steps can consume them.
package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/workfile"
)

// ResultFileName is the document each container writes into its output
// folder
const ResultFileName = "result.json"

// ContainerOutputFolder is where containers see their output mount
const ContainerOutputFolder = "/output"

// FileListKey is the outer key of a files-JSON document
const FileListKey = "FILE_LIST"

// ReplaceFolderPath swaps the leading fromFolder of path for toFolder.
// Only whole components match: /a/b/c starts /a/b/c/dogs.csv but not
// /a/b/concord. The second return is false when path is not under
// fromFolder.
func ReplaceFolderPath(path, fromFolder, toFolder string) (string, bool) {
	if fromFolder == "" || len(path) < len(fromFolder) {
		return "", false
	}
	if path[:len(fromFolder)] != fromFolder {
		return "", false
	}

	rem := path[len(fromFolder):]
	if rem == "" {
		return toFolder, true
	}
	if rem[0] != '/' && rem[0] != '\\' && fromFolder[len(fromFolder)-1] != '/' && fromFolder[len(fromFolder)-1] != '\\' {
		return "", false
	}
	if rem[0] == '/' || rem[0] == '\\' {
		rem = rem[1:]
	}

	return filepath.Join(toFolder, rem), true
}

// Load returns the result document from a step's working folder with
// every container-side output path rewritten to live under that folder.
// A missing document yields nil without an error.
func Load(workingFolder string) (map[string]any, error) {
	resultsPath := filepath.Join(workingFolder, ResultFileName)
	if _, err := os.Stat(resultsPath); os.IsNotExist(err) {
		return nil, nil
	}

	raw, err := os.ReadFile(resultsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file %s: %w", resultsPath, err)
	}

	var res map[string]any
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode results file %s: %w", resultsPath, err)
	}

	if files, ok := res["file"].([]any); ok {
		res["file"] = rewriteFilePaths(files, workingFolder)
	}
	if containers, ok := res["container"].([]any); ok {
		for _, entry := range containers {
			doc, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if files, ok := doc["file"].([]any); ok {
				doc["file"] = rewriteFilePaths(files, workingFolder)
			}
		}
	}

	return res, nil
}

// rewriteFilePaths maps each entry's path from the container's output
// mount onto the host working folder. A path outside the mount is
// cleared rather than left pointing into the container.
func rewriteFilePaths(files []any, workingFolder string) []any {
	mapped := make([]any, 0, len(files))
	for _, entry := range files {
		doc, ok := entry.(map[string]any)
		if !ok {
			mapped = append(mapped, entry)
			continue
		}
		if path, ok := doc["path"].(string); ok {
			if replaced, ok := ReplaceFolderPath(path, ContainerOutputFolder, workingFolder); ok {
				doc["path"] = replaced
			} else {
				doc["path"] = nil
			}
		}
		mapped = append(mapped, doc)
	}
	return mapped
}

// LoadRecursive gathers the result documents from a working folder and
// every folder beneath it. Folders without a document contribute
// nothing.
func LoadRecursive(workingFolder string) ([]map[string]any, error) {
	var all []map[string]any

	res, err := Load(workingFolder)
	if err != nil {
		return nil, err
	}
	if len(res) > 0 {
		all = append(all, res)
	}

	entries, err := os.ReadDir(workingFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to read results folder %s: %w", workingFolder, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		nested, err := LoadRecursive(filepath.Join(workingFolder, entry.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, nested...)
	}

	return all, nil
}

// RepointFileList rewrites the DIR entry of every file in a files-JSON
// document from sourceFolder to targetFolder and writes the adjusted
// document into workingFolder under the original base name. An empty
// sourceFolder is guessed from the first entry's parent folder.
func RepointFileList(filename, sourceFolder, targetFolder, workingFolder string) (string, error) {
	logger := log.WithComponent("result")

	if info, err := os.Stat(filename); err != nil || info.IsDir() {
		return "", fmt.Errorf("invalid file specified to repoint files JSON %q", filename)
	}
	if info, err := os.Stat(workingFolder); err != nil || !info.IsDir() {
		return "", fmt.Errorf("invalid working folder specified to repoint files JSON %q", workingFolder)
	}

	var doc map[string]any
	if err := workfile.LoadJSONFile(filename, &doc); err != nil {
		return "", fmt.Errorf("unable to load JSON when repointing files JSON %q: %w", filename, err)
	}

	rawList, ok := doc[FileListKey]
	if !ok {
		return "", fmt.Errorf("JSON missing %s key when repointing files JSON %q", FileListKey, filename)
	}
	allFiles, ok := rawList.([]any)
	if !ok {
		return "", fmt.Errorf("%s value is not a list of files for repointing files JSON %q", FileListKey, filename)
	}

	if sourceFolder == "" && len(allFiles) > 0 {
		first, ok := allFiles[0].(map[string]any)
		if !ok {
			return "", fmt.Errorf("unknown entry format when repointing files JSON %q", filename)
		}
		dir, _ := first["DIR"].(string)
		for len(dir) > 0 && (dir[len(dir)-1] == '/' || dir[len(dir)-1] == '\\') {
			dir = dir[:len(dir)-1]
		}
		sourceFolder = filepath.Dir(dir)
		logger.Debug().Str("source", sourceFolder).Msg("guessed source folder for files JSON")
	}

	newFiles := make([]any, 0, len(allFiles))
	for _, entry := range allFiles {
		file, ok := entry.(map[string]any)
		if !ok {
			newFiles = append(newFiles, entry)
			continue
		}
		adjusted := make(map[string]any, len(file))
		for key, value := range file {
			adjusted[key] = value
		}
		if dir, ok := adjusted["DIR"].(string); ok {
			if replaced, ok := ReplaceFolderPath(dir, sourceFolder, targetFolder); ok {
				adjusted["DIR"] = replaced
			}
		}
		newFiles = append(newFiles, adjusted)
	}

	newFile := filepath.Join(workingFolder, filepath.Base(filename))
	if err := workfile.SaveJSONFile(newFile, map[string]any{FileListKey: newFiles}); err != nil {
		return "", fmt.Errorf("failed to write repointed files JSON: %w", err)
	}

	return newFile, nil
}
