// Package registry is the closed catalogue of algorithm steps. Each
// entry knows how to build its argument JSON from resolved parameters,
// which extra container mounts it needs, and how to shape its results
// for the next step. Adding an algorithm means registering one entry;
// the executor never changes.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agdrone/atlana/pkg/result"
	"github.com/agdrone/atlana/pkg/runner"
	"github.com/agdrone/atlana/pkg/types"
	"github.com/agdrone/atlana/pkg/workfile"
)

// ArgsFileName is the argument JSON written into each step directory
const ArgsFileName = "args.json"

// ExecContext carries everything a step handler needs for one run
type ExecContext struct {
	// Runner executes the container
	Runner runner.Runner
	// Image is the algorithm container image
	Image string
	// Command is the step's command name
	Command string
	// Parameters are the step's fully bound parameters
	Parameters []types.ResolvedParameter
	// InputFolder is the workflow root, mounted at /input
	InputFolder string
	// WorkingFolder is the step directory, mounted at /output
	WorkingFolder string
	// MsgFile and ErrFile receive the container's output
	MsgFile string
	ErrFile string
	// GitRepo and GitBranch are set for git-sourced steps
	GitRepo   string
	GitBranch string
}

// Handler executes one catalogued algorithm and returns its result
// object for the next step's late binding
type Handler interface {
	Command() string
	Execute(ctx context.Context, step *ExecContext) (any, error)
}

// Registry maps command names to their handlers
type Registry struct {
	entries map[string]Handler
}

// Default returns the catalogue of built-in algorithms plus the
// generic git entry
func Default() *Registry {
	r := &Registry{entries: make(map[string]Handler)}
	for _, h := range []Handler{
		&Soilmask{},
		&SoilmaskRatio{},
		&Plotclip{},
		&FindFiles2JSON{},
		&CanopyCover{},
		&GreennessIndices{},
		&MergeCSV{},
	} {
		r.Register(h)
	}
	return r
}

// Register adds a handler under its command name
func (r *Registry) Register(h Handler) {
	r.entries[h.Command()] = h
}

// Lookup returns the handler for a command name
func (r *Registry) Lookup(command string) (Handler, bool) {
	h, ok := r.entries[command]
	return h, ok
}

// Commands returns the registered command names
func (r *Registry) Commands() []string {
	commands := make([]string, 0, len(r.entries))
	for command := range r.entries {
		commands = append(commands, command)
	}
	return commands
}

// stringValue returns a parameter's value as a string, empty when the
// parameter is absent or not text
func stringValue(parameters []types.ResolvedParameter, name string) string {
	for _, parameter := range parameters {
		if parameter.FieldName == name {
			if s, ok := parameter.Value.(string); ok {
				return s
			}
			return ""
		}
	}
	return ""
}

// requireParameters fails when any of the named values is empty
func requireParameters(command string, values map[string]string) error {
	var missing []string
	for name, value := range values {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required parameter(s) %q for %s", strings.Join(missing, ", "), command)
}

// requireFiles fails when any of the named paths is not an existing file
func requireFiles(command string, paths map[string]string) error {
	var invalid []string
	for name, path := range paths {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			invalid = append(invalid, name+"="+path)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	return fmt.Errorf("required parameter(s) %q for %s are missing or not files", strings.Join(invalid, ", "), command)
}

// requireFolders fails when any of the named paths is not a directory
func requireFolders(command string, paths map[string]string) error {
	var invalid []string
	for name, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			invalid = append(invalid, name+"="+path)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	return fmt.Errorf("required parameter(s) %q for %s are missing or not folders", strings.Join(invalid, ", "), command)
}

// containerInputPath rewrites a host path under the workflow root to
// its /input location; paths outside the root pass through unchanged
func containerInputPath(path, inputFolder string) string {
	if replaced, ok := result.ReplaceFolderPath(path, inputFolder, runner.InputMountPoint); ok {
		return replaced
	}
	return path
}

// writeArgs persists the step's argument JSON and returns its path
func writeArgs(step *ExecContext, args map[string]any) (string, error) {
	path := filepath.Join(step.WorkingFolder, ArgsFileName)
	if err := workfile.SaveJSONFile(path, args); err != nil {
		return "", fmt.Errorf("failed to write command arguments: %w", err)
	}
	return path, nil
}

// runStep executes the container and fails on a non-zero exit
func runStep(ctx context.Context, step *ExecContext, command, argsPath string, extraMounts []runner.Mount) error {
	exitCode, err := step.Runner.Run(ctx, runner.RunSpec{
		Image:        step.Image,
		Command:      command,
		InputFolder:  step.InputFolder,
		OutputFolder: step.WorkingFolder,
		ArgsPath:     argsPath,
		ExtraMounts:  extraMounts,
	}, step.MsgFile, step.ErrFile)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("command %s exited with code %d", command, exitCode)
	}
	return nil
}

// maskFileName derives the output file name for the soil mask
// algorithms: the source base name with _mask before the extension
func maskFileName(imagePath string) string {
	base := filepath.Base(imagePath)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_mask" + ext
}

// warn appends a warning line to the step's message log
func warn(step *ExecContext, message string) {
	_, _ = workfile.WriteLines(step.MsgFile, []string{message + "\n"}, true)
}
