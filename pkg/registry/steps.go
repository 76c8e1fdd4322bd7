package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/params"
	"github.com/agdrone/atlana/pkg/result"
	"github.com/agdrone/atlana/pkg/runner"
)

// Soilmask masks soil pixels out of an orthomosaic
type Soilmask struct{}

// Command implements Handler
func (s *Soilmask) Command() string { return "soilmask" }

// Execute implements Handler
func (s *Soilmask) Execute(ctx context.Context, step *ExecContext) (any, error) {
	imagePath := stringValue(step.Parameters, "image")
	options := stringValue(step.Parameters, "options")

	if err := requireParameters(s.Command(), map[string]string{"image": imagePath}); err != nil {
		return nil, err
	}
	if err := requireFiles(s.Command(), map[string]string{"image": imagePath}); err != nil {
		return nil, err
	}

	argsPath, err := writeArgs(step, map[string]any{
		"SOILMASK_SOURCE_FILE":    containerInputPath(imagePath, step.InputFolder),
		"SOILMASK_MASK_FILE":      maskFileName(imagePath),
		"SOILMASK_WORKING_FOLDER": runner.OutputMountPoint,
		"SOILMASK_OPTIONS":        options,
	})
	if err != nil {
		return nil, err
	}

	if err := runStep(ctx, step, s.Command(), argsPath, nil); err != nil {
		return nil, err
	}
	return result.Load(step.WorkingFolder)
}

// SoilmaskRatio masks soil pixels using a caller-tunable ratio
type SoilmaskRatio struct{}

// Command implements Handler
func (s *SoilmaskRatio) Command() string { return "soilmask_ratio" }

// Execute implements Handler
func (s *SoilmaskRatio) Execute(ctx context.Context, step *ExecContext) (any, error) {
	imagePath := stringValue(step.Parameters, "image")
	options := stringValue(step.Parameters, "options")

	if err := requireParameters(s.Command(), map[string]string{"image": imagePath}); err != nil {
		return nil, err
	}
	if err := requireFiles(s.Command(), map[string]string{"image": imagePath}); err != nil {
		return nil, err
	}

	ratio, found := params.Lookup(step.Parameters, "ratio")
	if !found || ratio == nil {
		ratio = "1.0"
	}
	options += fmt.Sprintf(" --ratio %v", ratio)

	argsPath, err := writeArgs(step, map[string]any{
		"SOILMASK_RATIO_SOURCE_FILE":    containerInputPath(imagePath, step.InputFolder),
		"SOILMASK_RATIO_MASK_FILE":      maskFileName(imagePath),
		"SOILMASK_RATIO_WORKING_FOLDER": runner.OutputMountPoint,
		"SOILMASK_RATIO_OPTIONS":        options,
	})
	if err != nil {
		return nil, err
	}

	if err := runStep(ctx, step, s.Command(), argsPath, nil); err != nil {
		return nil, err
	}
	return result.Load(step.WorkingFolder)
}

// Plotclip clips an orthomosaic into per-plot images
type Plotclip struct{}

// Command implements Handler
func (p *Plotclip) Command() string { return "plotclip" }

// Execute implements Handler
func (p *Plotclip) Execute(ctx context.Context, step *ExecContext) (any, error) {
	imagePath := stringValue(step.Parameters, "image")
	geometries := stringValue(step.Parameters, "geometries")
	options := stringValue(step.Parameters, "options")

	required := map[string]string{"image": imagePath, "geometries": geometries}
	if err := requireParameters(p.Command(), required); err != nil {
		return nil, err
	}
	if err := requireFiles(p.Command(), required); err != nil {
		return nil, err
	}

	argsPath, err := writeArgs(step, map[string]any{
		"PLOTCLIP_SOURCE_FILE":       containerInputPath(imagePath, step.InputFolder),
		"PLOTCLIP_PLOTGEOMETRY_FILE": containerInputPath(geometries, step.InputFolder),
		"PLOTCLIP_WORKING_FOLDER":    runner.OutputMountPoint,
		"PLOTCLIP_OPTIONS":           options,
	})
	if err != nil {
		return nil, err
	}

	if err := runStep(ctx, step, p.Command(), argsPath, nil); err != nil {
		return nil, err
	}

	res, err := result.Load(step.WorkingFolder)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = map[string]any{}
	}
	res["file_name"] = filepath.Base(imagePath)
	res["top_path"] = step.WorkingFolder
	return res, nil
}

// FindFiles2JSON searches a folder tree and emits a files-JSON document
// for the per-plot algorithms to consume
type FindFiles2JSON struct{}

// Command implements Handler
func (f *FindFiles2JSON) Command() string { return "find_files2json" }

// Execute implements Handler
func (f *FindFiles2JSON) Execute(ctx context.Context, step *ExecContext) (any, error) {
	searchName := stringValue(step.Parameters, "file_name")
	searchFolder := stringValue(step.Parameters, "top_path")

	if err := requireParameters(f.Command(), map[string]string{"file_name": searchName, "top_path": searchFolder}); err != nil {
		return nil, err
	}
	if err := requireFolders(f.Command(), map[string]string{"top_path": searchFolder}); err != nil {
		return nil, err
	}

	containerJSONFile := runner.OutputMountPoint + "/found_files.json"
	containerSearchFolder := containerInputPath(searchFolder, step.InputFolder)

	argsPath, err := writeArgs(step, map[string]any{
		"FILES2JSON_SEARCH_NAME":   searchName,
		"FILES2JSON_SEARCH_FOLDER": containerSearchFolder,
		"FILES2JSON_JSON_FILE":     containerJSONFile,
	})
	if err != nil {
		return nil, err
	}

	if err := runStep(ctx, step, f.Command(), argsPath, nil); err != nil {
		return nil, err
	}

	res, err := result.Load(step.WorkingFolder)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = map[string]any{}
	}
	if found, ok := result.ReplaceFolderPath(containerJSONFile, runner.OutputMountPoint, step.WorkingFolder); ok {
		res["found_json_file"] = found
	}
	res["results_search_folder"] = containerSearchFolder
	return res, nil
}

// perPlot is the shared shape of the canopy cover and greenness
// algorithms: both consume a files-JSON document, mount it at a fixed
// SCIF path, and gather per-plot results recursively.
type perPlot struct {
	command    string
	optionsKey string
	mountPoint string
}

func (p *perPlot) execute(ctx context.Context, step *ExecContext) (any, error) {
	jsonFilename := stringValue(step.Parameters, "found_json_file")
	experimentFile := stringValue(step.Parameters, "experimentdata")
	searchFolder := stringValue(step.Parameters, "results_search_folder")
	options := stringValue(step.Parameters, "options")

	if err := requireParameters(p.command, map[string]string{"found_json_file": jsonFilename}); err != nil {
		return nil, err
	}
	if err := requireFiles(p.command, map[string]string{"found_json_file": jsonFilename}); err != nil {
		return nil, err
	}

	// Point the files JSON at our own output folder
	newJSONFilename, err := result.RepointFileList(jsonFilename, searchFolder, runner.OutputMountPoint, step.WorkingFolder)
	if err != nil {
		logger := log.WithComponent("registry")
		logger.Warn().Err(err).
			Str("command", p.command).
			Msg("unable to repoint files JSON, using original")
		newJSONFilename = jsonFilename
	}

	if experimentFile != "" {
		if info, statErr := os.Stat(experimentFile); statErr == nil && !info.IsDir() {
			options += " --metadata " + containerInputPath(experimentFile, step.InputFolder)
		} else {
			warn(step, fmt.Sprintf("Warning: invalid experiment file specified for %s %q", p.command, experimentFile))
		}
	}

	argsPath, err := writeArgs(step, map[string]any{p.optionsKey: options})
	if err != nil {
		return nil, err
	}

	mounts := []runner.Mount{{Source: newJSONFilename, Target: p.mountPoint}}
	if err := runStep(ctx, step, p.command, argsPath, mounts); err != nil {
		return nil, err
	}

	all, err := result.LoadRecursive(step.WorkingFolder)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"results":  all,
		"top_path": step.WorkingFolder,
	}, nil
}

// CanopyCover computes per-plot canopy cover percentages
type CanopyCover struct{}

// Command implements Handler
func (c *CanopyCover) Command() string { return "canopycover" }

// Execute implements Handler
func (c *CanopyCover) Execute(ctx context.Context, step *ExecContext) (any, error) {
	shared := &perPlot{
		command:    c.Command(),
		optionsKey: "CANOPYCOVER_OPTIONS",
		mountPoint: "/scif/apps/src/canopy_cover_files.json",
	}
	return shared.execute(ctx, step)
}

// GreennessIndices computes per-plot greenness index values
type GreennessIndices struct{}

// Command implements Handler
func (g *GreennessIndices) Command() string { return "greenness_indices" }

// Execute implements Handler
func (g *GreennessIndices) Execute(ctx context.Context, step *ExecContext) (any, error) {
	shared := &perPlot{
		command:    g.Command(),
		optionsKey: "GREENNESS_INDICES_OPTIONS",
		mountPoint: "/scif/apps/src/greenness_indices_files.json",
	}
	return shared.execute(ctx, step)
}

// MergeCSV gathers the per-plot CSV outputs into single files
type MergeCSV struct{}

// Command implements Handler
func (m *MergeCSV) Command() string { return "merge_csv" }

// Execute implements Handler
func (m *MergeCSV) Execute(ctx context.Context, step *ExecContext) (any, error) {
	searchFolder := stringValue(step.Parameters, "top_path")
	options := stringValue(step.Parameters, "options")

	if err := requireParameters(m.Command(), map[string]string{"top_path": searchFolder}); err != nil {
		return nil, err
	}
	if err := requireFolders(m.Command(), map[string]string{"top_path": searchFolder}); err != nil {
		return nil, err
	}

	argsPath, err := writeArgs(step, map[string]any{
		"MERGECSV_SOURCE":  containerInputPath(searchFolder, step.InputFolder),
		"MERGECSV_TARGET":  runner.OutputMountPoint,
		"MERGECSV_OPTIONS": options,
	})
	if err != nil {
		return nil, err
	}

	if err := runStep(ctx, step, m.Command(), argsPath, nil); err != nil {
		return nil, err
	}
	return result.Load(step.WorkingFolder)
}
