package store

import "github.com/agdrone/atlana/pkg/types"

// Built-in workflow template IDs
const (
	CanopyCoverTemplateID      = "0456a2ac701e4533a8d0bc7111af081d"
	RatioCanopyCoverTemplateID = "269321226c6240b49fc9b43273d2bd50"
	GreennessTemplateID        = "036ff3cdd785455f9b38098a842c9353"
	RatioGreennessTemplateID   = "d8f7f2a1bd304f01ab584cafd0aaabf6"
)

func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }

// maskStep is the plain threshold-based soil mask head step
func maskStep() types.Step {
	return types.Step{
		Name:        "Mask Soil on Image",
		Description: "Masks soil from a copy of an image",
		Algorithm:   "RGBA File",
		Command:     "soilmask",
		Fields: []types.Field{
			{
				Name:        "image",
				Visibility:  types.VisibilityUI,
				Prompt:      "Image file",
				Description: "Source image to process",
				Type:        types.FieldTypeFile,
				Mandatory:   boolPtr(true),
			},
		},
		Results: []types.StepResult{
			{Name: "Soil masked image", Type: types.ResultTypeFile},
		},
	}
}

// ratioMaskStep is the green-to-red ratio soil mask head step
func ratioMaskStep() types.Step {
	return types.Step{
		Name:        "Mask Soil on Image",
		Description: "Masks soil from a copy of an image using a green-to-red ratio",
		Algorithm:   "RGBA File",
		Command:     "soilmask_ratio",
		Fields: []types.Field{
			{
				Name:        "image",
				Visibility:  types.VisibilityUI,
				Prompt:      "Image",
				Description: "Source image to process",
				Type:        types.FieldTypeFile,
				Mandatory:   boolPtr(true),
			},
			{
				Name:        "ratio",
				Visibility:  types.VisibilityUI,
				Prompt:      "Ratio",
				Description: "Lower bound of green:red ratio for non-soil pixels",
				Type:        types.FieldTypeFloat,
				LowerBound:  floatPtr(0.0),
				UpperBound:  floatPtr(255.0),
				Default:     1.0,
			},
		},
		Results: []types.StepResult{
			{Name: "Ratio soil masked image", Type: types.ResultTypeFile},
		},
	}
}

func plotclipStep() types.Step {
	return types.Step{
		Name:        "Plot Clip",
		Description: "Clips image to plot",
		Algorithm:   "RGBA File",
		Command:     "plotclip",
		Fields: []types.Field{
			{
				Name:        "geometries",
				Visibility:  types.VisibilityUI,
				Prompt:      "GeoJSON file",
				Description: "GeoJSON file containing plot geometries",
				Type:        types.FieldTypeFile,
				Mandatory:   boolPtr(true),
			},
			{
				Name:            "image",
				Visibility:      types.VisibilityServer,
				Description:     "Source image to process",
				Type:            types.FieldTypeFile,
				Mandatory:       boolPtr(true),
				PrevCommandPath: "file:0:path",
			},
		},
		Results: []types.StepResult{
			{Name: "Image clipped to plots", Type: types.ResultTypeFolder},
		},
	}
}

func findFilesStep() types.Step {
	return types.Step{
		Name:    "Find files",
		Command: "find_files2json",
		Fields: []types.Field{
			{
				Name:            "file_name",
				Visibility:      types.VisibilityServer,
				Description:     "File name to find",
				Type:            types.FieldTypeString,
				Mandatory:       boolPtr(true),
				PrevCommandPath: "file_name",
			},
			{
				Name:            "top_path",
				Visibility:      types.VisibilityServer,
				Description:     "Top level folder to search on",
				Type:            types.FieldTypeFolder,
				Mandatory:       boolPtr(true),
				PrevCommandPath: "top_path",
			},
		},
		Results: []types.StepResult{
			{Name: "Found files JSON file", Type: types.ResultTypeFile, Restricted: true},
		},
	}
}

// perPlotStep declares a canopycover or greenness_indices step
func perPlotStep(name, description, command, resultName string) types.Step {
	return types.Step{
		Name:        name,
		Description: description,
		Algorithm:   "RGBA Plot",
		Command:     command,
		Fields: []types.Field{
			{
				Name:        "experimentdata",
				Visibility:  types.VisibilityUI,
				Prompt:      "Experiment file",
				Description: "YAML file containing experiment data",
				Type:        types.FieldTypeFile,
				Mandatory:   boolPtr(false),
			},
			{
				Name:            "found_json_file",
				Visibility:      types.VisibilityServer,
				Description:     "JSON file containing information on files to process",
				Type:            types.FieldTypeFile,
				Mandatory:       boolPtr(true),
				PrevCommandPath: "found_json_file",
			},
			{
				Name:            "results_search_folder",
				Visibility:      types.VisibilityServer,
				Description:     "Search path as it appears in the results",
				Type:            types.FieldTypeString,
				Mandatory:       boolPtr(true),
				PrevCommandPath: "results_search_folder",
			},
		},
		Results: []types.StepResult{
			{Name: resultName, Type: types.ResultTypeFolder},
		},
	}
}

// mergeCSVStep gathers per-plot CSVs into resultFile
func mergeCSVStep(resultName, resultFile string) types.Step {
	return types.Step{
		Name:    "Merge CSV",
		Command: "merge_csv",
		Fields: []types.Field{
			{
				Name:            "top_path",
				Visibility:      types.VisibilityServer,
				Description:     "Top level folder to search on",
				Type:            types.FieldTypeFolder,
				Mandatory:       boolPtr(true),
				PrevCommandPath: "top_path",
			},
		},
		Results: []types.StepResult{
			{Name: resultName, Type: types.ResultTypeFile, Filename: resultFile},
		},
	}
}

// BuiltinTemplates returns the canned workflow definitions the service
// ships with
func BuiltinTemplates() []types.WorkflowTemplate {
	return []types.WorkflowTemplate{
		{
			Name:        "Canopy Cover",
			Description: "Plot level canopy cover calculation",
			ID:          CanopyCoverTemplateID,
			Steps: []types.Step{
				maskStep(),
				plotclipStep(),
				findFilesStep(),
				perPlotStep("Canopy Cover", "Calculate canopy cover on images", "canopycover",
					"Canopy cover calculation per plot"),
				mergeCSVStep("Canopy cover calculation file", "canopycover.csv"),
			},
		},
		{
			Name:        "Ratio Canopy Cover",
			Description: "Plot level canopy cover calculation using a ratio-based soil mask",
			ID:          RatioCanopyCoverTemplateID,
			Steps: []types.Step{
				ratioMaskStep(),
				plotclipStep(),
				findFilesStep(),
				perPlotStep("Canopy Cover", "Calculate canopy cover on images", "canopycover",
					"Canopy cover calculation per plot"),
				mergeCSVStep("Canopy cover calculation file", "canopycover.csv"),
			},
		},
		{
			Name:        "Greenness Levels",
			Description: "Plot level greenness index calculation",
			ID:          GreennessTemplateID,
			Steps: []types.Step{
				maskStep(),
				plotclipStep(),
				findFilesStep(),
				perPlotStep("Greenness Indices", "Calculate greenness indices on images", "greenness_indices",
					"Greenness indices calculation per plot"),
				mergeCSVStep("Calculated greenness indices file", "rgb_plot.csv"),
			},
		},
		{
			Name:        "Ratio Greenness Levels",
			Description: "Plot level greenness index calculation using a ratio-based soil mask",
			ID:          RatioGreennessTemplateID,
			Steps: []types.Step{
				ratioMaskStep(),
				plotclipStep(),
				findFilesStep(),
				perPlotStep("Greenness Indices", "Calculate greenness indices on images", "greenness_indices",
					"Greenness indices calculation per plot"),
				mergeCSVStep("Calculated greenness indices file", "rgb_plot.csv"),
			},
		},
	}
}
