package types

// FieldType defines the kind of value a template field accepts
type FieldType string

const (
	FieldTypeFile   FieldType = "file"
	FieldTypeFolder FieldType = "folder"
	FieldTypeString FieldType = "string"
	FieldTypeFloat  FieldType = "float"
	FieldTypeInt    FieldType = "int"
)

// Visibility defines who supplies a field's value
type Visibility string

const (
	// VisibilityUI fields are bound from caller-supplied parameters
	VisibilityUI Visibility = "ui"
	// VisibilityServer fields are bound from a previous step's results
	VisibilityServer Visibility = "server"
)

// ResultType defines the kind of artifact a step declares
type ResultType string

const (
	ResultTypeFile   ResultType = "file"
	ResultTypeFolder ResultType = "folder"
)

// Field declares one input of a workflow step
type Field struct {
	Name        string     `json:"name"`
	Visibility  Visibility `json:"visibility"`
	Prompt      string     `json:"prompt,omitempty"`
	Description string     `json:"description,omitempty"`
	Type        FieldType  `json:"type"`
	// Mandatory defaults to true when absent from a template
	Mandatory *bool `json:"mandatory,omitempty"`
	// PrevCommandPath is a ':'-separated path into the previous step's
	// results; only meaningful for server-visibility fields
	PrevCommandPath string   `json:"prev_command_path,omitempty"`
	LowerBound      *float64 `json:"lowerbound,omitempty"`
	UpperBound      *float64 `json:"upperbound,omitempty"`
	Default         any      `json:"default,omitempty"`
}

// IsMandatory reports whether the field must be bound before execution
func (f *Field) IsMandatory() bool {
	return f.Mandatory == nil || *f.Mandatory
}

// StepResult declares one artifact a step produces
type StepResult struct {
	Name       string     `json:"name"`
	Type       ResultType `json:"type"`
	Restricted bool       `json:"restricted"`
	Filename   string     `json:"filename,omitempty"`
}

// Step is one entry in a workflow template
type Step struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Algorithm   string       `json:"algorithm,omitempty"`
	Command     string       `json:"command"`
	GitRepo     string       `json:"git_repo,omitempty"`
	GitBranch   string       `json:"git_branch,omitempty"`
	Fields      []Field      `json:"fields,omitempty"`
	Results     []StepResult `json:"results,omitempty"`
}

// WorkflowTemplate is a named, ordered list of steps
type WorkflowTemplate struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ID          string `json:"id,omitempty"`
	Steps       []Step `json:"steps"`
}

// Parameter is one caller-supplied binding for a (command, field) pair.
// File-typed bindings carry a DataType selecting the staging handler and
// optionally an Auth credential blob. When parameters are serialised to
// disk the Auth member may instead be an encrypted string; it is kept as
// a raw value here so both forms round-trip.
type Parameter struct {
	Command   string `json:"command,omitempty"`
	FieldName string `json:"field_name"`
	Value     any    `json:"value,omitempty"`
	DataType  string `json:"data_type,omitempty"`
	Auth      any    `json:"auth,omitempty"`
}

// ResolvedParameter is a field declaration merged with its bound value.
// Server-visibility parameters keep their path expression and receive a
// value only during late binding, just before the owning step runs.
type ResolvedParameter struct {
	FieldName       string     `json:"field_name"`
	Type            FieldType  `json:"type"`
	Visibility      Visibility `json:"visibility,omitempty"`
	Mandatory       bool       `json:"mandatory"`
	PrevCommandPath string     `json:"prev_command_path,omitempty"`
	Value           any        `json:"value,omitempty"`
	DataType        string     `json:"data_type,omitempty"`
	Auth            any        `json:"auth,omitempty"`
}

// ResolvedStep is a step whose fields have been bound and which carries
// its workflow's working folder. The queue file is a JSON array of these.
type ResolvedStep struct {
	Step          string              `json:"step"`
	Command       string              `json:"command"`
	Parameters    []ResolvedParameter `json:"parameters"`
	WorkingFolder string              `json:"working_folder"`
	GitRepo       string              `json:"git_repo,omitempty"`
	GitBranch     string              `json:"git_branch,omitempty"`
}

// Status snapshot keys; the status file holds exactly one of these as
// the outer key of a single JSON object
const (
	StatusStarting  = "starting"
	StatusRunning   = "running"
	StatusCompleted = "completion"
)

// RunState is the reader-visible lifecycle of a workflow
type RunState int

const (
	StateNotStarted RunState = iota
	StateRunning
	StateFinished
)

// WorkflowStatus is what the status reader returns to callers
type WorkflowStatus struct {
	Result RunState `json:"result"`
	Status any      `json:"status,omitempty"`
}

// WorkflowMessages holds the cumulative stdout and stderr of a workflow
type WorkflowMessages struct {
	Messages []string `json:"messages"`
	Errors   []string `json:"errors"`
}

// SubmitResult is returned when a workflow is accepted
type SubmitResult struct {
	ID      string `json:"id"`
	StartTS string `json:"start_ts"`
}

// RecoveredWorkflow pairs a surviving workflow with its persisted inputs
type RecoveredWorkflow struct {
	ID       string            `json:"id"`
	Params   []Parameter       `json:"params"`
	Workflow *WorkflowTemplate `json:"workflow"`
	Status   *WorkflowStatus   `json:"status"`
}

// Save-file versions and markers
const (
	WorkflowSaveVersion           = "1.0"
	WorkflowDefinitionSaveVersion = "1.0"
	WorkflowDefinitionSaveType    = "workflow definition"
)

// WorkflowSave is the versioned document produced by Download
type WorkflowSave struct {
	Version     string      `json:"version"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Steps       []Step      `json:"steps"`
	Parameters  []Parameter `json:"parameters"`
}

// WorkflowDefinitionSave is the document produced by Download-all
type WorkflowDefinitionSave struct {
	Version   string             `json:"version"`
	Type      string             `json:"type"`
	Workflows []WorkflowTemplate `json:"workflows"`
}
