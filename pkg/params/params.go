// Package params binds caller-supplied values onto workflow template
// fields. Binding happens in two phases: fields visible to the caller
// are resolved when the workflow is submitted, while server-visibility
// fields keep a path expression that is evaluated against the previous
// step's results just before their step runs.
package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/types"
)

// Resolve merges caller-supplied data onto a template's fields and
// returns the resolved step list in template order. A mandatory field
// with no matching datum fails the whole resolution; optional fields
// are silently skipped.
func Resolve(template *types.WorkflowTemplate, data []types.Parameter, workingFolder string) ([]types.ResolvedStep, error) {
	logger := log.WithComponent("params")

	steps := make([]types.ResolvedStep, 0, len(template.Steps))
	for _, step := range template.Steps {
		parameters := make([]types.ResolvedParameter, 0, len(step.Fields))

		for _, field := range step.Fields {
			resolved, found := resolveField(step.Command, &field, data)
			if !found {
				if field.IsMandatory() {
					return nil, fmt.Errorf("missing mandatory value for %s on workflow step %s", field.Name, step.Name)
				}
				logger.Debug().
					Str("step", step.Name).
					Str("field", field.Name).
					Msg("skipping unbound optional field")
				continue
			}
			parameters = append(parameters, resolved)
		}

		steps = append(steps, types.ResolvedStep{
			Step:          step.Name,
			Command:       step.Command,
			Parameters:    parameters,
			WorkingFolder: workingFolder,
			GitRepo:       step.GitRepo,
			GitBranch:     step.GitBranch,
		})
	}

	return steps, nil
}

// resolveField produces the resolved parameter for one field, or
// reports that no datum binds it
func resolveField(command string, field *types.Field, data []types.Parameter) (types.ResolvedParameter, bool) {
	if field.Visibility == types.VisibilityServer {
		// Bound later from the previous step's results
		return types.ResolvedParameter{
			FieldName:       field.Name,
			Type:            field.Type,
			Visibility:      field.Visibility,
			Mandatory:       field.IsMandatory(),
			PrevCommandPath: field.PrevCommandPath,
		}, true
	}

	for _, datum := range data {
		if datum.Command != command || datum.FieldName != field.Name {
			continue
		}
		return types.ResolvedParameter{
			FieldName: field.Name,
			Type:      field.Type,
			Mandatory: field.IsMandatory(),
			Value:     datum.Value,
			DataType:  datum.DataType,
			Auth:      datum.Auth,
		}, true
	}

	return types.ResolvedParameter{}, false
}

// BindPrevResults evaluates each parameter's path expression against
// the previous step's results and fills in its value. A path that does
// not resolve leaves the value nil rather than failing; whether a
// missing value matters is decided when the step stages its inputs.
func BindPrevResults(parameters []types.ResolvedParameter, results any) []types.ResolvedParameter {
	logger := log.WithComponent("params")

	adjusted := make([]types.ResolvedParameter, 0, len(parameters))
	for _, parameter := range parameters {
		current := parameter
		if parameter.PrevCommandPath != "" {
			value, found := EvalPath(results, parameter.PrevCommandPath)
			if !found {
				logger.Warn().
					Str("field", parameter.FieldName).
					Str("path", parameter.PrevCommandPath).
					Msg("previous result value not found")
				value = nil
			}
			current.Value = value
		}
		adjusted = append(adjusted, current)
	}

	return adjusted
}

// EvalPath walks a ':'-separated path through nested documents: each
// part names a key in an object or a zero-based index into an array.
// The second return is false when any part fails to resolve.
func EvalPath(doc any, path string) (any, bool) {
	working := doc
	for _, part := range strings.Split(path, ":") {
		switch node := working.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			working = next
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			working = node[index]
		case []map[string]any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			working = node[index]
		default:
			return nil, false
		}
	}

	return working, true
}

// Values returns the bound values for the named fields in order, with
// nil standing in for any field that is not present
func Values(parameters []types.ResolvedParameter, names ...string) []any {
	found := make(map[string]any, len(parameters))
	for _, parameter := range parameters {
		found[parameter.FieldName] = parameter.Value
	}

	values := make([]any, len(names))
	for i, name := range names {
		values[i] = found[name]
	}
	return values
}

// Lookup returns the bound value for one named field
func Lookup(parameters []types.ResolvedParameter, name string) (any, bool) {
	for _, parameter := range parameters {
		if parameter.FieldName == name {
			return parameter.Value, true
		}
	}
	return nil, false
}
