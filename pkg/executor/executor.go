// Package executor drives one workflow to completion: it consumes the
// persisted step queue left-to-right, prepares each step's directory
// and parameters, stages input files, runs the container, and threads
// the mapped results into the next step. Progress is externalised
// through the status file; observers never talk to the executor
// directly.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agdrone/atlana/pkg/events"
	"github.com/agdrone/atlana/pkg/handlers"
	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/metrics"
	"github.com/agdrone/atlana/pkg/params"
	"github.com/agdrone/atlana/pkg/registry"
	"github.com/agdrone/atlana/pkg/runner"
	"github.com/agdrone/atlana/pkg/types"
	"github.com/agdrone/atlana/pkg/workdir"
	"github.com/agdrone/atlana/pkg/workfile"
)

// Executor runs workflows from their persisted queues
type Executor struct {
	registry *registry.Registry
	runner   runner.Runner
	handlers handlers.Registry
	broker   *events.Broker
	image    string
}

// New creates an executor. The broker may be nil when nobody listens.
func New(reg *registry.Registry, run runner.Runner, fileHandlers handlers.Registry, broker *events.Broker, image string) *Executor {
	return &Executor{
		registry: reg,
		runner:   run,
		handlers: fileHandlers,
		broker:   broker,
		image:    image,
	}
}

// Run executes the workflow whose queue lives in workingFolder. The
// returned error reflects executor-level failures only; step failures
// are terminal states recorded in the status file, not errors.
func (e *Executor) Run(ctx context.Context, workingFolder string) error {
	workflowID := filepath.Base(workingFolder)
	logger := log.WithWorkflowID(workflowID)

	// Clean up from a previous run if necessary
	for _, name := range []string{workfile.StatusFileName, workfile.StdoutFileName, workfile.StderrFileName} {
		if err := os.Remove(filepath.Join(workingFolder, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clean %s: %w", name, err)
		}
	}

	if err := workfile.WriteStatus(workingFolder, map[string]any{
		types.StatusStarting: map[string]any{"message": "Preparing workflow"},
	}); err != nil {
		return err
	}

	metrics.WorkflowsStarted.Inc()
	metrics.WorkflowsActive.Inc()
	defer metrics.WorkflowsActive.Dec()
	e.publish(events.EventWorkflowStarted, workflowID, "", "")

	var queue []types.ResolvedStep
	if err := workfile.LoadJSONFile(filepath.Join(workingFolder, workfile.QueueFileName), &queue); err != nil {
		logger.Error().Err(err).Msg("unable to load workflow queue")
		e.finish(workingFolder, workflowID, map[string]any{"error": "Unable to start workflow"})
		return nil
	}

	errFile := filepath.Join(workingFolder, workfile.StderrFileName)

	var prevResults any
	for i, step := range queue {
		stepLogger := log.WithStep(workflowID, step.Command)
		stepLogger.Info().Int("index", i).Str("step", step.Step).Msg("running workflow step")

		if err := workfile.WriteStatus(workingFolder, map[string]any{
			types.StatusRunning: map[string]any{"message": "Running " + step.Command},
		}); err != nil {
			return err
		}

		handler, known := e.lookupHandler(&step)
		if !known {
			message := fmt.Sprintf("Unknown command %q", step.Command)
			stepLogger.Error().Msg("unknown workflow command")
			workfile.WriteError(errFile, message, nil)
			e.finish(workingFolder, workflowID, map[string]any{"error": message})
			return nil
		}

		started := time.Now()
		e.publish(events.EventStepStarted, workflowID, step.Command, "")

		results, err := e.runStep(ctx, workingFolder, &step, handler, prevResults)
		metrics.StepDuration.WithLabelValues(step.Command).Observe(time.Since(started).Seconds())
		if err != nil {
			stepLogger.Error().Err(err).Msg("workflow step failed")
			metrics.StepsExecuted.WithLabelValues(step.Command, "error").Inc()
			e.publish(events.EventStepFailed, workflowID, step.Command, err.Error())
			workfile.WriteError(errFile, fmt.Sprintf("Step %s failed", step.Command), err)
			e.finish(workingFolder, workflowID, map[string]any{"error": err.Error()})
			return nil
		}

		metrics.StepsExecuted.WithLabelValues(step.Command, "success").Inc()
		e.publish(events.EventStepCompleted, workflowID, step.Command, "")
		prevResults = results
	}

	e.finish(workingFolder, workflowID, map[string]any{"message": "Completed"})
	return nil
}

// lookupHandler selects the step's handler; a step carrying a git
// repository bypasses the built-in catalogue
func (e *Executor) lookupHandler(step *types.ResolvedStep) (registry.Handler, bool) {
	if step.GitRepo != "" {
		return &registry.Git{}, true
	}
	return e.registry.Lookup(step.Command)
}

// runStep prepares and executes a single step
func (e *Executor) runStep(ctx context.Context, workingFolder string, step *types.ResolvedStep, handler registry.Handler, prevResults any) (any, error) {
	stepDir, err := workdir.SetupStepDir(workingFolder, step.Command)
	if err != nil {
		return nil, err
	}

	bound := params.BindPrevResults(step.Parameters, prevResults)

	staged, err := e.stageInputs(step, bound, stepDir)
	if err != nil {
		return nil, err
	}

	return handler.Execute(ctx, &registry.ExecContext{
		Runner:        e.runner,
		Image:         e.image,
		Command:       step.Command,
		Parameters:    staged,
		InputFolder:   workingFolder,
		WorkingFolder: stepDir,
		MsgFile:       filepath.Join(workingFolder, workfile.StdoutFileName),
		ErrFile:       filepath.Join(workingFolder, workfile.StderrFileName),
		GitRepo:       step.GitRepo,
		GitBranch:     step.GitBranch,
	})
}

// stageInputs copies handler-tagged file parameters into the step
// directory and rebinds their values to the staged paths. Missing
// optional files are dropped; missing mandatory files fail the step.
func (e *Executor) stageInputs(step *types.ResolvedStep, parameters []types.ResolvedParameter, stepDir string) ([]types.ResolvedParameter, error) {
	logger := log.WithComponent("executor")

	staged := make([]types.ResolvedParameter, 0, len(parameters))
	for _, parameter := range parameters {
		if parameter.Visibility == types.VisibilityServer || parameter.Type != types.FieldTypeFile || parameter.DataType == "" {
			staged = append(staged, parameter)
			continue
		}

		source, _ := parameter.Value.(string)
		if source == "" {
			if !parameter.Mandatory {
				logger.Debug().Str("field", parameter.FieldName).Msg("skipping missing optional file")
				continue
			}
			return nil, fmt.Errorf("missing mandatory file for %s on step %s", parameter.FieldName, step.Step)
		}

		handler, ok := e.handlers.Lookup(parameter.DataType)
		if !ok {
			return nil, fmt.Errorf("no file handler for data type %q on field %s", parameter.DataType, parameter.FieldName)
		}

		destPath := filepath.Join(stepDir, filepath.Base(source))
		if err := handler.Get(parameter.Auth, source, destPath); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", parameter.FieldName, err)
		}

		parameter.Value = destPath
		staged = append(staged, parameter)
	}

	return staged, nil
}

// finish writes the terminal status and completion accounting
func (e *Executor) finish(workingFolder, workflowID string, completion map[string]any) {
	if err := workfile.WriteStatus(workingFolder, map[string]any{types.StatusCompleted: completion}); err != nil {
		logger := log.WithWorkflowID(workflowID)
		logger.Error().Err(err).Msg("failed to write final status")
	}

	outcome := "success"
	eventType := events.EventWorkflowCompleted
	message, _ := completion["message"].(string)
	if errText, ok := completion["error"].(string); ok {
		outcome = "error"
		eventType = events.EventWorkflowFailed
		message = errText
	}
	metrics.WorkflowsCompleted.WithLabelValues(outcome).Inc()
	e.publish(eventType, workflowID, "", message)
}

func (e *Executor) publish(eventType events.EventType, workflowID, command, message string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{
		Type:       eventType,
		WorkflowID: workflowID,
		Command:    command,
		Message:    message,
	})
}
