// Package store owns the workflow lifecycle outside the run itself:
// accepting submissions, tracking known workflows across restarts,
// answering status and message queries, and deleting finished runs. The
// authoritative record of a workflow is its directory; the database only
// remembers which IDs exist so survivors can be found again.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/agdrone/atlana/pkg/config"
	"github.com/agdrone/atlana/pkg/crypt"
	"github.com/agdrone/atlana/pkg/events"
	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/params"
	"github.com/agdrone/atlana/pkg/types"
	"github.com/agdrone/atlana/pkg/workdir"
	"github.com/agdrone/atlana/pkg/workfile"
)

const (
	// DatabaseFileName is the bolt file kept beside the workflow roots
	DatabaseFileName = "atlana.db"

	startTSLayout = "2006-01-02T15:04:05"
)

var (
	workflowsBucket = []byte("workflows")
	templatesBucket = []byte("templates")
)

var (
	// ErrUnknownWorkflow is returned for IDs the store has never seen
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrStillRunning is returned when a delete races a live workflow
	ErrStillRunning = errors.New("Workflow is still running")
	// ErrUnknownTemplate is returned for template IDs the store does not hold
	ErrUnknownTemplate = errors.New("unknown workflow template")
)

// workflowRecord is the per-workflow row kept in the database
type workflowRecord struct {
	ID      string `json:"id"`
	StartTS string `json:"start_ts"`
}

// Launcher starts the detached run for an accepted workflow
type Launcher interface {
	Launch(workflowID, workingFolder string) error
}

// Store manages workflow submissions and their lifecycle
type Store struct {
	cfg      *config.Config
	dirs     *workdir.Manager
	db       *bbolt.DB
	crypt    *crypt.Crypt
	launcher Launcher
	broker   *events.Broker

	mu        sync.RWMutex
	templates []types.WorkflowTemplate
}

// Open creates a store over the configured run area. The broker may be
// nil when nobody listens.
func Open(cfg *config.Config, launcher Launcher, broker *events.Broker) (*Store, error) {
	dirs, err := workdir.NewManager(cfg.RunRoot())
	if err != nil {
		return nil, err
	}

	cryptor, err := crypt.New(cfg.Salt)
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(filepath.Join(dirs.RunRoot(), DatabaseFileName), 0o600,
		&bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow database: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{workflowsBucket, templatesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare workflow database: %w", err)
	}

	s := &Store{
		cfg:       cfg,
		dirs:      dirs,
		db:        db,
		crypt:     cryptor,
		launcher:  launcher,
		broker:    broker,
		templates: BuiltinTemplates(),
	}
	if err := s.loadTemplates(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Dirs exposes the directory manager for callers that resolve paths
func (s *Store) Dirs() *workdir.Manager {
	return s.dirs
}

// NewID returns a fresh workflow identifier
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Submit accepts a workflow: caller parameters are resolved onto the
// template, the workflow directory is populated, and the run is
// launched. Resolution happens before any directory is created, so a
// rejected submission leaves nothing on disk. A non-empty passcode
// decrypts credential blobs carried by the parameters first.
func (s *Store) Submit(template *types.WorkflowTemplate, data []types.Parameter, passcode string) (*types.SubmitResult, error) {
	logger := log.WithComponent("store")

	if passcode != "" {
		data = s.UnsecureParameters(data, passcode)
	}

	id := NewID()
	root, err := s.dirs.WorkflowRoot(id)
	if err != nil {
		return nil, err
	}

	steps, err := params.Resolve(template, data, root)
	if err != nil {
		return nil, err
	}

	if _, err := s.dirs.CreateWorkflowRoot(id); err != nil {
		return nil, err
	}

	saved := *template
	saved.ID = id
	if err := s.writeSubmission(root, &saved, data, steps); err != nil {
		// An aborted submission must not leave a recoverable directory
		if cleanupErr := s.dirs.RemoveWorkflowRoot(id); cleanupErr != nil {
			logger.Error().Err(cleanupErr).Str("workflow", id).
				Msg("failed to clean up aborted submission")
		}
		return nil, err
	}

	record := workflowRecord{ID: id, StartTS: time.Now().Format(startTSLayout)}
	if err := s.putRecord(&record); err != nil {
		return nil, err
	}

	if err := s.launcher.Launch(id, root); err != nil {
		return nil, fmt.Errorf("failed to launch workflow %s: %w", id, err)
	}

	logger.Info().Str("workflow", id).Str("template", template.Name).Msg("workflow submitted")
	return &types.SubmitResult{ID: id, StartTS: record.StartTS}, nil
}

// writeSubmission persists the workflow's inputs and step queue
func (s *Store) writeSubmission(root string, template *types.WorkflowTemplate, data []types.Parameter, steps []types.ResolvedStep) error {
	if err := workfile.SaveJSONFile(filepath.Join(root, workfile.WorkflowFileName), template); err != nil {
		return err
	}
	if err := workfile.SaveJSONFile(filepath.Join(root, workfile.ParamsFileName), data); err != nil {
		return err
	}
	return workfile.SaveJSONFile(filepath.Join(root, workfile.QueueFileName), steps)
}

func (s *Store) putRecord(record *workflowRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(workflowsBucket).Put([]byte(record.ID), raw)
	})
}

func (s *Store) hasRecord(id string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(workflowsBucket).Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

func (s *Store) forgetRecord(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(workflowsBucket).Delete([]byte(id))
	})
}

// Recover returns every known workflow that still has a valid directory
// on disk. IDs whose directory or persisted inputs have gone missing are
// forgotten instead of returned.
func (s *Store) Recover() ([]types.RecoveredWorkflow, error) {
	logger := log.WithComponent("store")

	var ids []string
	if err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(workflowsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	}); err != nil {
		return nil, err
	}

	recovered := make([]types.RecoveredWorkflow, 0, len(ids))
	for _, id := range ids {
		root, err := s.dirs.WorkflowRoot(id)
		if err != nil {
			logger.Warn().Err(err).Str("workflow", id).Msg("forgetting workflow with bad root")
			if err := s.forgetRecord(id); err != nil {
				return nil, err
			}
			continue
		}

		workflow, parameters, err := loadSubmission(root)
		if err != nil {
			logger.Warn().Err(err).Str("workflow", id).Msg("forgetting workflow with missing files")
			if err := s.forgetRecord(id); err != nil {
				return nil, err
			}
			continue
		}

		status, err := s.statusOf(root)
		if err != nil {
			return nil, err
		}

		recovered = append(recovered, types.RecoveredWorkflow{
			ID:       id,
			Params:   parameters,
			Workflow: workflow,
			Status:   status,
		})
	}

	return recovered, nil
}

// loadSubmission reads a workflow's persisted template and parameters
func loadSubmission(root string) (*types.WorkflowTemplate, []types.Parameter, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("workflow directory is missing: %s", root)
	}

	var workflow types.WorkflowTemplate
	if err := workfile.LoadJSONFile(filepath.Join(root, workfile.WorkflowFileName), &workflow); err != nil {
		return nil, nil, err
	}

	var parameters []types.Parameter
	if err := workfile.LoadJSONFile(filepath.Join(root, workfile.ParamsFileName), &parameters); err != nil {
		return nil, nil, err
	}

	return &workflow, parameters, nil
}

// Status returns the run state and latest status snapshot of a workflow
func (s *Store) Status(id string) (*types.WorkflowStatus, error) {
	root, err := s.knownRoot(id)
	if err != nil {
		return nil, err
	}
	return s.statusOf(root)
}

func (s *Store) statusOf(root string) (*types.WorkflowStatus, error) {
	state, err := workfile.RunStateFor(root)
	if err != nil {
		return nil, err
	}
	status, err := workfile.ReadStatus(root)
	if err != nil {
		return nil, err
	}
	return &types.WorkflowStatus{
		Result: state,
		Status: status,
	}, nil
}

// Messages returns the accumulated output and error lines of a workflow
func (s *Store) Messages(id string) (*types.WorkflowMessages, error) {
	root, err := s.knownRoot(id)
	if err != nil {
		return nil, err
	}

	messages, errLines := workfile.ReadMessages(root)
	return &types.WorkflowMessages{Messages: messages, Errors: errLines}, nil
}

// Delete removes a finished workflow and everything it wrote. Deleting
// a workflow that is still running fails with ErrStillRunning.
func (s *Store) Delete(id string) error {
	root, err := s.knownRoot(id)
	if err != nil {
		return err
	}

	state, err := workfile.RunStateFor(root)
	if err != nil {
		return err
	}
	if state != types.StateFinished {
		return ErrStillRunning
	}

	if err := s.dirs.RemoveWorkflowRoot(id); err != nil {
		return err
	}
	if err := s.forgetRecord(id); err != nil {
		return err
	}

	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventWorkflowDeleted, WorkflowID: id})
	}
	logger := log.WithComponent("store")
	logger.Info().Str("workflow", id).Msg("workflow deleted")
	return nil
}

// Artifact resolves the on-disk path of a declared step result. The
// step's command and the result's declared name select the file; the
// returned path is confined to the workflow directory and must exist.
func (s *Store) Artifact(id, stepCommand, artifactName string) (string, error) {
	root, err := s.knownRoot(id)
	if err != nil {
		return "", err
	}

	workflow, _, err := loadSubmission(root)
	if err != nil {
		return "", err
	}

	filename, err := artifactFileName(workflow, stepCommand, artifactName)
	if err != nil {
		return "", err
	}

	path, err := workdir.ConfinePath(root, filepath.Join(stepCommand, filename))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("artifact %s is not available: %w", artifactName, err)
	}

	return path, nil
}

// artifactFileName maps a declared result to the file the step wrote
func artifactFileName(workflow *types.WorkflowTemplate, stepCommand, artifactName string) (string, error) {
	for _, step := range workflow.Steps {
		if step.Command != stepCommand {
			continue
		}
		for _, declared := range step.Results {
			if declared.Name != artifactName {
				continue
			}
			if declared.Filename == "" {
				return "", fmt.Errorf("artifact %s of step %s has no downloadable file", artifactName, stepCommand)
			}
			return declared.Filename, nil
		}
	}
	return "", fmt.Errorf("no artifact %s on step %s", artifactName, stepCommand)
}

// knownRoot resolves a workflow ID the store has a record of
func (s *Store) knownRoot(id string) (string, error) {
	found, err := s.hasRecord(id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	return s.dirs.WorkflowRoot(id)
}
