package store

import (
	"encoding/json"
	"fmt"
	"reflect"

	"go.etcd.io/bbolt"

	"github.com/agdrone/atlana/pkg/events"
	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/types"
)

// SecureParameters returns a copy of the parameters with every
// credential blob replaced by its encrypted form. Blobs already carried
// as strings are assumed encrypted and left alone.
func (s *Store) SecureParameters(parameters []types.Parameter, passcode string) ([]types.Parameter, error) {
	secured := make([]types.Parameter, len(parameters))
	copy(secured, parameters)

	for i, parameter := range secured {
		if !hasAuth(parameter.Auth) {
			continue
		}
		if _, ok := parameter.Auth.(string); ok {
			continue
		}

		raw, err := json.Marshal(parameter.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize credentials for %s: %w", parameter.FieldName, err)
		}
		encrypted, err := s.crypt.Encrypt(string(raw), passcode)
		if err != nil {
			return nil, err
		}
		secured[i].Auth = encrypted
	}

	return secured, nil
}

// UnsecureParameters returns a copy of the parameters with encrypted
// credential blobs decrypted back into documents. A blob that fails to
// decrypt or parse is kept as-is so a wrong passcode surfaces later as
// an authentication failure rather than silently dropping credentials.
func (s *Store) UnsecureParameters(parameters []types.Parameter, passcode string) []types.Parameter {
	logger := log.WithComponent("store")

	unsecured := make([]types.Parameter, len(parameters))
	copy(unsecured, parameters)

	for i, parameter := range unsecured {
		encrypted, ok := parameter.Auth.(string)
		if !ok || encrypted == "" {
			continue
		}

		plaintext, err := s.crypt.Decrypt(encrypted, passcode)
		if err != nil {
			logger.Warn().Err(err).Str("field", parameter.FieldName).
				Msg("unable to decrypt credentials, keeping original")
			continue
		}

		var auth any
		if err := json.Unmarshal([]byte(plaintext), &auth); err != nil {
			logger.Warn().Err(err).Str("field", parameter.FieldName).
				Msg("decrypted credentials are not valid JSON, keeping original")
			continue
		}
		unsecured[i].Auth = auth
	}

	return unsecured
}

// HasSecureParameters reports whether any parameter carries credentials
func HasSecureParameters(parameters []types.Parameter) bool {
	for _, parameter := range parameters {
		if hasAuth(parameter.Auth) {
			return true
		}
	}
	return false
}

// hasAuth reports whether an auth value is meaningfully present; empty
// strings, empty collections, zeros, and false all count as absent
func hasAuth(auth any) bool {
	if auth == nil {
		return false
	}
	switch value := auth.(type) {
	case string:
		return value != ""
	case bool:
		return value
	case float64:
		return value != 0
	case int:
		return value != 0
	}

	rv := reflect.ValueOf(auth)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

// Download produces the versioned save document for one workflow, with
// credentials encrypted under the passcode
func (s *Store) Download(template *types.WorkflowTemplate, parameters []types.Parameter, passcode string) (*types.WorkflowSave, error) {
	secured, err := s.SecureParameters(parameters, passcode)
	if err != nil {
		return nil, err
	}

	return &types.WorkflowSave{
		Version:     types.WorkflowSaveVersion,
		Name:        template.Name,
		Description: template.Description,
		Steps:       template.Steps,
		Parameters:  secured,
	}, nil
}

// DownloadAll produces the save document holding every known template
func (s *Store) DownloadAll() *types.WorkflowDefinitionSave {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflows := make([]types.WorkflowTemplate, len(s.templates))
	copy(workflows, s.templates)

	return &types.WorkflowDefinitionSave{
		Version:   types.WorkflowDefinitionSaveVersion,
		Type:      types.WorkflowDefinitionSaveType,
		Workflows: workflows,
	}
}

// Templates returns every template the store knows about
func (s *Store) Templates() []types.WorkflowTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates := make([]types.WorkflowTemplate, len(s.templates))
	copy(templates, s.templates)
	return templates
}

// FindTemplate returns the template with the given ID
func (s *Store) FindTemplate(id string) (*types.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.templates {
		if s.templates[i].ID == id {
			found := s.templates[i]
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
}

// AddTemplate registers a new workflow template and persists it. A
// template without an ID is assigned one; a template whose ID is
// already known replaces the earlier entry.
func (s *Store) AddTemplate(template types.WorkflowTemplate) (*types.WorkflowTemplate, error) {
	if template.ID == "" {
		template.ID = NewID()
	}

	raw, err := json.Marshal(template)
	if err != nil {
		return nil, err
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(templatesBucket).Put([]byte(template.ID), raw)
	}); err != nil {
		return nil, err
	}

	s.mu.Lock()
	replaced := false
	for i := range s.templates {
		if s.templates[i].ID == template.ID {
			s.templates[i] = template
			replaced = true
			break
		}
	}
	if !replaced {
		s.templates = append(s.templates, template)
	}
	s.mu.Unlock()

	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventTemplateAdded, Message: template.Name})
	}
	logger := log.WithComponent("store")
	logger.Info().Str("template", template.Name).Str("id", template.ID).
		Msg("workflow template added")
	return &template, nil
}

// loadTemplates merges persisted custom templates over the built-ins
func (s *Store) loadTemplates() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(templatesBucket).ForEach(func(_, raw []byte) error {
			var template types.WorkflowTemplate
			if err := json.Unmarshal(raw, &template); err != nil {
				return fmt.Errorf("failed to parse stored template: %w", err)
			}

			for i := range s.templates {
				if s.templates[i].ID == template.ID {
					s.templates[i] = template
					return nil
				}
			}
			s.templates = append(s.templates, template)
			return nil
		})
	})
}

// ParseUpload parses an uploaded save file. A definition file yields
// the templates it carries; a single-workflow save yields that save.
func ParseUpload(raw []byte) (*types.WorkflowSave, []types.WorkflowTemplate, error) {
	var probe struct {
		Version string `json:"version"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, fmt.Errorf("uploaded file is not valid JSON: %w", err)
	}
	if probe.Version == "" {
		return nil, nil, fmt.Errorf("uploaded file has no version marker")
	}

	if probe.Type == types.WorkflowDefinitionSaveType {
		var save types.WorkflowDefinitionSave
		if err := json.Unmarshal(raw, &save); err != nil {
			return nil, nil, fmt.Errorf("failed to parse workflow definitions: %w", err)
		}
		return nil, save.Workflows, nil
	}

	var save types.WorkflowSave
	if err := json.Unmarshal(raw, &save); err != nil {
		return nil, nil, fmt.Errorf("failed to parse workflow save: %w", err)
	}
	return &save, nil, nil
}
