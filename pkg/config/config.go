package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognised by the engine
const (
	EnvWorkingFolder   = "WORKING_FOLDER"
	EnvWorkflowFolder  = "WORKFLOW_FOLDER"
	EnvCodeRepoFolder  = "CODE_REPOSITORY_FOLDER"
	EnvSaltValue       = "SALT_VALUE"
	EnvDefaultPasscode = "DEFAULT_PASSCODE"
	EnvSecretKey       = "SECRET_KEY"
	EnvMoreFolders     = "MORE_FOLDERS"
	EnvUseScifWorkflow = "ATLANA_USE_SCIF_WORKFLOW"
)

// Defaults applied when neither the config file nor the environment
// provides a value
const (
	DefaultSalt     = "default_salt_value"
	DefaultPasscode = "default_passcode_value"
)

// Config holds the engine configuration
type Config struct {
	// WorkingFolder is the run area; each workflow owns a directory
	// beneath <WorkingFolder>/atlana named by its ID
	WorkingFolder string `yaml:"working_folder"`

	// WorkflowFolder holds uploaded workflow files
	WorkflowFolder string `yaml:"workflow_folder"`

	// CodeRepositoryFolder holds git step checkouts
	CodeRepositoryFolder string `yaml:"code_repository_folder"`

	// Salt is the process-wide IV source for credential encryption
	Salt string `yaml:"salt"`

	// DefaultPasscode encrypts credential blobs when the caller
	// supplies none
	DefaultPasscode string `yaml:"default_passcode"`

	// SecretKey signs collaborator sessions; unused by the core but
	// carried so one config file serves both processes
	SecretKey string `yaml:"secret_key"`

	// MoreFolders maps extra browsable root names to host paths
	MoreFolders map[string]string `yaml:"more_folders"`

	// UseScifWorkflow selects the SCIF image layout for the args.json
	// mount point
	UseScifWorkflow bool `yaml:"use_scif_workflow"`

	// Engine selects the container engine: "docker" (default) or
	// "containerd"
	Engine string `yaml:"engine"`

	// ContainerdSocket overrides the containerd socket path
	ContainerdSocket string `yaml:"containerd_socket"`

	// Image overrides the default algorithm container image
	Image string `yaml:"image"`
}

// RunRoot returns the directory workflow roots are created under
func (c *Config) RunRoot() string {
	return filepath.Join(c.WorkingFolder, "atlana")
}

// Load builds a Config from an optional YAML file and the environment.
// Environment values override file values; defaults fill the rest.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvWorkingFolder); v != "" {
		cfg.WorkingFolder = v
	}
	if v := os.Getenv(EnvWorkflowFolder); v != "" {
		cfg.WorkflowFolder = v
	}
	if v := os.Getenv(EnvCodeRepoFolder); v != "" {
		cfg.CodeRepositoryFolder = v
	}
	if v := os.Getenv(EnvSaltValue); v != "" {
		cfg.Salt = v
	}
	if v := os.Getenv(EnvDefaultPasscode); v != "" {
		cfg.DefaultPasscode = v
	}
	if v := os.Getenv(EnvSecretKey); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv(EnvMoreFolders); v != "" {
		folders, err := ParseMoreFolders(v)
		if err == nil {
			cfg.MoreFolders = folders
		}
	}
	if v := os.Getenv(EnvUseScifWorkflow); v != "" {
		cfg.UseScifWorkflow = v != "0" && !strings.EqualFold(v, "false")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.WorkingFolder == "" {
		cfg.WorkingFolder = os.TempDir()
	}
	if cfg.WorkflowFolder == "" {
		cfg.WorkflowFolder = filepath.Join(cfg.WorkingFolder, "atlana-workflows")
	}
	if cfg.CodeRepositoryFolder == "" {
		cfg.CodeRepositoryFolder = filepath.Join(cfg.WorkingFolder, "atlana-repos")
	}
	if cfg.Salt == "" {
		cfg.Salt = DefaultSalt
	}
	if cfg.DefaultPasscode == "" {
		cfg.DefaultPasscode = DefaultPasscode
	}
	if cfg.Engine == "" {
		cfg.Engine = "docker"
	}
}

// ParseMoreFolders parses the semicolon-separated name:path list from
// the MORE_FOLDERS environment variable
func ParseMoreFolders(value string) (map[string]string, error) {
	folders := make(map[string]string)
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, path, found := strings.Cut(entry, ":")
		if !found || name == "" || path == "" {
			return nil, fmt.Errorf("invalid MORE_FOLDERS entry %q: want name:path", entry)
		}
		folders[strings.TrimSpace(name)] = strings.TrimSpace(path)
	}
	return folders, nil
}
