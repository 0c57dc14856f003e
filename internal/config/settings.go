package config

import (
	"errors"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultRuntimeCommand = "codex"
	defaultRuntimeModel   = "gpt-5.1-codex"
	defaultApproval       = "on-request"
	defaultSandbox        = "workspace-write"
)

type CoreConfig struct {
	Runtime CoreRuntimeConfig `toml:"runtime"`
	Logging CoreLoggingConfig `toml:"logging"`
}

type CoreRuntimeConfig struct {
	Command        string `toml:"command"`
	Model          string `toml:"model"`
	ApprovalPolicy string `toml:"approval_policy"`
	SandboxMode    string `toml:"sandbox_mode"`
	NetworkAccess  *bool  `toml:"network_access"`
}

type CoreLoggingConfig struct {
	Level string `toml:"level"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Runtime: CoreRuntimeConfig{
			Command: defaultRuntimeCommand,
			Model:   defaultRuntimeModel,
		},
		Logging: CoreLoggingConfig{
			Level: "info",
		},
	}
}

func LoadCoreConfig() (CoreConfig, error) {
	path, err := CoreConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	return loadCoreConfigFromPath(path)
}

func (c CoreConfig) RuntimeCommand() string {
	command := strings.TrimSpace(c.Runtime.Command)
	if command == "" {
		return defaultRuntimeCommand
	}
	return command
}

func (c CoreConfig) DefaultModel() string {
	model := strings.TrimSpace(c.Runtime.Model)
	if model == "" {
		return defaultRuntimeModel
	}
	return model
}

func (c CoreConfig) ApprovalPolicy() string {
	policy := strings.TrimSpace(c.Runtime.ApprovalPolicy)
	if policy == "" {
		return defaultApproval
	}
	return policy
}

func (c CoreConfig) SandboxMode() string {
	mode := strings.TrimSpace(c.Runtime.SandboxMode)
	if mode == "" {
		return defaultSandbox
	}
	return mode
}

func (c CoreConfig) NetworkAccess() (bool, bool) {
	if c.Runtime.NetworkAccess == nil {
		return false, false
	}
	return *c.Runtime.NetworkAccess, true
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func loadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	if err := readTOML(path, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}
