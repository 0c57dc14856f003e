package main

import (
	"flag"
	"io"

	"conductor/internal/config"

	toml "github.com/pelletier/go-toml/v2"
)

type ConfigCommand struct {
	stdout io.Writer
	stderr io.Writer
}

type configOutput struct {
	ConfigPath    string              `toml:"config_path"`
	DataDir       string              `toml:"data_dir"`
	RuntimeConfig string              `toml:"runtime_config_path"`
	Runtime       runtimeConfigOutput `toml:"runtime"`
	Logging       loggingConfigOutput `toml:"logging"`
}

type runtimeConfigOutput struct {
	Command        string `toml:"command"`
	Model          string `toml:"model"`
	ApprovalPolicy string `toml:"approval_policy"`
	SandboxMode    string `toml:"sandbox_mode"`
	NetworkAccess  *bool  `toml:"network_access,omitempty"`
}

type loggingConfigOutput struct {
	Level string `toml:"level"`
}

func NewConfigCommand(stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		stdout: stdout,
		stderr: stderr,
	}
}

func (c *ConfigCommand) Run(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	defaults := fs.Bool("default", false, "print default config values")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.DefaultCoreConfig()
	if !*defaults {
		loaded, err := config.LoadCoreConfig()
		if err != nil {
			return err
		}
		cfg = loaded
	}

	configPath, err := config.CoreConfigPath()
	if err != nil {
		return err
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	runtimeConfig, err := config.RuntimeConfigPath()
	if err != nil {
		return err
	}

	payload := configOutput{
		ConfigPath:    configPath,
		DataDir:       dataDir,
		RuntimeConfig: runtimeConfig,
		Runtime: runtimeConfigOutput{
			Command:        cfg.RuntimeCommand(),
			Model:          cfg.DefaultModel(),
			ApprovalPolicy: cfg.ApprovalPolicy(),
			SandboxMode:    cfg.SandboxMode(),
		},
		Logging: loggingConfigOutput{Level: cfg.LogLevel()},
	}
	if network, ok := cfg.NetworkAccess(); ok {
		payload.Runtime.NetworkAccess = &network
	}

	encoder := toml.NewEncoder(c.stdout)
	return encoder.Encode(payload)
}
