package main

import (
	"context"
	"io"
	"os"

	"conductor/internal/config"
	"conductor/internal/credentials"
	"conductor/internal/engine"
	"conductor/internal/logging"
	"conductor/internal/store"
	"conductor/internal/worktree"
)

type commandRunner interface {
	Run(args []string) error
}

// promptExecutor is the slice of the engine the run command depends on.
type promptExecutor interface {
	ExecutePrompt(ctx context.Context, req engine.ExecuteRequest, sink engine.Sink) (*engine.Result, error)
	RequestStop(sessionID string)
	Close()
}

type storeFactory func() (store.Repository, error)

type executorFactory func(repo store.Repository) (promptExecutor, error)

type commandWiring struct {
	stdout      io.Writer
	stderr      io.Writer
	openStore   storeFactory
	newExecutor executorFactory
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:      stdout,
		stderr:      stderr,
		openStore:   openDefaultStore,
		newExecutor: newEngineExecutor,
	}
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	return map[string]commandRunner{
		"new":      NewNewCommand(wiring.stdout, wiring.stderr, wiring.openStore),
		"run":      NewRunCommand(wiring.stdout, wiring.stderr, wiring.openStore, wiring.newExecutor),
		"sessions": NewSessionsCommand(wiring.stdout, wiring.stderr, wiring.openStore),
		"tasks":    NewTasksCommand(wiring.stdout, wiring.stderr, wiring.openStore),
		"servers":  NewServersCommand(wiring.stdout, wiring.stderr, wiring.openStore),
		"config":   NewConfigCommand(wiring.stdout, wiring.stderr),
	}
}

func openDefaultStore() (store.Repository, error) {
	if _, err := config.EnsureDataDir(); err != nil {
		return nil, err
	}
	path, err := config.DatabasePath()
	if err != nil {
		return nil, err
	}
	return store.NewBboltRepository(path)
}

func newEngineExecutor(repo store.Repository) (promptExecutor, error) {
	cfg, err := config.LoadCoreConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel()))

	worktreesDir, err := config.WorktreesDir()
	if err != nil {
		return nil, err
	}
	resolver, err := worktree.NewResolver(worktreesDir, logger)
	if err != nil {
		return nil, err
	}
	runtimeHome, err := config.RuntimeHomeDir()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Repository:     repo,
		Credentials:    credentials.NewFileResolver(logger),
		Worktrees:      resolver,
		RuntimeCommand: cfg.RuntimeCommand(),
		RuntimeHome:    runtimeHome,
		DefaultModel:   cfg.DefaultModel(),
		Logger:         logger,
	})
}
