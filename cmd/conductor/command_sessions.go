package main

import (
	"context"
	"flag"
	"io"
)

type SessionsCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	openStore storeFactory
}

func NewSessionsCommand(stdout, stderr io.Writer, openStore storeFactory) *SessionsCommand {
	return &SessionsCommand{
		stdout:    stdout,
		stderr:    stderr,
		openStore: openStore,
	}
}

func (c *SessionsCommand) Run(args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()

	sessions, err := repository.Sessions().List(context.Background())
	if err != nil {
		return err
	}
	printSessions(c.stdout, sessions)
	return nil
}
