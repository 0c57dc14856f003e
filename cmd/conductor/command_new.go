package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"conductor/internal/types"
)

type NewCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	openStore storeFactory
}

func NewNewCommand(stdout, stderr io.Writer, openStore storeFactory) *NewCommand {
	return &NewCommand{
		stdout:    stdout,
		stderr:    stderr,
		openStore: openStore,
	}
}

func (c *NewCommand) Run(args []string) error {
	fs := flag.NewFlagSet("new", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	title := fs.String("title", "", "session title")
	repo := fs.String("repo", "", "git repository the session works in")
	branch := fs.String("branch", "", "worktree branch for the session")
	user := fs.String("user", "", "user id owning the session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()

	session, err := repository.Sessions().Create(context.Background(), &types.Session{
		Title:          *title,
		RepoPath:       *repo,
		WorktreeBranch: *branch,
		UserID:         *user,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, session.ID)
	return nil
}
