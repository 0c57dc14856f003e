package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"conductor/internal/types"
)

type TasksCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	openStore storeFactory
}

func NewTasksCommand(stdout, stderr io.Writer, openStore storeFactory) *TasksCommand {
	return &TasksCommand{
		stdout:    stdout,
		stderr:    stderr,
		openStore: openStore,
	}
}

func (c *TasksCommand) Run(args []string) error {
	action := "list"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		action = args[0]
		args = args[1:]
	}
	switch action {
	case "list":
		return c.list(args)
	case "add":
		return c.add(args)
	case "status":
		return c.status(args)
	default:
		return fmt.Errorf("unknown tasks action: %s", action)
	}
}

func (c *TasksCommand) list(args []string) error {
	fs := flag.NewFlagSet("tasks list", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()

	tasks, err := repository.Tasks().List(context.Background())
	if err != nil {
		return err
	}
	printTasks(c.stdout, tasks)
	return nil
}

func (c *TasksCommand) add(args []string) error {
	fs := flag.NewFlagSet("tasks add", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	title := fs.String("title", "", "task title")
	description := fs.String("description", "", "task description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" {
		return errors.New("task title is required")
	}

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()

	task, err := repository.Tasks().Create(context.Background(), &types.Task{
		Title:       *title,
		Description: *description,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, task.ID)
	return nil
}

func (c *TasksCommand) status(args []string) error {
	fs := flag.NewFlagSet("tasks status", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("tasks status requires a task id and a status")
	}
	status, ok := types.NormalizeTaskStatus(types.TaskStatus(fs.Arg(1)))
	if !ok {
		return fmt.Errorf("unknown task status: %s", fs.Arg(1))
	}

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()

	if _, err := repository.Tasks().Update(context.Background(), fs.Arg(0), types.TaskPatch{Status: &status}); err != nil {
		return err
	}
	return nil
}
