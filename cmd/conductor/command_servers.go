package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"conductor/internal/types"
)

type ServersCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	openStore storeFactory
}

func NewServersCommand(stdout, stderr io.Writer, openStore storeFactory) *ServersCommand {
	return &ServersCommand{
		stdout:    stdout,
		stderr:    stderr,
		openStore: openStore,
	}
}

func (c *ServersCommand) Run(args []string) error {
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
	case "enable":
		return c.setEnabled(args, true)
	case "disable":
		return c.setEnabled(args, false)
	case "remove":
		return c.remove(args)
	default:
		return fmt.Errorf("unknown servers action: %s", action)
	}
}

func (c *ServersCommand) list(args []string) error {
	fs := flag.NewFlagSet("servers list", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()

	servers, err := repository.CapabilityServers().List(context.Background())
	if err != nil {
		return err
	}
	printServers(c.stdout, servers)
	return nil
}

func (c *ServersCommand) add(args []string) error {
	fs := flag.NewFlagSet("servers add", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	name := fs.String("name", "", "server name")
	command := fs.String("command", "", "launch command (stdio transport)")
	transport := fs.String("transport", "", "transport, defaults to stdio")
	url := fs.String("url", "", "endpoint for non-stdio transports")
	disabled := fs.Bool("disabled", false, "register without enabling")
	var serverArgs stringList
	var envs stringList
	var sessions stringList
	fs.Var(&serverArgs, "arg", "command argument (repeatable)")
	fs.Var(&envs, "env", "environment variable KEY=VALUE (repeatable)")
	fs.Var(&sessions, "session", "limit to a session id (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("server name is required")
	}
	env, err := parseEnvPairs(envs)
	if err != nil {
		return err
	}

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()

	server, err := repository.CapabilityServers().Upsert(context.Background(), &types.CapabilityServer{
		Name:      *name,
		Transport: *transport,
		Command:   *command,
		Args:      serverArgs,
		Env:       env,
		URL:       *url,
		Enabled:   !*disabled,
		Sessions:  sessions,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, server.Name)
	return nil
}

func (c *ServersCommand) setEnabled(args []string, enabled bool) error {
	label := "servers enable"
	if !enabled {
		label = "servers disable"
	}
	fs := flag.NewFlagSet(label, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("%s requires a server name", label)
	}

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()

	if _, err := repository.CapabilityServers().SetEnabled(context.Background(), fs.Arg(0), enabled); err != nil {
		return err
	}
	return nil
}

func (c *ServersCommand) remove(args []string) error {
	fs := flag.NewFlagSet("servers remove", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("servers remove requires a server name")
	}

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()

	return repository.CapabilityServers().Delete(context.Background(), fs.Arg(0))
}
