package main

import (
	"fmt"
	"os"
)

const usageText = `conductor drives coding-agent sessions and keeps their transcripts.

Usage:
  conductor <command> [flags]

Commands:
  new       create a session
  run       execute a prompt in a session
  sessions  list sessions
  tasks     list or add tasks
  servers   manage capability servers
  config    print effective configuration
  help      show help

Flags:
  -h, --help   show help

Examples:
  conductor new --title "fix parser" --repo ~/src/parser
  conductor run <session-id> "List files in the repo"
  conductor run <session-id> --approval never --sandbox read-only "Audit deps"
  conductor servers add --name docs --command docs-mcp
  conductor config
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	}

	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}
