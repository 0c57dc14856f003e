package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"conductor/internal/engine"
	"conductor/internal/types"
)

type RunCommand struct {
	stdout      io.Writer
	stderr      io.Writer
	openStore   storeFactory
	newExecutor executorFactory
}

func NewRunCommand(stdout, stderr io.Writer, openStore storeFactory, newExecutor executorFactory) *RunCommand {
	return &RunCommand{
		stdout:      stdout,
		stderr:      stderr,
		openStore:   openStore,
		newExecutor: newExecutor,
	}
}

func (c *RunCommand) Run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	task := fs.String("task", "", "task id to record the run under")
	approval := fs.String("approval", "", "approval policy override (untrusted|on-request|on-failure|never)")
	sandbox := fs.String("sandbox", "", "sandbox mode override (read-only|workspace-write|danger-full-access)")
	network := fs.Bool("network", false, "allow network access inside the sandbox")
	plain := fs.Bool("plain", false, "print the final message without markdown rendering")
	width := fs.Int("width", 100, "render width for the final message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("run requires a session id and a prompt")
	}
	sessionID := fs.Arg(0)
	prompt := strings.Join(fs.Args()[1:], " ")

	repository, err := c.openStore()
	if err != nil {
		return err
	}
	defer repository.Close()
	executor, err := c.newExecutor(repository)
	if err != nil {
		return err
	}
	defer executor.Close()

	req := engine.ExecuteRequest{
		SessionID: sessionID,
		Prompt:    prompt,
		TaskID:    *task,
	}
	if *approval != "" || *sandbox != "" || *network {
		req.Permissions = &types.PermissionConfig{
			ApprovalPolicy: types.ApprovalPolicy(*approval),
			SandboxMode:    types.SandboxMode(*sandbox),
			NetworkAccess:  *network,
		}
	}

	// Ctrl-C asks the engine to stop after the event in flight; a stopped
	// turn still returns normally with whatever was persisted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			fmt.Fprintln(c.stderr, faintStyle.Render("stopping after the current event..."))
			executor.RequestStop(sessionID)
		}
	}()

	sink := newRunSink(c.stdout)
	result, err := executor.ExecutePrompt(context.Background(), req, sink)
	if err != nil {
		return err
	}
	if result.Cancelled {
		fmt.Fprintln(c.stdout, faintStyle.Render("turn stopped"))
		return nil
	}

	if text := sink.finalText(); text != "" {
		if *plain {
			fmt.Fprintln(c.stdout, text)
		} else {
			fmt.Fprintln(c.stdout, renderMarkdown(text, *width))
		}
	}
	fmt.Fprintln(c.stdout, faintStyle.Render(fmt.Sprintf(
		"model %s · tokens %d in / %d out / %d total",
		result.Model,
		result.Usage.InputTokens,
		result.Usage.OutputTokens,
		result.Usage.TotalTokens,
	)))
	return nil
}

// runSink streams tool activity as it happens and captures the final text
// for rendering after the turn completes.
type runSink struct {
	out   io.Writer
	final engine.TurnResult
}

func newRunSink(out io.Writer) *runSink {
	return &runSink{out: out}
}

func (s *runSink) OnToolStart(event engine.ToolEvent) {
	fmt.Fprintln(s.out, toolStartStyle.Render("» "+toolSummary(event)))
}

func (s *runSink) OnToolComplete(event engine.ToolEvent) {
	style := toolDoneStyle
	marker := "✓"
	switch event.Status {
	case "failed", "error", "declined":
		style = toolFailStyle
		marker = "✗"
	}
	fmt.Fprintln(s.out, style.Render(marker+" "+toolSummary(event)))
}

func (s *runSink) OnTextChunk(text string) {}

func (s *runSink) OnComplete(result engine.TurnResult) {
	s.final = result
}

func (s *runSink) OnError(err error) {}

func (s *runSink) finalText() string {
	parts := make([]string, 0, len(s.final.Content))
	for _, block := range s.final.Content {
		if block.Type == types.BlockText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func toolSummary(event engine.ToolEvent) string {
	switch event.Name {
	case "bash":
		if command, ok := event.Input["command"].(string); ok && command != "" {
			return "bash: " + command
		}
	case "edit":
		if changes, ok := event.Input["changes"].([]map[string]any); ok && len(changes) > 0 {
			paths := make([]string, 0, len(changes))
			for _, change := range changes {
				if path, ok := change["path"].(string); ok && path != "" {
					paths = append(paths, path)
				}
			}
			if len(paths) > 0 {
				return "edit: " + strings.Join(paths, ", ")
			}
		}
	case "web_search":
		if query, ok := event.Input["query"].(string); ok && query != "" {
			return "web_search: " + query
		}
	}
	return event.Name
}
