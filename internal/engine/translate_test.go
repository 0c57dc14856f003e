package engine

import (
	"encoding/json"
	"strings"
	"testing"

	"conductor/internal/codex"
	"conductor/internal/types"
)

func intPtr(v int) *int {
	return &v
}

func TestTranslatorToolLifecycle(t *testing.T) {
	t.Parallel()

	translator := newTurnTranslator()

	step, err := translator.apply(codex.Event{
		Kind:     codex.EventItemStarted,
		ThreadID: "th-1",
		Item: &codex.Item{
			ID:      "call-1",
			Type:    codex.ItemTypeCommandExecution,
			Command: "ls",
		},
	})
	if err != nil {
		t.Fatalf("apply started: %v", err)
	}
	if step.action != actionToolStart {
		t.Fatalf("expected tool start, got %d", step.action)
	}
	if step.tool.Name != "bash" || step.tool.Input["command"] != "ls" {
		t.Fatalf("expected bash tool with command input, got %+v", step.tool)
	}

	step, err = translator.apply(codex.Event{
		Kind:     codex.EventItemCompleted,
		ThreadID: "th-1",
		Item: &codex.Item{
			ID:               "call-1",
			Type:             codex.ItemTypeCommandExecution,
			Command:          "ls",
			AggregatedOutput: "a.txt",
			ExitCode:         intPtr(0),
		},
	})
	if err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	if step.action != actionToolComplete {
		t.Fatalf("expected tool complete, got %d", step.action)
	}
	if len(step.blocks) != 2 {
		t.Fatalf("expected tool_use and tool_result blocks, got %d", len(step.blocks))
	}
	if step.blocks[0].Type != types.BlockToolUse || step.blocks[1].Type != types.BlockToolResult {
		t.Fatalf("expected [tool_use tool_result], got [%s %s]", step.blocks[0].Type, step.blocks[1].Type)
	}
	if step.blocks[1].ToolResult.Content != "a.txt" || step.blocks[1].ToolResult.IsError {
		t.Fatalf("expected successful result with output, got %+v", step.blocks[1].ToolResult)
	}
}

func TestTranslatorCompletionWithoutStartIsSelfContained(t *testing.T) {
	t.Parallel()

	translator := newTurnTranslator()
	step, err := translator.apply(codex.Event{
		Kind:     codex.EventItemCompleted,
		ThreadID: "th-1",
		Item: &codex.Item{
			ID:     "call-9",
			Type:   codex.ItemTypeMCPToolCall,
			Server: "docs",
			Tool:   "search",
			Result: json.RawMessage(`"3 hits"`),
			Status: "completed",
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if step.action != actionToolComplete {
		t.Fatalf("expected tool complete without prior start, got %d", step.action)
	}
	if step.tool.Name != "docs.search" {
		t.Fatalf("expected combined server.tool name, got %q", step.tool.Name)
	}
	if step.tool.Output != "3 hits" {
		t.Fatalf("expected decoded result output, got %q", step.tool.Output)
	}
}

func TestTranslatorFileChangeRendersChangeList(t *testing.T) {
	t.Parallel()

	changes := []codex.FileChange{
		{Path: "a.go", Kind: "update"},
		{Path: "b.go"},
	}
	translator := newTurnTranslator()
	step, err := translator.apply(codex.Event{
		Kind:     codex.EventItemStarted,
		ThreadID: "th-1",
		Item:     &codex.Item{ID: "edit-1", Type: codex.ItemTypeFileChange, Changes: changes},
	})
	if err != nil {
		t.Fatalf("apply started: %v", err)
	}
	if step.action != actionToolStart || step.tool.Name != "edit" {
		t.Fatalf("expected edit tool start, got action=%d name=%q", step.action, step.tool.Name)
	}
	entries, ok := step.tool.Input["changes"].([]map[string]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("expected two change entries, got %+v", step.tool.Input["changes"])
	}
	if entries[0]["path"] != "a.go" || entries[0]["kind"] != "update" {
		t.Fatalf("unexpected first change: %+v", entries[0])
	}
	if _, ok := entries[1]["kind"]; ok {
		t.Fatalf("expected no kind for bare path, got %+v", entries[1])
	}

	step, err = translator.apply(codex.Event{
		Kind:     codex.EventItemCompleted,
		ThreadID: "th-1",
		Item:     &codex.Item{ID: "edit-1", Type: codex.ItemTypeFileChange, Changes: changes, Status: "completed"},
	})
	if err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	if step.action != actionToolComplete {
		t.Fatalf("expected tool complete, got %d", step.action)
	}
	if step.tool.Output != "update a.go\nb.go" {
		t.Fatalf("expected rendered change list, got %q", step.tool.Output)
	}
	if len(step.blocks) != 2 || step.blocks[1].ToolResult.IsError {
		t.Fatalf("expected successful tool_result block, got %+v", step.blocks)
	}
}

func TestTranslatorFinalMessageFiltersFlushedBlocks(t *testing.T) {
	t.Parallel()

	translator := newTurnTranslator()
	events := []codex.Event{
		{Kind: codex.EventTurnStarted, ThreadID: "th-1", TurnID: "turn-1"},
		{Kind: codex.EventItemStarted, ThreadID: "th-1", Item: &codex.Item{ID: "call-1", Type: codex.ItemTypeCommandExecution, Command: "ls"}},
		{Kind: codex.EventItemCompleted, ThreadID: "th-1", Item: &codex.Item{ID: "call-1", Type: codex.ItemTypeCommandExecution, Command: "ls", AggregatedOutput: "a.txt", ExitCode: intPtr(0)}},
		{Kind: codex.EventItemCompleted, ThreadID: "th-1", Item: &codex.Item{ID: "msg-1", Type: codex.ItemTypeAgentMessage, Text: "Done"}},
	}
	for _, event := range events {
		if _, err := translator.apply(event); err != nil {
			t.Fatalf("apply %s: %v", event.Kind, err)
		}
	}
	step, err := translator.apply(codex.Event{
		Kind:     codex.EventTurnCompleted,
		ThreadID: "th-1",
		Usage:    &codex.Usage{InputTokens: 100, OutputTokens: 50},
	})
	if err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	if step.action != actionComplete {
		t.Fatalf("expected completion, got %d", step.action)
	}
	if len(step.result.Content) != 1 || step.result.Content[0].Type != types.BlockText {
		t.Fatalf("expected only the text block to remain, got %+v", step.result.Content)
	}
	if step.result.Content[0].Text != "Done" {
		t.Fatalf("expected text %q, got %q", "Done", step.result.Content[0].Text)
	}
	if len(step.result.ToolUses) != 1 || step.result.ToolUses[0].ID != "call-1" {
		t.Fatalf("expected accumulated tool use, got %+v", step.result.ToolUses)
	}
	if step.result.Usage.TotalTokens != 150 {
		t.Fatalf("expected computed total 150, got %d", step.result.Usage.TotalTokens)
	}
}

func TestTranslatorToolOnlyTurnCompletesEmpty(t *testing.T) {
	t.Parallel()

	translator := newTurnTranslator()
	if _, err := translator.apply(codex.Event{
		Kind:     codex.EventItemCompleted,
		ThreadID: "th-1",
		Item:     &codex.Item{ID: "call-1", Type: codex.ItemTypeCommandExecution, Command: "true", ExitCode: intPtr(0)},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	step, err := translator.apply(codex.Event{Kind: codex.EventTurnCompleted, ThreadID: "th-1"})
	if err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	if len(step.result.Content) != 0 {
		t.Fatalf("expected no remaining content for tool-only turn, got %+v", step.result.Content)
	}
}

func TestTranslatorTurnFailed(t *testing.T) {
	t.Parallel()

	translator := newTurnTranslator()
	_, err := translator.apply(codex.Event{
		Kind:     codex.EventTurnFailed,
		ThreadID: "th-1",
		Failure:  &codex.TurnFailure{Raw: json.RawMessage(`{"message":"rate limited"}`)},
	})
	if err == nil {
		t.Fatalf("expected error for failed turn")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
	if KindOf(err) != ErrorRuntime {
		t.Fatalf("expected runtime kind, got %s", KindOf(err))
	}
}

func TestTranslatorIgnoresNonToolItems(t *testing.T) {
	t.Parallel()

	translator := newTurnTranslator()
	events := []codex.Event{
		{Kind: codex.EventItemStarted, ThreadID: "th-1", Item: &codex.Item{ID: "r-1", Type: codex.ItemTypeReasoning, Text: "thinking"}},
		{Kind: codex.EventItemCompleted, ThreadID: "th-1", Item: &codex.Item{ID: "r-1", Type: codex.ItemTypeReasoning, Text: "thinking"}},
		{Kind: codex.EventItemCompleted, ThreadID: "th-1", Item: &codex.Item{ID: "p-1", Type: codex.ItemTypeTodoList}},
		{Kind: codex.EventKind("turn.delta"), ThreadID: "th-1"},
	}
	for _, event := range events {
		step, err := translator.apply(event)
		if err != nil {
			t.Fatalf("apply %s: %v", event.Kind, err)
		}
		if step.action != actionNone {
			t.Fatalf("expected no action for %s, got %d", event.Kind, step.action)
		}
	}
}

func TestTranslatorStreamsAgentMessageChunks(t *testing.T) {
	t.Parallel()

	translator := newTurnTranslator()
	step, err := translator.apply(codex.Event{
		Kind:     codex.EventItemUpdated,
		ThreadID: "th-1",
		Item:     &codex.Item{ID: "msg-1", Type: codex.ItemTypeAgentMessage, Text: "partial"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if step.action != actionTextChunk || step.chunk != "partial" {
		t.Fatalf("expected text chunk, got action=%d chunk=%q", step.action, step.chunk)
	}

	// Updates to tool items stay silent until completion.
	step, err = translator.apply(codex.Event{
		Kind:     codex.EventItemUpdated,
		ThreadID: "th-1",
		Item:     &codex.Item{ID: "call-1", Type: codex.ItemTypeCommandExecution, Command: "ls"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if step.action != actionNone {
		t.Fatalf("expected no action for tool update, got %d", step.action)
	}
}

func TestTranslatorFailedCommandMarksError(t *testing.T) {
	t.Parallel()

	translator := newTurnTranslator()
	step, err := translator.apply(codex.Event{
		Kind:     codex.EventItemCompleted,
		ThreadID: "th-1",
		Item: &codex.Item{
			ID:               "call-2",
			Type:             codex.ItemTypeCommandExecution,
			Command:          "false",
			AggregatedOutput: "",
			ExitCode:         intPtr(1),
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(step.blocks) != 2 {
		t.Fatalf("expected result block for terminal status, got %d blocks", len(step.blocks))
	}
	result := step.blocks[1].ToolResult
	if !result.IsError {
		t.Fatalf("expected is_error for nonzero exit, got %+v", result)
	}
	if !strings.Contains(result.Content, "exit code 1") {
		t.Fatalf("expected exit note in output, got %q", result.Content)
	}
}
