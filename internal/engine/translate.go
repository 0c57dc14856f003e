package engine

import (
	"fmt"
	"strings"

	"conductor/internal/codex"
	"conductor/internal/types"
)

type translateAction int

const (
	actionNone translateAction = iota
	actionToolStart
	actionToolComplete
	actionTextChunk
	actionComplete
)

// translateStep is one instruction for the orchestrator: notify a sink,
// persist flushed tool blocks, or finish the turn.
type translateStep struct {
	action translateAction
	tool   ToolEvent
	blocks []types.ContentBlock
	chunk  string
	result TurnResult
}

// turnTranslator folds the runtime's heterogeneous event stream into
// canonical content blocks and tool-use records for one turn. Tool blocks
// flushed mid-turn are remembered so the final message never repeats them.
type turnTranslator struct {
	content  []types.ContentBlock
	toolUses []types.ToolUse
	flushed  map[string]bool
	started  map[string]bool
	threadID string
	model    string
}

func newTurnTranslator() *turnTranslator {
	t := &turnTranslator{}
	t.reset()
	return t
}

func (t *turnTranslator) reset() {
	t.content = nil
	t.toolUses = nil
	t.flushed = make(map[string]bool)
	t.started = make(map[string]bool)
}

func (t *turnTranslator) apply(event codex.Event) (translateStep, error) {
	if event.ThreadID != "" {
		t.threadID = event.ThreadID
	}
	if event.Model != "" {
		t.model = event.Model
	}

	switch event.Kind {
	case codex.EventThreadStarted:
		return translateStep{}, nil
	case codex.EventTurnStarted:
		t.reset()
		return translateStep{}, nil
	case codex.EventItemStarted:
		return t.applyItemStarted(event.Item), nil
	case codex.EventItemUpdated:
		return t.applyItemUpdated(event.Item), nil
	case codex.EventItemCompleted:
		return t.applyItemCompleted(event.Item), nil
	case codex.EventTurnCompleted:
		return t.applyTurnCompleted(event), nil
	case codex.EventTurnFailed:
		t.reset()
		return translateStep{}, runtimeError(event.Failure.Message(), nil)
	default:
		// Unknown kinds are skipped; the protocol grows faster than we do.
		return translateStep{}, nil
	}
}

func (t *turnTranslator) applyItemStarted(item *codex.Item) translateStep {
	tool, ok := toolEventForItem(item)
	if !ok {
		return translateStep{}
	}
	t.started[tool.ID] = true
	return translateStep{action: actionToolStart, tool: tool}
}

// Only assistant text streams as chunks. Everything else surfaces when the
// item completes.
func (t *turnTranslator) applyItemUpdated(item *codex.Item) translateStep {
	if item == nil || item.Type != codex.ItemTypeAgentMessage || item.Text == "" {
		return translateStep{}
	}
	return translateStep{action: actionTextChunk, chunk: item.Text}
}

func (t *turnTranslator) applyItemCompleted(item *codex.Item) translateStep {
	if item == nil {
		return translateStep{}
	}
	if item.Type == codex.ItemTypeAgentMessage {
		if item.Text != "" {
			t.content = append(t.content, types.TextBlock(item.Text))
		}
		return translateStep{}
	}
	tool, ok := toolEventForItem(item)
	if !ok {
		return translateStep{}
	}
	completeToolEvent(&tool, item)

	use := types.ToolUse{
		ID:     tool.ID,
		Name:   tool.Name,
		Input:  tool.Input,
		Output: tool.Output,
		Status: tool.Status,
	}
	blocks := []types.ContentBlock{types.ToolUseContentBlock(use.ID, use.Name, use.Input)}
	if tool.Output != "" || terminalStatus(tool.Status) {
		blocks = append(blocks, types.ToolResultContentBlock(use.ID, tool.Output, failedStatus(tool.Status)))
	}
	t.content = append(t.content, blocks...)
	t.toolUses = append(t.toolUses, use)
	t.flushed[use.ID] = true
	return translateStep{action: actionToolComplete, tool: tool, blocks: blocks}
}

func (t *turnTranslator) applyTurnCompleted(event codex.Event) translateStep {
	result := TurnResult{
		Content:  t.unflushedContent(),
		ToolUses: append([]types.ToolUse(nil), t.toolUses...),
		ThreadID: t.threadID,
		Model:    t.model,
		Usage:    normalizeUsage(event.Usage),
	}
	t.reset()
	return translateStep{action: actionComplete, result: result}
}

// unflushedContent drops blocks already persisted via a tool completion;
// what remains is the text-bearing tail of the turn.
func (t *turnTranslator) unflushedContent() []types.ContentBlock {
	var remaining []types.ContentBlock
	for _, block := range t.content {
		switch block.Type {
		case types.BlockToolUse:
			if block.ToolUse != nil && t.flushed[block.ToolUse.ID] {
				continue
			}
		case types.BlockToolResult:
			if block.ToolResult != nil && t.flushed[block.ToolResult.ToolUseID] {
				continue
			}
		}
		remaining = append(remaining, block)
	}
	return remaining
}

// toolEventForItem maps tool-like runtime items onto canonical tool names.
// Reasoning, plans and plain text never count as tools.
func toolEventForItem(item *codex.Item) (ToolEvent, bool) {
	if item == nil {
		return ToolEvent{}, false
	}
	switch item.Type {
	case codex.ItemTypeCommandExecution:
		return ToolEvent{
			ID:    item.ID,
			Name:  "bash",
			Input: map[string]any{"command": item.Command},
		}, true
	case codex.ItemTypeFileChange:
		changes := make([]map[string]any, 0, len(item.Changes))
		for _, change := range item.Changes {
			entry := map[string]any{"path": change.Path}
			if change.Kind != "" {
				entry["kind"] = change.Kind
			}
			changes = append(changes, entry)
		}
		return ToolEvent{
			ID:    item.ID,
			Name:  "edit",
			Input: map[string]any{"changes": changes},
		}, true
	case codex.ItemTypeMCPToolCall:
		name := strings.TrimSpace(item.Server)
		if tool := strings.TrimSpace(item.Tool); tool != "" {
			if name != "" {
				name += "." + tool
			} else {
				name = tool
			}
		}
		if name == "" {
			name = "mcp_tool_call"
		}
		return ToolEvent{ID: item.ID, Name: name, Input: item.Arguments}, true
	case codex.ItemTypeWebSearch:
		return ToolEvent{
			ID:    item.ID,
			Name:  "web_search",
			Input: map[string]any{"query": item.Query},
		}, true
	default:
		return ToolEvent{}, false
	}
}

func completeToolEvent(tool *ToolEvent, item *codex.Item) {
	tool.Status = strings.TrimSpace(item.Status)
	switch item.Type {
	case codex.ItemTypeCommandExecution:
		tool.Output = item.AggregatedOutput
		if item.ExitCode != nil {
			if tool.Status == "" {
				if *item.ExitCode == 0 {
					tool.Status = "completed"
				} else {
					tool.Status = "failed"
				}
			}
			if *item.ExitCode != 0 {
				tool.Output = appendExitNote(tool.Output, *item.ExitCode)
			}
		}
	case codex.ItemTypeFileChange:
		tool.Output = renderFileChanges(item.Changes)
	case codex.ItemTypeMCPToolCall:
		tool.Output = item.ResultText()
	case codex.ItemTypeWebSearch:
		tool.Output = item.Text
	}
}

func appendExitNote(output string, code int) string {
	note := fmt.Sprintf("exit code %d", code)
	if strings.TrimSpace(output) == "" {
		return note
	}
	return output + "\n" + note
}

func renderFileChanges(changes []codex.FileChange) string {
	if len(changes) == 0 {
		return ""
	}
	lines := make([]string, 0, len(changes))
	for _, change := range changes {
		if change.Kind != "" {
			lines = append(lines, change.Kind+" "+change.Path)
		} else {
			lines = append(lines, change.Path)
		}
	}
	return strings.Join(lines, "\n")
}

func terminalStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "failed", "error", "declined":
		return true
	default:
		return false
	}
}

func failedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "failed", "error", "declined":
		return true
	default:
		return false
	}
}
