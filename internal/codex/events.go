package codex

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EventKind string

const (
	EventThreadStarted EventKind = "thread.started"
	EventTurnStarted   EventKind = "turn.started"
	EventItemStarted   EventKind = "item.started"
	EventItemUpdated   EventKind = "item.updated"
	EventItemCompleted EventKind = "item.completed"
	EventTurnCompleted EventKind = "turn.completed"
	EventTurnFailed    EventKind = "turn.failed"
)

// Item types reported by the runtime inside item.* events.
const (
	ItemTypeAgentMessage     = "agent_message"
	ItemTypeReasoning        = "reasoning"
	ItemTypeCommandExecution = "command_execution"
	ItemTypeFileChange       = "file_change"
	ItemTypeMCPToolCall      = "mcp_tool_call"
	ItemTypeWebSearch        = "web_search"
	ItemTypeTodoList         = "todo_list"
	ItemTypeError            = "error"
)

// Event is one decoded notification from the runtime, scoped to a thread.
// Payload fields are populated per Kind: Item for item.* events, Usage and
// Model for turn.completed, Failure for turn.failed.
type Event struct {
	Kind     EventKind
	ThreadID string
	TurnID   string
	Model    string
	Item     *Item
	Usage    *Usage
	Failure  *TurnFailure
}

// Item is the runtime's unit of activity. The envelope uses camelCase keys;
// item objects keep the runtime's snake_case field names.
type Item struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Text             string          `json:"text,omitempty"`
	Command          string          `json:"command,omitempty"`
	AggregatedOutput string          `json:"aggregated_output,omitempty"`
	ExitCode         *int            `json:"exit_code,omitempty"`
	Status           string          `json:"status,omitempty"`
	Changes          []FileChange    `json:"changes,omitempty"`
	Server           string          `json:"server,omitempty"`
	Tool             string          `json:"tool,omitempty"`
	Arguments        map[string]any  `json:"arguments,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Query            string          `json:"query,omitempty"`
	Message          string          `json:"message,omitempty"`
}

type FileChange struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"`
}

// ResultText renders an mcp_tool_call result for display and persistence.
func (i *Item) ResultText() string {
	if i == nil || len(i.Result) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(i.Result, &asString); err == nil {
		return asString
	}
	return string(i.Result)
}

// Usage is the raw end-of-turn accounting payload.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	TotalTokens       int `json:"total_tokens"`
}

// TurnFailure carries the provider error from turn.failed. The payload shape
// is not stable across runtime versions, so the raw form is kept and
// rendered on demand.
type TurnFailure struct {
	Raw json.RawMessage
}

func (f *TurnFailure) Message() string {
	if f == nil || len(f.Raw) == 0 {
		return "turn failed"
	}
	var asString string
	if err := json.Unmarshal(f.Raw, &asString); err == nil && strings.TrimSpace(asString) != "" {
		return asString
	}
	var structured struct {
		Message string `json:"message"`
		Code    *int   `json:"code,omitempty"`
	}
	if err := json.Unmarshal(f.Raw, &structured); err == nil && strings.TrimSpace(structured.Message) != "" {
		if structured.Code != nil {
			return fmt.Sprintf("%s (code %d)", strings.TrimSpace(structured.Message), *structured.Code)
		}
		return strings.TrimSpace(structured.Message)
	}
	return string(f.Raw)
}

type eventEnvelope struct {
	ThreadID string `json:"threadId"`
	Model    string `json:"model,omitempty"`
	Thread   *struct {
		ID    string `json:"id"`
		Model string `json:"model,omitempty"`
	} `json:"thread,omitempty"`
	Turn *struct {
		ID    string `json:"id"`
		Usage *Usage `json:"usage,omitempty"`
	} `json:"turn,omitempty"`
	Item  *Item           `json:"item,omitempty"`
	Usage *Usage          `json:"usage,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

var notificationKinds = map[string]EventKind{
	"thread/started": EventThreadStarted,
	"turn/started":   EventTurnStarted,
	"item/started":   EventItemStarted,
	"item/updated":   EventItemUpdated,
	"item/completed": EventItemCompleted,
	"turn/completed": EventTurnCompleted,
	"turn/failed":    EventTurnFailed,
}

// decodeEvent maps one notification onto a typed Event. Unknown methods and
// undecodable payloads return ok=false and are skipped by the caller; the
// protocol grows faster than clients do.
func decodeEvent(method string, params json.RawMessage) (Event, bool) {
	kind, known := notificationKinds[strings.TrimSpace(method)]
	if !known {
		return Event{}, false
	}
	var envelope eventEnvelope
	if len(params) > 0 {
		if err := json.Unmarshal(params, &envelope); err != nil {
			return Event{}, false
		}
	}
	event := Event{
		Kind:     kind,
		ThreadID: strings.TrimSpace(envelope.ThreadID),
		Model:    strings.TrimSpace(envelope.Model),
	}
	if envelope.Thread != nil {
		if event.ThreadID == "" {
			event.ThreadID = strings.TrimSpace(envelope.Thread.ID)
		}
		if event.Model == "" {
			event.Model = strings.TrimSpace(envelope.Thread.Model)
		}
	}
	if envelope.Turn != nil {
		event.TurnID = strings.TrimSpace(envelope.Turn.ID)
		if envelope.Turn.Usage != nil {
			event.Usage = envelope.Turn.Usage
		}
	}
	if event.Usage == nil && envelope.Usage != nil {
		event.Usage = envelope.Usage
	}
	if envelope.Item != nil {
		event.Item = envelope.Item
	}
	if kind == EventTurnFailed {
		event.Failure = &TurnFailure{Raw: envelope.Error}
	}
	return event, true
}
