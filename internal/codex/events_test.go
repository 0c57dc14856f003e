package codex

import (
	"encoding/json"
	"testing"
)

func TestDecodeEventKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		params     string
		wantKind   EventKind
		wantThread string
		wantTurn   string
	}{
		{
			name:       "thread started nested",
			method:     "thread/started",
			params:     `{"thread":{"id":"th-1","model":"gpt-5.1-codex"}}`,
			wantKind:   EventThreadStarted,
			wantThread: "th-1",
		},
		{
			name:       "turn started flat thread id",
			method:     "turn/started",
			params:     `{"threadId":"th-2","turn":{"id":"turn-7"}}`,
			wantKind:   EventTurnStarted,
			wantThread: "th-2",
			wantTurn:   "turn-7",
		},
		{
			name:       "item completed",
			method:     "item/completed",
			params:     `{"threadId":"th-3","item":{"id":"item-1","type":"command_execution","command":"ls","aggregated_output":"main.go","exit_code":0}}`,
			wantKind:   EventItemCompleted,
			wantThread: "th-3",
		},
		{
			name:       "turn completed with nested usage",
			method:     "turn/completed",
			params:     `{"threadId":"th-4","turn":{"id":"turn-9","usage":{"input_tokens":100,"output_tokens":25}}}`,
			wantKind:   EventTurnCompleted,
			wantThread: "th-4",
			wantTurn:   "turn-9",
		},
		{
			name:       "turn failed",
			method:     "turn/failed",
			params:     `{"threadId":"th-5","error":{"message":"rate limited"}}`,
			wantKind:   EventTurnFailed,
			wantThread: "th-5",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			event, ok := decodeEvent(tc.method, json.RawMessage(tc.params))
			if !ok {
				t.Fatalf("expected ok=true, got false")
			}
			if event.Kind != tc.wantKind {
				t.Fatalf("expected kind %q, got %q", tc.wantKind, event.Kind)
			}
			if event.ThreadID != tc.wantThread {
				t.Fatalf("expected thread id %q, got %q", tc.wantThread, event.ThreadID)
			}
			if event.TurnID != tc.wantTurn {
				t.Fatalf("expected turn id %q, got %q", tc.wantTurn, event.TurnID)
			}
		})
	}
}

func TestDecodeEventItemFields(t *testing.T) {
	t.Parallel()

	params := `{"threadId":"th-1","item":{"id":"item-9","type":"mcp_tool_call","server":"docs","tool":"search","arguments":{"query":"bolt"},"result":"3 hits","status":"completed"}}`
	event, ok := decodeEvent("item/completed", json.RawMessage(params))
	if !ok {
		t.Fatalf("expected ok=true, got false")
	}
	if event.Item == nil {
		t.Fatalf("expected item, got nil")
	}
	if event.Item.Type != ItemTypeMCPToolCall {
		t.Fatalf("expected type %q, got %q", ItemTypeMCPToolCall, event.Item.Type)
	}
	if event.Item.Server != "docs" || event.Item.Tool != "search" {
		t.Fatalf("expected docs/search, got %q/%q", event.Item.Server, event.Item.Tool)
	}
	if got := event.Item.ResultText(); got != "3 hits" {
		t.Fatalf("expected result text %q, got %q", "3 hits", got)
	}
}

func TestDecodeEventUsage(t *testing.T) {
	t.Parallel()

	params := `{"threadId":"th-1","usage":{"input_tokens":40,"cached_input_tokens":12,"output_tokens":8,"total_tokens":48}}`
	event, ok := decodeEvent("turn/completed", json.RawMessage(params))
	if !ok {
		t.Fatalf("expected ok=true, got false")
	}
	if event.Usage == nil {
		t.Fatalf("expected usage, got nil")
	}
	if event.Usage.InputTokens != 40 || event.Usage.OutputTokens != 8 {
		t.Fatalf("expected 40/8 tokens, got %d/%d", event.Usage.InputTokens, event.Usage.OutputTokens)
	}
	if event.Usage.CachedInputTokens != 12 {
		t.Fatalf("expected 12 cached tokens, got %d", event.Usage.CachedInputTokens)
	}
}

func TestDecodeEventRejectsUnknownMethod(t *testing.T) {
	t.Parallel()

	if _, ok := decodeEvent("thread/archived", json.RawMessage(`{"threadId":"th-1"}`)); ok {
		t.Fatalf("expected ok=false for unknown method")
	}
}

func TestDecodeEventRejectsBadPayload(t *testing.T) {
	t.Parallel()

	if _, ok := decodeEvent("turn/completed", json.RawMessage(`{"threadId":`)); ok {
		t.Fatalf("expected ok=false for undecodable payload")
	}
}

func TestTurnFailureMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain string",
			raw:  `"context window exceeded"`,
			want: "context window exceeded",
		},
		{
			name: "structured with code",
			raw:  `{"message":"stream disconnected","code":-32000}`,
			want: "stream disconnected (code -32000)",
		},
		{
			name: "structured without code",
			raw:  `{"message":"  model refused  "}`,
			want: "model refused",
		},
		{
			name: "unrecognized shape falls back to raw",
			raw:  `{"reason":"unknown"}`,
			want: `{"reason":"unknown"}`,
		},
		{
			name: "empty payload",
			raw:  ``,
			want: "turn failed",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			failure := &TurnFailure{Raw: json.RawMessage(tc.raw)}
			if got := failure.Message(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestItemResultTextObjectPayload(t *testing.T) {
	t.Parallel()

	item := &Item{Result: json.RawMessage(`{"rows":3}`)}
	if got := item.ResultText(); got != `{"rows":3}` {
		t.Fatalf("expected raw JSON passthrough, got %q", got)
	}
	var empty *Item
	if got := empty.ResultText(); got != "" {
		t.Fatalf("expected empty result for nil item, got %q", got)
	}
}
