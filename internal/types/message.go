package types

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one typed unit inside a message. Exactly one of the
// payload fields is populated, selected by Type.
type ContentBlock struct {
	Type       BlockType        `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolUse    *ToolUseBlock    `json:"tool_use,omitempty"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
}

type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ToolUseContentBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUse: &ToolUseBlock{ID: id, Name: name, Input: input}}
}

func ToolResultContentBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResult: &ToolResultBlock{ToolUseID: toolUseID, Content: content, IsError: isError}}
}

// ToolUse is the flat record of one tool invocation within a turn. ID is
// assigned by the runtime and is stable across the start/complete pair; a
// completion whose id was never started still yields a full record.
type ToolUse struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Input  map[string]any `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
	Status string         `json:"status,omitempty"`
}

// TokenUsage is the normalized end-of-turn accounting. Cache fields are
// carried for callers that price cache reads separately but stay zero with
// the current runtime.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	TotalTokens         int `json:"total_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
}

type MessageMetadata struct {
	Model  string      `json:"model,omitempty"`
	Tokens *TokenUsage `json:"tokens,omitempty"`
}

// Message is immutable once persisted. Index is assigned by the engine as
// the count of messages already stored for the session.
type Message struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	TaskID    string           `json:"task_id,omitempty"`
	Role      Role             `json:"role"`
	Index     int              `json:"index"`
	Content   []ContentBlock   `json:"content"`
	ToolUses  []ToolUse        `json:"tool_uses,omitempty"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Text joins the message's text blocks with blank lines. Tool blocks are
// skipped.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	parts := make([]string, 0, len(m.Content))
	for _, block := range m.Content {
		if block.Type == BlockText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func CloneMessage(in *Message) *Message {
	if in == nil {
		return nil
	}
	out := *in
	if in.Content != nil {
		out.Content = make([]ContentBlock, len(in.Content))
		copy(out.Content, in.Content)
	}
	if in.ToolUses != nil {
		out.ToolUses = make([]ToolUse, len(in.ToolUses))
		copy(out.ToolUses, in.ToolUses)
	}
	if in.Metadata != nil {
		meta := *in.Metadata
		if in.Metadata.Tokens != nil {
			tokens := *in.Metadata.Tokens
			meta.Tokens = &tokens
		}
		out.Metadata = &meta
	}
	return &out
}
