package engine

import "conductor/internal/types"

// ToolEvent describes one tool invocation as it starts or finishes.
type ToolEvent struct {
	ID     string
	Name   string
	Input  map[string]any
	Output string
	Status string
}

// TurnResult is the final notification for one executed turn.
type TurnResult struct {
	Content  []types.ContentBlock
	ToolUses []types.ToolUse
	ThreadID string
	Model    string
	Usage    types.TokenUsage
}

// Sink receives live notifications while a turn streams. Implementations
// must be cheap; they run on the turn's event loop.
type Sink interface {
	OnToolStart(event ToolEvent)
	OnToolComplete(event ToolEvent)
	OnTextChunk(text string)
	OnComplete(result TurnResult)
	OnError(err error)
}

type nopSink struct{}

func (nopSink) OnToolStart(ToolEvent)    {}
func (nopSink) OnToolComplete(ToolEvent) {}
func (nopSink) OnTextChunk(string)       {}
func (nopSink) OnComplete(TurnResult)    {}
func (nopSink) OnError(error)            {}

// NopSink discards all notifications; non-streaming callers use it.
func NopSink() Sink {
	return nopSink{}
}
