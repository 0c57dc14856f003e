package engine

import (
	"conductor/internal/codex"
	"conductor/internal/types"
)

// normalizeUsage converts the runtime's end-of-turn accounting into the
// canonical shape. Absent fields default to zero and the total is computed
// when the runtime omits it. Cache fields stay zero; the runtime folds
// cache hits into input_tokens instead of separate read/write figures.
func normalizeUsage(raw *codex.Usage) types.TokenUsage {
	usage := types.TokenUsage{}
	if raw == nil {
		return usage
	}
	if raw.InputTokens > 0 {
		usage.InputTokens = raw.InputTokens
	}
	if raw.OutputTokens > 0 {
		usage.OutputTokens = raw.OutputTokens
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if raw.TotalTokens > usage.TotalTokens {
		usage.TotalTokens = raw.TotalTokens
	}
	return usage
}
