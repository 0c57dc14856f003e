package engine

import (
	"testing"

	"conductor/internal/codex"
)

func TestNormalizeUsage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       *codex.Usage
		wantIn    int
		wantOut   int
		wantTotal int
	}{
		{
			name:      "computes missing total",
			raw:       &codex.Usage{InputTokens: 100, OutputTokens: 50},
			wantIn:    100,
			wantOut:   50,
			wantTotal: 150,
		},
		{
			name:      "keeps provided total",
			raw:       &codex.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 999},
			wantIn:    100,
			wantOut:   50,
			wantTotal: 999,
		},
		{
			name:      "ignores understated total",
			raw:       &codex.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 10},
			wantIn:    100,
			wantOut:   50,
			wantTotal: 150,
		},
		{
			name: "nil payload",
			raw:  nil,
		},
		{
			name: "negative fields clamp to zero",
			raw:  &codex.Usage{InputTokens: -5, OutputTokens: -1},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			usage := normalizeUsage(tc.raw)
			if usage.InputTokens != tc.wantIn {
				t.Fatalf("expected input %d, got %d", tc.wantIn, usage.InputTokens)
			}
			if usage.OutputTokens != tc.wantOut {
				t.Fatalf("expected output %d, got %d", tc.wantOut, usage.OutputTokens)
			}
			if usage.TotalTokens != tc.wantTotal {
				t.Fatalf("expected total %d, got %d", tc.wantTotal, usage.TotalTokens)
			}
			if usage.CacheReadTokens != 0 || usage.CacheCreationTokens != 0 {
				t.Fatalf("expected zero cache accounting, got %+v", usage)
			}
		})
	}
}
