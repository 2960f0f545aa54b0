package anthropic

import (
	"encoding/json"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// eligibleCount counts the prompt-cache candidates applyPromptCache would
// see for this input: the tools block (if non-empty), the system message
// (if non-empty), and every message text block at or above
// promptCacheSizeFloor.
func eligibleCount(hasTools bool, systemText string, msgs []message) int {
	n := 0
	if hasTools {
		n++
	}
	if systemText != "" {
		n++
	}
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Type == "text" && len(b.Text) >= promptCacheSizeFloor {
				n++
			}
		}
	}
	return n
}

func annotatedCount(tools []toolDef, systemRaw json.RawMessage, msgs []message) int {
	n := 0
	if len(tools) > 0 && tools[len(tools)-1].CacheControl != nil {
		n++
	}
	var systemBlocks []systemBlock
	if json.Unmarshal(systemRaw, &systemBlocks) == nil && len(systemBlocks) == 1 && systemBlocks[0].CacheControl != nil {
		n++
	}
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.CacheControl != nil {
				n++
			}
		}
	}
	return n
}

// TestApplyPromptCache_BudgetInvariant checks §8's "never more than 4
// cache-annotated blocks, and never fewer than the budget allows" rule
// over randomly generated tool/system/message combinations, rather than
// the fixed scenarios TestApplyPromptCache_PicksTopFourByPriorityThenSize
// and TestApplyPromptCache_BudgetCapsAtFour already cover by hand.
func TestApplyPromptCache_BudgetInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hasTools := rapid.Bool().Draw(t, "hasTools")
		var tools []toolDef
		if hasTools {
			tools = []toolDef{{Name: "t", InputSchema: json.RawMessage(`{"type":"object"}`)}}
		}

		systemText := ""
		if rapid.Bool().Draw(t, "hasSystem") {
			systemText = strings.Repeat("s", rapid.IntRange(1, 500).Draw(t, "systemLen"))
		}

		n := rapid.IntRange(0, 8).Draw(t, "numMessages")
		msgs := make([]message, n)
		for i := range msgs {
			role := "user"
			if rapid.Bool().Draw(t, "assistantRole") {
				role = "assistant"
			}
			size := rapid.IntRange(0, promptCacheSizeFloor*2).Draw(t, "blockSize")
			msgs[i] = message{Role: role, Content: []contentBlock{{Type: "text", Text: strings.Repeat("x", size)}}}
		}

		eligible := eligibleCount(hasTools, systemText, msgs)
		systemRaw := applyPromptCache(tools, systemText, msgs)
		annotated := annotatedCount(tools, systemRaw, msgs)

		if annotated > promptCacheBlockBudget {
			t.Fatalf("annotated %d blocks, budget is %d", annotated, promptCacheBlockBudget)
		}
		want := eligible
		if want > promptCacheBlockBudget {
			want = promptCacheBlockBudget
		}
		if annotated != want {
			t.Fatalf("annotated %d blocks, want %d (eligible=%d, budget=%d)", annotated, want, eligible, promptCacheBlockBudget)
		}
	})
}
