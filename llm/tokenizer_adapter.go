package llm

import (
	"github.com/MakeHub-ai/makehub-gateway/llm/tokenizer"
	"github.com/MakeHub-ai/makehub-gateway/types"
)

// MessageTokenEstimator adapts the llm/tokenizer package (model-aware,
// tiktoken-backed where registered, estimator-backed otherwise) to the
// RequestTokenizer interface the Provider Selector's context-window hard
// filter calls.
type MessageTokenEstimator struct{}

// NewMessageTokenEstimator builds the default RequestTokenizer.
func NewMessageTokenEstimator() *MessageTokenEstimator { return &MessageTokenEstimator{} }

// EstimateTokens flattens each canonical message to tokenizer.Message
// (role + plain-text content, images excluded from the count) and delegates
// to whichever tokenizer.Tokenizer is registered for model, falling back to
// the character-based estimator when none is.
func (MessageTokenEstimator) EstimateTokens(model string, messages []types.ChatMessage) (int, error) {
	t := tokenizer.GetTokenizerOrEstimator(model)
	flat := make([]tokenizer.Message, 0, len(messages))
	for _, m := range messages {
		flat = append(flat, tokenizer.Message{Role: string(m.Role), Content: m.Content.String()})
	}
	return t.CountMessages(flat)
}
