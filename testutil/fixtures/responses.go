// Package fixtures provides canned StandardResponse/StreamChunk values for
// handler and orchestrator tests.
package fixtures

import (
	"github.com/MakeHub-ai/makehub-gateway/types"
)

// SimpleResponse returns a plain-text completion.
func SimpleResponse(content string) *types.StandardResponse {
	return &types.StandardResponse{
		ID:      "resp-001",
		Object:  "chat.completion",
		Model:   "gpt-4",
		Choices: []types.Choice{
			{
				Index:        0,
				FinishReason: types.FinishStop,
				Message: types.ChatMessage{
					Role:    types.RoleAssistant,
					Content: types.NewTextContent(content),
				},
			},
		},
		Usage: types.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

// ResponseWithUsage returns SimpleResponse with a custom token count.
func ResponseWithUsage(content string, promptTokens, completionTokens int) *types.StandardResponse {
	resp := SimpleResponse(content)
	resp.Usage = types.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: promptTokens + completionTokens}
	return resp
}

// ResponseWithToolCalls returns a response whose single choice carries
// toolCalls and finish_reason=tool_calls.
func ResponseWithToolCalls(content string, toolCalls []types.ToolCall) *types.StandardResponse {
	return &types.StandardResponse{
		ID:     "resp-tool-001",
		Object: "chat.completion",
		Model:  "gpt-4",
		Choices: []types.Choice{
			{
				Index:        0,
				FinishReason: types.FinishToolCalls,
				Message: types.ChatMessage{
					Role:      types.RoleAssistant,
					Content:   types.NewTextContent(content),
					ToolCalls: toolCalls,
				},
			},
		},
		Usage: types.Usage{PromptTokens: 50, CompletionTokens: 100, TotalTokens: 150},
	}
}

// ResponseWithSingleToolCall returns ResponseWithToolCalls for one call.
func ResponseWithSingleToolCall(content, toolName, toolID string, args []byte) *types.StandardResponse {
	return ResponseWithToolCalls(content, []types.ToolCall{{ID: toolID, Name: toolName, Arguments: args}})
}

// TruncatedResponse returns a response cut off by the max_tokens limit.
func TruncatedResponse(content string) *types.StandardResponse {
	resp := SimpleResponse(content)
	resp.Choices[0].FinishReason = types.FinishLength
	resp.Usage = types.Usage{PromptTokens: 100, CompletionTokens: 4096, TotalTokens: 4196}
	return resp
}

// ContentFilteredResponse returns a response rejected by content filtering.
func ContentFilteredResponse() *types.StandardResponse {
	return &types.StandardResponse{
		ID:     "resp-filtered-001",
		Object: "chat.completion",
		Model:  "gpt-4",
		Choices: []types.Choice{
			{
				Index:        0,
				FinishReason: types.FinishContentFilter,
				Message:      types.ChatMessage{Role: types.RoleAssistant},
			},
		},
		Usage: types.Usage{PromptTokens: 50, CompletionTokens: 0, TotalTokens: 50},
	}
}

// TextChunk builds a single-choice text delta chunk.
func TextChunk(content string, finishReason types.FinishReason) types.StreamChunk {
	return types.StreamChunk{
		ID:     "chunk-001",
		Object: "chat.completion.chunk",
		Model:  "gpt-4",
		Choices: []types.StreamChunkChoice{
			{Delta: types.Delta{Role: types.RoleAssistant, Content: content}, FinishReason: finishReason},
		},
	}
}

// ToolCallChunk builds a single-choice tool-call delta chunk.
func ToolCallChunk(toolCall types.ToolCall, finishReason types.FinishReason) types.StreamChunk {
	return types.StreamChunk{
		ID:     "chunk-tool-001",
		Object: "chat.completion.chunk",
		Model:  "gpt-4",
		Choices: []types.StreamChunkChoice{
			{Delta: types.Delta{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{toolCall}}, FinishReason: finishReason},
		},
	}
}

// SimpleStreamChunks splits content into chunkSize-rune pieces, the last
// one carrying finish_reason=stop.
func SimpleStreamChunks(content string, chunkSize int) []types.StreamChunk {
	var chunks []types.StreamChunk
	for i := 0; i < len(content); i += chunkSize {
		end := i + chunkSize
		if end > len(content) {
			end = len(content)
		}
		finish := types.FinishReason("")
		if end >= len(content) {
			finish = types.FinishStop
		}
		chunks = append(chunks, TextChunk(content[i:end], finish))
	}
	if len(chunks) == 0 {
		chunks = append(chunks, TextChunk("", types.FinishStop))
	}
	return chunks
}

// WordByWordChunks returns one chunk per word, the last with finish_reason=stop.
func WordByWordChunks(words []string) []types.StreamChunk {
	chunks := make([]types.StreamChunk, len(words))
	for i, word := range words {
		content := word
		if i < len(words)-1 {
			content += " "
		}
		finish := types.FinishReason("")
		if i == len(words)-1 {
			finish = types.FinishStop
		}
		chunks[i] = TextChunk(content, finish)
	}
	return chunks
}

// SmallUsage, MediumUsage, LargeUsage and CustomUsage are canned token counts.
func SmallUsage() types.Usage  { return types.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30} }
func MediumUsage() types.Usage {
	return types.Usage{PromptTokens: 500, CompletionTokens: 1000, TotalTokens: 1500}
}
func LargeUsage() types.Usage {
	return types.Usage{PromptTokens: 4000, CompletionTokens: 4096, TotalTokens: 8096}
}
func CustomUsage(prompt, completion int) types.Usage {
	return types.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

// GreetingResponse, CalculationResponse, SearchResultResponse,
// ErrorExplanationResponse, ThinkingResponse, RefusalResponse and
// ClarificationResponse are named SimpleResponse scenarios used across
// handler tests for readability at the call site.
func GreetingResponse() *types.StandardResponse {
	return SimpleResponse("Hello! How can I assist you today?")
}

func CalculationResponse(result string) *types.StandardResponse {
	return SimpleResponse("The result is: " + result)
}

func SearchResultResponse(results []string) *types.StandardResponse {
	content := "Here are the search results:\n"
	for i, r := range results {
		content += string(rune('1'+i)) + ". " + r + "\n"
	}
	return SimpleResponse(content)
}

func ErrorExplanationResponse(errorMsg string) *types.StandardResponse {
	return SimpleResponse("I encountered an error: " + errorMsg + ". Let me try a different approach.")
}

func ThinkingResponse(thinking, conclusion string) *types.StandardResponse {
	return SimpleResponse("Let me think about this...\n\n" + thinking + "\n\nConclusion: " + conclusion)
}

func RefusalResponse(reason string) *types.StandardResponse {
	return SimpleResponse("I'm sorry, but I can't help with that request. " + reason)
}

func ClarificationResponse(question string) *types.StandardResponse {
	return SimpleResponse("I need some clarification before I can help. " + question)
}
