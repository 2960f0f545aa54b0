// Package providers holds the wire-format adapters for the gateway's closed
// set of protocol adapters (openai, azure-openai, anthropic-native,
// bedrock-anthropic, vertex-anthropic) plus the helpers shared between the
// OpenAI-compatible ones.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MakeHub-ai/makehub-gateway/types"
)

// MapHTTPError maps an HTTP status code to the gateway's error taxonomy.
// This is the common mapping every OpenAI-compatible adapter falls back
// to; azure-openai special-cases 404 before calling this.
func MapHTTPError(status int, msg string, provider string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &types.Error{Code: types.ErrAuthenticationGW, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		return &types.Error{Code: types.ErrRateLimitGW, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadRequest:
		return &types.Error{Code: types.ErrValidation, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusNotFound:
		return &types.Error{Code: types.ErrConfiguration, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &types.Error{Code: types.ErrAPI, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case 529: // model overloaded, used by Anthropic
		return &types.Error{Code: types.ErrAPI, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		return &types.Error{Code: types.ErrAPI, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: provider}
	}
}

// ReadErrorMessage reads and best-effort decodes an upstream error body.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return string(data)
}

// --- OpenAI-compatible wire shapes, shared by openai and azure-openai. ---

type OpenAICompatToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function OpenAICompatFunction `json:"function"`
}

type OpenAICompatFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type OpenAICompatTool struct {
	Type     string               `json:"type"`
	Function OpenAICompatFunction `json:"function"`
}

// OpenAICompatMessage reuses types.Content directly: it already marshals
// as a bare string or a content-parts array, which is exactly the shape
// this wire format needs for pass-through vision content.
type OpenAICompatMessage struct {
	Role       types.Role             `json:"role"`
	Content    types.Content          `json:"content,omitempty"`
	Name       string                 `json:"name,omitempty"`
	ToolCalls  []OpenAICompatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
}

type OpenAICompatStreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

type OpenAICompatRequest struct {
	Model         string                     `json:"model"`
	Messages      []OpenAICompatMessage      `json:"messages"`
	Tools         []OpenAICompatTool         `json:"tools,omitempty"`
	ToolChoice    *types.ToolChoice          `json:"tool_choice,omitempty"`
	MaxTokens     int                        `json:"max_tokens,omitempty"`
	Temperature   *float64                   `json:"temperature,omitempty"`
	TopP          *float64                   `json:"top_p,omitempty"`
	Stop          types.StopSequences        `json:"stop,omitempty"`
	Stream        bool                       `json:"stream,omitempty"`
	StreamOptions *OpenAICompatStreamOptions `json:"stream_options,omitempty"`
}

type OpenAICompatChoice struct {
	Index        int                  `json:"index"`
	FinishReason string               `json:"finish_reason"`
	Message      OpenAICompatMessage  `json:"message"`
	Delta        *OpenAICompatMessage `json:"delta,omitempty"`
}

type OpenAICompatUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Created int64                `json:"created,omitempty"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
}

type OpenAICompatErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param"`
	} `json:"error"`
}

// ConvertMessagesToOpenAI converts canonical messages to the OpenAI wire
// shape. Content is forwarded as-is (string or parts).
func ConvertMessagesToOpenAI(msgs []types.ChatMessage) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, 0, len(msgs))
	for _, m := range msgs {
		oa := OpenAICompatMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		if len(m.ToolCalls) > 0 {
			oa.ToolCalls = make([]OpenAICompatToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				oa.ToolCalls = append(oa.ToolCalls, OpenAICompatToolCall{
					ID: tc.ID, Type: "function",
					Function: OpenAICompatFunction{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
		}
		out = append(out, oa)
	}
	return out
}

// ConvertToolsToOpenAI converts canonical tool schemas to the OpenAI wire shape.
func ConvertToolsToOpenAI(tools []types.ToolSchema) []OpenAICompatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]OpenAICompatTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, OpenAICompatTool{
			Type:     "function",
			Function: OpenAICompatFunction{Name: t.Name, Arguments: t.Parameters},
		})
	}
	return out
}

// ToStandardResponse converts an OpenAI-shaped response to the canonical form.
func ToStandardResponse(oa OpenAICompatResponse, provider string) *types.StandardResponse {
	choices := make([]types.Choice, 0, len(oa.Choices))
	for _, c := range oa.Choices {
		msg := types.ChatMessage{Role: types.RoleAssistant, Content: c.Message.Content, Name: c.Message.Name}
		if len(c.Message.ToolCalls) > 0 {
			msg.ToolCalls = make([]types.ToolCall, 0, len(c.Message.ToolCalls))
			for _, tc := range c.Message.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
			}
		}
		choices = append(choices, types.Choice{Index: c.Index, FinishReason: types.FinishReason(c.FinishReason), Message: msg})
	}
	resp := &types.StandardResponse{ID: oa.ID, Object: "chat.completion", Created: oa.Created, Model: oa.Model, Choices: choices}
	if oa.Usage != nil {
		resp.Usage = types.Usage{PromptTokens: oa.Usage.PromptTokens, CompletionTokens: oa.Usage.CompletionTokens, TotalTokens: oa.Usage.TotalTokens}
		if oa.Usage.PromptTokensDetails != nil {
			resp.Usage.CachedTokens = oa.Usage.PromptTokensDetails.CachedTokens
		}
	}
	return resp
}

// ChooseModel resolves the wire model string: the request's pinned
// provider_model_id takes priority, then the registry's configured one.
func ChooseModel(req *types.StandardRequest, providerModelID, fallbackModel string) string {
	if providerModelID != "" {
		return providerModelID
	}
	if req != nil && req.Model.ProviderModelID != "" {
		return req.Model.ProviderModelID
	}
	return fallbackModel
}

// SafeCloseBody closes an HTTP response body, ignoring the error.
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// ListModelsOpenAICompat fetches the upstream model ID list, used by
// adapter health checks.
func ListModelsOpenAICompat(ctx context.Context, client *http.Client, baseURL, apiKey, providerName, modelsEndpoint string, buildHeaders func(*http.Request, string)) ([]string, error) {
	endpoint := fmt.Sprintf("%s%s", strings.TrimRight(baseURL, "/"), modelsEndpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	buildHeaders(httpReq, apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), providerName)
	}
	var listResp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, &types.Error{Code: types.ErrAPI, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}
	}
	ids := make([]string, 0, len(listResp.Data))
	for _, m := range listResp.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
