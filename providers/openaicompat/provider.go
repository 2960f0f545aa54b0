// Package openaicompat is the shared base for every OpenAI-wire-compatible
// adapter (openai, azure-openai). Each concrete adapter embeds Session and
// only overrides what differs: header construction, endpoint templating,
// and default model resolution.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/internal/tlsutil"
	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/providers"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
)

// Config configures one resolved (model, provider) session.
type Config struct {
	ProviderName string

	APIKey  string
	BaseURL string

	// ProviderModelID is the wire model string to send upstream; falls
	// back to the request's own pinned provider_model_id, then to
	// DefaultModel.
	ProviderModelID string
	DefaultModel    string

	Timeout        time.Duration
	EndpointPath   string // defaults to "/v1/chat/completions"
	ModelsEndpoint string // defaults to "/v1/models"

	// BuildHeaders sets auth headers on each request. Defaults to
	// "Authorization: Bearer <apiKey>".
	BuildHeaders func(req *http.Request, apiKey string)

	// SupportsTools indicates native function-calling support; defaults true.
	SupportsTools *bool

	// Configured reports whether credential resolution succeeded; a
	// session with Configured=false fails IsConfigured() so the selector
	// drops it as a hard filter.
	Configured bool
}

// Session is the base AdapterSession implementation shared by openai and
// azure-openai; it satisfies llm.AdapterSession on its own and is also
// embedded by adapters that need to tweak request construction.
type Session struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New builds a Session from cfg, applying documented defaults.
func New(cfg Config, logger *zap.Logger) *Session {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{Cfg: cfg, Client: tlsutil.SecureHTTPClient(timeout), Logger: logger}
}

func (s *Session) IsConfigured() bool { return s.Cfg.Configured }

// Validate rejects tool-calling requests against a model this session was
// not told supports them.
func (s *Session) Validate(req *types.StandardRequest) error {
	if len(req.Tools) > 0 && s.Cfg.SupportsTools != nil && !*s.Cfg.SupportsTools {
		return &types.Error{
			Code:       types.ErrValidation,
			Message:    fmt.Sprintf("%s does not support tool calling", s.Cfg.ProviderName),
			HTTPStatus: http.StatusBadRequest,
			Provider:   s.Cfg.ProviderName,
		}
	}
	return nil
}

func (s *Session) buildHeaders(req *http.Request, apiKey string) {
	if s.Cfg.BuildHeaders != nil {
		s.Cfg.BuildHeaders(req, apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (s *Session) resolveAPIKey(ctx context.Context) string {
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok && strings.TrimSpace(c.APIKey) != "" {
		return strings.TrimSpace(c.APIKey)
	}
	return s.Cfg.APIKey
}

func (s *Session) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(s.Cfg.BaseURL, "/"), path)
}

func (s *Session) buildRequestBody(req *types.StandardRequest, stream bool) providers.OpenAICompatRequest {
	model := providers.ChooseModel(req, s.Cfg.ProviderModelID, s.Cfg.DefaultModel)
	body := providers.OpenAICompatRequest{
		Model:       model,
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		Tools:       providers.ConvertToolsToOpenAI(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if !req.ToolChoice.IsZero() {
		body.ToolChoice = &req.ToolChoice
	}
	if stream {
		body.StreamOptions = &providers.OpenAICompatStreamOptions{IncludeUsage: true}
	}
	return body
}

// Execute performs a non-streaming completion.
func (s *Session) Execute(ctx context.Context, req *types.StandardRequest) (*types.StandardResponse, error) {
	apiKey := s.resolveAPIKey(ctx)
	body := s.buildRequestBody(req, false)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(s.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	s.buildHeaders(httpReq, apiKey)

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: s.Cfg.ProviderName}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), s.Cfg.ProviderName)
	}

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, &types.Error{Code: types.ErrAPI, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: s.Cfg.ProviderName}
	}
	return providers.ToStandardResponse(oaResp, s.Cfg.ProviderName), nil
}

// ExecuteStream performs a streaming completion via SSE.
func (s *Session) ExecuteStream(ctx context.Context, req *types.StandardRequest) (<-chan llm.StreamEvent, error) {
	apiKey := s.resolveAPIKey(ctx)
	body := s.buildRequestBody(req, true)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(s.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	s.buildHeaders(httpReq, apiKey)

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: s.Cfg.ProviderName}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), s.Cfg.ProviderName)
	}
	return StreamSSE(ctx, resp.Body, s.Cfg.ProviderName), nil
}

// HealthCheck verifies the upstream models endpoint is reachable.
func (s *Session) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(s.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	s.buildHeaders(httpReq, s.Cfg.APIKey)

	resp, err := s.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("%s health check failed: status=%d msg=%s", s.Cfg.ProviderName, resp.StatusCode, msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels returns the upstream model ID list.
func (s *Session) ListModels(ctx context.Context) ([]string, error) {
	return providers.ListModelsOpenAICompat(ctx, s.Client, s.Cfg.BaseURL, s.Cfg.APIKey, s.Cfg.ProviderName, s.Cfg.ModelsEndpoint, s.buildHeaders)
}

// StreamSSE parses an OpenAI-compatible SSE stream into StreamEvents. Shared
// by openai and azure-openai, which differ only in transport, not framing.
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string) <-chan llm.StreamEvent {
	ch := make(chan llm.StreamEvent)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					sendErr(ctx, ch, &types.Error{Code: types.ErrNetwork, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var oaResp providers.OpenAICompatResponse
			if err := json.Unmarshal([]byte(data), &oaResp); err != nil {
				sendErr(ctx, ch, &types.Error{Code: types.ErrAPI, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName})
				return
			}

			chunk := types.StreamChunk{ID: oaResp.ID, Object: "chat.completion.chunk", Model: oaResp.Model}
			for _, choice := range oaResp.Choices {
				cc := types.StreamChunkChoice{Index: choice.Index, FinishReason: types.FinishReason(choice.FinishReason)}
				if choice.Delta != nil {
					cc.Delta.Role = types.RoleAssistant
					cc.Delta.Content = choice.Delta.Content.String()
					if len(choice.Delta.ToolCalls) > 0 {
						cc.Delta.ToolCalls = make([]types.ToolCall, 0, len(choice.Delta.ToolCalls))
						for _, tc := range choice.Delta.ToolCalls {
							cc.Delta.ToolCalls = append(cc.Delta.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
						}
					}
				}
				chunk.Choices = append(chunk.Choices, cc)
			}
			if oaResp.Usage != nil {
				chunk.Usage = &types.Usage{PromptTokens: oaResp.Usage.PromptTokens, CompletionTokens: oaResp.Usage.CompletionTokens, TotalTokens: oaResp.Usage.TotalTokens}
				if oaResp.Usage.PromptTokensDetails != nil {
					chunk.Usage.CachedTokens = oaResp.Usage.PromptTokensDetails.CachedTokens
				}
			}

			select {
			case <-ctx.Done():
				return
			case ch <- llm.StreamEvent{Chunk: &chunk}:
			}
		}
	}()
	return ch
}

func sendErr(ctx context.Context, ch chan<- llm.StreamEvent, err error) {
	select {
	case <-ctx.Done():
	case ch <- llm.StreamEvent{Err: err}:
	}
}
