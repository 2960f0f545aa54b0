// Package anthropic implements the "anthropic-native" adapter_type and
// exposes the translation core (request building, response parsing,
// streaming state machine, prompt-cache annotation) shared by the
// bedrock-anthropic and vertex-anthropic adapters, which differ only in
// transport and credential resolution.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/providers"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
)

const (
	defaultBaseURL         = "https://api.anthropic.com"
	defaultAnthropicVer    = "2023-06-01"
	defaultMaxTokens       = 4096
	promptCacheSizeFloor   = 4096
	promptCacheBlockBudget = 4
)

// --- Wire shapes. ---

type cacheControl struct {
	Type string `json:"type"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type contentBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	Content      string          `json:"content,omitempty"`
	Source       *imageSource    `json:"source,omitempty"`
	CacheControl *cacheControl   `json:"cache_control,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type toolDef struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema"`
	CacheControl *cacheControl   `json:"cache_control,omitempty"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type request struct {
	Model         string          `json:"model"`
	Messages      []message       `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []toolDef       `json:"tools,omitempty"`
	ToolChoice    *toolChoice     `json:"tool_choice,omitempty"`
}

type usage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

type response struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      *usage         `json:"usage,omitempty"`
}

type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type streamMessage struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage *usage `json:"usage,omitempty"`
}

type streamEvent struct {
	Type         string         `json:"type"`
	Index        int            `json:"index"`
	Delta        *streamDelta   `json:"delta,omitempty"`
	ContentBlock *contentBlock  `json:"content_block,omitempty"`
	Message      *streamMessage `json:"message,omitempty"`
	Usage        *usage         `json:"usage,omitempty"`
}

// --- Message/tool/content conversion. ---

func parseDataURI(raw string) (mediaType, data string) {
	if strings.HasPrefix(raw, "data:") {
		rest := raw[len("data:"):]
		if idx := strings.Index(rest, ","); idx >= 0 {
			meta := strings.TrimSuffix(rest[:idx], ";base64")
			data = rest[idx+1:]
			if meta != "" {
				return meta, data
			}
			return "image/jpeg", data
		}
	}
	return "image/jpeg", raw
}

// convertMessages extracts the system text and translates the remaining
// messages into the alternating user/assistant content-block form Claude
// expects, coalescing consecutive tool results into the preceding user
// message.
func convertMessages(msgs []types.ChatMessage) (string, []message) {
	var system strings.Builder
	var out []message

	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content.String())
			continue
		case types.RoleTool:
			block := contentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content.String()}
			if n := len(out); n > 0 && out[n-1].Role == "user" {
				out[n-1].Content = append(out[n-1].Content, block)
			} else {
				out = append(out, message{Role: "user", Content: []contentBlock{block}})
			}
			continue
		}

		cm := message{Role: string(m.Role)}
		if m.Content.IsParts() {
			for _, p := range m.Content.Parts {
				switch p.Type {
				case types.ContentPartText:
					if p.Text != "" {
						cm.Content = append(cm.Content, contentBlock{Type: "text", Text: p.Text})
					}
				case types.ContentPartImageURL:
					if p.ImageURL != nil {
						media, data := parseDataURI(p.ImageURL.URL)
						cm.Content = append(cm.Content, contentBlock{Type: "image", Source: &imageSource{Type: "base64", MediaType: media, Data: data}})
					}
				}
			}
		} else if m.Content.Text != "" {
			cm.Content = append(cm.Content, contentBlock{Type: "text", Text: m.Content.Text})
		}
		for _, tc := range m.ToolCalls {
			cm.Content = append(cm.Content, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
		}
		if len(cm.Content) > 0 {
			out = append(out, cm)
		}
	}
	return system.String(), out
}

func convertTools(tools []types.ToolSchema) []toolDef {
	if len(tools) == 0 {
		return nil
	}
	out := make([]toolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolDef{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

func convertToolChoice(tc types.ToolChoice, hasTools bool) *toolChoice {
	if !hasTools {
		return nil
	}
	switch tc.Mode {
	case types.ToolChoiceRequired, types.ToolChoiceAny:
		return &toolChoice{Type: "any"}
	case types.ToolChoiceNamed:
		return &toolChoice{Type: "tool", Name: tc.FunctionName}
	default:
		return nil
	}
}

// cacheCandidate is one annotation-eligible block: the whole tools list,
// the system message, or a single ≥4096-char text block.
type cacheCandidate struct {
	priority int
	size     int
	apply    func()
}

// applyPromptCache selects at most promptCacheBlockBudget candidates —
// ordered tools > system > user > assistant, ties broken by descending
// size — and marks each with cache_control:{type:ephemeral}. It returns
// the final `system` field payload (plain string, or a block array when
// the system message itself was selected).
func applyPromptCache(tools []toolDef, systemText string, msgs []message) json.RawMessage {
	var candidates []cacheCandidate
	systemAnnotated := false

	if len(tools) > 0 {
		size := 0
		for _, t := range tools {
			size += len(t.Name) + len(t.Description) + len(t.InputSchema)
		}
		last := len(tools) - 1
		candidates = append(candidates, cacheCandidate{priority: 0, size: size, apply: func() {
			tools[last].CacheControl = &cacheControl{Type: "ephemeral"}
		}})
	}
	if systemText != "" {
		candidates = append(candidates, cacheCandidate{priority: 1, size: len(systemText), apply: func() {
			systemAnnotated = true
		}})
	}
	for mi := range msgs {
		rolePriority := 3
		if msgs[mi].Role == "user" {
			rolePriority = 2
		}
		for bi := range msgs[mi].Content {
			b := &msgs[mi].Content[bi]
			if b.Type == "text" && len(b.Text) >= promptCacheSizeFloor {
				block := b
				candidates = append(candidates, cacheCandidate{priority: rolePriority, size: len(b.Text), apply: func() {
					block.CacheControl = &cacheControl{Type: "ephemeral"}
				}})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].size > candidates[j].size
	})
	limit := promptCacheBlockBudget
	if len(candidates) < limit {
		limit = len(candidates)
	}
	for i := 0; i < limit; i++ {
		candidates[i].apply()
	}

	if systemText == "" {
		return nil
	}
	if systemAnnotated {
		raw, _ := json.Marshal([]systemBlock{{Type: "text", Text: systemText, CacheControl: &cacheControl{Type: "ephemeral"}}})
		return raw
	}
	raw, _ := json.Marshal(systemText)
	return raw
}

// BuildRequestPayload translates a StandardRequest into the Claude Messages
// API wire body, ready to send as-is (native/vertex) or wrap in an SDK
// invoke call (bedrock).
func BuildRequestPayload(req *types.StandardRequest, modelID string) ([]byte, error) {
	systemText, msgs := convertMessages(req.Messages)
	tools := convertTools(req.Tools)
	if req.ToolChoice.Mode == types.ToolChoiceNone {
		tools = nil
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	r := request{
		Model:       modelID,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Tools:       tools,
		ToolChoice:  convertToolChoice(req.ToolChoice, len(tools) > 0),
		Stream:      req.Stream,
	}
	if len(req.Stop) > 0 {
		r.StopSequences = []string(req.Stop)
	}
	r.System = applyPromptCache(r.Tools, systemText, r.Messages)

	return json.Marshal(r)
}

func mapStopReason(reason string) types.FinishReason {
	switch reason {
	case "tool_use":
		return types.FinishToolCalls
	case "max_tokens":
		return types.FinishLength
	default:
		return types.FinishStop
	}
}

// ParseResponsePayload converts a Claude Messages API response body into
// the canonical StandardResponse.
func ParseResponsePayload(data []byte, provider string) (*types.StandardResponse, error) {
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &types.Error{Code: types.ErrAPI, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: provider}
	}

	var text strings.Builder
	msg := types.ChatMessage{Role: types.RoleAssistant}
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			text.WriteString(c.Text)
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Input})
		}
	}
	msg.Content = types.NewTextContent(text.String())

	resp := &types.StandardResponse{
		ID: r.ID, Object: "chat.completion", Model: r.Model,
		Choices: []types.Choice{{Index: 0, Message: msg, FinishReason: mapStopReason(r.StopReason)}},
	}
	if r.Usage != nil {
		resp.Usage = types.Usage{
			PromptTokens: r.Usage.InputTokens, CompletionTokens: r.Usage.OutputTokens,
			TotalTokens: r.Usage.InputTokens + r.Usage.OutputTokens, CachedTokens: r.Usage.CacheReadInputTokens,
		}
	}
	return resp, nil
}

// StreamSSE runs the anthropic streaming state machine (§ design notes)
// over body, emitting one llm.StreamEvent per translated chunk. body may
// be a native HTTP response body or a synthetic SSE-formatted reader
// built from a cloud SDK's event iterator (bedrock).
func StreamSSE(ctx context.Context, body io.ReadCloser, provider string) <-chan llm.StreamEvent {
	ch := make(chan llm.StreamEvent)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)

		var currentID, currentModel string
		var inputTokens int

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					sendEvent(ctx, ch, llm.StreamEvent{Err: &types.Error{Code: types.ErrNetwork, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: provider}})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "event:") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				sendEvent(ctx, ch, llm.StreamEvent{Err: &types.Error{Code: types.ErrAPI, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: provider}})
				return
			}

			switch ev.Type {
			case "message_start":
				if ev.Message != nil {
					currentID = ev.Message.ID
					currentModel = ev.Message.Model
					if ev.Message.Usage != nil {
						inputTokens = ev.Message.Usage.InputTokens
					}
				}
				if !sendChunk(ctx, ch, types.StreamChunk{
					ID: currentID, Object: "chat.completion.chunk", Model: currentModel,
					Choices: []types.StreamChunkChoice{{Delta: types.Delta{Role: types.RoleAssistant}}},
				}) {
					return
				}

			case "content_block_start":
				if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
					cc := types.StreamChunkChoice{Index: ev.Index, Delta: types.Delta{
						Role:      types.RoleAssistant,
						ToolCalls: []types.ToolCall{{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name, Arguments: json.RawMessage("")}},
					}}
					if !sendChunk(ctx, ch, types.StreamChunk{ID: currentID, Object: "chat.completion.chunk", Model: currentModel, Choices: []types.StreamChunkChoice{cc}}) {
						return
					}
				}

			case "content_block_delta":
				if ev.Delta == nil {
					continue
				}
				cc := types.StreamChunkChoice{Index: ev.Index, Delta: types.Delta{Role: types.RoleAssistant}}
				switch ev.Delta.Type {
				case "text_delta":
					cc.Delta.Content = ev.Delta.Text
				case "input_json_delta":
					cc.Delta.ToolCalls = []types.ToolCall{{Arguments: json.RawMessage(ev.Delta.PartialJSON)}}
				}
				if !sendChunk(ctx, ch, types.StreamChunk{ID: currentID, Object: "chat.completion.chunk", Model: currentModel, Choices: []types.StreamChunkChoice{cc}}) {
					return
				}

			case "message_delta":
				cc := types.StreamChunkChoice{}
				if ev.Delta != nil {
					cc.FinishReason = mapStopReason(ev.Delta.StopReason)
				}
				chunk := types.StreamChunk{ID: currentID, Object: "chat.completion.chunk", Model: currentModel, Choices: []types.StreamChunkChoice{cc}}
				if ev.Usage != nil {
					chunk.Usage = &types.Usage{PromptTokens: inputTokens, CompletionTokens: ev.Usage.OutputTokens, TotalTokens: inputTokens + ev.Usage.OutputTokens}
				}
				if !sendChunk(ctx, ch, chunk) {
					return
				}

			case "message_stop":
				sendChunk(ctx, ch, types.StreamChunk{
					ID: currentID, Object: "chat.completion.chunk", Model: currentModel,
					Choices: []types.StreamChunkChoice{{FinishReason: types.FinishStop}},
				})
				return
			}
		}
	}()
	return ch
}

func sendChunk(ctx context.Context, ch chan<- llm.StreamEvent, chunk types.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- llm.StreamEvent{Chunk: &chunk}:
		return true
	}
}

func sendEvent(ctx context.Context, ch chan<- llm.StreamEvent, ev llm.StreamEvent) {
	select {
	case <-ctx.Done():
	case ch <- ev:
	}
}

// --- anthropic-native llm.Adapter / llm.AdapterSession. ---

// Config configures one resolved (model, provider) session over plain
// HTTPS transport, used directly by anthropic-native and wrapped by
// vertex-anthropic with a different base URL and auth header.
type Config struct {
	ProviderName     string
	APIKey           string
	BaseURL          string
	ProviderModelID  string
	AnthropicVersion string
	Timeout          time.Duration
	SupportsTools    *bool
	Configured       bool
	BuildHeaders     func(req *http.Request, apiKey string)

	// Endpoint overrides the default "{BaseURL}/v1/messages" request URL.
	// vertex-anthropic sets this to Vertex's :rawPredict/:streamRawPredict
	// project/region/model path, which has nothing in common with the
	// native Messages API shape.
	Endpoint func(streaming bool) string

	// RewritePayload runs on the built Messages-API-shaped request body
	// before it is sent, letting a wrapping adapter swap the top-level
	// "model" field for whatever its own transport expects (Vertex wants
	// "anthropic_version" in its place; Bedrock, which calls the SDK
	// directly instead of through Session, does the same rewrite itself).
	RewritePayload func(payload []byte) ([]byte, error)
}

// Session implements llm.AdapterSession over the Claude Messages API.
type Session struct {
	Cfg    Config
	Client *http.Client
}

// NewSession builds a Session, applying documented defaults.
func NewSession(cfg Config) *Session {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = defaultAnthropicVer
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Session{Cfg: cfg, Client: &http.Client{Timeout: timeout}}
}

func (s *Session) IsConfigured() bool { return s.Cfg.Configured }

func (s *Session) Validate(req *types.StandardRequest) error {
	if len(req.Tools) > 0 && s.Cfg.SupportsTools != nil && !*s.Cfg.SupportsTools {
		return &types.Error{Code: types.ErrValidation, Message: "model does not support tool calling", HTTPStatus: http.StatusBadRequest, Provider: s.Cfg.ProviderName}
	}
	return nil
}

func (s *Session) buildHeaders(req *http.Request, apiKey string) {
	if s.Cfg.BuildHeaders != nil {
		s.Cfg.BuildHeaders(req, apiKey)
		return
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", s.Cfg.AnthropicVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func (s *Session) resolveAPIKey(ctx context.Context) string {
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok && strings.TrimSpace(c.APIKey) != "" {
		return strings.TrimSpace(c.APIKey)
	}
	return s.Cfg.APIKey
}

func (s *Session) payload(req *types.StandardRequest) ([]byte, error) {
	payload, err := BuildRequestPayload(req, s.Cfg.ProviderModelID)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.Cfg.RewritePayload != nil {
		return s.Cfg.RewritePayload(payload)
	}
	return payload, nil
}

func (s *Session) endpoint(streaming bool) string {
	if s.Cfg.Endpoint != nil {
		return s.Cfg.Endpoint(streaming)
	}
	return fmt.Sprintf("%s/v1/messages", strings.TrimRight(s.Cfg.BaseURL, "/"))
}

func (s *Session) Execute(ctx context.Context, req *types.StandardRequest) (*types.StandardResponse, error) {
	payload, err := s.payload(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(false), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build http request: %w", err)
	}
	s.buildHeaders(httpReq, s.resolveAPIKey(ctx))

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: s.Cfg.ProviderName}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), s.Cfg.ProviderName)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.Error{Code: types.ErrAPI, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: s.Cfg.ProviderName}
	}
	return ParseResponsePayload(data, s.Cfg.ProviderName)
}

func (s *Session) ExecuteStream(ctx context.Context, req *types.StandardRequest) (<-chan llm.StreamEvent, error) {
	payload, err := s.payload(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(true), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build http request: %w", err)
	}
	s.buildHeaders(httpReq, s.resolveAPIKey(ctx))

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

// Adapter implements llm.Adapter for adapter_type "anthropic-native".
// APIKey/BaseURL are fleet-wide defaults; a GatewayModel's own
// extra_param.api_key/base_url override them per row, the same pattern
// openai.Adapter uses.
type Adapter struct {
	APIKey  string
	BaseURL string
	Logger  *zap.Logger
}

func (a *Adapter) Type() string { return "anthropic-native" }

func (a *Adapter) Configure(model types.GatewayModel) (llm.AdapterSession, error) {
	apiKey := a.APIKey
	if v, ok := model.ExtraParam["api_key"]; ok && v != "" {
		apiKey = v
	}
	baseURL := a.BaseURL
	if v, ok := model.ExtraParam["base_url"]; ok && v != "" {
		baseURL = v
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return NewSession(Config{
		ProviderName:    "anthropic-native",
		APIKey:          apiKey,
		BaseURL:         baseURL,
		ProviderModelID: model.ProviderModelID,
		SupportsTools:   &model.SupportToolCalling,
		Configured:      apiKey != "",
	}), nil
}
