package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentPartType discriminates the members of a message Content sequence.
type ContentPartType string

const (
	ContentPartText     ContentPartType = "text"
	ContentPartImageURL ContentPartType = "image_url"
)

// ImageURLRef carries a (possibly data-URI) image reference.
type ImageURLRef struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multimodal message content sequence.
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *ImageURLRef    `json:"image_url,omitempty"`
}

// Content is a chat message body: either a bare string or an ordered
// sequence of content parts. It marshals back to whichever shape it was
// built from so round trips through the openai adapter are identity on
// the wire.
type Content struct {
	Text    string
	Parts   []ContentPart
	isParts bool
}

// NewTextContent builds a string-shaped Content.
func NewTextContent(text string) Content {
	return Content{Text: text}
}

// NewPartsContent builds a content-parts-shaped Content.
func NewPartsContent(parts []ContentPart) Content {
	return Content{Parts: parts, isParts: true}
}

// IsParts reports whether this content was sent/received as a parts sequence.
func (c Content) IsParts() bool { return c.isParts }

// String returns the flattened text of the content, concatenating any
// text parts and ignoring image parts.
func (c Content) String() string {
	if !c.isParts {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == ContentPartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.isParts {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*c = Content{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*c = Content{Parts: parts, isParts: true}
	return nil
}

// StopSequences is `stop`: a bare string or a sequence of strings.
type StopSequences []string

func (s StopSequences) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

func (s *StopSequences) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*s = nil
		return nil
	}
	if trimmed[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = StopSequences{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ChatMessage is one element of StandardRequest.Messages.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolChoiceMode discriminates ToolChoice's shape.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceAny      ToolChoiceMode = "any"
	ToolChoiceNamed    ToolChoiceMode = "named"
)

// ToolChoice is `tool_choice`: a bare mode keyword or a named-function object.
type ToolChoice struct {
	Mode         ToolChoiceMode
	FunctionName string
}

func (t ToolChoice) IsZero() bool { return t.Mode == "" }

func (t ToolChoice) MarshalJSON() ([]byte, error) {
	switch t.Mode {
	case "", ToolChoiceAuto:
		return json.Marshal("auto")
	case ToolChoiceNone:
		return json.Marshal("none")
	case ToolChoiceRequired:
		return json.Marshal("required")
	case ToolChoiceAny:
		return json.Marshal("any")
	case ToolChoiceNamed:
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": t.FunctionName},
		})
	}
	return json.Marshal("auto")
}

func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*t = ToolChoice{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = ToolChoice{Mode: ToolChoiceMode(s)}
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*t = ToolChoice{Mode: ToolChoiceNamed, FunctionName: obj.Function.Name}
	return nil
}

// ModelRef is StandardRequest.Model: a bare alias string or an object
// pinning an exact (model_id, provider_model_id) pair plus adapter extras.
type ModelRef struct {
	Alias           string
	ModelID         string
	ProviderModelID string
	ExtraParam      map[string]any
}

// RequestedID is the id the caller asked for, used by Registry.LookupExact.
func (m ModelRef) RequestedID() string {
	if m.ModelID != "" {
		return m.ModelID
	}
	return m.Alias
}

func (m ModelRef) MarshalJSON() ([]byte, error) {
	if m.ModelID == "" && m.ProviderModelID == "" && len(m.ExtraParam) == 0 {
		return json.Marshal(m.Alias)
	}
	return json.Marshal(map[string]any{
		"model_id":          m.ModelID,
		"provider_model_id": m.ProviderModelID,
		"extra_param":       m.ExtraParam,
	})
}

func (m *ModelRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = ModelRef{Alias: s}
		return nil
	}
	var obj struct {
		ModelID         string         `json:"model_id"`
		ProviderModelID string         `json:"provider_model_id"`
		ExtraParam      map[string]any `json:"extra_param"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*m = ModelRef{ModelID: obj.ModelID, ProviderModelID: obj.ProviderModelID, ExtraParam: obj.ExtraParam}
	return nil
}

// StandardRequest is the canonical internal request shape, isomorphic to
// an OpenAI chat-completion request.
type StandardRequest struct {
	Model             ModelRef      `json:"model"`
	Messages          []ChatMessage `json:"messages"`
	Stream            bool          `json:"stream,omitempty"`
	MaxTokens         int           `json:"max_tokens,omitempty"`
	Temperature       *float64      `json:"temperature,omitempty"`
	TopP              *float64      `json:"top_p,omitempty"`
	FrequencyPenalty  *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty   *float64      `json:"presence_penalty,omitempty"`
	Stop              StopSequences `json:"stop,omitempty"`
	User              string        `json:"user,omitempty"`
	Tools             []ToolSchema  `json:"tools,omitempty"`
	ToolChoice        ToolChoice    `json:"tool_choice,omitempty"`

	// Selector knobs. Not part of the OpenAI wire shape; accepted as
	// top-level extensions the way the teacher's ChatRequest carries Tags.
	SpeedVsPrice       *int     `json:"speed_vs_price,omitempty"`
	MaxCostPerToken    *float64 `json:"max_cost_per_token,omitempty"`
	PreferredProviders []string `json:"preferred_providers,omitempty"`

	// RequestID correlates this call across metrics/wallet/idempotency.
	// Assigned by the orchestrator if the caller did not supply one.
	RequestID string `json:"request_id,omitempty"`
}

// FinishReason enumerates StandardResponse/StreamChunk terminal states.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength         FinishReason = "length"
	FinishToolCalls      FinishReason = "tool_calls"
	FinishContentFilter  FinishReason = "content_filter"
)

// Usage is token accounting attached to a StandardResponse or final StreamChunk.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	CachedTokens     int  `json:"cached_tokens,omitempty"`
}

// Choice is one StandardResponse.Choices element.
type Choice struct {
	Index        int          `json:"index"`
	Message      ChatMessage  `json:"message"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// StandardResponse is the canonical `chat.completion` shape.
type StandardResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta is the incremental content of one StreamChunk choice.
type Delta struct {
	Role      Role       `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChunkChoice is one StreamChunk.Choices element.
type StreamChunkChoice struct {
	Index        int          `json:"index"`
	Delta        Delta        `json:"delta"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// StreamChunk is the canonical `chat.completion.chunk` shape. Usage is
// populated only on the final chunk, when upstream supplies it.
type StreamChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []StreamChunkChoice `json:"choices"`
	Usage   *Usage              `json:"usage,omitempty"`
}

// GatewayModel is a Model Registry entry, keyed by (ModelID, Provider).
type GatewayModel struct {
	ModelID             string            `json:"model_id" gorm:"column:model_id;index:idx_gw_model_provider,unique"`
	Provider            string            `json:"provider" gorm:"column:provider;index:idx_gw_model_provider,unique"`
	AdapterType         string            `json:"adapter_type" gorm:"column:adapter_type"`
	ProviderModelID     string            `json:"provider_model_id" gorm:"column:provider_model_id;index"`
	ContextWindow       int               `json:"context_window"`
	SupportToolCalling  bool              `json:"support_tool_calling"`
	SupportVision       bool              `json:"support_vision"`
	PricePerInputToken  float64           `json:"price_per_input_token"`
	PricePerOutputToken float64           `json:"price_per_output_token"`
	PricePerCachedToken *float64          `json:"price_per_cached_token,omitempty"`
	ExtraParam          map[string]string `json:"extra_param,omitempty" gorm:"serializer:json"`
	Active              bool              `json:"active"`
}

func (GatewayModel) TableName() string { return "sc_gw_models" }

// ProviderCombination is one Provider Selector ranking entry.
type ProviderCombination struct {
	ModelID            string  `json:"model_id"`
	Provider           string  `json:"provider"`
	Adapter            string  `json:"adapter"`
	ProviderModelID    string  `json:"provider_model_id"`
	PriceSum           float64 `json:"price_sum"`
	ThroughputMedianTS float64 `json:"throughput_median_ts"`
	LatencyMedianMS    float64 `json:"latency_median_ms"`
	CachingBoost       bool    `json:"caching_boost"`
	DistanceScore      float64 `json:"distance_score"`

	Model GatewayModel `json:"-"`
}

// AuthMethod discriminates how a caller authenticated.
type AuthMethod string

const (
	AuthMethodAPIKey AuthMethod = "api_key"
	AuthMethodBearer AuthMethod = "bearer_token"
)

// AuthUser is the authenticated caller identity.
type AuthUser struct {
	ID      string  `json:"id"`
	Balance float64 `json:"balance"`
	Email   string  `json:"email,omitempty"`
}

// AuthAPIKey identifies the credential used, when auth was by API key.
type AuthAPIKey struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AuthData is what the external auth collaborator resolves a request to.
type AuthData struct {
	User   AuthUser    `json:"user"`
	APIKey *AuthAPIKey `json:"api_key,omitempty"`
	Method AuthMethod  `json:"method"`
}

// ScoreRange maps one evaluator-score band to a concrete target model.
type ScoreRange struct {
	Min             int    `json:"min_score" yaml:"min_score"`
	Max             int    `json:"max_score" yaml:"max_score"`
	TargetModel     string `json:"target_model" yaml:"target_model"`
	TargetProvider  string `json:"target_provider" yaml:"target_provider"`
	Reason          string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// FamilyConfig describes one `family/*` alias's routing behavior.
type FamilyConfig struct {
	ID                string       `json:"id" yaml:"-"`
	DisplayName       string       `json:"display_name" yaml:"display_name"`
	Description       string       `json:"description" yaml:"description"`
	IsActive          bool         `json:"is_active" yaml:"is_active"`
	EvaluatorModel    string       `json:"evaluation_model_id" yaml:"evaluation_model_id"`
	EvaluatorProvider string       `json:"evaluation_provider" yaml:"evaluation_provider"`
	ScoreRanges       []ScoreRange `json:"score_ranges" yaml:"-"`
	FallbackModel     string       `json:"fallback_model" yaml:"-"`
	FallbackProvider  string       `json:"fallback_provider" yaml:"-"`
	CacheTTLMinutes   int          `json:"cache_duration_minutes" yaml:"-"`
	EvalTimeoutMS     int          `json:"evaluation_timeout_ms" yaml:"-"`
}

// MetricsSample is one row the orchestrator emits per attempt.
type MetricsSample struct {
	ID                 uint    `json:"-" gorm:"primaryKey"`
	CreatedAt          int64   `json:"created_at" gorm:"autoCreateTime;index"`
	RequestID          string  `json:"request_id" gorm:"index"`
	UserID             string  `json:"user_id"`
	Model              string  `json:"model" gorm:"index:idx_metrics_model_provider"`
	Provider           string  `json:"provider" gorm:"index:idx_metrics_model_provider"`
	Adapter            string  `json:"adapter"`
	Streamed           bool    `json:"streamed"`
	PromptTokens       int     `json:"prompt_tokens"`
	CompletionTokens   int     `json:"completion_tokens"`
	CachedTokens       int     `json:"cached_tokens"`
	Cost               float64 `json:"cost"`
	TotalDurationMS    float64 `json:"total_duration_ms"`
	TimeToFirstChunkMS float64 `json:"time_to_first_chunk_ms,omitempty"`
	ThroughputTokensS  float64 `json:"throughput_tokens_s,omitempty"`
	AttemptNumber      int     `json:"attempt_number"`
	Success            bool    `json:"success"`
	ErrorKind          string  `json:"error_kind,omitempty"`
}

func (MetricsSample) TableName() string { return "sc_gw_metrics_samples" }

// WalletTransactionKind discriminates a WalletTransaction's direction.
type WalletTransactionKind string

const (
	WalletTxDebit  WalletTransactionKind = "debit"
	WalletTxCredit WalletTransactionKind = "credit"
)

// WalletTransaction is one ledger entry. The unique index on RequestID+Kind
// is what makes WalletLedger.Debit idempotent: a second debit carrying the
// same request_id violates the constraint and is treated as "already
// applied" rather than retried.
type WalletTransaction struct {
	ID        uint                  `json:"id" gorm:"primaryKey"`
	RequestID string                `json:"request_id" gorm:"size:128;uniqueIndex:idx_wallet_tx_request"`
	Kind      WalletTransactionKind `json:"kind" gorm:"size:16;uniqueIndex:idx_wallet_tx_request"`
	UserID    string                `json:"user_id" gorm:"index"`
	Amount    float64               `json:"amount"`
	Meta      map[string]any        `json:"meta,omitempty" gorm:"serializer:json"`
	CreatedAt int64                 `json:"created_at" gorm:"autoCreateTime"`
}

func (WalletTransaction) TableName() string { return "sc_gw_wallet_transactions" }

// WalletBalance is the running balance row a WalletLedger debits/credits.
type WalletBalance struct {
	UserID    string  `json:"user_id" gorm:"primaryKey;size:128"`
	Balance   float64 `json:"balance"`
	UpdatedAt int64   `json:"updated_at" gorm:"autoUpdateTime"`
}

func (WalletBalance) TableName() string { return "sc_gw_wallet_balances" }

// CallerAPIKey is one caller-facing API key row the AuthProvider resolves
// an Authorization header against. KeyHash is the hex-encoded sha256 of
// the raw key value; the raw value itself is never stored.
type CallerAPIKey struct {
	ID        string `json:"id" gorm:"primaryKey;size:64"`
	KeyHash   string `json:"-" gorm:"size:64;uniqueIndex"`
	UserID    string `json:"user_id" gorm:"index"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at" gorm:"autoCreateTime"`
}

func (CallerAPIKey) TableName() string { return "sc_gw_caller_api_keys" }

// String implements fmt.Stringer for debug logging of a ranked combination.
func (pc ProviderCombination) String() string {
	return fmt.Sprintf("%s/%s(price=%.3f tput=%.1f lat=%.1f cache=%v score=%.4f)",
		pc.ModelID, pc.Provider, pc.PriceSum, pc.ThroughputMedianTS, pc.LatencyMedianMS,
		pc.CachingBoost, pc.DistanceScore)
}
