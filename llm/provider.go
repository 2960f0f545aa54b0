// Package llm provides the gateway's protocol-adapter contract and the
// external collaborator interfaces (auth, wallet, metrics, tokenizer) that
// the orchestrator depends on without knowing their concrete backing.
package llm

import (
	"context"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/types"
)

// Re-export commonly used canonical types so adapter packages only need to
// import llm, not types, for the shapes they touch most.
type (
	Message      = types.Message
	Role         = types.Role
	ToolCall     = types.ToolCall
	ToolSchema   = types.ToolSchema
	ToolResult   = types.ToolResult
	Error        = types.Error
	ErrorCode    = types.ErrorCode
	ImageContent = types.ImageContent

	StandardRequest  = types.StandardRequest
	StandardResponse = types.StandardResponse
	GatewayModel     = types.GatewayModel
)

const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
	RoleTool      = types.RoleTool
)

// Adapter is implemented once per adapter_type (openai, azure-openai,
// anthropic-native, bedrock-anthropic, vertex-anthropic). Configure is
// called once per GatewayModel the registry loads; the returned session
// is reused across requests for that model.
type Adapter interface {
	Type() string
	Configure(model types.GatewayModel) (AdapterSession, error)
}

// AdapterSession is bound to one resolved (model, provider) pair: its
// credentials and endpoint are already resolved, so Execute/ExecuteStream
// never need to touch the registry or environment again.
type AdapterSession interface {
	// IsConfigured reports whether credentials/env-refs resolved
	// successfully at Configure time. The selector's hard filters drop
	// any combination whose session is not configured.
	IsConfigured() bool

	// Validate rejects a request the adapter cannot satisfy (e.g. tool
	// use on a model that doesn't support it) before any network call.
	Validate(req *types.StandardRequest) error

	// Execute performs one non-streaming attempt.
	Execute(ctx context.Context, req *types.StandardRequest) (*types.StandardResponse, error)

	// ExecuteStream performs one streaming attempt. The returned channel
	// is closed when the upstream stream ends or ctx is canceled.
	ExecuteStream(ctx context.Context, req *types.StandardRequest) (<-chan StreamEvent, error)
}

// StreamEvent is one item off an AdapterSession's stream channel: either a
// chunk or a terminal error, never both.
type StreamEvent struct {
	Chunk *types.StreamChunk
	Err   error
}

// HealthStatus is a lightweight adapter reachability probe result.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"`
}

// IsRetryable reports whether err (if a *types.Error) is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
