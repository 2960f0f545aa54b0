// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm defines the gateway's protocol-adapter contract and the
external collaborator interfaces the request orchestrator depends on.

# Overview

The llm package does not implement any upstream protocol itself. It
declares the seams the rest of the gateway is built against:

  - Adapter / AdapterSession: the uniform configure/validate/execute
    contract every upstream wire protocol is translated into, implemented
    per adapter_type under providers/.
  - Collab: the external collaborators (auth, wallet, metrics store,
    notifications, tokenizer) the orchestrator calls without knowing their
    concrete backing.
  - Registry: the in-memory Model Registry snapshot, atomically refreshed
    from storage.

# Adapter contract

	type Adapter interface {
	    Type() string
	    Configure(model types.GatewayModel) (AdapterSession, error)
	}

	type AdapterSession interface {
	    IsConfigured() bool
	    Validate(req *types.StandardRequest) error
	    Execute(ctx context.Context, req *types.StandardRequest) (*types.StandardResponse, error)
	    ExecuteStream(ctx context.Context, req *types.StandardRequest) (<-chan StreamEvent, error)
	}

Configure is called once per GatewayModel row the registry loads; the
returned session is reused across every request routed to that row. A
session that failed to resolve credentials still gets constructed, but its
IsConfigured returns false so the Provider Selector's hard filters drop it.

# Supported adapter_type values

  - openai: plain OpenAI chat-completions.
  - azure-openai: same wire shape, api-key header auth, deployment-scoped
    endpoint templating.
  - anthropic-native: Claude Messages API, including prompt-cache
    placement and the streaming delta state machine.

bedrock-anthropic and vertex-anthropic share anthropic-native's translation
core (providers/anthropic's exported BuildRequestPayload/
ParseResponsePayload/StreamSSE) behind their own AWS/GCP transports.

# Streaming

Every AdapterSession.ExecuteStream returns a channel of StreamEvent, each
either a StreamChunk or a terminal error, never both:

	events, err := session.ExecuteStream(ctx, req)
	for ev := range events {
	    if ev.Err != nil {
	        return ev.Err
	    }
	    writeChunk(ev.Chunk)
	}

# Error handling

Adapters return *types.Error, a single discriminated error type carrying a
gateway-wide code, an HTTP status, a retryable bit and the originating
provider name. Use IsRetryable to decide whether the orchestrator's attempt
loop should fall through to the next ranked combination:

	if llm.IsRetryable(err) {
	    // try the next ProviderCombination
	}

# External collaborators

See collab.go for the AuthProvider, WalletLedger, MetricsStore,
NotificationChannel and RequestTokenizer interfaces,
and the internal/auth, internal/wallet, internal/metricsstore, internal/
notify and llm/tokenizer packages for their concrete implementations.
*/
package llm
