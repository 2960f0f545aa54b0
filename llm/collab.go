package llm

import (
	"context"

	"github.com/MakeHub-ai/makehub-gateway/types"
)

// AuthProvider authenticates an inbound request from its HTTP headers.
// The concrete implementation lives in internal/auth.
type AuthProvider interface {
	Authenticate(ctx context.Context, headers map[string][]string) (*types.AuthData, error)
}

// WalletLedger is the external billing ledger. Debit must be idempotent
// on requestID: calling it twice with the same requestID debits once.
type WalletLedger interface {
	GetBalance(ctx context.Context, userID string) (float64, error)
	Debit(ctx context.Context, userID string, amount float64, requestID string, meta map[string]any) error
	Credit(ctx context.Context, userID string, amount float64, requestID string, meta map[string]any) error
}

// MetricsStore is the external metrics persistence boundary. Record is
// fire-and-forget from the orchestrator's point of view; GetPerformance
// and GetCacheHistory back the Provider Selector (§4.B).
type MetricsStore interface {
	Record(ctx context.Context, sample types.MetricsSample) error
	GetPerformance(ctx context.Context, modelID string, providers []string, windowSize int) (map[string]ProviderPerformance, error)
	GetCacheHistory(ctx context.Context, userID, modelID string, providers []string) (map[string]bool, error)
}

// ProviderPerformance is the aggregate the Metrics Store Reader returns
// per provider; nil medians mean "no samples", handled by the selector's
// global-median fallback.
type ProviderPerformance struct {
	ThroughputMedianTS *float64
	LatencyMedianMS    *float64
	SampleCount        int
}

// NotificationChannel is a fire-and-forget alerting sink, used for
// upstream 5xx/timeout events during the orchestrator's attempt loop.
type NotificationChannel interface {
	Notify(ctx context.Context, severity string, message string)
}

// RequestTokenizer estimates input tokens for a StandardRequest, used by
// the Provider Selector's context-window hard filter.
type RequestTokenizer interface {
	EstimateTokens(model string, messages []types.ChatMessage) (int, error)
}
