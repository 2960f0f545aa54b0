// Package factory builds the gateway's llm.Adapter instances, one per
// adapter_type, and assembles them into an AdapterRegistry the orchestrator
// can look up by the adapter_type column on a GatewayModel row. Adapters are
// long-lived and stateless across models; per-model credentials are
// resolved each time Configure is called.
package factory

import (
	"fmt"
	"sync"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/providers/anthropic"
	"github.com/MakeHub-ai/makehub-gateway/providers/azureopenai"
	"github.com/MakeHub-ai/makehub-gateway/providers/bedrockanthropic"
	"github.com/MakeHub-ai/makehub-gateway/providers/openai"
	"github.com/MakeHub-ai/makehub-gateway/providers/vertexanthropic"
	"go.uber.org/zap"
)

// AdapterConfig carries the adapter-wide defaults (shared across every
// GatewayModel of that adapter_type); per-model overrides still flow
// through GatewayModel.ExtraParam at Configure time.
type AdapterConfig struct {
	APIKey       string
	BaseURL      string
	Organization string

	// AWS, used by bedrock-anthropic.
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// GCP, used by vertex-anthropic.
	GCPProjectID   string
	GCPRegion      string
	GCPClientEmail string
	GCPPrivateKey  string
}

// NewAdapter builds the llm.Adapter for one adapter_type. Supported types:
// openai, azure-openai, anthropic-native, bedrock-anthropic,
// vertex-anthropic.
func NewAdapter(adapterType string, cfg AdapterConfig, logger *zap.Logger) (llm.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch adapterType {
	case "openai":
		return &openai.Adapter{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Organization: cfg.Organization, Logger: logger}, nil
	case "azure-openai":
		return &azureopenai.Adapter{Logger: logger}, nil
	case "anthropic-native":
		return &anthropic.Adapter{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Logger: logger}, nil
	case "bedrock-anthropic":
		return &bedrockanthropic.Adapter{Region: cfg.AWSRegion, AccessKeyID: cfg.AWSAccessKeyID, SecretAccessKey: cfg.AWSSecretAccessKey, Logger: logger}, nil
	case "vertex-anthropic":
		return &vertexanthropic.Adapter{ProjectID: cfg.GCPProjectID, Region: cfg.GCPRegion, ClientEmail: cfg.GCPClientEmail, PrivateKey: cfg.GCPPrivateKey, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported adapter_type %q", adapterType)
	}
}

// AdapterRegistry holds one Adapter per adapter_type and caches the
// AdapterSession resolved for each GatewayModel so the orchestrator's
// attempt loop does not re-resolve credentials on every request.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]llm.Adapter
	sessions map[string]llm.AdapterSession // keyed by "model_id/provider"
	logger   *zap.Logger
}

// NewAdapterRegistry builds an AdapterRegistry from a map of adapter_type ->
// AdapterConfig, constructing every adapter up front.
func NewAdapterRegistry(configs map[string]AdapterConfig, logger *zap.Logger) (*AdapterRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := &AdapterRegistry{
		adapters: make(map[string]llm.Adapter, len(configs)),
		sessions: make(map[string]llm.AdapterSession),
		logger:   logger.With(zap.String("component", "adapter_registry")),
	}
	for adapterType, cfg := range configs {
		a, err := NewAdapter(adapterType, cfg, logger)
		if err != nil {
			return nil, err
		}
		reg.adapters[adapterType] = a
	}
	return reg, nil
}

// sessionKey returns the model row's ProviderCombination cache key.
func sessionKey(modelID, provider string) string { return modelID + "/" + provider }

// Session resolves (and caches) the AdapterSession for model. The session
// is configured once per (model_id, provider) pair and reused, since
// Configure performs no network I/O — only credential/endpoint resolution.
func (r *AdapterRegistry) Session(model llm.GatewayModel) (llm.AdapterSession, error) {
	key := sessionKey(model.ModelID, model.Provider)

	r.mu.RLock()
	if s, ok := r.sessions[key]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s, nil
	}

	a, ok := r.adapters[model.AdapterType]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for adapter_type %q (model=%s provider=%s)", model.AdapterType, model.ModelID, model.Provider)
	}
	session, err := a.Configure(model)
	if err != nil {
		return nil, fmt.Errorf("configure %s/%s: %w", model.ModelID, model.Provider, err)
	}
	r.sessions[key] = session
	r.logger.Debug("adapter session configured", zap.String("model_id", model.ModelID), zap.String("provider", model.Provider), zap.String("adapter_type", model.AdapterType))
	return session, nil
}

// InvalidateSession drops a cached session, forcing the next Session call
// to re-run Configure (e.g. after a registry refresh changes extra_param).
func (r *AdapterRegistry) InvalidateSession(modelID, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionKey(modelID, provider))
}

// SupportedAdapterTypes lists the adapter_type values this build can
// construct.
func SupportedAdapterTypes() []string {
	return []string{"openai", "azure-openai", "anthropic-native", "bedrock-anthropic", "vertex-anthropic"}
}
