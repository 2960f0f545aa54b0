// Package openai implements the gateway's "openai" adapter_type: a plain
// pass-through to OpenAI's chat completions API.
package openai

import (
	"net/http"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/providers/openaicompat"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
)

// Adapter implements llm.Adapter for adapter_type "openai".
type Adapter struct {
	APIKey       string
	BaseURL      string
	Organization string
	Logger       *zap.Logger
}

func (a *Adapter) Type() string { return "openai" }

// Configure builds a session pinned to model's provider_model_id. The
// model's own api_key/base_url extras (set via family YAML or the
// registry row) override the adapter's defaults, so a single Adapter can
// back several differently-credentialed GatewayModel rows.
func (a *Adapter) Configure(model types.GatewayModel) (llm.AdapterSession, error) {
	apiKey := a.APIKey
	baseURL := a.BaseURL
	if v, ok := model.ExtraParam["api_key"]; ok && v != "" {
		apiKey = v
	}
	if v, ok := model.ExtraParam["base_url"]; ok && v != "" {
		baseURL = v
	}
	configured := apiKey != "" && baseURL != ""

	cfg := openaicompat.Config{
		ProviderName:    "openai",
		APIKey:          apiKey,
		BaseURL:         baseURL,
		ProviderModelID: model.ProviderModelID,
		SupportsTools:   &model.SupportToolCalling,
		Configured:      configured,
		BuildHeaders: func(req *http.Request, key string) {
			req.Header.Set("Authorization", "Bearer "+key)
			if a.Organization != "" {
				req.Header.Set("OpenAI-Organization", a.Organization)
			}
			req.Header.Set("Content-Type", "application/json")
		},
	}
	return openaicompat.New(cfg, a.Logger), nil
}
