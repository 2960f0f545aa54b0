// Package azureopenai implements the gateway's "azure-openai" adapter_type.
// It reuses the openaicompat wire format but authenticates with an
// "api-key" header and templates the deployment-scoped Azure endpoint
// instead of OpenAI's flat /v1/chat/completions path.
package azureopenai

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/providers/openaicompat"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
)

const defaultAPIVersion = "2025-04-01-preview"

// Adapter implements llm.Adapter for adapter_type "azure-openai". Each
// GatewayModel row carries its own resource endpoint, deployment name,
// and API key via ExtraParam, since one Azure subscription can host many
// differently-named deployments across resources.
type Adapter struct {
	Logger *zap.Logger
}

func (a *Adapter) Type() string { return "azure-openai" }

func (a *Adapter) Configure(model types.GatewayModel) (llm.AdapterSession, error) {
	endpoint := model.ExtraParam["endpoint"]
	deployment := model.ExtraParam["deployment"]
	apiKey := model.ExtraParam["api_key"]
	apiVersion := model.ExtraParam["api_version"]
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	configured := endpoint != "" && deployment != "" && apiKey != ""

	path := fmt.Sprintf("/openai/deployments/%s/chat/completions?api-version=%s", deployment, apiVersion)
	cfg := openaicompat.Config{
		ProviderName:    "azure-openai",
		APIKey:          apiKey,
		BaseURL:         strings.TrimRight(endpoint, "/"),
		ProviderModelID: deployment,
		EndpointPath:    path,
		ModelsEndpoint:  fmt.Sprintf("/openai/models?api-version=%s", apiVersion),
		SupportsTools:   &model.SupportToolCalling,
		Configured:      configured,
		BuildHeaders: func(req *http.Request, key string) {
			req.Header.Set("api-key", key)
			req.Header.Set("Content-Type", "application/json")
		},
	}
	return openaicompat.New(cfg, a.Logger), nil
}
