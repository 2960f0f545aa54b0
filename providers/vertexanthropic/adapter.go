// Package vertexanthropic implements the "vertex-anthropic" adapter_type:
// Claude models served through Vertex AI's Model Garden :rawPredict/
// :streamRawPredict surface. It wraps providers/anthropic's Session
// directly, supplying only what differs from the native transport — the
// project/region/model URL shape and a GCP OAuth bearer header in place
// of x-api-key.
package vertexanthropic

import (
	"encoding/json"
	"fmt"
	"net/http"

	gauth "cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/providers/anthropic"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
)

// vertexAnthropicVersion replaces the native API's top-level "model"
// field, the same way bedrock-anthropic's bedrockAnthropicVersion does:
// Vertex addresses the model through the request URL, not the body.
const (
	vertexAnthropicVersion = "vertex-2023-10-16"
	cloudPlatformScope     = "https://www.googleapis.com/auth/cloud-platform"
)

// Config resolves one (project, region, model, credentials) Vertex session.
type Config struct {
	ProjectID       string
	Region          string
	ClientEmail     string
	PrivateKey      string
	ProviderModelID string
	SupportsTools   *bool
}

// NewSession builds an *anthropic.Session configured for Vertex's transport
// and auth. When cfg is incomplete it still returns a Session, left
// unconfigured, so the orchestrator skips to the next candidate instead of
// failing adapter construction outright.
func NewSession(cfg Config) (*anthropic.Session, error) {
	configured := cfg.ProjectID != "" && cfg.Region != "" && cfg.ClientEmail != "" && cfg.PrivateKey != ""
	if !configured {
		return anthropic.NewSession(anthropic.Config{ProviderName: "vertex-anthropic", Configured: false}), nil
	}

	saJSON, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"client_email": cfg.ClientEmail,
		"private_key":  cfg.PrivateKey,
		"token_uri":    "https://oauth2.googleapis.com/token",
	})
	if err != nil {
		return nil, fmt.Errorf("vertex-anthropic: build service account json: %w", err)
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: saJSON,
		Scopes:          []string{cloudPlatformScope},
	})
	if err != nil {
		return nil, fmt.Errorf("vertex-anthropic: resolve credentials: %w", err)
	}

	endpoint := func(streaming bool) string {
		method := "rawPredict"
		if streaming {
			method = "streamRawPredict"
		}
		return fmt.Sprintf(
			"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:%s",
			cfg.Region, cfg.ProjectID, cfg.Region, cfg.ProviderModelID, method,
		)
	}

	return anthropic.NewSession(anthropic.Config{
		ProviderName:    "vertex-anthropic",
		ProviderModelID: cfg.ProviderModelID,
		SupportsTools:   cfg.SupportsTools,
		Configured:      true,
		Endpoint:        endpoint,
		BuildHeaders:    buildHeaders(creds),
		RewritePayload:  rewritePayload,
	}), nil
}

// buildHeaders fetches a fresh (cached/refreshed internally by creds)
// bearer token per request, rather than baking one token in at session
// construction time where it would eventually expire.
func buildHeaders(creds *gauth.Credentials) func(req *http.Request, _ string) {
	return func(req *http.Request, _ string) {
		token, err := creds.Token(req.Context())
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+token.Value)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
	}
}

// rewritePayload swaps the native body's "model" field for Vertex's
// required "anthropic_version" marker.
func rewritePayload(payload []byte) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	delete(obj, "model")
	ver, _ := json.Marshal(vertexAnthropicVersion)
	obj["anthropic_version"] = ver
	return json.Marshal(obj)
}

// Adapter implements llm.Adapter for adapter_type "vertex-anthropic".
// ProjectID/Region/ClientEmail/PrivateKey are fleet-wide defaults from
// config.GCPConfig; a GatewayModel's own extra_param fields override them
// per row, the same pattern anthropic.Adapter uses for api_key/base_url.
type Adapter struct {
	ProjectID   string
	Region      string
	ClientEmail string
	PrivateKey  string
	Logger      *zap.Logger
}

func (a *Adapter) Type() string { return "vertex-anthropic" }

func (a *Adapter) Configure(model types.GatewayModel) (llm.AdapterSession, error) {
	projectID := a.ProjectID
	if v, ok := model.ExtraParam["project_id"]; ok && v != "" {
		projectID = v
	}
	region := a.Region
	if v, ok := model.ExtraParam["region"]; ok && v != "" {
		region = v
	}
	clientEmail := a.ClientEmail
	if v, ok := model.ExtraParam["client_email"]; ok && v != "" {
		clientEmail = v
	}
	privateKey := a.PrivateKey
	if v, ok := model.ExtraParam["private_key"]; ok && v != "" {
		privateKey = v
	}

	return NewSession(Config{
		ProjectID:       projectID,
		Region:          region,
		ClientEmail:     clientEmail,
		PrivateKey:      privateKey,
		ProviderModelID: model.ProviderModelID,
		SupportsTools:   &model.SupportToolCalling,
	})
}
