// Package bedrockanthropic implements the "bedrock-anthropic" adapter_type:
// Claude models served through Amazon Bedrock's InvokeModel/
// InvokeModelWithResponseStream surface. It reuses providers/anthropic's
// Messages-API translation core (BuildRequestPayload/ParseResponsePayload/
// StreamSSE) and replaces only the transport, which goes through the AWS
// SDK instead of a bare *http.Client.
package bedrockanthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/providers/anthropic"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"
)

// bedrockAnthropicVersion replaces the native API's top-level "model"
// field: Bedrock addresses the model through the InvokeModel call itself,
// and instead expects this fixed "anthropic_version" marker in the body.
const bedrockAnthropicVersion = "bedrock-2023-05-31"

// Config resolves one (model, region, credentials) Bedrock session.
type Config struct {
	ProviderName    string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ProviderModelID string // Bedrock model ID, e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0"
	SupportsTools   *bool
	Configured      bool
}

// Session implements llm.AdapterSession over bedrockruntime.Client.
type Session struct {
	Cfg    Config
	Client *bedrockruntime.Client
}

// NewSession builds a Session. When cfg.Configured is false the returned
// Session still satisfies llm.AdapterSession but IsConfigured reports
// false, so the orchestrator skips straight to the next candidate instead
// of calling Execute against an unusable client.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if !cfg.Configured {
		return &Session{Cfg: cfg}, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock-anthropic: load aws config: %w", err)
	}
	return &Session{Cfg: cfg, Client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

func (s *Session) IsConfigured() bool { return s.Cfg.Configured && s.Client != nil }

func (s *Session) Validate(req *types.StandardRequest) error {
	if len(req.Tools) > 0 && s.Cfg.SupportsTools != nil && !*s.Cfg.SupportsTools {
		return &types.Error{Code: types.ErrValidation, Message: "model does not support tool calling", Provider: s.Cfg.ProviderName}
	}
	return nil
}

// toBedrockPayload builds the Messages-API body through the shared core,
// then swaps "model" for the version marker Bedrock's InvokeModel expects.
func toBedrockPayload(req *types.StandardRequest) ([]byte, error) {
	raw, err := anthropic.BuildRequestPayload(req, "")
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	delete(obj, "model")
	delete(obj, "stream")
	ver, _ := json.Marshal(bedrockAnthropicVersion)
	obj["anthropic_version"] = ver
	return json.Marshal(obj)
}

func (s *Session) Execute(ctx context.Context, req *types.StandardRequest) (*types.StandardResponse, error) {
	payload, err := toBedrockPayload(req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	out, err := s.Client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(s.Cfg.ProviderModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, mapAWSError(err, s.Cfg.ProviderName)
	}
	return anthropic.ParseResponsePayload(out.Body, s.Cfg.ProviderName)
}

func (s *Session) ExecuteStream(ctx context.Context, req *types.StandardRequest) (<-chan llm.StreamEvent, error) {
	payload, err := toBedrockPayload(req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	out, err := s.Client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(s.Cfg.ProviderModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, mapAWSError(err, s.Cfg.ProviderName)
	}

	pr, pw := io.Pipe()
	stream := out.GetStream()
	go func() {
		defer stream.Close()
		for event := range stream.Events() {
			chunk, ok := event.(*brtypes.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			if _, err := pw.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := pw.Write(chunk.Value.Bytes); err != nil {
				return
			}
			if _, err := pw.Write([]byte("\n\n")); err != nil {
				return
			}
		}
		pw.CloseWithError(stream.Err())
	}()

	return anthropic.StreamSSE(ctx, pr, s.Cfg.ProviderName), nil
}

// mapAWSError translates an AWS SDK error into the gateway's error shape.
// Bedrock calls never produce an *http.Response the way the native/vertex
// transports do, so this sits alongside providers.MapHTTPError rather than
// reusing it.
func mapAWSError(err error, provider string) *types.Error {
	var throttle *brtypes.ThrottlingException
	var validation *brtypes.ValidationException
	var notFound *brtypes.ResourceNotFoundException
	var accessDenied *brtypes.AccessDeniedException
	switch {
	case errors.As(err, &throttle):
		return &types.Error{Code: types.ErrRateLimit, Message: err.Error(), Retryable: true, Provider: provider}
	case errors.As(err, &validation):
		return &types.Error{Code: types.ErrValidation, Message: err.Error(), Retryable: false, Provider: provider}
	case errors.As(err, &notFound):
		return &types.Error{Code: types.ErrModelNotFound, Message: err.Error(), Retryable: false, Provider: provider}
	case errors.As(err, &accessDenied):
		return &types.Error{Code: types.ErrAuthentication, Message: err.Error(), Retryable: false, Provider: provider}
	default:
		return &types.Error{Code: types.ErrNetwork, Message: err.Error(), Retryable: true, Provider: provider}
	}
}

// Adapter implements llm.Adapter for adapter_type "bedrock-anthropic".
// Region/AccessKeyID/SecretAccessKey are fleet-wide defaults from
// config.AWSConfig; a GatewayModel's own extra_param.region/access_key_id/
// secret_access_key override them per row, the same pattern
// anthropic.Adapter uses for api_key/base_url.
type Adapter struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Logger          *zap.Logger
}

func (a *Adapter) Type() string { return "bedrock-anthropic" }

func (a *Adapter) Configure(model types.GatewayModel) (llm.AdapterSession, error) {
	region := a.Region
	if v, ok := model.ExtraParam["region"]; ok && v != "" {
		region = v
	}
	accessKeyID := a.AccessKeyID
	if v, ok := model.ExtraParam["access_key_id"]; ok && v != "" {
		accessKeyID = v
	}
	secretAccessKey := a.SecretAccessKey
	if v, ok := model.ExtraParam["secret_access_key"]; ok && v != "" {
		secretAccessKey = v
	}

	cfg := Config{
		ProviderName:    "bedrock-anthropic",
		Region:          region,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		ProviderModelID: model.ProviderModelID,
		SupportsTools:   &model.SupportToolCalling,
		Configured:      region != "",
	}
	return NewSession(context.Background(), cfg)
}
