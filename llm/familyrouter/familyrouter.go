// Package familyrouter resolves a `family/*` alias to a concrete
// (model_id, provider) pair by sending the caller's conversation to a
// small evaluator model and mapping its numeric score onto the family's
// configured score ranges, caching the result per (user, family, prompt).
package familyrouter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
)

// ModelResolver is the subset of the Model Registry the router needs: a
// way to re-validate a routing target is still a real, active row.
type ModelResolver interface {
	LookupExact(requestedID string) []types.GatewayModel
}

// SessionResolver is the subset of factory.AdapterRegistry the router
// needs to configure a session for the family's evaluator model.
type SessionResolver interface {
	Session(model types.GatewayModel) (llm.AdapterSession, error)
}

// Cache is the per-user routing-decision cache. *internal/cache.Manager
// satisfies this directly; a nil Cache disables caching (every call re-runs
// the evaluator).
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Decision is one resolved routing outcome, cached verbatim.
type Decision struct {
	ModelID  string `json:"model_id"`
	Provider string `json:"provider"`
}

// Router implements the Family Router (spec.md §4.E).
type Router struct {
	Families  map[string]types.FamilyConfig
	Models    ModelResolver
	Sessions  SessionResolver
	Cache     Cache
	DefaultTTL time.Duration
	Logger    *zap.Logger
}

// New builds a Router over the parsed family-config set.
func New(families map[string]types.FamilyConfig, models ModelResolver, sessions SessionResolver, cache Cache, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		Families:   families,
		Models:     models,
		Sessions:   sessions,
		Cache:      cache,
		DefaultTTL: 10 * time.Minute,
		Logger:     logger.With(zap.String("component", "family_router")),
	}
}

// IsFamilyAlias reports whether requestedID names a configured family
// rather than a concrete model_id.
func (r *Router) IsFamilyAlias(requestedID string) (types.FamilyConfig, bool) {
	id := strings.TrimPrefix(requestedID, "family/")
	f, ok := r.Families[id]
	if !ok || !f.IsActive {
		return types.FamilyConfig{}, false
	}
	return f, true
}

// Resolve maps a family alias to a concrete (model_id, provider) pair for
// this request. It never recurses: the family's own score-range targets
// and fallback must themselves be concrete model ids, never another
// family alias — a misconfigured family pointing at itself or another
// family is a configuration error the caller should have caught at load
// time, not something Resolve retries.
func (r *Router) Resolve(ctx context.Context, family types.FamilyConfig, req *types.StandardRequest, userID string) (Decision, error) {
	key := cacheKey(userID, family.ID, req.Messages)

	if r.Cache != nil {
		var cached Decision
		if err := r.Cache.GetJSON(ctx, key, &cached); err == nil && cached.ModelID != "" {
			if r.validate(cached.ModelID, cached.Provider) {
				return cached, nil
			}
			r.Logger.Debug("cached family decision no longer valid, re-evaluating", zap.String("family", family.ID))
		}
	}

	decision, err := r.evaluate(ctx, family, req)
	if err != nil {
		r.Logger.Warn("family evaluator call failed, using fallback", zap.String("family", family.ID), zap.Error(err))
		decision = Decision{ModelID: family.FallbackModel, Provider: family.FallbackProvider}
	}

	if !r.validate(decision.ModelID, decision.Provider) {
		r.Logger.Warn("family routing target failed hard filters, using fallback",
			zap.String("family", family.ID), zap.String("target_model", decision.ModelID), zap.String("target_provider", decision.Provider))
		decision = Decision{ModelID: family.FallbackModel, Provider: family.FallbackProvider}
		if !r.validate(decision.ModelID, decision.Provider) {
			return Decision{}, &types.Error{
				Code:      types.ErrNoProviders,
				Message:   fmt.Sprintf("family %q: neither the evaluated target nor the fallback model is available", family.ID),
				Retryable: false,
			}
		}
	}

	if r.Cache != nil {
		ttl := r.DefaultTTL
		if family.CacheTTLMinutes > 0 {
			ttl = time.Duration(family.CacheTTLMinutes) * time.Minute
		}
		if err := r.Cache.SetJSON(ctx, key, decision, ttl); err != nil {
			r.Logger.Warn("failed to cache family decision", zap.Error(err))
		}
	}

	return decision, nil
}

// evaluate calls the family's evaluator model with the caller's
// conversation and asks it to output a single integer score, then maps
// that score onto family.ScoreRanges.
func (r *Router) evaluate(ctx context.Context, family types.FamilyConfig, req *types.StandardRequest) (Decision, error) {
	rows := r.Models.LookupExact(family.EvaluatorModel)
	var evalModel types.GatewayModel
	found := false
	for _, m := range rows {
		if m.Provider == family.EvaluatorProvider && m.Active {
			evalModel = m
			found = true
			break
		}
	}
	if !found {
		return Decision{}, fmt.Errorf("evaluator model %s/%s not found or inactive", family.EvaluatorModel, family.EvaluatorProvider)
	}

	session, err := r.Sessions.Session(evalModel)
	if err != nil {
		return Decision{}, fmt.Errorf("configure evaluator session: %w", err)
	}

	timeout := 5 * time.Second
	if family.EvalTimeoutMS > 0 {
		timeout = time.Duration(family.EvalTimeoutMS) * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	evalReq := &types.StandardRequest{
		Model:     types.ModelRef{ModelID: family.EvaluatorModel},
		Messages:  append([]types.ChatMessage{{Role: types.RoleSystem, Content: types.NewTextContent(evaluatorPrompt(family))}}, req.Messages...),
		MaxTokens: 8,
	}
	resp, err := session.Execute(evalCtx, evalReq)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluator call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Decision{}, fmt.Errorf("evaluator returned no choices")
	}

	score, err := parseScore(resp.Choices[0].Message.Content.String())
	if err != nil {
		return Decision{}, err
	}

	for _, rng := range family.ScoreRanges {
		if score >= rng.Min && score <= rng.Max {
			return Decision{ModelID: rng.TargetModel, Provider: rng.TargetProvider}, nil
		}
	}
	return Decision{}, fmt.Errorf("evaluator score %d matched no configured range", score)
}

// validate re-runs the Provider Selector's first hard filter against the
// current registry snapshot: the resolved target must still be a real,
// active (model_id, provider) row.
func (r *Router) validate(modelID, provider string) bool {
	if modelID == "" || provider == "" {
		return false
	}
	for _, m := range r.Models.LookupExact(modelID) {
		if m.Provider == provider && m.Active {
			return true
		}
	}
	return false
}

func evaluatorPrompt(family types.FamilyConfig) string {
	var b strings.Builder
	b.WriteString("You are a routing classifier for the \"")
	b.WriteString(family.DisplayName)
	b.WriteString("\" model family. Read the conversation below and respond with a single integer score, nothing else.\n")
	for _, rng := range family.ScoreRanges {
		fmt.Fprintf(&b, "- %d to %d: %s\n", rng.Min, rng.Max, rng.Reason)
	}
	return b.String()
}

func parseScore(text string) (int, error) {
	text = strings.TrimSpace(text)
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' || (r == '-' && digits.Len() == 0) {
			digits.WriteRune(r)
		} else if digits.Len() > 0 {
			break
		}
	}
	if digits.Len() == 0 {
		return 0, fmt.Errorf("evaluator response %q did not contain a score", text)
	}
	return strconv.Atoi(digits.String())
}

func cacheKey(userID, familyID string, messages []types.ChatMessage) string {
	h := sha256.New()
	enc, _ := json.Marshal(messages)
	h.Write(enc)
	return fmt.Sprintf("family_route:%s:%s:%s", userID, familyID, hex.EncodeToString(h.Sum(nil)))
}
