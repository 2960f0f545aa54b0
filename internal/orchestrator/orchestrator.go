// Package orchestrator implements the Request Orchestrator (spec.md
// §4.F): resolve a request to a candidate set (directly, or through the
// Family Router), rank it with the Provider Selector, attempt each
// ranked combination in order until one succeeds, then account for cost
// and debit the wallet exactly once per request regardless of how many
// providers were tried. A metrics sample is recorded for every attempt,
// failed ones included.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/llm/familyrouter"
	"github.com/MakeHub-ai/makehub-gateway/llm/selector"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ModelResolver is the Model Registry surface the orchestrator needs.
type ModelResolver interface {
	LookupExact(requestedID string) []types.GatewayModel
}

// SessionResolver is the factory.AdapterRegistry surface the orchestrator
// needs to turn a ranked ProviderCombination into a callable session.
type SessionResolver interface {
	Session(model types.GatewayModel) (llm.AdapterSession, error)
}

// Orchestrator wires the selector, family router, and adapter sessions
// into one request-serving state machine.
type Orchestrator struct {
	Models   ModelResolver
	Selector *selector.Selector
	Family   *familyrouter.Router // nil disables family-alias resolution
	Sessions SessionResolver
	Wallet   llm.WalletLedger
	Metrics  llm.MetricsStore
	Notifier llm.NotificationChannel
	Logger   *zap.Logger
}

// New builds an Orchestrator.
func New(models ModelResolver, sel *selector.Selector, family *familyrouter.Router, sessions SessionResolver, wallet llm.WalletLedger, metrics llm.MetricsStore, notifier llm.NotificationChannel, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Models: models, Selector: sel, Family: family, Sessions: sessions,
		Wallet: wallet, Metrics: metrics, Notifier: notifier,
		Logger: logger.With(zap.String("component", "orchestrator")),
	}
}

// attempt is the per-combination outcome, shared by Execute and
// ExecuteStream for metrics emission and cost accounting.
type attempt struct {
	combo     types.ProviderCombination
	startedAt time.Time
}

// resolve implements spec.md §4.F's first step: a `family/*` alias goes
// through the Family Router to a concrete (model_id, provider) decision;
// everything else is already concrete. Returns the ranked candidate set
// and the effective request (Model.ModelID pinned to the resolved id so
// the selector's hard filters compare against the right value).
func (o *Orchestrator) resolve(ctx context.Context, req *types.StandardRequest, userID string) (*types.StandardRequest, []types.ProviderCombination, error) {
	requestedID := req.Model.RequestedID()
	resolvedID := requestedID
	preferredProvider := ""

	if o.Family != nil {
		if family, ok := o.Family.IsFamilyAlias(requestedID); ok {
			decision, err := o.Family.Resolve(ctx, family, req, userID)
			if err != nil {
				return nil, nil, err
			}
			resolvedID = decision.ModelID
			preferredProvider = decision.Provider
		}
	}

	effective := *req
	effective.Model = types.ModelRef{ModelID: resolvedID}
	if preferredProvider != "" && len(effective.PreferredProviders) == 0 {
		effective.PreferredProviders = []string{preferredProvider}
	}

	candidates := o.Models.LookupExact(resolvedID)
	ranked, err := o.Selector.Rank(ctx, &effective, candidates, userID)
	if err != nil {
		return nil, nil, err
	}
	return &effective, ranked, nil
}

// Execute runs the full resolve -> rank -> attempt-loop -> cost -> debit
// -> metrics pipeline for one non-streaming request.
func (o *Orchestrator) Execute(ctx context.Context, req *types.StandardRequest, userID string) (*types.StandardResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	effective, ranked, err := o.resolve(ctx, req, userID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, combo := range ranked {
		session, err := o.Sessions.Session(combo.Model)
		if err != nil {
			o.Logger.Warn("failed to resolve adapter session, trying next candidate", zap.Error(err), zap.String("provider", combo.Provider))
			lastErr = err
			continue
		}
		if !session.IsConfigured() {
			lastErr = fmt.Errorf("%s/%s: adapter session not configured", combo.ModelID, combo.Provider)
			continue
		}
		if err := session.Validate(effective); err != nil {
			lastErr = err
			continue
		}

		a := attempt{combo: combo, startedAt: time.Now()}
		resp, err := session.Execute(ctx, effective)
		if err == nil {
			o.onSuccess(ctx, effective, userID, a, i+1, resp.Usage, false, 0)
			return resp, nil
		}

		lastErr = err
		o.recordFailure(ctx, effective, userID, a, i+1, err)
		if gwErr, ok := err.(*types.Error); ok && gwErr.Code == types.ErrValidation {
			// Validation errors are the caller's fault, not the
			// provider's: retrying a different backend would fail
			// identically, so spec.md §7 excludes them from fallback.
			return nil, err
		}
	}

	if o.Notifier != nil {
		o.Notifier.Notify(ctx, "error", fmt.Sprintf("all providers failed for model %q (request_id=%s)", effective.Model.RequestedID(), req.RequestID))
	}
	if lastErr != nil {
		if gwErr, ok := lastErr.(*types.Error); ok {
			return nil, gwErr
		}
		return nil, &types.Error{Code: types.ErrAllProvidersFailed, Message: lastErr.Error(), Retryable: false}
	}
	return nil, &types.Error{Code: types.ErrAllProvidersFailed, Message: "no provider combination could serve this request", Retryable: false}
}

// ExecuteStream runs the same pipeline for a streamed request, proxying
// events from whichever adapter session succeeds. Fallback across
// providers only happens before the first chunk is sent: once the caller
// has received partial output, switching backends mid-stream would
// silently duplicate or drop content, so a failure after the first chunk
// ends the stream with an error event instead of retrying.
func (o *Orchestrator) ExecuteStream(ctx context.Context, req *types.StandardRequest, userID string) (<-chan llm.StreamEvent, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	effective, ranked, err := o.resolve(ctx, req, userID)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamEvent, 16)
	go o.runStream(ctx, effective, userID, ranked, out)
	return out, nil
}

func (o *Orchestrator) runStream(ctx context.Context, effective *types.StandardRequest, userID string, ranked []types.ProviderCombination, out chan<- llm.StreamEvent) {
	defer close(out)

	var lastErr error
	for i, combo := range ranked {
		session, err := o.Sessions.Session(combo.Model)
		if err != nil {
			lastErr = err
			continue
		}
		if !session.IsConfigured() {
			lastErr = fmt.Errorf("%s/%s: adapter session not configured", combo.ModelID, combo.Provider)
			continue
		}
		if err := session.Validate(effective); err != nil {
			lastErr = err
			continue
		}

		a := attempt{combo: combo, startedAt: time.Now()}
		upstream, err := session.ExecuteStream(ctx, effective)
		if err != nil {
			lastErr = err
			o.recordFailure(ctx, effective, userID, a, i+1, err)
			continue
		}

		sentAny := false
		var usage types.Usage
		var firstChunkAt time.Time
		streamErr := error(nil)
		for ev := range upstream {
			if ev.Err != nil {
				streamErr = ev.Err
				break
			}
			if !sentAny {
				firstChunkAt = time.Now()
			}
			sentAny = true
			if ev.Chunk != nil && ev.Chunk.Usage != nil {
				usage = *ev.Chunk.Usage
			}
			out <- ev
		}

		if streamErr == nil {
			ttfc := 0.0
			if !firstChunkAt.IsZero() {
				ttfc = float64(firstChunkAt.Sub(a.startedAt).Milliseconds())
			}
			o.onSuccess(ctx, effective, userID, a, i+1, usage, true, ttfc)
			return
		}

		lastErr = streamErr
		if sentAny {
			// Partial output already reached the caller; surface the
			// failure instead of silently trying another provider.
			o.recordFailure(ctx, effective, userID, a, i+1, streamErr)
			out <- llm.StreamEvent{Err: streamErr}
			return
		}
		o.recordFailure(ctx, effective, userID, a, i+1, streamErr)
	}

	if o.Notifier != nil {
		o.Notifier.Notify(ctx, "error", fmt.Sprintf("all providers failed for streamed model %q (request_id=%s)", effective.Model.RequestedID(), effective.RequestID))
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no provider combination could serve this request")
	}
	out <- llm.StreamEvent{Err: &types.Error{Code: types.ErrAllProvidersFailed, Message: lastErr.Error(), Retryable: false}}
}

// cost implements spec.md §4.F's cost formula: prompt/completion tokens
// at their listed price, minus the cached-token discount against the
// price the provider would otherwise have charged for those same tokens.
func cost(combo types.ProviderCombination, usage types.Usage) float64 {
	c := float64(usage.PromptTokens)*combo.Model.PricePerInputToken + float64(usage.CompletionTokens)*combo.Model.PricePerOutputToken
	if usage.CachedTokens > 0 && combo.Model.PricePerCachedToken != nil {
		c -= float64(usage.CachedTokens) * (combo.Model.PricePerInputToken - *combo.Model.PricePerCachedToken)
	}
	if c < 0 {
		c = 0
	}
	return c
}

func (o *Orchestrator) onSuccess(ctx context.Context, req *types.StandardRequest, userID string, a attempt, attemptNumber int, usage types.Usage, streamed bool, ttfcMS float64) {
	amount := cost(a.combo, usage)
	if o.Wallet != nil && amount > 0 {
		meta := map[string]any{"model": a.combo.ModelID, "provider": a.combo.Provider}
		if err := o.Wallet.Debit(ctx, userID, amount, req.RequestID, meta); err != nil {
			o.Logger.Error("wallet debit failed after a successful request", zap.Error(err), zap.String("request_id", req.RequestID))
		}
	}

	durationMS := float64(time.Since(a.startedAt).Milliseconds())
	throughput := 0.0
	if durationMS > 0 && usage.CompletionTokens > 0 {
		throughput = float64(usage.CompletionTokens) / (durationMS / 1000)
	}

	if o.Metrics != nil {
		sample := types.MetricsSample{
			RequestID: req.RequestID, UserID: userID, Model: a.combo.ModelID, Provider: a.combo.Provider,
			Adapter: a.combo.Adapter, Streamed: streamed, PromptTokens: usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens, CachedTokens: usage.CachedTokens, Cost: amount,
			TotalDurationMS: durationMS, TimeToFirstChunkMS: ttfcMS, ThroughputTokensS: throughput,
			AttemptNumber: attemptNumber, Success: true,
		}
		if err := o.Metrics.Record(ctx, sample); err != nil {
			o.Logger.Warn("failed to record metrics sample", zap.Error(err))
		}
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, req *types.StandardRequest, userID string, a attempt, attemptNumber int, failure error) {
	if o.Metrics == nil {
		return
	}
	sample := types.MetricsSample{
		RequestID: req.RequestID, UserID: userID, Model: a.combo.ModelID, Provider: a.combo.Provider,
		Adapter: a.combo.Adapter, TotalDurationMS: float64(time.Since(a.startedAt).Milliseconds()),
		AttemptNumber: attemptNumber, Success: false, ErrorKind: errorKind(failure),
	}
	if err := o.Metrics.Record(ctx, sample); err != nil {
		o.Logger.Warn("failed to record metrics sample", zap.Error(err))
	}
}

func errorKind(err error) string {
	if gwErr, ok := err.(*types.Error); ok {
		return string(gwErr.Code)
	}
	return string(types.ErrUnknown)
}
