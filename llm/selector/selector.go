// Package selector implements the Provider Selector: given every
// (model_id, provider) row a requested model resolves to, it drops the
// ones that cannot satisfy the request (hard filters) and ranks the
// survivors by a 3-D (price, throughput, latency) distance to the caller's
// speed_vs_price optimum, boosted by the caller's recent prompt-cache hit
// history on that provider.
package selector

import (
	"context"
	"math"
	"net/http"
	"sort"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
)

const (
	defaultSpeedVsPrice = 50
	defaultWindowSize   = 10
)

// Selector ranks a candidate (model, provider) set for one request.
type Selector struct {
	Metrics   llm.MetricsStore
	Tokenizer llm.RequestTokenizer
	Logger    *zap.Logger
}

// New builds a Selector. metrics and tokenizer may be nil: with nil metrics
// every provider's throughput/latency falls back to the set median (the same
// fallback used when the store has no samples) and no caching boost applies;
// with a nil tokenizer the context-window hard filter is skipped.
func New(metrics llm.MetricsStore, tok llm.RequestTokenizer, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{Metrics: metrics, Tokenizer: tok, Logger: logger.With(zap.String("component", "provider_selector"))}
}

// Rank applies the hard filters and returns the survivors sorted ascending
// by distance score (best first). An empty candidates slice, or one where
// every row fails a hard filter, returns ErrNoProviders.
func (s *Selector) Rank(ctx context.Context, req *types.StandardRequest, candidates []types.GatewayModel, userID string) ([]types.ProviderCombination, error) {
	requestedID := ""
	if req != nil {
		requestedID = req.Model.RequestedID()
	}

	survivors := s.applyHardFilters(req, requestedID, candidates)
	if len(survivors) == 0 {
		return nil, &types.Error{
			Code:       types.ErrNoProviders,
			Message:    "no provider satisfies the request's hard filters",
			HTTPStatus: http.StatusBadRequest,
			Retryable:  false,
		}
	}

	// §9 open question: normalizing a single-element set makes every axis
	// degenerate to 0, so skip scoring entirely and return the only
	// survivor untouched.
	if len(survivors) == 1 {
		return []types.ProviderCombination{toCombination(survivors[0], 0, 0, 0, false, 0)}, nil
	}

	providers := make([]string, len(survivors))
	for i, m := range survivors {
		providers[i] = m.Provider
	}

	perf := map[string]llm.ProviderPerformance{}
	cacheHits := map[string]bool{}
	if s.Metrics != nil {
		var err error
		perf, err = s.Metrics.GetPerformance(ctx, requestedID, providers, defaultWindowSize)
		if err != nil {
			s.Logger.Warn("get_performance failed, ranking on price alone", zap.Error(err))
			perf = map[string]llm.ProviderPerformance{}
		}
		if userID != "" {
			cacheHits, err = s.Metrics.GetCacheHistory(ctx, userID, requestedID, providers)
			if err != nil {
				s.Logger.Warn("get_cache_history failed, caching boost disabled", zap.Error(err))
				cacheHits = map[string]bool{}
			}
		}
	}

	speedVsPrice := defaultSpeedVsPrice
	if req != nil && req.SpeedVsPrice != nil {
		speedVsPrice = *req.SpeedVsPrice
	}
	r := clamp01(float64(speedVsPrice) / 100.0)
	optimal := vector{price: 1 - r, throughput: r, latency: r}

	axes := buildAxes(survivors, perf)
	combos := make([]types.ProviderCombination, len(survivors))
	for i, m := range survivors {
		a := axes[i]
		p := vector{
			price:      normalize(a.price, axes, func(v axis) float64 { return v.price }, false),
			throughput: normalize(a.throughput, axes, func(v axis) float64 { return v.throughput }, true),
			latency:    normalize(a.latency, axes, func(v axis) float64 { return v.latency }, false),
		}
		dist := distance(p, optimal)
		boosted := cacheHits[m.Provider]
		score := dist
		if boosted {
			score *= 0.5
		}
		combos[i] = toCombination(m, a.price, a.throughput, a.latency, boosted, score)
		s.Logger.Debug("candidate scored",
			zap.String("model_id", m.ModelID), zap.String("provider", m.Provider),
			zap.Float64("price", a.price), zap.Float64("throughput", a.throughput), zap.Float64("latency", a.latency),
			zap.Bool("caching_boost", boosted), zap.Float64("score", score),
		)
	}

	sort.SliceStable(combos, func(i, j int) bool { return combos[i].DistanceScore < combos[j].DistanceScore })
	return combos, nil
}

func toCombination(m types.GatewayModel, price, throughput, latency float64, cacheBoost bool, score float64) types.ProviderCombination {
	return types.ProviderCombination{
		ModelID: m.ModelID, Provider: m.Provider, Adapter: m.AdapterType, ProviderModelID: m.ProviderModelID,
		PriceSum: m.PricePerInputToken + m.PricePerOutputToken, ThroughputMedianTS: throughput, LatencyMedianMS: latency,
		CachingBoost: cacheBoost, DistanceScore: score, Model: m,
	}
}

// --- hard filters ---

func (s *Selector) applyHardFilters(req *types.StandardRequest, requestedID string, candidates []types.GatewayModel) []types.GatewayModel {
	needsTools := req != nil && len(req.Tools) > 0
	needsVision := req != nil && hasImageContent(req.Messages)
	var estTokens int
	if req != nil && s.Tokenizer != nil {
		if n, err := s.Tokenizer.EstimateTokens(requestedID, req.Messages); err == nil {
			estTokens = n
		}
	}
	var maxCostPerToken *float64
	var allowList map[string]bool
	if req != nil {
		maxCostPerToken = req.MaxCostPerToken
		if len(req.PreferredProviders) > 0 {
			allowList = make(map[string]bool, len(req.PreferredProviders))
			for _, p := range req.PreferredProviders {
				allowList[p] = true
			}
		}
	}

	survivors := make([]types.GatewayModel, 0, len(candidates))
	for _, m := range candidates {
		if requestedID != "" && m.ModelID != requestedID && m.ProviderModelID != requestedID {
			continue
		}
		if needsTools && !m.SupportToolCalling {
			continue
		}
		if needsVision && !m.SupportVision {
			continue
		}
		if estTokens > 0 && m.ContextWindow > 0 && estTokens > m.ContextWindow {
			continue
		}
		if maxCostPerToken != nil && (m.PricePerInputToken+m.PricePerOutputToken) > *maxCostPerToken {
			continue
		}
		if allowList != nil && !allowList[m.Provider] {
			continue
		}
		survivors = append(survivors, m)
	}
	return survivors
}

func hasImageContent(messages []types.ChatMessage) bool {
	for _, m := range messages {
		if !m.Content.IsParts() {
			continue
		}
		for _, p := range m.Content.Parts {
			if p.Type == types.ContentPartImageURL {
				return true
			}
		}
	}
	return false
}

// --- vector scoring ---

type vector struct{ price, throughput, latency float64 }

// axis is one survivor's raw (price, throughput, latency) values before
// min-max normalization, throughput/latency already defaulted to the set
// median when the metrics store had no sample for that provider.
type axis struct{ price, throughput, latency float64 }

func buildAxes(survivors []types.GatewayModel, perf map[string]llm.ProviderPerformance) []axis {
	axes := make([]axis, len(survivors))
	var throughputs, latencies []float64
	for i, m := range survivors {
		axes[i].price = m.PricePerInputToken + m.PricePerOutputToken
		if p, ok := perf[m.Provider]; ok {
			if p.ThroughputMedianTS != nil {
				axes[i].throughput = *p.ThroughputMedianTS
				throughputs = append(throughputs, axes[i].throughput)
			}
			if p.LatencyMedianMS != nil {
				axes[i].latency = *p.LatencyMedianMS
				latencies = append(latencies, axes[i].latency)
			}
		}
	}
	throughputMedian := median(throughputs)
	latencyMedian := median(latencies)
	for i, m := range survivors {
		if p, ok := perf[m.Provider]; !ok || p.ThroughputMedianTS == nil {
			axes[i].throughput = throughputMedian
		}
		if p, ok := perf[m.Provider]; !ok || p.LatencyMedianMS == nil {
			axes[i].latency = latencyMedian
		}
	}
	return axes
}

// normalize min-max scales v against the full axes set, inverting the
// lower-is-better axes (price, latency) so that on every axis 0 is the worst
// value in the set and 1 the best: 1 = cheapest price, highest throughput,
// lowest latency. A set whose values are all equal scales to 0.
func normalize(v float64, axes []axis, get func(axis) float64, higherIsBetter bool) float64 {
	min, max := get(axes[0]), get(axes[0])
	for _, a := range axes[1:] {
		x := get(a)
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	if max == min {
		return 0
	}
	n := (v - min) / (max - min)
	if higherIsBetter {
		return n
	}
	return 1 - n
}

func distance(p, o vector) float64 {
	dp, dt, dl := p.price-o.price, p.throughput-o.throughput, p.latency-o.latency
	return math.Sqrt(dp*dp + dt*dt + dl*dl)
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
