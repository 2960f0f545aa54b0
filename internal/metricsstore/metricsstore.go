// Package metricsstore backs llm.MetricsStore with a gorm-persisted log of
// per-attempt samples, reading back per-provider throughput/latency medians
// and recent cache-hit history with one query per requested provider.
package metricsstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cacheHistorySampleCount = 5

// Store is the gorm-backed MetricsStore. Record is a single insert;
// GetPerformance and GetCacheHistory issue one query per provider in the
// list, so a read takes as many round trips as there are providers.
// Per-provider aggregation happens in Go over the scanned rows rather than
// pushing window logic into SQL, so the store stays portable across the
// gorm dialects the gateway is configured against.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New builds a Store. Callers must have run llm.InitDatabase beforehand so
// the sc_gw_metrics_samples table exists.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "metrics_store"))}
}

var _ llm.MetricsStore = (*Store)(nil)

// Record inserts one attempt sample. Fire-and-forget from the
// orchestrator's point of view: callers log and move on if this fails
// rather than fail the request over a metrics write.
func (s *Store) Record(ctx context.Context, sample types.MetricsSample) error {
	if err := s.db.WithContext(ctx).Create(&sample).Error; err != nil {
		return fmt.Errorf("metrics store: record: %w", err)
	}
	return nil
}

// GetPerformance returns, per provider in providers, the median throughput
// and latency over that provider's last windowSize successful samples for
// modelID. A provider with zero matching samples is simply absent from the
// returned map; the selector's global-median fallback handles that case.
func (s *Store) GetPerformance(ctx context.Context, modelID string, providers []string, windowSize int) (map[string]llm.ProviderPerformance, error) {
	if windowSize <= 0 {
		windowSize = 10
	}
	result := make(map[string]llm.ProviderPerformance, len(providers))
	for _, provider := range providers {
		var rows []types.MetricsSample
		err := s.db.WithContext(ctx).
			Where("model = ? AND provider = ? AND success = ?", modelID, provider, true).
			Order("id DESC").
			Limit(windowSize).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("metrics store: get_performance(%s): %w", provider, err)
		}
		if len(rows) == 0 {
			continue
		}
		throughputs := make([]float64, 0, len(rows))
		latencies := make([]float64, 0, len(rows))
		for _, r := range rows {
			if r.ThroughputTokensS > 0 {
				throughputs = append(throughputs, r.ThroughputTokensS)
			}
			if r.TotalDurationMS > 0 {
				latencies = append(latencies, r.TotalDurationMS)
			}
		}
		perf := llm.ProviderPerformance{SampleCount: len(rows)}
		if len(throughputs) > 0 {
			v := median(throughputs)
			perf.ThroughputMedianTS = &v
		}
		if len(latencies) > 0 {
			v := median(latencies)
			perf.LatencyMedianMS = &v
		}
		result[provider] = perf
	}
	return result, nil
}

// GetCacheHistory reports, per provider, whether at least one of the
// caller's last cacheHistorySampleCount requests to (modelID, provider) hit
// the prompt cache — the signal the Provider Selector's 0.5x caching boost
// is keyed on.
func (s *Store) GetCacheHistory(ctx context.Context, userID, modelID string, providers []string) (map[string]bool, error) {
	result := make(map[string]bool, len(providers))
	for _, provider := range providers {
		var rows []types.MetricsSample
		err := s.db.WithContext(ctx).
			Select("cached_tokens").
			Where("user_id = ? AND model = ? AND provider = ?", userID, modelID, provider).
			Order("id DESC").
			Limit(cacheHistorySampleCount).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("metrics store: get_cache_history(%s): %w", provider, err)
		}
		hit := false
		for _, r := range rows {
			if r.CachedTokens > 0 {
				hit = true
				break
			}
		}
		result[provider] = hit
	}
	return result, nil
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
