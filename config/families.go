package config

import (
	"fmt"
	"os"

	"github.com/MakeHub-ai/makehub-gateway/types"
	"gopkg.in/yaml.v3"
)

// familyFile mirrors the on-disk family-config schema, which nests
// score_ranges/fallback_model/fallback_provider/cache_duration_minutes/
// evaluation_timeout_ms under a routing_config block rather than flat on
// the family entry — that's why types.FamilyConfig tags those fields
// yaml:"-": this shape is what actually gets unmarshaled, then flattened.
type familyFile struct {
	Families map[string]familyEntry `yaml:"families"`
	Settings FamilySettings         `yaml:"settings"`
}

type familyEntry struct {
	DisplayName       string             `yaml:"display_name"`
	Description       string             `yaml:"description"`
	IsActive          bool               `yaml:"is_active"`
	EvaluatorModel    string             `yaml:"evaluation_model_id"`
	EvaluatorProvider string             `yaml:"evaluation_provider"`
	RoutingConfig     familyRoutingEntry `yaml:"routing_config"`
}

type familyRoutingEntry struct {
	ScoreRanges     []types.ScoreRange `yaml:"score_ranges"`
	FallbackModel   string             `yaml:"fallback_model"`
	FallbackProvider string            `yaml:"fallback_provider"`
	CacheTTLMinutes int                `yaml:"cache_duration_minutes"`
	EvalTimeoutMS   int                `yaml:"evaluation_timeout_ms"`
}

// FamilySettings are the global knobs under the YAML file's top-level
// settings block, applying across every family unless a family overrides
// them (none of the per-family fields currently do; reserved for parity
// with spec.md §6 if a future family needs a per-family override).
type FamilySettings struct {
	MaxFamiliesPerUser        int  `yaml:"max_families_per_user"`
	DefaultCacheTTLMinutes    int  `yaml:"default_cache_duration_minutes"`
	EnableFallbackRouting     bool `yaml:"enable_fallback_routing"`
}

// LoadFamilies reads and parses the family-routing YAML file at path,
// returning the families keyed by id (with ID populated from the map
// key, since the wire schema carries it there rather than as a field) and
// the document's global settings.
func LoadFamilies(path string) (map[string]types.FamilyConfig, FamilySettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, FamilySettings{}, fmt.Errorf("load families: %w", err)
	}
	var doc familyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, FamilySettings{}, fmt.Errorf("load families: parse %s: %w", path, err)
	}

	families := make(map[string]types.FamilyConfig, len(doc.Families))
	for id, entry := range doc.Families {
		if len(entry.RoutingConfig.ScoreRanges) == 0 {
			return nil, FamilySettings{}, fmt.Errorf("load families: family %q has no score_ranges", id)
		}
		families[id] = types.FamilyConfig{
			ID:                id,
			DisplayName:       entry.DisplayName,
			Description:       entry.Description,
			IsActive:          entry.IsActive,
			EvaluatorModel:    entry.EvaluatorModel,
			EvaluatorProvider: entry.EvaluatorProvider,
			ScoreRanges:       entry.RoutingConfig.ScoreRanges,
			FallbackModel:     entry.RoutingConfig.FallbackModel,
			FallbackProvider:  entry.RoutingConfig.FallbackProvider,
			CacheTTLMinutes:   entry.RoutingConfig.CacheTTLMinutes,
			EvalTimeoutMS:     entry.RoutingConfig.EvalTimeoutMS,
		}
	}

	return families, doc.Settings, nil
}
