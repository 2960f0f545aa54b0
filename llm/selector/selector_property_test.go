package selector

import (
	"context"
	"fmt"
	"testing"

	"github.com/MakeHub-ai/makehub-gateway/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// With no performance samples, every survivor's throughput/latency axis
// collapses to the same set-wide default (0, normalized away to a constant
// offset), so at speed_vs_price=0 — pure cost optimization, optimal price
// axis pinned to the cheapest corner — Rank's distance score is driven by
// price alone. TestRank_PureCostOrdersByAscendingPrice checks that ordering
// holds for arbitrary randomly generated candidate price sets, generalizing
// what a handful of fixed-price examples could only spot-check.
func TestRank_PureCostOrdersByAscendingPrice(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Rank orders survivors by ascending price at speed_vs_price=0", prop.ForAll(
		func(prices []float64) bool {
			if len(prices) < 2 {
				return true
			}

			candidates := make([]types.GatewayModel, len(prices))
			for i, p := range prices {
				candidates[i] = types.GatewayModel{
					ModelID:             "m",
					Provider:            fmt.Sprintf("provider-%d", i),
					AdapterType:         "openai",
					ProviderModelID:     "m",
					Active:              true,
					PricePerInputToken:  p / 2,
					PricePerOutputToken: p / 2,
				}
			}

			zero := 0
			req := &types.StandardRequest{
				Model:        types.ModelRef{ModelID: "m"},
				SpeedVsPrice: &zero,
			}

			s := New(nil, nil, nil)
			combos, err := s.Rank(context.Background(), req, candidates, "")
			if err != nil || len(combos) != len(prices) {
				return false
			}
			for i := 1; i < len(combos); i++ {
				if combos[i-1].PriceSum > combos[i].PriceSum {
					return false
				}
				if combos[i-1].DistanceScore > combos[i].DistanceScore {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(0.0001, 50.0)),
	))

	properties.TestingRun(t)
}
