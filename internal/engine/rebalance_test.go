package engine

import (
	"testing"
	"time"

	"github.com/rxtech-lab/utss-engine/internal/dataset"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualWeights(t *testing.T) {
	weights := equalWeights([]string{"AAA", "BBB", "CCC", "DDD"})

	require.Len(t, weights, 4)
	for symbol, w := range weights {
		assert.InDelta(t, 0.25, w, 1e-9, symbol)
	}
}

func TestNormalizeWeights(t *testing.T) {
	weights := normalizeWeights(map[string]float64{"AAA": 3, "BBB": 1})

	assert.InDelta(t, 0.75, weights["AAA"], 1e-9)
	assert.InDelta(t, 0.25, weights["BBB"], 1e-9)
}

func alternatingReturns(magnitude float64, n int) []float64 {
	returns := make([]float64, n)
	for i := range returns {
		if i%2 == 0 {
			returns[i] = magnitude
		} else {
			returns[i] = -magnitude
		}
	}

	return returns
}

// Twice the volatility earns half the weight.
func TestInverseVolWeights(t *testing.T) {
	returnsBySymbol := map[string][]float64{
		"AAA": alternatingReturns(0.01, 20),
		"BBB": alternatingReturns(0.02, 20),
	}

	weights := inverseVolWeights([]string{"AAA", "BBB"}, returnsBySymbol)

	assert.InDelta(t, 2.0/3.0, weights["AAA"], 1e-9)
	assert.InDelta(t, 1.0/3.0, weights["BBB"], 1e-9)
}

func TestInverseVolFallsBackToEqualWithoutHistory(t *testing.T) {
	returnsBySymbol := map[string][]float64{
		"AAA": alternatingReturns(0.01, 20),
		"BBB": nil,
	}

	weights := inverseVolWeights([]string{"AAA", "BBB"}, returnsBySymbol)

	assert.InDelta(t, 0.5, weights["AAA"], 1e-9)
	assert.InDelta(t, 0.5, weights["BBB"], 1e-9)
}

// Identical return series have identical risk contributions, so risk
// parity lands on equal weights.
func TestRiskParityIdenticalSeries(t *testing.T) {
	series := alternatingReturns(0.01, 20)
	returnsBySymbol := map[string][]float64{
		"AAA": series,
		"BBB": series,
	}

	weights := riskParityWeights([]string{"AAA", "BBB"}, returnsBySymbol)

	assert.InDelta(t, 0.5, weights["AAA"], 1e-6)
	assert.InDelta(t, 0.5, weights["BBB"], 1e-6)
}

func TestRiskParityWeightsSumToOne(t *testing.T) {
	returnsBySymbol := map[string][]float64{
		"AAA": alternatingReturns(0.01, 20),
		"BBB": alternatingReturns(0.03, 20),
		"CCC": alternatingReturns(0.02, 20),
	}

	weights := riskParityWeights([]string{"AAA", "BBB", "CCC"}, returnsBySymbol)

	total := 0.0
	for _, w := range weights {
		total += w
	}

	assert.InDelta(t, 1, total, 1e-9)
	assert.Greater(t, weights["AAA"], weights["BBB"])
}

func rebalanceFixture(t *testing.T, qtyA, qtyB float64) *PortfolioBacktest {
	t.Helper()

	strategy := loadStrategy(t, holdStrategyYAML)

	data := dataset.New()
	require.NoError(t, data.AddBars("AAA", barsFromCloses([]float64{100, 100})))
	require.NoError(t, data.AddBars("BBB", barsFromCloses([]float64{100, 100})))

	config := types.DefaultConfig()
	config.InitialCapital = 100000

	pb, err := NewPortfolioBacktest(strategy, data, config, nil, testLogger())
	require.NoError(t, err)

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	pb.portfolio.ApplyFill(Fill{Symbol: "AAA", Direction: types.TradeDirectionBuy, Quantity: qtyA, Price: 100, Time: now})
	pb.portfolio.ApplyFill(Fill{Symbol: "BBB", Direction: types.TradeDirectionBuy, Quantity: qtyB, Price: 100, Time: now})

	return pb
}

// A 3% drift sits under the 5% threshold: the rebalance is a no-op.
func TestRebalanceBelowThresholdEmitsNoOrders(t *testing.T) {
	pb := rebalanceFixture(t, 530, 470)

	action := &types.Action{
		Type:      types.ActionTypeRebalance,
		Method:    types.WeightMethodEqual,
		Threshold: 0.05,
	}

	pb.rebalance(action, 1, map[string]float64{"AAA": 100, "BBB": 100})

	assert.Zero(t, pb.rebalances)
	assert.Empty(t, pb.portfolio.ClosedTrades())

	pos, ok := pb.portfolio.Position("AAA")
	require.True(t, ok)
	assert.InDelta(t, 530, pos.Quantity, 1e-9)
}

// A 6% drift crosses the threshold and the orders close the full gap
// back to target, not just the excess.
func TestRebalanceAboveThresholdClosesFullGap(t *testing.T) {
	pb := rebalanceFixture(t, 560, 440)

	action := &types.Action{
		Type:      types.ActionTypeRebalance,
		Method:    types.WeightMethodEqual,
		Threshold: 0.05,
	}

	pb.rebalance(action, 1, map[string]float64{"AAA": 100, "BBB": 100})

	assert.Equal(t, 1, pb.rebalances)

	posA, ok := pb.portfolio.Position("AAA")
	require.True(t, ok)
	assert.InDelta(t, 500, posA.Quantity, 1e-9)

	posB, ok := pb.portfolio.Position("BBB")
	require.True(t, ok)
	assert.InDelta(t, 500, posB.Quantity, 1e-9)

	// The trim on the overweight leg is a closed trade.
	trades := pb.portfolio.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, "AAA", trades[0].Symbol)
	assert.InDelta(t, 60, trades[0].Quantity, 1e-9)
}

func TestRebalanceTargetsMethod(t *testing.T) {
	pb := rebalanceFixture(t, 500, 500)

	action := &types.Action{
		Type:      types.ActionTypeRebalance,
		Method:    types.WeightMethodTargets,
		Targets:   map[string]float64{"AAA": 80, "BBB": 20},
		Threshold: 0.05,
	}

	pb.rebalance(action, 1, map[string]float64{"AAA": 100, "BBB": 100})

	posA, ok := pb.portfolio.Position("AAA")
	require.True(t, ok)
	assert.InDelta(t, 800, posA.Quantity, 1e-9)

	posB, ok := pb.portfolio.Position("BBB")
	require.True(t, ok)
	assert.InDelta(t, 200, posB.Quantity, 1e-9)
}
