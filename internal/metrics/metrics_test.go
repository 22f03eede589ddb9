package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func curveFromEquity(equities []float64) []types.PortfolioSnapshot {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	curve := make([]types.PortfolioSnapshot, len(equities))

	for i, equity := range equities {
		curve[i] = types.PortfolioSnapshot{
			Time:   base.AddDate(0, 0, i),
			Cash:   equity,
			Equity: equity,
		}
	}

	return curve
}

func resultWithCurve(equities []float64) *types.BacktestResult {
	return &types.BacktestResult{
		InitialCapital: equities[0],
		FinalEquity:    equities[len(equities)-1],
		EquityCurve:    curveFromEquity(equities),
	}
}

func TestTotalAndAnnualizedReturn(t *testing.T) {
	result := resultWithCurve([]float64{10000, 10500, 11000})

	m := Compute(result, types.DefaultConfig(), nil)

	assert.InDelta(t, 0.1, m.TotalReturn, 1e-9)

	// Three bars is 3/252 of a year.
	expected := math.Pow(1.1, 252.0/3.0) - 1
	assert.InDelta(t, expected, m.AnnualizedReturn, 1e-9)
}

func TestMaxDrawdownDepthAndDuration(t *testing.T) {
	// Peak at 120 (bar 1), trough at 90 (bar 3), recovery at bar 5. The
	// underwater span runs from the peak to the last bar below it.
	dd, ddPct, ddBars := maxDrawdown(curveFromEquity([]float64{100, 120, 100, 90, 110, 125}))

	assert.InDelta(t, 30, dd, 1e-9)
	assert.InDelta(t, 0.25, ddPct, 1e-9)
	assert.Equal(t, 3, ddBars)
}

func TestMaxDrawdownMonotonicCurveIsZero(t *testing.T) {
	dd, ddPct, ddBars := maxDrawdown(curveFromEquity([]float64{100, 110, 120, 130}))

	assert.Zero(t, dd)
	assert.Zero(t, ddPct)
	assert.Zero(t, ddBars)
}

func TestSharpeOfConstantReturnsIsZeroByConvention(t *testing.T) {
	// Zero variance means Sharpe is undefined; the report uses zero.
	assert.Zero(t, sharpe([]float64{0.01, 0.01, 0.01}, 0))
}

func TestSharpeSignFollowsExcessReturn(t *testing.T) {
	up := sharpe([]float64{0.01, 0.02, 0.015, 0.012}, 0)
	assert.Greater(t, up, 0.0)

	down := sharpe([]float64{-0.01, -0.02, -0.015, -0.012}, 0)
	assert.Less(t, down, 0.0)
}

func TestSortinoIgnoresUpsideVolatility(t *testing.T) {
	// All positive returns: no downside deviation, reported as zero.
	assert.Zero(t, sortino([]float64{0.01, 0.05, 0.02}, 0))

	mixed := sortino([]float64{0.02, -0.01, 0.03, -0.01}, 0)
	assert.Greater(t, mixed, 0.0)
}

func tradeWithPnL(pnl float64) types.Trade {
	return types.Trade{Symbol: "TEST", PnL: pnl}
}

func TestTradeStats(t *testing.T) {
	m := types.Metrics{}

	fillTradeStats(&m, []types.Trade{
		tradeWithPnL(10),
		tradeWithPnL(30),
		tradeWithPnL(-20),
		tradeWithPnL(-5),
	})

	assert.Equal(t, 4, m.TradeCount)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 40.0/25.0, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 20, m.AvgWin, 1e-9)
	assert.InDelta(t, 12.5, m.AvgLoss, 1e-9)
	assert.InDelta(t, 0.5*20-0.5*12.5, m.Expectancy, 1e-9)
}

func TestProfitFactorWithNoLossesIsInfinite(t *testing.T) {
	m := types.Metrics{}

	fillTradeStats(&m, []types.Trade{tradeWithPnL(10), tradeWithPnL(5)})

	assert.True(t, math.IsInf(m.ProfitFactor, 1))
	assert.InDelta(t, 1, m.WinRate, 1e-9)
}

func TestExposureCountsBarsWithOpenPositions(t *testing.T) {
	curve := curveFromEquity([]float64{100, 100, 100, 100})
	curve[1].Positions = map[string]types.Position{"TEST": {Symbol: "TEST", Quantity: 1}}
	curve[2].Positions = map[string]types.Position{"TEST": {Symbol: "TEST", Quantity: 1}}

	assert.InDelta(t, 0.5, exposure(curve), 1e-9)
}

func TestOLSIdenticalSeriesHasUnitBeta(t *testing.T) {
	series := []float64{0.01, -0.02, 0.03, 0.005, -0.01}

	beta, alpha := ols(series, series)

	assert.InDelta(t, 1, beta, 1e-9)
	assert.InDelta(t, 0, alpha, 1e-9)
}

func TestOLSScaledSeries(t *testing.T) {
	x := []float64{0.01, -0.02, 0.03, 0.005, -0.01}

	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 2*v + 0.001
	}

	beta, alpha := ols(x, y)

	assert.InDelta(t, 2, beta, 1e-9)
	assert.InDelta(t, 0.001, alpha, 1e-9)
}

func TestBenchmarkRelativeStats(t *testing.T) {
	bench := []float64{0.01, -0.02, 0.03, 0.005, -0.01, 0.02}

	// Strategy tracks the benchmark exactly: beta one, zero alpha, zero
	// tracking error, unit capture both ways.
	m := types.Metrics{}
	fillBenchmarkStats(&m, bench, bench, 0)

	assert.InDelta(t, 1, m.Beta, 1e-9)
	assert.InDelta(t, 0, m.Alpha, 1e-9)
	assert.InDelta(t, 0, m.TrackingError, 1e-9)
	assert.Zero(t, m.InfoRatio)
	assert.InDelta(t, 1, m.UpCapture, 1e-9)
	assert.InDelta(t, 1, m.DownCapture, 1e-9)
}

func TestCaptureSplitsByBenchmarkDirection(t *testing.T) {
	bench := []float64{0.02, -0.02, 0.02, -0.02}
	// Strategy gains as much in up markets but loses half as much in down
	// markets.
	strategy := []float64{0.02, -0.01, 0.02, -0.01}

	up, down := capture(strategy, bench)

	assert.InDelta(t, 1, up, 1e-9)
	assert.InDelta(t, 0.5, down, 1e-9)
}

func TestComputeEmptyCurve(t *testing.T) {
	m := Compute(&types.BacktestResult{}, types.DefaultConfig(), nil)
	require.Equal(t, types.Metrics{}, m)
}
