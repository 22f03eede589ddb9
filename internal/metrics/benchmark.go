package metrics

import (
	"math"

	"github.com/rxtech-lab/utss-engine/internal/types"
)

// fillBenchmarkStats computes benchmark-relative statistics over the
// overlapping tail of the two return series.
func fillBenchmarkStats(m *types.Metrics, returns, benchReturns []float64, riskFreeRate float64) {
	n := len(returns)
	if len(benchReturns) < n {
		n = len(benchReturns)
	}

	if n < 2 {
		return
	}

	strategy := returns[len(returns)-n:]
	bench := benchReturns[len(benchReturns)-n:]

	beta, alpha := ols(bench, strategy)
	m.Beta = beta
	m.Alpha = alpha * PeriodsPerYear

	diff := make([]float64, n)
	for i := range diff {
		diff[i] = strategy[i] - bench[i]
	}

	te := stddev(diff)
	m.TrackingError = te * math.Sqrt(PeriodsPerYear)

	if te > 0 {
		m.InfoRatio = mean(diff) / te * math.Sqrt(PeriodsPerYear)
	}

	m.UpCapture, m.DownCapture = capture(strategy, bench)
}

// ols fits y = alpha + beta*x by least squares and returns (beta, alpha).
func ols(x, y []float64) (beta, alpha float64) {
	meanX := mean(x)
	meanY := mean(y)

	cov, varX := 0.0, 0.0

	for i := range x {
		dx := x[i] - meanX
		cov += dx * (y[i] - meanY)
		varX += dx * dx
	}

	if varX == 0 {
		return 0, meanY
	}

	beta = cov / varX
	alpha = meanY - beta*meanX

	return beta, alpha
}

// capture compares average strategy returns to average benchmark returns,
// split by benchmark direction. A down-capture below one means the
// strategy loses less than the benchmark in down markets.
func capture(strategy, bench []float64) (up, down float64) {
	upStrat, upBench := 0.0, 0.0
	downStrat, downBench := 0.0, 0.0
	upCount, downCount := 0, 0

	for i := range bench {
		switch {
		case bench[i] > 0:
			upStrat += strategy[i]
			upBench += bench[i]
			upCount++
		case bench[i] < 0:
			downStrat += strategy[i]
			downBench += bench[i]
			downCount++
		}
	}

	if upCount > 0 && upBench != 0 {
		up = (upStrat / float64(upCount)) / (upBench / float64(upCount))
	}

	if downCount > 0 && downBench != 0 {
		down = (downStrat / float64(downCount)) / (downBench / float64(downCount))
	}

	return up, down
}
