package engine

import (
	"math"
	"sort"

	"github.com/rxtech-lab/utss-engine/internal/types"
)

// rebalanceLookback is the return window used to estimate volatility and
// covariance for weight schemes.
const rebalanceLookback = 20

// riskParityIterations bounds the fixed-point solve for equal risk
// contribution.
const riskParityIterations = 100

// targetWeights computes the desired portfolio weights for a rebalance
// action. returnsBySymbol holds each symbol's recent return window; a
// symbol with no usable history falls back to equal weighting within the
// scheme.
func targetWeights(action *types.Action, symbols []string, returnsBySymbol map[string][]float64) map[string]float64 {
	switch action.Method {
	case types.WeightMethodTargets:
		return normalizeWeights(action.Targets)

	case types.WeightMethodInverseVol:
		return inverseVolWeights(symbols, returnsBySymbol)

	case types.WeightMethodRiskParity:
		return riskParityWeights(symbols, returnsBySymbol)

	default:
		return equalWeights(symbols)
	}
}

func equalWeights(symbols []string) map[string]float64 {
	weights := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		weights[symbol] = 1 / float64(len(symbols))
	}

	return weights
}

func normalizeWeights(targets map[string]float64) map[string]float64 {
	total := 0.0
	for _, w := range targets {
		total += w
	}

	if total <= 0 {
		return targets
	}

	weights := make(map[string]float64, len(targets))
	for symbol, w := range targets {
		weights[symbol] = w / total
	}

	return weights
}

func volOf(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	m := 0.0
	for _, r := range returns {
		m += r
	}

	m /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - m) * (r - m)
	}

	return math.Sqrt(variance / float64(len(returns)-1))
}

func inverseVolWeights(symbols []string, returnsBySymbol map[string][]float64) map[string]float64 {
	weights := make(map[string]float64, len(symbols))
	total := 0.0

	for _, symbol := range symbols {
		vol := volOf(returnsBySymbol[symbol])
		if vol <= 0 {
			// No usable estimate for any symbol degrades to equal weight.
			return equalWeights(symbols)
		}

		weights[symbol] = 1 / vol
		total += 1 / vol
	}

	for symbol := range weights {
		weights[symbol] /= total
	}

	return weights
}

// riskParityWeights solves for equal risk contribution under the sample
// covariance of the return windows, by fixed-point iteration: each weight
// is scaled by target versus actual risk contribution and renormalized.
func riskParityWeights(symbols []string, returnsBySymbol map[string][]float64) map[string]float64 {
	n := len(symbols)
	if n == 0 {
		return map[string]float64{}
	}

	ordered := append([]string{}, symbols...)
	sort.Strings(ordered)

	cov, ok := covarianceMatrix(ordered, returnsBySymbol)
	if !ok {
		return equalWeights(symbols)
	}

	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}

	for iter := 0; iter < riskParityIterations; iter++ {
		// Portfolio variance and per-asset risk contributions.
		contrib := make([]float64, n)
		portVar := 0.0

		for i := 0; i < n; i++ {
			marginal := 0.0
			for j := 0; j < n; j++ {
				marginal += cov[i][j] * w[j]
			}

			contrib[i] = w[i] * marginal
			portVar += contrib[i]
		}

		if portVar <= 0 {
			return equalWeights(symbols)
		}

		target := portVar / float64(n)
		maxDiff := 0.0
		total := 0.0

		for i := 0; i < n; i++ {
			if contrib[i] <= 0 {
				return equalWeights(symbols)
			}

			diff := math.Abs(contrib[i]-target) / portVar
			if diff > maxDiff {
				maxDiff = diff
			}

			w[i] *= math.Sqrt(target / contrib[i])
			total += w[i]
		}

		for i := range w {
			w[i] /= total
		}

		if maxDiff < 1e-8 {
			break
		}
	}

	weights := make(map[string]float64, n)
	for i, symbol := range ordered {
		weights[symbol] = w[i]
	}

	return weights
}

func covarianceMatrix(symbols []string, returnsBySymbol map[string][]float64) ([][]float64, bool) {
	n := len(symbols)

	// Truncate to the shortest window so all series align.
	minLen := math.MaxInt32
	for _, symbol := range symbols {
		if len(returnsBySymbol[symbol]) < minLen {
			minLen = len(returnsBySymbol[symbol])
		}
	}

	if minLen < 2 {
		return nil, false
	}

	series := make([][]float64, n)
	means := make([]float64, n)

	for i, symbol := range symbols {
		r := returnsBySymbol[symbol]
		series[i] = r[len(r)-minLen:]

		for _, v := range series[i] {
			means[i] += v
		}

		means[i] /= float64(minLen)
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)

		for j := 0; j <= i; j++ {
			sum := 0.0
			for k := 0; k < minLen; k++ {
				sum += (series[i][k] - means[i]) * (series[j][k] - means[j])
			}

			cov[i][j] = sum / float64(minLen-1)
			cov[j][i] = cov[i][j]
		}
	}

	return cov, true
}
