// Package metrics computes performance statistics from a finished run.
// Everything here is a pure reducer over the equity curve and trade list;
// nothing mutates the result it reads.
package metrics

import (
	"math"

	"github.com/rxtech-lab/utss-engine/internal/types"
)

// PeriodsPerYear annualizes per-bar statistics assuming daily bars.
const PeriodsPerYear = 252

// Compute builds the full metrics report for a run. benchReturns may be
// nil; benchmark-relative fields stay zero in that case.
func Compute(result *types.BacktestResult, config types.BacktestConfig, benchReturns []float64) types.Metrics {
	m := types.Metrics{}

	curve := result.EquityCurve
	if len(curve) == 0 {
		return m
	}

	final := curve[len(curve)-1].Equity
	if result.InitialCapital > 0 {
		m.TotalReturn = final/result.InitialCapital - 1
	}

	returns := result.Returns()

	m.AnnualizedReturn = annualizedReturn(m.TotalReturn, len(curve))
	m.Volatility = stddev(returns) * math.Sqrt(PeriodsPerYear)
	m.Sharpe = sharpe(returns, config.RiskFreeRate)
	m.Sortino = sortino(returns, config.RiskFreeRate)
	m.MaxDrawdown, m.MaxDrawdownPct, m.MaxDrawdownBars = maxDrawdown(curve)

	if m.MaxDrawdownPct > 0 {
		m.Calmar = m.AnnualizedReturn / m.MaxDrawdownPct
	}

	fillTradeStats(&m, result.Trades)
	m.Exposure = exposure(curve)

	if len(benchReturns) > 0 {
		fillBenchmarkStats(&m, returns, benchReturns, config.RiskFreeRate)
	}

	return m
}

func annualizedReturn(totalReturn float64, bars int) float64 {
	if bars < 2 || totalReturn <= -1 {
		return 0
	}

	years := float64(bars) / PeriodsPerYear

	return math.Pow(1+totalReturn, 1/years) - 1
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	m := mean(values)

	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}

	return math.Sqrt(variance / float64(len(values)-1))
}

func sharpe(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	perBarRF := riskFreeRate / PeriodsPerYear

	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - perBarRF
	}

	sd := stddev(excess)
	if sd == 0 {
		return 0
	}

	return mean(excess) / sd * math.Sqrt(PeriodsPerYear)
}

// sortino penalizes only downside deviation.
func sortino(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	perBarRF := riskFreeRate / PeriodsPerYear

	downside := 0.0
	excessMean := 0.0

	for _, r := range returns {
		excess := r - perBarRF
		excessMean += excess

		if excess < 0 {
			downside += excess * excess
		}
	}

	excessMean /= float64(len(returns))
	downsideDev := math.Sqrt(downside / float64(len(returns)))

	if downsideDev == 0 {
		return 0
	}

	return excessMean / downsideDev * math.Sqrt(PeriodsPerYear)
}

// maxDrawdown returns the deepest decline in absolute and fractional
// terms, plus the longest peak-to-recovery span in bars.
func maxDrawdown(curve []types.PortfolioSnapshot) (dd, ddPct float64, ddBars int) {
	peak := math.Inf(-1)
	peakIndex := 0

	for i, snapshot := range curve {
		if snapshot.Equity > peak {
			peak = snapshot.Equity
			peakIndex = i
		}

		decline := peak - snapshot.Equity
		if decline > dd {
			dd = decline

			if peak > 0 {
				ddPct = decline / peak
			}
		}

		if span := i - peakIndex; span > ddBars {
			ddBars = span
		}
	}

	return dd, ddPct, ddBars
}

func fillTradeStats(m *types.Metrics, trades []types.Trade) {
	m.TradeCount = len(trades)
	if len(trades) == 0 {
		return
	}

	wins, losses := 0, 0
	winSum, lossSum := 0.0, 0.0

	for _, trade := range trades {
		if trade.PnL > 0 {
			wins++
			winSum += trade.PnL
		} else if trade.PnL < 0 {
			losses++
			lossSum -= trade.PnL
		}
	}

	m.WinRate = float64(wins) / float64(len(trades))

	if lossSum > 0 {
		m.ProfitFactor = winSum / lossSum
	} else if winSum > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	if wins > 0 {
		m.AvgWin = winSum / float64(wins)
	}

	if losses > 0 {
		m.AvgLoss = lossSum / float64(losses)
	}

	m.Expectancy = m.WinRate*m.AvgWin - (1-m.WinRate)*m.AvgLoss
}

// exposure is the fraction of bars with an open position.
func exposure(curve []types.PortfolioSnapshot) float64 {
	if len(curve) == 0 {
		return 0
	}

	inMarket := 0

	for _, snapshot := range curve {
		if len(snapshot.Positions) > 0 {
			inMarket++
		}
	}

	return float64(inMarket) / float64(len(curve))
}
