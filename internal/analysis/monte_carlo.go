// Package analysis provides post-run risk analysis: Monte Carlo
// resampling of trades and returns to quantify path dependency.
package analysis

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultPercentiles are the bands reported when the config names none.
var DefaultPercentiles = []float64{5, 50, 95, 99}

// MonteCarloConfig controls a simulation batch. The seed fully determines
// the output: iteration i always draws from a generator seeded with
// seed+i, regardless of worker scheduling.
type MonteCarloConfig struct {
	Iterations  int
	Seed        int64
	BlockSize   int
	Workers     int
	Percentiles []float64
}

func (c *MonteCarloConfig) normalize() {
	if c.Iterations <= 0 {
		c.Iterations = 1000
	}

	if c.BlockSize <= 0 {
		c.BlockSize = 5
	}

	if c.Workers <= 0 {
		c.Workers = 4
	}

	if len(c.Percentiles) == 0 {
		c.Percentiles = DefaultPercentiles
	}
}

// Bands maps a percentile to its value across iterations.
type Bands map[float64]float64

// MonteCarloResult reports the empirical distribution of terminal equity
// and maximum drawdown across iterations.
type MonteCarloResult struct {
	Method         string  `yaml:"method" json:"method"`
	Iterations     int     `yaml:"iterations" json:"iterations"`
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	TerminalEquity Bands   `yaml:"terminal_equity" json:"terminal_equity"`
	TotalReturnPct Bands   `yaml:"total_return_pct" json:"total_return_pct"`
	MaxDrawdownPct Bands   `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	ProbOfLoss     float64 `yaml:"prob_of_loss" json:"prob_of_loss"`
	WorstDrawdown  float64 `yaml:"worst_drawdown" json:"worst_drawdown"`
	BestTerminal   float64 `yaml:"best_terminal" json:"best_terminal"`
	WorstTerminal  float64 `yaml:"worst_terminal" json:"worst_terminal"`
}

// ShuffleTrades permutes the realized trade P&L sequence and replays each
// permutation against the starting capital. Trade order is the only thing
// that varies, so the distribution isolates path-dependency risk.
func ShuffleTrades(ctx context.Context, trades []types.Trade, initialCapital float64, config MonteCarloConfig) (*MonteCarloResult, error) {
	if len(trades) == 0 {
		return nil, errors.New(errors.ErrCodeInsufficientData, "no trades to shuffle")
	}

	config.normalize()

	pnls := make([]float64, len(trades))
	for i, trade := range trades {
		pnls[i] = trade.PnL
	}

	return simulate(ctx, "shuffle_trades", initialCapital, config, func(rng *rand.Rand) (terminal, maxDD float64) {
		sequence := make([]float64, len(pnls))
		copy(sequence, pnls)
		rng.Shuffle(len(sequence), func(i, j int) {
			sequence[i], sequence[j] = sequence[j], sequence[i]
		})

		equity := initialCapital
		peak := equity

		for _, pnl := range sequence {
			equity += pnl

			if equity > peak {
				peak = equity
			}

			if peak > 0 {
				if dd := (peak - equity) / peak; dd > maxDD {
					maxDD = dd
				}
			}
		}

		return equity, maxDD
	})
}

// BootstrapReturns block-bootstraps the per-bar return series. Sampling
// whole blocks preserves short-range serial correlation that plain IID
// resampling would destroy.
func BootstrapReturns(ctx context.Context, returns []float64, initialCapital float64, config MonteCarloConfig) (*MonteCarloResult, error) {
	if len(returns) < 2 {
		return nil, errors.New(errors.ErrCodeInsufficientData, "need at least two returns to bootstrap")
	}

	config.normalize()

	blockSize := config.BlockSize
	if blockSize > len(returns) {
		blockSize = len(returns)
	}

	return simulate(ctx, "bootstrap_returns", initialCapital, config, func(rng *rand.Rand) (terminal, maxDD float64) {
		equity := initialCapital
		peak := equity
		drawn := 0

		for drawn < len(returns) {
			start := rng.Intn(len(returns) - blockSize + 1)

			for _, r := range returns[start : start+blockSize] {
				if drawn == len(returns) {
					break
				}

				equity *= 1 + r
				drawn++

				if equity > peak {
					peak = equity
				}

				if peak > 0 {
					if dd := (peak - equity) / peak; dd > maxDD {
						maxDD = dd
					}
				}
			}
		}

		return equity, maxDD
	})
}

// simulate fans iterations out over a worker pool and reduces the sorted
// outcome distributions into percentile bands.
func simulate(
	ctx context.Context,
	method string,
	initialCapital float64,
	config MonteCarloConfig,
	iteration func(rng *rand.Rand) (terminal, maxDD float64),
) (*MonteCarloResult, error) {
	terminals := make([]float64, config.Iterations)
	drawdowns := make([]float64, config.Iterations)

	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(config.Workers)

	for i := 0; i < config.Iterations; i++ {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(config.Seed + int64(i)))
			terminal, maxDD := iteration(rng)

			mu.Lock()
			terminals[i] = terminal
			drawdowns[i] = maxDD
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOptimizationFailed, "monte carlo cancelled", err)
	}

	sortedTerminals := sortedCopy(terminals)
	sortedDrawdowns := sortedCopy(drawdowns)

	result := &MonteCarloResult{
		Method:         method,
		Iterations:     config.Iterations,
		InitialCapital: initialCapital,
		TerminalEquity: bands(sortedTerminals, config.Percentiles),
		TotalReturnPct: Bands{},
		MaxDrawdownPct: bands(sortedDrawdowns, config.Percentiles),
		ProbOfLoss:     0,
		WorstDrawdown:  sortedDrawdowns[len(sortedDrawdowns)-1],
		BestTerminal:   sortedTerminals[len(sortedTerminals)-1],
		WorstTerminal:  sortedTerminals[0],
	}

	losses := 0

	for _, terminal := range terminals {
		if terminal < initialCapital {
			losses++
		}
	}

	result.ProbOfLoss = float64(losses) / float64(config.Iterations)

	if initialCapital > 0 {
		for p, v := range result.TerminalEquity {
			result.TotalReturnPct[p] = (v/initialCapital - 1) * 100
		}
	}

	return result, nil
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)

	return out
}

func bands(sorted []float64, percentiles []float64) Bands {
	out := make(Bands, len(percentiles))
	for _, p := range percentiles {
		out[p] = percentile(sorted, p)
	}

	return out
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))

	if lo == hi {
		return sorted[lo]
	}

	frac := rank - float64(lo)

	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Summary renders a compact human-readable report.
func (r *MonteCarloResult) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Monte Carlo (%s, %d iterations)\n", r.Method, r.Iterations)
	fmt.Fprintf(&b, "  probability of loss: %.1f%%\n", r.ProbOfLoss*100)
	fmt.Fprintf(&b, "  terminal equity: worst %.2f, best %.2f\n", r.WorstTerminal, r.BestTerminal)
	fmt.Fprintf(&b, "  worst max drawdown: %.1f%%\n", r.WorstDrawdown*100)

	percentiles := make([]float64, 0, len(r.TerminalEquity))
	for p := range r.TerminalEquity {
		percentiles = append(percentiles, p)
	}

	sort.Float64s(percentiles)

	for _, p := range percentiles {
		fmt.Fprintf(&b, "  p%02.0f: equity %.2f, drawdown %.1f%%\n",
			p, r.TerminalEquity[p], r.MaxDrawdownPct[p]*100)
	}

	return b.String()
}
