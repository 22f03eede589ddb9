// Package optimizer searches strategy parameter space: exhaustive grid
// search and walk-forward validation. Individual backtests are sequential
// and deterministic; the optimizer only parallelizes across independent
// runs and aggregates after the pool drains.
package optimizer

import (
	"context"
	"math"
	"sort"

	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RunFunc executes one full backtest under a parameter binding. The
// optimizer never inspects strategy internals; it only varies bindings.
type RunFunc func(ctx context.Context, params map[string]float64) (*types.BacktestResult, error)

// Grid maps parameter names to candidate values.
type Grid map[string][]float64

// Combinations expands the Cartesian product in deterministic order
// (parameter names sorted, values in declaration order).
func (g Grid) Combinations() []map[string]float64 {
	if len(g) == 0 {
		return nil
	}

	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}

	sort.Strings(names)

	combos := []map[string]float64{{}}

	for _, name := range names {
		values := g[name]
		next := make([]map[string]float64, 0, len(combos)*len(values))

		for _, combo := range combos {
			for _, value := range values {
				expanded := make(map[string]float64, len(combo)+1)
				for k, v := range combo {
					expanded[k] = v
				}

				expanded[name] = value
				next = append(next, expanded)
			}
		}

		combos = next
	}

	return combos
}

// GridSearchConfig controls a grid search.
type GridSearchConfig struct {
	Grid    Grid
	Metric  string
	Workers int
	// Progress, when set, is called after each completed run with the
	// number done and the total. Calls may arrive from worker goroutines.
	Progress func(done, total int)
}

// GridResult is one evaluated parameter combination.
type GridResult struct {
	Params map[string]float64    `yaml:"params" json:"params"`
	Score  float64               `yaml:"score" json:"score"`
	Result *types.BacktestResult `yaml:"-" json:"-"`
}

// OptimizationResult ranks every combination by the chosen metric.
type OptimizationResult struct {
	Metric     string             `yaml:"metric" json:"metric"`
	BestParams map[string]float64 `yaml:"best_params" json:"best_params"`
	BestScore  float64            `yaml:"best_score" json:"best_score"`
	Ranked     []GridResult       `yaml:"ranked" json:"ranked"`
}

// GridSearch evaluates every combination of the grid and ranks by the
// configured metric, descending. Runs are distributed over a worker pool;
// results are collected after all workers join, so ranking order never
// depends on scheduling.
func GridSearch(ctx context.Context, config GridSearchConfig, run RunFunc) (*OptimizationResult, error) {
	combos := config.Grid.Combinations()
	if len(combos) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyParameterGrid, "parameter grid is empty")
	}

	metric := config.Metric
	if metric == "" {
		metric = "sharpe"
	}

	workers := config.Workers
	if workers <= 0 {
		workers = 4
	}

	results := make([]GridResult, len(combos))
	done := make(chan int, len(combos))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, combo := range combos {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			result, err := run(groupCtx, combo)
			if err != nil {
				return errors.Wrapf(errors.ErrCodeOptimizationFailed, err, "backtest failed for %v", combo)
			}

			results[i] = GridResult{
				Params: combo,
				Score:  MetricValue(result.Metrics, metric),
				Result: result,
			}

			done <- i

			return nil
		})
	}

	if config.Progress != nil {
		go func() {
			count := 0
			for range done {
				count++
				config.Progress(count, len(combos))
			}
		}()
	}

	err := group.Wait()
	close(done)

	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return &OptimizationResult{
		Metric:     metric,
		BestParams: results[0].Params,
		BestScore:  results[0].Score,
		Ranked:     results,
	}, nil
}

// MetricValue extracts a named metric from a report. NaN scores sort last.
func MetricValue(m types.Metrics, name string) float64 {
	var value float64

	switch name {
	case "total_return":
		value = m.TotalReturn
	case "annualized_return":
		value = m.AnnualizedReturn
	case "sharpe":
		value = m.Sharpe
	case "sortino":
		value = m.Sortino
	case "calmar":
		value = m.Calmar
	case "max_drawdown":
		// Smaller drawdown ranks higher.
		value = -m.MaxDrawdownPct
	case "win_rate":
		value = m.WinRate
	case "profit_factor":
		value = m.ProfitFactor
	case "expectancy":
		value = m.Expectancy
	default:
		value = m.Sharpe
	}

	if math.IsNaN(value) {
		return math.Inf(-1)
	}

	return value
}
