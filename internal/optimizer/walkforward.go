package optimizer

import (
	"context"

	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RangeRunFunc executes one backtest over bars [start, end) under a
// parameter binding.
type RangeRunFunc func(ctx context.Context, params map[string]float64, start, end int) (*types.BacktestResult, error)

// WalkForwardConfig controls a walk-forward validation.
type WalkForwardConfig struct {
	Grid        Grid
	Metric      string
	TrainPeriod int
	TestPeriod  int
	Step        int
	Bars        int
	Workers     int
	Progress    func(done, total int)
}

// WindowResult is one train/test split. InSample is the best train-slice
// score; OutOfSample is that binding's score on the held-out test slice.
type WindowResult struct {
	Index       int                `yaml:"index" json:"index"`
	TrainStart  int                `yaml:"train_start" json:"train_start"`
	TrainEnd    int                `yaml:"train_end" json:"train_end"`
	TestStart   int                `yaml:"test_start" json:"test_start"`
	TestEnd     int                `yaml:"test_end" json:"test_end"`
	BestParams  map[string]float64 `yaml:"best_params" json:"best_params"`
	InSample    float64            `yaml:"in_sample" json:"in_sample"`
	OutOfSample float64            `yaml:"out_of_sample" json:"out_of_sample"`
}

// WalkForwardResult aggregates all windows. Efficiency is the ratio of
// mean out-of-sample to mean in-sample score; values well below one
// indicate overfitting to the train slices.
type WalkForwardResult struct {
	Metric          string         `yaml:"metric" json:"metric"`
	Windows         []WindowResult `yaml:"windows" json:"windows"`
	MeanInSample    float64        `yaml:"mean_in_sample" json:"mean_in_sample"`
	MeanOutOfSample float64        `yaml:"mean_out_of_sample" json:"mean_out_of_sample"`
	Efficiency      float64        `yaml:"efficiency" json:"efficiency"`
}

// windows enumerates the rolling train/test splits. Each test slice starts
// where its train slice ends; windows advance by step and the last one
// ends at or before the final bar.
func (c *WalkForwardConfig) windows() []WindowResult {
	var out []WindowResult

	index := 0
	for start := 0; start+c.TrainPeriod+c.TestPeriod <= c.Bars; start += c.Step {
		out = append(out, WindowResult{
			Index:       index,
			TrainStart:  start,
			TrainEnd:    start + c.TrainPeriod,
			TestStart:   start + c.TrainPeriod,
			TestEnd:     start + c.TrainPeriod + c.TestPeriod,
			BestParams:  nil,
			InSample:    0,
			OutOfSample: 0,
		})
		index++
	}

	return out
}

// WalkForward runs the rolling validation. Parameters are chosen using
// only each window's train slice and scored once on the held-out test
// slice. Windows are independent and run on a worker pool.
func WalkForward(ctx context.Context, config WalkForwardConfig, run RangeRunFunc) (*WalkForwardResult, error) {
	if config.TrainPeriod <= 0 || config.TestPeriod <= 0 || config.Step <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidWindow,
			"train, test, and step must be positive (got %d/%d/%d)",
			config.TrainPeriod, config.TestPeriod, config.Step)
	}

	windows := config.windows()
	if len(windows) == 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidWindow,
			"no walk-forward windows fit %d bars (train %d + test %d)",
			config.Bars, config.TrainPeriod, config.TestPeriod)
	}

	metric := config.Metric
	if metric == "" {
		metric = "sharpe"
	}

	workers := config.Workers
	if workers <= 0 {
		workers = 4
	}

	done := make(chan int, len(windows))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i := range windows {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			window := &windows[i]

			best, err := GridSearch(groupCtx, GridSearchConfig{
				Grid:     config.Grid,
				Metric:   metric,
				Workers:  1,
				Progress: nil,
			}, func(ctx context.Context, params map[string]float64) (*types.BacktestResult, error) {
				return run(ctx, params, window.TrainStart, window.TrainEnd)
			})
			if err != nil {
				return err
			}

			window.BestParams = best.BestParams
			window.InSample = best.BestScore

			testResult, err := run(groupCtx, best.BestParams, window.TestStart, window.TestEnd)
			if err != nil {
				return errors.Wrapf(errors.ErrCodeOptimizationFailed, err,
					"test run failed for window %d", window.Index)
			}

			window.OutOfSample = MetricValue(testResult.Metrics, metric)

			done <- i

			return nil
		})
	}

	if config.Progress != nil {
		go func() {
			count := 0
			for range done {
				count++
				config.Progress(count, len(windows))
			}
		}()
	}

	err := group.Wait()
	close(done)

	if err != nil {
		return nil, err
	}

	result := &WalkForwardResult{
		Metric:          metric,
		Windows:         windows,
		MeanInSample:    0,
		MeanOutOfSample: 0,
		Efficiency:      0,
	}

	for _, window := range windows {
		result.MeanInSample += window.InSample
		result.MeanOutOfSample += window.OutOfSample
	}

	result.MeanInSample /= float64(len(windows))
	result.MeanOutOfSample /= float64(len(windows))

	if result.MeanInSample != 0 {
		result.Efficiency = result.MeanOutOfSample / result.MeanInSample
	}

	return result, nil
}
