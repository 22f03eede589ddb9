package optimizer

import (
	"context"
	"testing"

	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 200 bars with a 100-bar train, 20-bar test, and 20-bar step yield
// exactly five chronological, non-overlapping test windows.
func TestWindowEnumeration(t *testing.T) {
	config := WalkForwardConfig{
		TrainPeriod: 100,
		TestPeriod:  20,
		Step:        20,
		Bars:        200,
	}

	windows := config.windows()
	require.Len(t, windows, 5)

	for i, window := range windows {
		assert.Equal(t, i, window.Index)
		assert.Equal(t, i*20, window.TrainStart)
		assert.Equal(t, i*20+100, window.TrainEnd)
		assert.Equal(t, window.TrainEnd, window.TestStart)
		assert.Equal(t, window.TestStart+20, window.TestEnd)

		if i > 0 {
			assert.Equal(t, windows[i-1].TestEnd, window.TestEnd-20)
		}
	}

	last := windows[len(windows)-1]
	assert.Equal(t, 200, last.TestEnd)
}

func TestWindowEnumerationPartialTailIsDropped(t *testing.T) {
	config := WalkForwardConfig{
		TrainPeriod: 100,
		TestPeriod:  20,
		Step:        20,
		Bars:        210,
	}

	// Bars 200..209 cannot fit another full train+test split.
	windows := config.windows()
	assert.Len(t, windows, 5)
}

func TestWalkForwardValidatesConfig(t *testing.T) {
	_, err := WalkForward(context.Background(), WalkForwardConfig{
		Grid:        Grid{"x": {1}},
		TrainPeriod: 0,
		TestPeriod:  20,
		Step:        20,
		Bars:        200,
	}, nil)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidWindow))

	_, err = WalkForward(context.Background(), WalkForwardConfig{
		Grid:        Grid{"x": {1}},
		TrainPeriod: 150,
		TestPeriod:  100,
		Step:        20,
		Bars:        200,
	}, nil)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidWindow))
}

func TestWalkForwardSelectsPerWindowParams(t *testing.T) {
	// The fake strategy scores parameter x as x/10 on train slices. On
	// test slices it scores half that, so efficiency lands at 0.5.
	run := func(ctx context.Context, params map[string]float64, start, end int) (*types.BacktestResult, error) {
		score := params["x"] / 10
		if end-start == 20 {
			score /= 2
		}

		return &types.BacktestResult{
			Metrics: types.Metrics{TotalReturn: score},
		}, nil
	}

	result, err := WalkForward(context.Background(), WalkForwardConfig{
		Grid:        Grid{"x": {1, 2, 3}},
		Metric:      "total_return",
		TrainPeriod: 100,
		TestPeriod:  20,
		Step:        20,
		Bars:        200,
	}, run)
	require.NoError(t, err)

	require.Len(t, result.Windows, 5)

	for _, window := range result.Windows {
		assert.Equal(t, map[string]float64{"x": 3}, window.BestParams)
		assert.InDelta(t, 0.3, window.InSample, 1e-9)
		assert.InDelta(t, 0.15, window.OutOfSample, 1e-9)
	}

	assert.InDelta(t, 0.3, result.MeanInSample, 1e-9)
	assert.InDelta(t, 0.15, result.MeanOutOfSample, 1e-9)
	assert.InDelta(t, 0.5, result.Efficiency, 1e-9)
}

func TestWalkForwardTestRunsUseHeldOutRange(t *testing.T) {
	type call struct {
		start, end int
	}

	var testCalls []call

	run := func(ctx context.Context, params map[string]float64, start, end int) (*types.BacktestResult, error) {
		if end-start == 20 {
			testCalls = append(testCalls, call{start, end})
		}

		return &types.BacktestResult{Metrics: types.Metrics{TotalReturn: 0.1}}, nil
	}

	_, err := WalkForward(context.Background(), WalkForwardConfig{
		Grid:        Grid{"x": {1}},
		Metric:      "total_return",
		TrainPeriod: 100,
		TestPeriod:  20,
		Step:        20,
		Bars:        200,
		Workers:     1,
	}, run)
	require.NoError(t, err)

	assert.ElementsMatch(t, []call{
		{100, 120},
		{120, 140},
		{140, 160},
		{160, 180},
		{180, 200},
	}, testCalls)
}
