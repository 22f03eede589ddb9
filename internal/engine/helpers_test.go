package engine

import (
	"testing"
	"time"

	"github.com/rxtech-lab/utss-engine/internal/dataset"
	"github.com/rxtech-lab/utss-engine/internal/logger"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewNopLogger()
}

// barsFromCloses builds a daily bar series where every price field equals
// the close, which keeps hand-computed expectations simple.
func barsFromCloses(closes []float64) []types.Bar {
	baseTime := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, len(closes))

	for i, c := range closes {
		bars[i] = types.Bar{
			Time:   baseTime.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1000,
		}
	}

	return bars
}

func datasetWithCloses(t *testing.T, symbol string, closes []float64) *dataset.Dataset {
	t.Helper()

	data := dataset.New()
	require.NoError(t, data.AddBars(symbol, barsFromCloses(closes)))

	return data
}

func loadStrategy(t *testing.T, yamlText string) *types.Strategy {
	t.Helper()

	strategy, err := types.LoadStrategy([]byte(yamlText))
	require.NoError(t, err)

	return strategy
}

func zeroCostConfig(initialCapital float64) types.BacktestConfig {
	config := types.DefaultConfig()
	config.InitialCapital = initialCapital

	return config
}

// newTestEvaluator links a strategy against a dataset with a fresh
// portfolio, for tests that poke at evaluation directly.
func newTestEvaluator(t *testing.T, strategy *types.Strategy, data *dataset.Dataset, symbol string, initialCapital float64) *Evaluator {
	t.Helper()

	portfolio := NewPortfolio(initialCapital, testLogger())

	evaluator, err := NewEvaluator(strategy, data, symbol, nil, portfolio, testLogger())
	require.NoError(t, err)

	return evaluator
}
