package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rxtech-lab/utss-engine/internal/dataset"
	"github.com/rxtech-lab/utss-engine/internal/logger"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
)

// PortfolioReader is the read-only portfolio view the evaluator sees.
// Signals may reference portfolio state but never mutate it.
type PortfolioReader interface {
	Cash() float64
	Equity() float64
	Position(symbol string) (types.Position, bool)
	UnrealizedPnL() float64
	RealizedPnL() float64
	DrawdownPct() float64
	ClosedTrades() []types.Trade
}

// Evaluator owns all per-run evaluation state for one symbol: the linked
// strategy, the indicator memo, and the arena of stateful condition
// records. A run is strictly sequential; nothing here is safe for
// concurrent use and nothing needs to be.
type Evaluator struct {
	strategy  *types.Strategy
	linked    *linked
	data      *dataset.Dataset
	symbol    string
	bars      []types.Bar
	params    map[string]float64
	portfolio PortfolioReader
	logger    *logger.Logger

	memo     map[string][]float64
	states   []condState
	warnings []types.Warning
}

// NewEvaluator links the strategy and prepares per-run state. Linking
// happens here so every structural error surfaces before the first bar.
func NewEvaluator(
	strategy *types.Strategy,
	data *dataset.Dataset,
	symbol string,
	params map[string]float64,
	portfolio PortfolioReader,
	log *logger.Logger,
) (*Evaluator, error) {
	bars, err := data.Bars(symbol)
	if err != nil {
		return nil, err
	}

	resolved, err := link(strategy, params)
	if err != nil {
		return nil, err
	}

	states := make([]condState, resolved.slotCount)
	for i := range states {
		states[i] = newCondState()
	}

	return &Evaluator{
		strategy:  strategy,
		linked:    resolved,
		data:      data,
		symbol:    symbol,
		bars:      bars,
		params:    params,
		portfolio: portfolio,
		logger:    log,
		memo:      make(map[string][]float64),
		states:    states,
		warnings:  nil,
	}, nil
}

// Warnings returns the recoverable conditions recorded so far.
func (e *Evaluator) Warnings() []types.Warning {
	return e.warnings
}

func (e *Evaluator) warn(code errors.ErrorCode, index int, format string, args ...any) {
	w := types.Warning{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		BarIndex: index,
		Time:     e.bars[clampIndex(index, len(e.bars))].Time,
	}

	e.warnings = append(e.warnings, w)
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}

	if i >= n {
		return n - 1
	}

	return i
}

// memoKey builds the cache key for an indicator series. Params are sorted
// by name so equivalent maps produce identical keys.
func memoKey(symbol, indicator, field, output string, params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}

	sort.Strings(names)

	var b strings.Builder

	b.WriteString(symbol)
	b.WriteByte('|')
	b.WriteString(indicator)
	b.WriteByte('|')
	b.WriteString(field)
	b.WriteByte('|')
	b.WriteString(output)

	for _, name := range names {
		fmt.Fprintf(&b, "|%s=%v", name, params[name])
	}

	return b.String()
}
