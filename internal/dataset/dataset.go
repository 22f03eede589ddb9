// Package dataset holds the immutable market data a backtest runs over:
// per-symbol bar series plus the optional side channels (fundamentals,
// calendar events, external series, benchmark).
package dataset

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
)

// Dataset is validated once at load time. After validation the engine
// treats it as read-only; bars are never reordered or mutated.
type Dataset struct {
	symbols      []string
	bars         map[string][]types.Bar
	fundamentals map[string]map[string][]float64
	events       map[string][]time.Time
	externals    map[string][]float64
	benchmark    []types.Bar
}

// New creates an empty Dataset.
func New() *Dataset {
	return &Dataset{
		symbols:      nil,
		bars:         make(map[string][]types.Bar),
		fundamentals: make(map[string]map[string][]float64),
		events:       make(map[string][]time.Time),
		externals:    make(map[string][]float64),
		benchmark:    nil,
	}
}

// AddBars registers a bar series for a symbol. Timestamps must be strictly
// increasing; an out-of-order or duplicate timestamp is a fatal load error,
// never silently sorted.
func (d *Dataset) AddBars(symbol string, bars []types.Bar) error {
	if len(bars) == 0 {
		return errors.Newf(errors.ErrCodeEmptyDataset, "no bars for symbol %q", symbol)
	}

	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return errors.Newf(errors.ErrCodeNonMonotonicSeries,
				"symbol %q: bar %d at %s is not after bar %d at %s",
				symbol, i, bars[i].Time.Format(time.RFC3339), i-1, bars[i-1].Time.Format(time.RFC3339))
		}
	}

	if _, exists := d.bars[symbol]; !exists {
		d.symbols = append(d.symbols, symbol)
	}

	d.bars[symbol] = bars

	return nil
}

// Bars returns the bar series for a symbol.
func (d *Dataset) Bars(symbol string) ([]types.Bar, error) {
	bars, ok := d.bars[symbol]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %q not in dataset", symbol)
	}

	return bars, nil
}

// Symbols returns symbols in the order they were added.
func (d *Dataset) Symbols() []string {
	return d.symbols
}

// Len returns the bar count of the shortest registered series, or zero
// when the dataset is empty.
func (d *Dataset) Len() int {
	n := 0

	for _, bars := range d.bars {
		if n == 0 || len(bars) < n {
			n = len(bars)
		}
	}

	return n
}

// SetFundamental attaches a per-bar fundamental metric series to a symbol.
// The series must be index-aligned with the symbol's bars.
func (d *Dataset) SetFundamental(symbol, metric string, series []float64) error {
	bars, ok := d.bars[symbol]
	if !ok {
		return errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %q not in dataset", symbol)
	}

	if len(series) != len(bars) {
		return errors.Newf(errors.ErrCodeInvalidParameter,
			"fundamental %q for %q has %d values, expected %d", metric, symbol, len(series), len(bars))
	}

	if d.fundamentals[symbol] == nil {
		d.fundamentals[symbol] = make(map[string][]float64)
	}

	d.fundamentals[symbol][metric] = series

	return nil
}

// Fundamental looks up a fundamental value by bar index. None when the
// metric is unknown or the index is out of range.
func (d *Dataset) Fundamental(symbol, metric string, index int) optional.Option[float64] {
	series, ok := d.fundamentals[symbol][metric]
	if !ok || index < 0 || index >= len(series) {
		return optional.None[float64]()
	}

	return optional.Some(series[index])
}

// SetEvents registers dated calendar events (earnings, dividends) under a
// name. Dates are stored as given; lookups scan the slice, which is fine
// for the handful of events a strategy references.
func (d *Dataset) SetEvents(name string, dates []time.Time) {
	d.events[name] = dates
}

// NearEvent reports whether t falls within [date-daysBefore, date+daysAfter]
// of any registered event date, comparing at day granularity.
func (d *Dataset) NearEvent(name string, t time.Time, daysBefore, daysAfter int) bool {
	dates, ok := d.events[name]
	if !ok {
		return false
	}

	day := t.Truncate(24 * time.Hour)

	for _, date := range dates {
		lo := date.Truncate(24*time.Hour).AddDate(0, 0, -daysBefore)
		hi := date.Truncate(24*time.Hour).AddDate(0, 0, daysAfter)

		if !day.Before(lo) && !day.After(hi) {
			return true
		}
	}

	return false
}

// SetExternal attaches a named series shared across symbols, index-aligned
// with the bar series.
func (d *Dataset) SetExternal(key string, series []float64) {
	d.externals[key] = series
}

// External looks up an external value by bar index.
func (d *Dataset) External(key string, index int) optional.Option[float64] {
	series, ok := d.externals[key]
	if !ok || index < 0 || index >= len(series) {
		return optional.None[float64]()
	}

	return optional.Some(series[index])
}

// SetBenchmark attaches the benchmark bar series used for relative metrics.
func (d *Dataset) SetBenchmark(bars []types.Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return errors.Newf(errors.ErrCodeNonMonotonicSeries,
				"benchmark: bar %d is not after bar %d", i, i-1)
		}
	}

	d.benchmark = bars

	return nil
}

// Benchmark returns the benchmark series, nil when unset.
func (d *Dataset) Benchmark() []types.Bar {
	return d.benchmark
}

// Validate checks the dataset is runnable: at least one symbol with bars.
func (d *Dataset) Validate() error {
	if len(d.symbols) == 0 {
		return errors.New(errors.ErrCodeEmptyDataset, "dataset has no symbols")
	}

	for _, symbol := range d.symbols {
		if len(d.bars[symbol]) == 0 {
			return errors.Newf(errors.ErrCodeEmptyDataset, "symbol %q has no bars", symbol)
		}
	}

	return nil
}
