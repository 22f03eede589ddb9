package types

import (
	"time"

	"github.com/rxtech-lab/utss-engine/pkg/errors"
)

// Trade is one completed round trip (or partial close) on a symbol.
type Trade struct {
	Symbol       string         `yaml:"symbol" json:"symbol"`
	Direction    TradeDirection `yaml:"direction" json:"direction"`
	EntryTime    time.Time      `yaml:"entry_time" json:"entry_time"`
	EntryPrice   float64        `yaml:"entry_price" json:"entry_price"`
	ExitTime     time.Time      `yaml:"exit_time" json:"exit_time"`
	ExitPrice    float64        `yaml:"exit_price" json:"exit_price"`
	Quantity     float64        `yaml:"quantity" json:"quantity"`
	Commission   float64        `yaml:"commission" json:"commission"`
	SlippageCost float64        `yaml:"slippage_cost" json:"slippage_cost"`
	PnL          float64        `yaml:"pnl" json:"pnl"`
	EntryReason  string         `yaml:"entry_reason" json:"entry_reason"`
	ExitReason   string         `yaml:"exit_reason" json:"exit_reason"`
}

// Position is the current open exposure on one symbol. Quantity is
// signed: positive long, negative short. A position at quantity zero is
// removed, not kept.
type Position struct {
	Symbol        string    `yaml:"symbol" json:"symbol"`
	Quantity      float64   `yaml:"quantity" json:"quantity"`
	AvgEntryPrice float64   `yaml:"avg_entry_price" json:"avg_entry_price"`
	EntryTime     time.Time `yaml:"entry_time" json:"entry_time"`
	// HighWaterPrice tracks the best price seen since entry, used by
	// trailing-stop exits. For shorts it is the lowest price.
	HighWaterPrice float64 `yaml:"high_water_price" json:"high_water_price"`
}

// PortfolioSnapshot is the per-bar equity record.
type PortfolioSnapshot struct {
	Time           time.Time           `yaml:"time" json:"time"`
	Cash           float64             `yaml:"cash" json:"cash"`
	PositionsValue float64             `yaml:"positions_value" json:"positions_value"`
	Positions      map[string]Position `yaml:"positions,omitempty" json:"positions,omitempty"`
	Equity         float64             `yaml:"equity" json:"equity"`
	UnrealizedPnL  float64             `yaml:"unrealized_pnl" json:"unrealized_pnl"`
	RealizedPnL    float64             `yaml:"realized_pnl" json:"realized_pnl"`
	Drawdown       float64             `yaml:"drawdown" json:"drawdown"`
	DrawdownPct    float64             `yaml:"drawdown_pct" json:"drawdown_pct"`
}

// Warning is a recoverable condition observed during a run. Warnings never
// stop the simulation; they are collected on the result.
type Warning struct {
	Code     errors.ErrorCode `yaml:"code" json:"code"`
	Message  string           `yaml:"message" json:"message"`
	BarIndex int              `yaml:"bar_index" json:"bar_index"`
	Time     time.Time        `yaml:"time" json:"time"`
}

// Metrics is the full performance report computed after a run.
type Metrics struct {
	TotalReturn      float64 `yaml:"total_return" json:"total_return"`
	AnnualizedReturn float64 `yaml:"annualized_return" json:"annualized_return"`
	Volatility       float64 `yaml:"volatility" json:"volatility"`
	Sharpe           float64 `yaml:"sharpe" json:"sharpe"`
	Sortino          float64 `yaml:"sortino" json:"sortino"`
	MaxDrawdown      float64 `yaml:"max_drawdown" json:"max_drawdown"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	// MaxDrawdownBars counts from the peak to the last bar below it.
	MaxDrawdownBars int     `yaml:"max_drawdown_bars" json:"max_drawdown_bars"`
	Calmar          float64 `yaml:"calmar" json:"calmar"`
	WinRate         float64 `yaml:"win_rate" json:"win_rate"`
	ProfitFactor    float64 `yaml:"profit_factor" json:"profit_factor"`
	AvgWin          float64 `yaml:"avg_win" json:"avg_win"`
	AvgLoss         float64 `yaml:"avg_loss" json:"avg_loss"`
	Expectancy      float64 `yaml:"expectancy" json:"expectancy"`
	TradeCount      int     `yaml:"trade_count" json:"trade_count"`
	Exposure        float64 `yaml:"exposure" json:"exposure"`

	// Benchmark-relative statistics, zero-valued when no benchmark is set.
	Alpha         float64 `yaml:"alpha,omitempty" json:"alpha,omitempty"`
	Beta          float64 `yaml:"beta,omitempty" json:"beta,omitempty"`
	InfoRatio     float64 `yaml:"information_ratio,omitempty" json:"information_ratio,omitempty"`
	TrackingError float64 `yaml:"tracking_error,omitempty" json:"tracking_error,omitempty"`
	UpCapture     float64 `yaml:"up_capture,omitempty" json:"up_capture,omitempty"`
	DownCapture   float64 `yaml:"down_capture,omitempty" json:"down_capture,omitempty"`
}

// BacktestResult is everything a single-strategy run produces. RunID is
// assigned by the caller for report correlation; the engine itself stays
// fully deterministic and leaves it empty.
type BacktestResult struct {
	RunID          string              `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	StrategyID     string              `yaml:"strategy_id" json:"strategy_id"`
	Symbol         string              `yaml:"symbol" json:"symbol"`
	InitialCapital float64             `yaml:"initial_capital" json:"initial_capital"`
	FinalEquity    float64             `yaml:"final_equity" json:"final_equity"`
	Trades         []Trade             `yaml:"trades" json:"trades"`
	EquityCurve    []PortfolioSnapshot `yaml:"equity_curve" json:"equity_curve"`
	Metrics        Metrics             `yaml:"metrics" json:"metrics"`
	Warnings       []Warning           `yaml:"warnings,omitempty" json:"warnings,omitempty"`
}

// Returns computes the simple per-bar return series from the equity curve.
func (r *BacktestResult) Returns() []float64 {
	if len(r.EquityCurve) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(r.EquityCurve)-1)
	for i := 1; i < len(r.EquityCurve); i++ {
		prev := r.EquityCurve[i-1].Equity
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}

		returns = append(returns, r.EquityCurve[i].Equity/prev-1)
	}

	return returns
}

// PortfolioResult is the multi-symbol run output. Per-symbol attribution
// sits alongside the combined curve.
type PortfolioResult struct {
	RunID          string              `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	StrategyID     string              `yaml:"strategy_id" json:"strategy_id"`
	Symbols        []string            `yaml:"symbols" json:"symbols"`
	InitialCapital float64             `yaml:"initial_capital" json:"initial_capital"`
	FinalEquity    float64             `yaml:"final_equity" json:"final_equity"`
	Trades         []Trade             `yaml:"trades" json:"trades"`
	EquityCurve    []PortfolioSnapshot `yaml:"equity_curve" json:"equity_curve"`
	Metrics        Metrics             `yaml:"metrics" json:"metrics"`
	PerSymbolPnL   map[string]float64  `yaml:"per_symbol_pnl" json:"per_symbol_pnl"`
	RebalanceCount int                 `yaml:"rebalance_count" json:"rebalance_count"`
	Warnings       []Warning           `yaml:"warnings,omitempty" json:"warnings,omitempty"`
}
