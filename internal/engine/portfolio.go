package engine

import (
	"math"
	"time"

	"github.com/rxtech-lab/utss-engine/internal/logger"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Portfolio tracks cash, open positions, closed trades, and the equity
// curve for one run. Position quantities are signed: positive long,
// negative short. The conservation invariant holds after every operation:
// cash plus the sum of signed position values equals equity.
type Portfolio struct {
	initialCapital float64
	cash           float64
	positions      map[string]*types.Position
	trades         []types.Trade
	realized       decimal.Decimal
	snapshots      []types.PortfolioSnapshot
	lastPrices     map[string]float64
	peakEquity     float64
	logger         *logger.Logger
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(initialCapital float64, log *logger.Logger) *Portfolio {
	return &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*types.Position),
		trades:         nil,
		realized:       decimal.Zero,
		snapshots:      nil,
		lastPrices:     make(map[string]float64),
		peakEquity:     initialCapital,
		logger:         log,
	}
}

// Cash returns available cash.
func (p *Portfolio) Cash() float64 {
	return p.cash
}

// Equity returns cash plus the signed value of all open positions at the
// last marked prices.
func (p *Portfolio) Equity() float64 {
	return p.cash + p.positionsValue()
}

func (p *Portfolio) positionsValue() float64 {
	total := 0.0
	for symbol, pos := range p.positions {
		total += pos.Quantity * p.lastPrices[symbol]
	}

	return total
}

// Position returns the open position on a symbol, if any.
func (p *Portfolio) Position(symbol string) (types.Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return types.Position{}, false
	}

	return *pos, true
}

// Positions returns a copy of all open positions.
func (p *Portfolio) Positions() map[string]types.Position {
	out := make(map[string]types.Position, len(p.positions))
	for symbol, pos := range p.positions {
		out[symbol] = *pos
	}

	return out
}

// ClosedTrades returns the trades closed so far.
func (p *Portfolio) ClosedTrades() []types.Trade {
	return p.trades
}

// Snapshots returns the equity curve recorded so far.
func (p *Portfolio) Snapshots() []types.PortfolioSnapshot {
	return p.snapshots
}

// RealizedPnL returns the accumulated realized profit and loss.
func (p *Portfolio) RealizedPnL() float64 {
	return p.realized.InexactFloat64()
}

// UnrealizedPnL returns the open profit and loss at the last marked prices.
func (p *Portfolio) UnrealizedPnL() float64 {
	total := 0.0
	for symbol, pos := range p.positions {
		total += (p.lastPrices[symbol] - pos.AvgEntryPrice) * pos.Quantity
	}

	return total
}

// DrawdownPct returns the current decline from the equity peak as a
// fraction of the peak.
func (p *Portfolio) DrawdownPct() float64 {
	if p.peakEquity <= 0 {
		return 0
	}

	dd := (p.peakEquity - p.Equity()) / p.peakEquity
	if dd < 0 {
		return 0
	}

	return dd
}

// signedDelta maps a fill direction to a signed quantity change.
func signedDelta(direction types.TradeDirection, quantity float64) float64 {
	switch direction {
	case types.TradeDirectionBuy, types.TradeDirectionCover:
		return quantity
	case types.TradeDirectionSell, types.TradeDirectionShort:
		return -quantity
	default:
		return 0
	}
}

// ApplyFill mutates cash and position state for one fill. Cash moves by
// the signed notional plus commission. A fill that reduces or flips an
// existing position realizes P&L and appends a Trade for the closed part.
func (p *Portfolio) ApplyFill(fill Fill) {
	delta := signedDelta(fill.Direction, fill.Quantity)

	p.cash -= delta*fill.Price + fill.Commission
	p.lastPrices[fill.Symbol] = fill.Price

	pos, exists := p.positions[fill.Symbol]
	if !exists {
		p.positions[fill.Symbol] = &types.Position{
			Symbol:         fill.Symbol,
			Quantity:       delta,
			AvgEntryPrice:  fill.Price,
			EntryTime:      fill.Time,
			HighWaterPrice: fill.Price,
		}

		return
	}

	sameSide := (pos.Quantity > 0 && delta > 0) || (pos.Quantity < 0 && delta < 0)
	if sameSide {
		// Pyramiding: weighted average entry.
		total := pos.Quantity + delta
		pos.AvgEntryPrice = (pos.AvgEntryPrice*math.Abs(pos.Quantity) + fill.Price*math.Abs(delta)) / math.Abs(total)
		pos.Quantity = total

		return
	}

	// Opposite side: close some or all, possibly flip.
	closedQty := math.Min(math.Abs(delta), math.Abs(pos.Quantity))
	p.closePartial(pos, fill, closedQty)

	remaining := pos.Quantity + delta

	switch {
	case remaining == 0:
		delete(p.positions, fill.Symbol)
	case (remaining > 0) == (pos.Quantity > 0):
		pos.Quantity = remaining
	default:
		// Flip: the excess opens a new position at the fill price.
		pos.Quantity = remaining
		pos.AvgEntryPrice = fill.Price
		pos.EntryTime = fill.Time
		pos.HighWaterPrice = fill.Price
	}
}

// closePartial realizes P&L on the closed quantity and records the trade.
// Realized math runs in decimal so repeated partial closes never drift.
func (p *Portfolio) closePartial(pos *types.Position, fill Fill, closedQty float64) {
	sign := 1.0
	direction := types.TradeDirectionBuy

	if pos.Quantity < 0 {
		sign = -1.0
		direction = types.TradeDirectionShort
	}

	pnl := decimal.NewFromFloat(fill.Price).
		Sub(decimal.NewFromFloat(pos.AvgEntryPrice)).
		Mul(decimal.NewFromFloat(closedQty)).
		Mul(decimal.NewFromFloat(sign)).
		Sub(decimal.NewFromFloat(fill.Commission))

	p.realized = p.realized.Add(pnl)

	p.trades = append(p.trades, types.Trade{
		Symbol:       fill.Symbol,
		Direction:    direction,
		EntryTime:    pos.EntryTime,
		EntryPrice:   pos.AvgEntryPrice,
		ExitTime:     fill.Time,
		ExitPrice:    fill.Price,
		Quantity:     closedQty,
		Commission:   fill.Commission,
		SlippageCost: fill.Slippage,
		PnL:          pnl.InexactFloat64(),
		EntryReason:  "",
		ExitReason:   fill.Reason,
	})

	p.logger.Debug("closed position",
		zap.String("symbol", fill.Symbol),
		zap.Float64("quantity", closedQty),
		zap.Float64("pnl", pnl.InexactFloat64()))
}

// MarkToMarket updates last prices, the trailing high-water marks, and
// appends the per-bar snapshot. Called once per bar whether or not any
// fill occurred.
func (p *Portfolio) MarkToMarket(t time.Time, prices map[string]float64) types.PortfolioSnapshot {
	for symbol, price := range prices {
		p.lastPrices[symbol] = price

		if pos, ok := p.positions[symbol]; ok {
			if pos.Quantity > 0 && price > pos.HighWaterPrice {
				pos.HighWaterPrice = price
			}

			if pos.Quantity < 0 && price < pos.HighWaterPrice {
				pos.HighWaterPrice = price
			}
		}
	}

	equity := p.Equity()
	if equity > p.peakEquity {
		p.peakEquity = equity
	}

	snapshot := types.PortfolioSnapshot{
		Time:           t,
		Cash:           p.cash,
		PositionsValue: p.positionsValue(),
		Positions:      p.Positions(),
		Equity:         equity,
		UnrealizedPnL:  p.UnrealizedPnL(),
		RealizedPnL:    p.RealizedPnL(),
		Drawdown:       p.peakEquity - equity,
		DrawdownPct:    p.DrawdownPct(),
	}

	p.snapshots = append(p.snapshots, snapshot)

	return snapshot
}
