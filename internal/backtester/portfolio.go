package backtester

import (
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// Portfolio manages simulated portfolio state for one trial
type Portfolio struct {
	mu          sync.RWMutex
	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*Position
}

// Position represents a portfolio position
type Position struct {
	Symbol       string
	Quantity     decimal.Decimal
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
	OpenedAt     time.Time
	Trades       int
}

// NewPortfolio creates a new portfolio
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*Position),
	}
}

// GetCash returns available cash
func (p *Portfolio) GetCash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// GetEquity returns total equity (cash + positions)
func (p *Portfolio) GetEquity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calculateEquity()
}

// GetPosition returns a position by symbol
func (p *Portfolio) GetPosition(symbol string) *Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[symbol]
}

// UpdatePrice marks a symbol to market
func (p *Portfolio) UpdatePrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
	}
}

// Buy executes a buy order
func (p *Portfolio) Buy(symbol string, quantity, price, commission decimal.Decimal, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := quantity.Mul(price).Add(commission)
	p.cash = p.cash.Sub(cost)

	if pos, ok := p.positions[symbol]; ok {
		// Average into the existing position
		totalQty := pos.Quantity.Add(quantity)
		totalCost := pos.Quantity.Mul(pos.AvgPrice).Add(quantity.Mul(price))
		pos.AvgPrice = totalCost.Div(totalQty)
		pos.Quantity = totalQty
		pos.CurrentPrice = price
		pos.Trades++
	} else {
		p.positions[symbol] = &Position{
			Symbol:       symbol,
			Quantity:     quantity,
			AvgPrice:     price,
			CurrentPrice: price,
			OpenedAt:     at,
			Trades:       1,
		}
	}
}

// Sell executes a sell order, returns realized PnL
func (p *Portfolio) Sell(symbol string, quantity, price, commission decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero
	}

	if quantity.GreaterThan(pos.Quantity) {
		quantity = pos.Quantity
	}

	sellValue := quantity.Mul(price)
	costBasis := quantity.Mul(pos.AvgPrice)
	pnl := sellValue.Sub(costBasis).Sub(commission)

	p.cash = p.cash.Add(sellValue).Sub(commission)

	pos.Quantity = pos.Quantity.Sub(quantity)
	pos.Trades++

	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, symbol)
	}

	return pnl
}

// Positions returns open positions marked to market, ordered by symbol
func (p *Portfolio) Positions() []types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make([]types.Position, 0, len(p.positions))
	for symbol, pos := range p.positions {
		positions = append(positions, types.Position{
			Symbol:        symbol,
			Side:          types.PositionSideLong,
			Quantity:      pos.Quantity,
			EntryPrice:    pos.AvgPrice,
			CurrentPrice:  pos.CurrentPrice,
			UnrealizedPnL: pos.Quantity.Mul(pos.CurrentPrice.Sub(pos.AvgPrice)),
			OpenedAt:      pos.OpenedAt,
		})
	}

	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions
}

// GetTotalPnL returns total PnL (realized + unrealized)
func (p *Portfolio) GetTotalPnL() decimal.Decimal {
	return p.GetEquity().Sub(p.initialCash)
}

// calculateEquity calculates total equity (must hold lock)
func (p *Portfolio) calculateEquity() decimal.Decimal {
	equity := p.cash

	for _, pos := range p.positions {
		positionValue := pos.Quantity.Mul(pos.CurrentPrice)
		equity = equity.Add(positionValue)
	}

	return equity
}
