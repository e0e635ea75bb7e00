package backtester

import (
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// SlippageModel adjusts the price an order fills at
type SlippageModel interface {
	Fill(side types.OrderSide, price decimal.Decimal) decimal.Decimal
}

// FixedSlippage applies a fixed fractional slippage against the trader
type FixedSlippage struct {
	Rate decimal.Decimal
}

// NewFixedSlippage creates a fixed slippage model; rate 0.001 is 10 bps
func NewFixedSlippage(rate decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{Rate: rate}
}

// Fill returns the execution price: buys pay up, sells receive less
func (f *FixedSlippage) Fill(side types.OrderSide, price decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == types.OrderSideBuy {
		return price.Mul(one.Add(f.Rate))
	}
	return price.Mul(one.Sub(f.Rate))
}
