package scenario

import (
	"time"

	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
)

const pricePrecision = 8

// PricePath compounds returns onto a starting close and stamps one point per business day
// after start. The first point is the starting close itself, so the result has
// len(returns)+1 points. A compounded close never drops below zero.
func PricePath(symbol string, start time.Time, startClose decimal.Decimal, returns []float64) []types.MarketDataPoint {
	points := make([]types.MarketDataPoint, 0, len(returns)+1)
	points = append(points, types.MarketDataPoint{
		Date:   start,
		Symbol: symbol,
		Close:  startClose,
	})

	price := startClose
	date := start
	for _, r := range returns {
		date = nextBusinessDay(date)
		price = price.Mul(decimal.NewFromFloat(1 + r)).Round(pricePrecision)
		if price.IsNegative() {
			price = decimal.Zero
		}
		points = append(points, types.MarketDataPoint{
			Date:   date,
			Symbol: symbol,
			Close:  price,
		})
	}
	return points
}

func nextBusinessDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
