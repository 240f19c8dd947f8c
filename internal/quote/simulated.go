package quote

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/model"
	"github.com/investipet/engine/internal/seed"
)

var (
	minPrice   = decimal.RequireFromString("0.50")
	driftScale = decimal.NewFromInt(10000)
)

// Simulated prices asset for the minute containing now. The drift is a
// deterministic function of symbol and minute bucket, bounded to ±6% of
// the base price, and the result never drops below 0.50.
func Simulated(asset model.Asset, now time.Time) model.Quote {
	now = now.UTC()
	bucket := now.Format("200601021504")
	s := seed.Uint32(fmt.Sprintf("%s:%s", asset.Symbol, bucket))

	drift := decimal.NewFromInt(int64(s%1201) - 600).Div(driftScale)
	price := asset.BasePrice.Mul(decimal.NewFromInt(1).Add(drift)).Round(2)
	if price.LessThan(minPrice) {
		price = minPrice
	}

	return model.Quote{
		Symbol: asset.Symbol,
		Price:  price,
		AsOf:   now,
		Source: model.QuoteSimulated,
	}
}
