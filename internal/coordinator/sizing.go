package coordinator

import (
	"github.com/quantfell/pairbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Sizing is the computed order size for one entry attempt. Both legs use
// the same truncated quantity so the pair stays delta-neutral.
type Sizing struct {
	Quantity   float64
	Collateral float64
	Exposure   float64
}

// ComputeSizing turns the notional, leverage and reference price into a
// tradeable quantity. The raw quantity is truncated DOWN to the lot tick,
// never rounded, so the order can never exceed available margin. The
// collateral requirement is recomputed from the truncated quantity and
// rounded to cents.
func ComputeSizing(notional, leverage, referencePrice, lotTick float64) (Sizing, error) {
	if referencePrice <= 0 || notional <= 0 || leverage <= 0 || lotTick <= 0 {
		return Sizing{}, domain.ErrQuantityTooSmall
	}

	rawQty := decimal.NewFromFloat(notional).
		Mul(decimal.NewFromFloat(leverage)).
		Div(decimal.NewFromFloat(referencePrice))

	qty := TruncateToTick(rawQty, lotTick)
	if !qty.IsPositive() {
		return Sizing{}, domain.ErrQuantityTooSmall
	}

	exposure := qty.Mul(decimal.NewFromFloat(referencePrice))
	collateral := exposure.Div(decimal.NewFromFloat(leverage)).Round(2)

	qtyF, _ := qty.Float64()
	collateralF, _ := collateral.Float64()
	exposureF, _ := exposure.Float64()

	return Sizing{
		Quantity:   qtyF,
		Collateral: collateralF,
		Exposure:   exposureF,
	}, nil
}

// TruncateToTick floors a quantity to an integer multiple of the lot tick.
func TruncateToTick(qty decimal.Decimal, lotTick float64) decimal.Decimal {
	tick := decimal.NewFromFloat(lotTick)
	return qty.Div(tick).Floor().Mul(tick)
}
