package engine

import "github.com/shopspring/decimal"

var dec100 = decimal.NewFromInt(100)

// CalcPct returns the percent change from baseline to current. A zero
// baseline yields zero to avoid a division fault.
func CalcPct(baseline, current decimal.Decimal) decimal.Decimal {
	if baseline.IsZero() {
		return decimal.Zero
	}
	return current.Sub(baseline).Div(baseline).Mul(dec100)
}

// thresholdCrossed tests magnitude and direction. The threshold's sign
// encodes the required direction: positive demands a rise of at least the
// threshold, non-positive a fall of at least its magnitude.
func thresholdCrossed(pct, threshold decimal.Decimal) bool {
	if pct.Abs().LessThan(threshold.Abs()) {
		return false
	}
	if threshold.GreaterThan(decimal.Zero) {
		return pct.GreaterThanOrEqual(threshold)
	}
	return pct.LessThanOrEqual(threshold)
}
