package models

import "github.com/shopspring/decimal"

// Adjustment is the percent-or-flat shape shared by fringes and markups.
// A nil rate contributes zero, as does an unset unit.
type Adjustment interface {
	AdjustmentUnit() *AdjustmentUnit
	AdjustmentRate() *decimal.Decimal
	AdjustmentCutoff() *decimal.Decimal
}

// ContributionFromMarkups returns the additive contribution of the given
// markups over the base value. Flat markups contribute their rate as-is,
// percent markups contribute rate*value.
func ContributionFromMarkups[T Adjustment](value decimal.Decimal, markups []T) decimal.Decimal {
	total := decimal.Zero
	for _, m := range markups {
		total = total.Add(adjustmentContribution(value, m, false))
	}
	return total
}

// ContributionFromFringes is the fringe analogue. A fringe's cutoff, when
// set, caps the base before the percent rate applies.
func ContributionFromFringes[T Adjustment](value decimal.Decimal, fringes []T) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fringes {
		total = total.Add(adjustmentContribution(value, f, true))
	}
	return total
}

func adjustmentContribution[T Adjustment](value decimal.Decimal, a T, applyCutoff bool) decimal.Decimal {
	unit := a.AdjustmentUnit()
	rate := a.AdjustmentRate()
	if unit == nil || rate == nil {
		return decimal.Zero
	}
	switch *unit {
	case UnitFlat:
		return *rate
	case UnitPercent:
		base := value
		if applyCutoff {
			if cutoff := a.AdjustmentCutoff(); cutoff != nil && base.GreaterThan(*cutoff) {
				base = *cutoff
			}
		}
		return rate.Mul(base)
	}
	return decimal.Zero
}
