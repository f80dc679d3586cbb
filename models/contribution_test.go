package models_test

import (
	"testing"

	"github.com/mmdatafocus/budgets_backend/models"
	"github.com/shopspring/decimal"
)

type adjustment struct {
	unit   *models.AdjustmentUnit
	rate   *decimal.Decimal
	cutoff *decimal.Decimal
}

func (a adjustment) AdjustmentUnit() *models.AdjustmentUnit   { return a.unit }
func (a adjustment) AdjustmentRate() *decimal.Decimal         { return a.rate }
func (a adjustment) AdjustmentCutoff() *decimal.Decimal       { return a.cutoff }

func TestContributionFromMarkups(t *testing.T) {
	value := dec("200")
	markups := []adjustment{
		{unit: unitPtr(models.UnitPercent), rate: decPtr("0.1")},
		{unit: unitPtr(models.UnitFlat), rate: decPtr("25")},
		{unit: unitPtr(models.UnitPercent), rate: nil},
		{unit: nil, rate: decPtr("99")},
	}
	got := models.ContributionFromMarkups(value, markups)
	// 0.1*200 + 25; nil rate and nil unit contribute nothing
	wantDec(t, "markup contribution", got, "45")
}

func TestContributionFromMarkupsIgnoresCutoff(t *testing.T) {
	value := dec("200")
	markups := []adjustment{
		{unit: unitPtr(models.UnitPercent), rate: decPtr("0.1"), cutoff: decPtr("50")},
	}
	got := models.ContributionFromMarkups(value, markups)
	wantDec(t, "markup contribution", got, "20")
}

func TestContributionFromFringes(t *testing.T) {
	value := dec("100")
	fringes := []adjustment{
		// cutoff caps the base before the rate applies
		{unit: unitPtr(models.UnitPercent), rate: decPtr("0.1"), cutoff: decPtr("50")},
		// cutoff above the base is a no-op
		{unit: unitPtr(models.UnitPercent), rate: decPtr("0.2"), cutoff: decPtr("150")},
		// flat fringes ignore the base entirely
		{unit: unitPtr(models.UnitFlat), rate: decPtr("7"), cutoff: decPtr("1")},
	}
	got := models.ContributionFromFringes(value, fringes)
	// 0.1*50 + 0.2*100 + 7
	wantDec(t, "fringe contribution", got, "32")
}

func TestContributionEmptySet(t *testing.T) {
	wantDec(t, "empty markups", models.ContributionFromMarkups(dec("100"), []adjustment{}), "0")
	wantDec(t, "empty fringes", models.ContributionFromFringes[adjustment](dec("100"), nil), "0")
}
