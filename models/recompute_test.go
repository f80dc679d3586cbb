package models_test

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/models"
)

func TestLeafEstimateRollsUpToBudget(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Feature Film")
	fringes, err := models.BulkCreateFringes(ctx, budget.ID, []*models.NewFringe{{
		Name:   "Union",
		Unit:   unitPtr(models.UnitPercent),
		Rate:   decPtr("0.1"),
		Cutoff: decPtr("50"),
	}})
	if err != nil {
		t.Fatalf("BulkCreateFringes: %v", err)
	}
	account := mustCreateAccount(t, ctx, budget.ID, "1000")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Identifier: "1001",
		Quantity:   decPtr("10"),
		Rate:       decPtr("5"),
		Multiplier: decPtr("2"),
		FringeIds:  []int{fringes[0].ID},
	})

	got := reloadSubAccount(t, leaf.ID)
	wantDec(t, "leaf accumulated value", got.AccumulatedValue, "0")
	wantDec(t, "leaf raw value", got.RawValue(), "100")
	// the cutoff caps the fringe base at 50
	wantDec(t, "leaf fringe contribution", got.FringeContribution, "5")
	wantDec(t, "leaf markup contribution", got.MarkupContribution, "0")

	acc := reloadAccount(t, account.ID)
	wantDec(t, "account accumulated value", acc.AccumulatedValue, "100")
	wantDec(t, "account accumulated fringe", acc.AccumulatedFringeContribution, "5")
	wantDec(t, "account own fringe", acc.FringeContribution, "0")
	wantDec(t, "account estimated", acc.EstimatedValue(), "105")

	root := reloadBudget(t, ctx, budget.ID)
	wantDec(t, "budget accumulated value", root.AccumulatedValue, "100")
	wantDec(t, "budget accumulated fringe", root.AccumulatedFringeContribution, "5")
	wantDec(t, "budget estimated", root.EstimatedValue(), "105")
}

// A row with children estimates from its children's totals; its own
// quantity, rate and fringes stop counting.
func TestNodeIgnoresOwnRawValueAndFringes(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Commercial")
	fringes, err := models.BulkCreateFringes(ctx, budget.ID, []*models.NewFringe{{
		Name: "Payroll",
		Unit: unitPtr(models.UnitPercent),
		Rate: decPtr("0.1"),
	}})
	if err != nil {
		t.Fatalf("BulkCreateFringes: %v", err)
	}
	account := mustCreateAccount(t, ctx, budget.ID, "2000")
	node := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Identifier: "2001",
		Quantity:   decPtr("100"),
		Rate:       decPtr("1"),
		FringeIds:  []int{fringes[0].ID},
	})
	// while still a leaf the node prices its own labor
	wantDec(t, "leaf fringe contribution", reloadSubAccount(t, node.ID).FringeContribution, "10")

	if _, err := models.BulkCreateSubAccounts(ctx, models.ParentKindSubAccount, node.ID, []*models.NewSubAccount{
		{Identifier: "2001-a", Quantity: decPtr("2"), Rate: decPtr("3")},
		{Identifier: "2001-b", Quantity: decPtr("4"), Rate: decPtr("5")},
	}); err != nil {
		t.Fatalf("BulkCreateSubAccounts: %v", err)
	}

	got := reloadSubAccount(t, node.ID)
	wantDec(t, "node accumulated value", got.AccumulatedValue, "26")
	wantDec(t, "node fringe contribution", got.FringeContribution, "0")

	acc := reloadAccount(t, account.ID)
	wantDec(t, "account accumulated value", acc.AccumulatedValue, "26")

	root := reloadBudget(t, ctx, budget.ID)
	wantDec(t, "budget accumulated value", root.AccumulatedValue, "26")
}

func TestPercentMarkupOnAccount(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Series")
	fringes, err := models.BulkCreateFringes(ctx, budget.ID, []*models.NewFringe{{
		Name:   "Union",
		Unit:   unitPtr(models.UnitPercent),
		Rate:   decPtr("0.1"),
		Cutoff: decPtr("50"),
	}})
	if err != nil {
		t.Fatalf("BulkCreateFringes: %v", err)
	}
	account := mustCreateAccount(t, ctx, budget.ID, "3000")
	mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity:   decPtr("10"),
		Rate:       decPtr("5"),
		Multiplier: decPtr("2"),
		FringeIds:  []int{fringes[0].ID},
	})

	if _, err := models.CreateMarkup(ctx, models.ParentKindBudget, budget.ID, &models.NewMarkup{
		Identifier:  "Contingency",
		Unit:        unitPtr(models.UnitPercent),
		Rate:        decPtr("0.2"),
		ChildrenIds: []int{account.ID},
	}); err != nil {
		t.Fatalf("CreateMarkup: %v", err)
	}

	acc := reloadAccount(t, account.ID)
	// 0.2 * (100 nominal + 5 accumulated fringe)
	wantDec(t, "account markup contribution", acc.MarkupContribution, "21")

	root := reloadBudget(t, ctx, budget.ID)
	wantDec(t, "budget accumulated markup", root.AccumulatedMarkupContribution, "21")
	wantDec(t, "budget estimated", root.EstimatedValue(), "126")
}

func TestFlatMarkupLandsOnParentAccumulation(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Short")
	account := mustCreateAccount(t, ctx, budget.ID, "4000")
	mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("10"),
		Rate:     decPtr("10"),
	})

	if _, err := models.CreateMarkup(ctx, models.ParentKindAccount, account.ID, &models.NewMarkup{
		Identifier: "Kit rental",
		Unit:       unitPtr(models.UnitFlat),
		Rate:       decPtr("15"),
	}); err != nil {
		t.Fatalf("CreateMarkup: %v", err)
	}

	acc := reloadAccount(t, account.ID)
	wantDec(t, "account accumulated markup", acc.AccumulatedMarkupContribution, "15")
	wantDec(t, "account own markup", acc.MarkupContribution, "0")

	root := reloadBudget(t, ctx, budget.ID)
	wantDec(t, "budget accumulated markup", root.AccumulatedMarkupContribution, "15")
	wantDec(t, "budget estimated", root.EstimatedValue(), "115")
}

func TestActualsRollUpThroughOwners(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Documentary")
	account := mustCreateAccount(t, ctx, budget.ID, "5000")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("1"),
		Rate:     decPtr("500"),
	})
	markup, err := models.CreateMarkup(ctx, models.ParentKindBudget, budget.ID, &models.NewMarkup{
		Identifier: "Insurance",
		Unit:       unitPtr(models.UnitFlat),
	})
	if err != nil {
		t.Fatalf("CreateMarkup: %v", err)
	}

	if _, err := models.BulkCreateActuals(ctx, budget.ID, []*models.NewActual{
		{Name: "Invoice 1", OwnerType: ownerPtr(models.OwnerKindSubAccount), OwnerId: &leaf.ID, Value: decPtr("40")},
		{Name: "Invoice 2", OwnerType: ownerPtr(models.OwnerKindMarkup), OwnerId: &markup.ID, Value: decPtr("9")},
		{Name: "Unassigned", Value: decPtr("7")},
	}); err != nil {
		t.Fatalf("BulkCreateActuals: %v", err)
	}

	wantDec(t, "leaf actual", reloadSubAccount(t, leaf.ID).Actual, "40")
	wantDec(t, "account actual", reloadAccount(t, account.ID).Actual, "40")

	var m models.Markup
	if err := config.GetDB().First(&m, markup.ID).Error; err != nil {
		t.Fatalf("reload markup: %v", err)
	}
	wantDec(t, "markup actual", m.Actual, "9")

	// unassigned actuals belong to no node and stay out of the rollup
	root := reloadBudget(t, ctx, budget.ID)
	wantDec(t, "budget actual", root.Actual, "49")
}

func TestTemplatesRejectActuals(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	template, err := models.CreateTemplate(ctx, &models.NewBudget{Name: "Stock Template"})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	_, err = models.BulkCreateActuals(ctx, template.ID, []*models.NewActual{{Name: "Nope", Value: decPtr("1")}})
	if !errors.Is(err, models.ErrorStructuralIntegrity) {
		t.Fatalf("err = %v, want structural integrity violation", err)
	}
}

// A second pass over an unchanged tree must not report or write changes.
func TestRecomputationIsIdempotent(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Pilot")
	fringes, err := models.BulkCreateFringes(ctx, budget.ID, []*models.NewFringe{{
		Name: "Union",
		Unit: unitPtr(models.UnitPercent),
		Rate: decPtr("0.25"),
	}})
	if err != nil {
		t.Fatalf("BulkCreateFringes: %v", err)
	}
	account := mustCreateAccount(t, ctx, budget.ID, "6000")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity:  decPtr("8"),
		Rate:      decPtr("25"),
		FringeIds: []int{fringes[0].ID},
	})
	if _, err := models.BulkCreateActuals(ctx, budget.ID, []*models.NewActual{
		{OwnerType: ownerPtr(models.OwnerKindSubAccount), OwnerId: &leaf.ID, Value: decPtr("50")},
	}); err != nil {
		t.Fatalf("BulkCreateActuals: %v", err)
	}

	db := config.GetDB()
	row := reloadSubAccount(t, leaf.ID)
	changed, err := row.Calculate(ctx, db, &models.RecomputeOptions{Commit: true, Trickle: false})
	if err != nil {
		t.Fatalf("sub-account Calculate: %v", err)
	}
	if changed {
		t.Fatal("sub-account recomputation reported changes on an unchanged tree")
	}

	acc := reloadAccount(t, account.ID)
	changed, err = acc.Calculate(ctx, db, &models.RecomputeOptions{Commit: true, Trickle: false})
	if err != nil {
		t.Fatalf("account Calculate: %v", err)
	}
	if changed {
		t.Fatal("account recomputation reported changes on an unchanged tree")
	}
}

func TestUpdateLeafPropagates(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Reshoot")
	account := mustCreateAccount(t, ctx, budget.ID, "7000")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Identifier: "7001",
		Quantity:   decPtr("10"),
		Rate:       decPtr("5"),
		Multiplier: decPtr("2"),
	})
	wantDec(t, "initial account value", reloadAccount(t, account.ID).AccumulatedValue, "100")

	if _, err := models.UpdateSubAccount(ctx, leaf.ID, &models.NewSubAccount{
		Identifier: "7001",
		Quantity:   decPtr("20"),
		Rate:       decPtr("5"),
		Multiplier: decPtr("2"),
	}); err != nil {
		t.Fatalf("UpdateSubAccount: %v", err)
	}

	wantDec(t, "account value after update", reloadAccount(t, account.ID).AccumulatedValue, "200")
	wantDec(t, "budget value after update", reloadBudget(t, ctx, budget.ID).AccumulatedValue, "200")
}
