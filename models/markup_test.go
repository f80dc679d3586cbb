package models_test

import (
	"testing"

	"github.com/mmdatafocus/budgets_backend/models"
)

// Dropping a member from a percent markup must clear the contribution it
// was carrying, not just reprice the rows that stayed.
func TestUpdateMarkupDropsRemovedMemberContribution(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Shrinking")
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	leafA := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Identifier: "A", Quantity: decPtr("10"), Rate: decPtr("10"),
	})
	leafB := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Identifier: "B", Quantity: decPtr("10"), Rate: decPtr("10"),
	})

	markup, err := models.CreateMarkup(ctx, models.ParentKindAccount, account.ID, &models.NewMarkup{
		Identifier:  "Overhead",
		Unit:        unitPtr(models.UnitPercent),
		Rate:        decPtr("0.1"),
		ChildrenIds: []int{leafA.ID, leafB.ID},
	})
	if err != nil {
		t.Fatalf("CreateMarkup: %v", err)
	}
	wantDec(t, "leaf B contribution", reloadSubAccount(t, leafB.ID).MarkupContribution, "10")
	wantDec(t, "account accumulated markup", reloadAccount(t, account.ID).AccumulatedMarkupContribution, "20")

	if _, err := models.UpdateMarkup(ctx, markup.ID, &models.NewMarkup{
		Identifier:  "Overhead",
		Unit:        unitPtr(models.UnitPercent),
		Rate:        decPtr("0.1"),
		ChildrenIds: []int{leafA.ID},
	}); err != nil {
		t.Fatalf("UpdateMarkup: %v", err)
	}

	wantDec(t, "leaf A contribution", reloadSubAccount(t, leafA.ID).MarkupContribution, "10")
	wantDec(t, "leaf B contribution", reloadSubAccount(t, leafB.ID).MarkupContribution, "0")
	wantDec(t, "account accumulated markup", reloadAccount(t, account.ID).AccumulatedMarkupContribution, "10")
	wantDec(t, "budget estimated", reloadBudget(t, ctx, budget.ID).EstimatedValue(), "210")
}

// Flipping a percent markup to flat moves its effect from the members to
// the parent accumulation.
func TestUpdateMarkupPercentToFlat(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Flip")
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("10"), Rate: decPtr("10"),
	})

	markup, err := models.CreateMarkup(ctx, models.ParentKindAccount, account.ID, &models.NewMarkup{
		Unit:        unitPtr(models.UnitPercent),
		Rate:        decPtr("0.2"),
		ChildrenIds: []int{leaf.ID},
	})
	if err != nil {
		t.Fatalf("CreateMarkup: %v", err)
	}
	wantDec(t, "leaf contribution", reloadSubAccount(t, leaf.ID).MarkupContribution, "20")

	if _, err := models.UpdateMarkup(ctx, markup.ID, &models.NewMarkup{
		Unit: unitPtr(models.UnitFlat),
		Rate: decPtr("30"),
	}); err != nil {
		t.Fatalf("UpdateMarkup: %v", err)
	}

	wantDec(t, "leaf contribution", reloadSubAccount(t, leaf.ID).MarkupContribution, "0")
	wantDec(t, "account accumulated markup", reloadAccount(t, account.ID).AccumulatedMarkupContribution, "30")
	wantDec(t, "budget estimated", reloadBudget(t, ctx, budget.ID).EstimatedValue(), "130")
}

func TestBulkMarkupsCreateAndUpdate(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Batched")
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("10"), Rate: decPtr("10"),
	})

	rows, err := models.BulkCreateMarkups(ctx, models.ParentKindAccount, account.ID, []*models.NewMarkup{
		{
			Identifier:  "Overhead",
			Unit:        unitPtr(models.UnitPercent),
			Rate:        decPtr("0.1"),
			ChildrenIds: []int{leaf.ID},
		},
		{
			Identifier: "Handling",
			Unit:       unitPtr(models.UnitFlat),
			Rate:       decPtr("5"),
		},
	})
	if err != nil {
		t.Fatalf("BulkCreateMarkups: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("created %d markups, want 2", len(rows))
	}
	wantDec(t, "leaf contribution", reloadSubAccount(t, leaf.ID).MarkupContribution, "10")
	wantDec(t, "account accumulated markup", reloadAccount(t, account.ID).AccumulatedMarkupContribution, "15")

	if _, err := models.BulkUpdateMarkups(ctx, []*models.MarkupUpdate{{
		Id: rows[0].ID,
		Fields: &models.NewMarkup{
			Identifier:  "Overhead",
			Unit:        unitPtr(models.UnitPercent),
			Rate:        decPtr("0.3"),
			ChildrenIds: []int{leaf.ID},
		},
	}}); err != nil {
		t.Fatalf("BulkUpdateMarkups: %v", err)
	}

	wantDec(t, "leaf contribution", reloadSubAccount(t, leaf.ID).MarkupContribution, "30")
	wantDec(t, "account accumulated markup", reloadAccount(t, account.ID).AccumulatedMarkupContribution, "35")
	wantDec(t, "budget estimated", reloadBudget(t, ctx, budget.ID).EstimatedValue(), "135")
}
