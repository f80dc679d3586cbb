package models_test

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/models"
)

func TestDuplicateBudgetCopiesTheWholeTree(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	source := mustCreateBudget(t, ctx, "Original")
	fringes, err := models.BulkCreateFringes(ctx, source.ID, []*models.NewFringe{{
		Name: "Union", Unit: unitPtr(models.UnitPercent), Rate: decPtr("0.1"),
	}})
	if err != nil {
		t.Fatalf("BulkCreateFringes: %v", err)
	}
	account := mustCreateAccount(t, ctx, source.ID, "100")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Identifier: "101",
		Quantity:   decPtr("10"),
		Rate:       decPtr("10"),
		FringeIds:  []int{fringes[0].ID},
	})
	if _, err := models.CreateMarkup(ctx, models.ParentKindBudget, source.ID, &models.NewMarkup{
		Unit: unitPtr(models.UnitPercent), Rate: decPtr("0.2"), ChildrenIds: []int{account.ID},
	}); err != nil {
		t.Fatalf("CreateMarkup: %v", err)
	}
	if _, err := models.BulkCreateActuals(ctx, source.ID, []*models.NewActual{
		{Name: "Invoice", OwnerType: ownerPtr(models.OwnerKindSubAccount), OwnerId: &leaf.ID, Value: decPtr("25")},
	}); err != nil {
		t.Fatalf("BulkCreateActuals: %v", err)
	}
	sourceState := reloadBudget(t, ctx, source.ID)

	clone, err := models.DuplicateBudget(ctx, source.ID)
	if err != nil {
		t.Fatalf("DuplicateBudget: %v", err)
	}
	if clone.ID == source.ID {
		t.Fatal("duplicate shares the source id")
	}
	if clone.Name != "Original (Copy)" {
		t.Fatalf("clone name = %q", clone.Name)
	}

	cloneState := reloadBudget(t, ctx, clone.ID)
	wantDec(t, "clone accumulated value", cloneState.AccumulatedValue, sourceState.AccumulatedValue.String())
	wantDec(t, "clone accumulated fringe", cloneState.AccumulatedFringeContribution, sourceState.AccumulatedFringeContribution.String())
	wantDec(t, "clone accumulated markup", cloneState.AccumulatedMarkupContribution, sourceState.AccumulatedMarkupContribution.String())
	wantDec(t, "clone actual", cloneState.Actual, sourceState.Actual.String())

	db := config.GetDB()
	var accounts, fringeCount, markups, actuals int64
	if err := db.Model(&models.Account{}).Where("budget_id = ?", clone.ID).Count(&accounts).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if err := db.Model(&models.Fringe{}).Where("budget_id = ?", clone.ID).Count(&fringeCount).Error; err != nil {
		t.Fatalf("count fringes: %v", err)
	}
	if err := db.Model(&models.Markup{}).Where("budget_id = ?", clone.ID).Count(&markups).Error; err != nil {
		t.Fatalf("count markups: %v", err)
	}
	if err := db.Model(&models.Actual{}).Where("budget_id = ?", clone.ID).Count(&actuals).Error; err != nil {
		t.Fatalf("count actuals: %v", err)
	}
	if accounts != 1 || fringeCount != 1 || markups != 1 || actuals != 1 {
		t.Fatalf("clone rows = %d accounts, %d fringes, %d markups, %d actuals", accounts, fringeCount, markups, actuals)
	}

	// mutating the clone leaves the source alone
	var cloneAccount models.Account
	if err := db.Where("budget_id = ?", clone.ID).First(&cloneAccount).Error; err != nil {
		t.Fatalf("load clone account: %v", err)
	}
	if err := models.BulkDeleteAccounts(ctx, clone.ID, []int{cloneAccount.ID}); err != nil {
		t.Fatalf("BulkDeleteAccounts on clone: %v", err)
	}
	wantDec(t, "source untouched", reloadBudget(t, ctx, source.ID).AccumulatedValue, sourceState.AccumulatedValue.String())
}

func TestDeriveBudgetFromTemplate(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	template, err := models.CreateTemplate(ctx, &models.NewBudget{Name: "Indie Feature"})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	account := mustCreateAccount(t, ctx, template.ID, "100")
	mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("4"), Rate: decPtr("25"),
	})

	derived, err := models.DeriveBudget(ctx, template.ID)
	if err != nil {
		t.Fatalf("DeriveBudget: %v", err)
	}
	if derived.Domain != models.DomainBudget {
		t.Fatalf("derived domain = %q, want budget", derived.Domain)
	}
	wantDec(t, "derived accumulated value", reloadBudget(t, ctx, derived.ID).AccumulatedValue, "100")

	// the derived root takes actuals even though the template never could
	if _, err := models.BulkCreateActuals(ctx, derived.ID, []*models.NewActual{{Name: "First spend", Value: decPtr("1")}}); err != nil {
		t.Fatalf("BulkCreateActuals on derived budget: %v", err)
	}
}

func TestDeriveRejectsNonTemplates(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Not a template")
	_, err := models.DeriveBudget(ctx, budget.ID)
	if !errors.Is(err, models.ErrorStructuralIntegrity) {
		t.Fatalf("err = %v, want structural integrity violation", err)
	}
}
