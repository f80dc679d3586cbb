package models_test

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/models"
	"gorm.io/gorm"
)

func TestBulkCreateAccountsAssignsOrderKeys(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Order Keys")
	first, err := models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{
		{Identifier: "100"}, {Identifier: "200"}, {Identifier: "300"},
	})
	if err != nil {
		t.Fatalf("BulkCreateAccounts: %v", err)
	}
	if first[0].OrderKey != "n" {
		t.Fatalf("first key = %q, want %q", first[0].OrderKey, "n")
	}
	prev := ""
	for _, row := range first {
		if err := models.ValidateOrderKey(row.OrderKey); err != nil {
			t.Fatalf("invalid key %q: %v", row.OrderKey, err)
		}
		if row.OrderKey <= prev {
			t.Fatalf("keys not increasing: %q after %q", row.OrderKey, prev)
		}
		prev = row.OrderKey
	}

	// a later batch lands strictly after the existing rows
	second, err := models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{
		{Identifier: "400"}, {Identifier: "500"},
	})
	if err != nil {
		t.Fatalf("second BulkCreateAccounts: %v", err)
	}
	for _, row := range second {
		if row.OrderKey <= prev {
			t.Fatalf("key %q not above existing max %q", row.OrderKey, prev)
		}
		prev = row.OrderKey
	}
}

func TestBulkCreateAccountsRespectsExplicitKeys(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Explicit Keys")
	rows, err := models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{
		{Identifier: "100", OrderKey: "g"},
	})
	if err != nil {
		t.Fatalf("BulkCreateAccounts: %v", err)
	}
	if rows[0].OrderKey != "g" {
		t.Fatalf("key = %q, want %q", rows[0].OrderKey, "g")
	}

	_, err = models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{
		{Identifier: "200", OrderKey: "BAD"},
	})
	if !errors.Is(err, models.ErrorOrderKey) {
		t.Fatalf("err = %v, want order key error", err)
	}
}

func TestBulkCreateAccountsRejectsDuplicateIdentifier(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Dupes")
	mustCreateAccount(t, ctx, budget.ID, "100")
	_, err := models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{{Identifier: "100"}})
	if !errors.Is(err, models.ErrorStructuralIntegrity) {
		t.Fatalf("err = %v, want structural integrity violation", err)
	}

	// same identifier in another budget is fine
	other := mustCreateBudget(t, ctx, "Other")
	if _, err := models.BulkCreateAccounts(ctx, other.ID, []*models.NewAccount{{Identifier: "100"}}); err != nil {
		t.Fatalf("BulkCreateAccounts in other budget: %v", err)
	}
}

func TestBulkDeleteAccountsIsLenient(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Lenient")
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("3"), Rate: decPtr("4"),
	})
	wantDec(t, "budget before delete", reloadBudget(t, ctx, budget.ID).AccumulatedValue, "12")

	// one real id, one long gone
	if err := models.BulkDeleteAccounts(ctx, budget.ID, []int{account.ID, 99999}); err != nil {
		t.Fatalf("BulkDeleteAccounts: %v", err)
	}

	var count int64
	if err := config.GetDB().Model(&models.Account{}).Where("budget_id = ?", budget.ID).Count(&count).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 0 {
		t.Fatalf("accounts remaining = %d, want 0", count)
	}
	wantDec(t, "budget after delete", reloadBudget(t, ctx, budget.ID).AccumulatedValue, "0")
}

func TestDeleteSubAccountSubtreeDetachesActuals(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Cascade")
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	node := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{Identifier: "n"})
	child := mustCreateLeaf(t, ctx, models.ParentKindSubAccount, node.ID, &models.NewSubAccount{
		Identifier: "c", Quantity: decPtr("2"), Rate: decPtr("10"),
	})
	actuals, err := models.BulkCreateActuals(ctx, budget.ID, []*models.NewActual{
		{Name: "Paid", OwnerType: ownerPtr(models.OwnerKindSubAccount), OwnerId: &child.ID, Value: decPtr("5")},
	})
	if err != nil {
		t.Fatalf("BulkCreateActuals: %v", err)
	}

	if err := models.BulkDeleteSubAccounts(ctx, models.ParentKindAccount, account.ID, []int{node.ID}); err != nil {
		t.Fatalf("BulkDeleteSubAccounts: %v", err)
	}

	// the whole subtree is gone
	var count int64
	if err := config.GetDB().Model(&models.SubAccount{}).Where("budget_id = ?", budget.ID).Count(&count).Error; err != nil {
		t.Fatalf("count sub-accounts: %v", err)
	}
	if count != 0 {
		t.Fatalf("sub-accounts remaining = %d, want 0", count)
	}

	// the actual survives with its owner pointer cleared
	var orphan models.Actual
	if err := config.GetDB().First(&orphan, actuals[0].ID).Error; err != nil {
		t.Fatalf("reload actual: %v", err)
	}
	if orphan.OwnerType != nil || orphan.OwnerId != nil {
		t.Fatalf("actual owner not cleared: %v/%v", orphan.OwnerType, orphan.OwnerId)
	}

	wantDec(t, "account after subtree delete", reloadAccount(t, account.ID).AccumulatedValue, "0")
	root := reloadBudget(t, ctx, budget.ID)
	wantDec(t, "budget value after subtree delete", root.AccumulatedValue, "0")
	wantDec(t, "budget actual after subtree delete", root.Actual, "0")
}

func TestBulkUpdateFringesRecomputesUsers(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Fringe Update")
	fringes, err := models.BulkCreateFringes(ctx, budget.ID, []*models.NewFringe{{
		Name: "Union",
		Unit: unitPtr(models.UnitPercent),
		Rate: decPtr("0.1"),
	}})
	if err != nil {
		t.Fatalf("BulkCreateFringes: %v", err)
	}
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("10"), Rate: decPtr("10"), FringeIds: []int{fringes[0].ID},
	})
	wantDec(t, "initial fringe contribution", reloadSubAccount(t, leaf.ID).FringeContribution, "10")

	if _, err := models.BulkUpdateFringes(ctx, []*models.FringeUpdate{{
		Id: fringes[0].ID,
		Fields: &models.NewFringe{
			Name: "Union",
			Unit: unitPtr(models.UnitPercent),
			Rate: decPtr("0.3"),
		},
	}}); err != nil {
		t.Fatalf("BulkUpdateFringes: %v", err)
	}

	wantDec(t, "updated fringe contribution", reloadSubAccount(t, leaf.ID).FringeContribution, "30")
	wantDec(t, "budget accumulated fringe", reloadBudget(t, ctx, budget.ID).AccumulatedFringeContribution, "30")
}

func TestBulkDeleteFringesRecomputesUsers(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Fringe Delete")
	fringes, err := models.BulkCreateFringes(ctx, budget.ID, []*models.NewFringe{{
		Name: "Union",
		Unit: unitPtr(models.UnitPercent),
		Rate: decPtr("0.5"),
	}})
	if err != nil {
		t.Fatalf("BulkCreateFringes: %v", err)
	}
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("2"), Rate: decPtr("10"), FringeIds: []int{fringes[0].ID},
	})
	wantDec(t, "initial fringe contribution", reloadSubAccount(t, leaf.ID).FringeContribution, "10")

	if err := models.BulkDeleteFringes(ctx, budget.ID, []int{fringes[0].ID}); err != nil {
		t.Fatalf("BulkDeleteFringes: %v", err)
	}

	if err := config.GetDB().First(&models.Fringe{}, fringes[0].ID).Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("fringe still present, err = %v", err)
	}
	wantDec(t, "fringe contribution after delete", reloadSubAccount(t, leaf.ID).FringeContribution, "0")
	wantDec(t, "budget accumulated fringe", reloadBudget(t, ctx, budget.ID).AccumulatedFringeContribution, "0")
}

func TestBulkUpdateActualsMovesOwnership(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Actual Move")
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	leafA := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{Identifier: "a"})
	leafB := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{Identifier: "b"})

	actuals, err := models.BulkCreateActuals(ctx, budget.ID, []*models.NewActual{
		{Name: "Invoice", OwnerType: ownerPtr(models.OwnerKindSubAccount), OwnerId: &leafA.ID, Value: decPtr("30")},
	})
	if err != nil {
		t.Fatalf("BulkCreateActuals: %v", err)
	}
	wantDec(t, "leaf A actual", reloadSubAccount(t, leafA.ID).Actual, "30")

	if _, err := models.BulkUpdateActuals(ctx, []*models.ActualUpdate{{
		Id: actuals[0].ID,
		Fields: &models.NewActual{
			Name:      "Invoice",
			OwnerType: ownerPtr(models.OwnerKindSubAccount),
			OwnerId:   &leafB.ID,
			Value:     decPtr("30"),
		},
	}}); err != nil {
		t.Fatalf("BulkUpdateActuals: %v", err)
	}

	// both the old and the new owner are recomputed
	wantDec(t, "leaf A actual after move", reloadSubAccount(t, leafA.ID).Actual, "0")
	wantDec(t, "leaf B actual after move", reloadSubAccount(t, leafB.ID).Actual, "30")
	wantDec(t, "account actual after move", reloadAccount(t, account.ID).Actual, "30")
}

func TestBulkCreateAccountsRejectsDuplicateOrderKeys(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Key Clash")
	_, err := models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{
		{Identifier: "100", OrderKey: "g"},
		{Identifier: "200", OrderKey: "g"},
	})
	if !errors.Is(err, models.ErrorOrderKey) {
		t.Fatalf("err = %v, want order key error", err)
	}

	// a stored sibling already holding the key is just as fatal
	if _, err := models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{
		{Identifier: "100", OrderKey: "g"},
	}); err != nil {
		t.Fatalf("BulkCreateAccounts: %v", err)
	}
	_, err = models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{
		{Identifier: "200", OrderKey: "g"},
	})
	if !errors.Is(err, models.ErrorOrderKey) {
		t.Fatalf("err = %v, want order key error", err)
	}
}

func TestBulkCreateAccountsRejectsBatchDuplicateIdentifier(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Batch Dupes")
	_, err := models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{
		{Identifier: "100"},
		{Identifier: "100"},
	})
	if !errors.Is(err, models.ErrorStructuralIntegrity) {
		t.Fatalf("err = %v, want structural integrity violation", err)
	}

	// blank identifiers never collide with each other
	if _, err := models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{{}, {}}); err != nil {
		t.Fatalf("BulkCreateAccounts without identifiers: %v", err)
	}
}

func TestBulkCreateFringesRejectsBatchDuplicateName(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Fringe Dupes")
	_, err := models.BulkCreateFringes(ctx, budget.ID, []*models.NewFringe{
		{Name: "Union"},
		{Name: "Union"},
	})
	if !errors.Is(err, models.ErrorStructuralIntegrity) {
		t.Fatalf("err = %v, want structural integrity violation", err)
	}
}
