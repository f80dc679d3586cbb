package models_test

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/models"
	"gorm.io/gorm"
)

func groupExists(t *testing.T, id int) bool {
	t.Helper()
	err := config.GetDB().First(&models.Group{}, id).Error
	if err == nil {
		return true
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	t.Fatalf("lookup group %d: %v", id, err)
	return false
}

func markupExists(t *testing.T, id int) bool {
	t.Helper()
	err := config.GetDB().First(&models.Markup{}, id).Error
	if err == nil {
		return true
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	t.Fatalf("lookup markup %d: %v", id, err)
	return false
}

func TestGroupReapedWithLastMember(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Reap Groups")
	a := mustCreateAccount(t, ctx, budget.ID, "100")
	b := mustCreateAccount(t, ctx, budget.ID, "200")
	group, err := models.CreateGroup(ctx, models.ParentKindBudget, budget.ID, &models.NewGroup{
		Name:        "Above the line",
		ChildrenIds: []int{a.ID, b.ID},
	})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	// one member left, the group stays
	if err := models.BulkDeleteAccounts(ctx, budget.ID, []int{a.ID}); err != nil {
		t.Fatalf("delete first member: %v", err)
	}
	if !groupExists(t, group.ID) {
		t.Fatal("group reaped while a member remains")
	}

	if err := models.BulkDeleteAccounts(ctx, budget.ID, []int{b.ID}); err != nil {
		t.Fatalf("delete last member: %v", err)
	}
	if groupExists(t, group.ID) {
		t.Fatal("empty group not reaped")
	}
}

func TestGroupReapedWhenMembersMoveAway(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Move Groups")
	a := mustCreateAccount(t, ctx, budget.ID, "100")
	first, err := models.CreateGroup(ctx, models.ParentKindBudget, budget.ID, &models.NewGroup{
		Name:        "Old",
		ChildrenIds: []int{a.ID},
	})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	// claiming the only member empties the first group
	second, err := models.CreateGroup(ctx, models.ParentKindBudget, budget.ID, &models.NewGroup{
		Name:        "New",
		ChildrenIds: []int{a.ID},
	})
	if err != nil {
		t.Fatalf("CreateGroup(second): %v", err)
	}
	if groupExists(t, first.ID) {
		t.Fatal("emptied group not reaped")
	}
	if !groupExists(t, second.ID) {
		t.Fatal("new group missing")
	}
	if got := reloadAccount(t, a.ID).GroupId; got == nil || *got != second.ID {
		t.Fatalf("account group = %v, want %d", got, second.ID)
	}
}

func TestPercentMarkupReapedWithLastMember(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Reap Markups")
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("10"), Rate: decPtr("10"),
	})
	markup, err := models.CreateMarkup(ctx, models.ParentKindAccount, account.ID, &models.NewMarkup{
		Unit:        unitPtr(models.UnitPercent),
		Rate:        decPtr("0.1"),
		ChildrenIds: []int{leaf.ID},
	})
	if err != nil {
		t.Fatalf("CreateMarkup: %v", err)
	}
	wantDec(t, "leaf markup contribution", reloadSubAccount(t, leaf.ID).MarkupContribution, "10")

	if err := models.BulkDeleteSubAccounts(ctx, models.ParentKindAccount, account.ID, []int{leaf.ID}); err != nil {
		t.Fatalf("BulkDeleteSubAccounts: %v", err)
	}
	if markupExists(t, markup.ID) {
		t.Fatal("memberless percent markup not reaped")
	}
	wantDec(t, "account markup after reap", reloadAccount(t, account.ID).AccumulatedMarkupContribution, "0")
}

// Flat markups have no members, so the reaper must leave them alone.
func TestFlatMarkupSurvivesReaping(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Keep Flat")
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("1"), Rate: decPtr("1"),
	})
	markup, err := models.CreateMarkup(ctx, models.ParentKindAccount, account.ID, &models.NewMarkup{
		Unit: unitPtr(models.UnitFlat),
		Rate: decPtr("50"),
	})
	if err != nil {
		t.Fatalf("CreateMarkup: %v", err)
	}

	if err := models.BulkDeleteSubAccounts(ctx, models.ParentKindAccount, account.ID, []int{leaf.ID}); err != nil {
		t.Fatalf("BulkDeleteSubAccounts: %v", err)
	}
	if !markupExists(t, markup.ID) {
		t.Fatal("flat markup reaped")
	}
	wantDec(t, "account accumulated markup", reloadAccount(t, account.ID).AccumulatedMarkupContribution, "50")
}
