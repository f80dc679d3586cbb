package models_test

import (
	"bytes"
	"testing"

	"github.com/mmdatafocus/budgets_backend/models"
	"github.com/xuri/excelize/v2"
)

func TestExportBudgetXlsx(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Export Me")
	account := mustCreateAccount(t, ctx, budget.ID, "100")
	leaf := mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Identifier: "101",
		Quantity:   decPtr("2"),
		Rate:       decPtr("50"),
	})
	if _, err := models.BulkCreateActuals(ctx, budget.ID, []*models.NewActual{
		{OwnerType: ownerPtr(models.OwnerKindSubAccount), OwnerId: &leaf.ID, Value: decPtr("40")},
	}); err != nil {
		t.Fatalf("BulkCreateActuals: %v", err)
	}

	var buf bytes.Buffer
	if err := models.ExportBudgetXlsx(ctx, budget.ID, &buf); err != nil {
		t.Fatalf("ExportBudgetXlsx: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) < 4 {
		t.Fatalf("exported %d rows, want header, account, sub-account and total", len(rows))
	}
	if rows[0][0] != "Identifier" {
		t.Fatalf("header = %q", rows[0][0])
	}
	if rows[1][0] != "100" {
		t.Fatalf("account row = %q", rows[1][0])
	}
	total := rows[len(rows)-1]
	if total[0] != "Total" {
		t.Fatalf("last row starts with %q, want Total", total[0])
	}
	// estimated 100, spent 40, variance 60
	if total[5] != "100" || total[6] != "40" || total[7] != "60" {
		t.Fatalf("total row = %v", total)
	}
}

func TestExportTemplateOmitsSpendColumns(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	template, err := models.CreateTemplate(ctx, &models.NewBudget{Name: "Plain"})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	account := mustCreateAccount(t, ctx, template.ID, "100")
	mustCreateLeaf(t, ctx, models.ParentKindAccount, account.ID, &models.NewSubAccount{
		Quantity: decPtr("1"), Rate: decPtr("9"),
	})

	var buf bytes.Buffer
	if err := models.ExportBudgetXlsx(ctx, template.ID, &buf); err != nil {
		t.Fatalf("ExportBudgetXlsx: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	total := rows[len(rows)-1]
	// templates have no spend, so Actual and Variance stay blank
	if len(total) > 6 {
		t.Fatalf("template total row carries spend columns: %v", total)
	}
}
