package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mmdatafocus/budgets_backend/utils"
	"github.com/xuri/excelize/v2"
)

// ExportBudgetXlsx writes the budget tree as a spreadsheet: one row per
// account or sub-account in table order, indented by depth, with the
// stored metrics alongside.
func ExportBudgetXlsx(ctx context.Context, budgetId int, w io.Writer) error {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return errors.New("user id is required")
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, budgetId)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	f.SetCellValue(sheet, "A1", "Identifier")
	f.SetCellValue(sheet, "B1", "Description")
	f.SetCellValue(sheet, "C1", "Quantity")
	f.SetCellValue(sheet, "D1", "Rate")
	f.SetCellValue(sheet, "E1", "Unit")
	f.SetCellValue(sheet, "F1", "Estimated")
	f.SetCellValue(sheet, "G1", "Actual")
	f.SetCellValue(sheet, "H1", "Variance")

	rowNo := 2
	accounts, err := GetAccounts(ctx, budgetId, true, "")
	if err != nil {
		return err
	}
	for _, account := range accounts {
		f.SetCellValue(sheet, "A"+fmt.Sprint(rowNo), account.Identifier)
		f.SetCellValue(sheet, "B"+fmt.Sprint(rowNo), account.Description)
		f.SetCellValue(sheet, "F"+fmt.Sprint(rowNo), account.EstimatedValue().InexactFloat64())
		if budget.IsBudgetDomain() {
			f.SetCellValue(sheet, "G"+fmt.Sprint(rowNo), account.Actual.InexactFloat64())
			f.SetCellValue(sheet, "H"+fmt.Sprint(rowNo), account.Variance().InexactFloat64())
		}
		rowNo++
		rowNo, err = exportSubAccountRows(ctx, f, sheet, budget, ParentKindAccount, account.ID, 1, rowNo)
		if err != nil {
			return err
		}
	}

	f.SetCellValue(sheet, "A"+fmt.Sprint(rowNo), "Total")
	f.SetCellValue(sheet, "F"+fmt.Sprint(rowNo), budget.EstimatedValue().InexactFloat64())
	if budget.IsBudgetDomain() {
		f.SetCellValue(sheet, "G"+fmt.Sprint(rowNo), budget.Actual.InexactFloat64())
		f.SetCellValue(sheet, "H"+fmt.Sprint(rowNo), budget.Variance().InexactFloat64())
	}

	return f.Write(w)
}

func exportSubAccountRows(ctx context.Context, f *excelize.File, sheet string, budget *Budget, parentType ParentKind, parentId int, depth int, rowNo int) (int, error) {
	rows, err := GetSubAccounts(ctx, parentType, parentId, true, "")
	if err != nil {
		return rowNo, err
	}
	return exportChildRows(ctx, f, sheet, budget, rows, depth, rowNo)
}

func exportChildRows(ctx context.Context, f *excelize.File, sheet string, budget *Budget, rows []*SubAccount, depth int, rowNo int) (int, error) {
	for _, row := range rows {
		indent := strings.Repeat("  ", depth)
		f.SetCellValue(sheet, "A"+fmt.Sprint(rowNo), indent+row.Identifier)
		f.SetCellValue(sheet, "B"+fmt.Sprint(rowNo), row.Description)
		if row.Quantity != nil {
			f.SetCellValue(sheet, "C"+fmt.Sprint(rowNo), row.Quantity.InexactFloat64())
		}
		if row.Rate != nil {
			f.SetCellValue(sheet, "D"+fmt.Sprint(rowNo), row.Rate.InexactFloat64())
		}
		if row.Unit != nil {
			f.SetCellValue(sheet, "E"+fmt.Sprint(rowNo), *row.Unit)
		}
		children, err := GetSubAccounts(ctx, ParentKindSubAccount, row.ID, true, "")
		if err != nil {
			return rowNo, err
		}
		nominal := row.RawValue()
		if len(children) > 0 {
			nominal = row.AccumulatedValue
		}
		estimated := row.realizedValue(nominal).Add(row.FringeContribution).Add(row.MarkupContribution)
		f.SetCellValue(sheet, "F"+fmt.Sprint(rowNo), estimated.InexactFloat64())
		if budget.IsBudgetDomain() {
			f.SetCellValue(sheet, "G"+fmt.Sprint(rowNo), row.Actual.InexactFloat64())
			f.SetCellValue(sheet, "H"+fmt.Sprint(rowNo), estimated.Sub(row.Actual).InexactFloat64())
		}
		rowNo++
		rowNo, err = exportChildRows(ctx, f, sheet, budget, children, depth+1, rowNo)
		if err != nil {
			return rowNo, err
		}
	}
	return rowNo, nil
}
