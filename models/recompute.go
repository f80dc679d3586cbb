package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/budgets_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RecomputeOptions controls one recomputation pass. The *ToDelete lists
// carry rows that are about to be removed in the surrounding transaction,
// so aggregates never pick up a concurrently vanishing row. Unsaved rows
// let a parent see a child's in-memory metrics before they are committed.
type RecomputeOptions struct {
	Commit  bool
	Trickle bool

	UnsavedChildren []*SubAccount
	UnsavedAccounts []*Account

	FringesToDelete []int
	MarkupsToDelete []int
	ActualsToDelete []int
}

// trickleOptions derives the options for the parent's pass. Deletion
// lists propagate; unsaved rows do not, they belonged to this level.
func (o *RecomputeOptions) trickleOptions() *RecomputeOptions {
	return &RecomputeOptions{
		Commit:          o.Commit,
		Trickle:         true,
		FringesToDelete: o.FringesToDelete,
		MarkupsToDelete: o.MarkupsToDelete,
		ActualsToDelete: o.ActualsToDelete,
	}
}

func setIfChanged(cols map[string]any, column string, current *decimal.Decimal, next decimal.Decimal) {
	if current.Equal(next) {
		return
	}
	*current = next
	cols[column] = next
}

func commitColumns(ctx context.Context, tx *gorm.DB, model any, cols map[string]any) error {
	if len(cols) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Model(model).UpdateColumns(cols).Error
}

// mergeRows overlays unsaved in-memory rows onto the fetched set,
// matching on primary key. Rows without a key yet are appended.
func mergeRows[T any](rows []*T, unsaved []*T, id func(*T) int) []*T {
	if len(unsaved) == 0 {
		return rows
	}
	pending := make(map[int]*T, len(unsaved))
	for _, row := range unsaved {
		if id(row) != 0 {
			pending[id(row)] = row
		}
	}
	merged := make([]*T, 0, len(rows)+len(unsaved))
	for _, row := range rows {
		if replacement, ok := pending[id(row)]; ok {
			merged = append(merged, replacement)
			delete(pending, id(row))
			continue
		}
		merged = append(merged, row)
	}
	for _, row := range unsaved {
		if id(row) == 0 {
			merged = append(merged, row)
		} else if _, ok := pending[id(row)]; ok {
			merged = append(merged, row)
			delete(pending, id(row))
		}
	}
	return merged
}

func fetchSubAccountChildren(ctx context.Context, tx *gorm.DB, parentType ParentKind, parentId int, unsaved []*SubAccount) ([]*SubAccount, error) {
	var rows []*SubAccount
	err := tx.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ?", parentType, parentId).
		Order("order_key").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mergeRows(rows, unsaved, func(s *SubAccount) int { return s.ID }), nil
}

func fetchBudgetAccounts(ctx context.Context, tx *gorm.DB, budgetId int, unsaved []*Account) ([]*Account, error) {
	var rows []*Account
	err := tx.WithContext(ctx).
		Where("budget_id = ?", budgetId).
		Order("order_key").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mergeRows(rows, unsaved, func(a *Account) int { return a.ID }), nil
}

// flatMarkupRates sums the rates of a node's flat child markups. Those
// rates land on the parent's accumulated markup contribution, not on the
// markup's own members.
func flatMarkupRates(ctx context.Context, tx *gorm.DB, parentType ParentKind, parentId int, excludeIds []int) (decimal.Decimal, error) {
	rows, err := flatChildMarkups(ctx, tx, parentType, parentId, excludeIds)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, markup := range rows {
		total = total.Add(utils.DecimalOrZero(markup.Rate))
	}
	return total, nil
}

// childMarkupActuals sums the recorded spend of the node's flat child
// markups. Only flat markups own actuals, so percent markups contribute
// nothing here.
func childMarkupActuals(ctx context.Context, tx *gorm.DB, parentType ParentKind, parentId int, excludeIds []int) (decimal.Decimal, error) {
	rows, err := flatChildMarkups(ctx, tx, parentType, parentId, excludeIds)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, markup := range rows {
		total = total.Add(markup.Actual)
	}
	return total, nil
}

func budgetDomainOf(ctx context.Context, tx *gorm.DB, budgetId int) (BudgetDomain, error) {
	var budget Budget
	err := tx.WithContext(ctx).Select("id", "domain").First(&budget, budgetId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", recomputationError("budget %d vanished during recomputation", budgetId)
		}
		return "", err
	}
	return budget.Domain, nil
}

// stampBudgetUpdated bumps the budget's updated_at so clients see when a
// tree last changed. Only user-initiated requests stamp; background
// recomputation leaves the timestamp alone.
func stampBudgetUpdated(ctx context.Context, tx *gorm.DB, budgetId int) error {
	if !utils.IsHTTPRequestContext(ctx) {
		return nil
	}
	return tx.WithContext(ctx).Model(&Budget{}).
		Where("id = ?", budgetId).
		UpdateColumn("updated_at", time.Now()).Error
}

// recomputeParent resolves the polymorphic parent pointer and runs a
// fetching Calculate on it. A parent deleted out from under a running
// recomputation is an error, deletions must announce themselves through
// the option lists.
func recomputeParent(ctx context.Context, tx *gorm.DB, parentType ParentKind, parentId int, opts *RecomputeOptions) error {
	switch parentType {
	case ParentKindBudget:
		var budget Budget
		if err := tx.WithContext(ctx).First(&budget, parentId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return recomputationError("budget %d vanished during recomputation", parentId)
			}
			return err
		}
		_, err := budget.Calculate(ctx, tx, opts)
		return err
	case ParentKindAccount:
		var account Account
		if err := tx.WithContext(ctx).First(&account, parentId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return recomputationError("account %d vanished during recomputation", parentId)
			}
			return err
		}
		_, err := account.Calculate(ctx, tx, opts)
		return err
	case ParentKindSubAccount:
		var row SubAccount
		if err := tx.WithContext(ctx).First(&row, parentId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return recomputationError("sub-account %d vanished during recomputation", parentId)
			}
			return err
		}
		_, err := row.Calculate(ctx, tx, opts)
		return err
	}
	return recomputationError("invalid parent kind %q", parentType)
}

/* SubAccount */

func (s *SubAccount) estimate(ctx context.Context, tx *gorm.DB, children []*SubAccount, opts *RecomputeOptions) (map[string]any, error) {
	cols := map[string]any{}

	accumulatedValue := decimal.Zero
	accumulatedFringe := decimal.Zero
	accumulatedMarkup := decimal.Zero
	for _, child := range children {
		nominal, err := child.NominalValue(ctx, tx)
		if err != nil {
			return nil, err
		}
		accumulatedValue = accumulatedValue.Add(nominal)
		accumulatedFringe = accumulatedFringe.Add(child.FringeContribution).Add(child.AccumulatedFringeContribution)
		accumulatedMarkup = accumulatedMarkup.Add(child.MarkupContribution).Add(child.AccumulatedMarkupContribution)
	}
	flatRates, err := flatMarkupRates(ctx, tx, ParentKindSubAccount, s.ID, opts.MarkupsToDelete)
	if err != nil {
		return nil, err
	}
	accumulatedMarkup = accumulatedMarkup.Add(flatRates)

	s.markChildren(children)
	setIfChanged(cols, "accumulated_value", &s.AccumulatedValue, accumulatedValue)
	setIfChanged(cols, "accumulated_fringe_contribution", &s.AccumulatedFringeContribution, accumulatedFringe)
	setIfChanged(cols, "accumulated_markup_contribution", &s.AccumulatedMarkupContribution, accumulatedMarkup)

	nominal, err := s.NominalValue(ctx, tx)
	if err != nil {
		return nil, err
	}
	realized := s.realizedValue(nominal)

	// fringes only price labor on leaves; a node with children aggregates
	// its children's contributions instead
	fringeContribution := decimal.Zero
	if len(children) == 0 {
		fringes, err := fringesForSubAccount(ctx, tx, s.ID, opts.FringesToDelete)
		if err != nil {
			return nil, err
		}
		fringeContribution = ContributionFromFringes(realized, fringes)
	}
	setIfChanged(cols, "fringe_contribution", &s.FringeContribution, fringeContribution)

	markups, err := percentMarkupsForRow(ctx, tx, "markup_sub_accounts", "sub_account_id", s.ID, opts.MarkupsToDelete)
	if err != nil {
		return nil, err
	}
	markupContribution := ContributionFromMarkups(realized.Add(s.FringeContribution), markups)
	setIfChanged(cols, "markup_contribution", &s.MarkupContribution, markupContribution)

	return cols, nil
}

func (s *SubAccount) actualize(ctx context.Context, tx *gorm.DB, children []*SubAccount, opts *RecomputeOptions) (map[string]any, error) {
	cols := map[string]any{}
	total := decimal.Zero
	for _, child := range children {
		total = total.Add(child.Actual)
	}
	markupTotal, err := childMarkupActuals(ctx, tx, ParentKindSubAccount, s.ID, opts.MarkupsToDelete)
	if err != nil {
		return nil, err
	}
	total = total.Add(markupTotal)
	owned, err := subAccountActuals(ctx, tx, s.ID, opts.ActualsToDelete)
	if err != nil {
		return nil, err
	}
	for _, actual := range owned {
		total = total.Add(utils.DecimalOrZero(actual.Value))
	}
	setIfChanged(cols, "actual", &s.Actual, total)
	return cols, nil
}

func (s *SubAccount) finish(ctx context.Context, tx *gorm.DB, cols map[string]any, opts *RecomputeOptions) (bool, error) {
	if len(cols) == 0 {
		return false, nil
	}
	if opts.Commit {
		if err := commitColumns(ctx, tx, s, cols); err != nil {
			return true, err
		}
	}
	if opts.Trickle {
		trickle := opts.trickleOptions()
		if !opts.Commit {
			trickle.UnsavedChildren = []*SubAccount{s}
		}
		if err := recomputeParent(ctx, tx, s.ParentType, s.ParentId, trickle); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Estimate recomputes the estimate metrics against an already loaded
// child set. Returns true iff any stored metric changed.
func (s *SubAccount) Estimate(ctx context.Context, tx *gorm.DB, children []*SubAccount, opts *RecomputeOptions) (bool, error) {
	cols, err := s.estimate(ctx, tx, children, opts)
	if err != nil {
		return false, err
	}
	return s.finish(ctx, tx, cols, opts)
}

// Actualize recomputes recorded spend against an already loaded child
// set. Only meaningful in the budget domain.
func (s *SubAccount) Actualize(ctx context.Context, tx *gorm.DB, children []*SubAccount, opts *RecomputeOptions) (bool, error) {
	cols, err := s.actualize(ctx, tx, children, opts)
	if err != nil {
		return false, err
	}
	return s.finish(ctx, tx, cols, opts)
}

// Calculate fetches the node's children, estimates, and in the budget
// domain also actualizes. Commit and trickle happen once for the merged
// change set.
func (s *SubAccount) Calculate(ctx context.Context, tx *gorm.DB, opts *RecomputeOptions) (bool, error) {
	children, err := fetchSubAccountChildren(ctx, tx, ParentKindSubAccount, s.ID, opts.UnsavedChildren)
	if err != nil {
		return false, err
	}
	cols, err := s.estimate(ctx, tx, children, opts)
	if err != nil {
		return false, err
	}
	domain, err := budgetDomainOf(ctx, tx, s.BudgetId)
	if err != nil {
		return false, err
	}
	if domain == DomainBudget {
		actualCols, err := s.actualize(ctx, tx, children, opts)
		if err != nil {
			return false, err
		}
		for column, value := range actualCols {
			cols[column] = value
		}
	}
	return s.finish(ctx, tx, cols, opts)
}

/* Account */

func (a *Account) estimate(ctx context.Context, tx *gorm.DB, children []*SubAccount, opts *RecomputeOptions) (map[string]any, error) {
	cols := map[string]any{}

	accumulatedValue := decimal.Zero
	accumulatedFringe := decimal.Zero
	accumulatedMarkup := decimal.Zero
	for _, child := range children {
		nominal, err := child.NominalValue(ctx, tx)
		if err != nil {
			return nil, err
		}
		accumulatedValue = accumulatedValue.Add(nominal)
		accumulatedFringe = accumulatedFringe.Add(child.FringeContribution).Add(child.AccumulatedFringeContribution)
		accumulatedMarkup = accumulatedMarkup.Add(child.MarkupContribution).Add(child.AccumulatedMarkupContribution)
	}
	flatRates, err := flatMarkupRates(ctx, tx, ParentKindAccount, a.ID, opts.MarkupsToDelete)
	if err != nil {
		return nil, err
	}
	accumulatedMarkup = accumulatedMarkup.Add(flatRates)

	setIfChanged(cols, "accumulated_value", &a.AccumulatedValue, accumulatedValue)
	setIfChanged(cols, "accumulated_fringe_contribution", &a.AccumulatedFringeContribution, accumulatedFringe)
	setIfChanged(cols, "accumulated_markup_contribution", &a.AccumulatedMarkupContribution, accumulatedMarkup)

	// accounts carry no fringes of their own
	setIfChanged(cols, "fringe_contribution", &a.FringeContribution, decimal.Zero)

	markups, err := percentMarkupsForRow(ctx, tx, "markup_accounts", "account_id", a.ID, opts.MarkupsToDelete)
	if err != nil {
		return nil, err
	}
	markupContribution := ContributionFromMarkups(a.RealizedValue().Add(a.FringeContribution), markups)
	setIfChanged(cols, "markup_contribution", &a.MarkupContribution, markupContribution)

	return cols, nil
}

func (a *Account) actualize(ctx context.Context, tx *gorm.DB, children []*SubAccount, opts *RecomputeOptions) (map[string]any, error) {
	cols := map[string]any{}
	total := decimal.Zero
	for _, child := range children {
		total = total.Add(child.Actual)
	}
	markupTotal, err := childMarkupActuals(ctx, tx, ParentKindAccount, a.ID, opts.MarkupsToDelete)
	if err != nil {
		return nil, err
	}
	total = total.Add(markupTotal)
	setIfChanged(cols, "actual", &a.Actual, total)
	return cols, nil
}

func (a *Account) finish(ctx context.Context, tx *gorm.DB, cols map[string]any, opts *RecomputeOptions) (bool, error) {
	if len(cols) == 0 {
		return false, nil
	}
	if opts.Commit {
		if err := commitColumns(ctx, tx, a, cols); err != nil {
			return true, err
		}
	}
	if opts.Trickle {
		trickle := opts.trickleOptions()
		if !opts.Commit {
			trickle.UnsavedAccounts = []*Account{a}
		}
		if err := recomputeParent(ctx, tx, ParentKindBudget, a.BudgetId, trickle); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (a *Account) Estimate(ctx context.Context, tx *gorm.DB, children []*SubAccount, opts *RecomputeOptions) (bool, error) {
	cols, err := a.estimate(ctx, tx, children, opts)
	if err != nil {
		return false, err
	}
	return a.finish(ctx, tx, cols, opts)
}

func (a *Account) Actualize(ctx context.Context, tx *gorm.DB, children []*SubAccount, opts *RecomputeOptions) (bool, error) {
	cols, err := a.actualize(ctx, tx, children, opts)
	if err != nil {
		return false, err
	}
	return a.finish(ctx, tx, cols, opts)
}

func (a *Account) Calculate(ctx context.Context, tx *gorm.DB, opts *RecomputeOptions) (bool, error) {
	children, err := fetchSubAccountChildren(ctx, tx, ParentKindAccount, a.ID, opts.UnsavedChildren)
	if err != nil {
		return false, err
	}
	cols, err := a.estimate(ctx, tx, children, opts)
	if err != nil {
		return false, err
	}
	domain, err := budgetDomainOf(ctx, tx, a.BudgetId)
	if err != nil {
		return false, err
	}
	if domain == DomainBudget {
		actualCols, err := a.actualize(ctx, tx, children, opts)
		if err != nil {
			return false, err
		}
		for column, value := range actualCols {
			cols[column] = value
		}
	}
	return a.finish(ctx, tx, cols, opts)
}

/* Budget */

func (b *Budget) estimate(ctx context.Context, tx *gorm.DB, children []*Account, opts *RecomputeOptions) (map[string]any, error) {
	cols := map[string]any{}

	accumulatedValue := decimal.Zero
	accumulatedFringe := decimal.Zero
	accumulatedMarkup := decimal.Zero
	for _, child := range children {
		accumulatedValue = accumulatedValue.Add(child.NominalValue())
		accumulatedFringe = accumulatedFringe.Add(child.FringeContribution).Add(child.AccumulatedFringeContribution)
		accumulatedMarkup = accumulatedMarkup.Add(child.MarkupContribution).Add(child.AccumulatedMarkupContribution)
	}
	flatRates, err := flatMarkupRates(ctx, tx, ParentKindBudget, b.ID, opts.MarkupsToDelete)
	if err != nil {
		return nil, err
	}
	accumulatedMarkup = accumulatedMarkup.Add(flatRates)

	setIfChanged(cols, "accumulated_value", &b.AccumulatedValue, accumulatedValue)
	setIfChanged(cols, "accumulated_fringe_contribution", &b.AccumulatedFringeContribution, accumulatedFringe)
	setIfChanged(cols, "accumulated_markup_contribution", &b.AccumulatedMarkupContribution, accumulatedMarkup)
	return cols, nil
}

func (b *Budget) actualize(ctx context.Context, tx *gorm.DB, children []*Account, opts *RecomputeOptions) (map[string]any, error) {
	cols := map[string]any{}
	total := decimal.Zero
	for _, child := range children {
		total = total.Add(child.Actual)
	}
	markupTotal, err := childMarkupActuals(ctx, tx, ParentKindBudget, b.ID, opts.MarkupsToDelete)
	if err != nil {
		return nil, err
	}
	total = total.Add(markupTotal)
	setIfChanged(cols, "actual", &b.Actual, total)
	return cols, nil
}

func (b *Budget) finish(ctx context.Context, tx *gorm.DB, cols map[string]any) (bool, error) {
	if len(cols) == 0 {
		return false, nil
	}
	return true, commitColumns(ctx, tx, b, cols)
}

// Estimate recomputes the root aggregates against an already loaded
// account set. The root has no parent, so trickle ends here.
func (b *Budget) Estimate(ctx context.Context, tx *gorm.DB, children []*Account, opts *RecomputeOptions) (bool, error) {
	cols, err := b.estimate(ctx, tx, children, opts)
	if err != nil {
		return false, err
	}
	if !opts.Commit {
		return len(cols) > 0, nil
	}
	return b.finish(ctx, tx, cols)
}

func (b *Budget) Actualize(ctx context.Context, tx *gorm.DB, children []*Account, opts *RecomputeOptions) (bool, error) {
	cols, err := b.actualize(ctx, tx, children, opts)
	if err != nil {
		return false, err
	}
	if !opts.Commit {
		return len(cols) > 0, nil
	}
	return b.finish(ctx, tx, cols)
}

func (b *Budget) Calculate(ctx context.Context, tx *gorm.DB, opts *RecomputeOptions) (bool, error) {
	children, err := fetchBudgetAccounts(ctx, tx, b.ID, opts.UnsavedAccounts)
	if err != nil {
		return false, err
	}
	cols, err := b.estimate(ctx, tx, children, opts)
	if err != nil {
		return false, err
	}
	if b.IsBudgetDomain() {
		actualCols, err := b.actualize(ctx, tx, children, opts)
		if err != nil {
			return false, err
		}
		for column, value := range actualCols {
			cols[column] = value
		}
	}
	if !opts.Commit {
		return len(cols) > 0, nil
	}
	return b.finish(ctx, tx, cols)
}
