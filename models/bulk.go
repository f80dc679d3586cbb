package models

import (
	"context"
	"errors"
	"sort"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/utils"
	"gorm.io/gorm"
)

// The bulk entry points apply one validated change set to a sibling set:
// lock the table, validate everything before any write, write, recompute
// the affected ancestors once each, reap emptied containers, and stamp
// the budget when the change came from a user request. Single-row
// create/delete calls funnel through here so both paths share one code
// path for ordering and recomputation.

// lockTableKeys acquires the sibling-set locks for every key, in sorted
// order so two coordinators never deadlock on each other.
func lockTableKeys(ctx context.Context, functionName string, keys map[TableKey]struct{}) (func(), error) {
	lockKeys := make([]string, 0, len(keys))
	for key := range keys {
		lockKeys = append(lockKeys, key.LockKey())
	}
	sort.Strings(lockKeys)

	unlocks := make([]func(), 0, len(lockKeys))
	for _, lockKey := range lockKeys {
		unlock, err := utils.TableLock(ctx, lockKey, "bulk.go", functionName)
		if err != nil {
			for _, release := range unlocks {
				release()
			}
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}, nil
}

func bulkTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db := config.GetDB()
	return db.WithContext(utils.SuppressRecalcInContext(ctx)).Transaction(fn)
}

/* accounts */

func BulkCreateAccounts(ctx context.Context, budgetId int, inputs []*NewAccount) ([]*Account, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, budgetId)
	if err != nil {
		return nil, err
	}

	key := AccountTableKey(budgetId)
	unlock, err := lockTableKeys(ctx, "BulkCreateAccounts", map[TableKey]struct{}{key: {}})
	if err != nil {
		return nil, err
	}
	defer unlock()

	// per-row validation checks against stored rows; the batch also has
	// to be free of duplicates within itself
	seenIdentifiers := map[string]struct{}{}
	for _, input := range inputs {
		if err := input.validate(ctx, budget, 0); err != nil {
			return nil, err
		}
		if input.Identifier != "" {
			if _, dup := seenIdentifiers[input.Identifier]; dup {
				return nil, structuralError("account identifier %q appears twice in one batch", input.Identifier)
			}
			seenIdentifiers[input.Identifier] = struct{}{}
		}
	}
	rows := make([]*Account, len(inputs))
	for i, input := range inputs {
		rows[i] = input.build(budget)
	}

	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		if err := assignOrderKeys(tx, rows); err != nil {
			return err
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		if err := recomputeParent(ctx, tx, ParentKindBudget, budget.ID, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
			return err
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+1)
	for _, row := range rows {
		refs = append(refs, accountRef(row.ID))
	}
	refs = append(refs, budgetRef(budget.ID))
	invalidateRelatedCache(refs...)
	return rows, nil
}

type AccountUpdate struct {
	Id     int         `json:"id"`
	Fields *NewAccount `json:"fields"`
}

func BulkUpdateAccounts(ctx context.Context, updates []*AccountUpdate) ([]*Account, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	rows := make([]*Account, len(updates))
	budgets := map[int]*Budget{}
	keys := map[TableKey]struct{}{}
	for i, update := range updates {
		account, err := utils.FetchModel[Account](ctx, userId, update.Id)
		if err != nil {
			return nil, err
		}
		rows[i] = account
		keys[account.TableKey()] = struct{}{}
		if _, ok := budgets[account.BudgetId]; !ok {
			budget, err := utils.FetchModel[Budget](ctx, userId, account.BudgetId)
			if err != nil {
				return nil, err
			}
			budgets[account.BudgetId] = budget
		}
	}

	unlock, err := lockTableKeys(ctx, "BulkUpdateAccounts", keys)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for i, update := range updates {
		if err := update.Fields.validate(ctx, budgets[rows[i].BudgetId], update.Id); err != nil {
			return nil, err
		}
	}

	groupsDirty := map[int]bool{}
	var reapedGroupIds []int
	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		for i, update := range updates {
			account := rows[i]
			input := update.Fields
			if groupChanged(account.GroupId, input.GroupId) {
				groupsDirty[account.BudgetId] = true
			}
			changes := map[string]interface{}{
				"Identifier":  input.Identifier,
				"Description": input.Description,
				"GroupId":     input.GroupId,
			}
			if input.OrderKey != "" {
				changes["OrderKey"] = input.OrderKey
			}
			if err := tx.Model(account).Updates(changes).Error; err != nil {
				return err
			}
		}
		for budgetId := range budgets {
			if err := recomputeParent(ctx, tx, ParentKindBudget, budgetId, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
				return err
			}
			if groupsDirty[budgetId] {
				reaped, err := ReapEmptyGroups(tx, budgetId)
				if err != nil {
					return err
				}
				reapedGroupIds = append(reapedGroupIds, reaped...)
			}
			if err := stampBudgetUpdated(ctx, tx, budgetId); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+len(budgets)+len(reapedGroupIds))
	for _, row := range rows {
		refs = append(refs, accountRef(row.ID))
	}
	for budgetId := range budgets {
		refs = append(refs, budgetRef(budgetId))
	}
	refs = append(refs, groupRefs(reapedGroupIds)...)
	invalidateRelatedCache(refs...)
	return rows, nil
}

// BulkDeleteAccounts removes accounts and the sub-account trees below
// them. Ids already deleted by a concurrent request are skipped.
func BulkDeleteAccounts(ctx context.Context, budgetId int, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return errors.New("user id is required")
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, budgetId)
	if err != nil {
		return err
	}

	key := AccountTableKey(budgetId)
	unlock, err := lockTableKeys(ctx, "BulkDeleteAccounts", map[TableKey]struct{}{key: {}})
	if err != nil {
		return err
	}
	defer unlock()

	var rows []*Account
	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("id IN ? AND budget_id = ?", utils.UniqueSlice(ids), budgetId).
		Find(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var reapedGroupIds, reapedMarkupIds []int
	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		for _, account := range rows {
			if err := deleteAccountCascade(tx, account); err != nil {
				return err
			}
		}
		if err := recomputeParent(ctx, tx, ParentKindBudget, budget.ID, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
			return err
		}
		var err error
		if reapedGroupIds, err = ReapEmptyGroups(tx, budget.ID); err != nil {
			return err
		}
		if reapedMarkupIds, err = ReapEmptyMarkups(tx, budget.ID); err != nil {
			return err
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return err
	}

	refs := make([]InstanceRef, 0, len(rows)+1)
	for _, row := range rows {
		refs = append(refs, accountRef(row.ID))
	}
	refs = append(refs, budgetRef(budget.ID))
	refs = append(refs, groupRefs(reapedGroupIds)...)
	refs = append(refs, markupRefs(reapedMarkupIds)...)
	invalidateRelatedCache(refs...)
	return nil
}

/* sub-accounts */

func BulkCreateSubAccounts(ctx context.Context, parentType ParentKind, parentId int, inputs []*NewSubAccount) ([]*SubAccount, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	budget, err := subAccountParentBudget(ctx, userId, parentType, parentId)
	if err != nil {
		return nil, err
	}

	key := SubAccountTableKey(parentType, parentId)
	unlock, err := lockTableKeys(ctx, "BulkCreateSubAccounts", map[TableKey]struct{}{key: {}})
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, input := range inputs {
		if err := input.validate(ctx, budget, parentType, parentId); err != nil {
			return nil, err
		}
	}
	rows := make([]*SubAccount, len(inputs))
	for i, input := range inputs {
		rows[i] = input.build(budget, parentType, parentId)
	}

	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		if err := assignOrderKeys(tx, rows); err != nil {
			return err
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		for i, input := range inputs {
			if len(input.FringeIds) > 0 {
				if err := replaceSubAccountFringes(tx, rows[i].ID, input.FringeIds); err != nil {
					return err
				}
				if _, err := rows[i].Calculate(ctx, tx, &RecomputeOptions{Commit: true, Trickle: false}); err != nil {
					return err
				}
			}
		}
		if err := recomputeParent(ctx, tx, parentType, parentId, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
			return err
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+2)
	for _, row := range rows {
		refs = append(refs, subAccountRef(row.ID))
	}
	refs = append(refs, parentRef(parentType, parentId), budgetRef(budget.ID))
	invalidateRelatedCache(refs...)
	return rows, nil
}

type SubAccountUpdate struct {
	Id     int            `json:"id"`
	Fields *NewSubAccount `json:"fields"`
}

func BulkUpdateSubAccounts(ctx context.Context, updates []*SubAccountUpdate) ([]*SubAccount, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	rows := make([]*SubAccount, len(updates))
	budgets := map[int]*Budget{}
	keys := map[TableKey]struct{}{}
	for i, update := range updates {
		row, err := utils.FetchModel[SubAccount](ctx, userId, update.Id)
		if err != nil {
			return nil, err
		}
		rows[i] = row
		keys[row.TableKey()] = struct{}{}
		if _, ok := budgets[row.BudgetId]; !ok {
			budget, err := utils.FetchModel[Budget](ctx, userId, row.BudgetId)
			if err != nil {
				return nil, err
			}
			budgets[row.BudgetId] = budget
		}
	}

	unlock, err := lockTableKeys(ctx, "BulkUpdateSubAccounts", keys)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for i, update := range updates {
		row := rows[i]
		if err := update.Fields.validate(ctx, budgets[row.BudgetId], row.ParentType, row.ParentId); err != nil {
			return nil, err
		}
	}

	groupsDirty := map[int]bool{}
	var reapedGroupIds []int
	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		for i, update := range updates {
			row := rows[i]
			input := update.Fields
			if groupChanged(row.GroupId, input.GroupId) {
				groupsDirty[row.BudgetId] = true
			}
			changes := map[string]interface{}{
				"Identifier":  input.Identifier,
				"Description": input.Description,
				"Quantity":    input.Quantity,
				"Rate":        input.Rate,
				"Multiplier":  input.Multiplier,
				"Unit":        input.Unit,
				"GroupId":     input.GroupId,
				"ContactId":   input.ContactId,
			}
			if input.OrderKey != "" {
				changes["OrderKey"] = input.OrderKey
			}
			if err := tx.Model(row).Updates(changes).Error; err != nil {
				return err
			}
			if input.FringeIds != nil {
				if err := replaceSubAccountFringes(tx, row.ID, input.FringeIds); err != nil {
					return err
				}
			}
		}
		for key := range keys {
			for i := range updates {
				if rows[i].TableKey() != key {
					continue
				}
				if _, err := rows[i].Calculate(ctx, tx, &RecomputeOptions{Commit: true, Trickle: false}); err != nil {
					return err
				}
			}
			if err := recomputeParent(ctx, tx, key.ParentType, key.ParentId, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
				return err
			}
		}
		for budgetId := range budgets {
			if groupsDirty[budgetId] {
				reaped, err := ReapEmptyGroups(tx, budgetId)
				if err != nil {
					return err
				}
				reapedGroupIds = append(reapedGroupIds, reaped...)
			}
			if err := stampBudgetUpdated(ctx, tx, budgetId); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+len(budgets)+len(reapedGroupIds))
	for _, row := range rows {
		refs = append(refs, subAccountRef(row.ID), parentRef(row.ParentType, row.ParentId))
	}
	for budgetId := range budgets {
		refs = append(refs, budgetRef(budgetId))
	}
	refs = append(refs, groupRefs(reapedGroupIds)...)
	invalidateRelatedCache(refs...)
	return rows, nil
}

// BulkDeleteSubAccounts removes rows from one sibling set together with
// their subtrees. Ids already deleted by a concurrent request are
// skipped.
func BulkDeleteSubAccounts(ctx context.Context, parentType ParentKind, parentId int, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return errors.New("user id is required")
	}
	budget, err := subAccountParentBudget(ctx, userId, parentType, parentId)
	if err != nil {
		return err
	}

	key := SubAccountTableKey(parentType, parentId)
	unlock, err := lockTableKeys(ctx, "BulkDeleteSubAccounts", map[TableKey]struct{}{key: {}})
	if err != nil {
		return err
	}
	defer unlock()

	var rows []*SubAccount
	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("id IN ? AND parent_type = ? AND parent_id = ?", utils.UniqueSlice(ids), parentType, parentId).
		Find(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var reapedGroupIds, reapedMarkupIds []int
	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		rootIds := make([]int, len(rows))
		for i, row := range rows {
			rootIds[i] = row.ID
		}
		if err := deleteSubAccountSubtree(tx, rootIds); err != nil {
			return err
		}
		if err := recomputeParent(ctx, tx, parentType, parentId, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
			return err
		}
		var err error
		if reapedGroupIds, err = ReapEmptyGroups(tx, budget.ID); err != nil {
			return err
		}
		if reapedMarkupIds, err = ReapEmptyMarkups(tx, budget.ID); err != nil {
			return err
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return err
	}

	refs := make([]InstanceRef, 0, len(rows)+2)
	for _, row := range rows {
		refs = append(refs, subAccountRef(row.ID))
	}
	refs = append(refs, parentRef(parentType, parentId), budgetRef(budget.ID))
	refs = append(refs, groupRefs(reapedGroupIds)...)
	refs = append(refs, markupRefs(reapedMarkupIds)...)
	invalidateRelatedCache(refs...)
	return nil
}

/* fringes */

func BulkCreateFringes(ctx context.Context, budgetId int, inputs []*NewFringe) ([]*Fringe, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, budgetId)
	if err != nil {
		return nil, err
	}

	seenNames := map[string]struct{}{}
	for _, input := range inputs {
		if err := input.validate(ctx, budgetId, 0); err != nil {
			return nil, err
		}
		if _, dup := seenNames[input.Name]; dup {
			return nil, structuralError("fringe name %q appears twice in one batch", input.Name)
		}
		seenNames[input.Name] = struct{}{}
	}
	rows := make([]*Fringe, len(inputs))
	for i, input := range inputs {
		rows[i] = input.build(budget)
	}

	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+1)
	for _, row := range rows {
		refs = append(refs, fringeRef(row.ID))
	}
	refs = append(refs, budgetRef(budget.ID))
	invalidateRelatedCache(refs...)
	return rows, nil
}

type FringeUpdate struct {
	Id     int        `json:"id"`
	Fields *NewFringe `json:"fields"`
}

func BulkUpdateFringes(ctx context.Context, updates []*FringeUpdate) ([]*Fringe, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	rows := make([]*Fringe, len(updates))
	budgetIds := map[int]struct{}{}
	for i, update := range updates {
		fringe, err := utils.FetchModel[Fringe](ctx, userId, update.Id)
		if err != nil {
			return nil, err
		}
		rows[i] = fringe
		budgetIds[fringe.BudgetId] = struct{}{}
	}
	for i, update := range updates {
		if err := update.Fields.validate(ctx, rows[i].BudgetId, update.Id); err != nil {
			return nil, err
		}
	}

	fringeIds := make([]int, len(rows))
	for i, row := range rows {
		fringeIds[i] = row.ID
	}

	err := bulkTransaction(ctx, func(tx *gorm.DB) error {
		for i, update := range updates {
			input := update.Fields
			changes := map[string]interface{}{
				"Name":        input.Name,
				"Unit":        input.Unit,
				"Rate":        input.Rate,
				"Cutoff":      input.Cutoff,
				"Color":       input.Color,
				"Description": input.Description,
			}
			if err := tx.Model(rows[i]).Updates(changes).Error; err != nil {
				return err
			}
		}
		affected, err := subAccountIdsUsingFringes(ctx, tx, fringeIds)
		if err != nil {
			return err
		}
		if err := recomputeSubAccountsById(ctx, tx, affected, nil); err != nil {
			return err
		}
		for budgetId := range budgetIds {
			if err := stampBudgetUpdated(ctx, tx, budgetId); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+len(budgetIds))
	for _, row := range rows {
		refs = append(refs, fringeRef(row.ID))
	}
	for budgetId := range budgetIds {
		refs = append(refs, budgetRef(budgetId))
	}
	invalidateRelatedCache(refs...)
	return rows, nil
}

// BulkDeleteFringes removes fringes and reprices every leaf that was
// using them. Ids already deleted by a concurrent request are skipped.
func BulkDeleteFringes(ctx context.Context, budgetId int, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return errors.New("user id is required")
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, budgetId)
	if err != nil {
		return err
	}

	var rows []*Fringe
	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("id IN ? AND budget_id = ?", utils.UniqueSlice(ids), budgetId).
		Find(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	fringeIds := make([]int, len(rows))
	for i, row := range rows {
		fringeIds[i] = row.ID
	}

	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		affected, err := subAccountIdsUsingFringes(ctx, tx, fringeIds)
		if err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM sub_account_fringes WHERE fringe_id IN ?", fringeIds).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", fringeIds).Delete(&Fringe{}).Error; err != nil {
			return err
		}
		if err := recomputeSubAccountsById(ctx, tx, affected, nil); err != nil {
			return err
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return err
	}

	refs := make([]InstanceRef, 0, len(fringeIds)+1)
	for _, fringeId := range fringeIds {
		refs = append(refs, fringeRef(fringeId))
	}
	refs = append(refs, budgetRef(budget.ID))
	invalidateRelatedCache(refs...)
	return nil
}

/* markups */

func BulkCreateMarkups(ctx context.Context, parentType ParentKind, parentId int, inputs []*NewMarkup) ([]*Markup, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	budget, err := markupParentBudget(ctx, userId, parentType, parentId)
	if err != nil {
		return nil, err
	}

	key := MarkupTableKey(parentType, parentId)
	unlock, err := lockTableKeys(ctx, "BulkCreateMarkups", map[TableKey]struct{}{key: {}})
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, input := range inputs {
		if err := input.validate(ctx, parentType, parentId); err != nil {
			return nil, err
		}
	}
	rows := make([]*Markup, len(inputs))
	for i, input := range inputs {
		rows[i] = &Markup{
			BudgetId:    budget.ID,
			ParentType:  parentType,
			ParentId:    parentId,
			Identifier:  input.Identifier,
			Description: input.Description,
			Unit:        input.Unit,
			Rate:        input.Rate,
			CreatedById: budget.CreatedById,
		}
	}

	var memberIds []int
	flatCreated := false
	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		for i, input := range inputs {
			if err := tx.Create(rows[i]).Error; err != nil {
				return err
			}
			if err := replaceMarkupChildren(tx, rows[i], input.ChildrenIds); err != nil {
				return err
			}
			if len(input.ChildrenIds) == 0 {
				flatCreated = true
			}
			memberIds = append(memberIds, input.ChildrenIds...)
		}
		if err := recomputeMarkupMembers(ctx, tx, parentType, memberIds); err != nil {
			return err
		}
		// member recomputes trickle through the parent already; a batch
		// of flat markups has no members to trickle from
		if flatCreated {
			if err := recomputeParent(ctx, tx, parentType, parentId, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
				return err
			}
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+len(memberIds)+2)
	for _, row := range rows {
		refs = append(refs, markupRef(row.ID))
	}
	refs = append(refs, markupMemberRefs(parentType, memberIds)...)
	refs = append(refs, parentRef(parentType, parentId), budgetRef(budget.ID))
	invalidateRelatedCache(refs...)
	return rows, nil
}

type MarkupUpdate struct {
	Id     int        `json:"id"`
	Fields *NewMarkup `json:"fields"`
}

func BulkUpdateMarkups(ctx context.Context, updates []*MarkupUpdate) ([]*Markup, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	rows := make([]*Markup, len(updates))
	budgetIds := map[int]struct{}{}
	keys := map[TableKey]struct{}{}
	for i, update := range updates {
		markup, err := utils.FetchModel[Markup](ctx, userId, update.Id)
		if err != nil {
			return nil, err
		}
		rows[i] = markup
		keys[markup.TableKey()] = struct{}{}
		budgetIds[markup.BudgetId] = struct{}{}
	}

	unlock, err := lockTableKeys(ctx, "BulkUpdateMarkups", keys)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for i, update := range updates {
		if err := update.Fields.validate(ctx, rows[i].ParentType, rows[i].ParentId); err != nil {
			return nil, err
		}
	}

	memberScope := map[TableKey][]int{}
	var reapedMarkupIds []int
	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		// rows leaving a markup keep their repricing only if they are in
		// the recompute scope, so take each member set before the join
		// rows are rewritten
		for _, markup := range rows {
			accountIds, subAccountIds, err := markupMemberIds(ctx, tx, []int{markup.ID})
			if err != nil {
				return err
			}
			key := markup.TableKey()
			if markup.ParentType == ParentKindBudget {
				memberScope[key] = append(memberScope[key], accountIds...)
			} else {
				memberScope[key] = append(memberScope[key], subAccountIds...)
			}
		}
		for i, update := range updates {
			markup := rows[i]
			input := update.Fields
			changes := map[string]interface{}{
				"Identifier":  input.Identifier,
				"Description": input.Description,
				"Unit":        input.Unit,
				"Rate":        input.Rate,
			}
			if err := tx.Model(markup).Updates(changes).Error; err != nil {
				return err
			}
			if err := replaceMarkupChildren(tx, markup, input.ChildrenIds); err != nil {
				return err
			}
			memberScope[markup.TableKey()] = append(memberScope[markup.TableKey()], input.ChildrenIds...)
		}
		for key := range keys {
			if err := recomputeMarkupMembers(ctx, tx, key.ParentType, memberScope[key]); err != nil {
				return err
			}
			// a unit or rate change on a flat markup only shows up at the
			// parent, and removed members no longer trickle through it
			if err := recomputeParent(ctx, tx, key.ParentType, key.ParentId, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
				return err
			}
		}
		for budgetId := range budgetIds {
			reaped, err := ReapEmptyMarkups(tx, budgetId)
			if err != nil {
				return err
			}
			reapedMarkupIds = append(reapedMarkupIds, reaped...)
			if err := stampBudgetUpdated(ctx, tx, budgetId); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+len(budgetIds))
	for _, row := range rows {
		refs = append(refs, markupRef(row.ID), parentRef(row.ParentType, row.ParentId))
	}
	for key, memberIds := range memberScope {
		refs = append(refs, markupMemberRefs(key.ParentType, memberIds)...)
	}
	for budgetId := range budgetIds {
		refs = append(refs, budgetRef(budgetId))
	}
	refs = append(refs, markupRefs(reapedMarkupIds)...)
	invalidateRelatedCache(refs...)
	return rows, nil
}

// BulkDeleteMarkups removes markups under one parent and reprices the
// rows they were adjusting. Ids already deleted by a concurrent request
// are skipped.
func BulkDeleteMarkups(ctx context.Context, parentType ParentKind, parentId int, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return errors.New("user id is required")
	}
	budget, err := markupParentBudget(ctx, userId, parentType, parentId)
	if err != nil {
		return err
	}

	key := MarkupTableKey(parentType, parentId)
	unlock, err := lockTableKeys(ctx, "BulkDeleteMarkups", map[TableKey]struct{}{key: {}})
	if err != nil {
		return err
	}
	defer unlock()

	var rows []*Markup
	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("id IN ? AND parent_type = ? AND parent_id = ?", utils.UniqueSlice(ids), parentType, parentId).
		Find(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	markupIds := make([]int, len(rows))
	for i, row := range rows {
		markupIds[i] = row.ID
	}

	var memberAccountIds, memberSubAccountIds []int
	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		// remember the member rows before the join rows go away
		var err error
		memberAccountIds, memberSubAccountIds, err = markupMemberIds(ctx, tx, markupIds)
		if err != nil {
			return err
		}
		if err := deleteMarkups(tx, markupIds); err != nil {
			return err
		}
		for _, accountId := range memberAccountIds {
			var account Account
			if err := tx.First(&account, accountId).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return err
			}
			if _, err := account.Calculate(ctx, tx, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
				return err
			}
		}
		if err := recomputeSubAccountsById(ctx, tx, memberSubAccountIds, nil); err != nil {
			return err
		}
		if err := recomputeParent(ctx, tx, parentType, parentId, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
			return err
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return err
	}

	refs := make([]InstanceRef, 0, len(markupIds)+2)
	for _, markupId := range markupIds {
		refs = append(refs, markupRef(markupId))
	}
	for _, accountId := range memberAccountIds {
		refs = append(refs, accountRef(accountId))
	}
	for _, subAccountId := range memberSubAccountIds {
		refs = append(refs, subAccountRef(subAccountId))
	}
	refs = append(refs, parentRef(parentType, parentId), budgetRef(budget.ID))
	invalidateRelatedCache(refs...)
	return nil
}

/* actuals */

func BulkCreateActuals(ctx context.Context, budgetId int, inputs []*NewActual) ([]*Actual, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, budgetId)
	if err != nil {
		return nil, err
	}

	key := ActualTableKey(budgetId)
	unlock, err := lockTableKeys(ctx, "BulkCreateActuals", map[TableKey]struct{}{key: {}})
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, input := range inputs {
		if err := input.validate(ctx, budget, 0); err != nil {
			return nil, err
		}
	}
	rows := make([]*Actual, len(inputs))
	for i, input := range inputs {
		rows[i] = input.build(budget)
	}

	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		if err := assignOrderKeys(tx, rows); err != nil {
			return err
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		if err := recomputeActualOwners(ctx, tx, actualOwnerRefs(rows, nil)); err != nil {
			return err
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+1)
	for _, row := range rows {
		refs = append(refs, actualRef(row.ID))
	}
	refs = append(refs, budgetRef(budget.ID))
	invalidateRelatedCache(refs...)
	return rows, nil
}

type ActualUpdate struct {
	Id     int        `json:"id"`
	Fields *NewActual `json:"fields"`
}

func BulkUpdateActuals(ctx context.Context, updates []*ActualUpdate) ([]*Actual, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	rows := make([]*Actual, len(updates))
	budgets := map[int]*Budget{}
	keys := map[TableKey]struct{}{}
	for i, update := range updates {
		actual, err := utils.FetchModel[Actual](ctx, userId, update.Id)
		if err != nil {
			return nil, err
		}
		rows[i] = actual
		keys[actual.TableKey()] = struct{}{}
		if _, ok := budgets[actual.BudgetId]; !ok {
			budget, err := utils.FetchModel[Budget](ctx, userId, actual.BudgetId)
			if err != nil {
				return nil, err
			}
			budgets[actual.BudgetId] = budget
		}
	}

	unlock, err := lockTableKeys(ctx, "BulkUpdateActuals", keys)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for i, update := range updates {
		if err := update.Fields.validate(ctx, budgets[rows[i].BudgetId], update.Id); err != nil {
			return nil, err
		}
	}

	// owners before the write still need recomputation when ownership moves
	previousOwners := actualOwnerRefs(rows, nil)

	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		for i, update := range updates {
			input := update.Fields
			changes := map[string]interface{}{
				"Name":          input.Name,
				"Notes":         input.Notes,
				"OwnerType":     input.OwnerType,
				"OwnerId":       input.OwnerId,
				"Value":         input.Value,
				"Date":          input.Date,
				"ContactId":     input.ContactId,
				"PaymentMethod": input.PaymentMethod,
				"PurchaseOrder": input.PurchaseOrder,
				"PaymentId":     input.PaymentId,
				"ImportSource":  input.ImportSource,
			}
			if input.OrderKey != "" {
				changes["OrderKey"] = input.OrderKey
			}
			if input.AttachmentName != nil {
				changes["AttachmentPath"] = utils.UploadTo(rows[i].CreatedById, *input.AttachmentName, "actuals")
			}
			if err := tx.Model(rows[i]).Updates(changes).Error; err != nil {
				return err
			}
		}
		if err := recomputeActualOwners(ctx, tx, actualOwnerRefs(rows, previousOwners)); err != nil {
			return err
		}
		for budgetId := range budgets {
			if err := stampBudgetUpdated(ctx, tx, budgetId); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refs := make([]InstanceRef, 0, len(rows)+len(budgets))
	for _, row := range rows {
		refs = append(refs, actualRef(row.ID))
	}
	for budgetId := range budgets {
		refs = append(refs, budgetRef(budgetId))
	}
	invalidateRelatedCache(refs...)
	return rows, nil
}

// BulkDeleteActuals removes actuals and deducts them from their former
// owners. Ids already deleted by a concurrent request are skipped.
func BulkDeleteActuals(ctx context.Context, budgetId int, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return errors.New("user id is required")
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, budgetId)
	if err != nil {
		return err
	}

	key := ActualTableKey(budgetId)
	unlock, err := lockTableKeys(ctx, "BulkDeleteActuals", map[TableKey]struct{}{key: {}})
	if err != nil {
		return err
	}
	defer unlock()

	var rows []*Actual
	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("id IN ? AND budget_id = ?", utils.UniqueSlice(ids), budgetId).
		Find(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	actualIds := make([]int, len(rows))
	for i, row := range rows {
		actualIds[i] = row.ID
	}

	err = bulkTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id IN ?", actualIds).Delete(&Actual{}).Error; err != nil {
			return err
		}
		if err := recomputeActualOwners(ctx, tx, actualOwnerRefs(rows, nil)); err != nil {
			return err
		}
		return stampBudgetUpdated(ctx, tx, budget.ID)
	})
	if err != nil {
		return err
	}

	refs := make([]InstanceRef, 0, len(actualIds)+1)
	for _, actualId := range actualIds {
		refs = append(refs, actualRef(actualId))
	}
	refs = append(refs, budgetRef(budget.ID))
	invalidateRelatedCache(refs...)
	return nil
}

/* shared recomputation walks */

type ownerRef struct {
	Kind OwnerKind
	Id   int
}

func actualOwnerRefs(rows []*Actual, extra map[ownerRef]struct{}) map[ownerRef]struct{} {
	refs := map[ownerRef]struct{}{}
	for owner := range extra {
		refs[owner] = struct{}{}
	}
	for _, row := range rows {
		if row.OwnerType != nil && row.OwnerId != nil {
			refs[ownerRef{Kind: *row.OwnerType, Id: *row.OwnerId}] = struct{}{}
		}
	}
	return refs
}

func recomputeActualOwners(ctx context.Context, tx *gorm.DB, owners map[ownerRef]struct{}) error {
	for owner := range owners {
		switch owner.Kind {
		case OwnerKindSubAccount:
			var row SubAccount
			if err := tx.First(&row, owner.Id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return err
			}
			if _, err := row.Calculate(ctx, tx, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
				return err
			}
		case OwnerKindMarkup:
			var markup Markup
			if err := tx.First(&markup, owner.Id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return err
			}
			if _, err := markup.Actualize(ctx, tx, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
				return err
			}
		}
	}
	return nil
}

// recomputeSubAccountsById reprices scattered rows: each row is
// recomputed in place first, then each distinct parent chain is walked
// once.
func recomputeSubAccountsById(ctx context.Context, tx *gorm.DB, ids []int, markupsToDelete []int) error {
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return nil
	}
	var rows []*SubAccount
	if err := tx.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return err
	}
	opts := &RecomputeOptions{Commit: true, Trickle: false, MarkupsToDelete: markupsToDelete}
	parents := map[TableKey]struct{}{}
	for _, row := range rows {
		if _, err := row.Calculate(ctx, tx, opts); err != nil {
			return err
		}
		parents[row.TableKey()] = struct{}{}
	}
	for parent := range parents {
		err := recomputeParent(ctx, tx, parent.ParentType, parent.ParentId, &RecomputeOptions{Commit: true, Trickle: true, MarkupsToDelete: markupsToDelete})
		if err != nil {
			return err
		}
	}
	return nil
}

// markupMemberIds resolves the rows currently priced by the given
// markups through both join tables.
func markupMemberIds(ctx context.Context, tx *gorm.DB, markupIds []int) ([]int, []int, error) {
	var accountIds []int
	err := tx.WithContext(ctx).
		Table("markup_accounts").
		Where("markup_id IN ?", markupIds).
		Distinct().
		Pluck("account_id", &accountIds).Error
	if err != nil {
		return nil, nil, err
	}
	var subAccountIds []int
	err = tx.WithContext(ctx).
		Table("markup_sub_accounts").
		Where("markup_id IN ?", markupIds).
		Distinct().
		Pluck("sub_account_id", &subAccountIds).Error
	if err != nil {
		return nil, nil, err
	}
	return accountIds, subAccountIds, nil
}

/* cascading deletes */

// deleteMarkups removes markups with their join rows and unhooks any
// actuals they owned. The actual rows survive with a null owner.
func deleteMarkups(tx *gorm.DB, markupIds []int) error {
	if len(markupIds) == 0 {
		return nil
	}
	if err := tx.Exec("DELETE FROM markup_accounts WHERE markup_id IN ?", markupIds).Error; err != nil {
		return err
	}
	if err := tx.Exec("DELETE FROM markup_sub_accounts WHERE markup_id IN ?", markupIds).Error; err != nil {
		return err
	}
	err := tx.Model(&Actual{}).
		Where("owner_type = ? AND owner_id IN ?", OwnerKindMarkup, markupIds).
		Updates(map[string]interface{}{"OwnerType": nil, "OwnerId": nil}).Error
	if err != nil {
		return err
	}
	return tx.Where("id IN ?", markupIds).Delete(&Markup{}).Error
}

// collectSubAccountDescendants walks the tree below the given roots and
// returns the roots plus every descendant id.
func collectSubAccountDescendants(tx *gorm.DB, rootIds []int) ([]int, error) {
	all := append([]int{}, rootIds...)
	frontier := rootIds
	for len(frontier) > 0 {
		var next []int
		err := tx.Model(&SubAccount{}).
			Where("parent_type = ? AND parent_id IN ?", ParentKindSubAccount, frontier).
			Pluck("id", &next).Error
		if err != nil {
			return nil, err
		}
		all = append(all, next...)
		frontier = next
	}
	return all, nil
}

// deleteSubAccountSubtree removes the given sub-accounts and everything
// below them: descendant rows, their join rows, markups parented inside
// the subtree. Owned actuals survive with a null owner.
func deleteSubAccountSubtree(tx *gorm.DB, rootIds []int) error {
	ids, err := collectSubAccountDescendants(tx, rootIds)
	if err != nil {
		return err
	}
	var markupIds []int
	err = tx.Model(&Markup{}).
		Where("parent_type = ? AND parent_id IN ?", ParentKindSubAccount, ids).
		Pluck("id", &markupIds).Error
	if err != nil {
		return err
	}
	if err := deleteMarkups(tx, markupIds); err != nil {
		return err
	}
	if err := tx.Exec("DELETE FROM sub_account_fringes WHERE sub_account_id IN ?", ids).Error; err != nil {
		return err
	}
	if err := tx.Exec("DELETE FROM markup_sub_accounts WHERE sub_account_id IN ?", ids).Error; err != nil {
		return err
	}
	err = tx.Model(&Actual{}).
		Where("owner_type = ? AND owner_id IN ?", OwnerKindSubAccount, ids).
		Updates(map[string]interface{}{"OwnerType": nil, "OwnerId": nil}).Error
	if err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&SubAccount{}).Error
}

// deleteAccountCascade removes one account and its sub-account tree.
func deleteAccountCascade(tx *gorm.DB, account *Account) error {
	var childIds []int
	err := tx.Model(&SubAccount{}).
		Where("parent_type = ? AND parent_id = ?", ParentKindAccount, account.ID).
		Pluck("id", &childIds).Error
	if err != nil {
		return err
	}
	if len(childIds) > 0 {
		if err := deleteSubAccountSubtree(tx, childIds); err != nil {
			return err
		}
	}
	var markupIds []int
	err = tx.Model(&Markup{}).
		Where("parent_type = ? AND parent_id = ?", ParentKindAccount, account.ID).
		Pluck("id", &markupIds).Error
	if err != nil {
		return err
	}
	if err := deleteMarkups(tx, markupIds); err != nil {
		return err
	}
	if err := tx.Exec("DELETE FROM markup_accounts WHERE account_id = ?", account.ID).Error; err != nil {
		return err
	}
	return tx.Delete(account).Error
}
