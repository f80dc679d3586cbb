package models

import (
	"context"
	"errors"

	"github.com/mmdatafocus/budgets_backend/utils"
	"gorm.io/gorm"
)

// DuplicateBudget deep-copies a root and its whole tree: accounts,
// sub-accounts, groups, fringes, markups with their memberships, and
// recorded actuals. Metric fields are copied as-is, the copy is already
// quiesced.
func DuplicateBudget(ctx context.Context, id int) (*Budget, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	source, err := utils.FetchModel[Budget](ctx, userId, id)
	if err != nil {
		return nil, err
	}
	return copyBudgetTree(ctx, source, source.Domain, source.Name+" (Copy)")
}

// DeriveBudget instantiates a template as a fresh budget-domain root.
func DeriveBudget(ctx context.Context, templateId int) (*Budget, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	source, err := utils.FetchModel[Budget](ctx, userId, templateId)
	if err != nil {
		return nil, err
	}
	if source.Domain != DomainTemplate {
		return nil, structuralError("budget %d is not a template", templateId)
	}
	return copyBudgetTree(ctx, source, DomainBudget, source.Name)
}

type treeCopy struct {
	source *Budget
	target *Budget

	fringeMap     map[int]int
	groupMap      map[int]int
	accountMap    map[int]int
	subAccountMap map[int]int
	markupMap     map[int]int
}

func copyBudgetTree(ctx context.Context, source *Budget, domain BudgetDomain, name string) (*Budget, error) {
	target := &Budget{
		Domain:      domain,
		Name:        name,
		CreatedById: source.CreatedById,
		IsTrashed:   utils.NewFalse(),
		IsPublic:    utils.NewFalse(),
		ImagePath:   source.ImagePath,

		AccumulatedValue:              source.AccumulatedValue,
		AccumulatedFringeContribution: source.AccumulatedFringeContribution,
		AccumulatedMarkupContribution: source.AccumulatedMarkupContribution,
	}
	if domain == DomainBudget && source.Domain == DomainBudget {
		target.Actual = source.Actual
	}

	copier := &treeCopy{
		source:        source,
		target:        target,
		fringeMap:     map[int]int{},
		groupMap:      map[int]int{},
		accountMap:    map[int]int{},
		subAccountMap: map[int]int{},
		markupMap:     map[int]int{},
	}

	err := bulkTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(target).Error; err != nil {
			return err
		}
		if err := copier.copyFringes(tx); err != nil {
			return err
		}
		if err := copier.copyGroups(tx, ParentKindBudget, source.ID, target.ID); err != nil {
			return err
		}
		if err := copier.copyAccounts(tx); err != nil {
			return err
		}
		if err := copier.copyMarkups(tx); err != nil {
			return err
		}
		if target.IsBudgetDomain() && source.IsBudgetDomain() {
			if err := copier.copyActuals(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateInstanceCache(budgetRef(target.ID))
	return target, nil
}

func (c *treeCopy) copyFringes(tx *gorm.DB) error {
	var rows []*Fringe
	if err := tx.Where("budget_id = ?", c.source.ID).Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		clone := &Fringe{
			BudgetId:    c.target.ID,
			Name:        row.Name,
			Unit:        row.Unit,
			Rate:        row.Rate,
			Cutoff:      row.Cutoff,
			Color:       row.Color,
			Description: row.Description,
			CreatedById: c.target.CreatedById,
		}
		if err := tx.Create(clone).Error; err != nil {
			return err
		}
		c.fringeMap[row.ID] = clone.ID
	}
	return nil
}

func (c *treeCopy) copyGroups(tx *gorm.DB, parentType ParentKind, oldParentId int, newParentId int) error {
	var rows []*Group
	err := tx.Where("parent_type = ? AND parent_id = ?", parentType, oldParentId).
		Find(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		clone := &Group{
			BudgetId:    c.target.ID,
			ParentType:  parentType,
			ParentId:    newParentId,
			Name:        row.Name,
			Color:       row.Color,
			CreatedById: c.target.CreatedById,
		}
		if err := tx.Create(clone).Error; err != nil {
			return err
		}
		c.groupMap[row.ID] = clone.ID
	}
	return nil
}

func (c *treeCopy) remapGroup(groupId *int) *int {
	if groupId == nil {
		return nil
	}
	if newId, ok := c.groupMap[*groupId]; ok {
		return &newId
	}
	return nil
}

func (c *treeCopy) copyAccounts(tx *gorm.DB) error {
	var rows []*Account
	err := tx.Where("budget_id = ?", c.source.ID).
		Order("order_key").
		Find(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		clone := &Account{
			BudgetId:    c.target.ID,
			Identifier:  row.Identifier,
			Description: row.Description,
			OrderKey:    row.OrderKey,
			GroupId:     c.remapGroup(row.GroupId),
			CreatedById: c.target.CreatedById,

			Actual:                        row.Actual,
			AccumulatedValue:              row.AccumulatedValue,
			FringeContribution:            row.FringeContribution,
			MarkupContribution:            row.MarkupContribution,
			AccumulatedFringeContribution: row.AccumulatedFringeContribution,
			AccumulatedMarkupContribution: row.AccumulatedMarkupContribution,
		}
		if err := tx.Create(clone).Error; err != nil {
			return err
		}
		c.accountMap[row.ID] = clone.ID
		if err := c.copyGroups(tx, ParentKindAccount, row.ID, clone.ID); err != nil {
			return err
		}
		if err := c.copySubAccounts(tx, ParentKindAccount, row.ID, clone.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *treeCopy) copySubAccounts(tx *gorm.DB, parentType ParentKind, oldParentId int, newParentId int) error {
	var rows []*SubAccount
	err := tx.Where("parent_type = ? AND parent_id = ?", parentType, oldParentId).
		Order("order_key").
		Find(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		clone := &SubAccount{
			BudgetId:    c.target.ID,
			ParentType:  parentType,
			ParentId:    newParentId,
			Identifier:  row.Identifier,
			Description: row.Description,
			OrderKey:    row.OrderKey,
			GroupId:     c.remapGroup(row.GroupId),
			ContactId:   row.ContactId,
			CreatedById: c.target.CreatedById,

			Quantity:   row.Quantity,
			Rate:       row.Rate,
			Multiplier: row.Multiplier,
			Unit:       row.Unit,

			Actual:                        row.Actual,
			AccumulatedValue:              row.AccumulatedValue,
			FringeContribution:            row.FringeContribution,
			MarkupContribution:            row.MarkupContribution,
			AccumulatedFringeContribution: row.AccumulatedFringeContribution,
			AccumulatedMarkupContribution: row.AccumulatedMarkupContribution,
		}
		if err := tx.Create(clone).Error; err != nil {
			return err
		}
		c.subAccountMap[row.ID] = clone.ID

		var fringeIds []int
		err := tx.Table("sub_account_fringes").
			Where("sub_account_id = ?", row.ID).
			Pluck("fringe_id", &fringeIds).Error
		if err != nil {
			return err
		}
		for _, fringeId := range fringeIds {
			newFringeId, ok := c.fringeMap[fringeId]
			if !ok {
				continue
			}
			if err := tx.Exec("INSERT INTO sub_account_fringes (sub_account_id, fringe_id) VALUES (?, ?)", clone.ID, newFringeId).Error; err != nil {
				return err
			}
		}

		if err := c.copyGroups(tx, ParentKindSubAccount, row.ID, clone.ID); err != nil {
			return err
		}
		if err := c.copySubAccounts(tx, ParentKindSubAccount, row.ID, clone.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *treeCopy) remapParent(parentType ParentKind, parentId int) (int, bool) {
	switch parentType {
	case ParentKindBudget:
		return c.target.ID, true
	case ParentKindAccount:
		newId, ok := c.accountMap[parentId]
		return newId, ok
	default:
		newId, ok := c.subAccountMap[parentId]
		return newId, ok
	}
}

func (c *treeCopy) copyMarkups(tx *gorm.DB) error {
	var rows []*Markup
	if err := tx.Where("budget_id = ?", c.source.ID).Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		newParentId, ok := c.remapParent(row.ParentType, row.ParentId)
		if !ok {
			continue
		}
		clone := &Markup{
			BudgetId:    c.target.ID,
			ParentType:  row.ParentType,
			ParentId:    newParentId,
			Identifier:  row.Identifier,
			Description: row.Description,
			Unit:        row.Unit,
			Rate:        row.Rate,
			CreatedById: c.target.CreatedById,
		}
		if c.target.IsBudgetDomain() && c.source.IsBudgetDomain() {
			clone.Actual = row.Actual
		}
		if err := tx.Create(clone).Error; err != nil {
			return err
		}
		c.markupMap[row.ID] = clone.ID

		joinTable, joinColumn := markupChildJoin(row.ParentType)
		var memberIds []int
		err := tx.Table(joinTable).
			Where("markup_id = ?", row.ID).
			Pluck(joinColumn, &memberIds).Error
		if err != nil {
			return err
		}
		memberMap := c.subAccountMap
		if row.ParentType == ParentKindBudget {
			memberMap = c.accountMap
		}
		for _, memberId := range memberIds {
			newMemberId, ok := memberMap[memberId]
			if !ok {
				continue
			}
			if err := tx.Exec("INSERT INTO "+joinTable+" (markup_id, "+joinColumn+") VALUES (?, ?)", clone.ID, newMemberId).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *treeCopy) copyActuals(tx *gorm.DB) error {
	var rows []*Actual
	err := tx.Where("budget_id = ?", c.source.ID).
		Order("order_key").
		Find(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		clone := &Actual{
			BudgetId:      c.target.ID,
			OrderKey:      row.OrderKey,
			Name:          row.Name,
			Notes:         row.Notes,
			Value:         row.Value,
			Date:          row.Date,
			ContactId:     row.ContactId,
			PaymentMethod: row.PaymentMethod,
			PurchaseOrder: row.PurchaseOrder,
			PaymentId:     row.PaymentId,
			ImportSource:  row.ImportSource,
			CreatedById:   c.target.CreatedById,
		}
		if row.OwnerType != nil && row.OwnerId != nil {
			ownerMap := c.subAccountMap
			if *row.OwnerType == OwnerKindMarkup {
				ownerMap = c.markupMap
			}
			if newOwnerId, ok := ownerMap[*row.OwnerId]; ok {
				ownerType := *row.OwnerType
				clone.OwnerType = &ownerType
				clone.OwnerId = &newOwnerId
			}
		}
		if err := tx.Create(clone).Error; err != nil {
			return err
		}
	}
	return nil
}
