package models

import (
	"context"
	"errors"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/utils"
	"gorm.io/gorm"
)

// validateGroupParent checks that a group referenced by a row belongs to the
// same parent node the row belongs to. A group on one account cannot be
// assigned to a sub-account of another.
func validateGroupParent(ctx context.Context, groupId int, parentType ParentKind, parentId int) error {
	group, err := utils.FetchSingleModel[Group](ctx, groupId)
	if err != nil {
		return structuralError("group %d not found", groupId)
	}
	if group.ParentType != parentType || group.ParentId != parentId {
		return structuralError("group %d belongs to %s %d, not %s %d", groupId, group.ParentType, group.ParentId, parentType, parentId)
	}
	return nil
}

// validateFringesBudget checks that every referenced fringe lives on the
// given budget.
func validateFringesBudget(ctx context.Context, fringeIds []int, budgetId int) error {
	fringeIds = utils.UniqueSlice(fringeIds)
	if len(fringeIds) == 0 {
		return nil
	}
	var count int64
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&Fringe{}).
		Where("id IN ? AND budget_id = ?", fringeIds, budgetId).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count != int64(len(fringeIds)) {
		return structuralError("one or more fringes do not belong to budget %d", budgetId)
	}
	return nil
}

// validateContactOwner checks that a referenced contact belongs to the same
// user that owns the budget tree.
func validateContactOwner(ctx context.Context, contactId int, createdById int) error {
	contact, err := utils.FetchSingleModel[Contact](ctx, contactId)
	if err != nil {
		return structuralError("contact %d not found", contactId)
	}
	if contact.CreatedById != createdById {
		return structuralError("contact %d does not belong to the budget owner", contactId)
	}
	return nil
}

// validateActualOwner checks that the owner of an actual lives inside the
// budget the actual is attached to. Markup owners must also be flat:
// percent markups have no spend of their own to record.
func validateActualOwner(ctx context.Context, ownerType OwnerKind, ownerId int, budgetId int) error {
	db := config.GetDB()
	switch ownerType {
	case OwnerKindSubAccount:
		var count int64
		err := db.WithContext(ctx).Model(&SubAccount{}).
			Where("id = ? AND budget_id = ?", ownerId, budgetId).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count == 0 {
			return structuralError("%s %d does not belong to budget %d", ownerType, ownerId, budgetId)
		}
		return nil
	case OwnerKindMarkup:
		var markup Markup
		err := db.WithContext(ctx).
			Where("id = ? AND budget_id = ?", ownerId, budgetId).
			First(&markup).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return structuralError("%s %d does not belong to budget %d", ownerType, ownerId, budgetId)
			}
			return err
		}
		if !markup.IsFlat() {
			return structuralError("markup %d is not flat and cannot own actuals", ownerId)
		}
		return nil
	}
	return structuralError("invalid actual owner kind %q", ownerType)
}

// validateMarkupChildren checks that every child of a percent markup is a
// direct child row of the markup's own parent node.
func validateMarkupChildren(ctx context.Context, parentType ParentKind, parentId int, childrenIds []int) error {
	childrenIds = utils.UniqueSlice(childrenIds)
	if len(childrenIds) == 0 {
		return nil
	}
	db := config.GetDB()
	var count int64
	if parentType == ParentKindBudget {
		err := db.WithContext(ctx).Model(&Account{}).
			Where("id IN ? AND budget_id = ?", childrenIds, parentId).
			Count(&count).Error
		if err != nil {
			return err
		}
	} else {
		err := db.WithContext(ctx).Model(&SubAccount{}).
			Where("id IN ? AND parent_type = ? AND parent_id = ?", childrenIds, parentType, parentId).
			Count(&count).Error
		if err != nil {
			return err
		}
	}
	if count != int64(len(childrenIds)) {
		return structuralError("one or more markup children are not direct children of %s %d", parentType, parentId)
	}
	return nil
}

// validateGroupChildren checks that every row assigned to a group is a direct
// child row of the group's parent node.
func validateGroupChildren(ctx context.Context, parentType ParentKind, parentId int, childrenIds []int) error {
	childrenIds = utils.UniqueSlice(childrenIds)
	if len(childrenIds) == 0 {
		return nil
	}
	db := config.GetDB()
	var count int64
	if parentType == ParentKindBudget {
		err := db.WithContext(ctx).Model(&Account{}).
			Where("id IN ? AND budget_id = ?", childrenIds, parentId).
			Count(&count).Error
		if err != nil {
			return err
		}
	} else {
		err := db.WithContext(ctx).Model(&SubAccount{}).
			Where("id IN ? AND parent_type = ? AND parent_id = ?", childrenIds, parentType, parentId).
			Count(&count).Error
		if err != nil {
			return err
		}
	}
	if count != int64(len(childrenIds)) {
		return structuralError("one or more group children are not direct children of %s %d", parentType, parentId)
	}
	return nil
}
