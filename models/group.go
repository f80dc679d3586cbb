package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/utils"
	"gorm.io/gorm"
)

// Group is a named, colored cluster of sibling rows. It affects display
// order only; metrics ignore it. A group with zero children never
// survives the end of a transaction (the reaper removes it).
type Group struct {
	ID          int        `gorm:"primary_key" json:"id"`
	BudgetId    int        `gorm:"index;not null" json:"budget_id"`
	ParentType  ParentKind `gorm:"size:12;index:idx_group_parent;not null" json:"parent_type"`
	ParentId    int        `gorm:"index:idx_group_parent;not null" json:"parent_id"`
	Name        string     `gorm:"size:128;not null" json:"name" binding:"required"`
	Color       string     `gorm:"size:10" json:"color"`
	CreatedById int        `gorm:"index;not null" json:"created_by_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (g Group) GetCreatedById() int {
	return g.CreatedById
}

type NewGroup struct {
	Name        string `json:"name" binding:"required"`
	Color       string `json:"color"`
	ChildrenIds []int  `json:"children_ids"`
}

func (input *NewGroup) validate(ctx context.Context, parentType ParentKind, parentId int, id int) error {
	if input.Name == "" {
		return structuralError("group name is required")
	}
	cond := "parent_type = ? AND parent_id = ?"
	if err := utils.ValidateUniqueWhere[Group](ctx, "name", input.Name, id, cond, parentType, parentId); err != nil {
		return structuralError("group name %q already used under %s %d", input.Name, parentType, parentId)
	}
	if len(input.ChildrenIds) == 0 {
		return structuralError("a group requires at least one child")
	}
	return validateGroupChildren(ctx, parentType, parentId, input.ChildrenIds)
}

// CreateGroup creates the group and re-points each child row's group FK.
// Sibling groups emptied by the membership change are reaped in the same
// transaction.
func CreateGroup(ctx context.Context, parentType ParentKind, parentId int, input *NewGroup) (*Group, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	budget, err := markupParentBudget(ctx, userId, parentType, parentId)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, parentType, parentId, 0); err != nil {
		return nil, err
	}

	group := &Group{
		BudgetId:    budget.ID,
		ParentType:  parentType,
		ParentId:    parentId,
		Name:        input.Name,
		Color:       input.Color,
		CreatedById: budget.CreatedById,
	}

	db := config.GetDB()
	tx := db.WithContext(utils.SuppressRecalcInContext(ctx)).Begin()
	if err := tx.Create(group).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	memberIds, err := assignGroupMembers(tx, group, input.ChildrenIds)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	reapedIds, err := ReapEmptyGroups(tx, budget.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	refs := []InstanceRef{groupRef(group.ID), parentRef(parentType, parentId), budgetRef(budget.ID)}
	refs = append(refs, groupMemberRefs(parentType, memberIds)...)
	refs = append(refs, groupRefs(reapedIds)...)
	invalidateRelatedCache(refs...)
	return group, nil
}

func UpdateGroup(ctx context.Context, id int, input *NewGroup) (*Group, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	group, err := utils.FetchModel[Group](ctx, userId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, group.ParentType, group.ParentId, id); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(utils.SuppressRecalcInContext(ctx)).Begin()
	updates := map[string]interface{}{
		"Name":  input.Name,
		"Color": input.Color,
	}
	if err := tx.Model(group).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	memberIds, err := assignGroupMembers(tx, group, input.ChildrenIds)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	reapedIds, err := ReapEmptyGroups(tx, group.BudgetId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	refs := []InstanceRef{groupRef(group.ID), parentRef(group.ParentType, group.ParentId), budgetRef(group.BudgetId)}
	refs = append(refs, groupMemberRefs(group.ParentType, memberIds)...)
	refs = append(refs, groupRefs(reapedIds)...)
	invalidateRelatedCache(refs...)
	return group, nil
}

func DeleteGroup(ctx context.Context, id int) (*Group, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	group, err := utils.FetchModel[Group](ctx, userId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrorConcurrentDeletion
		}
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(utils.SuppressRecalcInContext(ctx)).Begin()
	// members fall back to ungrouped; metrics are unaffected
	var memberIds []int
	if err := tx.Model(&Account{}).Where("group_id = ?", id).Pluck("id", &memberIds).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Model(&Account{}).Where("group_id = ?", id).Update("group_id", nil).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	var subMemberIds []int
	if err := tx.Model(&SubAccount{}).Where("group_id = ?", id).Pluck("id", &subMemberIds).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Model(&SubAccount{}).Where("group_id = ?", id).Update("group_id", nil).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Delete(group).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	refs := []InstanceRef{groupRef(group.ID), parentRef(group.ParentType, group.ParentId), budgetRef(group.BudgetId)}
	for _, memberId := range memberIds {
		refs = append(refs, accountRef(memberId))
	}
	for _, memberId := range subMemberIds {
		refs = append(refs, subAccountRef(memberId))
	}
	invalidateRelatedCache(refs...)
	return group, nil
}

func GetGroup(ctx context.Context, id int) (*Group, error) {
	return GetResource[Group](ctx, id)
}

func GetGroups(ctx context.Context, parentType ParentKind, parentId int) ([]*Group, error) {
	db := config.GetDB()
	var results []*Group
	err := db.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ?", parentType, parentId).
		Order("name").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// assignGroupMembers points each child row's group FK at the group and
// clears it from rows no longer listed. Returns every id whose
// membership was touched, removed rows included, so the caller can
// invalidate their cache entries.
func assignGroupMembers(tx *gorm.DB, group *Group, childrenIds []int) ([]int, error) {
	ids := utils.UniqueSlice(childrenIds)
	model := any(&SubAccount{})
	if group.ParentType == ParentKindBudget {
		model = &Account{}
	}
	var removed []int
	if err := tx.Model(model).Where("group_id = ? AND id NOT IN ?", group.ID, ids).Pluck("id", &removed).Error; err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		if err := tx.Model(model).Where("id IN ?", removed).Update("group_id", nil).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Model(model).Where("id IN ?", ids).Update("group_id", group.ID).Error; err != nil {
		return nil, err
	}
	return append(removed, ids...), nil
}

// groupMemberRefs maps member row ids to cache refs by the owning
// group's parent kind.
func groupMemberRefs(parentType ParentKind, memberIds []int) []InstanceRef {
	refs := make([]InstanceRef, 0, len(memberIds))
	for _, id := range memberIds {
		if parentType == ParentKindBudget {
			refs = append(refs, accountRef(id))
		} else {
			refs = append(refs, subAccountRef(id))
		}
	}
	return refs
}

func groupRefs(ids []int) []InstanceRef {
	refs := make([]InstanceRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, groupRef(id))
	}
	return refs
}
