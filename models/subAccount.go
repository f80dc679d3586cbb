package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SubAccount is the recursive level below an Account. Its parent is
// polymorphic: either an Account or another SubAccount, tagged by
// ParentType. Leaves carry the raw quantity*rate*multiplier value; nodes
// with children aggregate.
type SubAccount struct {
	ID          int        `gorm:"primary_key" json:"id"`
	BudgetId    int        `gorm:"index;not null" json:"budget_id"`
	ParentType  ParentKind `gorm:"size:12;index:idx_sub_account_parent;uniqueIndex:idx_sub_account_parent_order;not null" json:"parent_type"`
	ParentId    int        `gorm:"index:idx_sub_account_parent;uniqueIndex:idx_sub_account_parent_order;not null" json:"parent_id"`
	Identifier  string     `gorm:"size:128" json:"identifier"`
	Description string     `gorm:"size:255" json:"description"`
	OrderKey    string     `gorm:"size:64;uniqueIndex:idx_sub_account_parent_order;not null" json:"order_key"`
	GroupId     *int       `gorm:"index" json:"group_id"`
	ContactId   *int       `gorm:"index" json:"contact_id"`
	CreatedById int        `gorm:"index;not null" json:"created_by_id"`

	Quantity   *decimal.Decimal `gorm:"type:decimal(20,8)" json:"quantity"`
	Rate       *decimal.Decimal `gorm:"type:decimal(20,8)" json:"rate"`
	Multiplier *decimal.Decimal `gorm:"type:decimal(20,8)" json:"multiplier"`
	Unit       *string          `gorm:"size:32" json:"unit"`

	Actual                        decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"actual"`
	AccumulatedValue              decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"accumulated_value"`
	FringeContribution            decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"fringe_contribution"`
	MarkupContribution            decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"markup_contribution"`
	AccumulatedFringeContribution decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"accumulated_fringe_contribution"`
	AccumulatedMarkupContribution decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"accumulated_markup_contribution"`

	// fringes applied to this row (leaf rows only; ignored once the row
	// has children)
	Fringes []*Fringe `gorm:"many2many:sub_account_fringes" json:"fringes,omitempty"`
	// percent markups this row is a member of
	Markups []*Markup `gorm:"many2many:markup_sub_accounts" json:"markups,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// transient: set when the recomputer has already seen this node's
	// children, so parents don't re-query
	childrenKnown bool `gorm:"-"`
	childrenEmpty bool `gorm:"-"`
}

func (s SubAccount) GetCreatedById() int {
	return s.CreatedById
}

func (s *SubAccount) TableKey() TableKey {
	return SubAccountTableKey(s.ParentType, s.ParentId)
}

func (s *SubAccount) GetOrderKey() string {
	return s.OrderKey
}

func (s *SubAccount) SetOrderKey(key string) {
	s.OrderKey = key
}

// RawValue is (quantity or 0)*(rate or 0)*(multiplier or 1). Only
// meaningful for leaves.
func (s *SubAccount) RawValue() decimal.Decimal {
	multiplier := decimal.NewFromInt(1)
	if s.Multiplier != nil {
		multiplier = *s.Multiplier
	}
	return utils.DecimalOrZero(s.Quantity).
		Mul(utils.DecimalOrZero(s.Rate)).
		Mul(multiplier)
}

// HasChildren answers from the transient cache when the recomputer has
// already walked this node, falling back to a count query.
func (s *SubAccount) HasChildren(ctx context.Context, tx *gorm.DB) (bool, error) {
	if s.childrenKnown {
		return !s.childrenEmpty, nil
	}
	var count int64
	err := tx.WithContext(ctx).Model(&SubAccount{}).
		Where("parent_type = ? AND parent_id = ?", ParentKindSubAccount, s.ID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	s.childrenKnown = true
	s.childrenEmpty = count == 0
	return count > 0, nil
}

func (s *SubAccount) markChildren(children []*SubAccount) {
	s.childrenKnown = true
	s.childrenEmpty = len(children) == 0
}

// NominalValue is the raw value for a leaf, the accumulated value once
// children exist.
func (s *SubAccount) NominalValue(ctx context.Context, tx *gorm.DB) (decimal.Decimal, error) {
	hasChildren, err := s.HasChildren(ctx, tx)
	if err != nil {
		return decimal.Zero, err
	}
	if hasChildren {
		return s.AccumulatedValue, nil
	}
	return s.RawValue(), nil
}

func (s *SubAccount) realizedValue(nominal decimal.Decimal) decimal.Decimal {
	return nominal.
		Add(s.AccumulatedFringeContribution).
		Add(s.AccumulatedMarkupContribution)
}

func (s *SubAccount) EstimatedValue(ctx context.Context, tx *gorm.DB) (decimal.Decimal, error) {
	nominal, err := s.NominalValue(ctx, tx)
	if err != nil {
		return decimal.Zero, err
	}
	return s.realizedValue(nominal).Add(s.FringeContribution).Add(s.MarkupContribution), nil
}

type NewSubAccount struct {
	Identifier  string           `json:"identifier"`
	Description string           `json:"description"`
	Quantity    *decimal.Decimal `json:"quantity"`
	Rate        *decimal.Decimal `json:"rate"`
	Multiplier  *decimal.Decimal `json:"multiplier"`
	Unit        *string          `json:"unit"`
	OrderKey    string           `json:"order_key"`
	GroupId     *int             `json:"group_id"`
	ContactId   *int             `json:"contact_id"`
	FringeIds   []int            `json:"fringe_ids"`
}

func (input *NewSubAccount) validate(ctx context.Context, budget *Budget, parentType ParentKind, parentId int) error {
	if input.OrderKey != "" {
		if err := ValidateOrderKey(input.OrderKey); err != nil {
			return err
		}
	}
	if input.GroupId != nil {
		if err := validateGroupParent(ctx, *input.GroupId, parentType, parentId); err != nil {
			return err
		}
	}
	if len(input.FringeIds) > 0 {
		if err := validateFringesBudget(ctx, input.FringeIds, budget.ID); err != nil {
			return err
		}
	}
	if input.ContactId != nil {
		if err := validateContactOwner(ctx, *input.ContactId, budget.CreatedById); err != nil {
			return err
		}
	}
	return nil
}

func (input *NewSubAccount) build(budget *Budget, parentType ParentKind, parentId int) *SubAccount {
	return &SubAccount{
		BudgetId:    budget.ID,
		ParentType:  parentType,
		ParentId:    parentId,
		Identifier:  input.Identifier,
		Description: input.Description,
		Quantity:    input.Quantity,
		Rate:        input.Rate,
		Multiplier:  input.Multiplier,
		Unit:        input.Unit,
		OrderKey:    input.OrderKey,
		GroupId:     input.GroupId,
		ContactId:   input.ContactId,
		CreatedById: budget.CreatedById,
	}
}

func CreateSubAccount(ctx context.Context, parentType ParentKind, parentId int, input *NewSubAccount) (*SubAccount, error) {
	rows, err := BulkCreateSubAccounts(ctx, parentType, parentId, []*NewSubAccount{input})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func UpdateSubAccount(ctx context.Context, id int, input *NewSubAccount) (*SubAccount, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	row, err := utils.FetchModel[SubAccount](ctx, userId, id)
	if err != nil {
		return nil, err
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, row.BudgetId)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, budget, row.ParentType, row.ParentId); err != nil {
		return nil, err
	}

	oldGroupId := row.GroupId

	updates := map[string]interface{}{
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
		updates["OrderKey"] = input.OrderKey
	}

	db := config.GetDB()
	tx := db.WithContext(utils.SuppressRecalcInContext(ctx)).Begin()
	if err := tx.Model(row).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if input.FringeIds != nil {
		if err := replaceSubAccountFringes(tx, row.ID, input.FringeIds); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if _, err := row.Calculate(ctx, tx, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
		tx.Rollback()
		return nil, err
	}
	var reapedGroupIds []int
	if groupChanged(oldGroupId, input.GroupId) {
		reapedGroupIds, err = ReapEmptyGroups(tx, budget.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := stampBudgetUpdated(ctx, tx, budget.ID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	refs := []InstanceRef{subAccountRef(row.ID), parentRef(row.ParentType, row.ParentId), budgetRef(budget.ID)}
	refs = append(refs, groupRefs(reapedGroupIds)...)
	invalidateRelatedCache(refs...)
	return row, nil
}

func DeleteSubAccount(ctx context.Context, id int) (*SubAccount, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	row, err := utils.FetchModel[SubAccount](ctx, userId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrorConcurrentDeletion
		}
		return nil, err
	}
	if err := BulkDeleteSubAccounts(ctx, row.ParentType, row.ParentId, []int{id}); err != nil {
		return nil, err
	}
	return row, nil
}

func GetSubAccount(ctx context.Context, id int) (*SubAccount, error) {
	return GetResource[SubAccount](ctx, id)
}

// GetSubAccounts lists the children of an account or sub-account in table
// order, group-aware when withGroups is set. A non-empty search narrows
// to rows matching on identifier or description.
func GetSubAccounts(ctx context.Context, parentType ParentKind, parentId int, withGroups bool, search string) ([]*SubAccount, error) {
	if parentType != ParentKindAccount && parentType != ParentKindSubAccount {
		return nil, structuralError("sub-account parent must be an account or sub-account, got %q", parentType)
	}
	db := config.GetDB()
	var rows []*SubAccount
	dbCtx := db.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ?", parentType, parentId)
	if search != "" {
		pattern := "%" + search + "%"
		dbCtx = dbCtx.Where("identifier LIKE ? OR description LIKE ?", pattern, pattern)
	}
	err := dbCtx.Order("order_key").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if !withGroups {
		return rows, nil
	}
	return orderWithGroups(rows, func(s *SubAccount) *int { return s.GroupId }, func(s *SubAccount) string { return s.OrderKey }), nil
}

func replaceSubAccountFringes(tx *gorm.DB, subAccountId int, fringeIds []int) error {
	if err := tx.Exec("DELETE FROM sub_account_fringes WHERE sub_account_id = ?", subAccountId).Error; err != nil {
		return err
	}
	for _, fringeId := range utils.UniqueSlice(fringeIds) {
		if err := tx.Exec("INSERT INTO sub_account_fringes (sub_account_id, fringe_id) VALUES (?, ?)", subAccountId, fringeId).Error; err != nil {
			return err
		}
	}
	return nil
}

// subAccountParentBudget resolves the budget a new child row belongs to by
// walking the polymorphic parent pointer.
func subAccountParentBudget(ctx context.Context, userId int, parentType ParentKind, parentId int) (*Budget, error) {
	switch parentType {
	case ParentKindAccount:
		account, err := utils.FetchModel[Account](ctx, userId, parentId)
		if err != nil {
			return nil, err
		}
		return utils.FetchModel[Budget](ctx, userId, account.BudgetId)
	case ParentKindSubAccount:
		row, err := utils.FetchModel[SubAccount](ctx, userId, parentId)
		if err != nil {
			return nil, err
		}
		return utils.FetchModel[Budget](ctx, userId, row.BudgetId)
	}
	return nil, structuralError("sub-account parent must be an account or sub-account, got %q", parentType)
}
