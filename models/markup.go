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

// Markup is an adjustment applied over fringes. A percent markup owns a
// set of sibling rows (accounts or sub-accounts, all sharing the markup's
// parent) and contributes rate*value into each member's
// markup_contribution. A flat markup stands alone: its rate lands in the
// parent's accumulated_markup_contribution, and in the budget domain it
// can own recorded actuals.
type Markup struct {
	ID          int              `gorm:"primary_key" json:"id"`
	BudgetId    int              `gorm:"index;not null" json:"budget_id"`
	ParentType  ParentKind       `gorm:"size:12;index:idx_markup_parent;not null" json:"parent_type"`
	ParentId    int              `gorm:"index:idx_markup_parent;not null" json:"parent_id"`
	Identifier  string           `gorm:"size:128" json:"identifier"`
	Description string           `gorm:"size:255" json:"description"`
	Unit        *AdjustmentUnit  `gorm:"size:10" json:"unit"`
	Rate        *decimal.Decimal `gorm:"type:decimal(20,8)" json:"rate"`
	CreatedById int              `gorm:"index;not null" json:"created_by_id"`

	// sum of owned actuals; only flat markups own actuals
	Actual decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"actual"`

	Accounts    []*Account    `gorm:"many2many:markup_accounts" json:"accounts,omitempty"`
	SubAccounts []*SubAccount `gorm:"many2many:markup_sub_accounts" json:"sub_accounts,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m Markup) GetCreatedById() int {
	return m.CreatedById
}

func (m *Markup) TableKey() TableKey {
	return MarkupTableKey(m.ParentType, m.ParentId)
}

func (m *Markup) AdjustmentUnit() *AdjustmentUnit {
	return m.Unit
}

func (m *Markup) AdjustmentRate() *decimal.Decimal {
	return m.Rate
}

func (m *Markup) AdjustmentCutoff() *decimal.Decimal {
	return nil
}

func (m *Markup) IsPercent() bool {
	return m.Unit != nil && *m.Unit == UnitPercent
}

func (m *Markup) IsFlat() bool {
	return m.Unit != nil && *m.Unit == UnitFlat
}

type NewMarkup struct {
	Identifier    string           `json:"identifier"`
	Description   string           `json:"description"`
	Unit          *AdjustmentUnit  `json:"unit"`
	Rate          *decimal.Decimal `json:"rate"`
	ChildrenIds   []int            `json:"children_ids"`
}

func (input *NewMarkup) validate(ctx context.Context, parentType ParentKind, parentId int) error {
	if input.Unit == nil {
		return structuralError("markup unit is required")
	}
	if *input.Unit != UnitPercent && *input.Unit != UnitFlat {
		return structuralError("markup unit must be percent or flat, got %q", *input.Unit)
	}
	if *input.Unit == UnitFlat && len(input.ChildrenIds) > 0 {
		return structuralError("flat markups cannot have children")
	}
	if *input.Unit == UnitPercent && len(input.ChildrenIds) == 0 {
		return structuralError("percent markups require at least one child")
	}
	// every child must share the markup's parent
	if len(input.ChildrenIds) > 0 {
		if err := validateMarkupChildren(ctx, parentType, parentId, input.ChildrenIds); err != nil {
			return err
		}
	}
	return nil
}

// CreateMarkup creates a markup under the given parent. Percent markups
// immediately reprice each member row; flat markups reprice the parent.
func CreateMarkup(ctx context.Context, parentType ParentKind, parentId int, input *NewMarkup) (*Markup, error) {
	rows, err := BulkCreateMarkups(ctx, parentType, parentId, []*NewMarkup{input})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func UpdateMarkup(ctx context.Context, id int, input *NewMarkup) (*Markup, error) {
	rows, err := BulkUpdateMarkups(ctx, []*MarkupUpdate{{Id: id, Fields: input}})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func DeleteMarkup(ctx context.Context, id int) (*Markup, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	markup, err := utils.FetchModel[Markup](ctx, userId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrorConcurrentDeletion
		}
		return nil, err
	}
	if err := BulkDeleteMarkups(ctx, markup.ParentType, markup.ParentId, []int{id}); err != nil {
		return nil, err
	}
	return markup, nil
}

func GetMarkup(ctx context.Context, id int) (*Markup, error) {
	return GetResource[Markup](ctx, id)
}

func GetMarkups(ctx context.Context, parentType ParentKind, parentId int, search string) ([]*Markup, error) {
	db := config.GetDB()
	var results []*Markup
	dbCtx := db.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ?", parentType, parentId)
	if search != "" {
		pattern := "%" + search + "%"
		dbCtx = dbCtx.Where("identifier LIKE ? OR description LIKE ?", pattern, pattern)
	}
	err := dbCtx.Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// replaceMarkupChildren rewrites the membership join rows. Members are
// accounts when the markup hangs off a budget, sub-accounts otherwise.
func replaceMarkupChildren(tx *gorm.DB, markup *Markup, childrenIds []int) error {
	table, column := markupChildJoin(markup.ParentType)
	if err := tx.Exec("DELETE FROM "+table+" WHERE markup_id = ?", markup.ID).Error; err != nil {
		return err
	}
	for _, childId := range utils.UniqueSlice(childrenIds) {
		if err := tx.Exec("INSERT INTO "+table+" (markup_id, "+column+") VALUES (?, ?)", markup.ID, childId).Error; err != nil {
			return err
		}
	}
	return nil
}

// markupMemberRefs maps member row ids to cache refs by the owning
// markup's parent kind.
func markupMemberRefs(parentType ParentKind, memberIds []int) []InstanceRef {
	memberIds = utils.UniqueSlice(memberIds)
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

func markupRefs(ids []int) []InstanceRef {
	refs := make([]InstanceRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, markupRef(id))
	}
	return refs
}

func markupChildJoin(parentType ParentKind) (table string, column string) {
	if parentType == ParentKindBudget {
		return "markup_accounts", "account_id"
	}
	return "markup_sub_accounts", "sub_account_id"
}

// recomputeMarkupMembers reprices the rows a markup change touched:
// accounts when the markups hang off a budget, sub-accounts otherwise.
// Rows removed from a markup need this as much as rows added to one.
func recomputeMarkupMembers(ctx context.Context, tx *gorm.DB, parentType ParentKind, memberIds []int) error {
	memberIds = utils.UniqueSlice(memberIds)
	if len(memberIds) == 0 {
		return nil
	}
	if parentType == ParentKindBudget {
		var rows []*Account
		if err := tx.WithContext(ctx).Where("id IN ?", memberIds).Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			if _, err := row.Calculate(ctx, tx, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
				return err
			}
		}
		return nil
	}
	var rows []*SubAccount
	if err := tx.WithContext(ctx).Where("id IN ?", memberIds).Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := row.Calculate(ctx, tx, &RecomputeOptions{Commit: true, Trickle: true}); err != nil {
			return err
		}
	}
	return nil
}

// markupActuals loads the actuals owned by a markup, excluding pending
// deletions.
func markupActuals(ctx context.Context, tx *gorm.DB, markupId int, excludeIds []int) ([]*Actual, error) {
	var rows []*Actual
	dbCtx := tx.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", OwnerKindMarkup, markupId)
	if len(excludeIds) > 0 {
		dbCtx = dbCtx.Where("id NOT IN ?", excludeIds)
	}
	if err := dbCtx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Actualize recomputes the markup's recorded spend from its owned
// actuals. Returns true when the stored value changed.
func (m *Markup) Actualize(ctx context.Context, tx *gorm.DB, opts *RecomputeOptions) (bool, error) {
	rows, err := markupActuals(ctx, tx, m.ID, opts.ActualsToDelete)
	if err != nil {
		return false, err
	}
	total := decimal.Zero
	for _, row := range rows {
		if row.Value != nil {
			total = total.Add(*row.Value)
		}
	}
	if total.Equal(m.Actual) {
		return false, nil
	}
	m.Actual = total
	if opts.Commit {
		if err := tx.WithContext(ctx).Model(m).UpdateColumn("Actual", m.Actual).Error; err != nil {
			return false, err
		}
	}
	if opts.Trickle {
		if err := recomputeParent(ctx, tx, m.ParentType, m.ParentId, &RecomputeOptions{Commit: opts.Commit, Trickle: true}); err != nil {
			return true, err
		}
	}
	return true, nil
}

func markupParentBudget(ctx context.Context, userId int, parentType ParentKind, parentId int) (*Budget, error) {
	switch parentType {
	case ParentKindBudget:
		return utils.FetchModel[Budget](ctx, userId, parentId)
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
	return nil, structuralError("invalid markup parent kind %q", parentType)
}

// flatChildMarkups loads the flat markups whose parent is the given node,
// excluding pending deletions. Their rates roll into the parent's
// accumulated markup contribution.
func flatChildMarkups(ctx context.Context, tx *gorm.DB, parentType ParentKind, parentId int, excludeIds []int) ([]*Markup, error) {
	var rows []*Markup
	dbCtx := tx.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ? AND unit = ?", parentType, parentId, UnitFlat)
	if len(excludeIds) > 0 {
		dbCtx = dbCtx.Where("id NOT IN ?", excludeIds)
	}
	if err := dbCtx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// percentMarkupsForRow loads the percent markups a row belongs to,
// excluding pending deletions.
func percentMarkupsForRow(ctx context.Context, tx *gorm.DB, joinTable string, joinColumn string, rowId int, excludeIds []int) ([]*Markup, error) {
	var rows []*Markup
	dbCtx := tx.WithContext(ctx).
		Joins("JOIN "+joinTable+" mj ON mj.markup_id = markups.id").
		Where("mj."+joinColumn+" = ? AND markups.unit = ?", rowId, UnitPercent)
	if len(excludeIds) > 0 {
		dbCtx = dbCtx.Where("markups.id NOT IN ?", excludeIds)
	}
	if err := dbCtx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
