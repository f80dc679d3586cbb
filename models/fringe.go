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

// Fringe is a percent or flat adjustment owned by a budget and applied to
// the realized value of leaf sub-accounts that reference it. A percent
// fringe's cutoff, when set, caps the base the rate applies to.
type Fringe struct {
	ID          int              `gorm:"primary_key" json:"id"`
	BudgetId    int              `gorm:"index;not null" json:"budget_id"`
	Name        string           `gorm:"size:128;not null" json:"name" binding:"required"`
	Unit        *AdjustmentUnit  `gorm:"size:10" json:"unit"`
	Rate        *decimal.Decimal `gorm:"type:decimal(20,8)" json:"rate"`
	Cutoff      *decimal.Decimal `gorm:"type:decimal(20,8)" json:"cutoff"`
	Color       string           `gorm:"size:10" json:"color"`
	Description string           `gorm:"size:255" json:"description"`
	CreatedById int              `gorm:"index;not null" json:"created_by_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (f Fringe) GetCreatedById() int {
	return f.CreatedById
}

func (f *Fringe) AdjustmentUnit() *AdjustmentUnit {
	return f.Unit
}

func (f *Fringe) AdjustmentRate() *decimal.Decimal {
	return f.Rate
}

func (f *Fringe) AdjustmentCutoff() *decimal.Decimal {
	return f.Cutoff
}

type NewFringe struct {
	Name        string           `json:"name" binding:"required"`
	Unit        *AdjustmentUnit  `json:"unit"`
	Rate        *decimal.Decimal `json:"rate"`
	Cutoff      *decimal.Decimal `json:"cutoff"`
	Color       string           `json:"color"`
	Description string           `json:"description"`
}

func (input *NewFringe) validate(ctx context.Context, budgetId int, id int) error {
	if input.Name == "" {
		return structuralError("fringe name is required")
	}
	if err := utils.ValidateUniqueWhere[Fringe](ctx, "name", input.Name, id, "budget_id = ?", budgetId); err != nil {
		return structuralError("fringe name %q already used in budget %d", input.Name, budgetId)
	}
	if input.Unit != nil && *input.Unit != UnitPercent && *input.Unit != UnitFlat {
		return structuralError("fringe unit must be percent or flat, got %q", *input.Unit)
	}
	return nil
}

func (input *NewFringe) build(budget *Budget) *Fringe {
	return &Fringe{
		BudgetId:    budget.ID,
		Name:        input.Name,
		Unit:        input.Unit,
		Rate:        input.Rate,
		Cutoff:      input.Cutoff,
		Color:       input.Color,
		Description: input.Description,
		CreatedById: budget.CreatedById,
	}
}

func CreateFringe(ctx context.Context, budgetId int, input *NewFringe) (*Fringe, error) {
	fringes, err := BulkCreateFringes(ctx, budgetId, []*NewFringe{input})
	if err != nil {
		return nil, err
	}
	return fringes[0], nil
}

func UpdateFringe(ctx context.Context, id int, input *NewFringe) (*Fringe, error) {
	fringes, err := BulkUpdateFringes(ctx, []*FringeUpdate{{Id: id, Fields: input}})
	if err != nil {
		return nil, err
	}
	return fringes[0], nil
}

func DeleteFringe(ctx context.Context, id int) (*Fringe, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	fringe, err := utils.FetchModel[Fringe](ctx, userId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrorConcurrentDeletion
		}
		return nil, err
	}
	if err := BulkDeleteFringes(ctx, fringe.BudgetId, []int{id}); err != nil {
		return nil, err
	}
	return fringe, nil
}

func GetFringe(ctx context.Context, id int) (*Fringe, error) {
	return GetResource[Fringe](ctx, id)
}

func GetFringes(ctx context.Context, budgetId int, search string) ([]*Fringe, error) {
	db := config.GetDB()
	var results []*Fringe
	dbCtx := db.WithContext(ctx).
		Where("budget_id = ?", budgetId)
	if search != "" {
		pattern := "%" + search + "%"
		dbCtx = dbCtx.Where("name LIKE ? OR description LIKE ?", pattern, pattern)
	}
	err := dbCtx.Order("name").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// fringesForSubAccount loads the fringes applied to a leaf, excluding any
// pending deletions.
func fringesForSubAccount(ctx context.Context, tx *gorm.DB, subAccountId int, excludeIds []int) ([]*Fringe, error) {
	var fringes []*Fringe
	dbCtx := tx.WithContext(ctx).
		Joins("JOIN sub_account_fringes saf ON saf.fringe_id = fringes.id").
		Where("saf.sub_account_id = ?", subAccountId)
	if len(excludeIds) > 0 {
		dbCtx = dbCtx.Where("fringes.id NOT IN ?", excludeIds)
	}
	if err := dbCtx.Find(&fringes).Error; err != nil {
		return nil, err
	}
	return fringes, nil
}

// subAccountIdsUsingFringes returns the leaf rows referencing any of the
// given fringes; a fringe edit reprices exactly those rows.
func subAccountIdsUsingFringes(ctx context.Context, tx *gorm.DB, fringeIds []int) ([]int, error) {
	if len(fringeIds) == 0 {
		return nil, nil
	}
	var ids []int
	err := tx.WithContext(ctx).
		Table("sub_account_fringes").
		Where("fringe_id IN ?", fringeIds).
		Distinct("sub_account_id").
		Pluck("sub_account_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
