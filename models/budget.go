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

// Budget is the root of a tree of accounts and sub-accounts. The same
// table holds both domains: real productions (domain=budget, with
// recorded spend) and reusable templates (domain=template, no spend).
type Budget struct {
	ID          int          `gorm:"primary_key" json:"id"`
	Domain      BudgetDomain `gorm:"size:10;index;not null;default:'budget'" json:"domain"`
	Name        string       `gorm:"size:128;not null" json:"name" binding:"required"`
	CreatedById int          `gorm:"index;not null" json:"created_by_id"`
	IsTrashed   *bool        `gorm:"not null;default:false" json:"is_trashed"`
	IsPublic    *bool        `gorm:"not null;default:false" json:"is_public"`
	ImagePath   string       `gorm:"size:255" json:"image_path"`

	Actual                        decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"actual"`
	AccumulatedValue              decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"accumulated_value"`
	AccumulatedFringeContribution decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"accumulated_fringe_contribution"`
	AccumulatedMarkupContribution decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"accumulated_markup_contribution"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b Budget) GetCreatedById() int {
	return b.CreatedById
}

func (b *Budget) IsBudgetDomain() bool {
	return b.Domain == DomainBudget
}

// EstimatedValue is the fully loaded estimate of the whole production.
func (b *Budget) EstimatedValue() decimal.Decimal {
	return b.AccumulatedValue.
		Add(b.AccumulatedFringeContribution).
		Add(b.AccumulatedMarkupContribution)
}

// Variance is estimated minus recorded spend. Meaningless for templates.
func (b *Budget) Variance() decimal.Decimal {
	return b.EstimatedValue().Sub(b.Actual)
}

type NewBudget struct {
	Name      string  `json:"name" binding:"required"`
	IsPublic  *bool   `json:"is_public"`
	ImageName *string `json:"image_name"`
}

func (input *NewBudget) validate(ctx context.Context, userId int, id int) error {
	if input.Name == "" {
		return structuralError("budget name is required")
	}
	if id > 0 {
		if err := utils.ValidateResourceId[Budget](ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func createBudgetRoot(ctx context.Context, domain BudgetDomain, input *NewBudget) (*Budget, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if err := input.validate(ctx, userId, 0); err != nil {
		return nil, err
	}

	budget := Budget{
		Domain:      domain,
		Name:        input.Name,
		CreatedById: userId,
		IsTrashed:   utils.NewFalse(),
		IsPublic:    utils.NewFalse(),
	}
	if input.IsPublic != nil {
		budget.IsPublic = input.IsPublic
	}
	if input.ImageName != nil {
		budget.ImagePath = utils.UploadTo(userId, *input.ImageName, "budgets")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&budget).Error; err != nil {
		return nil, err
	}
	return &budget, nil
}

func CreateBudget(ctx context.Context, input *NewBudget) (*Budget, error) {
	return createBudgetRoot(ctx, DomainBudget, input)
}

func CreateTemplate(ctx context.Context, input *NewBudget) (*Budget, error) {
	return createBudgetRoot(ctx, DomainTemplate, input)
}

func UpdateBudget(ctx context.Context, id int, input *NewBudget) (*Budget, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if err := input.validate(ctx, userId, id); err != nil {
		return nil, err
	}

	budget, err := utils.FetchModel[Budget](ctx, userId, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"Name": input.Name,
	}
	if input.IsPublic != nil {
		updates["IsPublic"] = *input.IsPublic
	}
	if input.ImageName != nil {
		updates["ImagePath"] = utils.UploadTo(userId, *input.ImageName, "budgets")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(budget).Updates(updates).Error; err != nil {
		return nil, err
	}
	invalidateInstanceCache(budgetRef(budget.ID))
	return budget, nil
}

func GetBudget(ctx context.Context, id int) (*Budget, error) {
	return GetResource[Budget](ctx, id)
}

// GetBudgets lists the user's budgets or templates, most recent first.
// Trashed roots are excluded; see GetTrashedBudgets.
func GetBudgets(ctx context.Context, domain BudgetDomain) ([]*Budget, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	db := config.GetDB()
	var results []*Budget
	err := db.WithContext(ctx).
		Where("created_by_id = ? AND domain = ? AND is_trashed = ?", userId, domain, false).
		Order("updated_at DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetTrashedBudgets(ctx context.Context) ([]*Budget, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	db := config.GetDB()
	var results []*Budget
	err := db.WithContext(ctx).
		Where("created_by_id = ? AND domain = ? AND is_trashed = ?", userId, DomainBudget, true).
		Order("updated_at DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// TrashBudget soft-deletes: the tree stays intact and restorable.
func TrashBudget(ctx context.Context, id int) (*Budget, error) {
	return setBudgetTrashed(ctx, id, true)
}

func RestoreBudget(ctx context.Context, id int) (*Budget, error) {
	return setBudgetTrashed(ctx, id, false)
}

func setBudgetTrashed(ctx context.Context, id int, trashed bool) (*Budget, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(budget).Update("IsTrashed", trashed).Error; err != nil {
		return nil, err
	}
	invalidateInstanceCache(budgetRef(budget.ID))
	return budget, nil
}

// PermanentlyDeleteBudget removes the root and cascades to every owned
// row: accounts, sub-accounts, fringes, markups, groups, actuals and the
// markup membership join rows.
func PermanentlyDeleteBudget(ctx context.Context, id int) (*Budget, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(utils.SuppressRecalcInContext(ctx)).Begin()
	if err := deleteBudgetTree(tx, budget.ID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Delete(budget).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateInstanceCache(budgetRef(budget.ID))
	return budget, nil
}

func deleteBudgetTree(tx *gorm.DB, budgetId int) error {
	var markupIds []int
	if err := tx.Model(&Markup{}).Where("budget_id = ?", budgetId).Pluck("id", &markupIds).Error; err != nil {
		return err
	}
	if len(markupIds) > 0 {
		if err := tx.Exec("DELETE FROM markup_accounts WHERE markup_id IN ?", markupIds).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM markup_sub_accounts WHERE markup_id IN ?", markupIds).Error; err != nil {
			return err
		}
	}
	var subAccountIds []int
	if err := tx.Model(&SubAccount{}).Where("budget_id = ?", budgetId).Pluck("id", &subAccountIds).Error; err != nil {
		return err
	}
	if len(subAccountIds) > 0 {
		if err := tx.Exec("DELETE FROM sub_account_fringes WHERE sub_account_id IN ?", subAccountIds).Error; err != nil {
			return err
		}
	}
	for _, model := range []any{&Actual{}, &Markup{}, &Group{}, &Fringe{}, &SubAccount{}, &Account{}} {
		if err := tx.Where("budget_id = ?", budgetId).Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}
