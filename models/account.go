package models

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/utils"
	"github.com/shopspring/decimal"
)

// Account is the first level under a Budget or Template. Accounts carry
// no raw quantity/rate values of their own; every stored metric is an
// aggregate over the sub-account tree below.
type Account struct {
	ID          int    `gorm:"primary_key" json:"id"`
	BudgetId    int    `gorm:"index;uniqueIndex:idx_account_budget_order;not null" json:"budget_id"`
	Identifier  string `gorm:"size:128" json:"identifier"`
	Description string `gorm:"size:255" json:"description"`
	OrderKey    string `gorm:"size:64;uniqueIndex:idx_account_budget_order;not null" json:"order_key"`
	GroupId     *int   `gorm:"index" json:"group_id"`
	CreatedById int    `gorm:"index;not null" json:"created_by_id"`

	Actual                        decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"actual"`
	AccumulatedValue              decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"accumulated_value"`
	FringeContribution            decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"fringe_contribution"`
	MarkupContribution            decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"markup_contribution"`
	AccumulatedFringeContribution decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"accumulated_fringe_contribution"`
	AccumulatedMarkupContribution decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"accumulated_markup_contribution"`

	// percent markups this account is a member of
	Markups []*Markup `gorm:"many2many:markup_accounts" json:"markups,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a Account) GetCreatedById() int {
	return a.CreatedById
}

func (a *Account) TableKey() TableKey {
	return AccountTableKey(a.BudgetId)
}

func (a *Account) GetOrderKey() string {
	return a.OrderKey
}

func (a *Account) SetOrderKey(key string) {
	a.OrderKey = key
}

// NominalValue of an account is always its accumulated value: accounts
// without children estimate to zero.
func (a *Account) NominalValue() decimal.Decimal {
	return a.AccumulatedValue
}

func (a *Account) RealizedValue() decimal.Decimal {
	return a.NominalValue().
		Add(a.AccumulatedFringeContribution).
		Add(a.AccumulatedMarkupContribution)
}

func (a *Account) EstimatedValue() decimal.Decimal {
	return a.RealizedValue().Add(a.FringeContribution).Add(a.MarkupContribution)
}

func (a *Account) Variance() decimal.Decimal {
	return a.EstimatedValue().Sub(a.Actual)
}

type NewAccount struct {
	Identifier  string `json:"identifier"`
	Description string `json:"description"`
	OrderKey    string `json:"order_key"`
	GroupId     *int   `json:"group_id"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewAccount) validate(ctx context.Context, budget *Budget, id int) error {
	if input.Identifier != "" {
		if err := utils.ValidateUniqueWhere[Account](ctx, "identifier", input.Identifier, id, "budget_id = ?", budget.ID); err != nil {
			return structuralError("account identifier %q already used in budget %d", input.Identifier, budget.ID)
		}
	}
	if input.OrderKey != "" {
		if err := ValidateOrderKey(input.OrderKey); err != nil {
			return err
		}
	}
	if input.GroupId != nil {
		if err := validateGroupParent(ctx, *input.GroupId, ParentKindBudget, budget.ID); err != nil {
			return err
		}
	}
	return nil
}

func (input *NewAccount) build(budget *Budget) *Account {
	return &Account{
		BudgetId:    budget.ID,
		Identifier:  input.Identifier,
		Description: input.Description,
		OrderKey:    input.OrderKey,
		GroupId:     input.GroupId,
		CreatedById: budget.CreatedById,
	}
}

func CreateAccount(ctx context.Context, budgetId int, input *NewAccount) (*Account, error) {
	accounts, err := BulkCreateAccounts(ctx, budgetId, []*NewAccount{input})
	if err != nil {
		return nil, err
	}
	return accounts[0], nil
}

func UpdateAccount(ctx context.Context, id int, input *NewAccount) (*Account, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	account, err := utils.FetchModel[Account](ctx, userId, id)
	if err != nil {
		return nil, err
	}
	budget, err := utils.FetchModel[Budget](ctx, userId, account.BudgetId)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, budget, id); err != nil {
		return nil, err
	}

	oldGroupId := account.GroupId

	updates := map[string]interface{}{
		"Identifier":  input.Identifier,
		"Description": input.Description,
		"GroupId":     input.GroupId,
	}
	if input.OrderKey != "" {
		updates["OrderKey"] = input.OrderKey
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Model(account).Updates(updates).Error; err != nil {
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
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	refs := []InstanceRef{accountRef(account.ID), budgetRef(budget.ID)}
	refs = append(refs, groupRefs(reapedGroupIds)...)
	invalidateRelatedCache(refs...)
	return account, nil
}

func DeleteAccount(ctx context.Context, id int) (*Account, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	account, err := utils.FetchModel[Account](ctx, userId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrorConcurrentDeletion
		}
		return nil, err
	}
	if err := BulkDeleteAccounts(ctx, account.BudgetId, []int{id}); err != nil {
		return nil, err
	}
	return account, nil
}

func GetAccount(ctx context.Context, id int) (*Account, error) {
	return GetResource[Account](ctx, id)
}

// GetAccounts lists a budget's accounts in table order: grouped rows
// first when withGroups is set, then ungrouped rows by order key. A
// non-empty search narrows to rows matching on identifier or
// description.
func GetAccounts(ctx context.Context, budgetId int, withGroups bool, search string) ([]*Account, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if _, err := utils.FetchModel[Budget](ctx, userId, budgetId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var rows []*Account
	dbCtx := db.WithContext(ctx).
		Where("budget_id = ?", budgetId)
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
	return orderWithGroups(rows, func(a *Account) *int { return a.GroupId }, func(a *Account) string { return a.OrderKey }), nil
}

// NextAccountIdentifier suggests the next free numeric identifier within
// the budget, e.g. 1000 -> 1001.
func NextAccountIdentifier(ctx context.Context, budgetId int) (string, error) {
	db := config.GetDB()
	var identifiers []string
	err := db.WithContext(ctx).Model(&Account{}).
		Where("budget_id = ?", budgetId).
		Pluck("identifier", &identifiers).Error
	if err != nil {
		return "", err
	}
	return nextNumericIdentifier(identifiers), nil
}

func groupChanged(old *int, new *int) bool {
	if old == nil && new == nil {
		return false
	}
	if old == nil || new == nil {
		return true
	}
	return *old != *new
}

// orderWithGroups arranges rows so members of a group come first, grouped
// together, groups ordered by their minimum member key, followed by
// ungrouped rows by order key. Input must already be sorted by order key.
func orderWithGroups[T any](rows []T, groupId func(T) *int, orderKey func(T) string) []T {
	type bucket struct {
		minKey string
		rows   []T
	}
	buckets := make(map[int]*bucket)
	groupOrder := make([]int, 0)
	ungrouped := make([]T, 0, len(rows))
	for _, row := range rows {
		gid := groupId(row)
		if gid == nil {
			ungrouped = append(ungrouped, row)
			continue
		}
		b, ok := buckets[*gid]
		if !ok {
			b = &bucket{minKey: orderKey(row)}
			buckets[*gid] = b
			groupOrder = append(groupOrder, *gid)
		}
		b.rows = append(b.rows, row)
	}
	// rows were sorted by key, so the first member seen holds the group
	// minimum and groupOrder is already sorted by it
	out := make([]T, 0, len(rows))
	for _, gid := range groupOrder {
		out = append(out, buckets[gid].rows...)
	}
	out = append(out, ungrouped...)
	return out
}

// nextNumericIdentifier returns max(existing numeric identifiers)+1 as a
// string, or "1000" when none parse.
func nextNumericIdentifier(identifiers []string) string {
	max := 0
	for _, ident := range identifiers {
		n, err := strconv.Atoi(strings.TrimSpace(ident))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	if max == 0 {
		return "1000"
	}
	return strconv.Itoa(max + 1)
}
