package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Actual is a recorded spend row. It always belongs to a budget-domain
// root; the owner pointer (a sub-account or a flat markup) is a weak
// reference that is nulled when the owner is deleted.
type Actual struct {
	ID          int        `gorm:"primary_key" json:"id"`
	BudgetId    int        `gorm:"index;uniqueIndex:idx_actual_budget_order;not null" json:"budget_id"`
	OwnerType   *OwnerKind `gorm:"size:12;index:idx_actual_owner" json:"owner_type"`
	OwnerId     *int       `gorm:"index:idx_actual_owner" json:"owner_id"`
	OrderKey    string     `gorm:"size:64;uniqueIndex:idx_actual_budget_order;not null" json:"order_key"`
	Name        string     `gorm:"size:128" json:"name"`
	Notes       string     `gorm:"size:255" json:"notes"`
	CreatedById int        `gorm:"index;not null" json:"created_by_id"`

	Value         *decimal.Decimal    `gorm:"type:decimal(20,8)" json:"value"`
	Date          *time.Time          `json:"date"`
	ContactId     *int                `gorm:"index" json:"contact_id"`
	PaymentMethod *PaymentMethod      `gorm:"size:16" json:"payment_method"`
	PurchaseOrder string              `gorm:"size:128" json:"purchase_order"`
	PaymentId     string              `gorm:"size:128" json:"payment_id"`
	ImportSource  *ActualImportSource `gorm:"size:16" json:"import_source"`

	AttachmentPath string `gorm:"size:255" json:"attachment_path"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a Actual) GetCreatedById() int {
	return a.CreatedById
}

func (a *Actual) TableKey() TableKey {
	return ActualTableKey(a.BudgetId)
}

func (a *Actual) GetOrderKey() string {
	return a.OrderKey
}

func (a *Actual) SetOrderKey(key string) {
	a.OrderKey = key
}

type NewActual struct {
	Name          string              `json:"name"`
	Notes         string              `json:"notes"`
	OwnerType     *OwnerKind          `json:"owner_type"`
	OwnerId       *int                `json:"owner_id"`
	OrderKey      string              `json:"order_key"`
	Value         *decimal.Decimal    `json:"value"`
	Date          *time.Time          `json:"date"`
	ContactId     *int                `json:"contact_id"`
	PaymentMethod *PaymentMethod      `json:"payment_method"`
	PurchaseOrder string              `json:"purchase_order"`
	PaymentId     string              `json:"payment_id"`
	ImportSource  *ActualImportSource `json:"import_source"`
	AttachmentName *string            `json:"attachment_name"`
}

func (input *NewActual) validate(ctx context.Context, budget *Budget, id int) error {
	if !budget.IsBudgetDomain() {
		return structuralError("actuals can only be recorded on budget-domain roots")
	}
	if (input.OwnerType == nil) != (input.OwnerId == nil) {
		return structuralError("actual owner type and id must be set together")
	}
	if input.OwnerType != nil {
		if err := validateActualOwner(ctx, *input.OwnerType, *input.OwnerId, budget.ID); err != nil {
			return err
		}
	}
	if input.OrderKey != "" {
		if err := ValidateOrderKey(input.OrderKey); err != nil {
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

func (input *NewActual) build(budget *Budget) *Actual {
	actual := &Actual{
		BudgetId:      budget.ID,
		OwnerType:     input.OwnerType,
		OwnerId:       input.OwnerId,
		OrderKey:      input.OrderKey,
		Name:          input.Name,
		Notes:         input.Notes,
		Value:         input.Value,
		Date:          input.Date,
		ContactId:     input.ContactId,
		PaymentMethod: input.PaymentMethod,
		PurchaseOrder: input.PurchaseOrder,
		PaymentId:     input.PaymentId,
		ImportSource:  input.ImportSource,
		CreatedById:   budget.CreatedById,
	}
	if input.AttachmentName != nil {
		actual.AttachmentPath = utils.UploadTo(budget.CreatedById, *input.AttachmentName, "actuals")
	}
	return actual
}

func CreateActual(ctx context.Context, budgetId int, input *NewActual) (*Actual, error) {
	rows, err := BulkCreateActuals(ctx, budgetId, []*NewActual{input})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func UpdateActual(ctx context.Context, id int, input *NewActual) (*Actual, error) {
	rows, err := BulkUpdateActuals(ctx, []*ActualUpdate{{Id: id, Fields: input}})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func DeleteActual(ctx context.Context, id int) (*Actual, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	row, err := utils.FetchModel[Actual](ctx, userId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrorConcurrentDeletion
		}
		return nil, err
	}
	if err := BulkDeleteActuals(ctx, row.BudgetId, []int{id}); err != nil {
		return nil, err
	}
	return row, nil
}

func GetActual(ctx context.Context, id int) (*Actual, error) {
	return GetResource[Actual](ctx, id)
}

func GetActuals(ctx context.Context, budgetId int, search string) ([]*Actual, error) {
	db := config.GetDB()
	var results []*Actual
	dbCtx := db.WithContext(ctx).
		Where("budget_id = ?", budgetId)
	if search != "" {
		pattern := "%" + search + "%"
		dbCtx = dbCtx.Where("name LIKE ? OR notes LIKE ?", pattern, pattern)
	}
	err := dbCtx.Order("order_key").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// subAccountActuals loads the actuals owned by a sub-account, excluding
// pending deletions.
func subAccountActuals(ctx context.Context, tx *gorm.DB, subAccountId int, excludeIds []int) ([]*Actual, error) {
	var rows []*Actual
	dbCtx := tx.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", OwnerKindSubAccount, subAccountId)
	if len(excludeIds) > 0 {
		dbCtx = dbCtx.Where("id NOT IN ?", excludeIds)
	}
	if err := dbCtx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

/* bank import */

// PlaidTransaction is the pre-fetched shape of an imported bank
// transaction. The core never calls Plaid itself; the import layer hands
// these over for a bulk create.
type PlaidTransaction struct {
	Name           string
	Date           time.Time
	Amount         decimal.Decimal
	Categories     []string
	PaymentMethod  *PaymentMethod
	Classification string
}

// ActualFromPlaid maps one imported transaction onto a NewActual. Rows
// arrive unlinked; users attach owners afterwards.
func ActualFromPlaid(txn PlaidTransaction) *NewActual {
	value := txn.Amount
	date := txn.Date
	source := ImportSourceBankAccount
	return &NewActual{
		Name:          txn.Name,
		Notes:         strings.Join(txn.Categories, ", "),
		Value:         &value,
		Date:          &date,
		PaymentMethod: txn.PaymentMethod,
		ImportSource:  &source,
	}
}

// ImportPlaidActuals bulk-creates actuals from pre-fetched bank
// transactions. Called programmatically, so budgets are not stamped.
func ImportPlaidActuals(ctx context.Context, budgetId int, txns []PlaidTransaction) ([]*Actual, error) {
	inputs := make([]*NewActual, 0, len(txns))
	for _, txn := range txns {
		inputs = append(inputs, ActualFromPlaid(txn))
	}
	return BulkCreateActuals(ctx, budgetId, inputs)
}
