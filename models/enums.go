package models

// BudgetDomain separates real productions (with recorded spend) from
// reusable templates (no spend).
type BudgetDomain string

const (
	DomainBudget   BudgetDomain = "budget"
	DomainTemplate BudgetDomain = "template"
)

// AdjustmentUnit is how a Fringe or Markup rate is interpreted.
type AdjustmentUnit string

const (
	UnitPercent AdjustmentUnit = "percent"
	UnitFlat    AdjustmentUnit = "flat"
)

// ParentKind tags the polymorphic parent pointer of sub-accounts, markups
// and groups.
type ParentKind string

const (
	ParentKindBudget     ParentKind = "budget"
	ParentKindAccount    ParentKind = "account"
	ParentKindSubAccount ParentKind = "subaccount"
)

// OwnerKind tags the polymorphic owner pointer of actuals.
type OwnerKind string

const (
	OwnerKindSubAccount OwnerKind = "subaccount"
	OwnerKindMarkup     OwnerKind = "markup"
)

// ActualImportSource records where an imported Actual row came from.
type ActualImportSource string

const (
	ImportSourceBankAccount ActualImportSource = "bank_account"
)

// PaymentMethod mirrors the classification of imported bank transactions.
type PaymentMethod string

const (
	PaymentMethodCheck      PaymentMethod = "check"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodWire       PaymentMethod = "wire"
	PaymentMethodCashOnHand PaymentMethod = "cash_on_hand"
)
