package models

import (
	"fmt"

	"gorm.io/gorm"
)

// TableKind names a set of orderable sibling rows.
type TableKind string

const (
	TableAccounts    TableKind = "accounts"
	TableSubAccounts TableKind = "subaccounts"
	TableMarkups     TableKind = "markups"
	TableActuals     TableKind = "actuals"
)

// TableKey identifies one sibling set: the rows of a kind that share the
// same parent. It is a value type so rows can be grouped by it in maps.
// For accounts and actuals the pivot is the budget id; for sub-accounts
// and markups it is the polymorphic parent pointer.
type TableKey struct {
	Kind       TableKind
	ParentType ParentKind
	ParentId   int
}

func AccountTableKey(budgetId int) TableKey {
	return TableKey{Kind: TableAccounts, ParentType: ParentKindBudget, ParentId: budgetId}
}

func SubAccountTableKey(parentType ParentKind, parentId int) TableKey {
	return TableKey{Kind: TableSubAccounts, ParentType: parentType, ParentId: parentId}
}

func MarkupTableKey(parentType ParentKind, parentId int) TableKey {
	return TableKey{Kind: TableMarkups, ParentType: parentType, ParentId: parentId}
}

func ActualTableKey(budgetId int) TableKey {
	return TableKey{Kind: TableActuals, ParentType: ParentKindBudget, ParentId: budgetId}
}

// Filter scopes a query to the sibling set.
func (k TableKey) Filter(db *gorm.DB) *gorm.DB {
	switch k.Kind {
	case TableAccounts, TableActuals:
		return db.Where("budget_id = ?", k.ParentId)
	default:
		return db.Where("parent_type = ? AND parent_id = ?", k.ParentType, k.ParentId)
	}
}

// LockKey is the redis lock name serializing writers on this sibling set.
func (k TableKey) LockKey() string {
	return fmt.Sprintf("tableLock:%s:%s:%d", k.Kind, k.ParentType, k.ParentId)
}

// TableRow is any row that lives in an ordered sibling set.
type TableRow interface {
	TableKey() TableKey
	GetOrderKey() string
	SetOrderKey(key string)
}

// assignOrderKeys gives every row without a key a generated key strictly
// after the current maximum of its sibling set. Rows arriving with a
// pre-assigned key keep it; the generator starts after the greater of the
// stored maximum and the pre-assigned maximum so nothing collides.
// Pre-assigned keys must be unique within the batch and against the
// stored siblings.
func assignOrderKeys[T TableRow](tx *gorm.DB, rows []T) error {
	byTable := make(map[TableKey][]T)
	order := make([]TableKey, 0)
	for _, row := range rows {
		key := row.TableKey()
		if _, seen := byTable[key]; !seen {
			order = append(order, key)
		}
		byTable[key] = append(byTable[key], row)
	}

	for _, key := range order {
		group := byTable[key]

		last, err := maxOrderKeyForModel(tx, group[0], key)
		if err != nil {
			return err
		}
		missing := 0
		seen := map[string]struct{}{}
		preassigned := make([]string, 0)
		for _, row := range group {
			if row.GetOrderKey() == "" {
				missing++
				continue
			}
			if err := ValidateOrderKey(row.GetOrderKey()); err != nil {
				return err
			}
			if _, dup := seen[row.GetOrderKey()]; dup {
				return orderKeyError("order key %q assigned twice in one batch", row.GetOrderKey())
			}
			seen[row.GetOrderKey()] = struct{}{}
			preassigned = append(preassigned, row.GetOrderKey())
			if last == nil || row.GetOrderKey() > *last {
				k := row.GetOrderKey()
				last = &k
			}
		}
		if len(preassigned) > 0 {
			var taken int64
			err := key.Filter(tx.Model(group[0])).
				Where("order_key IN ?", preassigned).
				Count(&taken).Error
			if err != nil {
				return err
			}
			if taken > 0 {
				return orderKeyError("order key already in use in this sibling set")
			}
		}
		if missing == 0 {
			continue
		}
		keys, err := OrderKeysAfter(missing, last)
		if err != nil {
			return err
		}
		i := 0
		for _, row := range group {
			if row.GetOrderKey() == "" {
				row.SetOrderKey(keys[i])
				i++
			}
		}
	}
	return nil
}

// maxOrderKeyForModel returns the greatest order key currently stored in
// the sibling set, or nil when the set is empty.
func maxOrderKeyForModel(tx *gorm.DB, model any, key TableKey) (*string, error) {
	var last *string
	err := key.Filter(tx.Model(model)).
		Select("max(order_key)").Scan(&last).Error
	if err != nil {
		return nil, err
	}
	if last != nil && *last == "" {
		return nil, nil
	}
	return last, nil
}
