package models

import (
	"gorm.io/gorm"
)

// Containers exist only to hold rows: a group nobody references and a
// percent markup with no members are noise, so any mutation that could
// have emptied one sweeps them afterwards. Already-gone containers are
// not an error, a concurrent request may have swept first.

// ReapEmptyGroups deletes groups in the budget that no account or
// sub-account references any more. Returns the deleted ids so callers
// can invalidate the cache entries for the swept rows.
func ReapEmptyGroups(tx *gorm.DB, budgetId int) ([]int, error) {
	var emptyIds []int
	err := tx.Model(&Group{}).
		Where("budget_id = ?", budgetId).
		Where("id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).Model(&Account{}).Select("group_id").Where("budget_id = ? AND group_id IS NOT NULL", budgetId)).
		Where("id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).Model(&SubAccount{}).Select("group_id").Where("budget_id = ? AND group_id IS NOT NULL", budgetId)).
		Pluck("id", &emptyIds).Error
	if err != nil {
		return nil, err
	}
	if len(emptyIds) == 0 {
		return nil, nil
	}
	return emptyIds, tx.Where("id IN ?", emptyIds).Delete(&Group{}).Error
}

// ReapEmptyMarkups deletes percent markups in the budget whose member
// sets have gone empty. Flat markups have no members and are exempt.
// Returns the deleted ids so callers can invalidate their cache keys.
func ReapEmptyMarkups(tx *gorm.DB, budgetId int) ([]int, error) {
	var emptyIds []int
	err := tx.Model(&Markup{}).
		Where("budget_id = ? AND unit = ?", budgetId, UnitPercent).
		Where("id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).Table("markup_accounts").Select("markup_id")).
		Where("id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).Table("markup_sub_accounts").Select("markup_id")).
		Pluck("id", &emptyIds).Error
	if err != nil {
		return nil, err
	}
	if len(emptyIds) == 0 {
		return nil, nil
	}
	return emptyIds, deleteMarkups(tx, emptyIds)
}
