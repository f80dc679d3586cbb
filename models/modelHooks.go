package models

import (
	"github.com/mmdatafocus/budgets_backend/utils"
	"gorm.io/gorm"
)

// Post-save hooks dispatch synchronously to the recomputer and the cache
// coordinator, so a plain gorm write on a tree row keeps the metrics
// consistent without the caller doing anything. Paths that orchestrate
// recomputation themselves (the bulk coordinator, the markup scope
// walks) run on a suppressed context and skip the dispatch.

func recalcSuppressed(tx *gorm.DB) bool {
	return utils.IsRecalcSuppressed(tx.Statement.Context)
}

/* sub-accounts */

func (s *SubAccount) AfterCreate(tx *gorm.DB) error {
	return s.afterWrite(tx)
}

func (s *SubAccount) AfterUpdate(tx *gorm.DB) error {
	return s.afterWrite(tx)
}

func (s *SubAccount) afterWrite(tx *gorm.DB) error {
	invalidateRelatedCache(subAccountRef(s.ID), parentRef(s.ParentType, s.ParentId), budgetRef(s.BudgetId))
	if recalcSuppressed(tx) {
		return nil
	}
	_, err := s.Calculate(tx.Statement.Context, tx, &RecomputeOptions{Commit: true, Trickle: true})
	return err
}

func (s *SubAccount) AfterDelete(tx *gorm.DB) error {
	invalidateRelatedCache(subAccountRef(s.ID), parentRef(s.ParentType, s.ParentId), budgetRef(s.BudgetId))
	if recalcSuppressed(tx) {
		return nil
	}
	return recomputeParent(tx.Statement.Context, tx, s.ParentType, s.ParentId, &RecomputeOptions{Commit: true, Trickle: true})
}

/* accounts */

func (a *Account) AfterCreate(tx *gorm.DB) error {
	return a.afterWrite(tx)
}

func (a *Account) AfterUpdate(tx *gorm.DB) error {
	return a.afterWrite(tx)
}

func (a *Account) afterWrite(tx *gorm.DB) error {
	invalidateRelatedCache(accountRef(a.ID), budgetRef(a.BudgetId))
	if recalcSuppressed(tx) {
		return nil
	}
	_, err := a.Calculate(tx.Statement.Context, tx, &RecomputeOptions{Commit: true, Trickle: true})
	return err
}

func (a *Account) AfterDelete(tx *gorm.DB) error {
	invalidateRelatedCache(accountRef(a.ID), budgetRef(a.BudgetId))
	if recalcSuppressed(tx) {
		return nil
	}
	return recomputeParent(tx.Statement.Context, tx, ParentKindBudget, a.BudgetId, &RecomputeOptions{Commit: true, Trickle: true})
}

/* actuals */

func (a *Actual) AfterCreate(tx *gorm.DB) error {
	return a.afterWrite(tx)
}

func (a *Actual) AfterUpdate(tx *gorm.DB) error {
	return a.afterWrite(tx)
}

func (a *Actual) afterWrite(tx *gorm.DB) error {
	invalidateRelatedCache(actualRef(a.ID), budgetRef(a.BudgetId))
	if recalcSuppressed(tx) {
		return nil
	}
	return recomputeActualOwners(tx.Statement.Context, tx, actualOwnerRefs([]*Actual{a}, nil))
}

func (a *Actual) AfterDelete(tx *gorm.DB) error {
	invalidateRelatedCache(actualRef(a.ID), budgetRef(a.BudgetId))
	if recalcSuppressed(tx) {
		return nil
	}
	return recomputeActualOwners(tx.Statement.Context, tx, actualOwnerRefs([]*Actual{a}, nil))
}

/* markups, fringes, groups: their mutation paths orchestrate their own
   recomputation, the hooks only keep the cache honest */

func (m *Markup) AfterCreate(tx *gorm.DB) error {
	invalidateRelatedCache(markupRef(m.ID), parentRef(m.ParentType, m.ParentId), budgetRef(m.BudgetId))
	return nil
}

func (m *Markup) AfterUpdate(tx *gorm.DB) error {
	invalidateRelatedCache(markupRef(m.ID), parentRef(m.ParentType, m.ParentId), budgetRef(m.BudgetId))
	return nil
}

func (m *Markup) AfterDelete(tx *gorm.DB) error {
	invalidateRelatedCache(markupRef(m.ID), parentRef(m.ParentType, m.ParentId), budgetRef(m.BudgetId))
	return nil
}

func (f *Fringe) AfterCreate(tx *gorm.DB) error {
	invalidateRelatedCache(fringeRef(f.ID), budgetRef(f.BudgetId))
	return nil
}

func (f *Fringe) AfterUpdate(tx *gorm.DB) error {
	invalidateRelatedCache(fringeRef(f.ID), budgetRef(f.BudgetId))
	return nil
}

func (f *Fringe) AfterDelete(tx *gorm.DB) error {
	invalidateRelatedCache(fringeRef(f.ID), budgetRef(f.BudgetId))
	return nil
}

func (g *Group) AfterCreate(tx *gorm.DB) error {
	invalidateRelatedCache(groupRef(g.ID), parentRef(g.ParentType, g.ParentId), budgetRef(g.BudgetId))
	return nil
}

func (g *Group) AfterUpdate(tx *gorm.DB) error {
	invalidateRelatedCache(groupRef(g.ID), parentRef(g.ParentType, g.ParentId), budgetRef(g.BudgetId))
	return nil
}

func (g *Group) AfterDelete(tx *gorm.DB) error {
	invalidateRelatedCache(groupRef(g.ID), parentRef(g.ParentType, g.ParentId), budgetRef(g.BudgetId))
	return nil
}
