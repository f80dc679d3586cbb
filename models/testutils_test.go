package models_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/models"
	"github.com/mmdatafocus/budgets_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testUserId = 1

var testDBCounter int64

// setupTestDB points the package globals at a fresh in-memory database.
// Each test gets its own schema; redis stays nil, so table locks and the
// cache degrade to no-ops.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	n := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:budgets_test_%d?mode=memory&cache=shared", n)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	config.SetDB(db)
	models.MigrateTable()
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		config.SetDB(nil)
	})
	return db
}

func testContext() context.Context {
	return utils.SetUserIdInContext(context.Background(), testUserId)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(v int) *int {
	return &v
}

func unitPtr(u models.AdjustmentUnit) *models.AdjustmentUnit {
	return &u
}

func ownerPtr(k models.OwnerKind) *models.OwnerKind {
	return &k
}

func wantDec(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", label, got.String(), want)
	}
}

func mustCreateBudget(t *testing.T, ctx context.Context, name string) *models.Budget {
	t.Helper()
	budget, err := models.CreateBudget(ctx, &models.NewBudget{Name: name})
	if err != nil {
		t.Fatalf("CreateBudget(%s): %v", name, err)
	}
	return budget
}

func mustCreateAccount(t *testing.T, ctx context.Context, budgetId int, identifier string) *models.Account {
	t.Helper()
	rows, err := models.BulkCreateAccounts(ctx, budgetId, []*models.NewAccount{{Identifier: identifier}})
	if err != nil {
		t.Fatalf("BulkCreateAccounts(%s): %v", identifier, err)
	}
	return rows[0]
}

func mustCreateLeaf(t *testing.T, ctx context.Context, parentType models.ParentKind, parentId int, input *models.NewSubAccount) *models.SubAccount {
	t.Helper()
	rows, err := models.BulkCreateSubAccounts(ctx, parentType, parentId, []*models.NewSubAccount{input})
	if err != nil {
		t.Fatalf("BulkCreateSubAccounts: %v", err)
	}
	return rows[0]
}

func reloadBudget(t *testing.T, ctx context.Context, id int) *models.Budget {
	t.Helper()
	budget, err := models.GetBudget(ctx, id)
	if err != nil {
		t.Fatalf("GetBudget(%d): %v", id, err)
	}
	return budget
}

func reloadAccount(t *testing.T, id int) *models.Account {
	t.Helper()
	var account models.Account
	if err := config.GetDB().First(&account, id).Error; err != nil {
		t.Fatalf("reload account %d: %v", id, err)
	}
	return &account
}

func reloadSubAccount(t *testing.T, id int) *models.SubAccount {
	t.Helper()
	var row models.SubAccount
	if err := config.GetDB().First(&row, id).Error; err != nil {
		t.Fatalf("reload sub-account %d: %v", id, err)
	}
	return &row
}
