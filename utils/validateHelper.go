package utils

import (
	"context"
	"errors"
	"reflect"

	"github.com/mmdatafocus/budgets_backend/config"
)

// check if id exists, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

// check if ALL ids exist, return RecordNotFound error
func ValidateResourcesId[M any, ID comparable](ctx context.Context, ids []ID) error {
	unqIds := UniqueSlice(ids)
	if len(unqIds) == 0 {
		return nil
	}

	count, err := ResourceCountWhere[M](ctx, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return ErrorRecordNotFound
	}

	return nil
}

// ValidateUniqueWhere checks that no row other than exceptId holds the given
// column value inside the scope condition (e.g. "budget_id = ?").
func ValidateUniqueWhere[T any](ctx context.Context, column string, value interface{}, exceptId interface{}, scopeCond string, scopeVals ...interface{}) error {
	var model T
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model).Where(scopeCond, scopeVals...)
	if reflect.ValueOf(exceptId).IsZero() {
		dbCtx = dbCtx.Where(column+" = ?", value)
	} else {
		dbCtx = dbCtx.Where(column+" = ? AND NOT id = ?", value, exceptId)
	}
	var count int64
	if err := dbCtx.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// count records matching the condition
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	dbCtx = dbCtx.Where(condition, value...)
	var count int64
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
