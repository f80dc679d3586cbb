package utils

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "US"

/* pointer helpers */

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}

func Ptr[T any](v T) *T {
	return &v
}

// DecimalOrZero treats a missing rate/quantity as zero.
func DecimalOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}
	return nil
}

/* slices */

func UniqueSlice[T comparable](items []T) []T {
	seen := make(map[T]bool, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

/* generic type names */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

// get type name of struct
func GetType(i interface{}) string {
	return reflect.TypeOf(i).Name()
}

/* distributed locks */

// TableLock serializes writers on one sibling set. Order-key allocation
// reads the current maximum key of the set, so two concurrent bulk creates
// on the same table must not interleave.
// The returned release func is safe to call when Redis is unavailable.
func TableLock(ctx context.Context, lockKey string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// single-process deployments and tests run without redis
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain table lock", lockKey, err)
		return nil, errors.New("could not obtain lock for " + lockKey)
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining table lock", lockKey, err)
		return nil, err
	}
	return func() {
		_ = lock.Release(ctx)
	}, nil
}

/* cache lifespan */

func GetCacheLifespan() time.Duration {
	return time.Hour
}

func CacheKey(parts ...any) string {
	key := ""
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += fmt.Sprint(part)
	}
	return key
}
