package models

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/utils"
)

// Response caching sits on two key families in redis. Per-instance
// object keys follow the shared Type:id convention; serialized endpoint
// payloads use endpoint:<name>:<kind>:<id>:user:<userId>. Invalidation
// clears both, plus the list keys of any container whose children
// changed. Cache failures never fail the request, they are logged and
// the caller recomputes.

// InstanceRef names one cached instance by kind and id.
type InstanceRef struct {
	Kind string
	Id   int
}

func budgetRef(id int) InstanceRef     { return InstanceRef{Kind: "Budget", Id: id} }
func accountRef(id int) InstanceRef    { return InstanceRef{Kind: "Account", Id: id} }
func subAccountRef(id int) InstanceRef { return InstanceRef{Kind: "SubAccount", Id: id} }
func markupRef(id int) InstanceRef     { return InstanceRef{Kind: "Markup", Id: id} }
func groupRef(id int) InstanceRef      { return InstanceRef{Kind: "Group", Id: id} }
func actualRef(id int) InstanceRef     { return InstanceRef{Kind: "Actual", Id: id} }
func fringeRef(id int) InstanceRef     { return InstanceRef{Kind: "Fringe", Id: id} }

// BudgetInstanceRef names a budget as the owner of a cached endpoint
// payload.
func BudgetInstanceRef(id int) InstanceRef { return budgetRef(id) }

// ParentInstanceRef names a polymorphic parent node as the owner of a
// cached endpoint payload.
func ParentInstanceRef(parentType ParentKind, parentId int) InstanceRef {
	return parentRef(parentType, parentId)
}

// parentRef resolves the polymorphic parent pointer to an instance ref.
func parentRef(parentType ParentKind, parentId int) InstanceRef {
	switch parentType {
	case ParentKindBudget:
		return budgetRef(parentId)
	case ParentKindAccount:
		return accountRef(parentId)
	default:
		return subAccountRef(parentId)
	}
}

func logCacheError(moduleName string, funcName string, data any, err error) {
	config.LogError(config.GetLogger(), moduleName, funcName, "cache", data, fmt.Errorf("%w: %v", ErrorCache, err))
}

// invalidateInstanceCache drops the object keys and the endpoint payload
// keys owned by each instance.
func invalidateInstanceCache(refs ...InstanceRef) {
	for _, ref := range refs {
		key := utils.CacheKey(ref.Kind, ref.Id)
		if err := config.RemoveRedisKey(key); err != nil {
			logCacheError("cache.go", "invalidateInstanceCache", ref, err)
		}
		pattern := utils.CacheKey("endpoint", "*", ref.Kind, ref.Id, "user", "*")
		if err := config.RemoveRedisPattern(pattern); err != nil {
			logCacheError("cache.go", "invalidateInstanceCache", ref, err)
		}
	}
}

// invalidateRelatedCache is what the recomputer and the bulk coordinator
// call after a mutation: pass the touched rows plus every container
// whose child list changed (the parent, the budget, an old group).
func invalidateRelatedCache(refs ...InstanceRef) {
	invalidateInstanceCache(refs...)
}

// GetOrComputeCachedResponse memoizes a serialized endpoint payload per
// requesting user. Search-qualified requests bypass the cache entirely,
// the key space would be unbounded.
func GetOrComputeCachedResponse[T any](ctx context.Context, endpoint string, owner InstanceRef, search string, compute func() (T, error)) (T, error) {
	var zero T
	userId, _ := utils.GetUserIdFromContext(ctx)
	if search != "" {
		return compute()
	}
	key := utils.CacheKey("endpoint", endpoint, owner.Kind, owner.Id, "user", userId)
	payload, exists, err := config.GetRedisValue(key)
	if err != nil {
		logCacheError("cache.go", "GetOrComputeCachedResponse", key, err)
	} else if exists {
		var cached T
		if err := json.Unmarshal([]byte(payload), &cached); err != nil {
			logCacheError("cache.go", "GetOrComputeCachedResponse", key, err)
		} else {
			return cached, nil
		}
	}
	result, err := compute()
	if err != nil {
		return zero, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		logCacheError("cache.go", "GetOrComputeCachedResponse", key, err)
		return result, nil
	}
	if err := config.SetRedisValue(key, string(encoded), utils.GetCacheLifespan()); err != nil {
		logCacheError("cache.go", "GetOrComputeCachedResponse", key, err)
	}
	return result, nil
}
