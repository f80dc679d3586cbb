package models

import (
	"context"
	"errors"

	"github.com/mmdatafocus/budgets_backend/utils"
)

type Resource interface {
	GetCreatedById() int
}

// first find in redis, then in db, scoped to ctx's user, cache result
// (may return RecordNotFound error)
func GetResource[T Resource](ctx context.Context, id int, associations ...string) (*T, error) {

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	// find in redis
	result, err := utils.RetrieveRedis[T](id)
	if err != nil {
		return nil, err
	}
	// if not found in redis
	if result == nil {
		// fetch from db
		result, err = utils.FetchModel[T](ctx, userId, id, associations...)
		if err != nil {
			return nil, err
		}

		// store in redis
		if err := utils.StoreRedis[T](result, id); err != nil {
			return nil, err
		}
	} else {
		// if found in redis
		// check ownership
		if (*result).GetCreatedById() != userId {
			return nil, errors.New("cannot access resource owned by another user")
		}
	}

	return result, nil
}
