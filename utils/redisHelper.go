package utils

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/mmdatafocus/serial_tracking/config"
)

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

func redisListKey[T any](companyId string, scope ...any) string {
	parts := []string{GetTypeName[T]() + "List", companyId}
	for _, s := range scope {
		parts = append(parts, fmt.Sprint(s))
	}
	return strings.Join(parts, ":")
}

// StoreRedisList caches a list under TypeList:$company_id[:scope...].
func StoreRedisList[T any](ctx context.Context, obj []*T, companyId string, scope ...any) error {
	lifespan := config.SerialCacheLifespan()
	if lifespan <= 0 {
		return nil
	}
	return config.SetRedisObject(ctx, redisListKey[T](companyId, scope...), obj, lifespan)
}

// RetrieveRedisList returns nil when the list is not cached.
func RetrieveRedisList[T any](ctx context.Context, companyId string, scope ...any) ([]*T, error) {
	if config.SerialCacheLifespan() <= 0 {
		return nil, nil
	}
	var result []*T
	exists, err := config.GetRedisObject(ctx, redisListKey[T](companyId, scope...), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

func RemoveRedisList[T any](ctx context.Context, companyId string, scope ...any) error {
	return config.RemoveRedisKey(ctx, redisListKey[T](companyId, scope...))
}
