// Package cache provides a generic two-tier cache: an expirable LRU per
// process and Redis shared between replicas.
//
//	perms := cache.New[[]rbac.Grant](redisClient, cache.Config{L1TTL: 30 * time.Second}, metrics, logger)
//	grants, err := perms.GetOrLoad(ctx, cache.Key(tenantID, userID), load)
//
// Invalidation is prefix based, so keys should be built from the most
// general component to the most specific.
package cache
