// Package store provides a uniform keyed-store abstraction (C1) over an
// external store. Callers tolerate intermediate states across operations;
// the store is not expected to be transactional.
package store

import (
	"context"
	"time"
)

// Store is the minimal surface every shared-state substrate component
// (rate limiter, denylist, cache, presence registry) is built on.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRem(ctx context.Context, key string, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// Eval runs a Lua script against the store, used by the rate limiter for
	// atomic sliding-window admission. keys/args follow redis EVAL semantics.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// ErrNotFound is returned by Get when the key does not exist, mirroring
// redis.Nil without leaking the redis package into callers.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: key not found" }
