// Package ratelimit implements the sliding-window request admission
// described in spec §4.2 (C2), built on internal/store's sorted-set
// operations. Admission is evaluated atomically via a Lua script so
// concurrent callers against the same identifier cannot race past the
// limit, adapted from jacl-coder-OneBook-AI's fixed-window INCR+PEXPIRE
// script to a sliding window over timestamped members.
package ratelimit

import (
	"context"
	"math"
	"time"

	"chatroom/internal/store"
)

// Result is the admission outcome for one Allow call.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter int // seconds, only meaningful when !Allowed
}

// Rule configures one sliding window: at most Limit events per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter evaluates Rule admission against a Store-backed sliding window.
// Allow returns store errors to the caller; callers that choose to admit
// on a store error do so explicitly via AllowFailOpen.
type Limiter struct {
	store store.Store
}

func New(s store.Store) *Limiter {
	return &Limiter{store: s}
}

var slidingWindowScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now_ms - window_ms)
local card = redis.call("ZCARD", key)

if card >= limit then
  local oldest = redis.call("ZRANGE", key, 0, 0)
  local reset_time = now_ms + window_ms
  if oldest[1] then
    reset_time = tonumber(oldest[1]) + window_ms
  end
  return {0, 0, reset_time}
else
  redis.call("ZADD", key, now_ms, tostring(now_ms))
  redis.call("EXPIRE", key, math.ceil(window_ms/1000))
  return {1, limit - card - 1, now_ms + window_ms}
end
`

// Allow evaluates rule's sliding window for key (the rate-limit identifier,
// e.g. "messageUser:<userID>"), admitting or denying per spec §4.2 step 1-4.
func (l *Limiter) Allow(ctx context.Context, key string, rule Rule) (Result, error) {
	nowMs := time.Now().UnixMilli()
	windowMs := rule.Window.Milliseconds()

	raw, err := l.store.Eval(ctx, slidingWindowScript, []string{key}, nowMs, windowMs, rule.Limit)
	if err != nil {
		return Result{}, err
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return Result{}, errUnexpectedScriptResult
	}

	allowed := toInt64(vals[0]) == 1
	remaining := int(toInt64(vals[1]))
	resetMs := toInt64(vals[2])
	resetTime := time.UnixMilli(resetMs)

	res := Result{Allowed: allowed, Remaining: remaining, ResetTime: resetTime}
	if !allowed {
		retryAfter := int(math.Ceil(float64(resetMs-nowMs) / 1000))
		if retryAfter < 0 {
			retryAfter = 0
		}
		res.RetryAfter = retryAfter
	}
	return res, nil
}

// AllowFailOpen behaves like Allow but admits the request (Allowed: true,
// Remaining: -1) whenever the store itself errors, for callers on the hot
// path that prefer availability over strict enforcement during a store
// outage.
func (l *Limiter) AllowFailOpen(ctx context.Context, key string, rule Rule) Result {
	res, err := l.Allow(ctx, key, rule)
	if err != nil {
		return Result{Allowed: true, Remaining: -1}
	}
	return res
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

type scriptResultError struct{ msg string }

func (e scriptResultError) Error() string { return e.msg }

var errUnexpectedScriptResult = scriptResultError{"ratelimit: unexpected script result shape"}
