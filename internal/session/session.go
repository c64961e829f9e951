// Package session implements the token denylist / session service (C3):
// revoking individual refresh tokens until their natural expiry, and a
// per-user "all-before" cutoff used to invalidate every token issued
// before a given moment (e.g. on a password change or forced logout).
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"chatroom/internal/store"
)

// tokenKeyPrefix is the single denylist key prefix this package writes
// and reads. The source material used two prefixes inconsistently
// (blacklist:<token> and blacklist:token:<token>); per the decision
// recorded in DESIGN.md, blacklist:token:<token> is canonical.
const tokenKeyPrefix = "blacklist:token:"
const userKeyPrefix = "blacklist:user:"

const userBlacklistTTL = 7 * 24 * time.Hour

// Service denylists tokens and users over a Store.
type Service struct {
	store store.Store
}

func New(s store.Store) *Service {
	return &Service{store: s}
}

// Blacklist revokes token until its own expiry. It decodes the token's
// claims without verifying its signature — callers have either already
// verified it or are revoking a token regardless of validity — and
// writes a marker with TTL equal to the token's remaining lifetime. A
// token whose exp has already passed needs no marker since it is
// already rejected on expiry; Blacklist is then a no-op.
func (s *Service) Blacklist(ctx context.Context, token string) error {
	exp, err := expiryOf(token)
	if err != nil {
		return err
	}
	ttl := time.Until(exp)
	if ttl <= 0 {
		return nil
	}
	return s.store.Set(ctx, tokenKeyPrefix+token, "1", ttl)
}

// IsBlacklisted reports whether token has an active denylist marker.
func (s *Service) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	return s.store.Exists(ctx, tokenKeyPrefix+token)
}

// BlacklistUser invalidates every token issued for userId before now by
// recording the current instant as blacklistedAt, with a 7-day TTL —
// equal to the default refresh-token lifetime. The cutoff is written
// after every token it invalidates was issued, so it outlives any such
// token whose lifetime is at most 7 days.
func (s *Service) BlacklistUser(ctx context.Context, userID string) error {
	payload, err := json.Marshal(userBlacklistEntry{BlacklistedAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return s.store.Set(ctx, userKeyPrefix+userID, string(payload), userBlacklistTTL)
}

// IsUserBlacklistedAt reports whether a token issued at iatMs (the
// token's iat claim, in milliseconds) for userID predates a subsequent
// BlacklistUser call.
func (s *Service) IsUserBlacklistedAt(ctx context.Context, userID string, iatMs int64) (bool, error) {
	raw, err := s.store.Get(ctx, userKeyPrefix+userID)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var entry userBlacklistEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return false, err
	}
	return iatMs < entry.BlacklistedAt, nil
}

// IsValid combines both checks, matching the spec's "access-token
// validation combines both checks" rule: a token is rejected if it was
// individually revoked, or if it was issued before its user's cutoff.
func (s *Service) IsValid(ctx context.Context, token, userID string, iatMs int64) (bool, error) {
	blacklisted, err := s.IsBlacklisted(ctx, token)
	if err != nil {
		return false, err
	}
	if blacklisted {
		return false, nil
	}
	cutoff, err := s.IsUserBlacklistedAt(ctx, userID, iatMs)
	if err != nil {
		return false, err
	}
	return !cutoff, nil
}

type userBlacklistEntry struct {
	BlacklistedAt int64 `json:"blacklistedAt"`
}

// expiryOf decodes a JWT's payload segment without verifying its
// signature, returning the exp claim as a time.Time. Only the
// unverified shape of the token is needed here; signature/claim
// verification is internal/auth's responsibility and must happen
// before a token ever reaches IsValid in the request path.
func expiryOf(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, errMalformedToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, err
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, err
	}
	return time.Unix(claims.Exp, 0), nil
}

type sessionError string

func (e sessionError) Error() string { return string(e) }

const errMalformedToken = sessionError("session: malformed token")
