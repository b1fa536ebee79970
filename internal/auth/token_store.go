package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"portfolio/internal/cache"
	"portfolio/internal/model"
	"portfolio/internal/repository"
)

const (
	refreshTokenKeyPrefix = "refresh_token:"
	userTokensKeyPrefix   = "refresh_tokens:user:"
)

var errStoreUnavailable = errors.New("redis token store unavailable")

// createScript stores a new token and indexes it under its owner in one step.
// KEYS: token, owner set. ARGV: payload, ttl ms, hash.
var createScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 0
end
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`)

// rotateScript consumes KEYS[1] and, only if it existed, stores the replacement.
// KEYS: old token, old owner set, new token, new owner set.
// ARGV: old hash, new payload, new ttl ms, new hash.
var rotateScript = redis.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
  return 0
end
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[3])
redis.call('SADD', KEYS[4], ARGV[4])
return 1
`)

// deleteScript removes a token and its owner-set entry. KEYS: token, owner set. ARGV: hash.
var deleteScript = redis.NewScript(`
local n = redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return n
`)

// deleteAllScript removes every token listed in the owner set. KEYS: owner set. ARGV: token key prefix.
var deleteAllScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, h in ipairs(members) do
  n = n + redis.call('DEL', ARGV[1] .. h)
end
redis.call('DEL', KEYS[1])
return n
`)

type storedToken struct {
	UserID    uint      `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenStore keeps refresh token fingerprints in Redis with native expiry.
// Unlike cache.Client it reports every Redis failure to the caller.
type TokenStore struct {
	rdb *redis.Client
	now func() time.Time
}

var _ repository.RefreshTokenRepository = (*TokenStore)(nil)

// NewTokenStore creates a new token store on the cache's connection.
func NewTokenStore(c *cache.Client) *TokenStore {
	return &TokenStore{rdb: c.Raw(), now: time.Now}
}

func tokenKey(hash string) string {
	return refreshTokenKeyPrefix + hash
}

func userTokensKey(userID uint) string {
	return userTokensKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

func (s *TokenStore) ttl(expiresAt time.Time) (time.Duration, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Millisecond {
		return 0, fmt.Errorf("refresh token already expired at %s", expiresAt.Format(time.RFC3339))
	}
	return ttl, nil
}

// Create stores a new token. An existing fingerprint yields repository.ErrDuplicate.
func (s *TokenStore) Create(ctx context.Context, token *model.RefreshToken) error {
	if s.rdb == nil {
		return errStoreUnavailable
	}
	ttl, err := s.ttl(token.ExpiresAt)
	if err != nil {
		return err
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = s.now()
	}
	payload, err := json.Marshal(storedToken{UserID: token.UserID, ExpiresAt: token.ExpiresAt, CreatedAt: token.CreatedAt})
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	created, err := createScript.Run(ctx, s.rdb,
		[]string{tokenKey(token.TokenHash), userTokensKey(token.UserID)},
		payload, ttl.Milliseconds(), token.TokenHash,
	).Int64()
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	if created == 0 {
		return repository.ErrDuplicate
	}
	return nil
}

// FindByHash returns repository.ErrNotFound for unknown or expired fingerprints.
func (s *TokenStore) FindByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	if s.rdb == nil {
		return nil, errStoreUnavailable
	}
	data, err := s.rdb.Get(ctx, tokenKey(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal token data: %w", err)
	}
	return &model.RefreshToken{
		TokenHash: tokenHash,
		UserID:    stored.UserID,
		ExpiresAt: stored.ExpiresAt,
		CreatedAt: stored.CreatedAt,
	}, nil
}

func (s *TokenStore) DeleteByHash(ctx context.Context, tokenHash string) (int64, error) {
	existing, err := s.FindByHash(ctx, tokenHash)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := deleteScript.Run(ctx, s.rdb,
		[]string{tokenKey(tokenHash), userTokensKey(existing.UserID)},
		tokenHash,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("delete refresh token: %w", err)
	}
	return n, nil
}

func (s *TokenStore) DeleteAllForUser(ctx context.Context, userID uint) (int64, error) {
	if s.rdb == nil {
		return 0, errStoreUnavailable
	}
	n, err := deleteAllScript.Run(ctx, s.rdb, []string{userTokensKey(userID)}, refreshTokenKeyPrefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return n, nil
}

// Rotate atomically consumes oldHash and stores next. A token that is already
// gone, including one consumed by a concurrent rotation, yields repository.ErrNotFound.
func (s *TokenStore) Rotate(ctx context.Context, oldHash string, next *model.RefreshToken) error {
	old, err := s.FindByHash(ctx, oldHash)
	if err != nil {
		return err
	}
	ttl, err := s.ttl(next.ExpiresAt)
	if err != nil {
		return err
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = s.now()
	}
	payload, err := json.Marshal(storedToken{UserID: next.UserID, ExpiresAt: next.ExpiresAt, CreatedAt: next.CreatedAt})
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	rotated, err := rotateScript.Run(ctx, s.rdb,
		[]string{tokenKey(oldHash), userTokensKey(old.UserID), tokenKey(next.TokenHash), userTokensKey(next.UserID)},
		oldHash, payload, ttl.Milliseconds(), next.TokenHash,
	).Int64()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if rotated == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteExpired prunes owner-set entries whose token key has already expired.
// Redis expires the token keys themselves.
func (s *TokenStore) DeleteExpired(ctx context.Context, _ time.Time) (int64, error) {
	if s.rdb == nil {
		return 0, errStoreUnavailable
	}
	var pruned int64
	iter := s.rdb.Scan(ctx, 0, userTokensKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		hashes, err := s.rdb.SMembers(ctx, setKey).Result()
		if err != nil {
			return pruned, fmt.Errorf("list user refresh tokens: %w", err)
		}
		for _, h := range hashes {
			exists, err := s.rdb.Exists(ctx, tokenKey(h)).Result()
			if err != nil {
				return pruned, fmt.Errorf("check refresh token: %w", err)
			}
			if exists == 0 {
				if err := s.rdb.SRem(ctx, setKey, h).Err(); err != nil {
					return pruned, fmt.Errorf("prune refresh token: %w", err)
				}
				pruned++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return pruned, fmt.Errorf("scan user refresh tokens: %w", err)
	}
	return pruned, nil
}
