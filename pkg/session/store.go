// Package session provides the server-side session store: an opaque
// identifier carried in a cookie, mapped to a small key/value bag in Redis.
package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/tomewiki/tome/pkg/config"
)

// Well-known session keys. The api_* variants carry the identity resolved
// from an API key instead of a login session.
const (
	KeyUserID   = "user_id"
	KeyUsername = "username"
	KeyRoleID   = "role_id"

	KeyAPIUserID   = "api_user_id"
	KeyAPIUsername = "api_username"
	KeyAPIRoleID   = "api_role_id"
)

// identityKeys are the keys dropped when a session is cleared
var identityKeys = []string{
	KeyUserID, KeyUsername, KeyRoleID,
	KeyAPIUserID, KeyAPIUsername, KeyAPIRoleID,
}

// Store maps opaque session identifiers to key/value bags in Redis
type Store struct {
	client       *redis.Client
	cookieName   string
	ttl          time.Duration
	cookieSecure bool
}

// NewStore connects to Redis and returns a session store
func NewStore(storageCfg config.StorageConfig, sessionCfg config.SessionConfig) (*Store, error) {
	opts, err := redis.ParseURL(storageCfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if storageCfg.RedisPassword != "" {
		opts.Password = storageCfg.RedisPassword
	}
	if storageCfg.RedisDB >= 0 {
		opts.DB = storageCfg.RedisDB
	}
	if storageCfg.RedisPoolSize > 0 {
		opts.PoolSize = storageCfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewStoreWithClient(client, sessionCfg), nil
}

// NewStoreWithClient wraps an existing Redis client (used by tests)
func NewStoreWithClient(client *redis.Client, sessionCfg config.SessionConfig) *Store {
	return &Store{
		client:       client,
		cookieName:   sessionCfg.CookieName,
		ttl:          sessionCfg.TTL,
		cookieSecure: sessionCfg.CookieSecure,
	}
}

// CookieName returns the configured session cookie name
func (s *Store) CookieName() string {
	return s.cookieName
}

func (s *Store) redisKey(sessionID string) string {
	return "session:" + sessionID
}

// SessionID extracts the session identifier from the request cookie
func (s *Store) SessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// GetOrCreate returns the request's session identifier, creating a fresh
// session and setting the cookie when none exists
func (s *Store) GetOrCreate(w http.ResponseWriter, r *http.Request) string {
	if sid, ok := s.SessionID(r); ok {
		return sid
	}

	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})
	return sid
}

// Set stores a value in the session bag and refreshes the TTL
func (s *Store) Set(ctx context.Context, sessionID, key, value string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.redisKey(sessionID), key, value)
	pipe.Expire(ctx, s.redisKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set session value: %w", err)
	}
	return nil
}

// SetAll stores multiple values in one round trip
func (s *Store) SetAll(ctx context.Context, sessionID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.redisKey(sessionID), args...)
	pipe.Expire(ctx, s.redisKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set session values: %w", err)
	}
	return nil
}

// Get retrieves a single value from the session bag. A missing key or
// missing session yields an empty string, not an error.
func (s *Store) Get(ctx context.Context, sessionID, key string) (string, error) {
	val, err := s.client.HGet(ctx, s.redisKey(sessionID), key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session value: %w", err)
	}
	return val, nil
}

// Values retrieves the whole session bag
func (s *Store) Values(ctx context.Context, sessionID string) (map[string]string, error) {
	vals, err := s.client.HGetAll(ctx, s.redisKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return vals, nil
}

// Delete removes a single key from the session bag
func (s *Store) Delete(ctx context.Context, sessionID, key string) error {
	if err := s.client.HDel(ctx, s.redisKey(sessionID), key).Err(); err != nil {
		return fmt.Errorf("failed to delete session value: %w", err)
	}
	return nil
}

// ClearIdentity drops all identity keys from the session while keeping the
// session itself alive. Used when a cached user no longer resolves.
func (s *Store) ClearIdentity(ctx context.Context, sessionID string) error {
	if err := s.client.HDel(ctx, s.redisKey(sessionID), identityKeys...).Err(); err != nil {
		return fmt.Errorf("failed to clear session identity: %w", err)
	}
	return nil
}

// Destroy removes the session entirely
func (s *Store) Destroy(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// ExpireCookie returns a cookie that removes the session cookie client-side
func (s *Store) ExpireCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
}
