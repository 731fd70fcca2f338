package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/selim2309/TenantGate/internal/store"
)

// SessionCache is an optional Redis read-through cache in front of the
// credential store, keyed by session token with the credential's own
// expiry as TTL. Authorization checks are the hot path; the bbolt store
// stays authoritative.
type SessionCache struct {
	client *redis.Client
	prefix string
}

func NewSessionCache(addr, password string, db int) *SessionCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &SessionCache{client: client, prefix: "tenantgate:session:"}
}

// Put stores the credential until its natural expiry.
func (c *SessionCache) Put(ctx context.Context, cred store.Credential) error {
	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+cred.SessionToken, data, ttl).Err()
}

// Get returns the cached credential, or (nil, nil) on a miss.
func (c *SessionCache) Get(ctx context.Context, sessionToken string) (*store.Credential, error) {
	data, err := c.client.Get(ctx, c.prefix+sessionToken).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cred store.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decode cached credential: %w", err)
	}
	return &cred, nil
}

// Ping verifies connectivity at startup.
func (c *SessionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *SessionCache) Close() error {
	return c.client.Close()
}
