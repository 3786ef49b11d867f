package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"daoboard/api/internal/tenant"
)

// DefaultCacheTTL bounds how stale a cached chain read can be. Status
// computed near a transition boundary may lag by up to one TTL window;
// that staleness is the accepted tradeoff for not hammering the RPC.
const DefaultCacheTTL = 2 * time.Minute

// CachedClient wraps a Client with a redis TTL cache. The cache is an
// optimization only: a redis failure falls through to the origin and is
// logged, never surfaced as a computation error.
type CachedClient struct {
	inner  Client
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewCachedClient connects to redis and wraps inner.
func NewCachedClient(inner Client, redisURL string, ttl time.Duration) (*CachedClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewCachedClientWith(inner, client, ttl), nil
}

// NewCachedClientWith wraps an existing redis client.
func NewCachedClientWith(inner Client, client *redis.Client, ttl time.Duration) *CachedClient {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedClient{
		inner:  inner,
		client: client,
		ttl:    ttl,
		prefix: "chain:",
	}
}

func (c *CachedClient) Close() error {
	return c.client.Close()
}

func (c *CachedClient) key(parts ...string) string {
	key := c.prefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

func (c *CachedClient) LatestClock(ctx context.Context) (Clock, error) {
	key := c.key("clock")
	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		var clock Clock
		if err := json.Unmarshal([]byte(raw), &clock); err == nil {
			return clock, nil
		}
	} else if err != redis.Nil {
		log.Printf("chain cache read failed for %s: %v", key, err)
	}

	clock, err := c.inner.LatestClock(ctx)
	if err != nil {
		return Clock{}, err
	}
	c.set(ctx, key, clock)
	return clock, nil
}

func (c *CachedClient) VotableSupply(ctx context.Context, t tenant.Tenant) (*big.Int, error) {
	key := c.key(t.Slug, "supply")
	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		if supply, ok := new(big.Int).SetString(raw, 10); ok {
			return supply, nil
		}
	} else if err != redis.Nil {
		log.Printf("chain cache read failed for %s: %v", key, err)
	}

	supply, err := c.inner.VotableSupply(ctx, t)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, supply.String(), c.ttl).Err(); err != nil {
		log.Printf("chain cache write failed for %s: %v", key, err)
	}
	return supply, nil
}

func (c *CachedClient) ProposalState(ctx context.Context, t tenant.Tenant, proposalID string) (State, error) {
	key := c.key(t.Slug, "state", proposalID)
	if raw, err := c.client.Get(ctx, key).Result(); err == nil && len(raw) == 1 {
		return State(raw[0] - '0'), nil
	} else if err != nil && err != redis.Nil {
		log.Printf("chain cache read failed for %s: %v", key, err)
	}

	state, err := c.inner.ProposalState(ctx, t, proposalID)
	if err != nil {
		return 0, err
	}
	if err := c.client.Set(ctx, key, string('0'+byte(state)), c.ttl).Err(); err != nil {
		log.Printf("chain cache write failed for %s: %v", key, err)
	}
	return state, nil
}

func (c *CachedClient) set(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Printf("chain cache write failed for %s: %v", key, err)
	}
}
