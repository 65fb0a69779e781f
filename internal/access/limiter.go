package access

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ViewQuota maps tier to the daily distinct lead-detail view quota.
var ViewQuota = map[string]int{
	"scout":     20,
	"operator":  100,
	"sovereign": 1000,
}

// SessionQuota maps tier to the concurrent active session quota.
var SessionQuota = map[string]int{
	"scout":     1,
	"operator":  3,
	"sovereign": 10,
}

// Counter tracks per-key counts with a time window, backing
// DailyViewLimit. Incr reports the count after incrementing.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int, error)
}

// Gauge tracks per-key concurrent membership, backing SessionLimit.
// Add reports the size after adding member; Remove evicts it.
type Gauge interface {
	Add(ctx context.Context, key, member string, ttl time.Duration) (int, error)
	Remove(ctx context.Context, key, member string) error
}

// InMemoryCounter is an in-process Counter (one map behind one mutex),
// used when redis.addr is unset. Mirrors the teacher's per-IP rate limiter map-plus-mutex shape,
// generalized to arbitrary keys and windows instead of a token bucket.
type InMemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*countBucket
}

type countBucket struct {
	count     int
	expiresAt time.Time
}

// NewInMemoryCounter constructs an InMemoryCounter and starts its
// background sweep of expired buckets.
func NewInMemoryCounter() *InMemoryCounter {
	c := &InMemoryCounter{buckets: make(map[string]*countBucket)}
	go c.sweep()
	return c
}

func (c *InMemoryCounter) sweep() {
	for {
		time.Sleep(5 * time.Minute)
		now := time.Now()
		c.mu.Lock()
		for k, b := range c.buckets {
			if now.After(b.expiresAt) {
				delete(c.buckets, k)
			}
		}
		c.mu.Unlock()
	}
}

func (c *InMemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	b, ok := c.buckets[key]
	if !ok || now.After(b.expiresAt) {
		b = &countBucket{expiresAt: now.Add(window)}
		c.buckets[key] = b
	}
	b.count++
	return b.count, nil
}

// RedisCounter is a Counter backed by Redis INCR+EXPIRE, for multi-replica
// API deployments (redis.addr configured).
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter constructs a RedisCounter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return int(n), nil
}

// InMemorySessionGauge is a Gauge backed by an in-process map of
// member->expiry per key, used when redis.addr is unset.
type InMemorySessionGauge struct {
	mu    sync.Mutex
	sets  map[string]map[string]time.Time
}

// NewInMemorySessionGauge constructs an InMemorySessionGauge.
func NewInMemorySessionGauge() *InMemorySessionGauge {
	return &InMemorySessionGauge{sets: make(map[string]map[string]time.Time)}
}

func (g *InMemorySessionGauge) Add(_ context.Context, key, member string, ttl time.Duration) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	members, ok := g.sets[key]
	if !ok {
		members = make(map[string]time.Time)
		g.sets[key] = members
	}
	for m, exp := range members {
		if now.After(exp) {
			delete(members, m)
		}
	}
	members[member] = now.Add(ttl)
	return len(members), nil
}

func (g *InMemorySessionGauge) Remove(_ context.Context, key, member string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if members, ok := g.sets[key]; ok {
		delete(members, member)
	}
	return nil
}

// RedisSessionGauge is a Gauge backed by a Redis hash of member->expiry
// timestamps, for multi-replica deployments.
type RedisSessionGauge struct {
	client *redis.Client
}

// NewRedisSessionGauge constructs a RedisSessionGauge.
func NewRedisSessionGauge(client *redis.Client) *RedisSessionGauge {
	return &RedisSessionGauge{client: client}
}

func (r *RedisSessionGauge) Add(ctx context.Context, key, member string, ttl time.Duration) (int, error) {
	now := time.Now()
	if err := r.client.HSet(ctx, key, member, now.Add(ttl).Unix()).Err(); err != nil {
		return 0, fmt.Errorf("redis hset %s: %w", key, err)
	}
	all, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	active := 0
	for m, expStr := range all {
		var exp int64
		fmt.Sscanf(expStr, "%d", &exp)
		if now.Unix() > exp {
			r.client.HDel(ctx, key, m)
			continue
		}
		active++
	}
	return active, nil
}

func (r *RedisSessionGauge) Remove(ctx context.Context, key, member string) error {
	return r.client.HDel(ctx, key, member).Err()
}

// DailyViewLimit rejects the request once today's distinct lead-detail
// views for the authenticated account's tier exceed quota. Distinctness
// is keyed by (user, lead id, UTC day); repeat views of the same lead on
// the same day are free.
func DailyViewLimit(counter Counter) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := AccountFromCtx(c)
		if acct == nil {
			c.Next()
			return
		}
		quota, ok := ViewQuota[acct.Tier]
		if !ok {
			c.Next()
			return
		}

		leadID := c.Param("id")
		day := time.Now().UTC().Format("2006-01-02")
		key := fmt.Sprintf("viewlimit:%s:%s:%s", acct.ID, day, leadID)
		n, err := counter.Incr(c.Request.Context(), key, 25*time.Hour)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "view counter unavailable"})
			return
		}
		if n > quota {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "RateLimited", "message": "daily lead-view quota exceeded"})
			return
		}
		c.Next()
	}
}

// SessionLimit enforces a cap on concurrent active sessions per account,
// keyed by the token's jti. Gauge.Remove(ctx, key, jti) frees a session's
// slot.
func SessionLimit(gauge Gauge, sessionTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := AccountFromCtx(c)
		claims := ClaimsFromCtx(c)
		if acct == nil || claims == nil {
			c.Next()
			return
		}
		quota, ok := SessionQuota[acct.Tier]
		if !ok {
			c.Next()
			return
		}

		key := "sessions:" + acct.ID
		n, err := gauge.Add(c.Request.Context(), key, claims.ID, sessionTTL)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "session tracker unavailable"})
			return
		}
		if n > quota {
			_ = gauge.Remove(c.Request.Context(), key, claims.ID)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "RateLimited", "message": "concurrent session quota exceeded"})
			return
		}
		c.Next()
	}
}
