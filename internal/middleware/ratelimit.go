package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter is a fixed-window counter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (ok bool, retryAfter time.Duration, err error)
}

// RedisLimiter keeps one counter per key and window in Redis, so limits
// hold across every instance of the API.
type RedisLimiter struct {
	rdb    redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(rdb redis.Cmdable, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := l.now()
	start := now.Truncate(window)
	k := fmt.Sprintf("%s:%s:%d", l.prefix, key, start.Unix())

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, err
	}
	if incr.Val() > int64(limit) {
		return false, start.Add(window).Sub(now), nil
	}
	return true, 0, nil
}

type memWindow struct {
	start time.Time
	end   time.Time
	count int
}

// MemoryLimiter is the single-process fallback when Redis is not configured.
// Closed windows are swept at most once per window length.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	swept   time.Time
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: map[string]*memWindow{}, now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, d time.Duration) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) >= d {
		l.sweep(now)
	}
	start := now.Truncate(d)
	w, ok := l.windows[key]
	if !ok || !w.start.Equal(start) {
		w = &memWindow{start: start, end: start.Add(d)}
		l.windows[key] = w
	}
	w.count++
	if w.count > limit {
		return false, w.end.Sub(now), nil
	}
	return true, 0, nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.end) {
			delete(l.windows, k)
		}
	}
	l.swept = now
}

// RateLimit allows limit requests per minute per client IP on this route.
// Limiter errors let the request through.
func RateLimit(l Limiter, name string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || limit <= 0 {
			c.Next()
			return
		}
		key := name + ":" + c.ClientIP()
		ok, retry, err := l.Allow(c.Request.Context(), key, limit, time.Minute)
		if err != nil {
			log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("limiter unavailable, allowing")
			c.Next()
			return
		}
		if !ok {
			secs := int(math.Ceil(retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			abort(c, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}
		c.Next()
	}
}
