package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimit 按客户端来源限流：窗口内允许 maxRequests 次请求,
// 额度随时间匀速回填。maxRequests 或 window 非正时不启用。
func RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	if maxRequests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := &bucketLimiter{
		capacity: float64(maxRequests),
		rate:     float64(maxRequests) / window.Seconds(),
		buckets:  make(map[string]*bucket),
	}
	retryAfter := strconv.Itoa(int(window.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientKey(r), time.Now()) {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bucketLimiter 为每个来源维护一只令牌桶，按需惰性回填。
type bucketLimiter struct {
	capacity float64
	rate     float64 // 每秒回填的令牌数

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

func (l *bucketLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= 4096 {
			l.sweepLocked(now)
		}
		b = &bucket{tokens: l.capacity, lastSeen: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Seconds()
		b.tokens = min(l.capacity, b.tokens+elapsed*l.rate)
		b.lastSeen = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweepLocked 淘汰已回满额度的闲置桶，防止表无界增长。
func (l *bucketLimiter) sweepLocked(now time.Time) {
	idle := l.capacity / l.rate
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen).Seconds() >= idle {
			delete(l.buckets, key)
		}
	}
}

func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
