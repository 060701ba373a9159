// Package rate limita requests por clave (normalmente IP + ruta). Hay dos
// backends: fixed window en Redis, compartido entre procesos, y token bucket
// en memoria.
package rate

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"
	xrate "golang.org/x/time/rate"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// RedisLimiter cuenta hits por ventana fija; la clave expira con la ventana.
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "hl:rl:"
	}
	return &RedisLimiter{
		Client: client,
		Prefix: prefix,
		Max:    int64(max),
		Window: window,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	window := l.now().UTC().Truncate(l.Window).Unix()
	redisKey := l.Prefix + strings.ReplaceAll(key, " ", "_") + ":" + strconv.FormatInt(window, 10)

	var (
		incr *rdb.IntCmd
		ttl  *rdb.DurationCmd
	)
	_, err := l.Client.TxPipelined(ctx, func(p rdb.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.ExpireNX(ctx, redisKey, l.Window)
		ttl = p.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	hits := incr.Val()
	res := Result{
		Allowed:     hits <= l.Max,
		Remaining:   max(l.Max-hits, 0),
		CurrentHits: hits,
		WindowTTL:   ttl.Val(),
	}
	if !res.Allowed {
		res.RetryAfter = res.WindowTTL
		if res.RetryAfter <= 0 {
			res.RetryAfter = l.Window
		}
	}
	return res, nil
}

// MemoryLimiter es un token bucket por clave: Max requests de ráfaga,
// recargando Max tokens por Window. Los buckets sin uso durante IdleTTL se
// descartan en Sweep.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   xrate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *xrate.Limiter
	seen time.Time
}

// DefaultIdleTTL es el tiempo sin uso tras el cual Sweep descarta un bucket.
const DefaultIdleTTL = 5 * time.Minute

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		buckets: map[string]*bucket{},
		limit:   xrate.Limit(float64(max) / window.Seconds()),
		burst:   max,
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := m.now()

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: xrate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = b
	}
	b.seen = now
	m.mu.Unlock()

	res := Result{Allowed: b.lim.AllowN(now, 1)}
	res.Remaining = int64(math.Max(0, math.Floor(b.lim.TokensAt(now))))
	if !res.Allowed {
		r := b.lim.ReserveN(now, 1)
		res.RetryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}
	return res, nil
}

// Sweep descarta los buckets inactivos y retorna cuántos quedaron.
func (m *MemoryLimiter) Sweep() int {
	cutoff := m.now().Add(-m.idleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, b := range m.buckets {
		if b.seen.Before(cutoff) {
			delete(m.buckets, k)
		}
	}
	return len(m.buckets)
}
