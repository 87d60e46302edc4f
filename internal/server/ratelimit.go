package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds request volume. GlobalRPS applies to every route;
// ConversionLimit applies per client to requests that may register a stream
// with the relay. A RedisAddr shares conversion counters across processes.
type RateLimitConfig struct {
	GlobalRPS        float64
	GlobalBurst      int
	ConversionLimit  int
	ConversionWindow time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisTimeout     time.Duration
}

type rateLimiter struct {
	global            *rate.Limiter
	conversionLimit   int
	conversionWindow  time.Duration
	conversionMu      sync.Mutex
	conversionBuckets map[string]*ipLimiter
	store             tokenStore
	now               func() time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type tokenStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
	Close() error
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		conversionLimit:   cfg.ConversionLimit,
		conversionWindow:  cfg.ConversionWindow,
		conversionBuckets: make(map[string]*ipLimiter),
		now:               time.Now,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.conversionLimit < 0 {
		rl.conversionLimit = 0
	}
	if rl.conversionWindow <= 0 {
		rl.conversionWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.conversionLimit > 0 {
		rl.store = newRedisStore(redisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Timeout:  cfg.RedisTimeout,
		})
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.AllowN(r.now(), 1)
}

// AllowConversion charges one conversion request against key's budget. A
// denied request reports how long until the client's next token.
func (r *rateLimiter) AllowConversion(key string) (bool, time.Duration, error) {
	if r == nil || r.conversionLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow("zowie:conversion:"+key, r.conversionLimit, r.conversionWindow)
	}

	now := r.now()
	r.conversionMu.Lock()
	entry, exists := r.conversionBuckets[key]
	if !exists {
		every := rate.Every(r.conversionWindow / time.Duration(r.conversionLimit))
		entry = &ipLimiter{limiter: rate.NewLimiter(every, r.conversionLimit)}
		r.conversionBuckets[key] = entry
	}
	entry.lastSeen = now
	r.cleanupLocked(now)
	r.conversionMu.Unlock()

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, r.conversionWindow, nil
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0, nil
	}
	reservation.CancelAt(now)
	return false, delay, nil
}

func (r *rateLimiter) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

func (r *rateLimiter) cleanupLocked(now time.Time) {
	if len(r.conversionBuckets) == 0 {
		return
	}
	cutoff := now.Add(-2 * r.conversionWindow)
	for key, entry := range r.conversionBuckets {
		if entry.lastSeen.Before(cutoff) {
			delete(r.conversionBuckets, key)
		}
	}
}
