package ratelimiting

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Consume(key string) bool
}

type tokenBucketRateLimiter struct {
	limiterByKey    *ttlcache.Cache[string, *rate.Limiter]
	refillPerSecond rate.Limit
	burstSize       int
	nowFunc         func() time.Time
}

func (rateLimiter *tokenBucketRateLimiter) Consume(key string) bool {
	limiter, _ := rateLimiter.limiterByKey.GetOrSet(key, rate.NewLimiter(rateLimiter.refillPerSecond, rateLimiter.burstSize))
	return limiter.Value().AllowN(rateLimiter.nowFunc(), 1)
}

type RefillPerSecond float64
type BurstSize int

// RefillEvery returns the refill rate giving one token per interval
func RefillEvery(interval time.Duration) RefillPerSecond {
	return RefillPerSecond(rate.Every(interval))
}

func NewTokenBucketRateLimiter(refillPerSecond RefillPerSecond, burstSize BurstSize, nowFunc func() time.Time) (RateLimiter, func()) {
	limiterTTLCache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](30 * time.Minute),
	)
	go limiterTTLCache.Start()

	return &tokenBucketRateLimiter{
		limiterByKey:    limiterTTLCache,
		refillPerSecond: rate.Limit(refillPerSecond),
		burstSize:       int(burstSize),
		nowFunc:         nowFunc,
	}, limiterTTLCache.Stop
}

type RequestRateLimiter interface {
	Consume(r *http.Request) bool
	KeyFor(r *http.Request) string
}

type requestBasedRateLimiter struct {
	limiter RateLimiter
	keyFunc func(r *http.Request) string
}

func (rateLimiter *requestBasedRateLimiter) Consume(r *http.Request) bool {
	return rateLimiter.limiter.Consume(rateLimiter.keyFunc(r))
}

func (rateLimiter *requestBasedRateLimiter) KeyFor(r *http.Request) string {
	return rateLimiter.keyFunc(r)
}

func NewRequestBasedRateLimiter(limiter RateLimiter, keyFunc func(r *http.Request) string) RequestRateLimiter {
	return &requestBasedRateLimiter{
		limiter: limiter,
		keyFunc: keyFunc,
	}
}

func IPKeyFunc(r *http.Request) string {
	withoutPort := r.RemoteAddr

	portIndex := strings.LastIndexByte(r.RemoteAddr, ':')
	if portIndex != -1 && !strings.HasSuffix(r.RemoteAddr, "]") {
		withoutPort = r.RemoteAddr[:portIndex]
	}

	return fmt.Sprintf("ip: %s", withoutPort)
}

// Key for the per chatter command cooldown
func ChatUserKey(username string) string {
	return fmt.Sprintf("chat-user: %.50s", strings.ToLower(username))
}
