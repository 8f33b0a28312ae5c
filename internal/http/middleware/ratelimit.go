// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Rate limiting is per caller and tiered. Every request draws one token from
// the caller's general bucket. Requests that may reach a paid language model
// (see AnswerRoutes) also draw from a smaller answer bucket, so browsing
// documents never eats into a user's question budget and a loop of questions
// cannot outrun the answer rate. Buckets live in process memory.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Tier names, used as the "tier" label and in 429 bodies.
const (
	TierGeneral = "general"
	TierAnswer  = "answer"
)

const (
	bucketIdleTTL  = 10 * time.Minute
	sweepEveryN    = 1024
	errCodeLimited = "rate_limited"
)

var rateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by tier.",
	},
	[]string{"tier"},
)

func init() {
	prometheus.MustRegister(rateLimited)
}

type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by the caller identity UserIdentity stored, or
// by client IP for anonymous requests.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get(UserIDKey); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// AnswerRoutes matches the routes that can spend provider tokens: posting a
// conversation message and the stateless answer endpoint.
func AnswerRoutes() func(*gin.Context) bool {
	return func(c *gin.Context) bool {
		if c.Request.Method != http.MethodPost {
			return false
		}
		route := c.FullPath()
		return strings.HasSuffix(route, "/conversations/:id/messages") || strings.HasSuffix(route, "/answer")
	}
}

// Tier is one token-bucket budget.
type Tier struct {
	Name  string
	RPS   float64
	Burst int
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type tierBuckets struct {
	tier    Tier
	buckets map[string]*bucket
}

func newTierBuckets(t Tier) *tierBuckets {
	if t.Burst < 1 {
		t.Burst = 1
	}
	return &tierBuckets{tier: t, buckets: make(map[string]*bucket)}
}

// RateLimiter enforces the general tier on every request and, once
// WithAnswerTier is called, the answer tier on matching requests.
type RateLimiter struct {
	keyFn  keyFunc
	costly func(*gin.Context) bool
	now    func() time.Time

	mu      sync.Mutex
	general *tierBuckets
	answer  *tierBuckets
	lookups uint64
	idleTTL time.Duration
}

// NewRateLimiter returns a limiter with only the general tier. A burst below
// one is raised to one.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return &RateLimiter{
		keyFn:   keyFn,
		now:     time.Now,
		general: newTierBuckets(Tier{Name: TierGeneral, RPS: rps, Burst: burst}),
		idleTTL: bucketIdleTTL,
	}
}

// WithAnswerTier adds a second budget charged only when match reports true.
func (rl *RateLimiter) WithAnswerTier(rps float64, burst int, match func(*gin.Context) bool) *RateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.answer = newTierBuckets(Tier{Name: TierAnswer, RPS: rps, Burst: burst})
	rl.costly = match
	return rl
}

// reserve takes a reservation from key's bucket in tb, creating the bucket
// on first use. Idle buckets in every tier are swept every sweepEveryN calls.
func (rl *RateLimiter) reserve(tb *tierBuckets, key string, now time.Time) *rate.Reservation {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups%sweepEveryN == 0 {
		rl.sweepLocked(now)
	}

	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(tb.tier.RPS), tb.tier.Burst)}
		tb.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.ReserveN(now, 1)
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for _, tb := range []*tierBuckets{rl.general, rl.answer} {
		if tb == nil {
			continue
		}
		for k, b := range tb.buckets {
			if now.Sub(b.lastSeen) > rl.idleTTL {
				delete(tb.buckets, k)
			}
		}
	}
}

func (rl *RateLimiter) tiersFor(c *gin.Context) []*tierBuckets {
	rl.mu.Lock()
	answer, costly := rl.answer, rl.costly
	rl.mu.Unlock()
	if answer != nil && costly != nil && costly(c) {
		return []*tierBuckets{rl.general, answer}
	}
	return []*tierBuckets{rl.general}
}

// IsRateBypass reports whether IdempotencyValidator marked this request for
// bypass. Replays return a stored reply and cost nothing.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the Gin middleware.
//
// A request is admitted only when every applicable tier has a token. When a
// tier refuses, tokens already taken from earlier tiers are handed back so a
// rejected question does not also shrink the general budget. Rejections get
// 429 with Retry-After set to the whole seconds until the refusing bucket
// refills, and a JSON body naming the tier.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		key := rl.keyFn(c)
		now := rl.now()

		var taken []*rate.Reservation
		for _, tb := range rl.tiersFor(c) {
			res := rl.reserve(tb, key, now)
			wait := res.DelayFrom(now)
			if res.OK() && wait == 0 {
				taken = append(taken, res)
				continue
			}
			res.CancelAt(now)
			for _, r := range taken {
				r.CancelAt(now)
			}
			rateLimited.WithLabelValues(tb.tier.Name).Inc()
			c.Header("Retry-After", retryAfter(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       errCodeLimited,
				"message":    tb.tier.Name + " rate limit exceeded",
				"tier":       tb.tier.Name,
			})
			return
		}
		c.Next()
	}
}

// retryAfter renders a wait as Retry-After seconds, never less than one.
// A bucket that will never refill also reports one.
func retryAfter(wait time.Duration) string {
	if wait <= 0 || wait == rate.InfDuration {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(wait.Seconds())))
}
