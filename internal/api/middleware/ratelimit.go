package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "bpcmon_limiter"

// NewRateLimiter creates a per client IP rate limiting middleware allowing
// requests per period. Counters live in Redis when client is not nil, in
// process memory otherwise.
func NewRateLimiter(requests int64, period time.Duration, client redis.UniversalClient) (gin.HandlerFunc, error) {
	if requests <= 0 || period <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d per %s", requests, period)
	}

	rate := limiter.Rate{
		Period: period,
		Limit:  requests,
	}

	var store limiter.Store
	if client != nil {
		s, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: rateLimitPrefix})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: rateLimitPrefix})
	}

	return mgin.NewMiddleware(limiter.New(store, rate)), nil
}
