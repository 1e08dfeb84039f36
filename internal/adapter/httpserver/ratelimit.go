package httpserver

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/renopulse/internal/platform/errors"
	"golang.org/x/time/rate"
)

// publisherIdleExpiry drops the bucket of a publisher that has been quiet this long.
const publisherIdleExpiry = 5 * time.Minute

// newPublishRateLimiter gives every publishing client IP its own token bucket. A denied publish
// is answered with a structured 429 naming the topic, plus a Retry-After hint of one token.
func newPublishRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(1 / perSecond)))

	buckets := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: publisherIdleExpiry,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: buckets,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, publisher string, _ error) error {
			c.Response().Header().Set(echo.HeaderRetryAfter, retryAfter)
			return apperrors.RateLimitedError("publish rate limit exceeded").
				WithField("publisher", publisher).
				WithField("topic", c.Param("topic"))
		},
	})
}
