package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/atriumhq/atrium/pkg/http"
)

// RateLimitConfig holds per-IP rate limiting configuration. This layer sits
// in front of the per-account limiters inside the services and caps raw
// request volume per client.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultAuthRateLimit caps credential-bearing endpoints at 5 requests per
// minute per IP.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Requests: 5,
		Window:   time.Minute,
	}
}

// RateLimitByIP limits requests by client IP using a sliding window.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded. Please try again later.")
		}),
	)
}
