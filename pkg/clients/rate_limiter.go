package clients

import (
	"golang.org/x/time/rate"
)

// NewRateLimiter creates a token bucket limiter with the specified rate
// (requests per second) and burst size. A burst below 1 is raised to 1.
func NewRateLimiter(requestsPerSecond float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
