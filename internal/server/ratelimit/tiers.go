package ratelimit

import (
	"net/http"
	"time"

	"github.com/maruel/secdb/internal/config"
)

// Tier is a named limiter.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Key returns the bucket key of a client in this tier.
func (t *Tier) Key(clientIP string) string {
	return t.Name + ":" + clientIP
}

// Tiers holds the limiters of the server. Every tier is keyed by client IP.
type Tiers struct {
	Write Tier
	Read  Tier
	// Auth is consumed by failed authentication attempts.
	Auth Tier
	// Limits is the configuration the tiers were built from.
	Limits config.RateLimits
}

// NewTiers builds the tiers from the per minute limits of the configuration.
func NewTiers(c config.RateLimits) *Tiers {
	return &Tiers{
		Write:  Tier{Name: "write", Limiter: NewLimiter(c.WritePerMin, time.Minute, burst(c.WritePerMin))},
		Read:   Tier{Name: "read", Limiter: NewLimiter(c.ReadPerMin, time.Minute, burst(c.ReadPerMin))},
		Auth:   Tier{Name: "auth", Limiter: NewLimiter(c.AuthPerMin, time.Minute, c.AuthPerMin)},
		Limits: c,
	}
}

func burst(perMin int) int {
	return max(perMin/10, 1)
}

// Match returns the tier of a request, or nil when it is not limited.
func (t *Tiers) Match(method, path string) *Tier {
	if path == "/api/health" {
		return nil
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return &t.Read
	default:
		return &t.Write
	}
}

// Close stops every limiter.
func (t *Tiers) Close() {
	t.Write.Limiter.Close()
	t.Read.Limiter.Close()
	t.Auth.Limiter.Close()
}
