package ratelimit

import (
	"math"
	"net/http"
	"strconv"
)

// WriteHeaders sets the X-RateLimit-* headers, and Retry-After when the
// request was denied. Unlimited results set nothing.
func WriteHeaders(h http.Header, res Result) {
	if res.Limit == 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(RetryAfterSeconds(res)))
	}
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at least 1.
func RetryAfterSeconds(res Result) int {
	return max(int(math.Ceil(res.RetryAfter.Seconds())), 1)
}
