// Package reqctx carries per request metadata in the context.
package reqctx

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address of the client that sent r.
//
// X-Forwarded-For and X-Real-IP are only honored when the peer is a loopback
// address, i.e. a reverse proxy running on the same host.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.Trim(r.RemoteAddr, "[]")
	}
	if addr, err := netip.ParseAddr(host); err != nil || !addr.IsLoopback() {
		return host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return host
}

type contextKey string

const (
	keyRequestID   contextKey = "requestID"
	keyClientIP    contextKey = "clientIP"
	keyCountryCode contextKey = "countryCode"
	keyUser        contextKey = "user"
)

// WithRequestID adds the request id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID returns the request id from the context.
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(keyRequestID).(string)
	return s
}

// WithClientIP adds the client IP to the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, keyClientIP, ip)
}

// GetClientIP returns the client IP from the context.
func GetClientIP(ctx context.Context) string {
	s, _ := ctx.Value(keyClientIP).(string)
	return s
}

// WithCountryCode adds the client country code to the context.
func WithCountryCode(ctx context.Context, cc string) context.Context {
	return context.WithValue(ctx, keyCountryCode, cc)
}

// CountryCode returns the client country code from the context.
func CountryCode(ctx context.Context) string {
	s, _ := ctx.Value(keyCountryCode).(string)
	return s
}

// User is the authenticated principal of a request. It is stored as a pointer
// so that authentication middleware deeper in the chain can fill it in for
// the outer audit middleware.
type User struct {
	Name string
}

// WithUser adds an empty principal to the context and returns it.
func WithUser(ctx context.Context) (context.Context, *User) {
	u := &User{}
	return context.WithValue(ctx, keyUser, u), u
}

// SetUser records the authenticated principal, if the context carries one.
func SetUser(ctx context.Context, name string) {
	if u, ok := ctx.Value(keyUser).(*User); ok {
		u.Name = name
	}
}

// GetUser returns the authenticated principal name, or "".
func GetUser(ctx context.Context) string {
	if u, ok := ctx.Value(keyUser).(*User); ok {
		return u.Name
	}
	return ""
}
