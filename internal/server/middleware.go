package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/ksid"
	"github.com/maruel/secdb/internal/history"
	"github.com/maruel/secdb/internal/logging"
	"github.com/maruel/secdb/internal/metrics"
	"github.com/maruel/secdb/internal/server/dto"
	"github.com/maruel/secdb/internal/server/handlers"
	"github.com/maruel/secdb/internal/server/ratelimit"
	"github.com/maruel/secdb/internal/server/reqctx"
)

// statusRecorder remembers the status written by the next handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

// surface classifies a path for metrics.
func surface(path string) string {
	switch {
	case path == "/api/health":
		return "health"
	case strings.HasPrefix(path, "/api/"):
		return "api"
	case path == "/metrics":
		return "metrics"
	default:
		return "admin"
	}
}

// observe assigns a request id, resolves the client, and records the request
// in the audit log and the metrics once it has been served. Mutations are
// committed to the history.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := ksid.NewID().String()
		ip := reqctx.ClientIP(r)
		country := s.geo.CountryCode(ip)
		ctx := reqctx.WithRequestID(r.Context(), id)
		ctx = reqctx.WithClientIP(ctx, ip)
		ctx = reqctx.WithCountryCode(ctx, country)
		ctx, user := reqctx.WithUser(ctx)
		w.Header().Set("X-Request-Id", id)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)

		if isMutating(r.Method) && rec.status < http.StatusBadRequest && user.Name != "" && r.URL.Path != "/api/v1/token" {
			s.commit(r, user.Name)
		}
		s.audit.Log(ctx, &logging.Entry{
			RequestID: id,
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    rec.status,
			Duration:  elapsed,
			IP:        ip,
			Country:   country,
			User:      user.Name,
		})
		sf := surface(r.URL.Path)
		metrics.RequestsTotal.WithLabelValues(sf, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDurationSeconds.WithLabelValues(sf).Observe(elapsed.Seconds())
		slog.DebugContext(ctx, "Served", "method", r.Method, "path", r.URL.Path, "status", rec.status, "dur", elapsed, "ip", ip)
	})
}

// commit records the databases directory in the history, if enabled.
func (s *Server) commit(r *http.Request, user string) {
	if s.history == nil {
		return
	}
	cfg := s.cfg.Get()
	msg := r.Method + " " + r.URL.Path
	ok, err := s.history.Commit(r.Context(), history.Author{Name: user, Email: cfg.History.AuthorEmail}, msg)
	if err != nil {
		metrics.HistoryCommitFailuresTotal.Inc()
		slog.ErrorContext(r.Context(), "Failed to commit history", "err", err)
		return
	}
	if ok {
		metrics.HistoryCommitsTotal.Inc()
	}
}

// limit applies the read or write tier of the client.
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tiers := s.tiers.Load()
		tier := tiers.Match(r.Method, r.URL.Path)
		if tier == nil {
			next.ServeHTTP(w, r)
			return
		}
		res := tier.Limiter.Allow(tier.Key(reqctx.GetClientIP(r.Context())))
		ratelimit.WriteHeaders(w.Header(), res)
		if !res.Allowed {
			metrics.RateLimitedTotal.WithLabelValues(tier.Name).Inc()
			s.reject(w, r, dto.RateLimitExceeded(res.RetryAfter))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reject serves err as JSON on the API and as plain text elsewhere.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, err *dto.APIError) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		handlers.WriteError(r.Context(), w, err)
		return
	}
	http.Error(w, err.Message(), err.StatusCode())
}

// authFailed consumes the auth tier of the client. It returns false when the
// client is now throttled, in which case the response was written.
func (s *Server) authFailed(w http.ResponseWriter, r *http.Request, scheme string) bool {
	metrics.AuthFailuresTotal.WithLabelValues(scheme).Inc()
	ip := reqctx.GetClientIP(r.Context())
	slog.WarnContext(r.Context(), "Authentication failed", "scheme", scheme, "ip", ip, "path", r.URL.Path)
	tier := &s.tiers.Load().Auth
	if res := tier.Limiter.Allow(tier.Key(ip)); !res.Allowed {
		metrics.RateLimitedTotal.WithLabelValues(tier.Name).Inc()
		ratelimit.WriteHeaders(w.Header(), res)
		s.reject(w, r, dto.RateLimitExceeded(res.RetryAfter))
		return false
	}
	return true
}

// throttled rejects clients that exhausted their failed authentication
// budget, before looking at their credentials.
func (s *Server) throttled(w http.ResponseWriter, r *http.Request) bool {
	tier := &s.tiers.Load().Auth
	if !tier.Limiter.Exhausted(tier.Key(reqctx.GetClientIP(r.Context()))) {
		return false
	}
	metrics.RateLimitedTotal.WithLabelValues(tier.Name).Inc()
	w.Header().Set("Retry-After", "60")
	s.reject(w, r, dto.RateLimitExceeded(time.Minute))
	return true
}

// requireAdmin enforces HTTP Basic authentication with the administrator
// credentials.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.throttled(w, r) {
			return
		}
		user, pass, ok := r.BasicAuth()
		cfg := s.cfg.Get()
		// Sessions are keyed by the credential and the current account.
		session := r.Header.Get("Authorization") + "\x00" + cfg.Auth.Username + "\x00" + cfg.Auth.PasswordHash
		if !ok || (!s.sessions.Active(session) && !cfg.CheckPassword(user, pass)) {
			if !s.authFailed(w, r, "basic") {
				return
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="secdb", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		s.sessions.Touch(session)
		reqctx.SetUser(r.Context(), user)
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey enforces the API credentials: the shared secret in
// X-API-Key, or a bearer token issued by /api/v1/token.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.throttled(w, r) {
			return
		}
		cfg := s.cfg.Get()
		var principal, credential string
		if key := r.Header.Get("X-API-Key"); key != "" {
			if cfg.CheckAPIKey(key) {
				principal, credential = "api", key
			}
		} else if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			if claims, err := handlers.VerifyToken(cfg.Auth.APIKey, tok); err == nil {
				principal, credential = "token:"+claims.ID, tok
			}
		}
		if principal == "" {
			if !s.authFailed(w, r, "api") {
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="secdb"`)
			handlers.WriteError(r.Context(), w, dto.Unauthorized())
			return
		}
		s.sessions.Touch(credential)
		reqctx.SetUser(r.Context(), principal)
		next.ServeHTTP(w, r)
	})
}
