package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/cutout/internal/ratelimit"
	"github.com/dunamismax/cutout/internal/requestip"
	"github.com/dunamismax/cutout/internal/security"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit throttles POST routes per API key, or per client IP when
// the request carries none. Limiter failures let the request through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		subject := rateLimitSubject(r, s)
		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			s.logger.Printf("rate limiter check failed subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Retry-After", strconv.FormatInt(max(1, decision.RetryAfterSeconds()), 10))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, httpError{Message: "rate limit exceeded"})
	})
}

func rateLimitSubject(r *http.Request, s *Server) string {
	subject := strings.TrimSpace(r.Header.Get(security.HeaderAPIKey))
	if subject == "" {
		subject = "ip:" + requestip.ClientIP(r, s.trusted)
	} else {
		subject = "key:" + subject
	}
	return subject + ":" + routeLabel(r.URL.Path)
}
