package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/sattu-dealer/Image-Tools/internal/ratelimit"
	"go.uber.org/zap"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

// withRateLimit charges one token per delete. Processing routes are charged
// by their handlers once the options are parsed, see admitProcessing.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/images") && !s.admit(w, r, 1) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// admitProcessing charges the encoder passes opts can cost.
func (s *Server) admitProcessing(w http.ResponseWriter, r *http.Request, opts domain.Options) bool {
	if s.rateLimiter == nil {
		return true
	}
	return s.admit(w, r, ratelimit.Cost(opts, s.searchIterations))
}

// admit charges cost tokens to the caller's bucket for the route and writes
// the 429 when refused. Limiter outages let requests through.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, cost int64) bool {
	subject := ownerOf(r)
	if subject == "" {
		subject = "anonymous"
	}
	route := routeLabel(r.URL.Path)
	subject += ":" + route

	decision, err := s.rateLimiter.Allow(r.Context(), subject, cost)
	if err != nil {
		s.logger.Warn("rate limiter check failed", zap.String("subject", subject), zap.Error(err))
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	w.Header().Set("X-RateLimit-Cost", strconv.FormatInt(decision.Cost, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
	writeJSON(w, http.StatusTooManyRequests, errorBody("rate limit exceeded"))
	return false
}
