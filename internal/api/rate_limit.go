package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/flagbooth/internal/ratelimit"
)

type RateLimiter = ratelimit.Limiter

// Tokens spent per metered request.
const (
	createRenderCost int64 = 1
	startRenderCost  int64 = 2
)

// renderCost returns the tokens a request spends, or 0 when it is not metered.
func renderCost(r *http.Request) int64 {
	if r.Method != http.MethodPost {
		return 0
	}
	switch routeLabel(r.URL.Path) {
	case "/v1/renders":
		return createRenderCost
	case "/v1/renders/{id}/start":
		return startRenderCost
	default:
		return 0
	}
}

func (s *Server) boothID(r *http.Request) string {
	if booth := strings.TrimSpace(r.Header.Get(s.userHeader)); booth != "" {
		return booth
	}
	return "anonymous"
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cost := renderCost(r)
		if cost == 0 {
			next.ServeHTTP(w, r)
			return
		}

		booth := s.boothID(r)
		decision, err := s.rateLimiter.Allow(r.Context(), booth, cost)
		if err != nil {
			// fail open
			s.logger.Printf("rate limit check failed booth=%s cost=%d err=%v", booth, cost, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))))
		s.metrics.throttled.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}
