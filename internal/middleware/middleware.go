// Package middleware holds the echo middleware shared by the web and JSON
// routes.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/ytakahashi/firetodo/internal/herr"
	"github.com/ytakahashi/firetodo/internal/session"
	"golang.org/x/time/rate"
)

// RequestID tags every request with a uuid in X-Request-Id.
func RequestID() echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	})
}

// Logger writes one slog line per request.
func Logger(log *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"ip", v.RemoteIP,
				"duration", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				log.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			log.Info("request completed", attrs...)
			return nil
		},
	})
}

// RequireUser rejects requests whose session has nobody signed in.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, ok := session.FromContext(c)
			if !ok {
				return herr.Unauthorized(errors.New("no session"), "No session data on context")
			}
			if _, ok := s.App().User(); !ok {
				return herr.Unauthorized(errors.New("no user"), "No active user on session")
			}
			return next(c)
		}
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	rps      float64
	burst    int
	limiters sync.Map
	log      *slog.Logger
}

func NewRateLimiter(rps float64, burst int, log *slog.Logger) *RateLimiter {
	return &RateLimiter{rps: rps, burst: burst, log: log}
}

// Allow reports whether ip may make another request now.
func (rl *RateLimiter) Allow(ip string) bool {
	value, ok := rl.limiters.Load(ip)
	if !ok {
		value, _ = rl.limiters.LoadOrStore(ip, &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		})
	}
	entry := value.(*limiterEntry)
	entry.lastSeen.Store(time.Now().UnixNano())
	return entry.limiter.Allow()
}

// Cleanup forgets IPs not seen for maxAge every interval until ctx ends.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.prune(time.Now(), maxAge)
		}
	}
}

func (rl *RateLimiter) prune(now time.Time, maxAge time.Duration) int {
	n := 0
	rl.limiters.Range(func(key, value any) bool {
		lastSeen := time.Unix(0, value.(*limiterEntry).lastSeen.Load())
		if now.Sub(lastSeen) > maxAge {
			rl.limiters.Delete(key)
			n++
		}
		return true
	})
	return n
}

// Middleware answers 429 once an IP exceeds its budget.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.Allow(ip) {
				rl.log.Warn("too many requests", "ip", ip)
				return &herr.Error{
					HTTPMessage: "Too Many Requests",
					Desc:        "rate limited",
					Code:        http.StatusTooManyRequests,
				}
			}
			return next(c)
		}
	}
}

// IPExtractor picks the client address used for rate limiting. Forwarded
// headers are only read when the server sits behind a trusted proxy, and
// then only the hop the proxy appended counts.
func IPExtractor(behindProxy bool) echo.IPExtractor {
	if behindProxy {
		return echo.ExtractIPFromXFFHeader()
	}
	return echo.ExtractIPDirect()
}
