// Package metrics exposes Prometheus collectors for the application.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ytakahashi/firetodo/internal/store"
)

var (
	actionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firetodo_actions_dispatched_total",
		Help: "State store actions dispatched, by type.",
	}, []string{"type"})

	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firetodo_active_subscriptions",
		Help: "Live todo queries currently open.",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firetodo_active_sessions",
		Help: "Sessions with an application instance in memory.",
	})

	liveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firetodo_live_connections",
		Help: "Open websocket connections.",
	})

	authAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firetodo_auth_attempts_total",
		Help: "Sign-in and registration attempts, by method and result code.",
	}, []string{"method", "code"})

	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firetodo_http_request_duration_seconds",
		Help:    "HTTP request latency, by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveAction counts a dispatched action. It is a store observer.
func ObserveAction(a store.Action) {
	actionsDispatched.WithLabelValues(a.Type()).Inc()
}

func SubscriptionOpened() { activeSubscriptions.Inc() }
func SubscriptionClosed() { activeSubscriptions.Dec() }

func SessionOpened() { activeSessions.Inc() }
func SessionClosed() { activeSessions.Dec() }

func LiveConnected()    { liveConnections.Inc() }
func LiveDisconnected() { liveConnections.Dec() }

// AuthAttempt records the outcome of an identity call; code is "ok" on success.
func AuthAttempt(method, code string) {
	authAttempts.WithLabelValues(method, code).Inc()
}

// StatusCoder is an error that knows the HTTP status it will be rendered with.
type StatusCoder interface {
	StatusCode() int
}

// Middleware records request latency by matched route. An error still on
// its way to the error handler is counted with its own status.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			var sc StatusCoder
			var he *echo.HTTPError
			switch {
			case err == nil || c.Response().Committed:
			case errors.As(err, &sc):
				status = sc.StatusCode()
			case errors.As(err, &he):
				status = he.Code
			default:
				status = http.StatusInternalServerError
			}
			httpRequests.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
