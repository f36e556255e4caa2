package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"multiproxy/internal/metrics"
	"multiproxy/internal/route"
)

// Label values for requests whose path is not a configured route.
const (
	unmatchedRoute     = "unmatched"
	unmatchedTransport = "none"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request, labeled by the route the path resolves to and the
// transport that route dispatches through. Other paths share the "unmatched"
// label so cardinality stays bounded by the route table.
func MetricsMiddleware(m *metrics.Metrics, routes *route.Table) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// When a handler returns an *echo.HTTPError the status has not been
			// written yet; Echo's error handler writes it later.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				strconv.Itoa(statusCode),
			}
			labels = append(labels, routeLabels(routes, c.Request().URL.Path)...)

			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// routeLabels returns the route and transport label values for path.
func routeLabels(routes *route.Table, path string) []string {
	if routes != nil {
		if target, ok := routes.Resolve(path); ok {
			return []string{target.Route, target.Transport.String()}
		}
	}
	return []string{unmatchedRoute, unmatchedTransport}
}
