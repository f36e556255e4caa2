// Package service implements route resolution, request transformation and
// forwarding.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"multiproxy/internal/client"
	"multiproxy/internal/model"
	"multiproxy/internal/route"
)

// ProxyService resolves inbound paths and forwards requests to their backends.
type ProxyService struct {
	routes     *route.Table
	dispatcher *client.Dispatcher
	logger     *slog.Logger
}

// NewProxyService creates a ProxyService. The route table is shared, never copied.
func NewProxyService(routes *route.Table, d *client.Dispatcher, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		routes:     routes,
		dispatcher: d,
		logger:     logger.With("component", "proxy_service"),
	}
}

// Resolve returns the target configured for path, if any.
func (s *ProxyService) Resolve(path string) (model.Target, bool) {
	return s.routes.Resolve(path)
}

// Forward transforms inbound for target and dispatches it. The caller is
// responsible for closing the response body.
func (s *ProxyService) Forward(ctx context.Context, inbound *http.Request, target model.Target) (*model.ProxyResponse, error) {
	outbound, err := BuildOutbound(ctx, inbound, target)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", outbound.Method,
		"route", target.Route,
		"backend", outbound.URL.Redacted(),
	)

	resp, err := s.dispatcher.Dispatch(ctx, outbound, target)
	if err != nil {
		return nil, fmt.Errorf("forward to backend: %w", err)
	}
	return resp, nil
}
