package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"multiproxy/internal/client"
	"multiproxy/internal/model"
	"multiproxy/internal/service"
)

// relayBufferSize is the chunk size used when streaming backend bodies.
const relayBufferSize = 32 * 1024

// ProxyHandler resolves each request against the route table and relays the
// backend's response.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request to the backend its path maps to and streams the
// response back. Unmapped paths get 404 without contacting any backend.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	target, ok := h.service.Resolve(req.URL.Path)
	if !ok {
		h.logger.Debug("no route", "path", req.URL.Path)
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no route for path",
		})
	}

	resp, err := h.service.Forward(req.Context(), req, target)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relay(c, target, resp)
	return nil
}

// relay copies status, headers and trailers verbatim and streams the body.
// Once the status line is written an error can no longer be reported to the
// client, so a failed copy aborts the connection.
func (h *ProxyHandler) relay(c echo.Context, target model.Target, resp *model.ProxyResponse) {
	header := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	// Keep net/http from adding headers the backend did not send.
	for _, key := range []string{echo.HeaderContentType, "Date"} {
		if _, ok := resp.Header[key]; !ok {
			header[key] = nil
		}
	}
	// The client strips the Trailer header, so announce the keys again.
	for key := range resp.Trailer {
		header.Add("Trailer", key)
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Bodies of unknown length may be long-lived streams; flush each chunk.
	flush := resp.Header.Get(echo.HeaderContentLength) == ""
	if err := copyBody(c.Response(), resp.Body, flush); err != nil {
		h.logger.Error("response delivery failed",
			"err", err,
			"route", target.Route,
			"path", c.Request().URL.Path,
		)
		// Push out the status line and whatever was copied before cutting
		// the connection.
		c.Response().Flush()
		panic(http.ErrAbortHandler)
	}

	for key, vals := range resp.Trailer {
		header[http.TrailerPrefix+key] = vals
	}
}

func copyBody(dst *echo.Response, src io.Reader, flush bool) error {
	if !flush {
		_, err := io.Copy(dst, src)
		return err
	}
	buf := make([]byte, relayBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			dst.Flush()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	req := c.Request()

	if errors.Is(err, service.ErrTransform) {
		h.logger.Error("invalid backend target; check the route configuration",
			"err", err,
			"path", req.URL.Path,
		)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "invalid backend target",
		})
	}

	if req.Context().Err() != nil {
		h.logger.Debug("client disconnected before backend responded",
			"err", err,
			"path", req.URL.Path,
		)
	} else {
		h.logger.Warn("dispatch failed",
			"err", err,
			"reason", client.Reason(err),
			"path", req.URL.Path,
		)
	}

	switch {
	case errors.Is(err, client.ErrTimeout):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "backend timed out",
		})
	case errors.Is(err, client.ErrTLSFailure):
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "backend TLS handshake failed",
		})
	case errors.Is(err, client.ErrBadUpstream):
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "malformed backend response",
		})
	default:
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "backend unreachable",
		})
	}
}
