// Package client provides the backend HTTP clients and the dispatcher that
// sends proxied requests through them.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"multiproxy/internal/config"
	"multiproxy/internal/metrics"
	"multiproxy/internal/model"
	"multiproxy/internal/transport"
)

// Dispatch failures. Every error returned by Dispatch wraps exactly one of these.
var (
	ErrUnreachable = errors.New("backend unreachable")
	ErrTimeout     = errors.New("backend timed out")
	ErrBadUpstream = errors.New("malformed backend response")
	ErrTLSFailure  = errors.New("backend TLS failure")
)

// errDispatchTimeout is the cancellation cause set when the dispatch timer fires.
var errDispatchTimeout = errors.New("dispatch timeout")

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BackendClients holds one shared client per transport kind.
type BackendClients struct {
	Plain Doer
	TLS   Doer
}

// NewBackendClients creates pooled plain and TLS clients. Both are safe for
// concurrent use and never follow redirects or decompress bodies, so the
// backend's response reaches the client as sent.
func NewBackendClients(cfg *config.Config) *BackendClients {
	return &BackendClients{
		Plain: newHTTPClient(newTransport(cfg, nil)),
		TLS:   newHTTPClient(newTransport(cfg, &tls.Config{MinVersion: tls.VersionTLS12})),
	}
}

func newTransport(cfg *config.Config, tlsConfig *tls.Config) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

func newHTTPClient(t *http.Transport) *http.Client {
	return &http.Client{
		Transport: t,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Dispatcher sends outbound requests to backends through the client matching
// each target's transport kind.
type Dispatcher struct {
	clients map[transport.Kind]Doer
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. The metrics parameter is optional; pass
// nil to disable upstream metrics recording.
func NewDispatcher(clients *BackendClients, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		clients: map[transport.Kind]Doer{
			transport.Plain: clients.Plain,
			transport.TLS:   clients.TLS,
		},
		timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		logger:  logger.With("component", "dispatcher"),
		metrics: m,
	}
}

// Dispatch sends outbound to target's backend and returns once response
// headers arrive. The timeout bounds only the wait for headers; the body is
// streamed afterwards for as long as ctx lives. Canceling ctx abandons the
// backend request. The caller must close the response body.
func (d *Dispatcher) Dispatch(ctx context.Context, outbound *http.Request, target model.Target) (*model.ProxyResponse, error) {
	doer := d.clients[target.Transport]

	ctx, cancel := context.WithCancelCause(ctx)
	var timer *time.Timer
	if d.timeout > 0 {
		timer = time.AfterFunc(d.timeout, func() { cancel(errDispatchTimeout) })
	}

	d.logger.Debug("dispatching request",
		"route", target.Route,
		"backend", outbound.URL.Host,
		"transport", target.Transport.String(),
		"method", outbound.Method,
	)

	start := time.Now()
	resp, err := doer.Do(outbound.WithContext(ctx)) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	if timer != nil && !timer.Stop() && err == nil {
		// Headers arrived as the timer fired; the body is already canceled.
		_ = resp.Body.Close()
		err = errDispatchTimeout
	}

	if err != nil {
		err = classify(ctx, err)
		cancel(nil)
		d.observe(target, duration, 0, err)
		return nil, fmt.Errorf("dispatch %s: %w", target.Route, err)
	}

	d.observe(target, duration, resp.StatusCode, nil)

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		Trailer:    resp.Trailer,
	}, nil
}

func (d *Dispatcher) observe(target model.Target, duration float64, status int, err error) {
	if d.metrics == nil {
		return
	}
	kind := target.Transport.String()
	d.metrics.UpstreamDuration.WithLabelValues(target.Route, kind).Observe(duration)
	if err != nil {
		d.metrics.UpstreamErrors.WithLabelValues(target.Route, kind, Reason(err)).Inc()
		return
	}
	d.metrics.UpstreamResponses.WithLabelValues(target.Route, kind, strconv.Itoa(status)).Inc()
}

// classify wraps err with the dispatch sentinel that describes it.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(context.Cause(ctx), errDispatchTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case isTLSError(err):
		return fmt.Errorf("%w: %w", ErrTLSFailure, err)
	case isMalformedResponse(err):
		return fmt.Errorf("%w: %w", ErrBadUpstream, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
}

// Reason returns a short metrics label for a dispatch error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTLSFailure):
		return "tls"
	case errors.Is(err, ErrBadUpstream):
		return "bad_upstream"
	default:
		return "unreachable"
	}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSError(err error) bool {
	var (
		recordErr  tls.RecordHeaderError
		verifyErr  *tls.CertificateVerificationError
		alertErr   tls.AlertError
		authErr    x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordErr), errors.As(err, &verifyErr), errors.As(err, &alertErr),
		errors.As(err, &authErr), errors.As(err, &hostErr), errors.As(err, &invalidErr):
		return true
	}
	// Remote alerts are not exported as a type, and a plain-HTTP backend on a
	// TLS route only surfaces as a message. The wording belongs to crypto/tls
	// and net/http and may change between Go releases.
	msg := causeMessage(err)
	return strings.Contains(msg, "tls: ") || strings.Contains(msg, "HTTP response to HTTPS client")
}

func isMalformedResponse(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	// net/http reports bad status lines and headers only as text.
	return strings.Contains(causeMessage(err), "malformed HTTP")
}

// causeMessage returns the text of err without the *url.Error wrapper, whose
// message embeds the request URL.
func causeMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}

// cancelOnClose releases the dispatch context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelCauseFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}
