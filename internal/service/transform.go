package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"multiproxy/internal/model"
)

// ErrTransform is returned when a target cannot be turned into an outbound
// destination. Targets are validated at startup, so this indicates a
// configuration defect.
var ErrTransform = errors.New("cannot build outbound request")

// BuildOutbound returns a request for target carrying inbound's method,
// protocol version, headers and body. Only the destination changes: scheme
// and authority always come from the target, path and query only when the
// target specifies them. The body is handed over unread.
func BuildOutbound(ctx context.Context, inbound *http.Request, target model.Target) (*http.Request, error) {
	if target.URL == nil || target.URL.Scheme == "" || target.URL.Host == "" {
		return nil, fmt.Errorf("%w: route %q has no usable backend", ErrTransform, target.Route)
	}

	dest := &url.URL{
		Scheme:   target.URL.Scheme,
		User:     target.URL.User,
		Host:     target.URL.Host,
		Path:     inbound.URL.Path,
		RawPath:  inbound.URL.RawPath,
		RawQuery: inbound.URL.RawQuery,
	}
	if target.URL.Path != "" {
		dest.Path = target.URL.Path
		dest.RawPath = target.URL.RawPath
	}
	if target.URL.RawQuery != "" {
		dest.RawQuery = target.URL.RawQuery
	}

	out := (&http.Request{
		Method:        inbound.Method,
		URL:           dest,
		Proto:         inbound.Proto,
		ProtoMajor:    inbound.ProtoMajor,
		ProtoMinor:    inbound.ProtoMinor,
		Header:        inbound.Header.Clone(),
		Body:          inbound.Body,
		GetBody:       inbound.GetBody,
		ContentLength: inbound.ContentLength,
		Host:          dest.Host,
	}).WithContext(ctx)

	if out.Header == nil {
		out.Header = make(http.Header)
	}
	// A present but empty key stops the client from adding its own User-Agent.
	if _, ok := out.Header["User-Agent"]; !ok {
		out.Header["User-Agent"] = nil
	}
	if inbound.TransferEncoding != nil {
		out.TransferEncoding = append([]string(nil), inbound.TransferEncoding...)
	}
	// Trailer values arrive only once the body is read, so the map is shared.
	out.Trailer = inbound.Trailer
	// Servers report an absent body as http.NoBody; clients expect nil there.
	if out.ContentLength == 0 && out.Body == http.NoBody {
		out.Body = nil
	}

	return out, nil
}
