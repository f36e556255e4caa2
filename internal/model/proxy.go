// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
	"net/url"

	"multiproxy/internal/transport"
)

// Target is a backend a route forwards to. It is built once when the route
// table is loaded and never modified afterwards.
type Target struct {
	// Route is the inbound path that resolves to this target.
	Route     string
	URL       *url.URL
	Transport transport.Kind
}

// ProxyResponse represents the backend response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	// Trailer holds the keys the backend announced; values are filled in
	// once Body has been read to EOF.
	Trailer http.Header
}
