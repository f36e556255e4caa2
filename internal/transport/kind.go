// Package transport decides which backend transport a target is dispatched through.
package transport

import (
	"net/url"
	"strings"
)

// Kind selects between the plain and the TLS backend client.
type Kind int

const (
	Plain Kind = iota
	TLS
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case TLS:
		return "tls"
	default:
		return "plain"
	}
}

// RequiresTLS reports whether connections to u must be encrypted.
func RequiresTLS(u *url.URL) bool {
	return u != nil && strings.EqualFold(u.Scheme, "https")
}

// Select returns the transport kind for u.
func Select(u *url.URL) Kind {
	if RequiresTLS(u) {
		return TLS
	}
	return Plain
}
