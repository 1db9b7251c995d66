// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an inbound client request to be forwarded to a
// destination site.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Encoded is the codec-encoded destination URL: everything after the
	// proxy route prefix, query string included.
	Encoded string
	// ProxyOrigin is the externally visible scheme://host[:port] this request
	// arrived on; rewritten URLs are anchored to it.
	ProxyOrigin string
	Header      http.Header
	Body        io.ReadCloser
}

// ProxyResponse represents the rewritten response streamed back to the client.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// UpstreamResponse represents a destination site response to be rewritten and
// streamed back to the client.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Destination classifies what the browser will do with a response body.
// It drives which rewriter the pipeline applies.
type Destination string

const (
	DestDocument Destination = "document"
	DestIframe   Destination = "iframe"
	DestScript   Destination = "script"
	DestStyle    Destination = "style"
	DestWorker   Destination = "worker"
	DestUnknown  Destination = "unknown"
)
