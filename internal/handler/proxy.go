package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"webveil/internal/model"
	"webveil/internal/service"
)

// ProxyHandler serves the proxy route: everything under the configured prefix
// is treated as an encoded destination URL.
type ProxyHandler struct {
	service *service.ProxyService
	prefix  string
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler for the given route prefix.
func NewProxyHandler(svc *service.ProxyService, prefix string, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		prefix:  prefix,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle decodes the destination from the request path and streams the
// rewritten response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:         req.Context(),
		Method:      req.Method,
		Encoded:     h.encodedDestination(req),
		ProxyOrigin: proxyOrigin(req),
		Header:      req.Header,
		Body:        req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the body directly to the client. If io.Copy fails mid-stream
	// (e.g. client disconnect, network error), the HTTP status code has
	// already been sent, so the client receives a truncated response with
	// the original status. This is an inherent trade-off of streaming
	// proxies — we log the error for observability.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
		)
	}

	return nil
}

// encodedDestination extracts the codec-encoded destination: the escaped path
// after the prefix, with the query string reattached. The escaped form is
// used so percent sequences produced by the codec survive routing.
func (h *ProxyHandler) encodedDestination(req *http.Request) string {
	encoded := strings.TrimPrefix(req.URL.EscapedPath(), h.prefix)
	if req.URL.RawQuery != "" {
		encoded += "?" + req.URL.RawQuery
	}
	return encoded
}

// proxyOrigin derives the externally visible origin of this proxy from
// forwarded headers, falling back to the direct connection.
func proxyOrigin(req *http.Request) string {
	scheme := req.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if req.TLS != nil {
			scheme = "https"
		}
	}
	host := req.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = req.Host
	}
	return scheme + "://" + host
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
	)

	if errors.Is(err, service.ErrInvalidDestination) {
		return c.String(http.StatusBadRequest, "invalid destination URL")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.String(http.StatusGatewayTimeout, "destination request timed out")
	}

	if errors.Is(err, context.Canceled) {
		return c.String(http.StatusBadGateway, "client disconnected")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.String(http.StatusBadGateway, "destination host unreachable")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return c.String(http.StatusGatewayTimeout, "destination request timed out")
		}
		return c.String(http.StatusBadGateway, "destination connection failed")
	}

	return c.String(http.StatusBadGateway, "destination request failed")
}
