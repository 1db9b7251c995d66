// Package service implements the proxy request/response pipeline: destination
// decoding, header laundering, fetch, redirect re-encoding, cookie capture,
// decompression and body rewriting.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"webveil/internal/client"
	"webveil/internal/codec"
	"webveil/internal/config"
	"webveil/internal/cookie"
	"webveil/internal/metrics"
	"webveil/internal/model"
	"webveil/internal/rewrite"
)

// ErrInvalidDestination is returned when the decoded destination is not an
// absolute http or https URL.
var ErrInvalidDestination = errors.New("destination must be an absolute http or https URL")

// redirectStatuses are the statuses whose Location header is re-encoded so the
// browser follows the redirect through the proxy.
var redirectStatuses = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// htmlContentTypes are the media types treated as rewritable documents.
var htmlContentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
}

// ProxyService runs the request/response pipeline for one configured proxy.
type ProxyService struct {
	client  *client.UpstreamClient
	cfg     *config.Config
	jar     *cookie.Jar
	codec   codec.Codec
	scripts rewrite.ScriptPaths
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional;
// pass nil to disable pipeline metrics.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, jar *cookie.Jar, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	cd, err := codec.ByName(cfg.Proxy.Codec)
	if err != nil {
		return nil, fmt.Errorf("proxy codec: %w", err)
	}

	return &ProxyService{
		client: c,
		cfg:    cfg,
		jar:    jar,
		codec:  cd,
		scripts: rewrite.ScriptPaths{
			Bundle:  cfg.Scripts.Bundle,
			Config:  cfg.Scripts.Config,
			Client:  cfg.Scripts.Client,
			Handler: cfg.Scripts.Handler,
		},
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
	}, nil
}

// Forward runs the full pipeline for one request and returns the response to
// stream back. The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := s.decodeDestination(pr.Encoded)
	if err != nil {
		return nil, err
	}

	origin := s.proxyOrigin(pr)
	header := s.buildUpstreamHeaders(pr.Header, target, origin)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"host", target.Host,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target.String(), header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to destination: %w", err)
	}

	s.storeSetCookies(resp.Header, target)
	stripResponseHeaders(resp.Header)

	if redirectStatuses[resp.StatusCode] {
		if loc := resp.Header.Get("Location"); loc != "" {
			_ = resp.Body.Close()
			return s.redirect(resp.StatusCode, loc, target, origin, pr.Header), nil
		}
	}

	out := &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}

	dest := classify(pr.Header, resp.Header.Get("Content-Type"))
	if rewritable(dest) {
		if err := s.rewriteBody(out, dest, target, origin); err != nil {
			return nil, err
		}
	}

	applyCORS(out.Header, pr.Header)
	return out, nil
}

// decodeDestination turns the encoded path remainder into a destination URL.
// The client query string rides after the encoded token un-encoded, so it is
// split off before decoding and reattached to the decoded URL.
func (s *ProxyService) decodeDestination(encoded string) (*url.URL, error) {
	token, query, hasQuery := strings.Cut(strings.TrimPrefix(encoded, "/"), "?")
	raw := s.codec.Decode(token)
	if hasQuery {
		sep := "?"
		if strings.Contains(raw, "?") {
			sep = "&"
		}
		raw += sep + query
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, raw)
	}
	return u, nil
}

// proxyOrigin picks the configured external origin, falling back to the
// origin the request arrived on.
func (s *ProxyService) proxyOrigin(pr *model.ProxyRequest) string {
	if s.cfg.Proxy.Origin != "" {
		return s.cfg.Proxy.Origin
	}
	return pr.ProxyOrigin
}

// redirect builds the client-facing response for a destination redirect: the
// same status, a re-encoded Location and an empty body.
func (s *ProxyService) redirect(status int, location string, target *url.URL, origin string, reqHeader http.Header) *model.ProxyResponse {
	ctx := rewrite.NewContext(target, origin, s.cfg.Proxy.Prefix, s.codec)
	h := make(http.Header)
	h.Set("Location", ctx.RewriteURL(location))
	applyCORS(h, reqHeader)

	s.logger.Debug("re-encoded redirect", "status", status)

	return &model.ProxyResponse{
		StatusCode: status,
		Header:     h,
		Body:       http.NoBody,
	}
}

// rewriteBody buffers, decompresses and rewrites the response body in place.
// Failures fall back to the original bytes so the page still loads.
func (s *ProxyService) rewriteBody(out *model.ProxyResponse, dest model.Destination, target *url.URL, origin string) error {
	raw, err := io.ReadAll(out.Body)
	_ = out.Body.Close()
	if err != nil {
		return fmt.Errorf("read destination body: %w", err)
	}

	encoding := out.Header.Get("Content-Encoding")
	body, err := decompress(raw, encoding)
	if err != nil {
		// Undecodable body: pass the original bytes through untouched.
		s.logger.Warn("decompression failed, passing body through",
			"encoding", encoding,
			"error", err,
		)
		s.metrics.RecordRewrite(string(dest), metrics.OutcomeFallback)
		setBody(out, raw, false)
		return nil
	}

	ctx := rewrite.NewContext(target, origin, s.cfg.Proxy.Prefix, s.codec)
	text := string(body)

	switch dest {
	case model.DestDocument, model.DestIframe:
		if ct := out.Header.Get("Content-Type"); ct != "" && !htmlContentTypes[mediaType(ct)] {
			// Navigation to a non-HTML resource (download, PDF, image).
			setBody(out, body, true)
			return nil
		}
		cookies := s.jar.Serialize(originKey(target), target, true)
		text = rewrite.NewHTML(ctx).Rewrite(text, rewrite.HTMLOptions{
			Document:   true,
			InjectHead: rewrite.HeadNodes(s.scripts, cookies, target.String()),
		})
	case model.DestScript:
		text = rewrite.NewJS(ctx).Rewrite(text)
	case model.DestWorker:
		cookies := s.jar.Serialize(originKey(target), target, true)
		text = rewrite.WorkerPreamble(s.scripts, cookies, target.String()) + rewrite.NewJS(ctx).Rewrite(text)
	case model.DestStyle:
		text = rewrite.NewCSS(ctx).Rewrite(text, rewrite.Stylesheet)
	}

	s.metrics.RecordRewrite(string(dest), metrics.OutcomeOK)
	setBody(out, []byte(text), true)
	return nil
}

// setBody replaces the response body with buffered bytes and fixes the length
// headers. decoded marks bodies whose Content-Encoding no longer applies.
func setBody(out *model.ProxyResponse, body []byte, decoded bool) {
	if decoded {
		out.Header.Del("Content-Encoding")
	}
	out.Header.Set("Content-Length", strconv.Itoa(len(body)))
	out.Body = io.NopCloser(bytes.NewReader(body))
}

// mediaType returns the lowercased media type without parameters.
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
