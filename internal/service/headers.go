package service

import (
	"net/http"
	"net/url"
	"strings"

	"webveil/internal/cookie"
)

// blockedRequestHeaders never reach the destination: hop-by-hop headers, proxy
// artifacts, and headers the pipeline owns (Host, Cookie, Accept-Encoding
// negotiation stays but is clamped to codecs the pipeline can undo).
var blockedRequestHeaders = map[string]bool{
	"Host":                true,
	"Connection":          true,
	"Content-Length":      true,
	"Transfer-Encoding":   true,
	"Te":                  true,
	"Trailer":             true,
	"Upgrade":             true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Cookie":              true,
	"Referer":             true,
	"Origin":              true,
	"Accept-Encoding":     true,
	"X-Forwarded-For":     true,
	"X-Forwarded-Host":    true,
	"X-Forwarded-Proto":   true,
	"X-Real-Ip":           true,
}

// strippedResponseHeaders are removed from every destination response. They
// either encode a policy of the original origin that would break the rewritten
// page, or leak infrastructure details.
var strippedResponseHeaders = []string{
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"Cross-Origin-Embedder-Policy",
	"Cross-Origin-Opener-Policy",
	"Cross-Origin-Resource-Policy",
	"Expect-Ct",
	"Feature-Policy",
	"Origin-Isolation",
	"Permissions-Policy",
	"Public-Key-Pins",
	"Report-To",
	"Strict-Transport-Security",
	"Upgrade-Insecure-Requests",
	"X-Content-Type-Options",
	"X-Download-Options",
	"X-Frame-Options",
	"X-Permitted-Cross-Domain-Policies",
	"X-Powered-By",
	"X-Xss-Protection",
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// acceptedEncodings lists the codings the pipeline can decode itself.
const acceptedEncodings = "gzip, deflate, br, zstd"

// defaultFetchMetadata fills in the fetch-metadata and client-hint headers a
// browser would send on direct navigation, so the destination sees a
// consistent fingerprint. Values the client already sent win.
var defaultFetchMetadata = map[string]string{
	"Sec-Fetch-Dest":     "document",
	"Sec-Fetch-Mode":     "navigate",
	"Sec-Fetch-Site":     "none",
	"Sec-Fetch-User":     "?1",
	"Sec-Ch-Ua":          `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	"Sec-Ch-Ua-Mobile":   "?0",
	"Sec-Ch-Ua-Platform": `"Linux"`,
}

// buildUpstreamHeaders constructs the header set sent to the destination.
// Identity-bearing headers are replaced with values consistent with a browser
// visiting the destination directly.
func (s *ProxyService) buildUpstreamHeaders(in http.Header, target *url.URL, proxyOrigin string) http.Header {
	out := make(http.Header)
	for key, vals := range in {
		if blockedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		out[http.CanonicalHeaderKey(key)] = vals
	}

	out.Set("Host", target.Host)
	out.Set("Accept-Encoding", acceptedEncodings)
	if out.Get("Accept") == "" {
		out.Set("Accept", "*/*")
	}
	if out.Get("Accept-Language") == "" {
		out.Set("Accept-Language", "en-US,en;q=0.9")
	}
	if out.Get("User-Agent") == "" {
		out.Set("User-Agent", defaultUserAgent)
	}
	if target.Scheme == "https" {
		out.Set("Upgrade-Insecure-Requests", "1")
	}
	for key, value := range defaultFetchMetadata {
		if out.Get(key) == "" {
			out.Set(key, value)
		}
	}

	s.restoreReferer(in, out, target, proxyOrigin)
	// CORS preflights and POSTs must look same-origin to the destination.
	if in.Get("Origin") != "" {
		out.Set("Origin", target.Scheme+"://"+target.Host)
	}
	s.attachCookies(in, out, target)

	return out
}

// restoreReferer translates a proxied Referer back to the destination-side
// URL. A referer from outside the proxy is replaced with the target origin
// rather than leaked.
func (s *ProxyService) restoreReferer(in, out http.Header, target *url.URL, proxyOrigin string) {
	ref := in.Get("Referer")
	if ref == "" {
		return
	}
	for _, prefix := range []string{proxyOrigin + s.cfg.Proxy.Prefix, s.cfg.Proxy.Prefix} {
		if encoded, ok := strings.CutPrefix(ref, prefix); ok {
			out.Set("Referer", s.codec.Decode(encoded))
			return
		}
	}
	out.Set("Referer", target.Scheme+"://"+target.Host+"/")
}

// attachCookies serializes jar cookies for the destination and folds in any
// demuxed client-visible cookies carried on the proxy origin.
func (s *ProxyService) attachCookies(in http.Header, out http.Header, target *url.URL) {
	origin := originKey(target)
	pairs := s.jar.Serialize(origin, target, false)

	for _, c := range cookie.ParseCookieHeader(in.Get("Cookie")) {
		domain, name, ok := cookie.DemuxClientName(c.Name)
		if !ok || domain == "" {
			// Not a multiplexed cookie; it belongs to the proxy origin itself.
			continue
		}
		if !strings.EqualFold(domain, hostLabel(target)) {
			continue
		}
		if pairs != "" {
			pairs += "; "
		}
		pairs += name + "=" + c.Value
	}

	if pairs != "" {
		out.Set("Cookie", pairs)
	}
}

// storeSetCookies parses Set-Cookie headers into the jar, then removes them
// from the response so they never reach the browser.
func (s *ProxyService) storeSetCookies(h http.Header, target *url.URL) {
	origin := originKey(target)
	for _, raw := range h.Values("Set-Cookie") {
		c := cookie.ParseSetCookie(raw)
		if c.Name == "" {
			s.logger.Debug("unparseable set-cookie header")
			continue
		}
		s.jar.Set(origin, c)
	}
	h.Del("Set-Cookie")
	s.jar.Prune()
	if s.metrics != nil {
		s.metrics.CookiesStored.Set(float64(s.jar.Len()))
	}
}

// stripResponseHeaders removes destination policy headers that would break the
// rewritten page.
func stripResponseHeaders(h http.Header) {
	for _, key := range strippedResponseHeaders {
		h.Del(key)
	}
}

// applyCORS relaxes the response so the rewritten page can load every subresource
// through the single proxy origin.
func applyCORS(h http.Header, reqHeader http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "*")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Expose-Headers", "*")
	if reqHeader.Get("Sec-Fetch-Mode") == "cors" || reqHeader.Get("Sec-Fetch-Site") == "cross-site" {
		h.Set("Cross-Origin-Resource-Policy", "cross-origin")
	}
}

// originKey is the jar partition key for a destination URL.
func originKey(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// hostLabel is the hostname with ports stripped, used to match demuxed
// client cookie names.
func hostLabel(u *url.URL) string {
	return u.Hostname()
}
