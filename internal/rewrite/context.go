// Package rewrite transforms HTML, CSS and JavaScript content so that every
// URL reference flows back through the proxy origin.
package rewrite

import (
	"net/url"
	"strings"

	"webveil/internal/codec"
)

// Markers shared by the server-side rewriters and the injected client runtime.
const (
	master           = "__wv"          // client runtime global
	accessorPrefix   = "__wv$"         // prefixed accessors substituted by the runtime
	markerAttr       = "__wv-script"   // attribute marking proxy-injected elements
	shadowAttrPrefix = "__wv-attr-"    // prefix stashing original attribute values
	cookiesGlobal    = "self.__wv$cookies" // set by the head bootstrap; doubles as a skip marker
)

// skipSchemes are URL prefixes that are never rewritten.
var skipSchemes = []string{"#", "about:", "data:", "blob:", "mailto:", "tel:"}

// Context carries the per-request rewriting state. Base may mutate while a
// document is being rewritten (a <base href> updates it); a Context is scoped
// to a single document render and must not be shared across requests.
type Context struct {
	Target      *url.URL // decoded target URL
	Base        *url.URL // resolution base, defaults to Target
	ProxyOrigin string   // scheme://host of the proxy itself
	Prefix      string   // path segment under which proxied URLs live
	Codec       codec.Codec
}

// NewContext creates a Context for one request. target is used as the initial
// resolution base.
func NewContext(target *url.URL, proxyOrigin, prefix string, c codec.Codec) *Context {
	return &Context{
		Target:      target,
		Base:        target,
		ProxyOrigin: proxyOrigin,
		Prefix:      prefix,
		Codec:       c,
	}
}

// RewriteURL resolves raw against the context base and returns the proxied
// form ProxyOrigin+Prefix+encode(resolved). Skip-scheme URLs and unparseable
// input pass through unchanged; javascript: URLs have their code rewritten.
func (c *Context) RewriteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	lower := strings.ToLower(raw)
	for _, scheme := range skipSchemes {
		if strings.HasPrefix(lower, scheme) {
			return raw
		}
	}
	if strings.HasPrefix(lower, "javascript:") {
		code := raw[len("javascript:"):]
		return "javascript:" + NewJS(c).Rewrite(code)
	}
	// Already proxied URLs stay as they are so repeated rewriting is a no-op.
	if strings.HasPrefix(raw, c.proxyPrefix()) || strings.HasPrefix(raw, c.Prefix) {
		return raw
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	base := c.Base
	if base == nil {
		base = c.Target
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	return c.proxyPrefix() + c.Codec.Encode(resolved.String())
}

// SourceURL is the inverse of RewriteURL: it strips the proxy prefix and
// decodes the remainder. URLs not pointing into the proxy pass through.
func (c *Context) SourceURL(raw string) string {
	if rest, ok := strings.CutPrefix(raw, c.proxyPrefix()); ok {
		return c.Codec.Decode(rest)
	}
	return raw
}

// SetBase updates the resolution base from a <base href> value, resolved
// against the target URL.
func (c *Context) SetBase(href string) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return
	}
	if c.Target != nil {
		c.Base = c.Target.ResolveReference(ref)
	} else if ref.IsAbs() {
		c.Base = ref
	}
}

func (c *Context) proxyPrefix() string {
	return c.ProxyOrigin + c.Prefix
}
