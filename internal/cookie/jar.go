package cookie

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// clientPrefix marks cookies the proxy multiplexes onto its own origin.
// A client-side cookie named _wv_{domain}_{name} carries the cookie {name}
// for {domain}.
const clientPrefix = "_wv_"

// Jar stores cookies keyed by origin. It is safe for concurrent use and is
// constructed explicitly so tests can run with isolated jars.
type Jar struct {
	mu      sync.RWMutex
	origins map[string]map[string]Cookie

	now func() time.Time // test hook
}

// NewJar creates an empty Jar.
func NewJar() *Jar {
	return &Jar{
		origins: make(map[string]map[string]Cookie),
		now:     time.Now,
	}
}

// Set upserts a cookie for origin. An empty domain defaults to the origin
// hostname; an empty path defaults to "/".
func (j *Jar) Set(origin string, c Cookie) {
	if c.Name == "" {
		return
	}
	if c.Domain == "" {
		if u, err := url.Parse(origin); err == nil {
			c.Domain = u.Hostname()
		}
	}
	if c.Path == "" {
		c.Path = "/"
	}
	c.created = j.now()

	j.mu.Lock()
	defer j.mu.Unlock()
	m, ok := j.origins[origin]
	if !ok {
		m = make(map[string]Cookie)
		j.origins[origin] = m
	}
	m[c.key()] = c
}

// Get returns all cookies stored for origin, sorted by name for stable output.
func (j *Jar) Get(origin string) []Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	m := j.origins[origin]
	out := make([]Cookie, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Delete removes a cookie by identity. Missing entries are a no-op.
func (j *Jar) Delete(origin, name, path, domain string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if m, ok := j.origins[origin]; ok {
		delete(m, Cookie{Name: name, Path: path, Domain: domain}.key())
	}
}

// Valid reports whether c may be attached to a request for reqURL.
// forScript excludes HttpOnly cookies, emulating document.cookie visibility.
func (j *Jar) Valid(c Cookie, reqURL *url.URL, forScript bool) bool {
	if c.HttpOnly && forScript {
		return false
	}
	if c.expired(j.now()) {
		return false
	}
	if reqURL == nil {
		return false
	}
	if c.Secure && reqURL.Scheme == "http" {
		return false
	}
	if !domainMatch(c.Domain, reqURL.Hostname()) {
		return false
	}
	path := reqURL.Path
	if path == "" {
		path = "/"
	}
	return strings.HasPrefix(path, c.Path)
}

// domainMatch applies exact matching, with suffix matching for leading-dot
// domains. An empty stored domain matches any host.
func domainMatch(domain, host string) bool {
	if domain == "" {
		return true
	}
	domain = strings.ToLower(domain)
	host = strings.ToLower(host)
	if strings.HasPrefix(domain, ".") {
		return host == strings.TrimPrefix(domain, ".") || strings.HasSuffix(host, domain)
	}
	return host == domain
}

// Serialize builds a Cookie header value ("a=1; b=2") from the cookies stored
// for origin that are valid for reqURL.
func (j *Jar) Serialize(origin string, reqURL *url.URL, forScript bool) string {
	var pairs []string
	for _, c := range j.Get(origin) {
		if j.Valid(c, reqURL, forScript) {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
	}
	return strings.Join(pairs, "; ")
}

// Len returns the number of cookies currently stored across all origins.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := 0
	for _, m := range j.origins {
		n += len(m)
	}
	return n
}

// Prune removes expired cookies from every origin.
func (j *Jar) Prune() {
	now := j.now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for origin, m := range j.origins {
		for k, c := range m {
			if c.expired(now) {
				delete(m, k)
			}
		}
		if len(m) == 0 {
			delete(j.origins, origin)
		}
	}
}

// ParseCookieHeader splits a Cookie request header into name/value cookies.
// Malformed pairs are skipped.
func ParseCookieHeader(header string) []Cookie {
	var out []Cookie
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		out = append(out, Cookie{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
			Path:  "/",
		})
	}
	return out
}

// DemuxClientName maps a client-sent multiplexed cookie name back to its
// domain and upstream name. Names without the _wv_ prefix are returned as-is
// with an empty domain and ok=true; prefixed names that cannot be split are
// internal and return ok=false so the caller drops them.
func DemuxClientName(name string) (domain, upstream string, ok bool) {
	if !strings.HasPrefix(name, clientPrefix) {
		return "", name, true
	}
	rest := strings.TrimPrefix(name, clientPrefix)
	// Hostnames cannot contain underscores, so the first underscore ends the
	// domain part.
	domain, upstream, ok = strings.Cut(rest, "_")
	if !ok || domain == "" || upstream == "" {
		return "", "", false
	}
	return domain, upstream, true
}
