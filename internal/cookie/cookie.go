// Package cookie implements a per-origin cookie store emulating browser-side
// cookie storage on behalf of proxied clients.
package cookie

import (
	"strings"
	"time"
)

// Cookie is a single stored cookie. Identity within an origin is the
// (name, path, domain) triple.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	MaxAge   int // 0 means unset, negative means expire immediately
	Secure   bool
	HttpOnly bool
	SameSite string

	created time.Time
}

// expiresDateFormats are the date layouts accepted for the Expires attribute.
var expiresDateFormats = []string{
	time.RFC1123,
	"Mon, 02-Jan-2006 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
}

// ParseSetCookie parses a Set-Cookie header value. The first ;-delimited
// segment is name=value; remaining segments are case-insensitive attributes.
// Unknown attributes are ignored, a malformed header yields a cookie with an
// empty name.
func ParseSetCookie(header string) Cookie {
	c := Cookie{Path: "/"}

	parts := strings.Split(header, ";")
	if len(parts) == 0 {
		return c
	}

	name, value, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
	if !ok || name == "" {
		return c
	}
	c.Name = strings.TrimSpace(name)
	c.Value = strings.TrimSpace(value)

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		attr, val, _ := strings.Cut(part, "=")
		attr = strings.ToLower(strings.TrimSpace(attr))
		val = strings.TrimSpace(val)

		switch attr {
		case "path":
			if val != "" {
				c.Path = val
			}
		case "domain":
			c.Domain = strings.ToLower(val)
		case "expires":
			for _, layout := range expiresDateFormats {
				if t, err := time.Parse(layout, val); err == nil {
					c.Expires = t
					break
				}
			}
		case "max-age":
			if n, err := parseMaxAge(val); err == nil {
				c.MaxAge = n
			}
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		case "samesite":
			c.SameSite = strings.ToLower(val)
		}
	}

	return c
}

func parseMaxAge(s string) (int, error) {
	d, err := time.ParseDuration(s + "s")
	if err != nil {
		return 0, err
	}
	n := int(d / time.Second)
	if n <= 0 {
		// Per RFC 6265, zero or negative Max-Age expires the cookie now.
		return -1, nil
	}
	return n, nil
}

// expired reports whether the cookie has passed its Max-Age or Expires limit.
func (c Cookie) expired(now time.Time) bool {
	if c.MaxAge < 0 {
		return true
	}
	if c.MaxAge > 0 && !c.created.IsZero() {
		if now.After(c.created.Add(time.Duration(c.MaxAge) * time.Second)) {
			return true
		}
	}
	if !c.Expires.IsZero() && now.After(c.Expires) {
		return true
	}
	return false
}

// key is the identity of a cookie within an origin.
func (c Cookie) key() string {
	return c.Name + "@" + c.Path + "@" + c.Domain
}
