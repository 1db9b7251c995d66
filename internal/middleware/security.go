package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from incoming requests and adds security headers to responses on service
// routes. Responses under the proxy prefix are left alone: their headers are
// controlled by the proxy pipeline, and a blanket X-Frame-Options here would
// break framing of rewritten pages.
func SecurityHeaders(proxyPrefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Strip hop-by-hop headers from incoming request
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			err := next(c)

			if !strings.HasPrefix(c.Request().URL.Path, proxyPrefix) {
				c.Response().Header().Set("X-Content-Type-Options", "nosniff")
				c.Response().Header().Set("X-Frame-Options", "DENY")
			}

			return err
		}
	}
}
