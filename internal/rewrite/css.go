package rewrite

import (
	"regexp"
	"strings"
)

// CSSMode selects how a chunk of CSS is interpreted.
type CSSMode int

const (
	// Stylesheet covers full sheets, where @import rules may appear.
	Stylesheet CSSMode = iota
	// DeclarationList covers style="" attribute values.
	DeclarationList
)

var (
	cssURLRe = regexp.MustCompile(`(?s)url\(\s*(['"]?)([^'")]+?)(['"]?)\s*\)`)
	// The three @import forms: url(...), a quoted string, or a bare token.
	cssImportRe = regexp.MustCompile(`@import\s+(url\s*\([^)]*\)|"[^"]*"|'[^']*'|[^\s;]+)`)
)

// CSS rewrites URL references inside CSS text. It is a token scan, not a
// parser; malformed url() or @import syntax passes through unchanged.
type CSS struct {
	ctx *Context
}

// NewCSS creates a CSS rewriter bound to ctx.
func NewCSS(ctx *Context) *CSS {
	return &CSS{ctx: ctx}
}

// Rewrite transforms every url(...) target and, in stylesheet mode, every
// @import target. A token claimed by the url() pass is not touched again by
// the @import pass.
func (r *CSS) Rewrite(css string, mode CSSMode) string {
	if css == "" {
		return css
	}
	out := r.replaceURLs(css, r.ctx.RewriteURL)
	if mode == Stylesheet {
		out = r.replaceImports(out, r.ctx.RewriteURL)
	}
	return out
}

// Source is the reverse transform, restoring original URLs.
func (r *CSS) Source(css string, mode CSSMode) string {
	if css == "" {
		return css
	}
	out := r.replaceURLs(css, r.ctx.SourceURL)
	if mode == Stylesheet {
		out = r.replaceImports(out, r.ctx.SourceURL)
	}
	return out
}

func (r *CSS) replaceURLs(css string, transform func(string) string) string {
	return cssURLRe.ReplaceAllStringFunc(css, func(m string) string {
		groups := cssURLRe.FindStringSubmatch(m)
		if groups == nil {
			return m
		}
		quote, target := groups[1], strings.TrimSpace(groups[2])
		if target == "" || strings.HasPrefix(target, "data:") || strings.HasPrefix(target, "#") {
			return m
		}
		return "url(" + quote + transform(target) + groups[3] + ")"
	})
}

func (r *CSS) replaceImports(css string, transform func(string) string) string {
	return cssImportRe.ReplaceAllStringFunc(css, func(m string) string {
		groups := cssImportRe.FindStringSubmatch(m)
		if groups == nil {
			return m
		}
		target := groups[1]
		// url(...) forms were already claimed by the url() pass.
		if strings.HasPrefix(target, "url") {
			return m
		}
		quote := ""
		inner := target
		if len(target) >= 2 && (target[0] == '"' || target[0] == '\'') {
			quote = string(target[0])
			inner = target[1 : len(target)-1]
		}
		if inner == "" || strings.HasPrefix(inner, "data:") {
			return m
		}
		return "@import " + quote + transform(inner) + quote
	})
}
