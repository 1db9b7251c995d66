package rewrite

import (
	"regexp"
	"strings"
)

// JS rewrites JavaScript text so that URL loads and location accesses route
// through the proxy. It is deliberately a regex pass pipeline, not a parser:
// pathological input (URLs inside template literals, unusual minification) may
// be mis-rewritten, and the injected client runtime picks up what the static
// passes cannot see. Every pass is idempotent and fails soft.
type JS struct {
	ctx *Context
}

// NewJS creates a JS rewriter bound to ctx.
func NewJS(ctx *Context) *JS {
	return &JS{ctx: ctx}
}

var (
	jsStaticImportRe  = regexp.MustCompile(`(\bimport\s+(?:[\w*{}\s,]+\s+from\s+)?)(['"])((?:[^'"\\]|\\.)+)['"]`)
	jsDynamicLitRe    = regexp.MustCompile(`\bimport\s*\(\s*(['"])((?:[^'"\\]|\\.)+)['"]\s*\)`)
	jsDynamicExprRe   = regexp.MustCompile(`\bimport\s*\(\s*([^'")][^()]*)\)`)
	jsQualifiedLocRe  = regexp.MustCompile(`(^|[^\w$])(window|document|self)\.location\b`)
	jsFramedLocRe     = regexp.MustCompile(`(^|[^\w$])(top|parent|frames)\.location\b`)
	jsBareLocRe       = regexp.MustCompile(`(^|[^.\w$])location(\s*[.=\[(])`)
	jsEvalRe          = regexp.MustCompile(`(^|[^.\w$])eval\s*\(\s*([^()]+?)\s*\)`)
	jsNewFunctionRe   = regexp.MustCompile(`\bnew\s+Function\s*\(\s*([^()]+?)\s*\)`)
	jsFetchRe         = regexp.MustCompile(`(^|[^.\w$])fetch\s*\(\s*(['"])((?:[^'"\\]|\\.)+)['"]\s*([,)])`)
	jsNewWorkerRe     = regexp.MustCompile(`\bnew\s+Worker\s*\(\s*(['"])((?:[^'"\\]|\\.)+)['"]`)
	jsNewWebSocketRe  = regexp.MustCompile(`\bnew\s+WebSocket\s*\(\s*(['"])((?:[^'"\\]|\\.)+)['"]`)
	jsXHROpenRe       = regexp.MustCompile(`\.open\s*\(\s*(['"]\w+['"])\s*,\s*(['"])((?:[^'"\\]|\\.)+)['"]`)
	jsFrameAccessRe   = regexp.MustCompile(`(\$get\(|^|[^.\w$])([A-Za-z_]\w*)\.(top|parent)\b(\s*[:(])?`)
)

// frameAccessDenylist lists non-DOM globals whose .top/.parent reads keep
// their plain meaning.
var frameAccessDenylist = map[string]bool{
	"Math": true, "console": true, "JSON": true, "Object": true,
	"Array": true, "Node": true, "Promise": true, "Reflect": true,
	"Symbol": true, "Number": true, "String": true,
}

// Rewrite applies the full pass pipeline. Input already carrying the
// bootstrap marker is returned unchanged so injected scripts are never
// rewritten twice.
func (r *JS) Rewrite(js string) string {
	if js == "" {
		return js
	}
	if strings.Contains(js, cookiesGlobal) || strings.Contains(js, markerAttr) {
		return js
	}
	for _, pass := range []func(string) string{
		r.rewriteStaticImports,
		r.rewriteDynamicImports,
		r.redirectLocation,
		r.wrapEval,
		r.wrapNewFunction,
		r.rewriteLiteralCalls,
		r.wrapFrameAccess,
	} {
		js = applyPass(js, pass)
	}
	return js
}

// applyPass runs one pass, returning the input unmodified if the pass panics.
func applyPass(js string, pass func(string) string) (out string) {
	defer func() {
		if recover() != nil {
			out = js
		}
	}()
	return pass(js)
}

func (r *JS) rewriteStaticImports(js string) string {
	return replaceGroups(jsStaticImportRe, js, func(m string, g []string) string {
		path := g[3]
		if r.skipURL(path) {
			return m
		}
		return g[1] + g[2] + r.ctx.RewriteURL(path) + g[2]
	})
}

func (r *JS) rewriteDynamicImports(js string) string {
	js = replaceGroups(jsDynamicLitRe, js, func(m string, g []string) string {
		path := g[2]
		if r.skipURL(path) {
			return m
		}
		return "import(" + g[1] + r.ctx.RewriteURL(path) + g[1] + ")"
	})
	// Non-literal argument: rewrite the URL at call time via the runtime.
	return replaceGroups(jsDynamicExprRe, js, func(m string, g []string) string {
		expr := strings.TrimSpace(g[1])
		if expr == "" || strings.Contains(expr, master) {
			return m
		}
		return "import(" + master + ".rewriteUrl(" + expr + "))"
	})
}

// redirectLocation points location accesses at the prefixed accessor so the
// client runtime can substitute virtual original-site values.
func (r *JS) redirectLocation(js string) string {
	js = jsQualifiedLocRe.ReplaceAllString(js, "${1}${2}."+accessorPrefix+"location")
	js = jsFramedLocRe.ReplaceAllString(js, "${1}"+accessorPrefix+"${2}.location")
	return jsBareLocRe.ReplaceAllString(js, "${1}"+master+".location${2}")
}

func (r *JS) wrapEval(js string) string {
	return replaceGroups(jsEvalRe, js, func(m string, g []string) string {
		arg := g[2]
		if strings.Contains(arg, master) {
			return m
		}
		return g[1] + master + ".eval(eval, " + arg + ")"
	})
}

func (r *JS) wrapNewFunction(js string) string {
	return replaceGroups(jsNewFunctionRe, js, func(m string, g []string) string {
		args := g[1]
		if strings.Contains(args, master) {
			return m
		}
		// The final argument is the function body; the runtime rewrites it
		// before construction.
		return "new Function(" + master + ".rewriteJS(" + args + "))"
	})
}

// rewriteLiteralCalls rewrites string-literal URL arguments to fetch, Worker,
// WebSocket and XMLHttpRequest.open. Non-literal arguments are left to the
// client runtime shim.
func (r *JS) rewriteLiteralCalls(js string) string {
	js = replaceGroups(jsFetchRe, js, func(m string, g []string) string {
		if r.skipURL(g[3]) {
			return m
		}
		return g[1] + "fetch(" + g[2] + r.ctx.RewriteURL(g[3]) + g[2] + g[4]
	})
	js = replaceGroups(jsNewWorkerRe, js, func(m string, g []string) string {
		if r.skipURL(g[2]) {
			return m
		}
		return "new Worker(" + g[1] + r.ctx.RewriteURL(g[2]) + g[1]
	})
	js = replaceGroups(jsNewWebSocketRe, js, func(m string, g []string) string {
		if r.skipURL(g[2]) {
			return m
		}
		return "new WebSocket(" + g[1] + r.ctx.RewriteURL(g[2]) + g[1]
	})
	return replaceGroups(jsXHROpenRe, js, func(m string, g []string) string {
		if r.skipURL(g[3]) {
			return m
		}
		return ".open(" + g[1] + ", " + g[2] + r.ctx.RewriteURL(g[3]) + g[2]
	})
}

// wrapFrameAccess routes .top/.parent reads through the runtime accessor,
// defeating naive frame-busting.
func (r *JS) wrapFrameAccess(js string) string {
	return replaceGroups(jsFrameAccessRe, js, func(m string, g []string) string {
		prefix, ident, prop, suffix := g[1], g[2], g[3], g[4]
		if prefix == "$get(" || suffix != "" {
			return m // already wrapped, or a key/call rather than a read
		}
		if frameAccessDenylist[ident] || strings.HasPrefix(ident, master) {
			return m
		}
		return prefix + master + ".$get(" + ident + "." + prop + ")"
	})
}

// skipURL reports whether a literal URL must not be rewritten again.
func (r *JS) skipURL(u string) bool {
	if u == "" || strings.Contains(u, master) {
		return true
	}
	if strings.HasPrefix(u, "data:") {
		return true
	}
	return strings.HasPrefix(u, r.ctx.ProxyOrigin+r.ctx.Prefix) || strings.HasPrefix(u, r.ctx.Prefix)
}

// replaceGroups is ReplaceAllStringFunc with access to submatches.
func replaceGroups(re *regexp.Regexp, s string, f func(match string, groups []string) string) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		groups := re.FindStringSubmatch(m)
		if groups == nil {
			return m
		}
		return f(m, groups)
	})
}
