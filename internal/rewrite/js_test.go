package rewrite

import (
	"strings"
	"testing"
)

func TestJSRewriteImports(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/app/")
	js := NewJS(ctx)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "static default import",
			in:   `import foo from "./mod.js";`,
			want: `import foo from "` + proxied("https://x.com/app/mod.js") + `";`,
		},
		{
			name: "static named import",
			in:   `import { a, b } from '/lib.js';`,
			want: `import { a, b } from '` + proxied("https://x.com/lib.js") + `';`,
		},
		{
			name: "bare side effect import",
			in:   `import "https://cdn.x.com/poly.js";`,
			want: `import "` + proxied("https://cdn.x.com/poly.js") + `";`,
		},
		{
			name: "dynamic literal import",
			in:   `import("./chunk.js")`,
			want: `import("` + proxied("https://x.com/app/chunk.js") + `")`,
		},
		{
			name: "dynamic expression import",
			in:   `import(path)`,
			want: `import(` + master + `.rewriteUrl(path))`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := js.Rewrite(tt.in); got != tt.want {
				t.Errorf("Rewrite(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJSRedirectLocation(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	js := NewJS(ctx)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "window qualified",
			in:   `window.location.href = "/next";`,
			want: `window.` + accessorPrefix + `location.href = "/next";`,
		},
		{
			name: "document qualified",
			in:   `var u = document.location;`,
			want: `var u = document.` + accessorPrefix + `location;`,
		},
		{
			name: "top framed",
			in:   `top.location = u;`,
			want: accessorPrefix + `top.location = u;`,
		},
		{
			name: "bare assignment",
			in:   `location = "/next";`,
			want: master + `.location = "/next";`,
		},
		{
			name: "bare member read",
			in:   `x = location.href;`,
			want: `x = ` + master + `.location.href;`,
		},
		{
			name: "shadowed local untouched",
			in:   `obj.relocation = 1;`,
			want: `obj.relocation = 1;`,
		},
		{
			name: "property access untouched",
			in:   `a.location.reload()`,
			want: `a.location.reload()`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := js.Rewrite(tt.in); got != tt.want {
				t.Errorf("Rewrite(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJSWrapEvalAndFunction(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	js := NewJS(ctx)

	got := js.Rewrite(`eval(code)`)
	if want := master + ".eval(eval, code)"; got != want {
		t.Errorf("eval: got %q, want %q", got, want)
	}

	got = js.Rewrite(`new Function("return 1")`)
	if want := `new Function(` + master + `.rewriteJS("return 1"))`; got != want {
		t.Errorf("new Function: got %q, want %q", got, want)
	}

	// Member eval stays untouched: it is not the global eval.
	in := `obj.eval(code)`
	if got := js.Rewrite(in); got != in {
		t.Errorf("member eval rewritten: %q", got)
	}
}

func TestJSRewriteLiteralCalls(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	js := NewJS(ctx)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fetch literal",
			in:   `fetch("/api/data")`,
			want: `fetch("` + proxied("https://x.com/api/data") + `")`,
		},
		{
			name: "fetch with init",
			in:   `fetch('/api', { method: 'POST' })`,
			want: `fetch('` + proxied("https://x.com/api") + `', { method: 'POST' })`,
		},
		{
			name: "worker",
			in:   `new Worker("/w.js")`,
			want: `new Worker("` + proxied("https://x.com/w.js") + `")`,
		},
		{
			name: "websocket",
			in:   `new WebSocket("wss://x.com/sock")`,
			want: `new WebSocket("` + proxied("wss://x.com/sock") + `")`,
		},
		{
			name: "xhr open",
			in:   `xhr.open("GET", "/api/v1")`,
			want: `xhr.open("GET", "` + proxied("https://x.com/api/v1") + `")`,
		},
		{
			name: "fetch data url untouched",
			in:   `fetch("data:text/plain,hi")`,
			want: `fetch("data:text/plain,hi")`,
		},
		{
			name: "fetch expression untouched",
			in:   `fetch(url)`,
			want: `fetch(url)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := js.Rewrite(tt.in); got != tt.want {
				t.Errorf("Rewrite(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJSWrapFrameAccess(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	js := NewJS(ctx)

	got := js.Rewrite(`if (window.top !== window) { bust(); }`)
	if want := `if (` + master + `.$get(window.top) !== window) { bust(); }`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Known non-DOM globals keep their plain meaning.
	in := `Math.top + JSON.parse(s)`
	if got := js.Rewrite(in); got != in {
		t.Errorf("denylisted global rewritten: %q", got)
	}

	// Object keys and method calls are not frame reads.
	in = `cfg = { top: 0 };`
	if got := js.Rewrite(in); got != in {
		t.Errorf("object key rewritten: %q", got)
	}
}

func TestJSRewriteIdempotent(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	js := NewJS(ctx)
	inputs := []string{
		`window.location.href = "/next";`,
		`top.location = u;`,
		`location = "/next";`,
		`import foo from "./mod.js";`,
		`fetch("/api/data")`,
		`eval(code)`,
		`new Function(body)`,
		`if (window.top !== window) bust();`,
		`import(path)`,
	}
	for _, in := range inputs {
		once := js.Rewrite(in)
		if twice := js.Rewrite(once); twice != once {
			t.Errorf("not idempotent for %q:\n once: %s\ntwice: %s", in, once, twice)
		}
	}
}

func TestJSBootstrapMarkerNoop(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	js := NewJS(ctx)
	in := cookiesGlobal + ` = "a=1"; window.location.href = "/x";`
	if got := js.Rewrite(in); got != in {
		t.Errorf("bootstrap script rewritten: %q", got)
	}
}

func TestJSPassFailureLeavesInputIntact(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	js := NewJS(ctx)
	// Unbalanced and pathological input must come back, rewritten or not,
	// never empty.
	in := strings.Repeat(`import(((("`, 10) + "location"
	if got := js.Rewrite(in); got == "" {
		t.Error("pathological input produced empty output")
	}
}
