package rewrite

import (
	"net/url"
	"testing"

	"webveil/internal/codec"
)

const (
	testOrigin = "https://proxy.test"
	testPrefix = "/service/"
)

func newTestContext(t *testing.T, target string) *Context {
	t.Helper()
	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("parse target %q: %v", target, err)
	}
	return NewContext(u, testOrigin, testPrefix, codec.XOR{})
}

// proxied returns the expected proxied form of an absolute URL.
func proxied(u string) string {
	return testOrigin + testPrefix + (codec.XOR{}).Encode(u)
}

func TestRewriteURLResolution(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		in     string
		target string // expected resolved absolute URL
	}{
		{"absolute", "https://x.com/", "https://other.com/a", "https://other.com/a"},
		{"root relative", "https://x.com/c/d", "/a/b", "https://x.com/a/b"},
		{"relative", "https://x.com/c/d", "e", "https://x.com/c/e"},
		{"protocol relative", "https://x.com", "//cdn.x.com/a", "https://cdn.x.com/a"},
		{"query only", "https://x.com/page", "?q=1", "https://x.com/page?q=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newTestContext(t, tt.base)
			got := ctx.RewriteURL(tt.in)
			want := proxied(tt.target)
			if got != want {
				t.Errorf("RewriteURL(%q) = %q, want %q", tt.in, got, want)
			}
		})
	}
}

func TestRewriteURLSkipSchemes(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	for _, in := range []string{
		"",
		"#anchor",
		"about:blank",
		"data:image/png;base64,AAAA",
		"blob:https://x.com/uuid",
		"mailto:a@x.com",
		"tel:+1555",
	} {
		if got := ctx.RewriteURL(in); got != in {
			t.Errorf("RewriteURL(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestRewriteURLJavascriptScheme(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	got := ctx.RewriteURL("javascript:top.location.href")
	if got == "javascript:top.location.href" {
		t.Fatal("javascript: code portion should be rewritten")
	}
	if got[:11] != "javascript:" {
		t.Errorf("scheme not preserved: %q", got)
	}
}

func TestRewriteURLIdempotent(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	once := ctx.RewriteURL("/a/b")
	if twice := ctx.RewriteURL(once); twice != once {
		t.Errorf("second rewrite changed URL: %q -> %q", once, twice)
	}
}

func TestSourceURLInverse(t *testing.T) {
	for _, name := range []string{codec.NameNone, codec.NamePercent, codec.NameXOR, codec.NameBase64} {
		c, err := codec.ByName(name)
		if err != nil {
			t.Fatal(err)
		}
		target, _ := url.Parse("https://x.com/")
		ctx := NewContext(target, testOrigin, testPrefix, c)
		for _, u := range []string{
			"https://x.com/a/b",
			"https://cdn.x.com/asset.js?v=2",
		} {
			if got := ctx.SourceURL(ctx.RewriteURL(u)); got != u {
				t.Errorf("codec %s: SourceURL(RewriteURL(%q)) = %q", name, u, got)
			}
		}
	}
}

func TestSourceURLPassThrough(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/")
	in := "https://unrelated.com/page"
	if got := ctx.SourceURL(in); got != in {
		t.Errorf("SourceURL(%q) = %q, want unchanged", in, got)
	}
}

func TestSetBase(t *testing.T) {
	ctx := newTestContext(t, "https://x.com/c/d")
	ctx.SetBase("/base/")
	got := ctx.RewriteURL("img.png")
	want := proxied("https://x.com/base/img.png")
	if got != want {
		t.Errorf("after SetBase, RewriteURL = %q, want %q", got, want)
	}
}
