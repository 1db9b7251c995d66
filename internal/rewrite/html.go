package rewrite

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// urlAttrs are attributes whose value is a single URL.
var urlAttrs = map[string]bool{
	"href": true, "src": true, "action": true, "poster": true,
	"background": true, "ping": true, "movie": true, "profile": true,
	"formaction": true, "icon": true, "manifest": true, "codebase": true,
	"cite": true, "archive": true, "longdesc": true, "usemap": true,
}

// forbiddenAttrs encode security assumptions that no longer hold once the
// document is re-served from the proxy origin; they are shadowed instead of
// forwarded.
var forbiddenAttrs = map[string]bool{
	"http-equiv": true, "integrity": true, "sandbox": true,
	"nonce": true, "crossorigin": true,
}

var metaRefreshRe = regexp.MustCompile(`(?i)^(\s*\d+\s*;\s*url\s*=\s*)(.+)$`)

// HTML rewrites parsed documents: URL attributes, srcset candidates, inline
// styles and scripts, meta refreshes, and head injection of the bootstrap.
type HTML struct {
	ctx *Context
	css *CSS
	js  *JS
}

// HTMLOptions control a single rewrite.
type HTMLOptions struct {
	// Document marks a full document render: <base href> handling and head
	// injection only apply to documents.
	Document bool
	// InjectHead nodes are inserted as the first children of <head> (or
	// <html> if absent), in order, before any element is rewritten.
	InjectHead []*html.Node
}

// NewHTML creates an HTML rewriter bound to ctx.
func NewHTML(ctx *Context) *HTML {
	return &HTML{ctx: ctx, css: NewCSS(ctx), js: NewJS(ctx)}
}

// Rewrite transforms src and returns the rewritten document. Parsing is
// permissive; on any failure the input is returned unchanged.
func (r *HTML) Rewrite(src string, opts HTMLOptions) string {
	if src == "" {
		return src
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return src
	}

	if opts.Document {
		if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
			r.ctx.SetBase(href)
		}
		if len(opts.InjectHead) > 0 {
			target := doc.Find("head").First()
			if target.Length() == 0 {
				target = doc.Find("html").First()
			}
			target.PrependNodes(opts.InjectHead...)
		}
	}

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		r.rewriteElement(s.Nodes[0])
	})

	return render(doc, src)
}

// Source restores shadow attributes, yielding a best-effort reconstruction of
// the original markup.
func (r *HTML) Source(src string) string {
	if src == "" {
		return src
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return src
	}

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		restored := make(map[string]string)
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if orig, ok := strings.CutPrefix(a.Key, shadowAttrPrefix); ok {
				restored[orig] = a.Val
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
		for i, a := range n.Attr {
			if v, ok := restored[strings.ToLower(a.Key)]; ok {
				n.Attr[i].Val = v
				delete(restored, strings.ToLower(a.Key))
			}
		}
		for k, v := range restored {
			n.Attr = append(n.Attr, html.Attribute{Key: k, Val: v})
		}
	})

	return render(doc, src)
}

func (r *HTML) rewriteElement(n *html.Node) {
	if attrVal(n, markerAttr) != "" {
		return
	}
	tag := n.Data

	shadowed := make(map[string]bool)
	for _, a := range n.Attr {
		if strings.HasPrefix(a.Key, shadowAttrPrefix) {
			shadowed[strings.TrimPrefix(a.Key, shadowAttrPrefix)] = true
		}
	}

	var kept, shadows []html.Attribute
	shadow := func(a html.Attribute) {
		// A shadow from an earlier pass already holds the original value.
		if name := strings.ToLower(a.Key); !shadowed[name] {
			shadowed[name] = true
			shadows = append(shadows, shadowAttr(a))
		}
	}
	for _, a := range n.Attr {
		name := strings.ToLower(a.Key)
		switch {
		case urlAttrs[name] || (name == "data" && tag == "object"):
			shadow(a)
			a.Val = r.ctx.RewriteURL(a.Val)
			kept = append(kept, a)
		case name == "srcset" || name == "imagesrcset":
			shadow(a)
			a.Val = r.RewriteSrcset(a.Val)
			kept = append(kept, a)
		case name == "srcdoc":
			shadow(a)
			a.Val = r.Rewrite(a.Val, HTMLOptions{Document: true})
			kept = append(kept, a)
		case name == "style":
			shadow(a)
			a.Val = r.css.Rewrite(a.Val, DeclarationList)
			kept = append(kept, a)
		case name == "content" && tag == "meta" && strings.EqualFold(attrVal(n, "http-equiv"), "refresh"):
			shadow(a)
			a.Val = r.rewriteMetaRefresh(a.Val)
			kept = append(kept, a)
		case strings.HasPrefix(name, "on"):
			shadow(a)
			a.Val = r.js.Rewrite(a.Val)
			kept = append(kept, a)
		case forbiddenAttrs[name]:
			// http-equiv keeps its meaning on <meta>; everywhere else the
			// attribute is shadowed away.
			if name == "http-equiv" && tag == "meta" {
				kept = append(kept, a)
				continue
			}
			shadow(a)
		default:
			kept = append(kept, a)
		}
	}
	n.Attr = append(kept, shadows...)

	switch tag {
	case "script":
		if t := attrVal(n, "type"); t == "" || strings.Contains(strings.ToLower(t), "javascript") || strings.EqualFold(t, "module") {
			replaceText(n, r.js.Rewrite)
		}
	case "style":
		replaceText(n, func(css string) string { return r.css.Rewrite(css, Stylesheet) })
	}
}

// RewriteSrcset rewrites the URL token of every srcset candidate, preserving
// width/density descriptors, and rejoins with ", ".
func (r *HTML) RewriteSrcset(srcset string) string {
	var out []string
	for _, candidate := range strings.Split(srcset, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		fields := strings.Fields(candidate)
		fields[0] = r.ctx.RewriteURL(fields[0])
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}

// rewriteMetaRefresh rewrites only the URL portion of "N;url=...", leaving
// the delay and syntax intact. Content without a url= clause passes through.
func (r *HTML) rewriteMetaRefresh(content string) string {
	groups := metaRefreshRe.FindStringSubmatch(content)
	if groups == nil {
		return content
	}
	return groups[1] + r.ctx.RewriteURL(groups[2])
}

func shadowAttr(a html.Attribute) html.Attribute {
	return html.Attribute{Key: shadowAttrPrefix + strings.ToLower(a.Key), Val: a.Val}
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// replaceText rewrites the concatenated text children of n in place.
func replaceText(n *html.Node, transform func(string) string) {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	text := b.String()
	if text == "" {
		return
	}
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: transform(text)})
}

// render serializes the document, falling back to the original markup if
// serialization fails.
func render(doc *goquery.Document, fallback string) string {
	if len(doc.Selection.Nodes) == 0 {
		return fallback
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, doc.Selection.Nodes[0]); err != nil {
		return fallback
	}
	return buf.String()
}
