package rewrite

import (
	"encoding/json"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ScriptPaths are the proxy-served bootstrap assets injected into every
// rewritten document.
type ScriptPaths struct {
	Bundle  string // codec and bundle definitions
	Config  string // runtime configuration
	Client  string // client runtime
	Handler string // hook installer, runs last
}

// bootstrapScript builds the inline script that seeds the client runtime with
// the serialized cookie and referrer values. It must run before any other
// injected asset.
func bootstrapScript(cookies, referrer string) string {
	c, _ := json.Marshal(cookies)
	r, _ := json.Marshal(referrer)
	return fmt.Sprintf("%s = %s;self.%sreferrer = %s;", cookiesGlobal, c, accessorPrefix, r)
}

// HeadNodes builds the bootstrap elements inserted as the first children of
// <head>, in execution order: cookie/referrer globals, bundle, config, client
// runtime, handler. Every node carries the injection marker so the HTML
// rewriter leaves it alone.
func HeadNodes(scripts ScriptPaths, cookies, referrer string) []*html.Node {
	inline := scriptNode("", bootstrapScript(cookies, referrer))
	nodes := []*html.Node{inline}
	for _, src := range []string{scripts.Bundle, scripts.Config, scripts.Client, scripts.Handler} {
		nodes = append(nodes, scriptNode(src, ""))
	}
	return nodes
}

// WorkerPreamble returns the import block prepended to rewritten worker
// scripts so the client runtime is loaded before any worker code executes.
func WorkerPreamble(scripts ScriptPaths, cookies, referrer string) string {
	return fmt.Sprintf(`if (!self.%s) {
	%s
	importScripts(%q);
	importScripts(%q);
	importScripts(%q);
	importScripts(%q);
}
`, master, bootstrapScript(cookies, referrer),
		scripts.Bundle, scripts.Config, scripts.Client, scripts.Handler)
}

func scriptNode(src, text string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr:     []html.Attribute{{Key: markerAttr, Val: "1"}},
	}
	if src != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "src", Val: src})
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return n
}
