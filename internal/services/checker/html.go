package checker

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const maxBody = 10 << 20

type document struct {
	root *html.Node
	base *url.URL
}

func parseDocument(r io.Reader, base *url.URL) (*document, error) {
	root, err := html.Parse(io.LimitReader(r, maxBody))
	if err != nil {
		return nil, err
	}
	return &document{root: root, base: base}, nil
}

// each calls fn for every element node in document order.
func (d *document) each(fn func(n *html.Node)) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			fn(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
}

func (d *document) elements(tag string) []*html.Node {
	var out []*html.Node
	d.each(func(n *html.Node) {
		if n.Data == tag {
			out = append(out, n)
		}
	})
	return out
}

// meta returns the content of the first <meta> whose key attribute (name or property) matches.
func (d *document) meta(key, value string) (string, bool) {
	var (
		content string
		found   bool
	)
	d.each(func(n *html.Node) {
		if found || n.Data != "meta" {
			return
		}
		if v, ok := attr(n, key); ok && strings.EqualFold(v, value) {
			content, _ = attr(n, "content")
			found = true
		}
	})
	return content, found
}

func (d *document) hasMetaPrefix(key, prefix string) bool {
	found := false
	d.each(func(n *html.Node) {
		if n.Data != "meta" {
			return
		}
		if v, ok := attr(n, key); ok && strings.HasPrefix(strings.ToLower(v), prefix) {
			found = true
		}
	})
	return found
}

// resolve makes ref absolute against the document URL and drops the fragment.
func (d *document) resolve(ref string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, false
	}
	if d.base != nil {
		u = d.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, true
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attr(n, key)
	return ok
}

// text concatenates the text under n, skipping script and style.
func text(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
