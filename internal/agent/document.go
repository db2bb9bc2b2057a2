package agent

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a page agent working on a parsed HTML tree. It backs the
// in-memory host and answers requests the same way the browser agent does.
type Document struct {
	mu   sync.Mutex
	url  string
	root *html.Node
}

// ParseDocument parses src as the page at pageURL.
func ParseDocument(pageURL, src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{url: pageURL, root: root}, nil
}

// URL returns the page address.
func (d *Document) URL() string { return d.url }

// Handle answers one request.
func (d *Document) Handle(req Request) (Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch r := req.(type) {
	case Extract:
		c, err := d.extract()
		if err != nil {
			return nil, err
		}
		return Extracted{Content: c}, nil
	case InjectCSS:
		d.inject(r.CSS)
		return Injected{Injected: true}, nil
	case RemoveStyles:
		return Removed{Removed: d.remove()}, nil
	default:
		return nil, fmt.Errorf("unsupported request %T", req)
	}
}

// InjectedCSS returns the managed style element's text, if present.
func (d *Document) InjectedCSS() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, StyleElementID)
	if n == nil {
		return "", false
	}
	return textOf(n), true
}

// ManagedCount counts elements carrying the managed style id.
func (d *Document) ManagedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	walk(d.root, func(n *html.Node) {
		if n.Type == html.ElementNode && attr(n, "id") == StyleElementID {
			count++
		}
	})
	return count
}

func (d *Document) extract() (Content, error) {
	var body *html.Node
	var styles []*html.Node
	var sheets []string

	base, _ := url.Parse(d.url)
	walk(d.root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.Body:
			if body == nil {
				body = n
			}
		case atom.Style:
			styles = append(styles, n)
		case atom.Link:
			if attr(n, "rel") != "stylesheet" {
				return
			}
			if href, ok := lookupAttr(n, "href"); ok {
				sheets = append(sheets, resolve(base, href))
			}
		}
	})

	var out bytes.Buffer
	if body != nil {
		if err := html.Render(&out, body); err != nil {
			return Content{}, fmt.Errorf("render body: %w", err)
		}
	}

	var css strings.Builder
	for i, s := range styles {
		fmt.Fprintf(&css, "/* Styles from <style> tag #%d */\n%s\n\n", i+1, textOf(s))
	}
	if len(sheets) > 0 {
		fmt.Fprintf(&css, "/* External Stylesheets (content not fetched):\n%s\n*/\n\n", strings.Join(sheets, "\n"))
	}

	return Content{HTML: out.String(), CSS: css.String(), URL: d.url}, nil
}

func (d *Document) inject(css string) {
	el := findByID(d.root, StyleElementID)
	if el == nil {
		el = &html.Node{
			Type:     html.ElementNode,
			Data:     "style",
			DataAtom: atom.Style,
			Attr:     []html.Attribute{{Key: "id", Val: StyleElementID}},
		}
		parent := findElement(d.root, atom.Head)
		if parent == nil {
			parent = findElement(d.root, atom.Html)
		}
		if parent == nil {
			parent = d.root
		}
		parent.AppendChild(el)
	}
	for c := el.FirstChild; c != nil; {
		next := c.NextSibling
		el.RemoveChild(c)
		c = next
	}
	el.AppendChild(&html.Node{Type: html.TextNode, Data: css})
}

func (d *Document) remove() bool {
	el := findByID(d.root, StyleElementID)
	if el == nil || el.Parent == nil {
		return false
	}
	el.Parent.RemoveChild(el)
	return true
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findElement(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) {
		if found == nil && n.Type == html.ElementNode && n.DataAtom == a {
			found = n
		}
	})
	return found
}

func findByID(root *html.Node, id string) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) {
		if found == nil && n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
		}
	})
	return found
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
