package process

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Document is the DOM capability the extractor depends on. Nodes are plain
// *html.Node values so callers never touch the selector engine directly.
type Document interface {
	Select(selector string) []*html.Node
	SelectWithin(root *html.Node, selector string) []*html.Node
	Closest(n *html.Node, selector string) *html.Node
	ElementByID(id string) *html.Node
	Contains(n *html.Node) bool
	Text(nodes ...*html.Node) string
	Attr(n *html.Node, name string) string
	InnerHTML(n *html.Node) (string, error)
	Remove(n *html.Node)
	RemoveMatches(selector string)
	Serialize() (string, error)
}

type goqueryDocument struct {
	doc *goquery.Document
}

func LoadDocument(markup []byte) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &goqueryDocument{doc: doc}, nil
}

func (d *goqueryDocument) Select(selector string) []*html.Node {
	return d.doc.Find(selector).Nodes
}

func (d *goqueryDocument) SelectWithin(root *html.Node, selector string) []*html.Node {
	if root == nil {
		return nil
	}
	return goquery.NewDocumentFromNode(root).Find(selector).Nodes
}

func (d *goqueryDocument) Closest(n *html.Node, selector string) *html.Node {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	for c := n; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && m.Match(c) {
			return c
		}
	}
	return nil
}

func (d *goqueryDocument) ElementByID(id string) *html.Node {
	if id == "" {
		return nil
	}
	for _, n := range d.doc.Find("[id]").Nodes {
		if d.Attr(n, "id") == id {
			return n
		}
	}
	return nil
}

func (d *goqueryDocument) Contains(n *html.Node) bool {
	root := d.doc.Nodes[0]
	for c := n; c != nil; c = c.Parent {
		if c == root {
			return true
		}
	}
	return false
}

func (d *goqueryDocument) Text(nodes ...*html.Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		writeText(n, &sb)
	}
	return sb.String()
}

func (d *goqueryDocument) Attr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func (d *goqueryDocument) InnerHTML(n *html.Node) (string, error) {
	if n == nil {
		return "", nil
	}
	return goquery.NewDocumentFromNode(n).Html()
}

func (d *goqueryDocument) Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func (d *goqueryDocument) RemoveMatches(selector string) {
	d.doc.Find(selector).Remove()
}

func (d *goqueryDocument) Serialize() (string, error) {
	return d.doc.Html()
}

func writeText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, sb)
	}
}
