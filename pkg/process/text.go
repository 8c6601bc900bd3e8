package process

import (
	"strings"

	"golang.org/x/net/html"
)

// ExtractText renders markup as the whitespace-collapsed text a reader
// would see. Document metadata and scripts are skipped.
func ExtractText(markup string) (string, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	extractTextNodes(doc, &sb)

	return strings.Join(strings.Fields(sb.String()), " "), nil
}

func extractTextNodes(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "head", "script", "style", "noscript", "iframe", "svg", "template":
			return
		}
	}

	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteString(" ")
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractTextNodes(c, sb)
	}
}
