package process

import (
	"bytes"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Directives are the indexing directives of a page, from the X-Robots-Tag
// header or a robots meta tag.
type Directives struct {
	NoIndex  bool
	NoFollow bool
}

// ParseDirectives merges the comma separated tokens of value into d.
func (d *Directives) ParseDirectives(value string) {
	for _, part := range strings.Split(value, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "noindex":
			d.NoIndex = true
		case "nofollow":
			d.NoFollow = true
		case "none":
			d.NoIndex = true
			d.NoFollow = true
		}
	}
}

// HeaderDirectives reads every X-Robots-Tag value of a response.
func HeaderDirectives(h http.Header) Directives {
	var d Directives
	for _, v := range h.Values("X-Robots-Tag") {
		d.ParseDirectives(v)
	}
	return d
}

type AnchorRule struct {
	Tags            []string
	WrapperSelector string
	TitleSelector   string
}

type ExtractOptions struct {
	TitleSelectors []string
	TagsSelectors  []string
	Prune          []string
	Anchors        []AnchorRule
}

// Fragment is an in-page region promoted to its own record.
type Fragment struct {
	URL   string
	Title string
	Tags  []string
	HTML  string
}

type Extraction struct {
	Directives
	Title     string
	Tags      []string
	Fragments []Fragment
	Links     []string
	// HTML is the pruned markup to store, empty when the page is noindex.
	HTML string
}

var defaultTitleSelectors = []string{"title", "h1"}

// IsHTML reports whether a response carries HTML, by media type or by
// sniffing the body.
func IsHTML(contentType string, body []byte) bool {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil && (mediaType == "text/html" || mediaType == "application/xhtml+xml") {
			return true
		}
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) >= 5 && strings.EqualFold(string(trimmed[:5]), "<html") {
		return true
	}
	return contentType == "" && strings.HasPrefix(http.DetectContentType(body), "text/html")
}

// Extract resolves directives, title and tags of an HTML page, splits anchor
// fragments out of it, collects its outlinks and prunes the stored markup.
// header carries the directives already read from the response headers.
func Extract(pageURL string, body []byte, header Directives, opts ExtractOptions) (*Extraction, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := LoadDocument(body)
	if err != nil {
		return nil, err
	}

	res := &Extraction{Directives: header}
	res.Title = extractTitle(doc, opts.TitleSelectors)
	res.Tags = extractTags(doc, opts.TagsSelectors)

	for _, meta := range doc.Select("meta") {
		if !strings.EqualFold(doc.Attr(meta, "name"), "robots") {
			continue
		}
		content := doc.Attr(meta, "content")
		slog.Debug("robots meta", slog.String("url", pageURL), slog.String("content", content))
		res.ParseDirectives(content)
	}

	if !res.NoIndex && len(opts.Anchors) > 0 {
		res.Fragments = extractFragments(doc, base, res.Title, opts.Anchors)
	}

	if !res.NoFollow {
		res.Links = extractLinks(doc, base)
	}

	if !res.NoIndex {
		for _, selector := range opts.Prune {
			doc.RemoveMatches(selector)
		}
		res.HTML, err = doc.Serialize()
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

func extractTitle(doc Document, selectors []string) string {
	all := make([]string, 0, len(selectors)+len(defaultTitleSelectors))
	all = append(all, selectors...)
	all = append(all, defaultTitleSelectors...)

	for _, selector := range all {
		if title := strings.TrimSpace(doc.Text(doc.Select(selector)...)); title != "" {
			slog.Debug("used title selector", slog.String("selector", selector), slog.String("title", title))
			return title
		}
	}
	return ""
}

func extractTags(doc Document, selectors []string) []string {
	tags := []string{}
	for _, selector := range selectors {
		for _, n := range doc.Select(selector) {
			if tag := strings.TrimSpace(doc.Text(n)); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

func extractFragments(doc Document, base *url.URL, parentTitle string, rules []AnchorRule) []Fragment {
	self, err := NormalizeWith(base.String(), true, true)
	if err != nil {
		return nil
	}

	var fragments []Fragment
	for _, a := range doc.Select("a") {
		href := strings.TrimSpace(doc.Attr(a, "href"))
		if href == "" {
			continue
		}
		target, err := base.Parse(href)
		if err != nil || target.Fragment == "" {
			continue
		}
		if same, err := NormalizeWith(target.String(), true, true); err != nil || same != self {
			continue
		}

		element := doc.ElementByID(target.Fragment)
		if element == nil {
			continue
		}

		for _, rule := range rules {
			if !doc.Contains(element) {
				break
			}
			root := element
			if rule.WrapperSelector != "" {
				root = doc.Closest(element, rule.WrapperSelector)
			}
			if root == nil {
				continue
			}
			inner, err := doc.InnerHTML(root)
			if err != nil || inner == "" {
				continue
			}

			var title string
			if rule.TitleSelector != "" {
				title = doc.Text(doc.SelectWithin(root, rule.TitleSelector)...)
			} else {
				title = doc.Text(element)
			}
			title = strings.TrimSpace(title)
			if title == "" {
				title = parentTitle
			}

			fragments = append(fragments, Fragment{
				URL:   target.String(),
				Title: title,
				Tags:  append([]string{}, rule.Tags...),
				HTML:  inner,
			})
			doc.Remove(root)
		}
	}
	return fragments
}

func extractLinks(doc Document, base *url.URL) []string {
	var links []string
	for _, a := range doc.Select("a") {
		href := strings.TrimSpace(doc.Attr(a, "href"))
		if href == "" {
			continue
		}
		if resolved := resolve(href, base); resolved != "" {
			links = append(links, resolved)
		}
	}
	return links
}

func resolve(ref string, base *url.URL) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	abs := base.ResolveReference(u)

	scheme := strings.ToLower(abs.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}

	return abs.String()
}

// WrapFragment renders a fragment as the standalone markup stored for it.
func WrapFragment(inner string) string {
	return "<body>\n  " + inner + "\n</body>"
}
