package frontier

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/devraulu/webscraper/pkg/process"
)

// Page is the unit of work of a crawl and the unit of storage.
// Its ID is always derived from URL.
type Page struct {
	URL          string
	ID           string
	Title        string
	Tags         []string
	ETag         string
	LastModified string
	NoIndex      bool
	NoFollow     bool
	// Source records where the URL was discovered. Diagnostic only.
	Source string
	// ParentID is set on fragment pages and names the page they were cut from.
	ParentID string

	parsed *url.URL
}

// NewPage builds a page for a discovered URL.
func NewPage(rawURL, source string) (*Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	id, err := process.Identify(rawURL)
	if err != nil {
		return nil, err
	}
	return &Page{
		URL:    rawURL,
		ID:     id,
		Tags:   []string{},
		Source: source,
		parsed: parsed,
	}, nil
}

// RehydratePage rebuilds a page listed by a previous run, keeping its
// validators so the next fetch can be conditional.
func RehydratePage(rawURL, etag, lastModified string) (*Page, error) {
	p, err := NewPage(rawURL, "previous exploration")
	if err != nil {
		return nil, err
	}
	p.ETag = etag
	p.LastModified = lastModified

	if p.parsed.Fragment != "" {
		parentURL, err := process.WithoutFragment(rawURL)
		if err != nil {
			return nil, err
		}
		if p.ParentID, err = process.Identify(parentURL); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Page) Parsed() *url.URL {
	return p.parsed
}

func (p *Page) Origin() string {
	return process.Origin(p.parsed)
}

// RobotsChecker answers robots exclusion questions for the frontier.
type RobotsChecker interface {
	Allowed(rawURL, userAgent string) bool
}

type Options struct {
	BaseURLs  []string
	Exclude   []*process.ExcludePattern
	Robots    RobotsChecker
	UserAgent string
	// Progress is called on every cursor advance with the cursor position and
	// the number of admitted pages.
	Progress func(cursor, total int)
}

// Frontier is the ordered, deduplicated sequence of pages of one crawl.
// Pages pushed while it is being consumed are visited later in the same pass.
// It is not safe for concurrent use.
type Frontier struct {
	opts  Options
	pages []*Page
	ids   map[string]struct{}
	next  int
}

func NewFrontier(opts Options) *Frontier {
	return &Frontier{
		opts: opts,
		ids:  make(map[string]struct{}),
	}
}

// PushURL admits a bare URL with the given provenance.
func (f *Frontier) PushURL(rawURL, source string) bool {
	p, err := NewPage(rawURL, source)
	if err != nil {
		slog.Debug("frontier bad url", slog.String("url", rawURL), slog.Any("err", err))
		return false
	}
	return f.Push(p)
}

// Push runs the admission filters in order: scope, fragment, exclusion,
// robots, then dedup. It reports whether the page was admitted.
func (f *Frontier) Push(p *Page) bool {
	if p.parsed == nil {
		parsed, err := url.Parse(p.URL)
		if err != nil {
			return false
		}
		p.parsed = parsed
	}
	if !f.inScope(p.URL) {
		return false
	}
	if p.parsed.Fragment != "" {
		return false
	}
	for _, pattern := range f.opts.Exclude {
		if pattern.Match(p.parsed) {
			slog.Debug("frontier excluded", slog.String("url", p.URL), slog.String("pattern", pattern.String()))
			return false
		}
	}
	if f.opts.Robots != nil && !f.opts.Robots.Allowed(p.URL, f.opts.UserAgent) {
		slog.Debug("robots.txt disallowed", slog.String("url", p.URL))
		return false
	}

	id, err := process.Identify(p.URL)
	if err != nil {
		return false
	}
	p.ID = id
	if _, ok := f.ids[id]; ok {
		return false
	}

	f.ids[id] = struct{}{}
	f.pages = append(f.pages, p)
	slog.Debug("frontier push", slog.String("url", p.URL), slog.String("source", p.Source), slog.Int("queue_len", len(f.pages)))
	return true
}

// Next advances the cursor. exhausted is true once every admitted page has
// been returned.
func (f *Frontier) Next() (p *Page, exhausted bool) {
	if f.opts.Progress != nil {
		f.opts.Progress(f.next, len(f.pages))
	}
	if f.next >= len(f.pages) {
		return nil, true
	}
	p = f.pages[f.next]
	f.next++
	return p, false
}

// Remaining is the number of admitted pages not yet returned by Next.
func (f *Frontier) Remaining() int {
	return len(f.pages) - f.next
}

// Len is the number of admitted pages.
func (f *Frontier) Len() int {
	return len(f.pages)
}

// Has reports whether a page with this id was admitted.
func (f *Frontier) Has(id string) bool {
	_, ok := f.ids[id]
	return ok
}

func (f *Frontier) inScope(rawURL string) bool {
	for _, base := range f.opts.BaseURLs {
		if strings.HasPrefix(rawURL, base) {
			return true
		}
	}
	return false
}
