package process

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benjaminestes/robots"
	"github.com/temoto/robotstxt"
)

// Policy holds the robots rules of every base origin for one crawl.
// Origins without rules (never fetched, or fetch failed) are unrestricted.
type Policy struct {
	userAgent    string
	defaultDelay time.Duration
	origins      map[string]*originRules
	sitemaps     []string
}

type originRules struct {
	robots *robots.Robots
	delay  time.Duration
}

// NewPolicy returns an empty policy that allows everything.
func NewPolicy(userAgent string, defaultDelay time.Duration) *Policy {
	if defaultDelay <= 0 {
		defaultDelay = time.Second
	}
	return &Policy{
		userAgent:    userAgent,
		defaultDelay: defaultDelay,
		origins:      make(map[string]*originRules),
	}
}

// LoadPolicy fetches robots.txt once for every distinct origin of baseURLs.
// Fetch or parse failures leave the origin unrestricted.
func LoadPolicy(ctx context.Context, client *http.Client, baseURLs []string, userAgent string, defaultDelay time.Duration) *Policy {
	p := NewPolicy(userAgent, defaultDelay)
	seen := make(map[string]bool)

	for _, base := range baseURLs {
		u, err := url.Parse(base)
		if err != nil || !u.IsAbs() {
			slog.Warn("invalid base url", slog.String("url", base), slog.Any("err", err))
			continue
		}
		origin := Origin(u)
		if seen[origin] {
			continue
		}
		seen[origin] = true

		robotsURL, err := robots.Locate(base)
		if err != nil {
			continue
		}

		body, status, err := getRobots(ctx, client, robotsURL, userAgent)
		if err != nil {
			slog.Info("failed to fetch robots.txt", slog.String("url", robotsURL), slog.Any("err", err))
			continue
		}
		if status != http.StatusOK {
			slog.Info("failed to fetch robots.txt", slog.String("url", robotsURL), slog.Int("status_code", status))
			continue
		}

		if err := p.Add(origin, body); err != nil {
			slog.Warn("failed to parse robots.txt, assuming allowed", slog.String("url", robotsURL), slog.Any("err", err))
		}
	}

	return p
}

// Add parses a robots.txt body for origin and merges its sitemaps.
func (p *Policy) Add(origin string, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in robots.txt parsing: %v", r)
		}
	}()

	matcher, err := robots.From(http.StatusOK, bytes.NewReader(body))
	if err != nil {
		return err
	}

	data, err := robotstxt.FromStatusAndBytes(http.StatusOK, body)
	if err != nil {
		return err
	}

	rules := &originRules{robots: matcher}
	if group := data.FindGroup(p.userAgent); group != nil && group.CrawlDelay > 0 {
		rules.delay = group.CrawlDelay
	}
	p.origins[strings.ToLower(origin)] = rules

	for _, sitemap := range data.Sitemaps {
		p.addSitemap(sitemap)
	}

	slog.Debug("robots.txt loaded",
		slog.String("origin", origin),
		slog.Duration("crawl_delay", rules.delay),
		slog.Int("sitemaps", len(data.Sitemaps)),
	)
	return nil
}

// Allowed reports whether userAgent may fetch rawURL.
func (p *Policy) Allowed(rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	rules, ok := p.origins[Origin(u)]
	if !ok {
		return true
	}
	return rules.robots.Test(userAgent, rawURL)
}

// CrawlDelay is the pause to observe before each request to origin.
func (p *Policy) CrawlDelay(origin string) time.Duration {
	if rules, ok := p.origins[strings.ToLower(origin)]; ok && rules.delay > 0 {
		return rules.delay
	}
	return p.defaultDelay
}

// Sitemaps lists the sitemap URLs declared by the loaded robots.txt files.
func (p *Policy) Sitemaps() []string {
	return append([]string(nil), p.sitemaps...)
}

func (p *Policy) addSitemap(sitemap string) {
	for _, s := range p.sitemaps {
		if s == sitemap {
			return
		}
	}
	p.sitemaps = append(p.sitemaps, sitemap)
}

func getRobots(ctx context.Context, client *http.Client, robotsURL, userAgent string) ([]byte, int, error) {
	req, err := NewRequest(ctx, robotsURL, userAgent)
	if err != nil {
		return nil, 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := ReadBody(resp, 512*1024)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	slog.Debug("robots.txt response",
		slog.String("url", robotsURL),
		slog.Int("status_code", resp.StatusCode),
		slog.Int("body_length", len(body)),
		slog.String("body_preview", string(body[:min(len(body), 200)])),
	)

	return body, resp.StatusCode, nil
}
