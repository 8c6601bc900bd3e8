package crawler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	frontier "github.com/devraulu/webscraper/pkg"
	"github.com/devraulu/webscraper/pkg/process"
)

// Fetcher performs one GET per page, conditional when the page carries
// validators from a previous run. Redirects are returned, not followed.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

func NewFetcher(client *http.Client, userAgent string, timeout time.Duration, maxBodyBytes int64) *Fetcher {
	c := &http.Client{Timeout: timeout}
	if client != nil {
		c.Transport = client.Transport
		c.Jar = client.Jar
		if client.Timeout > 0 {
			c.Timeout = client.Timeout
		}
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 * 1024 * 1024
	}
	return &Fetcher{client: c, userAgent: userAgent, maxBodyBytes: maxBodyBytes}
}

func (f *Fetcher) Fetch(ctx context.Context, page *frontier.Page) FetchResult {
	req, err := process.NewRequest(ctx, page.URL, f.userAgent)
	if err != nil {
		return FetchResult{Outcome: Failed, Err: err}
	}
	if page.ETag != "" {
		req.Header.Set("If-None-Match", page.ETag)
	}
	if page.LastModified != "" {
		req.Header.Set("If-Modified-Since", page.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{Outcome: Failed, Err: err}
	}
	defer resp.Body.Close()

	res := FetchResult{
		StatusCode:   resp.StatusCode,
		Header:       resp.Header,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	slog.Debug("fetch response",
		slog.String("url", page.URL),
		slog.Int("status_code", resp.StatusCode),
		slog.Bool("conditional", page.ETag != "" || page.LastModified != ""),
	)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		res.Outcome = NotModified
		return res

	case resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != "":
		target, err := page.Parsed().Parse(resp.Header.Get("Location"))
		if err != nil {
			res.Outcome = Failed
			res.Err = err
			return res
		}
		res.Outcome = Redirected
		res.Location = target.String()
		return res

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		res.Outcome = Failed
		res.Err = &StatusError{URL: page.URL, Code: resp.StatusCode}
		return res
	}

	body, err := process.ReadBody(resp, f.maxBodyBytes)
	if err != nil {
		res.Outcome = Failed
		res.Err = err
		return res
	}
	res.Outcome = Fetched
	res.Body = body
	return res
}
