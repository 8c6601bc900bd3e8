package process

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/antchfx/xmlquery"
)

const maxSitemapBytes = 50 * 1024 * 1024

// FetchSitemap downloads a sitemap and returns the URLs of its <url><loc>
// entries. Sitemap indexes are not followed.
func FetchSitemap(ctx context.Context, client *http.Client, sitemapURL, userAgent string) ([]string, error) {
	req, err := NewRequest(ctx, sitemapURL, userAgent)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sitemap: unexpected status %d", resp.StatusCode)
	}

	body, err := ReadBody(resp, maxSitemapBytes)
	if err != nil {
		return nil, err
	}

	return ParseSitemap(body)
}

func ParseSitemap(body []byte) ([]string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}

	var locs []string
	xmlquery.FindEach(doc, "//url/loc", func(_ int, n *xmlquery.Node) {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			locs = append(locs, loc)
		}
	})
	return locs, nil
}
