package crawler

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devraulu/webscraper/pkg/config"
	"github.com/devraulu/webscraper/pkg/storage"
)

func testConfig(site *testSite) *config.Config {
	cfg := config.Default()
	cfg.Dataset.Title = "Web scraper test"
	cfg.Crawler.UserAgent = "webscraper-test"
	cfg.Crawler.BaseURLs = []string{site.URL + "/site1/"}
	cfg.Crawler.StartURLs = []string{site.URL + "/site1/"}
	cfg.Politeness.DefaultCrawlDelay = 0.001
	cfg.Extract.Anchors = []config.AnchorConfig{{
		Tags:            []string{"section"},
		WrapperSelector: ".section",
		TitleSelector:   "a",
	}}
	cfg.Storage.Driver = "memory"
	return cfg
}

// newTestStore returns a memory store whose clock advances one second per write.
func newTestStore() *storage.MemoryStorage {
	store := storage.NewMemoryStorage()
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	return store
}

func withoutTimestamps(records []storage.Record) []storage.Record {
	out := make([]storage.Record, len(records))
	for i, r := range records {
		r.UpdatedAt = time.Time{}
		out[i] = r
	}
	return out
}

func byURL(records []storage.Record) map[string]storage.Record {
	m := make(map[string]storage.Record, len(records))
	for _, r := range records {
		m[r.URL] = r
	}
	return m
}

func TestCrawlSite(t *testing.T) {
	site := newTestSite(t)
	store := newTestStore()
	cfg := testConfig(site)
	ctx := context.Background()

	var created storage.Dataset
	c := New(cfg, store,
		WithHTTPClient(site.Client()),
		WithDatasetCreated(func(d storage.Dataset) error {
			created = d
			return nil
		}),
	)

	if err := c.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	if cfg.DatasetMode != config.ModeUpdate {
		t.Errorf("DatasetMode = %q, want update", cfg.DatasetMode)
	}
	datasetID := cfg.Dataset.ID
	if datasetID == "" || created.ID != datasetID {
		t.Fatalf("dataset id %q, created %q", datasetID, created.ID)
	}
	if cfg.Dataset.Title != "Web scraper test" {
		t.Errorf("dataset title = %q", cfg.Dataset.Title)
	}

	first := store.Records(datasetID)
	pages := byURL(first)
	base := site.URL + "/site1/"

	t.Run("stored set", func(t *testing.T) {
		want := []string{
			base,
			base + "page2/",
			base + "page3/",
			base + "meta-nofollow.html",
			base + "sections.html",
			base + "sections.html#section1",
			base + "sections.html#section2",
			base + "new.html",
		}
		for _, u := range want {
			if _, ok := pages[u]; !ok {
				t.Errorf("missing record for %s", u)
			}
		}
		if len(first) != len(want) {
			urls := make([]string, 0, len(first))
			for _, r := range first {
				urls = append(urls, r.URL)
			}
			t.Errorf("stored %d records, want %d: %v", len(first), len(want), urls)
		}
	})

	t.Run("identity", func(t *testing.T) {
		if _, ok := pages[base+"page2/index.html"]; ok {
			t.Error("page2/index.html stored separately")
		}
		if n := site.requested("/site1/page2/index.html"); n != 0 {
			t.Errorf("page2/index.html fetched %d times", n)
		}
		page2 := pages[base+"page2/"]
		if page2.Title != "Page 2 title" {
			t.Errorf("page2 title = %q", page2.Title)
		}
		if !strings.Contains(string(page2.Content), "Page 2 content") {
			t.Errorf("page2 content = %s", page2.Content)
		}
		if page2.ETag == "" || page2.LastModified != lastModified {
			t.Errorf("validators not stored: etag=%q last-modified=%q", page2.ETag, page2.LastModified)
		}
		if page2.ContentType != "text/html" || page2.Filename != "content.html" {
			t.Errorf("attachment = %q %q", page2.ContentType, page2.Filename)
		}
	})

	t.Run("directives and robots", func(t *testing.T) {
		for _, path := range []string{"meta-noindex.html", "header-noindex.html", "meta-nofollow-link.html", "robots-disallow.html", "moved.html", "broken.html"} {
			if _, ok := pages[base+path]; ok {
				t.Errorf("%s should not be stored", path)
			}
		}
		if n := site.requested("/site1/meta-nofollow-link.html"); n != 0 {
			t.Error("link of a nofollow page was discovered")
		}
		if n := site.requested("/site1/robots-disallow.html"); n != 0 {
			t.Error("robots disallowed page was fetched")
		}
	})

	t.Run("anchors", func(t *testing.T) {
		sections := pages[base+"sections.html"]
		if sections.Text != "This page contains sections" {
			t.Errorf("sections text = %q", sections.Text)
		}
		for i, title := range []string{"Section 1 title", "Section 2 title"} {
			n := string(rune('1' + i))
			frag := pages[base+"sections.html#section"+n]
			if frag.Title != title {
				t.Errorf("fragment %s title = %q, want %q", n, frag.Title, title)
			}
			if !strings.HasSuffix(frag.Text, "Section "+n+" content") {
				t.Errorf("fragment %s text = %q", n, frag.Text)
			}
			if !reflect.DeepEqual(frag.Tags, []string{"section"}) {
				t.Errorf("fragment %s tags = %v", n, frag.Tags)
			}
			if !strings.HasPrefix(string(frag.Content), "<body>\n  ") {
				t.Errorf("fragment %s content not wrapped: %q", n, frag.Content)
			}
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := c.Stats
		if s.Emitted != 6 || s.Fragments != 2 || s.Redirected != 1 || s.Failed != 1 || s.Skipped != 2 || s.Deleted != 0 {
			t.Errorf("stats = %+v", s)
		}
	})

	site.resetRequests()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	t.Run("idempotence", func(t *testing.T) {
		second := store.Records(datasetID)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("second run changed the stored set")
		}
		if c.Stats.Unchanged != 6 || c.Stats.Emitted != 0 || c.Stats.Deleted != 0 {
			t.Errorf("stats = %+v", c.Stats)
		}
		if n := site.requested("/site1/moved.html"); n != 0 {
			t.Errorf("unchanged home page still led to moved.html")
		}
	})

	sectionsID := pages[base+"sections.html"].ID
	mutated, err := store.GetRecord(ctx, datasetID, sectionsID)
	if err != nil {
		t.Fatal(err)
	}
	mutated.ETag, mutated.LastModified = "", ""
	if err := store.UpsertRecord(ctx, datasetID, mutated); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertRecord(ctx, datasetID, storage.Record{ID: "extrapage", URL: "http://test.com"}); err != nil {
		t.Fatal(err)
	}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("third run: %v", err)
	}

	t.Run("convergence after drift", func(t *testing.T) {
		third := store.Records(datasetID)
		if !reflect.DeepEqual(withoutTimestamps(first), withoutTimestamps(third)) {
			t.Errorf("third run did not converge to the first stored set")
		}
		if _, err := store.GetRecord(ctx, datasetID, "extrapage"); !errors.Is(err, storage.ErrRecordNotFound) {
			t.Errorf("injected record not deleted: %v", err)
		}
		refreshed := byURL(third)[base+"sections.html"]
		if !refreshed.UpdatedAt.After(pages[base+"sections.html"].UpdatedAt) {
			t.Error("sections page was not rewritten")
		}
		if c.Stats.Deleted != 1 {
			t.Errorf("deleted = %d, want 1", c.Stats.Deleted)
		}
	})
}

func TestCrawlStopDoesNotReconcile(t *testing.T) {
	site := newTestSite(t)
	store := newTestStore()
	cfg := testConfig(site)

	c := New(cfg, store, WithHTTPClient(site.Client()))
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	datasetID := cfg.Dataset.ID
	if err := store.UpsertRecord(context.Background(), datasetID, storage.Record{ID: "extrapage", URL: "http://test.com"}); err != nil {
		t.Fatal(err)
	}
	before := store.Records(datasetID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if after := store.Records(datasetID); !reflect.DeepEqual(before, after) {
		t.Error("a stopped run modified the dataset")
	}
}

func TestCrawlCancelDuringDelay(t *testing.T) {
	site := newTestSite(t)
	cfg := testConfig(site)
	cfg.Politeness.DefaultCrawlDelay = 60

	c := New(cfg, newTestStore(), WithHTTPClient(site.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(100*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
	if n := site.requested("/site1/"); n != 0 {
		t.Errorf("page fetched %d times after cancellation", n)
	}
}

func TestCrawlMissingDataset(t *testing.T) {
	site := newTestSite(t)
	cfg := testConfig(site)
	cfg.DatasetMode = config.ModeUpdate
	cfg.Dataset.ID = "does-not-exist"

	err := New(cfg, newTestStore(), WithHTTPClient(site.Client())).Run(context.Background())

	var dsErr *DatasetError
	if !errors.As(err, &dsErr) {
		t.Fatalf("Run = %v, want *DatasetError", err)
	}
	if dsErr.ID != "does-not-exist" || !errors.Is(err, storage.ErrDatasetNotFound) {
		t.Errorf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "does-not-exist") {
		t.Errorf("message does not name the dataset: %v", err)
	}
	if n := site.requested("/site1/"); n != 0 {
		t.Error("crawl started without a dataset")
	}
}

func TestCrawlOptions(t *testing.T) {
	site := newTestSite(t)
	site.setPage("/sitemap.xml", `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>`+site.URL+`/site1/page2/</loc></url>
  <url><loc>`+site.URL+`/site1/page3/</loc></url>
</urlset>`)

	cfg := testConfig(site)
	cfg.Crawler.StartURLs = nil
	cfg.Crawler.Sitemaps = []string{site.URL + "/missing-sitemap.xml", site.URL + "/sitemap.xml"}
	cfg.Crawler.ExcludeURLPatterns = []string{site.URL + "/site1/page3(/*)"}
	cfg.Extract.TitlePrefix = "Page "

	store := newTestStore()
	c := New(cfg, store, WithHTTPClient(site.Client()))
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	pages := byURL(store.Records(cfg.Dataset.ID))
	base := site.URL + "/site1/"

	if _, ok := pages[base+"page3/"]; ok {
		t.Error("excluded page stored")
	}
	page2, ok := pages[base+"page2/"]
	if !ok {
		t.Fatal("sitemap page not crawled")
	}
	if page2.Title != "2 title" {
		t.Errorf("title prefix not stripped: %q", page2.Title)
	}
	if _, ok := pages[base]; !ok {
		t.Error("link from a sitemap page not followed")
	}
}
