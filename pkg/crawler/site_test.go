package crawler

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const lastModified = "Mon, 02 Jan 2006 15:04:05 GMT"

var site1 = map[string]string{
	"/site1/": `<html><head><title>Site 1</title></head><body>
  <a href="page2/">Page 2</a>
  <a href="page2/index.html">Page 2 again</a>
  <a href="page3/">Page 3</a>
  <a href="meta-noindex.html">noindex</a>
  <a href="header-noindex.html">header noindex</a>
  <a href="meta-nofollow.html">nofollow</a>
  <a href="robots-disallow.html">disallowed</a>
  <a href="sections.html">sections</a>
  <a href="moved.html">moved</a>
  <a href="broken.html">broken</a>
  <a href="http://elsewhere.example.com/">outside</a>
</body></html>`,

	"/site1/page2/": `<html><head><title>Page 2 title</title></head><body><p>Page 2 content</p><a href="../">home</a></body></html>`,

	"/site1/page3/": `<html><head><title>Page 3 title</title></head><body><p>Page 3 content</p></body></html>`,

	"/site1/meta-noindex.html": `<html><head><meta name="robots" content="noindex"><title>Hidden</title></head><body>Hidden</body></html>`,

	"/site1/header-noindex.html": `<html><head><title>Header hidden</title></head><body>Hidden by header</body></html>`,

	"/site1/meta-nofollow.html": `<html><head><meta name="robots" content="nofollow"><title>No follow</title></head><body><a href="meta-nofollow-link.html">link</a></body></html>`,

	"/site1/meta-nofollow-link.html": `<html><head><title>Unreachable</title></head><body>Unreachable</body></html>`,

	"/site1/robots-disallow.html": `<html><head><title>Disallowed</title></head><body>Disallowed</body></html>`,

	"/site1/new.html": `<html><head><title>New location</title></head><body>Moved here</body></html>`,

	"/site1/sections.html": `<html><head><title>Sections</title></head><body>
  <p>This page contains sections</p>
  <div class="section">
    <a id="section1" href="#section1">Section 1 title</a>
    <p>Section 1 content</p>
  </div>
  <div class="section">
    <a id="section2" href="#section2">Section 2 title</a>
    <p>Section 2 content</p>
  </div>
</body></html>`,
}

// testSite serves site1 with ETag revalidation and records every request.
type testSite struct {
	*httptest.Server

	mu       sync.Mutex
	pages    map[string]string
	requests []string
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()

	s := &testSite{pages: make(map[string]string)}
	for path, body := range site1 {
		s.pages[path] = body
	}
	s.pages["/site1/page2/index.html"] = site1["/site1/page2/"]

	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *testSite) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Path)
	body, ok := s.pages[r.URL.Path]
	s.mu.Unlock()

	switch r.URL.Path {
	case "/robots.txt":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("User-agent: *\nDisallow: /site1/robots-disallow.html\n"))
		return
	case "/site1/moved.html":
		http.Redirect(w, r, "new.html", http.StatusMovedPermanently)
		return
	}

	if !ok {
		http.NotFound(w, r)
		return
	}

	sum := sha1.Sum([]byte(body))
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", lastModified)
	if r.URL.Path == "/site1/header-noindex.html" {
		w.Header().Set("X-Robots-Tag", "noindex")
	}
	w.Write([]byte(body))
}

func (s *testSite) setPage(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = body
}

func (s *testSite) requested(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.requests {
		if p == path {
			n++
		}
	}
	return n
}

func (s *testSite) resetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}
