package crawler

import (
	"fmt"
	"net/http"
	"time"
)

type Outcome int

const (
	// Fetched means the body was downloaded and can be extracted.
	Fetched Outcome = iota
	// NotModified answers a conditional request for an unchanged page.
	NotModified
	// Redirected carries the resolved Location of a 3xx response.
	Redirected
	// Failed covers transport errors and unexpected statuses.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Fetched:
		return "fetched"
	case NotModified:
		return "not_modified"
	case Redirected:
		return "redirected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type FetchResult struct {
	Outcome      Outcome
	StatusCode   int
	Location     string
	ContentType  string
	ETag         string
	LastModified string
	Header       http.Header
	Body         []byte
	Err          error
}

// StatusError is returned for responses that are neither 2xx, 304 nor a
// redirect with a Location.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// DatasetError aborts a run when the dataset cannot be created or found.
type DatasetError struct {
	ID  string
	Err error
}

func (e *DatasetError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("dataset: %v", e.Err)
	}
	return fmt.Sprintf("dataset %q: %v", e.ID, e.Err)
}

func (e *DatasetError) Unwrap() error {
	return e.Err
}

type CrawlStats struct {
	StartTime  time.Time
	Emitted    int
	Fragments  int
	Unchanged  int
	Redirected int
	Failed     int
	Skipped    int
	Deleted    int
}

func (s *CrawlStats) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}

func (s *CrawlStats) PagesPerSecond() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(s.Emitted+s.Unchanged) / elapsed
}
