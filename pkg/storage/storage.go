package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrDatasetExists   = errors.New("dataset already exists")
	ErrRecordNotFound  = errors.New("record not found")
)

// ListPageSize caps how many records ListRecords returns.
const ListPageSize = 10000

const (
	DefaultContentType = "text/html"
	DefaultFilename    = "content.html"
)

type Field struct {
	Key       string `json:"key"`
	Type      string `json:"type"`
	Separator string `json:"separator,omitempty"`
	RefersTo  string `json:"x-refersTo,omitempty"`
}

// Schema is the field layout of a crawl dataset.
var Schema = []Field{
	{Key: "title", Type: "string", RefersTo: "http://www.w3.org/2000/01/rdf-schema#label"},
	{Key: "url", Type: "string", RefersTo: "https://schema.org/WebPage"},
	{Key: "tags", Type: "string", Separator: ",", RefersTo: "https://schema.org/DefinedTermSet"},
	{Key: "etag", Type: "string", Separator: ","},
	{Key: "lastModified", Type: "string"},
	{Key: "attachmentPath", Type: "string", RefersTo: "http://schema.org/DigitalDocument"},
}

type Dataset struct {
	ID     string
	Title  string
	Schema []Field
	Extras map[string]string
}

// Record is a stored page. Listing only fills ID, URL, ETag and LastModified.
type Record struct {
	ID           string
	URL          string
	Title        string
	Tags         []string
	ETag         string
	LastModified string
	Content      []byte
	ContentType  string
	Filename     string
	// Text is the plain-text rendition of Content.
	Text      string
	UpdatedAt time.Time
}

type Storage interface {
	// CreateDataset creates a dataset and returns it with its assigned id.
	CreateDataset(ctx context.Context, d Dataset) (Dataset, error)
	// GetDataset returns ErrDatasetNotFound when id is unknown.
	GetDataset(ctx context.Context, id string) (Dataset, error)
	ListRecords(ctx context.Context, datasetID string) ([]Record, error)
	GetRecord(ctx context.Context, datasetID, id string) (Record, error)
	// UpsertRecord atomically replaces the record with the same id.
	UpsertRecord(ctx context.Context, datasetID string, r Record) error
	DeleteRecord(ctx context.Context, datasetID, id string) error
	Close() error
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func withDefaults(r Record) Record {
	if r.ContentType == "" {
		r.ContentType = DefaultContentType
	}
	if r.Filename == "" {
		r.Filename = DefaultFilename
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	return r
}
