package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RemoteStorage talks to a REST dataset service exposing
// api/v1/datasets/{id} and api/v1/datasets/{id}/lines/{lineId}.
type RemoteStorage struct {
	client       *http.Client
	baseURL      *url.URL
	apiKey       string
	pollInterval time.Duration
	pollAttempts int
}

type remoteDataset struct {
	ID     string            `json:"id,omitempty"`
	Title  string            `json:"title"`
	IsRest bool              `json:"isRest,omitempty"`
	Status string            `json:"status,omitempty"`
	Schema []Field           `json:"schema,omitempty"`
	Extras map[string]string `json:"extras,omitempty"`
}

type remoteLine struct {
	ID           string `json:"_id"`
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	Tags         any    `json:"tags,omitempty"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

func NewRemoteStorage(client *http.Client, apiURL, apiKey string) (*RemoteStorage, error) {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("api url %q is not absolute", apiURL)
	}
	return &RemoteStorage{
		client:       client,
		baseURL:      base,
		apiKey:       apiKey,
		pollInterval: 500 * time.Millisecond,
		pollAttempts: 120,
	}, nil
}

func (s *RemoteStorage) CreateDataset(ctx context.Context, d Dataset) (Dataset, error) {
	if d.Schema == nil {
		d.Schema = Schema
	}
	payload, err := json.Marshal(remoteDataset{
		ID:     d.ID,
		Title:  d.Title,
		IsRest: true,
		Schema: d.Schema,
		Extras: d.Extras,
	})
	if err != nil {
		return Dataset{}, err
	}

	var created remoteDataset
	if err := s.do(ctx, http.MethodPost, "api/v1/datasets", nil, bytes.NewReader(payload), "application/json", &created); err != nil {
		return Dataset{}, fmt.Errorf("create dataset: %w", err)
	}

	for i := 0; created.Status != "" && created.Status != "finalized" && i < s.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return Dataset{}, ctx.Err()
		case <-time.After(s.pollInterval):
		}
		if err := s.do(ctx, http.MethodGet, "api/v1/datasets/"+url.PathEscape(created.ID), nil, nil, "", &created); err != nil {
			return Dataset{}, fmt.Errorf("wait for dataset: %w", err)
		}
	}

	slog.Info("created dataset", slog.String("id", created.ID), slog.String("title", created.Title))
	return Dataset{ID: created.ID, Title: created.Title, Schema: d.Schema, Extras: d.Extras}, nil
}

func (s *RemoteStorage) GetDataset(ctx context.Context, id string) (Dataset, error) {
	var d remoteDataset
	err := s.do(ctx, http.MethodGet, "api/v1/datasets/"+url.PathEscape(id), nil, nil, "", &d)
	if isNotFound(err) {
		return Dataset{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, id)
	}
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{ID: d.ID, Title: d.Title, Schema: d.Schema, Extras: d.Extras}, nil
}

func (s *RemoteStorage) ListRecords(ctx context.Context, datasetID string) ([]Record, error) {
	query := url.Values{}
	query.Set("select", "_id,url,etag,lastModified")
	query.Set("size", strconv.Itoa(ListPageSize))

	var res struct {
		Results []remoteLine `json:"results"`
	}
	if err := s.do(ctx, http.MethodGet, linesPath(datasetID, ""), query, nil, "", &res); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	records := make([]Record, 0, len(res.Results))
	for _, l := range res.Results {
		records = append(records, Record{ID: l.ID, URL: l.URL, ETag: l.ETag, LastModified: l.LastModified})
	}
	return records, nil
}

func (s *RemoteStorage) GetRecord(ctx context.Context, datasetID, id string) (Record, error) {
	var l remoteLine
	err := s.do(ctx, http.MethodGet, linesPath(datasetID, id), nil, nil, "", &l)
	if isNotFound(err) {
		return Record{}, fmt.Errorf("%w: %q", ErrRecordNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}

	r := Record{ID: l.ID, URL: l.URL, Title: l.Title, ETag: l.ETag, LastModified: l.LastModified, Tags: []string{}}
	switch tags := l.Tags.(type) {
	case string:
		r.Tags = splitTags(tags)
	case []any:
		for _, tag := range tags {
			if str, ok := tag.(string); ok {
				r.Tags = append(r.Tags, str)
			}
		}
	}
	return r, nil
}

// UpsertRecord sends the content as a multipart attachment next to the
// record fields, in a single request.
func (s *RemoteStorage) UpsertRecord(ctx context.Context, datasetID string, r Record) error {
	r = withDefaults(r)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachment"; filename=%q`, r.Filename))
	h.Set("Content-Type", r.ContentType)
	part, err := form.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(r.Content); err != nil {
		return err
	}

	body, err := json.Marshal(remoteLine{
		ID:           r.ID,
		URL:          r.URL,
		Title:        r.Title,
		Tags:         r.Tags,
		ETag:         r.ETag,
		LastModified: r.LastModified,
	})
	if err != nil {
		return err
	}
	if err := form.WriteField("_body", string(body)); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	if err := s.do(ctx, http.MethodPut, linesPath(datasetID, r.ID), nil, &buf, form.FormDataContentType(), nil); err != nil {
		return fmt.Errorf("upsert record %s: %w", r.ID, err)
	}
	return nil
}

func (s *RemoteStorage) DeleteRecord(ctx context.Context, datasetID, id string) error {
	err := s.do(ctx, http.MethodDelete, linesPath(datasetID, id), nil, nil, "", nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func (s *RemoteStorage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *RemoteStorage) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := s.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-apiKey", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, URL: u.String(), Code: resp.StatusCode, Body: strings.TrimSpace(string(preview))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, u.String(), err)
	}
	return nil
}

func linesPath(datasetID, id string) string {
	p := "api/v1/datasets/" + url.PathEscape(datasetID) + "/lines"
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
