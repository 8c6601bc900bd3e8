package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStorage keeps everything in process memory. It backs dry runs and
// tests; Now can be replaced to control UpdatedAt.
type MemoryStorage struct {
	Now func() time.Time

	mu       sync.Mutex
	datasets map[string]Dataset
	records  map[string]map[string]Record
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Now:      time.Now,
		datasets: make(map[string]Dataset),
		records:  make(map[string]map[string]Record),
	}
}

func (s *MemoryStorage) CreateDataset(_ context.Context, d Dataset) (Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = NewDatasetID(d.Title)
	}
	if _, ok := s.datasets[d.ID]; ok {
		return Dataset{}, fmt.Errorf("%w: %q", ErrDatasetExists, d.ID)
	}
	if d.Schema == nil {
		d.Schema = Schema
	}
	s.datasets[d.ID] = d
	s.records[d.ID] = make(map[string]Record)
	return d, nil
}

func (s *MemoryStorage) GetDataset(_ context.Context, id string) (Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.datasets[id]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, id)
	}
	return d, nil
}

func (s *MemoryStorage) ListRecords(_ context.Context, datasetID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.records[datasetID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDatasetNotFound, datasetID)
	}

	list := make([]Record, 0, len(records))
	for _, id := range slices.Sorted(maps.Keys(records)) {
		r := records[id]
		list = append(list, Record{ID: r.ID, URL: r.URL, ETag: r.ETag, LastModified: r.LastModified})
		if len(list) == ListPageSize {
			break
		}
	}
	return list, nil
}

func (s *MemoryStorage) GetRecord(_ context.Context, datasetID, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[datasetID][id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrRecordNotFound, id)
	}
	return cloneRecord(r), nil
}

func (s *MemoryStorage) UpsertRecord(_ context.Context, datasetID string, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.records[datasetID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrDatasetNotFound, datasetID)
	}
	r = cloneRecord(withDefaults(r))
	r.UpdatedAt = s.Now()
	records[r.ID] = r
	return nil
}

func (s *MemoryStorage) DeleteRecord(_ context.Context, datasetID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records[datasetID], id)
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

// Records returns full copies of every record of a dataset, sorted by URL.
func (s *MemoryStorage) Records(datasetID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]Record, 0, len(s.records[datasetID]))
	for _, r := range s.records[datasetID] {
		list = append(list, cloneRecord(r))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].URL < list[j].URL })
	return list
}

func cloneRecord(r Record) Record {
	r.Tags = slices.Clone(r.Tags)
	r.Content = slices.Clone(r.Content)
	return r
}
