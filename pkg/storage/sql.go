package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// SQLStorage keeps datasets and records in a relational database. Queries are
// written with $N placeholders and rebound for SQLite.
type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
}

func NewPostgresStorage(db *sql.DB) *SQLStorage {
	return &SQLStorage{db: db, dialect: DialectPostgres}
}

func NewSQLiteStorage(db *sql.DB) *SQLStorage {
	return &SQLStorage{db: db, dialect: DialectSQLite}
}

func (s *SQLStorage) CreateDataset(ctx context.Context, d Dataset) (Dataset, error) {
	if d.ID == "" {
		d.ID = NewDatasetID(d.Title)
	} else if _, err := s.GetDataset(ctx, d.ID); err == nil {
		return Dataset{}, fmt.Errorf("%w: %q", ErrDatasetExists, d.ID)
	} else if !errors.Is(err, ErrDatasetNotFound) {
		return Dataset{}, err
	}
	if d.Schema == nil {
		d.Schema = Schema
	}

	schema, err := json.Marshal(d.Schema)
	if err != nil {
		return Dataset{}, err
	}
	extras, err := json.Marshal(d.Extras)
	if err != nil {
		return Dataset{}, err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO datasets (id, title, schema, extras)
		VALUES ($1, $2, $3, $4)`),
		d.ID, d.Title, string(schema), string(extras),
	)
	if err != nil {
		return Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}

	slog.Info("created dataset", slog.String("id", d.ID), slog.String("title", d.Title))
	return d, nil
}

func (s *SQLStorage) GetDataset(ctx context.Context, id string) (Dataset, error) {
	var (
		d              Dataset
		schema, extras []byte
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, title, schema, extras FROM datasets WHERE id = $1`),
		id,
	).Scan(&d.ID, &d.Title, &schema, &extras)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, id)
	}
	if err != nil {
		return Dataset{}, err
	}

	if err := json.Unmarshal(schema, &d.Schema); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset schema: %w", err)
	}
	if err := json.Unmarshal(extras, &d.Extras); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset extras: %w", err)
	}
	return d, nil
}

func (s *SQLStorage) ListRecords(ctx context.Context, datasetID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, url, etag, last_modified
		FROM records
		WHERE dataset_id = $1
		ORDER BY url
		LIMIT $2`),
		datasetID, ListPageSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.URL, &r.ETag, &r.LastModified); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (s *SQLStorage) GetRecord(ctx context.Context, datasetID, id string) (Record, error) {
	var (
		r    Record
		tags string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, url, title, tags, etag, last_modified, content, content_type, filename, text
		FROM records
		WHERE dataset_id = $1 AND id = $2`),
		datasetID, id,
	).Scan(&r.ID, &r.URL, &r.Title, &tags, &r.ETag, &r.LastModified, &r.Content, &r.ContentType, &r.Filename, &r.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %q", ErrRecordNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}
	r.Tags = splitTags(tags)
	return r, nil
}

func (s *SQLStorage) UpsertRecord(ctx context.Context, datasetID string, r Record) error {
	r = withDefaults(r)
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO records (dataset_id, id, url, title, tags, etag, last_modified, content, content_type, filename, text, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dataset_id, id) DO UPDATE
		SET url = EXCLUDED.url, title = EXCLUDED.title, tags = EXCLUDED.tags, etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified, content = EXCLUDED.content,
			content_type = EXCLUDED.content_type, filename = EXCLUDED.filename,
			text = EXCLUDED.text, updated_at = EXCLUDED.updated_at`),
		datasetID, r.ID, r.URL, r.Title, joinTags(r.Tags), r.ETag, r.LastModified,
		r.Content, r.ContentType, r.Filename, r.Text, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", r.ID, err)
	}

	slog.Debug("saved record", slog.String("id", r.ID), slog.String("url", r.URL))
	return nil
}

func (s *SQLStorage) DeleteRecord(ctx context.Context, datasetID, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM records WHERE dataset_id = $1 AND id = $2`),
		datasetID, id,
	)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

// rebind turns $N placeholders into ? for SQLite. Every query binds its
// arguments in placeholder order.
func (s *SQLStorage) rebind(query string) string {
	if s.dialect != DialectSQLite {
		return query
	}
	var sb strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			sb.WriteByte('?')
			i = j - 1
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}
