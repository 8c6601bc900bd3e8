package crawler

import (
	"context"
	"log/slog"

	"github.com/devraulu/webscraper/pkg/storage"
)

// Reconciler tracks which records of the previous run were confirmed by the
// current one. Whatever is left unconfirmed once the frontier is exhausted
// is stale.
type Reconciler struct {
	previous  []storage.Record
	children  map[string][]string
	confirmed map[string]struct{}
}

// NewReconciler indexes previous records. parentOf returns the id of the
// page a record was cut from, or "" for top level records.
func NewReconciler(previous []storage.Record, parentOf func(storage.Record) string) *Reconciler {
	r := &Reconciler{
		previous:  previous,
		children:  make(map[string][]string),
		confirmed: make(map[string]struct{}),
	}
	for _, rec := range previous {
		if parentID := parentOf(rec); parentID != "" {
			r.children[parentID] = append(r.children[parentID], rec.ID)
		}
	}
	return r
}

func (r *Reconciler) Confirm(id string) {
	r.confirmed[id] = struct{}{}
}

// ConfirmUnchanged confirms id and every previously stored fragment of it.
func (r *Reconciler) ConfirmUnchanged(id string) {
	r.Confirm(id)
	for _, child := range r.children[id] {
		r.Confirm(child)
	}
}

func (r *Reconciler) Confirmed(id string) bool {
	_, ok := r.confirmed[id]
	return ok
}

// Stale lists the previous records that were never confirmed.
func (r *Reconciler) Stale() []storage.Record {
	var stale []storage.Record
	for _, rec := range r.previous {
		if !r.Confirmed(rec.ID) {
			stale = append(stale, rec)
		}
	}
	return stale
}

// DeleteStale removes stale records from the dataset and returns how many
// were deleted. The first delete error aborts the pass.
func (r *Reconciler) DeleteStale(ctx context.Context, store storage.Storage, datasetID string) (int, error) {
	deleted := 0
	for _, rec := range r.Stale() {
		slog.Info("delete stale record", slog.String("id", rec.ID), slog.String("url", rec.URL))
		if err := store.DeleteRecord(ctx, datasetID, rec.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
