// Package store provides long-term memory storage backends: SQLite with
// embedded vectors and FTS5, and chromem-go.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/loopmem/internal/model"
)

var (
	// ErrStoreUnavailable means an entry could not be persisted.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrQueryUnavailable means a similarity query could not be served.
	ErrQueryUnavailable = errors.New("query unavailable")
)

// LongTerm is an append-only semantic index of summaries.
type LongTerm interface {
	// Store persists text and returns its new unique identifier. Entries are
	// never overwritten.
	Store(ctx context.Context, text string, meta map[string]string) (string, error)

	// Query returns up to k entries ranked by similarity to text, best first.
	// An empty store yields an empty result and no error.
	Query(ctx context.Context, text string, k int) ([]model.Match, error)

	// List returns up to limit entries, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]model.Entry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close closes the store.
	Close() error
}

// Portable moves entries between stores. Import keeps entry IDs and skips
// IDs that already exist.
type Portable interface {
	ExportAll(ctx context.Context) ([]model.Entry, error)
	Import(ctx context.Context, entries []model.Entry) (int, error)
}

// Journal persists the short-term buffer so it survives restarts.
type Journal interface {
	AppendSegment(ctx context.Context, seg model.Segment) error
	DropSegments(ctx context.Context, n int) error
	LoadSegments(ctx context.Context) ([]model.Segment, error)

	// ReplaceSegments rewrites the whole journal to segs.
	ReplaceSegments(ctx context.Context, segs []model.Segment) error
}

func copyMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	return out
}
