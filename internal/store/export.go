package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/loopmem/internal/model"
)

// ExportAll returns every entry, oldest first.
func (s *SQLiteStore) ExportAll(ctx context.Context) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, summary, meta, created_at FROM summaries ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Import stores entries from an export, keeping their IDs. Entries whose ID
// already exists are skipped, never overwritten.
func (s *SQLiteStore) Import(ctx context.Context, entries []model.Entry) (int, error) {
	imported := 0
	for _, e := range entries {
		if e.ID == "" {
			e.ID = s.newID()
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries WHERE id = ?`, e.ID).Scan(&exists); err != nil {
			return imported, err
		}
		if exists > 0 {
			continue
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		e.Meta = copyMeta(e.Meta)
		if err := s.insert(ctx, e); err != nil {
			return imported, fmt.Errorf("import %s: %w", e.ID, err)
		}
		imported++
	}
	return imported, nil
}
