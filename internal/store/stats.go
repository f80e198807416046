package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath        string  `json:"db_path"`
	DBSizeBytes   int64   `json:"db_size_bytes"`
	Entries       int     `json:"entries"`
	Embedded      int     `json:"embedded"`
	Segments      int     `json:"segments"`
	SegmentTokens int     `json:"segment_tokens"`
	Runs          int     `json:"runs"`
	Iterations    int     `json:"iterations"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	Cost          float64 `json:"cost"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(embedding) FROM summaries`).Scan(&st.Entries, &st.Embedded); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens), 0) FROM segments`).Scan(&st.Segments, &st.SegmentTokens); err != nil {
		return st, err
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT run_id), COUNT(*), COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		 FROM iterations`).Scan(&st.Runs, &st.Iterations, &st.InputTokens, &st.OutputTokens, &st.Cost)
	return st, err
}
