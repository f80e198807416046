package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rcliao/loopmem/internal/embedding"
	"github.com/rcliao/loopmem/internal/model"
)

// maxQueryTerms caps the number of words turned into an FTS5 MATCH expression.
const maxQueryTerms = 32

// Query ranks stored summaries against text.
func (s *SQLiteStore) Query(ctx context.Context, text string, k int) ([]model.Match, error) {
	if k <= 0 {
		return []model.Match{}, nil
	}
	n, err := s.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryUnavailable, err)
	}
	if n == 0 {
		return []model.Match{}, nil
	}

	var matches []model.Match
	if s.embedder != nil {
		matches, err = s.querySemantic(ctx, text, k)
	} else {
		matches, err = s.queryKeyword(ctx, text, k)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryUnavailable, err)
	}
	return matches, nil
}

// querySemantic scores every embedded entry by cosine similarity. Ties go to
// the newer entry.
func (s *SQLiteStore) querySemantic(ctx context.Context, text string, k int) ([]model.Match, error) {
	qvec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, summary, meta, created_at, embedding FROM summaries WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		var blob []byte
		e, err := scanEntry(rows, &blob)
		if err != nil {
			return nil, err
		}
		matches = append(matches, model.Match{
			Entry: e,
			Score: embedding.CosineSimilarity(qvec, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID > matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// queryKeyword ranks with FTS5 bm25. With no matching words it returns the
// newest entries so recall still has something to offer.
func (s *SQLiteStore) queryKeyword(ctx context.Context, text string, k int) ([]model.Match, error) {
	expr := matchExpr(text)
	if expr != "" {
		rows, err := s.db.QueryContext(ctx,
			`SELECT s.id, s.summary, s.meta, s.created_at, bm25(summaries_fts) AS rank
			 FROM summaries_fts
			 JOIN summaries s ON s.rowid = summaries_fts.rowid
			 WHERE summaries_fts MATCH ?
			 ORDER BY rank, s.id DESC
			 LIMIT ?`, expr, k)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var matches []model.Match
		for rows.Next() {
			var rank float64
			e, err := scanEntry(rows, &rank)
			if err != nil {
				return nil, err
			}
			// bm25 is lower-is-better; flip so Score is higher-is-better.
			matches = append(matches, model.Match{Entry: e, Score: -rank})
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}

	recent, err := s.List(ctx, k)
	if err != nil {
		return nil, err
	}
	matches := make([]model.Match, len(recent))
	for i, e := range recent {
		matches[i] = model.Match{Entry: e}
	}
	return matches, nil
}

// matchExpr turns free text into an FTS5 OR query of quoted terms.
func matchExpr(text string) string {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := map[string]bool{}
	var quoted []string
	for _, t := range terms {
		if len(t) < 2 || seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
		if len(quoted) == maxQueryTerms {
			break
		}
	}
	return strings.Join(quoted, " OR ")
}
