package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/loopmem/internal/embedding"
	"github.com/rcliao/loopmem/internal/model"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements LongTerm and Journal using SQLite. With an embedder
// it ranks by cosine similarity; without one it ranks with FTS5 bm25.
type SQLiteStore struct {
	db       *sql.DB
	embedder embedding.Embedder
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// embedder may be nil.
func NewSQLiteStore(dbPath string, embedder embedding.Embedder) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, embedder: embedder}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.Make().String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS summaries (
		id          TEXT PRIMARY KEY,
		summary     TEXT NOT NULL,
		meta        TEXT,
		embedding   BLOB,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_created ON summaries(created_at DESC);

	CREATE VIRTUAL TABLE IF NOT EXISTS summaries_fts USING fts5(
		summary,
		content=summaries,
		content_rowid=rowid
	);

	CREATE TABLE IF NOT EXISTS segments (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		text        TEXT NOT NULL,
		tokens      INTEGER NOT NULL,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS iterations (
		run_id         TEXT NOT NULL,
		seq            INTEGER NOT NULL,
		directive      TEXT,
		input_tokens   INTEGER NOT NULL DEFAULT 0,
		output_tokens  INTEGER NOT NULL DEFAULT 0,
		context_tokens INTEGER NOT NULL DEFAULT 0,
		cost           REAL NOT NULL DEFAULT 0,
		text_len       INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Keep the FTS index in sync; summaries are append-only.
	_, err := s.db.Exec(`CREATE TRIGGER IF NOT EXISTS summaries_ai AFTER INSERT ON summaries BEGIN
		INSERT INTO summaries_fts(rowid, summary) VALUES (new.rowid, new.summary);
	END`)
	return err
}

// Store embeds and inserts a new summary entry.
func (s *SQLiteStore) Store(ctx context.Context, text string, meta map[string]string) (string, error) {
	now := time.Now().UTC()
	e := model.Entry{ID: s.newID(), Summary: text, Meta: copyMeta(meta), CreatedAt: now}
	if err := s.insert(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *SQLiteStore) insert(ctx context.Context, e model.Entry) error {
	if e.Meta == nil {
		e.Meta = map[string]string{}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.Meta[model.MetaID] = e.ID
	e.Meta[model.MetaCreatedAt] = e.CreatedAt.Format(timeLayout)

	var blob []byte
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, e.Summary)
		if err != nil {
			return fmt.Errorf("%w: embed summary: %w", ErrStoreUnavailable, err)
		}
		blob = encodeVector(vec)
	}

	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO summaries (id, summary, meta, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Summary, string(metaJSON), blob, e.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("%w: insert summary: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// List returns entries newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]model.Entry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, summary, meta, created_at FROM summaries ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
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

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries`).Scan(&n)
	return n, err
}

// AppendSegment journals one short-term segment.
func (s *SQLiteStore) AppendSegment(ctx context.Context, seg model.Segment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (text, tokens, created_at) VALUES (?, ?, ?)`,
		seg.Text, seg.Tokens, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append segment: %w", err)
	}
	return nil
}

// DropSegments removes the n oldest journaled segments.
func (s *SQLiteStore) DropSegments(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM segments WHERE seq IN (SELECT seq FROM segments ORDER BY seq LIMIT ?)`, n)
	if err != nil {
		return fmt.Errorf("drop segments: %w", err)
	}
	return nil
}

// LoadSegments returns journaled segments oldest first.
func (s *SQLiteStore) LoadSegments(ctx context.Context) ([]model.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text, tokens FROM segments ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []model.Segment
	for rows.Next() {
		var seg model.Segment
		if err := rows.Scan(&seg.Text, &seg.Tokens); err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// ReplaceSegments rewrites the journal to segs in one transaction.
func (s *SQLiteStore) ReplaceSegments(ctx context.Context, segs []model.Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace segments: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments`); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	for _, seg := range segs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO segments (text, tokens, created_at) VALUES (?, ?, ?)`,
			seg.Text, seg.Tokens, now); err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
	}
	return tx.Commit()
}

// RecordIteration stores one generation loop iteration.
func (s *SQLiteStore) RecordIteration(ctx context.Context, it model.Iteration) error {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO iterations (run_id, seq, directive, input_tokens, output_tokens, context_tokens, cost, text_len, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.RunID, it.Seq, it.Directive, it.InputTokens, it.OutputTokens, it.ContextLen, it.Cost, it.TextLen,
		it.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record iteration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner, extra ...interface{}) (model.Entry, error) {
	var e model.Entry
	var meta sql.NullString
	var createdAt string

	dest := append([]interface{}{&e.ID, &e.Summary, &meta, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return e, err
	}

	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if meta.Valid {
		json.Unmarshal([]byte(meta.String), &e.Meta)
	}
	return e, nil
}

func encodeVector(v embedding.Vector) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) embedding.Vector {
	v := make(embedding.Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
