package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/philippgille/chromem-go"

	"github.com/rcliao/loopmem/internal/embedding"
	"github.com/rcliao/loopmem/internal/model"
)

const chromemCollection = "memory_chunks"

// ChromemStore implements LongTerm on a chromem-go vector collection. An
// entry index is kept alongside the collection for listing.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	entries    map[string]model.Entry
	mu         sync.RWMutex
	persistDir string // empty for in-memory
}

// NewChromemStore opens a persistent collection under persistDir, or an
// in-memory one when persistDir is empty. A nil embedder uses hash embeddings.
func NewChromemStore(persistDir string, embedder embedding.Embedder) (*ChromemStore, error) {
	if embedder == nil {
		embedder = embedding.NewHashEmbedder(0)
	}

	var db *chromem.DB
	if persistDir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(persistDir, false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(chromemCollection, nil, chromem.EmbeddingFunc(embedding.Func(embedder)))
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}

	s := &ChromemStore{
		db:         db,
		collection: col,
		entries:    make(map[string]model.Entry),
		persistDir: persistDir,
	}
	if err := s.loadIndex(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load index: %w", err)
	}
	return s, nil
}

func (s *ChromemStore) Store(ctx context.Context, text string, meta map[string]string) (string, error) {
	now := time.Now().UTC()
	id := ulid.Make().String()

	m := copyMeta(meta)
	m[model.MetaID] = id
	m[model.MetaCreatedAt] = now.Format(timeLayout)

	doc := chromem.Document{ID: id, Content: text, Metadata: m}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("%w: add document: %w", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	s.entries[id] = model.Entry{ID: id, Summary: text, Meta: m, CreatedAt: now}
	s.mu.Unlock()

	// Collection and index change together or not at all.
	if err := s.saveIndex(); err != nil {
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
		if derr := s.collection.Delete(ctx, nil, nil, id); derr != nil {
			return "", fmt.Errorf("%w: save index: %w (rollback: %w)", ErrStoreUnavailable, err, derr)
		}
		return "", fmt.Errorf("%w: save index: %w", ErrStoreUnavailable, err)
	}
	return id, nil
}

func (s *ChromemStore) Query(ctx context.Context, text string, k int) ([]model.Match, error) {
	count := s.collection.Count()
	if k <= 0 || count == 0 {
		return []model.Match{}, nil
	}
	// chromem rejects nResults larger than the collection.
	if k > count {
		k = count
	}

	results, err := s.collection.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query collection: %w", ErrQueryUnavailable, err)
	}

	matches := make([]model.Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, model.Match{Entry: s.entryFromResult(r), Score: float64(r.Similarity)})
	}
	return matches, nil
}

func (s *ChromemStore) List(ctx context.Context, limit int) ([]model.Entry, error) {
	s.mu.RLock()
	entries := make([]model.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID > entries[j].ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ExportAll returns every entry, oldest first.
func (s *ChromemStore) ExportAll(ctx context.Context) ([]model.Entry, error) {
	entries, err := s.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Import adds entries under their existing IDs, skipping known ones.
func (s *ChromemStore) Import(ctx context.Context, entries []model.Entry) (int, error) {
	imported := 0
	for _, e := range entries {
		if e.ID == "" {
			e.ID = ulid.Make().String()
		}
		s.mu.RLock()
		_, exists := s.entries[e.ID]
		s.mu.RUnlock()
		if exists {
			continue
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.Meta = copyMeta(e.Meta)
		e.Meta[model.MetaID] = e.ID
		e.Meta[model.MetaCreatedAt] = e.CreatedAt.Format(timeLayout)

		doc := chromem.Document{ID: e.ID, Content: e.Summary, Metadata: e.Meta}
		if err := s.collection.AddDocument(ctx, doc); err != nil {
			return imported, fmt.Errorf("import %s: %w", e.ID, err)
		}
		s.mu.Lock()
		s.entries[e.ID] = e
		s.mu.Unlock()
		imported++
	}
	if err := s.saveIndex(); err != nil {
		return imported, fmt.Errorf("save index: %w", err)
	}
	return imported, nil
}

func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

func (s *ChromemStore) Close() error {
	return nil
}

// entryFromResult prefers the local index and falls back to document metadata.
func (s *ChromemStore) entryFromResult(r chromem.Result) model.Entry {
	s.mu.RLock()
	e, ok := s.entries[r.ID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	ts, _ := time.Parse(timeLayout, r.Metadata[model.MetaCreatedAt])
	return model.Entry{ID: r.ID, Summary: r.Content, Meta: r.Metadata, CreatedAt: ts}
}

func (s *ChromemStore) indexPath() string {
	if s.persistDir == "" {
		return ""
	}
	return filepath.Join(s.persistDir, "entries_index.json")
}

func (s *ChromemStore) saveIndex() error {
	path := s.indexPath()
	if path == "" {
		return nil
	}

	s.mu.RLock()
	data, err := json.Marshal(s.entries)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *ChromemStore) loadIndex() error {
	path := s.indexPath()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, &s.entries)
}
