package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rcliao/loopmem/internal/config"
	"github.com/rcliao/loopmem/internal/embedding"
	"github.com/rcliao/loopmem/internal/llm"
	"github.com/rcliao/loopmem/internal/memory"
	"github.com/rcliao/loopmem/internal/metrics"
	"github.com/rcliao/loopmem/internal/store"
	"github.com/rcliao/loopmem/internal/summarizer"
	"github.com/rcliao/loopmem/internal/tokenizer"
)

// app wires the stores and collaborators shared by the commands. The SQLite
// database always holds the short-term journal and iteration log; long-term
// summaries live there too unless the chromem backend is selected.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *store.SQLiteStore
	ltm     store.LongTerm
	counter tokenizer.Counter
	client  *llm.Client
}

func openApp(extra map[string]interface{}) (*app, error) {
	cfg, err := loadConfig(extra)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.Store.Path, emb)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		ltm:     db,
		counter: tokenizer.New(cfg.Tokenizer.Model, logger),
		client:  llm.New(cfg.LLM),
	}

	if cfg.Store.Backend == "chromem" {
		cs, err := store.NewChromemStore(chromemDir(cfg), emb)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open chromem store: %w", err)
		}
		a.ltm = cs
	}
	return a, nil
}

func (a *app) Close() {
	if a.ltm != store.LongTerm(a.db) {
		a.ltm.Close()
	}
	a.db.Close()
}

// portable returns the long-term backend's export/import surface.
func (a *app) portable() store.Portable {
	if p, ok := a.ltm.(store.Portable); ok {
		return p
	}
	return a.db
}

// newManager builds a memory manager over the journaled buffer.
func (a *app) newManager(ctx context.Context, runID string, mx *metrics.Manager) (*memory.Manager, error) {
	reducer := a.client.WithModel(a.cfg.Summarizer.Model, a.cfg.Summarizer.Temperature)
	sum := summarizer.New(reducer, a.counter, summarizer.Options{
		InputThreshold: a.cfg.Summarizer.InputThreshold,
		ChunkTokens:    a.cfg.Summarizer.ChunkTokens,
		MaxTokens:      a.cfg.Summarizer.MaxTokens,
	}, a.logger)

	mc := a.cfg.Memory
	mgr := memory.New(a.counter, sum, a.ltm, memory.Options{
		SummarizeThreshold:  mc.SummarizeThreshold,
		ChunkBudget:         mc.ChunkBudget,
		MaxCompressPasses:   mc.MaxCompressPasses,
		MaxCompressFailures: mc.MaxCompressFailures,
		ContextWindow:       mc.ContextWindowTokens,
		TopK:                mc.TopK,
		Separator:           mc.Separator,
		RunID:               runID,
	}, a.logger).WithJournal(a.db).WithMetrics(mx)

	if err := mgr.Restore(ctx); err != nil {
		return nil, err
	}
	return mgr, nil
}
