// Package model defines the core memory data types.
package model

import "time"

// Segment is one unit of raw generated or seed text held in short-term memory.
type Segment struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// Entry is a compressed long-term memory. Entries are immutable once stored.
type Entry struct {
	ID        string            `json:"id"`
	Summary   string            `json:"summary"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Match is an entry returned by a similarity query, with its rank score.
type Match struct {
	Entry
	Score float64 `json:"score"`
}

// Iteration records one pass of the generation loop.
type Iteration struct {
	RunID        string    `json:"run_id"`
	Seq          int       `json:"seq"`
	Directive    string    `json:"directive,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	ContextLen   int       `json:"context_tokens"`
	Cost         float64   `json:"cost"`
	TextLen      int       `json:"text_len"` // words generated
	CreatedAt    time.Time `json:"created_at"`
}

// Metadata keys written alongside every long-term entry.
const (
	MetaID        = "id"
	MetaCreatedAt = "created_at"
	MetaSegments  = "segments"
	MetaTokens    = "tokens"
	MetaRunID     = "run_id"
)
