// Package ingest turns external knowledge (URLs, pasted text, uploaded
// files) into embedded memory documents tagged category="knowledge".
package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nevindra/parley"
)

// KnowledgeCategory tags ingested documents in the memory index.
const KnowledgeCategory = "knowledge"

// embedBatchSize bounds one embedding request.
const embedBatchSize = 16

// Request is one ingestion job: exactly one of URL, Text, or
// Filename+ContentBase64.
type Request struct {
	URL           string `json:"url,omitempty"`
	Text          string `json:"text,omitempty"`
	Filename      string `json:"filename,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

// Result reports one completed ingestion.
type Result struct {
	Source    string `json:"source"`
	Documents int    `json:"documents"`
	Bytes     int    `json:"bytes"`
}

// Service extracts, chunks, embeds and stores knowledge.
type Service struct {
	index    parley.MemoryIndex
	embedder parley.EmbeddingProvider
	chunker  *Chunker
	fetcher  *Fetcher
	logger   *slog.Logger
	now      func() int64
}

// Option configures a Service.
type Option func(*Service)

// WithChunker replaces the default chunker.
func WithChunker(c *Chunker) Option {
	return func(s *Service) { s.chunker = c }
}

// WithFetcher replaces the default URL fetcher.
func WithFetcher(f *Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates an ingestion service.
func New(index parley.MemoryIndex, embedder parley.EmbeddingProvider, opts ...Option) *Service {
	s := &Service{
		index:    index,
		embedder: embedder,
		chunker:  NewChunker(),
		fetcher:  NewFetcher(),
		logger:   nopLogger,
		now:      parley.NowUnix,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ingest runs the full pipeline: extract text, chunk, embed in batches,
// store each chunk as a knowledge memory.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	source, text, err := s.extract(ctx, req)
	if err != nil {
		return Result{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, fmt.Errorf("ingest: no text extracted from %s", source)
	}

	chunks := s.chunker.Chunk(text)
	stored := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		vectors, err := s.embedder.Embed(ctx, batch)
		if err != nil {
			// Store the remainder without vectors rather than losing it.
			s.logger.Warn("ingest: embedding failed, storing without vectors",
				"source", source, "error", err)
			vectors = make([][]float32, len(batch))
		}

		for i, chunk := range batch {
			doc := parley.MemoryRecord{
				ID:         parley.NewID(),
				Content:    chunk,
				Category:   KnowledgeCategory,
				Entity:     source,
				Importance: 5,
				CreatedAt:  s.now(),
			}
			if err := s.index.AddMemory(ctx, doc, vectors[i]); err != nil {
				return Result{Source: source, Documents: stored, Bytes: len(text)}, err
			}
			stored++
		}
	}

	s.logger.Info("ingest: stored knowledge",
		"source", source, "documents", stored, "bytes", len(text))
	return Result{Source: source, Documents: stored, Bytes: len(text)}, nil
}

// extract resolves the request to (source label, plain text).
func (s *Service) extract(ctx context.Context, req Request) (string, string, error) {
	switch {
	case req.URL != "":
		text, err := s.fetcher.Fetch(ctx, req.URL)
		return req.URL, text, err

	case req.Text != "":
		return "inline", req.Text, nil

	case req.Filename != "" && req.ContentBase64 != "":
		raw, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			return req.Filename, "", fmt.Errorf("ingest: decode content: %w", err)
		}
		text, err := ExtractFile(req.Filename, raw)
		return req.Filename, text, err

	default:
		return "", "", fmt.Errorf("ingest: request needs url, text, or filename+content_base64")
	}
}
