// Package vectorstore provides the similarity-search index behind the vector
// and retrieval strategies. Vectors live in memory for scanning and are
// persisted to a bbolt database so embeddings survive restarts and tools do
// not need re-embedding on every boot.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"metamcp/internal/domain"
)

const (
	toolsBucketSuffix     = "_tools"
	documentsBucketSuffix = "_documents"
)

type toolRecord struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Vector     []float64 `json:"vector"`
	UsageCount int64     `json:"usage_count"`
	LastUsed   time.Time `json:"last_used"`
}

type documentRecord struct {
	Text     string            `json:"text"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Vector   []float64         `json:"vector"`
}

// Store is an append/update-only vector index with per-call locking; no lock
// is held across a selection call.
type Store struct {
	mu        sync.RWMutex
	db        *bbolt.DB
	prefix    string
	logger    *zap.Logger
	tools     map[string]toolRecord
	documents map[string][]documentRecord
}

type Options struct {
	Path             string
	CollectionPrefix string
	Logger           *zap.Logger
}

// Open loads or creates the store at the configured path.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	path := opts.Path
	if path == "" {
		path = domain.DefaultVectorStorePath
	}
	prefix := opts.CollectionPrefix
	if prefix == "" {
		prefix = domain.DefaultCollectionPrefix
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	s := &Store{
		db:        db,
		prefix:    prefix,
		logger:    logger.Named("vectorstore"),
		tools:     make(map[string]toolRecord),
		documents: make(map[string][]documentRecord),
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("vector store opened",
		zap.String("path", path),
		zap.Int("tools", len(s.tools)),
		zap.Int("document_sources", len(s.documents)),
	)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) toolsBucket() []byte {
	return []byte(s.prefix + toolsBucketSuffix)
}

func (s *Store) documentsBucket() []byte {
	return []byte(s.prefix + documentsBucketSuffix)
}

func (s *Store) load() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		tb, err := tx.CreateBucketIfNotExists(s.toolsBucket())
		if err != nil {
			return fmt.Errorf("create tools bucket: %w", err)
		}
		if err := tb.ForEach(func(k, v []byte) error {
			var rec toolRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn("skip corrupt tool record", zap.String("key", string(k)), zap.Error(err))
				return nil
			}
			s.tools[rec.ID] = rec
			return nil
		}); err != nil {
			return err
		}

		db, err := tx.CreateBucketIfNotExists(s.documentsBucket())
		if err != nil {
			return fmt.Errorf("create documents bucket: %w", err)
		}
		return db.ForEach(func(k, v []byte) error {
			var rec documentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn("skip corrupt document record", zap.String("key", string(k)), zap.Error(err))
				return nil
			}
			s.documents[rec.Source] = append(s.documents[rec.Source], rec)
			return nil
		})
	})
}

// SearchTools scans tool vectors and returns hits at or above threshold,
// ranked by score descending.
func (s *Store) SearchTools(ctx context.Context, vector []float64, limit int, threshold float64) ([]domain.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]domain.SearchHit, 0, limit)
	for _, rec := range s.tools {
		score := cosineSimilarity(vector, rec.Vector)
		if score < threshold {
			continue
		}
		hits = append(hits, domain.SearchHit{
			ID:    rec.ID,
			Score: score,
			Payload: map[string]any{
				"source":      rec.Source,
				"usage_count": rec.UsageCount,
				"last_used":   rec.LastUsed,
			},
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// UpsertTools stores vectors for every tool that carries one.
func (s *Store) UpsertTools(ctx context.Context, tools []domain.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.toolsBucket())
		for _, tool := range tools {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(tool.Embedding) == 0 {
				continue
			}
			rec := toolRecord{
				ID:         tool.ID,
				Source:     tool.Source,
				Vector:     tool.Embedding,
				UsageCount: tool.UsageCount,
				LastUsed:   tool.LastUsed,
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode tool %s: %w", tool.ID, err)
			}
			if err := bucket.Put([]byte(tool.ID), raw); err != nil {
				return fmt.Errorf("store tool %s: %w", tool.ID, err)
			}
			s.tools[tool.ID] = rec
		}
		return nil
	})
}

// UpdateToolUsage mutates usage bookkeeping on the stored record. Unknown
// IDs are ignored; the tool may simply not be embedded yet.
func (s *Store) UpdateToolUsage(ctx context.Context, toolID string, usageCount int64, lastUsed time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tools[toolID]
	if !ok {
		return nil
	}
	rec.UsageCount = usageCount
	rec.LastUsed = lastUsed

	return s.db.Update(func(tx *bbolt.Tx) error {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode tool %s: %w", toolID, err)
		}
		if err := tx.Bucket(s.toolsBucket()).Put([]byte(toolID), raw); err != nil {
			return fmt.Errorf("store tool %s: %w", toolID, err)
		}
		s.tools[toolID] = rec
		return nil
	})
}

// RemoveToolsForSource drops every tool vector owned by a source.
func (s *Store) RemoveToolsForSource(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.toolsBucket())
		for id, rec := range s.tools {
			if rec.Source != source {
				continue
			}
			if err := bucket.Delete([]byte(id)); err != nil {
				return fmt.Errorf("delete tool %s: %w", id, err)
			}
			delete(s.tools, id)
		}
		return nil
	})
}

// SearchDocuments scans document vectors, optionally restricted to one
// source, and returns chunks at or above threshold ranked by score.
func (s *Store) SearchDocuments(ctx context.Context, vector []float64, limit int, threshold float64, source string) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ScoredChunk
	for src, recs := range s.documents {
		if source != "" && src != source {
			continue
		}
		for _, rec := range recs {
			score := cosineSimilarity(vector, rec.Vector)
			if score < threshold {
				continue
			}
			out = append(out, domain.ScoredChunk{
				Chunk: domain.DocumentChunk{
					Text:      rec.Text,
					Source:    rec.Source,
					Metadata:  rec.Metadata,
					Embedding: rec.Vector,
				},
				Score: score,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReplaceDocuments fully replaces the chunks of one source. No stale
// duplicates survive a re-index.
func (s *Store) ReplaceDocuments(ctx context.Context, source string, chunks []domain.DocumentChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.documentsBucket())

		// Cursor.Delete is the only delete safe during iteration.
		cursor := bucket.Cursor()
		prefix := []byte(source + "/")
		for k, _ := cursor.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("delete chunk %s: %w", k, err)
			}
		}

		recs := make([]documentRecord, 0, len(chunks))
		for i, chunk := range chunks {
			rec := documentRecord{
				Text:     chunk.Text,
				Source:   source,
				Metadata: chunk.Metadata,
				Vector:   chunk.Embedding,
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode chunk %d of %s: %w", i, source, err)
			}
			key := fmt.Sprintf("%s/%06d", source, i)
			if err := bucket.Put([]byte(key), raw); err != nil {
				return fmt.Errorf("store chunk %s: %w", key, err)
			}
			recs = append(recs, rec)
		}
		if len(recs) == 0 {
			delete(s.documents, source)
		} else {
			s.documents[source] = recs
		}
		return nil
	})
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var (
	_ domain.ToolIndex     = (*Store)(nil)
	_ domain.DocumentIndex = (*Store)(nil)
)
