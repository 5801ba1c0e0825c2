package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/convomem/convomem/internal/vecenc"
)

// ScoredSession is a (session_id, score) pair returned by a search
// primitive.
type ScoredSession struct {
	SessionID string
	Score     float64
}

// SearchByKeywords runs the full-text leg over sessions(title, summary,
// keywords). A malformed FTS5 query is not a structural failure: it is
// reported as ErrFtsQuery so callers (the recall engine) can fall back
// to the vector-only leg.
func (s *Store) SearchByKeywords(ctx context.Context, query string, topK int) ([]ScoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, wrapError("search_by_keywords", err)
	}
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, bm25(sessions_fts) AS rank
		FROM sessions_fts
		JOIN sessions s ON s.rowid = sessions_fts.rowid
		WHERE sessions_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, topK)
	if err != nil {
		return nil, wrapError("search_by_keywords", fmt.Errorf("%w: %v", ErrFtsQuery, err))
	}
	defer rows.Close()

	var results []ScoredSession
	for rows.Next() {
		var sessionID string
		var raw float64
		if err := rows.Scan(&sessionID, &raw); err != nil {
			return nil, wrapError("search_by_keywords", fmt.Errorf("%w: %v", ErrStorageFailure, err))
		}
		results = append(results, ScoredSession{SessionID: sessionID, Score: 1.0 / (1.0 + math.Abs(raw))})
	}
	return results, rows.Err()
}

// SearchByVector runs the dense-vector leg: cosine distance in [0,2]
// mapped to similarity max(0, 1 - distance/2). If the vector index is
// unavailable (§4.A degradation), it returns an empty list.
func (s *Store) SearchByVector(ctx context.Context, query []float32, topK int) ([]ScoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, wrapError("search_by_vector", err)
	}
	if !s.vecAvailable || len(query) == 0 || topK <= 0 {
		return nil, nil
	}

	results := make([]ScoredSession, 0, len(s.vectors))
	for sessionID, vec := range s.vectors {
		distance := cosineDistance(query, vec)
		similarity := math.Max(0, 1-distance/2)
		results = append(results, ScoredSession{SessionID: sessionID, Score: similarity})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// UpdateEmbedding replaces a session's vector atomically. If the vector
// index is unavailable, UpdateEmbedding is a documented no-op.
func (s *Store) UpdateEmbedding(ctx context.Context, sessionID string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return wrapError("update_embedding", err)
	}
	if !s.vecAvailable {
		return nil
	}
	if err := vecenc.ValidateVector(vec); err != nil {
		return wrapError("update_embedding", err)
	}
	if len(vec) != s.config.VectorDim {
		return wrapError("update_embedding", fmt.Errorf("%w: vector has %d dimensions, store is configured for %d",
			vecenc.ErrInvalidVector, len(vec), s.config.VectorDim))
	}

	blob, err := vecenc.EncodeVector(vec)
	if err != nil {
		return wrapError("update_embedding", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_vectors (session_id, embedding) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET embedding = excluded.embedding
	`, sessionID, blob)
	if err != nil {
		return wrapError("update_embedding", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	s.vectors[sessionID] = append([]float32(nil), vec...)
	return nil
}

// HybridQuery is the input to Hybrid.
type HybridQuery struct {
	Text             string
	Embedding        []float32
	TopK             int
	VectorWeight     float64
	KeywordWeight    float64
	ExcludeSessionID string
}

// HybridResult is one ranked hit from Hybrid, carrying both sub-scores
// so callers (the recall engine) can apply time decay and thresholds.
type HybridResult struct {
	SessionID     string
	VectorScore   float64
	KeywordScore  float64
	CombinedScore float64
}

// Hybrid runs both search legs at topK*2, blends them by the supplied
// weights, excludes ExcludeSessionID, and truncates to topK descending
// by combined score (§4.A "Hybrid search").
func (s *Store) Hybrid(ctx context.Context, q HybridQuery) ([]HybridResult, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	fetch := q.TopK * 2

	keywordHits, err := s.SearchByKeywords(ctx, q.Text, fetch)
	if err != nil {
		// FtsQueryError: recover locally, proceed vector-only.
		keywordHits = nil
	}
	vectorHits, err := s.SearchByVector(ctx, q.Embedding, fetch)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]*HybridResult)
	for _, hit := range keywordHits {
		if hit.SessionID == q.ExcludeSessionID {
			continue
		}
		scores[hit.SessionID] = &HybridResult{SessionID: hit.SessionID, KeywordScore: capScore(hit.Score)}
	}
	for _, hit := range vectorHits {
		if hit.SessionID == q.ExcludeSessionID {
			continue
		}
		r, ok := scores[hit.SessionID]
		if !ok {
			r = &HybridResult{SessionID: hit.SessionID}
			scores[hit.SessionID] = r
		}
		r.VectorScore = capScore(hit.Score)
	}

	results := make([]HybridResult, 0, len(scores))
	for _, r := range scores {
		r.CombinedScore = q.VectorWeight*r.VectorScore + q.KeywordWeight*r.KeywordScore
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].SessionID < results[j].SessionID
	})
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results, nil
}

func capScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - similarity
}
