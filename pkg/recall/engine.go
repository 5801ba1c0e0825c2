// Package recall implements convomem's recall engine (§4.D): hybrid
// search orchestration, time decay, query classification, prompt context
// formatting, and dedup against live conversation context.
package recall

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/convomem/convomem/pkg/embedding"
	"github.com/convomem/convomem/pkg/store"
)

// defaultLambda is the time decay rate, per unit of session age in days.
const defaultLambda = 0.001

// Query is the input to Recall.
type Query struct {
	Text             string
	Embedding        []float32
	CurrentSessionID string
	TopK             int
	MinScore         float64
	VectorWeight     float64
	KeywordWeight    float64
	TimeDecayFactor  float64
}

// Result is a ranked recall hit: a session plus its scores and a
// preview of its most recent context messages.
type Result struct {
	Session         *store.Session
	VectorScore     float64
	KeywordScore    float64
	CombinedScore   float64
	DecayedScore    float64
	ContextMessages []*store.Message
}

// Engine orchestrates hybrid search, time decay, and context assembly
// over a Store and an optional embedding Provider.
type Engine struct {
	store    *store.Store
	embedder embedding.Provider
}

// New constructs an Engine. embedder may be nil: queries with only text
// then run lexical-only (step 1 of Recall is skipped).
func New(st *store.Store, embedder embedding.Provider) *Engine {
	return &Engine{store: st, embedder: embedder}
}

// Recall implements §4.D steps 1-5.
func (e *Engine) Recall(ctx context.Context, q Query) ([]Result, error) {
	if q.TopK <= 0 {
		q.TopK = 10
	}
	vectorWeight, keywordWeight := q.VectorWeight, q.KeywordWeight
	if vectorWeight == 0 && keywordWeight == 0 {
		vectorWeight, keywordWeight = 0.6, 0.4
	}
	lambda := q.TimeDecayFactor
	if lambda == 0 {
		lambda = defaultLambda
	}

	queryEmbedding := q.Embedding
	if len(queryEmbedding) == 0 && q.Text != "" && e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, q.Text)
		if err == nil {
			queryEmbedding = vec
		}
	}

	hits, err := e.store.Hybrid(ctx, store.HybridQuery{
		Text:             q.Text,
		Embedding:        queryEmbedding,
		TopK:             q.TopK * 2,
		VectorWeight:     vectorWeight,
		KeywordWeight:    keywordWeight,
		ExcludeSessionID: q.CurrentSessionID,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if hit.CombinedScore < q.MinScore {
			continue
		}

		sess, err := e.store.GetSession(ctx, hit.SessionID)
		if err != nil {
			continue
		}

		decayed := hit.CombinedScore * decayFactor(now, sess.UpdatedAt, lambda)

		messages, err := e.store.GetRecentMessages(ctx, hit.SessionID, 3)
		if err != nil {
			messages = nil
		}

		results = append(results, Result{
			Session:         sess,
			VectorScore:     hit.VectorScore,
			KeywordScore:    hit.KeywordScore,
			CombinedScore:   hit.CombinedScore,
			DecayedScore:    decayed,
			ContextMessages: messages,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DecayedScore > results[j].DecayedScore
	})
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results, nil
}

const contextTextCap = 200

// RecallForSession is the entry point used when the caller has live
// conversation context but no explicit query: the lexical leg sees only
// the first 200 characters of contextText, the embedding leg sees the
// full text.
func (e *Engine) RecallForSession(ctx context.Context, sessionID, contextText string, topK int) ([]Result, error) {
	lexicalText := contextText
	if r := []rune(lexicalText); len(r) > contextTextCap {
		lexicalText = string(r[:contextTextCap])
	}

	var queryEmbedding []float32
	if e.embedder != nil && contextText != "" {
		vec, err := e.embedder.Embed(ctx, contextText)
		if err == nil {
			queryEmbedding = vec
		}
	}

	return e.Recall(ctx, Query{
		Text:             lexicalText,
		Embedding:        queryEmbedding,
		CurrentSessionID: sessionID,
		TopK:             topK,
	})
}

// decayFactor computes exp(-lambda * age_days), monotone non-increasing
// in (now - updatedAt).
func decayFactor(now time.Time, updatedAtUnix int64, lambda float64) float64 {
	ageDays := now.Sub(time.Unix(updatedAtUnix, 0)).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-lambda * ageDays)
}
