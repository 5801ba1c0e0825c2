// Package indexer implements convomem's index manager (§4.C): keyword
// extraction, summary construction, token recount, and session vector
// refresh.
package indexer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/convomem/convomem/internal/memlog"
	"github.com/convomem/convomem/pkg/embedding"
	"github.com/convomem/convomem/pkg/store"
)

const (
	messageLoadCap   = 1000
	summaryMaxUser   = 3
	summaryPerMsgCap = 100
	summaryTotalCap  = 200
	embedPayloadUser = 5
	embedPayloadCap  = 100
	reindexInterval  = 10 * time.Minute
	reindexEvery     = 5
)

// Indexer realizes the index manager component over a Store and an
// optional embedding Provider.
type Indexer struct {
	store    *store.Store
	embedder embedding.Provider
	logger   memlog.Logger
}

// New constructs an Indexer. embedder may be nil, in which case step 6
// of Index (§4.C) is skipped.
func New(st *store.Store, embedder embedding.Provider, logger memlog.Logger) *Indexer {
	if logger == nil {
		logger = memlog.Nop()
	}
	return &Indexer{store: st, embedder: embedder, logger: logger}
}

// Index performs the §4.C indexing pipeline for a session. force is
// accepted for symmetry with the spec's signature; this implementation
// always re-derives keywords/summary/token_count/vector regardless, since
// the cost of doing so is bounded by messageLoadCap.
func (ix *Indexer) Index(ctx context.Context, sessionID string, force bool) error {
	sess, err := ix.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("index %s: %w", sessionID, err)
	}

	messages, err := ix.store.GetMessages(ctx, sessionID, messageLoadCap, 0)
	if err != nil {
		// IndexingFailure: log, leave the session with whatever derived
		// fields it already had, retried on the next should_index tick.
		ix.logger.Error("indexing failed to load messages", "session_id", sessionID, "error", err)
		return nil
	}

	var userMessages []string
	for _, m := range messages {
		if m.Role == "user" {
			userMessages = append(userMessages, m.Content)
		}
	}

	sess.Keywords = ExtractKeywords(userMessages)
	sess.Summary = buildSummary(userMessages)

	// Invariant 3 (S.token_count = Σ M.token_count) holds by
	// construction: per-message token_count is fixed at add_message
	// time and messages are append-only, so the session aggregate is
	// just the sum of the values already on disk, never a fresh
	// tiktoken pass over raw content.
	total := 0
	for _, m := range messages {
		total += m.TokenCount
	}
	sess.TokenCount = total

	if err := ix.store.UpdateSession(ctx, sess); err != nil {
		ix.logger.Error("indexing failed to write back session", "session_id", sessionID, "error", err)
		return nil
	}

	if ix.embedder == nil {
		return nil
	}

	payload := buildEmbedPayload(sess, userMessages)
	vec, err := ix.embedder.Embed(ctx, payload)
	if err != nil {
		ix.logger.Error("embedding failed during indexing", "session_id", sessionID, "error", err)
		return nil
	}
	if err := ix.store.UpdateEmbedding(ctx, sessionID, vec); err != nil {
		ix.logger.Error("failed to persist embedding", "session_id", sessionID, "error", err)
	}
	return nil
}

// ShouldIndex implements the automatic re-index policy: keywords empty,
// or message count a positive multiple of 5, or staler than
// reindexInterval.
func (ix *Indexer) ShouldIndex(ctx context.Context, sessionID string) (bool, error) {
	sess, err := ix.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if len(sess.Keywords) == 0 {
		return true, nil
	}

	n, err := ix.store.CountMessages(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if n > 0 && n%reindexEvery == 0 {
		return true, nil
	}

	age := time.Since(time.Unix(sess.UpdatedAt, 0))
	return age > reindexInterval, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func buildSummary(userMessages []string) string {
	parts := make([]string, 0, summaryMaxUser)
	for i, msg := range userMessages {
		if i >= summaryMaxUser {
			break
		}
		parts = append(parts, truncate(msg, summaryPerMsgCap))
	}
	return truncate(strings.Join(parts, " | "), summaryTotalCap)
}

func buildEmbedPayload(sess *store.Session, userMessages []string) string {
	var b strings.Builder
	b.WriteString(sess.Title)
	b.WriteString(" ")
	b.WriteString(sess.Summary)
	b.WriteString(" ")
	b.WriteString(strings.Join(sess.Keywords, " "))

	for i, msg := range userMessages {
		if i >= embedPayloadUser {
			break
		}
		b.WriteString(" ")
		b.WriteString(truncate(msg, embedPayloadCap))
	}
	return b.String()
}
