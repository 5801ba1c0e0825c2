package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	st, err := New(Config{Path: dbPath, VectorDim: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSessionMessageCRUDRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess := &Session{ID: "id1", Title: "Python Programming Tips"}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := st.AddMessage(ctx, &Message{SessionID: "id1", Role: "user", Content: "How to write clean Python code?"}); err != nil {
		t.Fatalf("AddMessage user: %v", err)
	}
	if err := st.AddMessage(ctx, &Message{SessionID: "id1", Role: "assistant", Content: "Use clear names."}); err != nil {
		t.Fatalf("AddMessage assistant: %v", err)
	}

	got, err := st.GetSession(ctx, "id1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != sess.Title {
		t.Errorf("Title = %q, want %q", got.Title, sess.Title)
	}
	if got.UpdatedAt < got.CreatedAt {
		t.Errorf("UpdatedAt %d < CreatedAt %d", got.UpdatedAt, got.CreatedAt)
	}

	messages, err := st.GetMessages(ctx, "id1", 0, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	if messages[0].Content != "How to write clean Python code?" || messages[1].Content != "Use clear names." {
		t.Errorf("messages out of order: %+v", messages)
	}
	if messages[0].ID >= messages[1].ID {
		t.Errorf("message ids not strictly increasing: %d, %d", messages[0].ID, messages[1].ID)
	}

	if err := st.DeleteSession(ctx, "id1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := st.GetSession(ctx, "id1"); err == nil {
		t.Error("GetSession after delete: want error, got nil")
	}
	messages, err = st.GetMessages(ctx, "id1", 0, 0)
	if err != nil {
		t.Fatalf("GetMessages after delete: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("GetMessages after delete: len = %d, want 0", len(messages))
	}
}

func TestUpdateSessionRefreshesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess := &Session{ID: "id1", Title: "t", CreatedAt: 1000, UpdatedAt: 1000}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess.Title = "updated"
	if err := st.UpdateSession(ctx, sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := st.GetSession(ctx, "id1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UpdatedAt <= 1000 {
		t.Errorf("UpdatedAt = %d, want > 1000", got.UpdatedAt)
	}
}

func TestListSessionsZeroLimitReturnsAll(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for _, id := range []string{"id1", "id2", "id3"} {
		if err := st.CreateSession(ctx, &Session{ID: id, Title: id}); err != nil {
			t.Fatalf("CreateSession(%s): %v", id, err)
		}
	}

	sessions, err := st.ListSessions(ctx, 0, 0, nil)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("ListSessions(limit=0) = %d sessions, want 3 (limit=0 means unbounded)", len(sessions))
	}
}

func TestCountMessagesMatchesGetMessagesLength(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.CreateSession(ctx, &Session{ID: "id1", Title: "t"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := st.AddMessage(ctx, &Message{SessionID: "id1", Role: "user", Content: "hi"}); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	count, err := st.CountMessages(ctx, "id1")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if count != 5 {
		t.Errorf("CountMessages = %d, want 5", count)
	}
}

func TestUpdateEmbeddingRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.CreateSession(ctx, &Session{ID: "id1", Title: "t"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.UpdateEmbedding(ctx, "id1", []float32{1, 0}); err == nil {
		t.Error("UpdateEmbedding with wrong dimension: want error, got nil")
	}
}

func TestHybridExcludesCurrentSession(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for _, id := range []string{"cur", "other"} {
		if err := st.CreateSession(ctx, &Session{ID: id, Title: "Message", Summary: "Message"}); err != nil {
			t.Fatalf("CreateSession(%s): %v", id, err)
		}
	}

	results, err := st.Hybrid(ctx, HybridQuery{
		Text: "Message", TopK: 10, VectorWeight: 0.6, KeywordWeight: 0.4, ExcludeSessionID: "cur",
	})
	if err != nil {
		t.Fatalf("Hybrid: %v", err)
	}
	for _, r := range results {
		if r.SessionID == "cur" {
			t.Errorf("Hybrid returned excluded session %q", r.SessionID)
		}
	}
}

func TestUpdateEmbeddingAndSearchByVector(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.CreateSession(ctx, &Session{ID: "id1", Title: "t"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	vec := []float32{1, 0, 0, 0}
	if err := st.UpdateEmbedding(ctx, "id1", vec); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}

	results, err := st.SearchByVector(ctx, vec, 5)
	if err != nil {
		t.Fatalf("SearchByVector: %v", err)
	}
	if len(results) != 1 || results[0].SessionID != "id1" {
		t.Fatalf("SearchByVector = %+v, want [id1]", results)
	}
	if results[0].Score < 0.999 {
		t.Errorf("Score = %f, want ~1.0 for identical vector", results[0].Score)
	}
}

// TestVectorDegradationFallsBackToLexicalOnly implements S6: with
// vec_available false, SearchByVector and UpdateEmbedding are no-ops
// and Stats reports indexed_vectors as absent (zero).
func TestVectorDegradationFallsBackToLexicalOnly(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	st.vecAvailable = false

	if err := st.CreateSession(ctx, &Session{ID: "id1", Title: "x", Summary: "x"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := st.UpdateEmbedding(ctx, "id1", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}
	if len(st.vectors) != 0 {
		t.Errorf("UpdateEmbedding with vecAvailable=false should be a no-op, got vectors=%v", st.vectors)
	}

	vecResults, err := st.SearchByVector(ctx, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("SearchByVector: %v", err)
	}
	if len(vecResults) != 0 {
		t.Errorf("SearchByVector with vecAvailable=false = %+v, want empty", vecResults)
	}

	hybrid, err := st.Hybrid(ctx, HybridQuery{Text: "x", Embedding: []float32{1, 0, 0, 0}, TopK: 5, VectorWeight: 0.6, KeywordWeight: 0.4})
	if err != nil {
		t.Fatalf("Hybrid: %v", err)
	}
	if len(hybrid) != 1 || hybrid[0].VectorScore != 0 {
		t.Errorf("Hybrid with vecAvailable=false = %+v, want lexical-only ranking", hybrid)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.IndexedVectors != 0 {
		t.Errorf("IndexedVectors = %d, want 0 (absent) when vecAvailable=false", stats.IndexedVectors)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "memory.db")

	st, err := New(Config{Path: dbPath, VectorDim: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := st.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := st.CreateSession(ctx, &Session{ID: "id1", Title: "t"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.AddMessage(ctx, &Message{SessionID: "id1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := New(Config{Path: dbPath, VectorDim: 4})
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	if err := st2.Init(ctx); err != nil {
		t.Fatalf("Init (reopen): %v", err)
	}
	defer st2.Close()

	sess, err := st2.GetSession(ctx, "id1")
	if err != nil {
		t.Fatalf("GetSession (reopen): %v", err)
	}
	if sess.Title != "t" {
		t.Errorf("Title = %q, want %q", sess.Title, "t")
	}
	messages, err := st2.GetMessages(ctx, "id1", 0, 0)
	if err != nil {
		t.Fatalf("GetMessages (reopen): %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "hi" {
		t.Errorf("messages (reopen) = %+v", messages)
	}
}
