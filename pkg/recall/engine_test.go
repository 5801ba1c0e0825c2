package recall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/convomem/convomem/pkg/embedding"
	"github.com/convomem/convomem/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(store.Config{Path: filepath.Join(t.TempDir(), "memory.db"), VectorDim: 8})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, embedding.NewMock(8)), st
}

// TestDecayFactorMonotonicallyDecreasesWithAge covers invariant 6: older
// sessions decay to a smaller multiplier than newer ones, all else equal.
func TestDecayFactorMonotonicallyDecreasesWithAge(t *testing.T) {
	now := time.Now()
	recent := now.Add(-1 * 24 * time.Hour).Unix()
	old := now.Add(-100 * 24 * time.Hour).Unix()

	fRecent := decayFactor(now, recent, defaultLambda)
	fOld := decayFactor(now, old, defaultLambda)

	if !(fRecent > fOld) {
		t.Errorf("decayFactor(recent)=%f, decayFactor(old)=%f; want recent > old", fRecent, fOld)
	}
	if fRecent > 1.0 || fOld < 0 {
		t.Errorf("decay factors out of range: recent=%f old=%f", fRecent, fOld)
	}
}

func TestDecayFactorClampsFutureAge(t *testing.T) {
	now := time.Now()
	future := now.Add(1 * time.Hour).Unix()
	if f := decayFactor(now, future, defaultLambda); f != 1.0 {
		t.Errorf("decayFactor with future updatedAt = %f, want 1.0 (clamped)", f)
	}
}

// TestRecallLexicalOnlyHasZeroVectorScore covers invariant 7: when no
// embedding is available the vector leg contributes zero and ranking
// comes entirely from the keyword leg.
func TestRecallLexicalOnlyHasZeroVectorScore(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(store.Config{Path: filepath.Join(t.TempDir(), "memory.db"), VectorDim: 8})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := st.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer st.Close()

	if err := st.CreateSession(ctx, &store.Session{ID: "id1", Title: "distributed systems notes", Summary: "distributed systems notes"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	eng := New(st, nil)
	results, err := eng.Recall(ctx, Query{Text: "distributed systems", TopK: 5})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].VectorScore != 0 {
		t.Errorf("VectorScore = %f, want 0 with no embedder", results[0].VectorScore)
	}
	if results[0].KeywordScore <= 0 {
		t.Errorf("KeywordScore = %f, want > 0", results[0].KeywordScore)
	}
}

// TestRecallTieBreaksByUpdatedAt covers invariant 8: of two sessions with
// equal combined scores, the more recently updated one ranks first after
// time decay.
func TestRecallTieBreaksByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine(t)

	now := time.Now()
	updated := map[string]int64{
		"a": now.Add(-10 * 24 * time.Hour).Unix(),
		"b": now.Add(-1 * 24 * time.Hour).Unix(),
	}
	for _, id := range []string{"a", "b"} {
		if err := st.CreateSession(ctx, &store.Session{ID: id, Title: "shared text", Summary: "shared text", CreatedAt: updated[id], UpdatedAt: updated[id]}); err != nil {
			t.Fatalf("CreateSession(%s): %v", id, err)
		}
	}

	results, err := eng.Recall(ctx, Query{Text: "shared text", TopK: 5})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	// store.Hybrid orders the tie by session id ("a" first); decay must
	// then put the more recently updated "b" ahead.
	if results[0].DecayedScore < results[1].DecayedScore {
		t.Errorf("results not sorted descending: %+v", results)
	}
	if results[0].Session.ID != "b" {
		t.Errorf("results[0] = %q, want %q (larger updated_at)", results[0].Session.ID, "b")
	}
}
