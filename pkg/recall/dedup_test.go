package recall

import (
	"testing"

	"github.com/convomem/convomem/pkg/store"
)

func TestDedupAgainstLiveContextFiltersByTitle(t *testing.T) {
	results := []Result{
		{Session: &store.Session{ID: "a", Title: "Refactoring the auth module"}},
		{Session: &store.Session{ID: "b", Title: "Unrelated topic"}},
	}

	out := DedupAgainstLiveContext(results, []string{"we were REFACTORING the auth module yesterday"})
	if len(out) != 1 || out[0].Session.ID != "b" {
		t.Errorf("DedupAgainstLiveContext = %+v, want only session b", out)
	}
}

func TestDedupAgainstLiveContextFiltersByContextMessage(t *testing.T) {
	results := []Result{
		{
			Session:         &store.Session{ID: "a", Title: "Some session"},
			ContextMessages: []*store.Message{{Content: "the bug was in the retry loop"}},
		},
	}

	out := DedupAgainstLiveContext(results, []string{"the bug was in the retry loop, fixed now"})
	if len(out) != 0 {
		t.Errorf("DedupAgainstLiveContext = %+v, want empty", out)
	}
}

func TestDedupAgainstLiveContextKeepsUnmatched(t *testing.T) {
	results := []Result{
		{Session: &store.Session{ID: "a", Title: "Some session"}},
	}
	out := DedupAgainstLiveContext(results, []string{"completely different text"})
	if len(out) != 1 {
		t.Errorf("DedupAgainstLiveContext = %+v, want 1 (unfiltered)", out)
	}
}

func TestDedupAgainstLiveContextEmptyHistoryKeepsAll(t *testing.T) {
	results := []Result{
		{Session: &store.Session{ID: "a", Title: ""}},
	}
	out := DedupAgainstLiveContext(results, nil)
	if len(out) != 1 {
		t.Errorf("DedupAgainstLiveContext with empty history = %+v, want 1", out)
	}
}
