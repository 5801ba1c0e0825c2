package importer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/convomem/convomem/internal/config"
	"github.com/convomem/convomem/pkg/memory"
)

func newTestService(t *testing.T) *memory.Service {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "memory.db")
	cfg.Embedding.Dimensions = 8

	svc := memory.New(cfg, nil)
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// writeMockSessions builds <tmp>/sessions/work123/session-abc-001/conversation.wire
// mirroring the original importer's test fixture.
func writeMockSessions(t *testing.T) string {
	t.Helper()
	sessionsDir := filepath.Join(t.TempDir(), "sessions")
	sessionDir := filepath.Join(sessionsDir, "work123", "session-abc-001")
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	content := strings.Join([]string{
		`{"type":"metadata","protocol_version":"1.0"}`,
		`{"timestamp":1700000000,"message":{"type":"turn_begin","user_input":"How to use Python?"}}`,
		`{"timestamp":1700000010,"message":{"type":"text","text":"Python is easy to learn."}}`,
	}, "\n") + "\n"

	wirePath := filepath.Join(sessionDir, "conversation.wire")
	if err := os.WriteFile(wirePath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return sessionsDir
}

func TestParseWireRecordUser(t *testing.T) {
	var rec wireRecord
	line := `{"timestamp":1700000000,"message":{"type":"turn_begin","user_input":"Hello world"}}`
	mustUnmarshal(t, line, &rec)

	msg := parseWireRecord(rec)
	if msg == nil {
		t.Fatal("parseWireRecord returned nil")
	}
	if msg.Role != "user" || msg.Content != "Hello world" || msg.Timestamp != 1700000000 {
		t.Errorf("parseWireRecord = %+v", msg)
	}
}

func TestParseWireRecordAssistant(t *testing.T) {
	var rec wireRecord
	line := `{"timestamp":1700000010,"message":{"type":"text","text":"Hi there!"}}`
	mustUnmarshal(t, line, &rec)

	msg := parseWireRecord(rec)
	if msg == nil {
		t.Fatal("parseWireRecord returned nil")
	}
	if msg.Role != "assistant" || msg.Content != "Hi there!" {
		t.Errorf("parseWireRecord = %+v", msg)
	}
}

func TestParseWireRecordUserInputParts(t *testing.T) {
	var rec wireRecord
	line := `{"timestamp":1,"message":{"type":"turn_begin","user_input":[{"type":"text","text":"look at this"},{"type":"image_url","image_url":"x"}]}}`
	mustUnmarshal(t, line, &rec)

	msg := parseWireRecord(rec)
	if msg == nil {
		t.Fatal("parseWireRecord returned nil")
	}
	if msg.Content != "look at this [Image]" {
		t.Errorf("Content = %q, want %q", msg.Content, "look at this [Image]")
	}
}

func TestParseSessionDir(t *testing.T) {
	sessionsDir := writeMockSessions(t)
	dir := filepath.Join(sessionsDir, "work123", "session-abc-001")

	parsed, err := parseSessionDir(dir)
	if err != nil {
		t.Fatalf("parseSessionDir: %v", err)
	}
	if parsed == nil {
		t.Fatal("parseSessionDir returned nil")
	}
	if !strings.Contains(parsed.title, "How to use Python?") {
		t.Errorf("title = %q, want to contain the first user message", parsed.title)
	}
	if len(parsed.messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(parsed.messages))
	}
}

func TestImportWritesSessionAndMessages(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	sessionsDir := writeMockSessions(t)

	report, err := Import(ctx, svc, sessionsDir, false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.TotalSessions != 1 || report.ImportedSessions != 1 || report.ImportedMessages != 2 {
		t.Errorf("report = %+v", report)
	}

	sess, err := svc.GetSession(ctx, "session-abc-001")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !strings.Contains(sess.Title, "Python") {
		t.Errorf("Title = %q, want to contain Python", sess.Title)
	}

	messages, err := svc.GetMessages(ctx, "session-abc-001", 0, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(messages) != 2 {
		t.Errorf("len(messages) = %d, want 2", len(messages))
	}
}

func TestImportSkipsExistingSessions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	sessionsDir := writeMockSessions(t)

	if _, err := Import(ctx, svc, sessionsDir, false); err != nil {
		t.Fatalf("first Import: %v", err)
	}

	report, err := Import(ctx, svc, sessionsDir, false)
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if report.TotalSessions != 1 || report.SkippedSessions != 1 || report.ImportedSessions != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	sessionsDir := writeMockSessions(t)

	report, err := Import(ctx, svc, sessionsDir, true)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.ImportedSessions != 1 {
		t.Errorf("report.ImportedSessions = %d, want 1", report.ImportedSessions)
	}
	if report.TotalMessages == 0 || report.TotalMessages != report.ImportedMessages {
		t.Errorf("dry-run TotalMessages = %d, ImportedMessages = %d, want equal and nonzero", report.TotalMessages, report.ImportedMessages)
	}

	if _, err := svc.GetSession(ctx, "session-abc-001"); err == nil {
		t.Error("dry-run import: session should not exist, but GetSession succeeded")
	}
}

func TestFormatReportContainsCounts(t *testing.T) {
	report := Report{TotalSessions: 1, ImportedSessions: 1}
	text := FormatReport(report)
	if !strings.Contains(text, "Total Sessions Found: 1") || !strings.Contains(text, "Imported: 1") {
		t.Errorf("FormatReport = %q", text)
	}
}

func mustUnmarshal(t *testing.T, s string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(s), v); err != nil {
		t.Fatalf("unmarshal %q: %v", s, err)
	}
}
