// Package importer adapts legacy `.wire` session logs (§6, and the
// glossary's Legacy session log) into convomem sessions and messages via
// the Memory service.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/convomem/convomem/pkg/memory"
	"github.com/convomem/convomem/pkg/store"
)

const (
	titlePrefix    = "Imported"
	titleMaxChars  = 50
	toolResultCap  = 200
	errorReportCap = 10
)

// Report summarizes an import run.
type Report struct {
	TotalSessions    int
	ImportedSessions int
	SkippedSessions  int
	TotalMessages    int
	ImportedMessages int
	Errors           []string
}

// wireRecord is one line of a .wire line-delimited JSON file.
type wireRecord struct {
	Type      string         `json:"type"`
	Timestamp float64        `json:"timestamp"`
	Message   wireMessageEnv `json:"message"`
}

type wireMessageEnv struct {
	Type      string          `json:"type"`
	UserInput json.RawMessage `json:"user_input"`
	Text      string          `json:"text"`
	Result    json.RawMessage `json:"result"`
}

type wireContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// parsedMessage is an intermediate, role+content+timestamp message
// extracted from a single wire record.
type parsedMessage struct {
	Role      string
	Content   string
	Timestamp int64
}

// Import walks sessionsDir (expected shape:
// <sessionsDir>/<work_hash>/<session_id>/*.wire), parses each session's
// first *.wire file, and writes the result through svc. Sessions the
// service already has are skipped. In dryRun mode nothing is written;
// only the report's counts are computed.
func Import(ctx context.Context, svc *memory.Service, sessionsDir string, dryRun bool) (Report, error) {
	var report Report

	workDirs, err := os.ReadDir(sessionsDir)
	if err != nil {
		return report, fmt.Errorf("import: %w", err)
	}

	for _, workDir := range workDirs {
		if !workDir.IsDir() {
			continue
		}
		workDirPath := filepath.Join(sessionsDir, workDir.Name())

		sessionDirs, err := os.ReadDir(workDirPath)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("read %s: %v", workDirPath, err))
			continue
		}

		for _, sessionDir := range sessionDirs {
			if !sessionDir.IsDir() {
				continue
			}
			report.TotalSessions++
			sessionID := sessionDir.Name()

			if _, err := svc.GetSession(ctx, sessionID); err == nil {
				report.SkippedSessions++
				continue
			}

			parsed, err := parseSessionDir(filepath.Join(workDirPath, sessionDir.Name()))
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("parse %s: %v", sessionID, err))
				continue
			}
			if parsed == nil {
				continue
			}

			report.TotalMessages += len(parsed.messages)

			if dryRun {
				report.ImportedSessions++
				report.ImportedMessages += len(parsed.messages)
				continue
			}

			if err := importSession(ctx, svc, sessionID, workDirPath, parsed); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("import %s: %v", sessionID, err))
				continue
			}
			report.ImportedSessions++
			report.ImportedMessages += len(parsed.messages)
		}
	}

	return report, nil
}

type parsedSession struct {
	title     string
	messages  []parsedMessage
	createdAt int64
	updatedAt int64
}

// parseSessionDir finds the first *.wire file in dir and parses it.
// Returns (nil, nil) if there is no wire file or it contains no
// importable messages.
func parseSessionDir(dir string) (*parsedSession, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var wirePath string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".wire") {
			wirePath = filepath.Join(dir, e.Name())
			break
		}
	}
	if wirePath == "" {
		return nil, nil
	}

	f, err := os.Open(wirePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	title := fmt.Sprintf("%s (%s)", titlePrefix, shortID(filepath.Base(dir)))
	var messages []parsedMessage
	var firstTime, lastTime int64
	titleSet := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec wireRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Type == "metadata" {
			continue
		}

		msg := parseWireRecord(rec)
		if msg == nil {
			continue
		}
		messages = append(messages, *msg)

		if msg.Role == "user" {
			if firstTime == 0 {
				firstTime = msg.Timestamp
			}
			lastTime = msg.Timestamp
			if !titleSet {
				title = truncateTitle(msg.Content)
				titleSet = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(messages) == 0 {
		return nil, nil
	}

	return &parsedSession{
		title:     title,
		messages:  messages,
		createdAt: firstTime,
		updatedAt: lastTime,
	}, nil
}

func truncateTitle(content string) string {
	if r := []rune(content); len(r) > titleMaxChars {
		return string(r[:titleMaxChars])
	}
	return content
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseWireRecord maps one wire record into a unified (role, content,
// timestamp) message. turn_begin -> user, text -> assistant, tool_result
// -> assistant (summarized); any other envelope type is skipped.
func parseWireRecord(rec wireRecord) *parsedMessage {
	ts := int64(rec.Timestamp)

	switch rec.Message.Type {
	case "turn_begin":
		return &parsedMessage{Role: "user", Content: extractUserInput(rec.Message.UserInput), Timestamp: ts}

	case "text":
		return &parsedMessage{Role: "assistant", Content: rec.Message.Text, Timestamp: ts}

	case "tool_result":
		content := string(rec.Message.Result)
		if r := []rune(content); len(r) > toolResultCap {
			content = string(r[:toolResultCap])
		}
		return &parsedMessage{Role: "assistant", Content: fmt.Sprintf("[Tool Result] %s", content), Timestamp: ts}

	default:
		return nil
	}
}

// extractUserInput handles user_input being either a raw JSON string or
// a list of {type, text|image_url} parts.
func extractUserInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var parts []wireContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			switch p.Type {
			case "text":
				texts = append(texts, p.Text)
			case "image_url":
				texts = append(texts, "[Image]")
			}
		}
		return strings.Join(texts, " ")
	}

	return string(raw)
}

// importSession writes a parsed session and its messages through svc,
// then triggers synchronous indexing.
func importSession(ctx context.Context, svc *memory.Service, sessionID, workDir string, parsed *parsedSession) error {
	sess := &store.Session{
		ID:        sessionID,
		Title:     parsed.title,
		WorkDir:   workDir,
		CreatedAt: parsed.createdAt,
		UpdatedAt: parsed.updatedAt,
	}
	if err := svc.CreateSession(ctx, sess); err != nil {
		return err
	}

	totalTokens := 0
	for _, m := range parsed.messages {
		tokenCount := len(m.Content) / 4
		if err := svc.AddMessage(ctx, &store.Message{
			SessionID:  sessionID,
			Role:       m.Role,
			Content:    m.Content,
			Timestamp:  m.Timestamp,
			TokenCount: tokenCount,
		}); err != nil {
			return err
		}
		totalTokens += tokenCount
	}

	sess.TokenCount = totalTokens
	if err := svc.UpdateSession(ctx, sess); err != nil {
		return err
	}

	return svc.IndexSession(ctx, sessionID, true)
}

// FormatReport renders a human-readable import summary, mirroring the
// original importer's report text.
func FormatReport(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session Import Report\n\n")
	fmt.Fprintf(&b, "Total Sessions Found: %d\n", r.TotalSessions)
	fmt.Fprintf(&b, "Imported: %d\n", r.ImportedSessions)
	fmt.Fprintf(&b, "Skipped (existing): %d\n", r.SkippedSessions)
	fmt.Fprintf(&b, "Total Messages: %d\n", r.TotalMessages)
	fmt.Fprintf(&b, "Imported Messages: %d\n", r.ImportedMessages)

	if len(r.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		shown := r.Errors
		if len(shown) > errorReportCap {
			shown = shown[:errorReportCap]
		}
		for _, e := range shown {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
		if len(r.Errors) > errorReportCap {
			fmt.Fprintf(&b, "  ... and %d more\n", len(r.Errors)-errorReportCap)
		}
	}

	return b.String()
}
