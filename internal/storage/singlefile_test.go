package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatalf("writing line: %v", err)
		}
	}
}

func TestSingleFile_ReadSession_ParsesMessages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	writeLines(t, path, []string{
		`{"type":"message","payload":{"role":"user","content":[{"type":"text","text":"hi"}]}}`,
		`{"type":"toolcall","payload":{"role":"assistant","content":[{"type":"text","text":"ignored"}]}}`,
		`{"type":"message","payload":{"role":"assistant","content":[{"type":"text","text":"hello back"}]}}`,
	})

	adapter := NewSingleFile(dir)
	msgs, err := adapter.ReadSession(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadSession: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (toolcall line skipped), got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "hi" {
		t.Errorf("msgs[0] = %+v, want role=user content=hi", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "hello back" {
		t.Errorf("msgs[1] = %+v, want role=assistant content='hello back'", msgs[1])
	}
}

func TestSingleFile_ReadSession_MissingFileIsEmpty(t *testing.T) {
	adapter := NewSingleFile(t.TempDir())
	msgs, err := adapter.ReadSession(context.Background(), "/no/such/file.jsonl")
	if err != nil {
		t.Fatalf("expected nil error for missing file, got %v", err)
	}
	if msgs != nil {
		t.Errorf("expected nil messages for missing file, got %+v", msgs)
	}
}

func TestSingleFile_ReadSession_DropsUnparseableAndEmptyRole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	writeLines(t, path, []string{
		`not even json`,
		`{"type":"message","payload":{"role":"robot","content":[{"type":"text","text":"bad role"}]}}`,
		`{"type":"message","payload":{"role":"","content":[{"type":"text","text":"no role"}]}}`,
		`{"type":"message","payload":{"role":"user","content":[]}}`,
		`{"type":"message","payload":{"role":"user","content":[{"type":"text","text":"ok"}]}}`,
	})

	adapter := NewSingleFile(dir)
	msgs, err := adapter.ReadSession(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadSession: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "ok" {
		t.Fatalf("expected exactly one surviving message, got %+v", msgs)
	}
}

func TestSingleFile_ReadSession_IsPure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	writeLines(t, path, []string{
		`{"type":"message","payload":{"role":"user","content":[{"type":"text","text":"hi"}]}}`,
	})

	adapter := NewSingleFile(dir)
	first, err := adapter.ReadSession(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadSession: %v", err)
	}
	second, err := adapter.ReadSession(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadSession: %v", err)
	}
	if len(first) != len(second) || first[0].Content != second[0].Content {
		t.Errorf("expected identical reads of unchanged file, got %+v vs %+v", first, second)
	}
}

func TestSingleFile_ResolveLatestSession_MatchesProjectPath(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "a.jsonl"), []string{
		`{"type":"message","payload":{"role":"user","content":[{"type":"text","text":"/home/other/project"}]}}`,
	})
	writeLines(t, filepath.Join(dir, "b.jsonl"), []string{
		`{"type":"message","payload":{"role":"user","content":[{"type":"text","text":"/home/me/project"}]}}`,
	})

	adapter := NewSingleFile(dir)
	got, err := adapter.ResolveLatestSession(context.Background(), "/home/me/project")
	if err != nil {
		t.Fatalf("ResolveLatestSession: %v", err)
	}
	if got != filepath.Join(dir, "b.jsonl") {
		t.Errorf("ResolveLatestSession = %q, want b.jsonl", got)
	}
}
