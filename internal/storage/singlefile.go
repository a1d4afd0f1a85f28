package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// singleFileRecord is one line of the append-only JSONL log. Records
// with a type other than "message" (tool calls, images, control
// frames) are ignored, mirroring the StreamEvent discriminated union
// in wingedpig-trellis's internal/claude/manager.go.
type singleFileRecord struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   struct {
		Role    string         `json:"role"`
		Content []ContentBlock `json:"content"`
	} `json:"payload"`
}

// SingleFile is the Adapter implementation for the single-file
// append-only JSONL session log format (spec.md §4.2).
type SingleFile struct {
	// ScanRoot is the directory tree searched by ResolveLatestSession
	// when the caller only knows a project path, not a session id.
	ScanRoot string
}

// NewSingleFile returns a SingleFile adapter rooted at scanRoot.
func NewSingleFile(scanRoot string) *SingleFile {
	return &SingleFile{ScanRoot: scanRoot}
}

// resolvePath accepts either a full path or a bare session id under
// ScanRoot, per spec.md §4.2 ("Session id is either a full path or a
// bare identifier; both must be accepted").
func (s *SingleFile) resolvePath(sessionID string) string {
	if filepath.IsAbs(sessionID) || strings.ContainsRune(sessionID, filepath.Separator) {
		return sessionID
	}
	return filepath.Join(s.ScanRoot, sessionID+".jsonl")
}

func (s *SingleFile) ReadSession(ctx context.Context, sessionID string) ([]Message, error) {
	path := s.resolvePath(sessionID)
	return readJSONLMessages(path)
}

// readJSONLMessages is pure: given unchanged file bytes it always
// returns the same Message slice (spec.md §4.2 invariant). Missing
// files yield an empty slice; malformed lines are skipped, not fatal.
func readJSONLMessages(path string) ([]Message, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening session log %s: %w", path, err)
	}
	defer f.Close()

	var messages []Message
	seq := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec singleFileRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue // unparseable lines are silently skipped
		}
		if rec.Type != "" && rec.Type != "message" {
			continue
		}
		role, ok := normalizeRole(rec.Payload.Role)
		if !ok {
			continue
		}
		content := concatBlocks(rec.Payload.Content)
		if content == "" {
			continue
		}
		ts := time.Time{}
		if rec.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, rec.Timestamp); err == nil {
				ts = parsed
			}
		}
		seq++
		messages = append(messages, Message{
			ID:        fmt.Sprintf("%s-%d", filepath.Base(path), seq),
			Role:      role,
			Content:   content,
			Timestamp: ts,
		})
	}
	return messages, nil
}

func (s *SingleFile) Watch(ctx context.Context, sessionID string, callback func([]Message)) (Watcher, error) {
	path := s.resolvePath(sessionID)
	onChange := func() {
		msgs, err := readJSONLMessages(path)
		if err != nil {
			return
		}
		callback(msgs)
	}
	return watchPaths(ctx, dirsOf([]string{path}), []string{path}, onChange)
}

// ResolveLatestSession implements spec.md §4.2's "latest" heuristic:
// recursively scan ScanRoot for *.jsonl files, sorted by modification
// time descending, and return the first whose contents reference
// projectPath.
func (s *SingleFile) ResolveLatestSession(ctx context.Context, projectPath string) (string, error) {
	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate

	err := filepath.Walk(s.ScanRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort scan; skip unreadable entries
		}
		if info.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		candidates = append(candidates, candidate{path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", s.ScanRoot, err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	for _, c := range candidates {
		data, err := os.ReadFile(c.path)
		if err != nil {
			continue
		}
		if strings.Contains(string(data), projectPath) {
			return c.path, nil
		}
	}
	return "", fmt.Errorf("no session log under %s references project %s", s.ScanRoot, projectPath)
}
