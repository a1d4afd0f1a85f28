package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MultiFile is the Adapter implementation for the multi-file,
// project-keyed session format described in spec.md §4.2:
//
//	session/<projectKey>/<sessionFile>.json
//	message/<sessionId>/<messageFile>.json
//	part/<messageId>/<partFile>.json
//
// Messages are produced by joining across these three directory
// trees, ordered by each parent's explicit order list when present,
// falling back to timestamp with filename as a tie-breaker.
type MultiFile struct {
	Root string
}

// NewMultiFile returns a MultiFile adapter rooted at root (the
// directory containing session/, message/, part/, and project/).
func NewMultiFile(root string) *MultiFile {
	return &MultiFile{Root: root}
}

type sessionFileDoc struct {
	ID    string   `json:"id"`
	Order []string `json:"order,omitempty"`
}

type messageFileDoc struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Order     []string `json:"order,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

type partFileDoc struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type projectIndexDoc struct {
	ID       string `json:"id"`
	Worktree string `json:"worktree"`
}

// orderedEntry is a filename paired with a best-effort timestamp, used
// to sort a directory of per-item JSON files when no explicit order
// list covers them.
type orderedEntry struct {
	id        string
	path      string
	timestamp time.Time
}

func (m *MultiFile) messageDir(sessionID string) string {
	return filepath.Join(m.Root, "message", sessionID)
}

func (m *MultiFile) partDir(messageID string) string {
	return filepath.Join(m.Root, "part", messageID)
}

func (m *MultiFile) ReadSession(ctx context.Context, sessionID string) ([]Message, error) {
	dir := m.messageDir(sessionID)
	entries, explicitOrder, err := listJSONDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing messages for session %s: %w", sessionID, err)
	}

	ordered := orderEntries(entries, explicitOrder)

	var messages []Message
	for _, e := range ordered {
		data, err := os.ReadFile(e.path)
		if err != nil {
			continue
		}
		var msgDoc messageFileDoc
		if err := json.Unmarshal(data, &msgDoc); err != nil {
			continue
		}
		role, ok := normalizeRole(msgDoc.Role)
		if !ok {
			continue
		}
		id := msgDoc.ID
		if id == "" {
			id = e.id
		}

		content, err := m.readParts(id, msgDoc.Order)
		if err != nil || content == "" {
			continue
		}

		ts := e.timestamp
		if msgDoc.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, msgDoc.Timestamp); err == nil {
				ts = parsed
			}
		}

		messages = append(messages, Message{ID: id, Role: role, Content: content, Timestamp: ts})
	}
	return messages, nil
}

func (m *MultiFile) readParts(messageID string, explicitOrder []string) (string, error) {
	dir := m.partDir(messageID)
	entries, _, err := listJSONDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	ordered := orderEntries(entries, explicitOrder)

	var blocks []ContentBlock
	for _, e := range ordered {
		data, err := os.ReadFile(e.path)
		if err != nil {
			continue
		}
		var partDoc partFileDoc
		if err := json.Unmarshal(data, &partDoc); err != nil {
			continue
		}
		blocks = append(blocks, ContentBlock{Type: partDoc.Type, Text: partDoc.Text})
	}
	return concatBlocks(blocks), nil
}

// listJSONDir reads every *.json file directly inside dir, returning
// one orderedEntry per file (id derived from filename, timestamp best-
// effort from the file's own mtime as a default before an explicit
// document timestamp is applied by the caller) plus the explicit
// order list recorded by a sibling "_order.json" file, if present.
func listJSONDir(dir string) ([]orderedEntry, []string, error) {
	infos, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	var entries []orderedEntry
	var explicitOrder []string
	for _, info := range infos {
		if info.IsDir() || filepath.Ext(info.Name()) != ".json" {
			continue
		}
		if info.Name() == "_order.json" {
			data, err := os.ReadFile(filepath.Join(dir, info.Name()))
			if err == nil {
				var order []string
				if json.Unmarshal(data, &order) == nil {
					explicitOrder = order
				}
			}
			continue
		}
		id := strings.TrimSuffix(info.Name(), ".json")
		fi, err := info.Info()
		ts := time.Time{}
		if err == nil {
			ts = fi.ModTime()
		}
		entries = append(entries, orderedEntry{id: id, path: filepath.Join(dir, info.Name()), timestamp: ts})
	}
	return entries, explicitOrder, nil
}

// orderEntries sorts entries by explicitOrder (an id sequence) when
// provided and non-empty, otherwise by (timestamp, id) as the
// filename-based tie-breaker (spec.md §4.2).
func orderEntries(entries []orderedEntry, explicitOrder []string) []orderedEntry {
	if len(explicitOrder) > 0 {
		byID := make(map[string]orderedEntry, len(entries))
		for _, e := range entries {
			byID[e.id] = e
		}
		ordered := make([]orderedEntry, 0, len(explicitOrder))
		for _, id := range explicitOrder {
			if e, ok := byID[id]; ok {
				ordered = append(ordered, e)
			}
		}
		return ordered
	}

	sorted := make([]orderedEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].timestamp.Equal(sorted[j].timestamp) {
			return sorted[i].id < sorted[j].id
		}
		return sorted[i].timestamp.Before(sorted[j].timestamp)
	})
	return sorted
}

func (m *MultiFile) Watch(ctx context.Context, sessionID string, callback func([]Message)) (Watcher, error) {
	dir := m.messageDir(sessionID)
	onChange := func() {
		msgs, err := m.ReadSession(ctx, sessionID)
		if err != nil {
			return
		}
		callback(msgs)
	}
	return watchPaths(ctx, []string{dir}, []string{dir}, onChange)
}

// ResolveLatestSession resolves a human-supplied project path to a
// sessionId by first finding the projectKey via the project/*.json
// index (matching a normalized worktree field), then picking the
// newest session file under session/<projectKey>/.
func (m *MultiFile) ResolveLatestSession(ctx context.Context, projectPath string) (string, error) {
	projectKey, err := m.resolveProjectKey(projectPath)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(m.Root, "session", projectKey)
	entries, _, err := listJSONDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing sessions for project %s: %w", projectKey, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no sessions found for project %s", projectKey)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp.After(entries[j].timestamp)
	})

	data, err := os.ReadFile(entries[0].path)
	if err != nil {
		return "", err
	}
	var doc sessionFileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parsing session file %s: %w", entries[0].path, err)
	}
	if doc.ID != "" {
		return doc.ID, nil
	}
	return entries[0].id, nil
}

func (m *MultiFile) resolveProjectKey(projectPath string) (string, error) {
	dir := filepath.Join(m.Root, "project")
	normalized := normalizeWorktreePath(projectPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading project index %s: %w", dir, err)
	}

	for _, info := range entries {
		if info.IsDir() || filepath.Ext(info.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, info.Name()))
		if err != nil {
			continue
		}
		var doc projectIndexDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		if normalizeWorktreePath(doc.Worktree) == normalized {
			if doc.ID != "" {
				return doc.ID, nil
			}
			return strings.TrimSuffix(info.Name(), ".json"), nil
		}
	}
	return "", fmt.Errorf("no project index entry matches worktree %s", projectPath)
}

// normalizeWorktreePath makes path comparisons robust to a trailing
// slash and to Windows-style separators recorded by a different host.
func normalizeWorktreePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimRight(p, "/")
}
