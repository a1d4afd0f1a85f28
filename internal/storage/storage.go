// Package storage implements C2, the storage adapter that parses a
// secondary AI's on-disk session log and emits normalized messages via
// a file watcher (spec.md §4.2). Two format families are supported:
// a single-file append-only JSONL log (SingleFile, grounded on
// wingedpig-trellis's ContentBlock/Message/StreamEvent shapes) and a
// multi-file session/message/part tree (MultiFile).
package storage

import (
	"os"
	"time"
)

// Role is the normalized speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is what a storage adapter emits to the daemon (spec.md §3).
// Roles outside {user, assistant, system} are dropped by the adapter;
// empty content is dropped; timestamps are not assumed to be strictly
// monotonic across the whole session.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// ContentBlock mirrors one block of a typed content array as found in
// both supported format families: text-carrying blocks are
// concatenated into Message.Content, everything else (tool calls,
// images) is ignored.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// isTextBlock reports whether a block type carries prose that belongs
// in Message.Content.
func isTextBlock(blockType string) bool {
	switch blockType {
	case "text", "", "output_text":
		return true
	default:
		return false
	}
}

// concatBlocks joins the text of every text-carrying block, in order,
// separated by newlines when there is more than one.
func concatBlocks(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if isTextBlock(b.Type) && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

// statModTime returns a path's modification time, ok=false if the
// path cannot be stat'd (e.g. removed between watch ticks).
func statModTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// normalizeRole maps an arbitrary role string onto the closed Role set,
// returning ok=false for anything outside it so the caller can drop
// the record per the spec's invariant.
func normalizeRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s), true
	default:
		return "", false
	}
}
