package storage

import "context"

// Adapter is the C2 contract (spec.md §4.2). Parsing must be pure: the
// same on-disk state always yields the same Message sequence, and
// reads must be safe under a concurrent writer appending lines/files.
type Adapter interface {
	// ReadSession reads the on-disk representation for sessionID and
	// returns all parseable messages in log order. A missing file
	// returns an empty slice, not an error; unparseable lines are
	// silently skipped.
	ReadSession(ctx context.Context, sessionID string) ([]Message, error)

	// Watch observes the on-disk representation for sessionID; on any
	// relevant (debounced) change it re-reads and invokes callback.
	Watch(ctx context.Context, sessionID string, callback func([]Message)) (Watcher, error)

	// ResolveLatestSession scans for the newest session that
	// references projectPath, for adapters/CLIs that only expose a
	// "latest" heuristic rather than a stable session id.
	ResolveLatestSession(ctx context.Context, projectPath string) (string, error)
}

// Watcher releases the resources behind a Watch call.
type Watcher interface {
	Close() error
}
