package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/aibridge/bridge/internal/bridgeerr"
	"github.com/aibridge/bridge/internal/storage"
)

// logBackedResponder implements Responder on top of a storage.Adapter
// (C2): checkResponse reads the watcher-kept-fresh message cache rather
// than polling the filesystem itself, per spec.md §4.4's "Log-backed
// daemon" variant.
type logBackedResponder struct {
	daemon  *Daemon
	adapter storage.Adapter

	mu             sync.Mutex
	sessionID      string
	cached         []storage.Message
	watcher        storage.Watcher
	lastID         string
	lastContent    string
	retriedResolve bool
}

// NewLogBackedResponderFactory installs a storage watcher on the
// daemon's resolved (or persisted) session id and returns a Responder
// bound to it. Intended to be passed as Deps.NewResponder by daemon
// variants backed by an on-disk session log (spec.md §4.4's
// "Log-backed daemon").
func NewLogBackedResponderFactory(adapter storage.Adapter) func(*Daemon) Responder {
	return func(d *Daemon) Responder {
		d.mu.Lock()
		persisted := d.sessionID
		d.mu.Unlock()
		r := &logBackedResponder{daemon: d, adapter: adapter, sessionID: persisted}
		r.bindWatcher(context.Background())
		return r
	}
}

func (r *logBackedResponder) bindWatcher(ctx context.Context) {
	r.mu.Lock()
	sessionID := r.sessionID
	r.mu.Unlock()

	if sessionID == "" {
		resolved, err := r.resolveSessionID(ctx)
		if err != nil || resolved == "" {
			return
		}
		sessionID = resolved
	}

	w, err := r.adapter.Watch(ctx, sessionID, func(msgs []storage.Message) {
		r.mu.Lock()
		r.cached = msgs
		r.mu.Unlock()
	})
	if err != nil {
		return
	}

	r.mu.Lock()
	old := r.watcher
	r.sessionID = sessionID
	r.watcher = w
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}

	msgs, err := r.adapter.ReadSession(ctx, sessionID)
	if err == nil {
		r.mu.Lock()
		r.cached = msgs
		r.mu.Unlock()
	}
}

func (r *logBackedResponder) resolveSessionID(ctx context.Context) (string, error) {
	r.daemon.mu.Lock()
	projectPath := r.daemon.projectPath
	r.daemon.mu.Unlock()
	if projectPath == "" {
		return "", fmt.Errorf("resolve session id: no project path bound")
	}
	return r.adapter.ResolveLatestSession(ctx, projectPath)
}

func (r *logBackedResponder) send(ctx context.Context, sentMessage string) error {
	return deliverText(ctx, r.daemon, sentMessage)
}

// checkResponse finds the most recent assistant message and returns it
// only if its (id, content) pair differs from the last emitted
// response, per spec.md §4.4's dedup rule. If no assistant message
// exists yet, it re-resolves the session id and rebinds the watcher
// (sessions rotate); this happens once, and is re-armed only after the
// next new response is returned.
func (r *logBackedResponder) checkResponse(ctx context.Context, sentMessage string) (string, error) {
	r.mu.Lock()
	msgs := r.cached
	r.mu.Unlock()

	latest := lastAssistantMessage(msgs)
	if latest == nil {
		r.mu.Lock()
		alreadyRetried := r.retriedResolve
		r.mu.Unlock()
		if !alreadyRetried {
			r.mu.Lock()
			r.retriedResolve = true
			r.sessionID = "" // make bindWatcher resolve afresh
			r.mu.Unlock()
			r.bindWatcher(ctx)
		}
		return "", nil
	}

	r.mu.Lock()
	isNew := latest.ID != r.lastID || latest.Content != r.lastContent
	if isNew {
		r.lastID = latest.ID
		r.lastContent = latest.Content
		r.retriedResolve = false
	}
	r.mu.Unlock()

	if !isNew {
		return "", nil
	}
	return latest.Content, nil
}

func (r *logBackedResponder) close() error {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}

func lastAssistantMessage(msgs []storage.Message) *storage.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == storage.RoleAssistant && msgs[i].Content != "" {
			return &msgs[i]
		}
	}
	return nil
}

// deliverText is shared by both daemon variants: try the IPC channel
// first (C3), and fall back to terminal injection (C1) on any IPC
// error. A failed IPC write is neither logged nor remembered, so every
// call tries the channel again before falling back; there is no
// permanent downgrade to terminal injection.
func deliverText(ctx context.Context, d *Daemon, text string) error {
	d.mu.Lock()
	channel := d.channel
	paneID := d.paneID
	backend := d.backend
	d.mu.Unlock()

	if channel != nil {
		if err := channel.Write(ctx, text); err == nil {
			return nil
		}
	}

	if paneID == "" {
		return fmt.Errorf("%w: no pane bound", bridgeerr.ErrBackendNotAvailable)
	}
	return backend.InjectText(ctx, paneID, text)
}
