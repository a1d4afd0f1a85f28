package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/aibridge/bridge/internal/bridgeerr"
	"github.com/aibridge/bridge/internal/storage"
)

const scrapeScrollbackLines = 400

// paneScrapeResponder implements Responder by running the §4.5 state
// machine against the daemon's own pane output, for secondary AIs with
// no on-disk session log (spec.md §4.4's "Pane-scrape daemon" variant).
// When a storage adapter happens to be available too, it is preferred
// per §4.5's "storage-first composition": checked first every poll, and
// only once it has nothing does the pane-scrape machine's own verdict
// get used.
type paneScrapeResponder struct {
	daemon   *Daemon
	patterns Patterns
	adapter  storage.Adapter // optional, may be nil

	mu                 sync.Mutex
	machine            *scrapeMachine
	waitedOneExtraPoll bool
}

// NewPaneScrapeResponderFactory returns a Responder factory for
// secondary AIs with no on-disk session log (spec.md §4.4's
// "Pane-scrape daemon"); adapter may be nil, or supplied for the
// storage-first composition §4.5 describes.
func NewPaneScrapeResponderFactory(patterns Patterns, adapter storage.Adapter) func(*Daemon) Responder {
	return func(d *Daemon) Responder {
		return &paneScrapeResponder{
			daemon:   d,
			patterns: patterns,
			adapter:  adapter,
			machine:  newScrapeMachine(patterns),
		}
	}
}

func (r *paneScrapeResponder) send(ctx context.Context, sentMessage string) error {
	r.mu.Lock()
	r.machine.beginSend(sentMessage)
	r.waitedOneExtraPoll = false
	r.mu.Unlock()
	return deliverText(ctx, r.daemon, sentMessage)
}

func (r *paneScrapeResponder) resolveSessionID(ctx context.Context) (string, error) {
	if r.adapter == nil {
		return "", nil
	}
	r.daemon.mu.Lock()
	projectPath := r.daemon.projectPath
	r.daemon.mu.Unlock()
	if projectPath == "" {
		return "", nil
	}
	return r.adapter.ResolveLatestSession(ctx, projectPath)
}

// checkResponse implements storage-first composition: if a storage
// adapter is present, prefer its latest assistant message; fall back to
// the pane state machine, tagging its output per §4.5's
// "[From terminal output]" marker when used as the last resort.
func (r *paneScrapeResponder) checkResponse(ctx context.Context, sentMessage string) (string, error) {
	if r.adapter != nil {
		if text, ok := r.checkStorageFirst(ctx); ok {
			return text, nil
		}
	}

	r.daemon.mu.Lock()
	paneID := r.daemon.paneID
	backend := r.daemon.backend
	r.daemon.mu.Unlock()
	if paneID == "" {
		return "", fmt.Errorf("%w: no pane bound", bridgeerr.ErrBackendNotAvailable)
	}

	output, err := backend.GetPaneOutput(ctx, paneID, scrapeScrollbackLines)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	result := r.machine.poll(output)
	r.mu.Unlock()

	if !result.Done {
		return "", nil
	}

	switch result.Reason {
	case reasonPromptReturned, reasonFastResponse:
		if r.adapter != nil {
			r.mu.Lock()
			alreadyWaited := r.waitedOneExtraPoll
			r.mu.Unlock()
			if !alreadyWaited {
				// §4.5 storage-first composition: give the log one more
				// poll cycle to catch up before trusting pane text.
				r.mu.Lock()
				r.waitedOneExtraPoll = true
				r.mu.Unlock()
				return "", nil
			}
		}
		if r.adapter != nil {
			return "[From terminal output]\n" + result.Text, nil
		}
		return result.Text, nil
	case reasonErrorDetected:
		return "", fmt.Errorf("%w: %s", bridgeerr.ErrDaemonError, result.Text)
	case reasonStuckInput:
		return "", fmt.Errorf("%w", bridgeerr.ErrStuck)
	default:
		return "", nil
	}
}

func (r *paneScrapeResponder) checkStorageFirst(ctx context.Context) (string, bool) {
	r.daemon.mu.Lock()
	sessionID := r.daemon.sessionID
	r.daemon.mu.Unlock()
	if sessionID == "" {
		return "", false
	}

	msgs, err := r.adapter.ReadSession(ctx, sessionID)
	if err != nil {
		return "", false
	}
	latest := lastAssistantMessage(msgs)
	if latest == nil {
		return "", false
	}
	return latest.Content, true
}

func (r *paneScrapeResponder) close() error { return nil }
