package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aibridge/bridge/internal/bridgeerr"
	"github.com/aibridge/bridge/internal/config"
	"github.com/aibridge/bridge/internal/ipc"
	"github.com/aibridge/bridge/internal/terminal"
)

const pollInterval = 250 * time.Millisecond

// Prober probes whether the secondary CLI is installed, with a short
// timeout. Concrete daemon variants supply this (typically a
// `cliCommand --version`-style exec.LookPath + probe-run check).
type Prober func(ctx context.Context, cfg config.AIConfig) error

// Responder is implemented by the two concrete daemon variants
// (log-backed, pane-scrape) to check whether the in-flight request has
// produced a response yet. A nil, nil return means "still working."
type Responder interface {
	// checkResponse is polled every pollInterval while a request is
	// active. sentMessage is the exact text most recently injected, used
	// by the pane-scrape variant to locate where the reply begins.
	checkResponse(ctx context.Context, sentMessage string) (text string, err error)

	// send delivers sentMessage to the secondary AI: IPC first if a
	// channel is open, falling back to terminal injection.
	send(ctx context.Context, sentMessage string) error

	// resolveSessionID re-resolves the on-disk session id this daemon
	// should be watching/reading (sessions may rotate after start).
	// Variants without a storage adapter (pure pane-scrape) return "".
	resolveSessionID(ctx context.Context) (string, error)

	// close releases variant-owned resources (watcher, etc.) beyond the
	// pane and IPC channel the base Daemon already owns.
	close() error
}

// Daemon supervises one secondary-AI process: the priority queue,
// single-flight processing loop, retry/timeout handling, idle
// auto-shutdown, and C1 pane + C3 IPC channel ownership. Grounded on
// internal/agents/spawner.go's lifecycle shape (spawnMu-serialized
// start, mutex-guarded state maps) and internal/captain/supervisor.go's
// signal-triggered stop, narrowed to the single-pane-per-daemon model
// spec.md §4.4 describes. Concrete variants (logbacked.go,
// panescrape.go) supply a Responder; this type owns everything common:
// queueing, the loop, starting/stopping, persistence, events.
type Daemon struct {
	Name    string
	cfg     config.AIConfig
	emitter *Emitter

	backend      terminal.Backend
	channel      ipc.Channel
	prober       Prober
	newResponder func(d *Daemon) Responder

	runDir string

	mu            sync.Mutex
	status        Status
	paneID        string
	projectPath   string
	sessionID     string
	bridgeSession string
	activeID      string
	idleTimer     *time.Timer
	startOnce     chan struct{} // non-nil while a start is in flight
	stopOnce      chan struct{} // non-nil while a stop is in flight
	looping       bool
	responder     Responder

	q *queue
}

// Deps bundles a Daemon's collaborators so New can stay a short,
// readable constructor.
type Deps struct {
	Config       config.AIConfig
	Backend      terminal.Backend
	Channel      ipc.Channel // may be nil: IPC is best-effort
	Prober       Prober
	RunDirRoot   string
	NewResponder func(d *Daemon) Responder
}

// New constructs a stopped Daemon. It does not start anything; the
// first queued request transitions it to running.
func New(deps Deps) *Daemon {
	return &Daemon{
		Name:         deps.Config.Name,
		cfg:          deps.Config,
		emitter:      newEmitter(),
		backend:      deps.Backend,
		channel:      deps.Channel,
		prober:       deps.Prober,
		newResponder: deps.NewResponder,
		runDir:       filepath.Join(deps.RunDirRoot, deps.Config.Name),
		status:       StatusStopped,
		q:            newQueue(),
	}
}

func (d *Daemon) Emitter() *Emitter { return d.emitter }

func (d *Daemon) GetStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Daemon) GetQueueLength() int { return d.q.len() }

func (d *Daemon) GetPaneID() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paneID, d.paneID != ""
}

func (d *Daemon) GetProjectPath() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.projectPath, d.projectPath != ""
}

// QueueRequest assigns an id, inserts into the priority queue, kicks the
// processing loop, and returns immediately without suspending.
func (d *Daemon) QueueRequest(ctx context.Context, req Request) string {
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	id := uuid.New().String()
	d.q.add(&QueuedRequest{ID: id, Request: req, EnqueueTimestamp: time.Now()})
	d.resetIdleTimer()
	d.kickLoop(ctx)
	return id
}

// kickLoop starts the processing goroutine unless one is already
// draining the queue (re-entrant-safe per spec.md §4.4: "additional
// enqueues do not spawn a second loop").
func (d *Daemon) kickLoop(ctx context.Context) {
	d.mu.Lock()
	if d.looping {
		d.mu.Unlock()
		return
	}
	d.looping = true
	d.mu.Unlock()

	// The loop outlives the enqueuing call (QueueRequest returns at
	// once), so it keeps ctx's values but not its cancellation.
	go d.runLoop(context.WithoutCancel(ctx))
}

func (d *Daemon) runLoop(ctx context.Context) {
	for {
		next := d.q.pop()
		if next == nil {
			// Re-check the queue under d.mu before clearing looping: an
			// enqueue racing this exit either lands before the re-check
			// (and is drained here) or finds looping=false and kickLoop
			// starts a fresh loop for it.
			d.mu.Lock()
			if d.q.len() > 0 {
				d.mu.Unlock()
				continue
			}
			d.looping = false
			d.mu.Unlock()
			return
		}
		d.executeOne(ctx, next)
	}
}

// executeOne runs the retry-and-poll algorithm from spec.md §4.4 steps
// 1-5 for a single queued request.
func (d *Daemon) executeOne(ctx context.Context, qr *QueuedRequest) {
	d.mu.Lock()
	d.activeID = qr.ID
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.activeID = ""
		d.mu.Unlock()
		d.resetIdleTimer()
	}()

	if err := d.ensureRunning(ctx); err != nil {
		d.emitError(qr, err, 1, 1)
		return
	}

	message := qr.Request.Message
	if qr.Request.Context != "" {
		message = qr.Request.Context + "\n\n" + qr.Request.Message
	}

	maxAttempts := d.cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		d.mu.Lock()
		responder := d.responder
		requestTimeout := d.cfg.RequestTimeout
		d.mu.Unlock()

		if err := responder.send(ctx, message); err != nil {
			lastErr = err
			continue
		}

		text, err := d.pollForResponse(ctx, responder, message, requestTimeout)
		if err != nil {
			lastErr = err
			continue
		}

		d.emitter.emitResponse(ResponseEvent{ID: qr.ID, Text: text, Timestamp: time.Now()})
		return
	}

	d.emitError(qr, lastErr, maxAttempts, maxAttempts)
}

func (d *Daemon) pollForResponse(ctx context.Context, responder Responder, sentMessage string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			text, err := responder.checkResponse(ctx, sentMessage)
			if err != nil {
				return "", err
			}
			if text != "" {
				return text, nil
			}
			if time.Now().After(deadline) {
				return "", fmt.Errorf("%w: no response within %s", bridgeerr.ErrTimeout, timeout)
			}
		}
	}
}

func (d *Daemon) emitError(qr *QueuedRequest, cause error, attempt, maxAttempts int) {
	if cause == nil {
		cause = bridgeerr.ErrDaemonError
	}
	d.emitter.emitError(ErrorEvent{
		ID:          qr.ID,
		Cause:       cause,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Timestamp:   time.Now(),
	})
}

// ensureRunning transitions stopped -> starting -> running, deduping
// concurrent callers onto a single in-flight attempt.
func (d *Daemon) ensureRunning(ctx context.Context) error {
	d.mu.Lock()
	if d.status == StatusRunning {
		d.mu.Unlock()
		return nil
	}
	if d.startOnce != nil {
		ch := d.startOnce
		d.mu.Unlock()
		<-ch
		return d.ensureRunning(ctx) // re-check post-dedup result
	}
	if d.status == StatusError {
		d.mu.Unlock()
		return fmt.Errorf("%w: daemon is in error state", bridgeerr.ErrDaemonError)
	}
	done := make(chan struct{})
	d.startOnce = done
	d.mu.Unlock()

	err := d.doStart(ctx)

	d.mu.Lock()
	d.startOnce = nil
	d.mu.Unlock()
	close(done)
	return err
}

func (d *Daemon) doStart(ctx context.Context) error {
	d.setStatus(StatusStarting)

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := d.prober(probeCtx, d.cfg)
	cancel()
	if err != nil {
		d.setStatus(StatusError)
		return fmt.Errorf("%w: %v", bridgeerr.ErrInstallationMissing, err)
	}

	if err := os.MkdirAll(d.runDir, 0o700); err != nil {
		d.setStatus(StatusError)
		return fmt.Errorf("prepare run dir: %w", err)
	}

	prior, err := loadState(d.runDir)
	if err != nil {
		log.Printf("[DAEMON:%s] warning: failed to load prior state: %v", d.Name, err)
	}

	opts := terminal.PaneOpts{WorkingDirectory: d.cfg.WorkingDirectory}
	paneID, err := d.backend.CreatePane(ctx, d.Name, d.cfg.CLICommand, opts)
	if err != nil {
		d.setStatus(StatusError)
		return err
	}

	if d.channel != nil {
		if err := d.channel.Create(ctx); err != nil {
			log.Printf("[DAEMON:%s] IPC channel unavailable, falling back to terminal injection: %v", d.Name, err)
		}
	}

	// An unset working directory falls back to this process's own.
	projectPath := d.cfg.WorkingDirectory
	if projectPath == "" {
		if wd, err := os.Getwd(); err == nil {
			projectPath = wd
		}
	}

	d.mu.Lock()
	d.paneID = paneID
	d.projectPath = projectPath
	d.sessionID = prior.SessionID
	d.bridgeSession = prior.BridgeSessionID
	d.mu.Unlock()

	// Built outside the lock: a Responder's constructor (e.g.
	// logBackedResponder's bindWatcher) resolves the session id through
	// this same Daemon and would deadlock re-entering d.mu otherwise.
	responder := d.newResponder(d)
	d.mu.Lock()
	d.responder = responder
	d.mu.Unlock()

	if d.sessionID == "" {
		// Rebind to whatever the resolver considers the current session
		// instead of starting blind; a crash/restart must not pin the
		// daemon to a session id that has since rotated.
		if resolved, err := d.responder.resolveSessionID(ctx); err == nil && resolved != "" {
			d.mu.Lock()
			d.sessionID = resolved
			d.mu.Unlock()
		}
	}

	if err := saveState(d.runDir, config.SessionState{
		BridgeSessionID: d.bridgeSession,
		SessionID:       d.sessionID,
		ProjectPath:     d.projectPath,
		PaneID:          paneID,
	}); err != nil {
		log.Printf("[DAEMON:%s] warning: failed to persist state: %v", d.Name, err)
	}

	d.setStatus(StatusRunning)
	d.resetIdleTimer()
	return nil
}

// Stop transitions running -> stopping -> stopped, deduping concurrent
// callers. A no-op unless currently running.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.status != StatusRunning {
		d.mu.Unlock()
		return nil
	}
	if d.stopOnce != nil {
		ch := d.stopOnce
		d.mu.Unlock()
		<-ch
		return nil
	}
	done := make(chan struct{})
	d.stopOnce = done
	d.mu.Unlock()

	err := d.doStop(ctx)

	d.mu.Lock()
	d.stopOnce = nil
	d.mu.Unlock()
	close(done)
	return err
}

func (d *Daemon) doStop(ctx context.Context) error {
	d.setStatus(StatusStopping)

	d.mu.Lock()
	responder := d.responder
	paneID := d.paneID
	idleTimer := d.idleTimer
	d.idleTimer = nil
	d.mu.Unlock()

	if idleTimer != nil {
		idleTimer.Stop()
	}
	if responder != nil {
		if err := responder.close(); err != nil {
			log.Printf("[DAEMON:%s] warning: responder close: %v", d.Name, err)
		}
	}
	if d.channel != nil {
		if err := d.channel.Destroy(); err != nil {
			log.Printf("[DAEMON:%s] warning: channel destroy: %v", d.Name, err)
		}
	}
	if paneID != "" {
		if err := d.backend.ClosePane(ctx, paneID); err != nil {
			log.Printf("[DAEMON:%s] warning: close pane: %v", d.Name, err)
		}
	}

	d.mu.Lock()
	state := config.SessionState{
		BridgeSessionID: d.bridgeSession,
		SessionID:       d.sessionID,
		ProjectPath:     d.projectPath,
	}
	d.paneID = ""
	d.mu.Unlock()

	if err := saveState(d.runDir, state); err != nil {
		log.Printf("[DAEMON:%s] warning: failed to persist state on stop: %v", d.Name, err)
	}

	d.setStatus(StatusStopped)
	return nil
}

func (d *Daemon) setStatus(next Status) {
	d.mu.Lock()
	prev := d.status
	d.status = next
	d.mu.Unlock()
	d.emitter.emitStatus(StatusEvent{Previous: prev, Current: next, Timestamp: time.Now()})
}

// resetIdleTimer implements the Open Question 1 decision recorded in
// DESIGN.md: the idle timer is reset on every enqueue/completion, and
// only fires when the queue is empty AND nothing is active.
func (d *Daemon) resetIdleTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status != StatusRunning {
		return
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.cfg.IdleTimeout, d.fireIdleTimeout)
}

func (d *Daemon) fireIdleTimeout() {
	d.mu.Lock()
	eligible := d.q.len() == 0 && d.activeID == "" && d.status == StatusRunning
	d.mu.Unlock()
	if !eligible {
		return
	}
	if err := d.Stop(context.Background()); err != nil {
		log.Printf("[DAEMON:%s] idle auto-stop failed: %v", d.Name, err)
	}
}
