// Package bridge implements C5, the orchestrator a controller talks
// to: a registry of C4 daemons keyed by name, a map from request id to
// tracking record, and the closed delegate/checkStatus/getResponse/
// ping surface spec.md §4.6 names. Grounded on the teacher's
// internal/captain/captain.go (an orchestrator owning a registry plus
// task-queue-shaped state) and internal/captain/supervisor.go
// (process-lifecycle with signal-triggered shutdown), both narrowed
// from CLIAIMONITOR's open-ended "decide how to spawn agents" mission
// down to this closed four-operation surface.
package bridge

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aibridge/bridge/internal/bridgeerr"
	"github.com/aibridge/bridge/internal/config"
	"github.com/aibridge/bridge/internal/daemon"
	"github.com/aibridge/bridge/internal/events"
)

// registryEntry is one daemon's bookkeeping inside the orchestrator.
type registryEntry struct {
	d             *daemon.Daemon
	lastActivity  time.Time
	activeRequest string

	listenerIDs struct {
		response uint64
		errorID  uint64
		status   uint64
	}
}

// Orchestrator is the C5 bridge. Construct with New, call Start before
// delegating, Stop when done.
type Orchestrator struct {
	factories       factoryRegistry
	runDirRoot      string
	bus             *events.Bus
	externalSignals bool

	mu       sync.Mutex
	running  bool
	daemons  map[string]*registryEntry
	requests map[string]*trackingRecord

	stopOnce  chan struct{}
	uninstall func()
}

// Deps bundles an Orchestrator's collaborators.
type Deps struct {
	Factories  map[string]DaemonFactory
	RunDirRoot string
	Bus        *events.Bus // optional: nil disables C6/C7 event fan-out

	// ExternalSignalHandling, when true, tells Start to skip installing
	// its own SIGINT/SIGTERM handler, for callers (like cmd/bridged)
	// that already own process signal handling and call Stop
	// themselves as part of a wider shutdown sequence (HTTP/WS/NATS
	// teardown alongside the orchestrator). Stop remains safe to call
	// directly in that case; it is idempotent either way.
	ExternalSignalHandling bool
}

// New constructs a stopped Orchestrator. Call Start to bring up the
// initial set of configured daemons.
func New(deps Deps) *Orchestrator {
	factories := make(factoryRegistry, len(deps.Factories))
	for k, v := range deps.Factories {
		factories[k] = v
	}
	return &Orchestrator{
		factories:       factories,
		runDirRoot:      deps.RunDirRoot,
		bus:             deps.Bus,
		externalSignals: deps.ExternalSignalHandling,
		daemons:         make(map[string]*registryEntry),
		requests:        make(map[string]*trackingRecord),
	}
}

// Start creates the runtime directory, installs termination-signal
// handlers (unless Deps.ExternalSignalHandling opted out), then
// registers each daemon from cfgs. If any registration fails, every
// already-registered daemon is unregistered (and stopped if it had
// started), handlers are uninstalled, and the error is propagated
// (spec.md §4.6).
func (o *Orchestrator) Start(ctx context.Context, cfgs []config.AIConfig) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	if err := os.MkdirAll(o.runDirRoot, 0o700); err != nil {
		return fmt.Errorf("prepare bridge run dir: %w", err)
	}

	if !o.externalSignals {
		o.uninstall = installSignalHandlers(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := o.Stop(stopCtx); err != nil {
				log.Printf("[BRIDGE] signal-triggered stop failed: %v", err)
			}
		})
	}

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	var started []string
	for _, cfg := range cfgs {
		if _, err := o.RegisterAI(ctx, cfg); err != nil {
			for _, name := range started {
				_ = o.UnregisterAI(ctx, name)
			}
			o.mu.Lock()
			o.running = false
			o.mu.Unlock()
			if o.uninstall != nil {
				o.uninstall()
			}
			return fmt.Errorf("register %s: %w", cfg.Name, err)
		}
		started = append(started, cfg.Name)
	}
	return nil
}

// Stop unregisters every daemon in sorted order, sweeps the tracking
// map marking every non-terminal request as error(cancelled), removes
// the runtime directory, and uninstalls signal handlers. Idempotent
// and deduplicated via a single in-flight stop.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	if o.stopOnce != nil {
		ch := o.stopOnce
		o.mu.Unlock()
		<-ch
		return nil
	}
	done := make(chan struct{})
	o.stopOnce = done
	names := make([]string, 0, len(o.daemons))
	for name := range o.daemons {
		names = append(names, name)
	}
	o.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		// Stop each daemon without failing its in-flight requests as
		// "unregistered" here: the cancel-sweep below marks every
		// still-open request with the cancellation cause instead, per
		// the stop-time contract.
		o.detachAndStopDaemon(ctx, name)
	}

	o.mu.Lock()
	for _, rec := range o.requests {
		if rec.status != RequestCompleted && rec.status != RequestError {
			rec.status = RequestError
			rec.cause = bridgeerr.ErrCancelled
			rec.endedAt = time.Now()
		}
	}
	o.running = false
	o.mu.Unlock()

	if err := os.RemoveAll(o.runDirRoot); err != nil {
		log.Printf("[BRIDGE] remove run dir: %v", err)
	}
	if o.uninstall != nil {
		o.uninstall()
	}

	o.mu.Lock()
	o.stopOnce = nil
	o.mu.Unlock()
	close(done)
	return nil
}

// RegisterAI looks up a factory by name (or base name before a ":"
// suffix), constructs the daemon, attaches listeners that update the
// tracking map, then registers it. The daemon is not started here: it
// stays stopped until its first queued request starts it.
func (o *Orchestrator) RegisterAI(ctx context.Context, cfg config.AIConfig) (*daemon.Daemon, error) {
	factory, ok := o.factories.lookup(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", bridgeerr.ErrUnknownDaemon, cfg.Name)
	}

	d := factory(cfg)
	entry := &registryEntry{d: d, lastActivity: time.Now()}

	entry.listenerIDs.response = d.Emitter().OnResponse(func(ev daemon.ResponseEvent) {
		o.onResponse(cfg.Name, ev)
	})
	entry.listenerIDs.errorID = d.Emitter().OnError(func(ev daemon.ErrorEvent) {
		o.onError(cfg.Name, ev)
	})
	entry.listenerIDs.status = d.Emitter().OnStatus(func(ev daemon.StatusEvent) {
		o.onStatus(cfg.Name, ev)
	})

	o.mu.Lock()
	o.daemons[cfg.Name] = entry
	o.mu.Unlock()

	return d, nil
}

// UnregisterAI detaches listeners, stops the daemon, removes it from
// the registry, and fails in-flight tracked requests for that daemon.
func (o *Orchestrator) UnregisterAI(ctx context.Context, name string) error {
	if !o.detachAndStopDaemon(ctx, name) {
		return nil
	}

	o.mu.Lock()
	for _, rec := range o.requests {
		if rec.aiName == name && rec.status != RequestCompleted && rec.status != RequestError {
			rec.status = RequestError
			rec.cause = bridgeerr.ErrDaemonUnregistered
			rec.endedAt = time.Now()
		}
	}
	o.mu.Unlock()
	return nil
}

// detachAndStopDaemon removes name from the registry, detaches its
// listeners, and stops the underlying daemon, without touching the
// tracking map. Reports whether a daemon was found and stopped.
func (o *Orchestrator) detachAndStopDaemon(ctx context.Context, name string) bool {
	o.mu.Lock()
	entry, ok := o.daemons[name]
	if !ok {
		o.mu.Unlock()
		return false
	}
	delete(o.daemons, name)
	o.mu.Unlock()

	entry.d.Emitter().Off(entry.listenerIDs.response)
	entry.d.Emitter().Off(entry.listenerIDs.errorID)
	entry.d.Emitter().Off(entry.listenerIDs.status)

	if err := entry.d.Stop(ctx); err != nil {
		log.Printf("[BRIDGE] stop %s: %v", name, err)
	}
	return true
}

// Delegate queues req through the named daemon and returns a tracked
// request id. Never blocks.
func (o *Orchestrator) Delegate(ctx context.Context, aiName string, req DelegateRequest) (string, error) {
	o.mu.Lock()
	entry, ok := o.daemons[aiName]
	o.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", bridgeerr.ErrUnknownDaemon, aiName)
	}

	priority := daemon.PriorityNormal
	switch req.Priority {
	case string(daemon.PriorityHigh):
		priority = daemon.PriorityHigh
	case string(daemon.PriorityLow):
		priority = daemon.PriorityLow
	}

	id := entry.d.QueueRequest(ctx, daemon.Request{
		Message:  req.Message,
		Context:  req.Context,
		Priority: priority,
	})

	priorityLabel := req.Priority
	if priorityLabel == "" {
		priorityLabel = string(daemon.PriorityNormal)
	}

	now := time.Now()
	o.mu.Lock()
	o.requests[id] = &trackingRecord{
		id:        id,
		aiName:    aiName,
		status:    RequestQueued,
		priority:  priorityLabel,
		createdAt: now,
	}
	entry.lastActivity = now
	o.mu.Unlock()

	o.publish(events.EventRequest, aiName, events.PriorityNormal, map[string]interface{}{
		"requestId": id,
		"status":    string(RequestQueued),
	})

	return id, nil
}

// CheckStatus reads the tracked record for requestId. Unknown ids
// return RequestUnknown.
func (o *Orchestrator) CheckStatus(requestID string) RequestStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.requests[requestID]
	if !ok {
		return RequestUnknown
	}
	return rec.status
}

// GetResponse returns the completed response for requestId, or nil if
// it isn't completed yet (or doesn't exist). Never blocks.
func (o *Orchestrator) GetResponse(requestID string) *BridgeResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.requests[requestID]
	if !ok || rec.status != RequestCompleted {
		return nil
	}
	return &BridgeResponse{
		RequestID:        rec.id,
		AIName:           rec.aiName,
		Content:          rec.content,
		Timestamp:        rec.endedAt,
		ProcessingTimeMs: rec.processingTimeMs(),
	}
}

// Ping computes health for aiName: running with a shallow queue is
// healthy; running-with-deep-queue or still-starting is degraded;
// anything else is unhealthy (spec.md §4.6).
func (o *Orchestrator) Ping(aiName string) (HealthStatus, error) {
	start := time.Now()

	o.mu.Lock()
	entry, ok := o.daemons[aiName]
	o.mu.Unlock()
	if !ok {
		return HealthStatus{}, fmt.Errorf("%w: %s", bridgeerr.ErrUnknownDaemon, aiName)
	}

	status := entry.d.GetStatus()
	queueLen := entry.d.GetQueueLength()

	hs := HealthStatus{
		AIName:       aiName,
		DaemonStatus: string(status),
		QueueLength:  queueLen,
		CheckedAt:    time.Now(),
	}

	switch {
	case status == daemon.StatusRunning && queueLen < 5:
		hs.Health = HealthHealthy
	case status == daemon.StatusRunning:
		hs.Health = HealthDegraded
		hs.Detail = "queue depth exceeds healthy threshold"
	case status == daemon.StatusStarting:
		hs.Health = HealthDegraded
		hs.Detail = "daemon is still starting"
	default:
		hs.Health = HealthUnhealthy
	}

	hs.LatencyMs = time.Since(start).Milliseconds()
	return hs, nil
}

// ListAIs snapshots every registered daemon.
func (o *Orchestrator) ListAIs() []AIStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]AIStatus, 0, len(o.daemons))
	names := make([]string, 0, len(o.daemons))
	for name := range o.daemons {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := o.daemons[name]
		out = append(out, AIStatus{
			Name:          name,
			Status:        string(entry.d.GetStatus()),
			ActiveRequest: entry.activeRequest,
			QueueLength:   entry.d.GetQueueLength(),
			LastActivity:  entry.lastActivity,
		})
	}
	return out
}

// GetSystemStatus snapshots the whole orchestrator.
func (o *Orchestrator) GetSystemStatus() SystemStatus {
	o.mu.Lock()
	running := o.running
	reqCount := len(o.requests)
	o.mu.Unlock()

	return SystemStatus{
		Running:      running,
		AICount:      len(o.ListAIs()),
		RequestCount: reqCount,
		AIs:          o.ListAIs(),
	}
}

// onResponse handles a daemon's "response" event: marks the matching
// request completed, records content/timing, then applies the
// promotion rule by advancing the oldest queued request for this
// daemon to processing (spec.md §4.6, "Promotion rule").
func (o *Orchestrator) onResponse(aiName string, ev daemon.ResponseEvent) {
	var requestPriority string

	o.mu.Lock()
	if rec, ok := o.requests[ev.ID]; ok {
		rec.status = RequestCompleted
		rec.content = ev.Text
		rec.endedAt = ev.Timestamp
		if rec.startedAt.IsZero() {
			rec.startedAt = rec.createdAt
		}
		requestPriority = rec.priority
	}
	if entry, ok := o.daemons[aiName]; ok {
		entry.lastActivity = ev.Timestamp
		if entry.activeRequest == ev.ID {
			entry.activeRequest = ""
		}
	}
	o.mu.Unlock()

	o.promoteOldestQueued(aiName)

	// Events stay at normal delivery priority regardless of the
	// request's own priority (spec.md §4.6's priority field orders a
	// daemon's queue, it does not reorder event delivery); the request's
	// priority rides along in the payload purely so C7's desktop
	// notifier can single out high-priority completions.
	o.publish(events.EventResponse, aiName, events.PriorityNormal, map[string]interface{}{
		"requestId":       ev.ID,
		"text":            ev.Text,
		"requestPriority": requestPriority,
	})
}

// onError handles a daemon's "error" event the same way onResponse
// handles success, marking the request failed instead of completed.
// Failure isolation (spec.md §4.6): this only ever touches the
// tracking record for the affected request, never another daemon's.
func (o *Orchestrator) onError(aiName string, ev daemon.ErrorEvent) {
	o.mu.Lock()
	if rec, ok := o.requests[ev.ID]; ok {
		rec.status = RequestError
		rec.cause = ev.Cause
		rec.endedAt = ev.Timestamp
		if rec.startedAt.IsZero() {
			rec.startedAt = rec.createdAt
		}
	}
	if entry, ok := o.daemons[aiName]; ok {
		entry.lastActivity = ev.Timestamp
		if entry.activeRequest == ev.ID {
			entry.activeRequest = ""
		}
	}
	o.mu.Unlock()

	o.promoteOldestQueued(aiName)

	priority := events.PriorityNormal
	if ev.Attempt >= ev.MaxAttempts {
		priority = events.PriorityHigh
	}
	o.publish(events.EventError, aiName, priority, map[string]interface{}{
		"requestId": ev.ID,
		"cause":     string(bridgeerr.ClassifyKind(ev.Cause)),
		"attempt":   ev.Attempt,
	})
}

// onStatus handles a daemon's "status" event: on any status transition
// it applies the promotion rule, advancing the oldest queued request
// for this daemon to processing if none is active yet (spec.md §4.6,
// delegate's "transitions to processing when the daemon's subsequent
// status event indicates it has started").
func (o *Orchestrator) onStatus(aiName string, ev daemon.StatusEvent) {
	o.mu.Lock()
	if entry, ok := o.daemons[aiName]; ok {
		entry.lastActivity = ev.Timestamp
	}
	o.mu.Unlock()

	o.promoteOldestQueued(aiName)
	o.publish(events.EventStatus, aiName, events.PriorityLow, map[string]interface{}{
		"previous": string(ev.Previous),
		"current":  string(ev.Current),
	})
}

// promoteOldestQueued scans the tracking map for the oldest queued
// request belonging to aiName and marks it processing, recording it as
// the daemon's active request. This is the mechanism by which outside
// observers see the queue drain (spec.md §4.6, "Promotion rule").
func (o *Orchestrator) promoteOldestQueued(aiName string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.daemons[aiName]
	if !ok || entry.activeRequest != "" {
		return
	}

	var oldest *trackingRecord
	for _, rec := range o.requests {
		if rec.aiName != aiName || rec.status != RequestQueued {
			continue
		}
		if oldest == nil || rec.createdAt.Before(oldest.createdAt) {
			oldest = rec
		}
	}
	if oldest == nil {
		return
	}
	oldest.status = RequestProcessing
	oldest.startedAt = time.Now()
	entry.activeRequest = oldest.id
}

func (o *Orchestrator) publish(kind events.EventType, aiName string, priority int, payload map[string]interface{}) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.NewEvent(kind, aiName, "all", priority, payload))
}
