package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aibridge/bridge/internal/bridgeerr"
	"github.com/aibridge/bridge/internal/config"
	"github.com/aibridge/bridge/internal/daemon"
	"github.com/aibridge/bridge/internal/storage"
	"github.com/aibridge/bridge/internal/terminal"
)

// fakeBackend is a minimal terminal.Backend that never fails; bridge's
// own tests only need a daemon to reach StatusRunning, not real panes.
type fakeBackend struct {
	mu       sync.Mutex
	nextPane int
}

func (f *fakeBackend) Name() string                                           { return "fake" }
func (f *fakeBackend) Probe(ctx context.Context) error                        { return nil }
func (f *fakeBackend) SendKeys(ctx context.Context, paneID, keys string) error { return nil }
func (f *fakeBackend) IsPaneAlive(ctx context.Context, paneID string) (bool, error) {
	return true, nil
}
func (f *fakeBackend) GetPaneOutput(ctx context.Context, paneID string, lines int) (string, error) {
	return "", nil
}
func (f *fakeBackend) CreatePane(ctx context.Context, name, startupCommand string, opts terminal.PaneOpts) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPane++
	return "pane-" + string(rune('0'+f.nextPane)), nil
}
func (f *fakeBackend) ClosePane(ctx context.Context, paneID string) error { return nil }
func (f *fakeBackend) ListPanes(ctx context.Context) ([]terminal.PaneInfo, error) {
	return nil, nil
}
func (f *fakeBackend) InjectText(ctx context.Context, paneID, text string) error { return nil }

// fakeAdapter implements storage.Adapter with an in-memory message list
// a test can append to at will, standing in for a real on-disk session
// log (internal/daemon's own tests fake terminal.Backend the same way
// for the pane-scrape side).
type fakeAdapter struct {
	mu       sync.Mutex
	messages []storage.Message
	watcher  *fakeWatcher
}

type fakeWatcher struct{ closed bool }

func (w *fakeWatcher) Close() error { w.closed = true; return nil }

func (a *fakeAdapter) ReadSession(ctx context.Context, sessionID string) ([]storage.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]storage.Message, len(a.messages))
	copy(out, a.messages)
	return out, nil
}

func (a *fakeAdapter) Watch(ctx context.Context, sessionID string, callback func([]storage.Message)) (storage.Watcher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watcher = &fakeWatcher{}
	callback(a.messages)
	return a.watcher, nil
}

func (a *fakeAdapter) ResolveLatestSession(ctx context.Context, projectPath string) (string, error) {
	return "session-1", nil
}

// pushAssistantMessage appends a new assistant reply. Call it before
// Start/Delegate: bindWatcher's own ReadSession call (run once, when
// the daemon starts) picks up everything pushed by then, which is all
// these tests need.
func (a *fakeAdapter) pushAssistantMessage(id, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, storage.Message{ID: id, Role: storage.RoleAssistant, Content: content})
}

func newTestOrchestrator(t *testing.T, names ...string) (*Orchestrator, map[string]*fakeAdapter) {
	t.Helper()
	adapters := make(map[string]*fakeAdapter)
	factories := make(map[string]DaemonFactory)
	for _, name := range names {
		a := &fakeAdapter{}
		adapters[name] = a
		factories[name] = func(cfg config.AIConfig) *daemon.Daemon {
			cfg.Durations()
			return daemon.New(daemon.Deps{
				Config:       cfg,
				Backend:      &fakeBackend{},
				Prober:       func(ctx context.Context, cfg config.AIConfig) error { return nil },
				RunDirRoot:   t.TempDir(),
				NewResponder: daemon.NewLogBackedResponderFactory(a),
			})
		}
	}

	o := New(Deps{Factories: factories, RunDirRoot: t.TempDir()})
	return o, adapters
}

func cfgsFor(names ...string) []config.AIConfig {
	cfgs := make([]config.AIConfig, 0, len(names))
	for _, n := range names {
		cfgs = append(cfgs, config.AIConfig{Name: n, CLICommand: "echo"})
	}
	return cfgs
}

func TestOrchestrator_DelegateAndGetResponse_HappyPath(t *testing.T) {
	o, adapters := newTestOrchestrator(t, "alpha")
	adapters["alpha"].pushAssistantMessage("m1", "hello back")

	ctx := context.Background()
	if err := o.Start(ctx, cfgsFor("alpha")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(ctx)

	id, err := o.Delegate(ctx, "alpha", DelegateRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.CheckStatus(id) == RequestCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if status := o.CheckStatus(id); status != RequestCompleted {
		t.Fatalf("CheckStatus = %v, want completed", status)
	}

	resp := o.GetResponse(id)
	if resp == nil {
		t.Fatal("GetResponse returned nil for a completed request")
	}
	if resp.Content != "hello back" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.AIName != "alpha" {
		t.Errorf("AIName = %q", resp.AIName)
	}
	if resp.ProcessingTimeMs < 0 {
		t.Errorf("ProcessingTimeMs = %d, want >= 0", resp.ProcessingTimeMs)
	}
}

func TestOrchestrator_CheckStatus_UnknownID(t *testing.T) {
	o, _ := newTestOrchestrator(t, "alpha")
	if status := o.CheckStatus("no-such-id"); status != RequestUnknown {
		t.Errorf("CheckStatus = %v, want unknown", status)
	}
}

func TestOrchestrator_Delegate_UnregisteredDaemon(t *testing.T) {
	o, _ := newTestOrchestrator(t, "alpha")
	ctx := context.Background()
	if err := o.Start(ctx, cfgsFor("alpha")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(ctx)

	if _, err := o.Delegate(ctx, "ghost", DelegateRequest{Message: "hi"}); err == nil {
		t.Fatal("expected an error delegating to an unregistered daemon")
	}
}

func TestOrchestrator_RegisterAI_BaseNameFactory(t *testing.T) {
	a := &fakeAdapter{}
	a.pushAssistantMessage("m1", "ok")
	o := New(Deps{
		Factories: map[string]DaemonFactory{
			"cc": func(cfg config.AIConfig) *daemon.Daemon {
				cfg.Durations()
				return daemon.New(daemon.Deps{
					Config:       cfg,
					Backend:      &fakeBackend{},
					Prober:       func(ctx context.Context, cfg config.AIConfig) error { return nil },
					RunDirRoot:   t.TempDir(),
					NewResponder: daemon.NewLogBackedResponderFactory(a),
				})
			},
		},
		RunDirRoot: t.TempDir(),
	})

	ctx := context.Background()
	if err := o.Start(ctx, []config.AIConfig{{Name: "cc:1", CLICommand: "echo"}}); err != nil {
		t.Fatalf("Start with instance-qualified name: %v", err)
	}
	defer o.Stop(ctx)

	if _, err := o.Delegate(ctx, "cc:1", DelegateRequest{Message: "hi"}); err != nil {
		t.Fatalf("Delegate to cc:1: %v", err)
	}
}

func TestOrchestrator_Ping_UnhealthyBeforeAnyDelegate(t *testing.T) {
	o, _ := newTestOrchestrator(t, "alpha")
	ctx := context.Background()
	if err := o.Start(ctx, cfgsFor("alpha")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(ctx)

	hs, err := o.Ping("alpha")
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if hs.DaemonStatus != string(daemon.StatusStopped) {
		t.Errorf("DaemonStatus = %q, want stopped before any delegate", hs.DaemonStatus)
	}
	if hs.Health != HealthUnhealthy {
		t.Errorf("Health = %v, want unhealthy while stopped", hs.Health)
	}

	if _, err := o.Ping("ghost"); err == nil {
		t.Fatal("expected an error pinging an unregistered daemon")
	}
}

func TestOrchestrator_Ping_HealthyOnceRunning(t *testing.T) {
	o, adapters := newTestOrchestrator(t, "alpha")
	adapters["alpha"].pushAssistantMessage("m1", "hi")

	ctx := context.Background()
	if err := o.Start(ctx, cfgsFor("alpha")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(ctx)

	id, err := o.Delegate(ctx, "alpha", DelegateRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && o.CheckStatus(id) != RequestCompleted {
		time.Sleep(10 * time.Millisecond)
	}

	hs, err := o.Ping("alpha")
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if hs.DaemonStatus != string(daemon.StatusRunning) {
		t.Errorf("DaemonStatus = %q, want running", hs.DaemonStatus)
	}
	if hs.Health != HealthHealthy {
		t.Errorf("Health = %v, want healthy with an empty queue", hs.Health)
	}
}

func TestOrchestrator_Stop_FailsInFlightRequests(t *testing.T) {
	o, _ := newTestOrchestrator(t, "alpha") // no message ever pushed: never resolves on its own

	ctx := context.Background()
	if err := o.Start(ctx, cfgsFor("alpha")); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, err := o.Delegate(ctx, "alpha", DelegateRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if status := o.CheckStatus(id); status != RequestError {
		t.Errorf("CheckStatus after Stop = %v, want error", status)
	}

	o.mu.Lock()
	cause := o.requests[id].cause
	o.mu.Unlock()
	if !errors.Is(cause, bridgeerr.ErrCancelled) {
		t.Errorf("cause after Stop = %v, want %v", cause, bridgeerr.ErrCancelled)
	}
}

func TestOrchestrator_ListAIs_And_GetSystemStatus(t *testing.T) {
	o, _ := newTestOrchestrator(t, "alpha", "beta")
	ctx := context.Background()
	if err := o.Start(ctx, cfgsFor("alpha", "beta")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(ctx)

	ais := o.ListAIs()
	if len(ais) != 2 {
		t.Fatalf("ListAIs returned %d entries, want 2", len(ais))
	}
	if ais[0].Name != "alpha" || ais[1].Name != "beta" {
		t.Errorf("ListAIs order = %+v, want sorted alpha, beta", ais)
	}

	sys := o.GetSystemStatus()
	if !sys.Running || sys.AICount != 2 {
		t.Errorf("GetSystemStatus = %+v", sys)
	}
}

func TestOrchestrator_Start_RollsBackOnRegistrationFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, "alpha")
	ctx := context.Background()

	cfgs := []config.AIConfig{
		{Name: "alpha", CLICommand: "echo"},
		{Name: "no-factory-for-this-one", CLICommand: "echo"},
	}

	if err := o.Start(ctx, cfgs); err == nil {
		t.Fatal("expected Start to fail when a factory is missing")
	}

	if ais := o.ListAIs(); len(ais) != 0 {
		t.Errorf("expected no daemons registered after rollback, got %+v", ais)
	}
}
