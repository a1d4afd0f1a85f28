package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aibridge/bridge/internal/bridge"
	"github.com/aibridge/bridge/internal/config"
	"github.com/aibridge/bridge/internal/daemon"
	"github.com/aibridge/bridge/internal/storage"
	"github.com/aibridge/bridge/internal/terminal"
)

// fakeBackend/fakeAdapter mirror internal/bridge's own test fakes
// (terminal.Backend and storage.Adapter are both fully exported, so
// this package can build real daemons the same way bridge's tests do,
// rather than faking the HTTP layer's orchestrator dependency itself).
type fakeBackend struct{ mu sync.Mutex }

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
	return "pane-1", nil
}
func (f *fakeBackend) ClosePane(ctx context.Context, paneID string) error { return nil }
func (f *fakeBackend) ListPanes(ctx context.Context) ([]terminal.PaneInfo, error) {
	return nil, nil
}
func (f *fakeBackend) InjectText(ctx context.Context, paneID, text string) error { return nil }

type fakeAdapter struct {
	mu       sync.Mutex
	messages []storage.Message
}

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
	callback(a.messages)
	return &fakeWatcher{}, nil
}

func (a *fakeAdapter) ResolveLatestSession(ctx context.Context, projectPath string) (string, error) {
	return "session-1", nil
}

func (a *fakeAdapter) pushAssistantMessage(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, storage.Message{ID: "m1", Role: storage.RoleAssistant, Content: content})
}

type fakeWatcher struct{}

func (*fakeWatcher) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeAdapter) {
	t.Helper()
	adapter := &fakeAdapter{}
	factory := func(cfg config.AIConfig) *daemon.Daemon {
		cfg.Durations()
		return daemon.New(daemon.Deps{
			Config:       cfg,
			Backend:      &fakeBackend{},
			Prober:       func(ctx context.Context, cfg config.AIConfig) error { return nil },
			RunDirRoot:   t.TempDir(),
			NewResponder: daemon.NewLogBackedResponderFactory(adapter),
		})
	}

	orch := bridge.New(bridge.Deps{
		Factories:  map[string]bridge.DaemonFactory{"alpha": factory},
		RunDirRoot: t.TempDir(),
	})
	if err := orch.Start(context.Background(), []config.AIConfig{{Name: "alpha", CLICommand: "echo"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { orch.Stop(context.Background()) })

	return NewServer(orch, ":0"), adapter
}

func TestHandleDelegate_HappyPath(t *testing.T) {
	s, adapter := newTestServer(t)
	adapter.pushAssistantMessage("hello from alpha")

	body := strings.NewReader(`{"message":"hi there"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/ais/alpha/delegate", body)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var env WireEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.RequestID == "" {
		t.Fatal("expected a non-empty requestId")
	}

	deadline := time.Now().Add(2 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		req2 := httptest.NewRequest(http.MethodGet, "/api/requests/"+env.RequestID+"/status", nil)
		rec2 := httptest.NewRecorder()
		s.Router().ServeHTTP(rec2, req2)
		var se WireEnvelope
		json.Unmarshal(rec2.Body.Bytes(), &se)
		status = se.Status
		if status == "completed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status != "completed" {
		t.Fatalf("status = %q, want completed", status)
	}

	req3 := httptest.NewRequest(http.MethodGet, "/api/requests/"+env.RequestID+"/response", nil)
	rec3 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusOK {
		t.Fatalf("response status = %d", rec3.Code)
	}
	var resp bridge.BridgeResponse
	if err := json.Unmarshal(rec3.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Content != "hello from alpha" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestHandleDelegate_MissingMessage(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/ais/alpha/delegate", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDelegate_UnknownAI(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/ais/ghost/delegate", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePing(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ais/alpha/ping", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var hs bridge.HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &hs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hs.AIName != "alpha" {
		t.Errorf("AIName = %q", hs.AIName)
	}
}

func TestHandleListAIs(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ais", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		AIs []bridge.AIStatus `json:"ais"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.AIs) != 1 || body.AIs[0].Name != "alpha" {
		t.Errorf("ais = %+v", body.AIs)
	}
}

func TestHandleRegisterAndUnregisterAI(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/ais", strings.NewReader(`{"name":"ghost"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	// "ghost" has no registered factory: expect the orchestrator's
	// unknown-daemon error to surface as 404, exercising the same error
	// mapping path delegate/ping use.
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodDelete, "/api/ais/alpha", nil)
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("unregister status = %d", rec2.Code)
	}
}

func TestSecurityHeadersMiddleware_StripsServerHeader(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ais", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if got := rec.Header().Get("Server"); got != "aibridge" {
		t.Errorf("Server header = %q, want aibridge", got)
	}
}
