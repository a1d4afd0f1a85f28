package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aibridge/bridge/internal/bridgeerr"
	"github.com/aibridge/bridge/internal/config"
	"github.com/aibridge/bridge/internal/terminal"
)

// fakeBackend is a minimal in-memory terminal.Backend for daemon tests;
// it never shells out, matching the teacher's own table-driven test
// style of exercising interfaces through hand-written fakes rather than
// mocking frameworks.
type fakeBackend struct {
	mu        sync.Mutex
	nextPane  int
	injected  []string
	closeErrs map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{closeErrs: make(map[string]error)}
}

func (f *fakeBackend) Name() string                           { return "fake" }
func (f *fakeBackend) Probe(ctx context.Context) error         { return nil }
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

func (f *fakeBackend) ClosePane(ctx context.Context, paneID string) error {
	return f.closeErrs[paneID]
}

func (f *fakeBackend) ListPanes(ctx context.Context) ([]terminal.PaneInfo, error) {
	return nil, nil
}

func (f *fakeBackend) InjectText(ctx context.Context, paneID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, text)
	return nil
}

// fakeResponder lets each test script exactly how many polls it takes
// before a response (or error) is produced.
type fakeResponder struct {
	mu        sync.Mutex
	sendErr   error
	responses []fakeResponse
	sendCount int
}

type fakeResponse struct {
	text string
	err  error
}

func (r *fakeResponder) send(ctx context.Context, sentMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendCount++
	return r.sendErr
}

func (r *fakeResponder) checkResponse(ctx context.Context, sentMessage string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.responses) == 0 {
		return "", nil
	}
	next := r.responses[0]
	r.responses = r.responses[1:]
	return next.text, next.err
}

func (r *fakeResponder) resolveSessionID(ctx context.Context) (string, error) { return "", nil }
func (r *fakeResponder) close() error                                        { return nil }

func testDaemon(t *testing.T, responder *fakeResponder) (*Daemon, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	cfg := config.AIConfig{Name: "testai", CLICommand: "echo"}
	cfg.Durations()
	d := New(Deps{
		Config:       cfg,
		Backend:      backend,
		Prober:       func(ctx context.Context, cfg config.AIConfig) error { return nil },
		RunDirRoot:   t.TempDir(),
		NewResponder: func(*Daemon) Responder { return responder },
	})
	return d, backend
}

func TestDaemon_QueueRequest_EmitsResponseOnSuccess(t *testing.T) {
	responder := &fakeResponder{responses: []fakeResponse{{text: "hello back"}}}
	d, _ := testDaemon(t, responder)

	done := make(chan ResponseEvent, 1)
	d.Emitter().OnResponse(func(ev ResponseEvent) { done <- ev })

	id := d.QueueRequest(context.Background(), Request{Message: "hi"})
	if id == "" {
		t.Fatal("expected a non-empty request id")
	}

	select {
	case ev := <-done:
		if ev.Text != "hello back" {
			t.Errorf("Text = %q, want %q", ev.Text, "hello back")
		}
		if ev.ID != id {
			t.Errorf("ID = %q, want %q", ev.ID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response event")
	}
}

func TestDaemon_RetriesOnTransientSendFailure(t *testing.T) {
	attempts := 0
	responder := &fakeResponder{}
	sendFailOnce := &countingSendResponder{fakeResponder: responder, failFirstN: 1, onSend: func() { attempts++ }}
	responder.responses = []fakeResponse{{text: "ok after retry"}}

	backend := newFakeBackend()
	cfg := config.AIConfig{Name: "testai", CLICommand: "echo", MaxRetries: 2}
	cfg.Durations()
	d := New(Deps{
		Config:       cfg,
		Backend:      backend,
		Prober:       func(ctx context.Context, cfg config.AIConfig) error { return nil },
		RunDirRoot:   t.TempDir(),
		NewResponder: func(*Daemon) Responder { return sendFailOnce },
	})

	done := make(chan ResponseEvent, 1)
	d.Emitter().OnResponse(func(ev ResponseEvent) { done <- ev })

	d.QueueRequest(context.Background(), Request{Message: "hi"})

	select {
	case ev := <-done:
		if ev.Text != "ok after retry" {
			t.Errorf("Text = %q", ev.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response event")
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 send attempts, got %d", attempts)
	}
}

// countingSendResponder wraps a fakeResponder, failing the first N
// sends before delegating.
type countingSendResponder struct {
	*fakeResponder
	mu         sync.Mutex
	failFirstN int
	calls      int
	onSend     func()
}

func (c *countingSendResponder) send(ctx context.Context, sentMessage string) error {
	c.mu.Lock()
	c.calls++
	shouldFail := c.calls <= c.failFirstN
	c.mu.Unlock()
	if c.onSend != nil {
		c.onSend()
	}
	if shouldFail {
		return errors.New("transient send failure")
	}
	return c.fakeResponder.send(ctx, sentMessage)
}

func TestDaemon_ExhaustsRetriesAndEmitsError(t *testing.T) {
	responder := &fakeResponder{sendErr: errors.New("permanent failure")}
	backend := newFakeBackend()
	cfg := config.AIConfig{Name: "testai", CLICommand: "echo", MaxRetries: 1}
	cfg.Durations()
	d := New(Deps{
		Config:       cfg,
		Backend:      backend,
		Prober:       func(ctx context.Context, cfg config.AIConfig) error { return nil },
		RunDirRoot:   t.TempDir(),
		NewResponder: func(*Daemon) Responder { return responder },
	})

	errCh := make(chan ErrorEvent, 1)
	d.Emitter().OnError(func(ev ErrorEvent) { errCh <- ev })

	d.QueueRequest(context.Background(), Request{Message: "hi"})

	select {
	case ev := <-errCh:
		if ev.Attempt != ev.MaxAttempts {
			t.Errorf("Attempt = %d, want MaxAttempts %d", ev.Attempt, ev.MaxAttempts)
		}
		if ev.MaxAttempts != 2 { // maxRetries=1 => 2 attempts total
			t.Errorf("MaxAttempts = %d, want 2", ev.MaxAttempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestDaemon_StartFailsWhenCLIMissing(t *testing.T) {
	responder := &fakeResponder{}
	backend := newFakeBackend()
	cfg := config.AIConfig{Name: "testai", CLICommand: "echo"}
	cfg.Durations()
	d := New(Deps{
		Config:  cfg,
		Backend: backend,
		Prober: func(ctx context.Context, cfg config.AIConfig) error {
			return bridgeerr.ErrInstallationMissing
		},
		RunDirRoot:   t.TempDir(),
		NewResponder: func(*Daemon) Responder { return responder },
	})

	errCh := make(chan ErrorEvent, 1)
	d.Emitter().OnError(func(ev ErrorEvent) { errCh <- ev })

	d.QueueRequest(context.Background(), Request{Message: "hi"})

	select {
	case <-errCh:
		if d.GetStatus() != StatusError {
			t.Errorf("GetStatus() = %v, want %v", d.GetStatus(), StatusError)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestDaemon_QueueLengthAndStatusAccessors(t *testing.T) {
	responder := &fakeResponder{responses: []fakeResponse{{text: "done"}}}
	d, _ := testDaemon(t, responder)

	if d.GetStatus() != StatusStopped {
		t.Errorf("initial status = %v, want stopped", d.GetStatus())
	}

	done := make(chan struct{})
	d.Emitter().OnResponse(func(ResponseEvent) { close(done) })
	d.QueueRequest(context.Background(), Request{Message: "hi"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	if _, ok := d.GetPaneID(); !ok {
		t.Error("expected a pane id to be bound after a successful request")
	}
	if n := d.GetQueueLength(); n != 0 {
		t.Errorf("GetQueueLength() = %d after the only request completed, want 0", n)
	}
}
