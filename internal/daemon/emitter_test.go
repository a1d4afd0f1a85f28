package daemon

import "testing"

func TestEmitter_OnResponse_FiresOnEveryEmit(t *testing.T) {
	e := newEmitter()
	var calls int
	e.OnResponse(func(ResponseEvent) { calls++ })

	e.emitResponse(ResponseEvent{ID: "1"})
	e.emitResponse(ResponseEvent{ID: "2"})

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestEmitter_OnceResponse_FiresOnlyOnce(t *testing.T) {
	e := newEmitter()
	var calls int
	e.OnceResponse(func(ResponseEvent) { calls++ })

	e.emitResponse(ResponseEvent{ID: "1"})
	e.emitResponse(ResponseEvent{ID: "2"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEmitter_Off_RemovesListener(t *testing.T) {
	e := newEmitter()
	var calls int
	id := e.OnResponse(func(ResponseEvent) { calls++ })
	e.Off(id)

	e.emitResponse(ResponseEvent{ID: "1"})

	if calls != 0 {
		t.Errorf("calls = %d, want 0 after Off", calls)
	}
}

func TestEmitter_StatusSuppressedWhenUnchanged(t *testing.T) {
	e := newEmitter()
	var calls int
	e.OnStatus(func(StatusEvent) { calls++ })

	e.emitStatus(StatusEvent{Previous: StatusRunning, Current: StatusRunning})
	if calls != 0 {
		t.Fatalf("expected suppressed status event, got %d calls", calls)
	}

	e.emitStatus(StatusEvent{Previous: StatusRunning, Current: StatusStopping})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for an actual transition", calls)
	}
}

func TestEmitter_ErrorListener(t *testing.T) {
	e := newEmitter()
	var got ErrorEvent
	e.OnError(func(ev ErrorEvent) { got = ev })

	e.emitError(ErrorEvent{ID: "req-1", Attempt: 3, MaxAttempts: 3})

	if got.ID != "req-1" || got.Attempt != 3 {
		t.Errorf("got = %+v", got)
	}
}
