package natsbus

import (
	"fmt"
	"log"

	"github.com/aibridge/bridge/internal/events"
)

// Republisher subscribes to a bridge orchestrator's event bus and
// republishes each event onto a per-AI, per-kind NATS subject
// (bridge.<ai>.<type>: .response / .error / .status, and .request for
// the orchestrator's request-queued events), per spec.md §4.7. It
// holds no other state: every event that arrives is forwarded, nothing
// is buffered or replayed (the Non-goal this transport shares with the
// WebSocket hub -- "live tail, not a queryable history").
type Republisher struct {
	client *Client
	stop   chan struct{}
}

// NewRepublisher attaches to bus as an "all"-target subscriber and
// starts forwarding in a background goroutine. Call Stop to detach.
func NewRepublisher(client *Client, bus *events.Bus) *Republisher {
	r := &Republisher{client: client, stop: make(chan struct{})}
	ch := bus.Subscribe("all", nil)
	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				r.publish(ev)
			case <-r.stop:
				bus.Unsubscribe("all", ch)
				return
			}
		}
	}()
	return r
}

func (r *Republisher) publish(ev events.Event) {
	subject := fmt.Sprintf("bridge.%s.%s", subjectSafe(ev.Source), ev.Type)
	if err := r.client.PublishJSON(subject, ev); err != nil {
		log.Printf("[NATS] publish %s: %v", subject, err)
	}
}

// subjectSafe substitutes NATS's subject-delimiter character so an AI
// name can never accidentally widen a subscriber's wildcard match.
func subjectSafe(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, name[i])
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}

// Stop detaches the republisher from its bus subscription.
func (r *Republisher) Stop() {
	close(r.stop)
}
