// Package notify implements C7, the desktop notifier: an optional sink
// subscribed to the bridge orchestrator's aggregate event stream. On
// Windows it posts a toast via the teacher's own
// github.com/go-toast/toast dependency; everywhere else ShowToast
// returns an error that callers log and otherwise ignore, the same
// runtime.GOOS gate the teacher's internal/notifications/toast.go uses
// instead of a build tag (go-toast/toast itself compiles everywhere,
// it simply has nothing to do off Windows).
package notify

import (
	"fmt"
	"log"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/aibridge/bridge/internal/events"
)

// Notifier posts desktop toasts for the bridge event vocabulary
// (spec.md §4.8): an "error" event, or a "response" event whose request
// was delegated at high priority.
type Notifier struct {
	appID        string
	dashboardURL string
}

// New builds a Notifier. appID/dashboardURL default the same way the
// teacher's NewToastNotifierWithURL does when left empty.
func New(appID, dashboardURL string) *Notifier {
	if appID == "" {
		appID = "aibridge"
	}
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8420"
	}
	return &Notifier{appID: appID, dashboardURL: dashboardURL}
}

// ShowToast posts a toast with the default notification sound. Returns
// an error (not a panic) off Windows, since this is a documented no-op
// everywhere else.
func (n *Notifier) ShowToast(title, message string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("desktop notifications only supported on windows")
	}

	notification := toast.Notification{
		AppID:   n.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: n.dashboardURL},
		},
	}
	return notification.Push()
}

// IsSupported reports whether this platform can actually show a toast.
func (n *Notifier) IsSupported() bool { return runtime.GOOS == "windows" }

// Subscribe attaches the notifier to bus as an "all"-target listener
// and starts posting toasts for matching events in a background
// goroutine. Returns a function that detaches the subscription.
func (n *Notifier) Subscribe(bus *events.Bus) func() {
	ch := bus.Subscribe("all", []events.EventType{events.EventError, events.EventResponse})
	go func() {
		for ev := range ch {
			n.handle(ev)
		}
	}()
	return func() { bus.Unsubscribe("all", ch) }
}

func (n *Notifier) handle(ev events.Event) {
	switch ev.Type {
	case events.EventError:
		cause, _ := ev.Payload["cause"].(string)
		if err := n.ShowToast(fmt.Sprintf("%s reported an error", ev.Source), cause); err != nil && n.IsSupported() {
			log.Printf("[NOTIFY] show toast: %v", err)
		}
	case events.EventResponse:
		priority, _ := ev.Payload["requestPriority"].(string)
		if priority != "high" {
			return
		}
		text, _ := ev.Payload["text"].(string)
		if err := n.ShowToast(fmt.Sprintf("%s responded", ev.Source), truncate(text, 200)); err != nil && n.IsSupported() {
			log.Printf("[NOTIFY] show toast: %v", err)
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
