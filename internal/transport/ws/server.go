package ws

import (
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// allowedOrigins lists extra origins (beyond localhost, always allowed)
// permitted to open a websocket connection, configurable via
// AIBRIDGE_ALLOWED_ORIGINS, the same env-var-driven CSRF guard the
// teacher applies in internal/server/handlers.go's checkWebSocketOrigin.
var allowedOrigins = initAllowedOrigins()

func initAllowedOrigins() []string {
	var out []string
	if raw := os.Getenv("AIBRIDGE_ALLOWED_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

// checkOrigin validates the Origin header against localhost (always
// allowed) and the configured allow-list, preventing a malicious page
// from opening a cross-site websocket to this bridge.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Mount installs the /ws upgrade route onto router, backed by hub.
func Mount(router *mux.Router, hub *Hub) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	router.HandleFunc("/ws", handleUpgrade(hub, upgrader)).Methods(http.MethodGet)
}
