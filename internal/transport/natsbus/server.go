// Package natsbus is C6's optional NATS front end: an embedded
// nats-server instance plus a thin client wrapper that republishes the
// bridge orchestrator's event stream onto subjects a pub/sub-preferring
// controller can subscribe to directly, instead of holding a WebSocket
// open. Disabled by default (spec.md §4.7); cmd/bridged only starts it
// when BridgeConfig requests it. Grounded on the teacher's
// internal/nats/server.go and client.go.
package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig mirrors the teacher's EmbeddedServerConfig,
// narrowed to the fields this bridge actually needs -- no JetStream,
// since nothing here requires durable streams (spec.md's Non-goal: "no
// durable request-history persistence").
type EmbeddedServerConfig struct {
	Port          int
	WebSocketPort int // 0 disables the websocket listener
}

// EmbeddedServer wraps an in-process nats-server, started and stopped
// alongside the bridge process.
type EmbeddedServer struct {
	srv     *server.Server
	config  EmbeddedServerConfig
	running bool
}

// NewEmbeddedServer builds an unstarted server, defaulting Port to
// 4222 like the teacher's own constructor.
func NewEmbeddedServer(cfg EmbeddedServerConfig) *EmbeddedServer {
	if cfg.Port == 0 {
		cfg.Port = 4222
	}
	return &EmbeddedServer{config: cfg}
}

// Start boots the embedded server and blocks until it is ready for
// connections or the 10s deadline the teacher's own Start uses elapses.
func (e *EmbeddedServer) Start() error {
	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: 1 * 1024 * 1024,
	}
	if e.config.WebSocketPort != 0 {
		opts.Websocket = server.WebsocketOpts{
			Host:  "127.0.0.1",
			Port:  e.config.WebSocketPort,
			NoTLS: true,
		}
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("build embedded nats server: %w", err)
	}

	e.srv = ns
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("embedded nats server not ready after 10s")
	}
	e.running = true
	return nil
}

// Shutdown stops the embedded server.
func (e *EmbeddedServer) Shutdown() {
	if e.srv != nil {
		e.srv.Shutdown()
	}
	e.running = false
}

// URL returns the client connection URL for this embedded server.
func (e *EmbeddedServer) URL() string {
	return fmt.Sprintf("nats://127.0.0.1:%d", e.config.Port)
}

// IsRunning reports whether Start has completed successfully.
func (e *EmbeddedServer) IsRunning() bool { return e.running }
