// Command bridged runs the multi-AI bridge orchestrator as a
// standalone daemon: it loads a BridgeConfig, brings up one C4 daemon
// per configured secondary AI behind the C5 orchestrator, and serves
// that orchestrator over HTTP/WebSocket (and, optionally, NATS) so a
// controller need not be in-process. Wiring and shutdown sequencing
// are grounded on the teacher's cmd/cliaimonitor/main.go (flag parsing,
// component construction, signal-triggered graceful shutdown),
// narrowed to this repo's own five-plus-two component set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aibridge/bridge/internal/bridge"
	"github.com/aibridge/bridge/internal/config"
	"github.com/aibridge/bridge/internal/events"
	"github.com/aibridge/bridge/internal/notify"
	transporthttp "github.com/aibridge/bridge/internal/transport/http"
	"github.com/aibridge/bridge/internal/transport/natsbus"
	"github.com/aibridge/bridge/internal/transport/ws"
	"github.com/aibridge/bridge/internal/terminal"
)

func main() {
	configPath := flag.String("config", "configs/bridge.yaml", "BridgeConfig YAML file")
	addr := flag.String("addr", ":8420", "HTTP/WebSocket listen address")
	enableNATS := flag.Bool("nats", false, "enable the embedded NATS republisher")
	natsPort := flag.Int("nats-port", 4222, "embedded NATS server port")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyDefaults()

	ctx, cancelProbe := context.WithTimeout(context.Background(), 10*time.Second)
	backend, err := terminal.Select(ctx, cfg.Terminal.Backend)
	cancelProbe()
	if err != nil {
		fmt.Fprintf(os.Stderr, "select terminal backend: %v\n", err)
		os.Exit(1)
	}
	log.Printf("[BRIDGED] using terminal backend %s", backend.Name())

	bus := events.NewBus()
	factories := buildFactories(cfg.AIs, backend, cfg.RunDir)
	orch := bridge.New(bridge.Deps{
		Factories:  factories,
		RunDirRoot: cfg.RunDir,
		Bus:        bus,
		// This entrypoint already owns signal handling below (it has
		// more than the orchestrator to tear down: HTTP/WS/NATS), so
		// the orchestrator's own internal handler would just be a
		// second SIGTERM listener calling the same idempotent Stop.
		ExternalSignalHandling: true,
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	err = orch.Start(startCtx, cfg.AIs)
	cancelStart()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start orchestrator: %v\n", err)
		os.Exit(1)
	}

	httpServer := transporthttp.NewServer(orch, *addr)
	hub := ws.NewHub()
	go hub.Run()
	unsubscribeWS := hub.SubscribeBus(bus)
	ws.Mount(httpServer.Router(), hub)

	notifier := notify.New("aibridge", "http://localhost"+*addr)
	unsubscribeNotify := notifier.Subscribe(bus)

	var natsServer *natsbus.EmbeddedServer
	var republisher *natsbus.Republisher
	var natsClient *natsbus.Client
	if *enableNATS {
		natsServer = natsbus.NewEmbeddedServer(natsbus.EmbeddedServerConfig{Port: *natsPort})
		if err := natsServer.Start(); err != nil {
			log.Printf("[BRIDGED] embedded nats server failed to start: %v", err)
			natsServer = nil
		} else {
			natsClient, err = natsbus.NewClient(natsServer.URL())
			if err != nil {
				log.Printf("[BRIDGED] nats client connect failed: %v", err)
			} else {
				republisher = natsbus.NewRepublisher(natsClient, bus)
				log.Printf("[BRIDGED] nats bus listening at %s", natsServer.URL())
			}
		}
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- httpServer.ListenAndServe() }()
	log.Printf("[BRIDGED] listening on %s", *addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Printf("[BRIDGED] http server error: %v", err)
		}
	case <-shutdown:
		log.Println("[BRIDGED] shutting down (signal received)")
	}

	unsubscribeWS()
	unsubscribeNotify()
	if republisher != nil {
		republisher.Stop()
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if natsServer != nil {
		natsServer.Shutdown()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[BRIDGED] http shutdown: %v", err)
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		log.Printf("[BRIDGED] orchestrator stop: %v", err)
	}

	log.Println("[BRIDGED] goodbye")
}

func loadConfig(path string) (*config.BridgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg config.BridgeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}
