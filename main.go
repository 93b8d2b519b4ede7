// Command netcore runs the multiplayer subsystem standalone: a dedicated
// authoritative server, or a headless dev client for poking at one.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deepdelve/netcore/internal/auth"
	"deepdelve/netcore/internal/config"
	"deepdelve/netcore/internal/dispatch"
	"deepdelve/netcore/internal/game"
	httpapi "deepdelve/netcore/internal/http"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/netcode"
	"deepdelve/netcore/internal/replay"
	"deepdelve/netcore/internal/server"
	"deepdelve/netcore/internal/snapshot"
	"deepdelve/netcore/internal/wire"
)

// opsBackend is the slice of the server handler the ops endpoint consumes.
type opsBackend interface {
	Stats() server.LoopStats
	SessionCount() int
	AddBroadcastObserver(fn func(payload []byte))
}

func main() {
	mode := flag.String("mode", "server", "server or client")
	host := flag.String("host", "", "server address (client mode)")
	port := flag.Int("port", 0, "shared TCP+UDP port")
	name := flag.String("name", "", "player name (client mode)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *name != "" {
		cfg.PlayerName = *name
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging setup failed:", err)
		os.Exit(1)
	}
	defer logger.Close()

	switch *mode {
	case "server":
		runServer(cfg, logger)
	case "client":
		runClient(cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}
}

func runServer(cfg *config.Config, logger *logging.Logger) {
	world := game.NewMemoryWorld()
	catalog := game.NewStaticCatalog(
		game.Level{Name: "maze", Start: wire.Point{X: 2, Y: 2}},
		game.Level{Name: "crypt", Start: wire.Point{X: 1, Y: 1}},
	)

	opts := netcode.Options{
		World:      world,
		Catalog:    catalog,
		TickHz:     cfg.TickHz,
		SnapshotHz: cfg.SnapshotHz,
		Logger:     logger,
	}
	if cfg.ReplayDir != "" {
		recorder, manifest, err := replay.NewRecorder(cfg.ReplayDir, catalog.CurrentLevel(), cfg.TickHz, nil)
		if err != nil {
			logger.Error("replay recording disabled", logging.Error(err))
		} else {
			opts.Recorder = recorder
			logger.Info("recording snapshots", logging.String("path", manifest.SnapshotsPath))
		}
	}

	handler, err := netcode.New(true, "", cfg.Port, "", opts)
	if err != nil {
		logger.Fatal("server setup failed", logging.Error(err))
	}
	handler.SetSnapshotTranslator(snapshot.NewDefault(logger))
	if err := handler.Start(); err != nil {
		logger.Fatal("server start failed", logging.Error(err))
	}

	if cfg.OpsAddr != "" {
		if backend, ok := handler.(opsBackend); ok {
			startOpsEndpoint(cfg.OpsAddr, cfg.SpectateSecret, backend, logger)
		}
	}

	logger.Info("dedicated server running",
		logging.Int("port", cfg.Port), logging.String("level", catalog.CurrentLevel()))

	waitForInterrupt()
	handler.Stop("interrupted")
}

func startOpsEndpoint(addr, spectateSecret string, backend opsBackend, logger *logging.Logger) {
	hub := httpapi.NewSpectatorHub(logger)
	if spectateSecret != "" {
		verifier, err := auth.NewHMACTokenVerifier(spectateSecret, 30*time.Second)
		if err != nil {
			logger.Warn("spectator token gate disabled", logging.Error(err))
		} else {
			hub.RequireToken(verifier)
		}
	}
	backend.AddBroadcastObserver(hub.Broadcast)

	mux := http.NewServeMux()
	httpapi.NewHandlerSet(httpapi.Options{
		Logger:   logger,
		Stats:    backend,
		Spectate: hub,
	}).Register(mux)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("ops endpoint stopped", logging.Error(err))
		}
	}()
	logger.Info("ops endpoint listening", logging.String("addr", addr))
}

// runClient is the headless dev client: it connects, registers, nudges its
// hero east once a second, and logs the mirrored hero position every five
// seconds.
func runClient(cfg *config.Config, logger *logging.Logger) {
	mirror := game.NewMemoryWorld()
	mirror.Spawn(&game.Entity{Name: "hero-" + cfg.PlayerName})

	handler, err := netcode.New(false, cfg.Host, cfg.Port, cfg.PlayerName, netcode.Options{
		World:  mirror,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("client setup failed", logging.Error(err))
	}
	handler.SetSnapshotTranslator(snapshot.NewDefault(logger))
	handler.AddConnectionListener(loggingListener{logger: logger})

	dispatch.Register(handler.Dispatcher(), func(change wire.LevelChange) {
		logger.Info("level change received", logging.String("level", change.LevelName))
	})
	dispatch.Register(handler.Dispatcher(), func(wire.GameOver) {
		logger.Info("game over received")
	})

	if err := handler.Start(); err != nil {
		logger.Fatal("client start failed", logging.Error(err))
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	frame := time.NewTicker(time.Second / 30)
	defer frame.Stop()
	move := time.NewTicker(time.Second)
	defer move.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	heroName := "hero-" + cfg.PlayerName
	for {
		select {
		case <-interrupt:
			handler.Stop("interrupted")
			return
		case <-move.C:
			handler.SendInput(wire.ActionMove, wire.Point{X: 1, Y: 0})
		case <-report.C:
			if hero, ok := mirror.Resolve(heroName); ok {
				logger.Info("mirror state",
					logging.String("entity", heroName),
					logging.String("position", fmt.Sprintf("(%.2f, %.2f)", hero.Position.X, hero.Position.Y)))
			}
		case <-frame.C:
			handler.PollAndDispatch()
		}
	}
}

// loggingListener reports lifecycle transitions to the structured log.
type loggingListener struct {
	logger *logging.Logger
}

func (l loggingListener) OnConnected() {
	l.logger.Info("connection established")
}

func (l loggingListener) OnDisconnected(cause error) {
	if cause != nil {
		l.logger.Warn("connection lost", logging.Error(cause))
		return
	}
	l.logger.Info("connection closed")
}

func waitForInterrupt() {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
}
