// Command gateway terminates client WebSocket connections and forwards
// audio frames onto the bus, per spec §4.1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/glyphoxa/internal/admin"
	"github.com/MrWong99/glyphoxa/internal/bootstrap"
	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/gateway"
	"github.com/MrWong99/glyphoxa/internal/health"
	"github.com/MrWong99/glyphoxa/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gateway: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		}
		return 1
	}
	config.ApplyEnvOverrides(cfg)

	logger := bootstrap.NewLogger(cfg.Server)
	slog.SetDefault(logger)
	slog.Info("gateway starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, closeBus, err := bootstrap.NewBus(ctx, cfg.Bus)
	if err != nil {
		slog.Error("failed to initialise bus", "err", err)
		return 1
	}
	defer closeBus()

	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "glyphoxa-gateway"})
	if err != nil {
		slog.Error("failed to initialise observability provider", "err", err)
		return 1
	}
	defer shutdownObserve(context.Background())

	watcher, err := config.NewWatcher(*configPath, func(old, newCfg *config.Config) {
		slog.Info("config file changed on disk — restart the process to apply it",
			"listen_addr_before", old.Server.ListenAddr, "listen_addr_after", newCfg.Server.ListenAddr)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	topics := cfg.Bus.Topics.Resolve()
	keys := cfg.Bus.KeyPrefixes.Resolve()

	gw := gateway.New(b, topics, keys)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", gw.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	admin.New(b, keys).Register(mux)
	health.New(health.Checker{
		Name: "bus",
		Check: func(ctx context.Context) error {
			_, err := b.Keystore.Exists(ctx, keys.ConversationConfig+"healthcheck")
			return err
		},
	}).Register(mux)

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			slog.Error("gateway http server error", "err", err)
			return 1
		}
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
