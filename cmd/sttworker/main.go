// Command sttworker runs the VAD/STT pipeline stage described in spec §4.2:
// it segments inbound audio into utterances and publishes transcripts.
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

	"github.com/MrWong99/glyphoxa/internal/bootstrap"
	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/health"
	"github.com/MrWong99/glyphoxa/internal/observe"
	"github.com/MrWong99/glyphoxa/internal/sttworker"
	"github.com/MrWong99/glyphoxa/pkg/provider/vad"
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
			fmt.Fprintf(os.Stderr, "sttworker: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sttworker: %v\n", err)
		}
		return 1
	}
	config.ApplyEnvOverrides(cfg)

	logger := bootstrap.NewLogger(cfg.Server)
	slog.SetDefault(logger)
	slog.Info("sttworker starting", "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, closeBus, err := bootstrap.NewBus(ctx, cfg.Bus)
	if err != nil {
		slog.Error("failed to initialise bus", "err", err)
		return 1
	}
	defer closeBus()

	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "glyphoxa-sttworker"})
	if err != nil {
		slog.Error("failed to initialise observability provider", "err", err)
		return 1
	}
	defer shutdownObserve(context.Background())

	reg := bootstrap.NewRegistry()

	vadEngine, err := bootstrap.NewVADEngine(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to create vad engine", "name", cfg.Providers.VAD.Name, "err", err)
		return 1
	}
	sttProv, err := bootstrap.NewSTTProvider(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to create stt provider", "name", cfg.Providers.STT.Name, "err", err)
		return 1
	}

	baseVAD := vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      30,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	}

	topics := cfg.Bus.Topics.Resolve()
	keys := cfg.Bus.KeyPrefixes.Resolve()

	w := sttworker.New(b, vadEngine, sttProv, baseVAD, cfg.Pipeline, topics, keys)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- w.Run(ctx) }()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "active_conversations",
		Check: func(ctx context.Context) error { return nil },
	}).Register(mux)
	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("sttworker http server error", "err", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			return 1
		}
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	slog.Info("goodbye")
	return 0
}
