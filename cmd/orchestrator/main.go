// Command orchestrator runs the LLM pipeline stage described in spec §4.3:
// it drives streaming completions, dispatches MCP tool calls, and segments
// model output into per-sentence TTS requests.
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
	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/internal/mcp/mcphost"
	"github.com/MrWong99/glyphoxa/internal/mcp/tools/fileio"
	"github.com/MrWong99/glyphoxa/internal/observe"
	"github.com/MrWong99/glyphoxa/internal/orchestrator"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
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
			fmt.Fprintf(os.Stderr, "orchestrator: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		}
		return 1
	}
	config.ApplyEnvOverrides(cfg)

	logger := bootstrap.NewLogger(cfg.Server)
	slog.SetDefault(logger)
	slog.Info("orchestrator starting", "config", *configPath, "mcp_servers", len(cfg.MCP.Servers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, closeBus, err := bootstrap.NewBus(ctx, cfg.Bus)
	if err != nil {
		slog.Error("failed to initialise bus", "err", err)
		return 1
	}
	defer closeBus()

	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "glyphoxa-orchestrator"})
	if err != nil {
		slog.Error("failed to initialise observability provider", "err", err)
		return 1
	}
	defer shutdownObserve(context.Background())

	reg := bootstrap.NewRegistry()
	llmProv, err := bootstrap.NewLLMProvider(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to create llm provider", "err", err)
		return 1
	}

	toolHost := buildToolHost(ctx, cfg)
	defer toolHost.Close()

	topics := cfg.Bus.Topics.Resolve()
	keys := cfg.Bus.KeyPrefixes.Resolve()

	w := orchestrator.New(b, llmProv, toolHost, cfg.Pipeline, topics, keys)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- w.Run(ctx) }()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "llm_provider",
		Check: func(ctx context.Context) error {
			if llmProv == nil {
				return fmt.Errorf("no llm provider configured")
			}
			return nil
		},
	}).Register(mux)

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("orchestrator http server error", "err", err)
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

// buildToolHost wires the MCP tool host: every configured external server,
// plus the in-process fileio tools and a domain-neutral get_weather builtin
// standing in for a bespoke tool integration, per spec §4.3's tool-calling
// requirement and DESIGN.md's note that no concrete domain tool is named by
// the spec.
func buildToolHost(ctx context.Context, cfg *config.Config) *mcphost.Host {
	host := mcphost.New()

	for _, srv := range cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: mcp.Transport(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := host.RegisterServer(ctx, serverCfg); err != nil {
			slog.Warn("orchestrator: failed to register mcp server — continuing without it", "name", srv.Name, "err", err)
		}
	}

	for _, t := range fileio.NewTools(os.TempDir()) {
		if err := host.RegisterBuiltin(mcphost.BuiltinTool{
			Definition:  t.Definition,
			Handler:     t.Handler,
			DeclaredP50: t.DeclaredP50,
			DeclaredMax: t.DeclaredMax,
		}); err != nil {
			slog.Warn("orchestrator: failed to register builtin tool", "name", t.Definition.Name, "err", err)
		}
	}

	if err := host.RegisterBuiltin(mcphost.BuiltinTool{
		Definition: llm.ToolDefinition{
			Name:        "get_weather",
			Description: "Returns a canned current-weather reading for a named location.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{"type": "string"},
				},
				"required": []string{"location"},
			},
		},
		Handler:     getWeather,
		DeclaredP50: 50,
		DeclaredMax: 200,
	}); err != nil {
		slog.Warn("orchestrator: failed to register get_weather builtin", "err", err)
	}

	if err := host.Calibrate(ctx); err != nil {
		slog.Warn("orchestrator: tool calibration failed — declared latencies stand", "err", err)
	}

	return host
}

// getWeather is a domain-neutral stand-in tool; it never calls out to a
// real weather service.
func getWeather(_ context.Context, args string) (string, error) {
	return fmt.Sprintf(`{"location_query":%s,"condition":"clear","temp_c":18}`, args), nil
}
