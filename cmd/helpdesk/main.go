// Command helpdesk serves the IT help desk request-understanding pipeline over
// HTTP and MCP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/helpdesk/internal/app"
	"github.com/MrWong99/helpdesk/internal/config"
	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/internal/pipeline"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mcpStdio := flag.Bool("mcp-stdio", false, "serve the MCP tools on stdin/stdout instead of HTTP")
	evalPath := flag.String("eval", "", "run the labelled requests in `FILE`, print metrics and exit")
	flag.Parse()

	if err := loadEnvFiles(".env.local", ".env"); err != nil {
		fmt.Fprintf(os.Stderr, "helpdesk: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "helpdesk: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "helpdesk: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("helpdesk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// stdout carries the protocol in stdio mode.
	var summary io.Writer = os.Stdout
	if *mcpStdio || *evalPath != "" {
		summary = os.Stderr
	}
	printStartupSummary(summary, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithVersion(version),
		app.WithMetricsHandler(tel.MetricsHandler),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	switch {
	case *evalPath != "":
		return runEvaluation(ctx, application, *evalPath)
	case *mcpStdio:
		if err := application.RunMCPStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("mcp stdio error", "err", err)
			return 1
		}
		return 0
	}

	watcher, err := config.NewWatcher(*configPath, func(c config.Change) {
		d := c.Diff
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.Level())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changed, restart to apply", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("shutdown signal received, stopping")
	return 0
}

// loadEnvFiles loads each file that exists into the environment. Variables
// already set win over file contents, and earlier files win over later ones.
func loadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// runEvaluation scores the pipeline on the labelled requests in path and
// prints the metrics as JSON to stdout.
func runEvaluation(ctx context.Context, a *app.App, path string) int {
	reqs, err := pipeline.LoadLabeledRequests(path)
	if err != nil {
		slog.Error("failed to load evaluation set", "err", err)
		return 1
	}
	m, err := a.Evaluate(ctx, reqs)
	if err != nil {
		slog.Error("evaluation failed", "err", err)
		return 1
	}
	slog.Info("evaluation complete",
		"total", m.Total,
		"accuracy", fmt.Sprintf("%.3f", m.Accuracy),
		"escalation_precision", fmt.Sprintf("%.3f", m.EscalationPrecision),
		"escalation_recall", fmt.Sprintf("%.3f", m.EscalationRecall),
	)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		slog.Error("failed to write metrics", "err", err)
		return 1
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        Help desk startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Fprintf(w, "║  LLM fallbacks   : %-19d ║\n", len(cfg.Providers.LLMFallbacks))
	categories := "(built-in)"
	if cfg.CategoriesFile != "" {
		categories = cfg.CategoriesFile
	}
	printRow(w, "Categories", categories)
	fmt.Fprintf(w, "║  Knowledge files : %-19d ║\n", len(cfg.Knowledge.Files))
	printRow(w, "Cache", string(cfg.Cache.Backend))
	if cfg.MCP.Enabled {
		printRow(w, "MCP", cfg.MCP.Path)
	} else {
		printRow(w, "MCP", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-15s : %-19s ║\n", label, value)
}
