// Amazo is a self-scheduling agent. It wakes on a fixed interval, reads
// its own notes from disk, converses with a tool-calling model until the
// model is done, then sleeps again. Configuration is loaded once from
// my-core/my-config.yaml.gpg (decrypted with a local key file) or the
// plaintext my-core/my-config.yaml.
//
// Usage:
//
//	amazo                  Start the wake loop
//	amazo version          Print version and build information
//	amazo -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/amazo/internal/buildinfo"
	"github.com/nugget/amazo/internal/config"
	"github.com/nugget/amazo/internal/cycle"
	"github.com/nugget/amazo/internal/heartbeat"
	"github.com/nugget/amazo/internal/httpkit"
	"github.com/nugget/amazo/internal/ledger"
	"github.com/nugget/amazo/internal/llm"
	"github.com/nugget/amazo/internal/logging"
	"github.com/nugget/amazo/internal/loop"
	"github.com/nugget/amazo/internal/prompts"
	"github.com/nugget/amazo/internal/telemetry"
	"github.com/nugget/amazo/internal/tools"
)

// shutdownTimeout bounds the telemetry flush on exit.
const shutdownTimeout = 5 * time.Second

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run].
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. It returns nil on clean shutdown
// (including SIGINT/SIGTERM) and an error for any fatal condition.
// Arguments are parsed by hand; the surface is one optional command and
// one output flag.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "":
		return runLoop(ctx, stdout, stderr)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Amazo - self-scheduling agent loop")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: amazo [flags] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  (none)       Start the wake loop")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -o, --output fmt  Output format for version: text (default) or json")
	return nil
}

// runLoop loads configuration, wires the agent and runs the wake loop
// until the context is cancelled or a signal arrives.
func runLoop(ctx context.Context, stdout io.Writer, stderr io.Writer) (err error) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The bootstrap logger writes the default log file so startup
	// failures are recorded before the configured settings are known.
	logger, closer := logging.New(stdout, logging.Options{
		Level:  slog.LevelInfo,
		Format: "auto",
		File:   config.DefaultLogFile,
	})
	defer func() { closer.Close() }()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Fatal error", "panic", p)
			err = fmt.Errorf("fatal error: %v", p)
		}
	}()

	logger.Info("Amazo agent starting", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, err := config.NewLoader(logger).Load(ctx)
	if err != nil {
		logger.Error("FATAL: config load failed", "error", err)
		return err
	}

	// Reconfigure the logger now that the desired level, format and
	// file are known. Validate has already checked the level.
	{
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		configured, configuredCloser := logging.New(stdout, logging.Options{
			Level:  level,
			Format: cfg.LogFormat,
			File:   cfg.LogFile,
		})
		closer.Close()
		logger, closer = configured, configuredCloser
	}

	interval := cfg.Interval()
	logger.Info(fmt.Sprintf("Config loaded: model=%s, interval=%ds", cfg.Model, cfg.LoopInterval),
		"api_base", cfg.APIBase,
		"sleep", interval,
		"command_timeout", cfg.CommandTimeoutDuration(),
		"model_timeout", cfg.ModelTimeoutDuration(),
	)

	// --- Telemetry ---
	// Spans and metrics go to stderr so they never interleave with the
	// log stream on stdout.
	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		ServiceName: cfg.Telemetry.ServiceName,
	}, telemetry.WithWriter(stderr))
	if err != nil {
		logger.Error("FATAL: telemetry init failed", "error", err)
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// --- Cycle ledger ---
	var recorder cycle.Recorder
	if cfg.LedgerPath != "" {
		store, err := ledger.NewStore(cfg.LedgerPath)
		if err != nil {
			logger.Error("FATAL: ledger open failed", "error", err, "path", cfg.LedgerPath)
			return fmt.Errorf("open ledger %s: %w", cfg.LedgerPath, err)
		}
		defer store.Close()
		recorder = store

		counts, err := store.Outcomes(ctx)
		if err != nil {
			logger.Warn("ledger summary failed", "error", err)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		logger.Info("cycle ledger opened", "path", cfg.LedgerPath, "cycles", total)
	}

	// --- Model client ---
	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIBase: cfg.APIBase,
		APIKey:  cfg.APIKey,
		HTTPClient: httpkit.NewClient(
			httpkit.WithTimeout(cfg.ModelTimeoutDuration()),
			httpkit.WithLogger(logger),
		),
		Logger: logger,
	})

	registry := tools.NewRegistry(tools.Config{
		CommandTimeout: cfg.CommandTimeoutDuration(),
		Logger:         logger,
	})

	engine := cycle.New(cycle.Config{
		Model:        cfg.Model,
		ModelTimeout: cfg.ModelTimeoutDuration(),
	}, cycle.Deps{
		Client: client,
		Tools:  registry,
		Prompts: prompts.Files{
			WakeupPrompt: cfg.Files.WakeupPrompt,
			WakeState:    cfg.Files.WakeState,
			PostIts:      cfg.Files.PostIts,
		},
		Heartbeat: heartbeat.NewWriter(heartbeat.FileSink{Path: cfg.Files.Heartbeat}, nil, logger),
		Ledger:    recorder,
		Telemetry: tp,
		Logger:    logger,
	})

	runner := loop.New(interval, loop.Deps{Cycles: engine, Logger: logger})
	if err := runner.Run(ctx); err != nil {
		logger.Error("Fatal error", "error", err)
		return err
	}

	logger.Info("Interrupted", "loops", runner.Count())
	return nil
}
