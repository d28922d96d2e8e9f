// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command agentloopd is a thin demonstration harness for the agentic loop
// engine: it wires an in-memory chat client, a toy tool registry, a sqlite
// checkpointer, and the observability provider together, drives one
// message turn, and exposes /healthz and /metrics over HTTP so the wiring
// can be inspected while it runs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelrun/agentloop/pkg/agentconfig"
	"github.com/kestrelrun/agentloop/pkg/checkpoint"
	"github.com/kestrelrun/agentloop/pkg/checkpoint/sqlitestore"
	"github.com/kestrelrun/agentloop/pkg/logger"
	"github.com/kestrelrun/agentloop/pkg/loop"
	"github.com/kestrelrun/agentloop/pkg/message"
	"github.com/kestrelrun/agentloop/pkg/model"
	"github.com/kestrelrun/agentloop/pkg/observability"
)

// CLI defines agentloopd's command-line interface, grounded on the
// teacher's kong-based cmd/hector CLI shape.
type CLI struct {
	Config    string `short:"c" help:"Path to an agentconfig YAML file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
	Port      int    `help:"Port for the /healthz and /metrics HTTP surface." default:"8088"`
	Prompt    string `help:"User prompt to drive the demo conversation." default:"What is 2 + 2, then say hello?"`
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("agentloopd"),
		kong.Description("Agentic loop engine demo harness"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, cli.LogFormat)
	log := logger.GetLogger()

	kctx.FatalIfErrorf(run(cli, log))
}

func run(cli CLI, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	cfg := &agentconfig.AgentConfiguration{}
	if cli.Config != "" {
		loaded, err := agentconfig.Load(cli.Config)
		if err != nil {
			return fmt.Errorf("agentloopd: load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg.SetDefaults()
	}

	provider, tp, mp, err := observability.NewProvider("agentloopd")
	if err != nil {
		return fmt.Errorf("agentloopd: observability: %w", err)
	}
	defer tp.Shutdown(ctx)
	defer mp.Shutdown(ctx)

	store, err := sqlitestore.Open(ctx, cfg.CheckpointDBPath)
	if err != nil {
		return fmt.Errorf("agentloopd: open checkpoint store: %w", err)
	}
	defer store.Close()

	registry := demoToolRegistry()
	client := newEchoChatClient(cfg.AvailableTools)

	processor := loop.NewProcessor(loop.ProcessorConfig{
		Registry:             registry,
		MaxParallelFunctions: cfg.MaxParallelFunctions,
		Retry:                loop.DefaultRetryConfig(),
		Logger:               log,
	})

	preparer := &loop.TurnPreparer{
		TargetMessageCount: cfg.TargetMessageCount,
		ReductionThreshold: cfg.ReductionThreshold,
		DefaultOptions: &model.Options{
			Tools: registry.Available(nil, nil),
		},
	}

	driver, err := loop.NewDriver(loop.DriverConfig{
		Config: loop.Configuration{
			MaxIterations:               cfg.MaxIterations,
			MaxConsecutiveFailures:      cfg.MaxConsecutiveFailures,
			MaxConsecutiveFunctionCalls: cfg.MaxConsecutiveFunctionCalls,
			TerminateOnUnknownCalls:     cfg.TerminatesOnUnknownCalls(),
			AvailableTools:              toolSet(cfg.AvailableTools),
		},
		ChatClient:          client,
		Processor:           processor,
		TurnPreparer:        preparer,
		Checkpointer:        store,
		CheckpointFrequency: checkpoint.Frequency(cfg.CheckpointFrequency),
		Tracer:              provider,
		Metrics:             provider,
		Logger:              log,
	})
	if err != nil {
		return fmt.Errorf("agentloopd: build driver: %w", err)
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Logger)
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cli.Port), Handler: mux}
	go func() {
		log.Info("http surface listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	thread := loop.NewMemoryThread()
	coord := loop.NewCoordinator()
	input := []*message.Message{message.New(message.RoleUser, message.Text(cli.Prompt))}

	for evt, err := range driver.Run(ctx, "demo-thread", thread, coord, cfg.AgentName, input, nil) {
		if err != nil {
			return fmt.Errorf("agentloopd: run: %w", err)
		}
		switch evt.Kind {
		case loop.KindTextDelta:
			fmt.Print(evt.Text)
		case loop.KindMessageTurnCompleted:
			fmt.Println()
			log.Info("turn completed", "reason", evt.Reason)
		case loop.KindToolCallStarted:
			log.Info("tool call started", "name", evt.FunctionName, "callId", evt.CallID)
		case loop.KindToolCallCompleted:
			log.Info("tool call completed", "name", evt.FunctionName, "callId", evt.CallID)
		}
	}

	return nil
}

// toolSet converts the configuration's ordered tool name list into the
// membership set loop.Configuration expects for lookups.
func toolSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
