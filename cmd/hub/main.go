// Command hub wires the Agent Registry, Thread Store, Step Handler
// Router, Interrupt Subsystem, Event Bus, Checkpoint Store, and Run
// Executor into a single running core (§2, §9 "Global registries →
// explicitly-constructed services"). It exposes no transport of its
// own: the HTTP/SSE layer named in §1 is an external collaborator.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenthub/hub/internal/config"
	"github.com/agenthub/hub/pkg/bus"
	"github.com/agenthub/hub/pkg/checkpoint/inmem"
	engineinmem "github.com/agenthub/hub/pkg/engine/inmem"
	"github.com/agenthub/hub/pkg/executor"
	"github.com/agenthub/hub/pkg/handlers"
	"github.com/agenthub/hub/pkg/interrupt"
	"github.com/agenthub/hub/pkg/registry"
	regmemory "github.com/agenthub/hub/pkg/registry/store/memory"
	"github.com/agenthub/hub/pkg/telemetry"
	threadinmem "github.com/agenthub/hub/pkg/thread/inmem"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("hub: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewNoopMetrics()

	eventBus := bus.New(256, bus.DropOldest)

	threads := threadinmem.New()
	checkpoints := inmem.New()

	handlerRegistry := handlers.New()
	router := handlers.NewRouter(handlerRegistry, handlers.RouterConfig{
		MinConfidence:           cfg.MinRoutingConfidence,
		CapabilityFilterEnabled: true,
	})

	interrupts := interrupt.New(eventBus, logger)
	interrupts.StartExpirySweeper(ctx, 15*time.Second)
	defer interrupts.Stop()

	// Distributed mode (Temporal-backed engine, Redis/Mongo-backed
	// stores) is wired by swapping the Deps below for their durable
	// counterparts; the in-memory engine is the local-mode default.
	eng := engineinmem.New(
		engineinmem.WithLogger(logger),
		engineinmem.WithMetrics(metrics),
	)

	agentRegistry := registry.New(registry.Config{
		Store:   regmemory.New(),
		Bus:     eventBus,
		Logger:  logger,
		Metrics: metrics,
		Health: registry.HealthConfig{
			Interval:            cfg.HealthCheckInterval(),
			UnhealthyStreak:     cfg.UnhealthyThreshold,
			SuccessRateFloor:    0.9,
		},
	})
	agentRegistry.StartHealthProbes(ctx)
	defer agentRegistry.Stop()

	exec, err := executor.New(executor.Deps{
		Registry:    agentRegistry,
		Threads:     threads,
		Router:      router,
		Checkpoints: checkpoints,
		Interrupts:  interrupts,
		Engine:      eng,
		Bus:         eventBus,
		Logger:      logger,
		Metrics:     metrics,
	}, executor.Config{
		PoolSize:           cfg.PoolSize,
		CheckpointInterval: cfg.CheckpointInterval(),
		DefaultTimeout:     cfg.DefaultTimeout(),
		MaxTimeout:         cfg.MaxTimeout(),
		GraceWindow:        cfg.GraceWindow(),
	})
	if err != nil {
		log.Fatalf("hub: executor init: %v", err)
	}

	agentRegistry.SetRunCounter(exec)

	if err := exec.Recover(ctx); err != nil {
		logger.Warn(ctx, "hub: recovery failed", telemetry.KV{K: "error", V: err.Error()})
	}

	logger.Info(ctx, "hub: core started", telemetry.KV{K: "distributed", V: cfg.Distributed})
	<-ctx.Done()
	logger.Info(ctx, "hub: shutting down", telemetry.KV{K: "reason", V: ctx.Err().Error()})
}
