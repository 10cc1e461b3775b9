// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command investigate starts the Aleutian Investigate orchestrator.
//
// The orchestrator drives each question through refinement, parallel
// translation, execution, and consolidation by calling the agent service.
//
// Usage:
//
//	go run ./cmd/investigate
//	go run ./cmd/investigate -config investigate.yaml -port 12220
//
// Pointing at a remote agent service:
//
//	INVESTIGATE_AGENTS_URL=http://agents:8000 go run ./cmd/investigate
//
// Example requests:
//
//	# Health check
//	curl http://localhost:12220/v1/health
//
//	# Start an investigation
//	curl -X POST http://localhost:12220/v1/investigate \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "Who did 9876543210 call most in March?"}'
//
//	# Answer follow-up questions
//	curl -X POST http://localhost:12220/v1/investigate/continue \
//	  -H "Content-Type: application/json" \
//	  -d '{"conversation_id": "conv_...", "answer": "March 2024"}'
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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianInvestigate/services/ginutil"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/archive"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/config"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/memory"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
	"github.com/AleutianAI/AleutianInvestigate/services/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("INVESTIGATE_CONFIG"), "Path to YAML config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if err := run(*configPath, *port, *debug); err != nil {
		slog.Error("Aleutian Investigate exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, port int, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if debug {
		cfg.Server.Debug = true
		cfg.Telemetry.LogLevel = "debug"
	}

	logger := telemetry.NewLogger(cfg.Telemetry, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("Tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store := memory.NewStore(
		memory.WithLogger(logger),
		memory.WithMaxConversations(cfg.Memory.MaxConversations),
	)
	client := agents.NewClient(cfg.ClientConfig(logger))

	pipelineCfg := pipeline.Config{
		MaxClarificationRounds: cfg.Pipeline.MaxClarificationRounds,
		Logger:                 logger,
	}
	handlersCfg := investigate.HandlersConfig{
		Conversations: store,
		Health:        client,
		Logger:        logger,
	}

	// Archive is optional; the service runs without it.
	if cfg.ArchiveEnabled() {
		arch, err := archive.Open(cfg.Archive, logger)
		if err != nil {
			logger.Warn("Investigation archive unavailable, results will not be persisted",
				slog.String("path", cfg.Archive.Path),
				slog.String("error", err.Error()))
		} else {
			defer func() {
				if err := arch.Close(); err != nil {
					logger.Warn("Failed to close investigation archive", slog.String("error", err.Error()))
				}
			}()
			pipelineCfg.Archive = arch
			handlersCfg.Archive = arch
			logger.Info("Investigation archive opened", slog.String("path", cfg.Archive.Path))
		}
	}

	handlersCfg.Investigator = pipeline.NewOrchestrator(client, store, pipelineCfg)
	handlers := investigate.NewHandlers(handlersCfg)

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(ginutil.RequestID())
	if cfg.Server.Debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	investigate.RegisterRoutes(v1, handlers, ginutil.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))
	investigate.RegisterMetrics(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting Aleutian Investigate",
			slog.String("address", srv.Addr),
			slog.String("agents_url", cfg.Agents.BaseURL),
			slog.Int("max_clarification_rounds", cfg.Pipeline.MaxClarificationRounds),
			slog.Bool("archive", pipelineCfg.Archive != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down Aleutian Investigate")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
