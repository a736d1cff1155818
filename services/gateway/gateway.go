// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway assembles the MCP server: tool service, compound
// router, session store, metrics, and the HTTP surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/services/editor/adapter"
	"github.com/ashfoxhq/ashfox/services/editor/proxy"
	"github.com/ashfoxhq/ashfox/services/editor/tools"
	"github.com/ashfoxhq/ashfox/services/gateway/handlers"
	"github.com/ashfoxhq/ashfox/services/gateway/mcpsession"
	"github.com/ashfoxhq/ashfox/services/gateway/telemetry"
	"github.com/ashfoxhq/ashfox/services/gateway/tracelog"
)

// Service is the assembled gateway.
type Service struct {
	cfg      Config
	logger   *logging.Logger
	engine   *gin.Engine
	sessions *mcpsession.Store
	handlers *handlers.Handlers
	metrics  *telemetry.Metrics
	tools    *tools.Service
}

// New wires the gateway. The editor port is the live editor bridge;
// pass adapter.Null{} for a headless deployment.
func New(cfg Config, editor adapter.EditorPort, logger *logging.Logger) (*Service, error) {
	if editor == nil {
		editor = adapter.Null{}
	}
	if logger == nil {
		logger = logging.Default()
	}

	toolService := tools.NewService(editor, logger, tools.Options{
		AutoAttachActiveProject: true,
	})
	router := proxy.New(toolService, logger)
	sessions := mcpsession.NewStore(cfg.SessionTTL, logger)
	metrics := telemetry.New()

	hs := handlers.NewHandlers(router, toolService.Registry(), sessions, logger).
		WithMetrics(metrics).
		WithUpstream(cfg.GatewayURL).
		WithLimits(handlers.Limits{
			MaxBodyBytes:   MaxBodyBytes,
			MaxHeaderBytes: MaxHeaderBytes,
		}).
		WithProtocols(SupportedProtocolVersions)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	mcp := engine.Group(cfg.MCPPath)
	handlers.RegisterRoutes(mcp, hs)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		sessionCount, streamCount := sessions.Counts()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ready",
			"sessions": sessionCount,
			"streams":  streamCount,
		})
	})
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	return &Service{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		sessions: sessions,
		handlers: hs,
		metrics:  metrics,
		tools:    toolService,
	}, nil
}

// WithRecorder attaches a trace recorder to the MCP endpoint.
func (s *Service) WithRecorder(rec *tracelog.Recorder) *Service {
	s.handlers.WithRecorder(rec)
	return s
}

// Handlers exposes the MCP handlers for event publishing.
func (s *Service) Handlers() *handlers.Handlers { return s.handlers }

// Engine exposes the gin engine for tests.
func (s *Service) Engine() *gin.Engine { return s.engine }

// Tools exposes the tool service for in-process callers such as the
// pipeline worker.
func (s *Service) Tools() *tools.Service { return s.tools }

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", s.cfg.Port),
		Handler:        s.engine,
		MaxHeaderBytes: MaxHeaderBytes,
	}

	go s.sessions.RunEviction(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "port", s.cfg.Port, "path", s.cfg.MCPPath)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway serve: %w", err)
	}
}
