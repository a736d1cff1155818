// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/services/editor/adapter"
	"github.com/ashfoxhq/ashfox/services/gateway"
	"github.com/ashfoxhq/ashfox/services/gateway/tracelog"
	"github.com/ashfoxhq/ashfox/services/pipeline"
	"github.com/ashfoxhq/ashfox/services/pipeline/worker"
)

// Version is stamped at build time.
var Version = "2.1.0"

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := gateway.LoadConfig()
	if err != nil {
		return err
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagMCPPath != "" {
		cfg.MCPPath = flagMCPPath
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(flagLogLevel),
		LogDir:  flagLogDir,
		Service: "gateway",
	})
	defer logger.Close()

	service, err := gateway.New(cfg, adapter.Null{}, logger)
	if err != nil {
		return err
	}

	if flagTraceLog != "" {
		file, err := os.OpenFile(flagTraceLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return fmt.Errorf("open trace log: %w", err)
		}
		defer file.Close()
		recorder, err := tracelog.NewRecorder(file, Version, nil)
		if err != nil {
			return err
		}
		service.WithRecorder(recorder)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(ctx) })

	if flagWithWorker {
		store, closeRepo, err := openPipelineStore(cfg, logger)
		if err != nil {
			return err
		}
		defer closeRepo()
		w := worker.New(store, service.Tools(), os.Getenv("ASHFOX_WORKER_ID"), logger)
		group.Go(func() error {
			err := w.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	return group.Wait()
}

// openPipelineStore builds the job store on the configured backend.
func openPipelineStore(cfg gateway.Config, logger *logging.Logger) (*pipeline.Store, func(), error) {
	if cfg.PipelineBackend == "persistence" {
		repo, err := pipeline.NewBadgerRepository(pipeline.BadgerConfig{
			Path:       filepath.Join(cfg.DataDir, "pipeline"),
			SyncWrites: true,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open pipeline repository: %w", err)
		}
		return pipeline.NewStore(repo, logger), func() { _ = repo.Close() }, nil
	}
	return pipeline.NewStore(pipeline.NewMemoryRepository(), logger), func() {}, nil
}
