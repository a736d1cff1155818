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
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/services/editor/adapter"
	"github.com/ashfoxhq/ashfox/services/editor/tools"
	"github.com/ashfoxhq/ashfox/services/gateway"
	"github.com/ashfoxhq/ashfox/services/gateway/tracelog"
	"github.com/ashfoxhq/ashfox/services/pipeline/worker"
)

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := gateway.LoadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(flagLogLevel),
		LogDir:  flagLogDir,
		Service: "worker",
	})
	defer logger.Close()

	workerID := flagWorkerID
	if workerID == "" {
		workerID = os.Getenv("ASHFOX_WORKER_ID")
	}
	pollMS := flagPollMS
	if pollMS == 0 {
		if v, err := strconv.Atoi(os.Getenv("ASHFOX_WORKER_POLL_MS")); err == nil {
			pollMS = v
		}
	}

	store, closeRepo, err := openPipelineStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	// The standalone worker drives its own headless tool service.
	backend := tools.NewService(adapter.Null{}, logger, tools.Options{
		AutoAttachActiveProject: true,
	})

	w := worker.New(store, backend, workerID, logger).
		WithWorkspaceFilter(flagWorkspaces)
	if pollMS > 0 {
		w.WithPollInterval(time.Duration(pollMS) * time.Millisecond)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker starting", "id", w.ID(), "backend", cfg.PipelineBackend)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runTraceSummarize(cmd *cobra.Command, args []string) error {
	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	trace, err := tracelog.Parse(file)
	if err != nil {
		return err
	}

	fmt.Printf("trace: schema v%d, created %s\n", trace.Header.SchemaVersion, trace.Header.CreatedAt)
	if trace.Header.PluginVersion != "" {
		fmt.Printf("plugin: %s\n", trace.Header.PluginVersion)
	}
	fmt.Printf("steps: %d\n", len(trace.Steps))

	byOp := map[string]int{}
	failures := 0
	for _, step := range trace.Steps {
		byOp[step.Op]++
		if ok, found := step.Response["ok"].(bool); found && !ok {
			failures++
		}
	}
	for op, count := range byOp {
		fmt.Printf("  %-28s %d\n", op, count)
	}
	fmt.Printf("failures: %d\n", failures)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Println("ashfox", Version)
}
