// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

var (
	flagPort       int
	flagMCPPath    string
	flagTraceLog   string
	flagWithWorker bool
	flagLogDir     string
	flagLogLevel   string

	flagWorkerID   string
	flagPollMS     int
	flagWorkspaces []string

	rootCmd = &cobra.Command{
		Use:   "ashfox",
		Short: "Ashfox exposes a 3D model editor to AI agents over MCP",
		Long: `Ashfox is an MCP gateway for block-model editing: projects,
bones, cubes, textures, UV layout, animations, and export pipelines,
driven by JSON-RPC tools over HTTP with SSE event streams.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP gateway",
		RunE:  runServe,
	}

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Start a standalone pipeline worker",
		RunE:  runWorker,
	}

	traceCmd = &cobra.Command{
		Use:   "trace",
		Short: "Work with recorded tool trace logs",
	}

	traceSummarizeCmd = &cobra.Command{
		Use:   "summarize <file>",
		Short: "Print a summary of a trace log",
		Args:  cobra.ExactArgs(1),
		RunE:  runTraceSummarize,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run:   runVersion,
	}
)

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides ASHFOX_PORT)")
	serveCmd.Flags().StringVar(&flagMCPPath, "path", "", "MCP endpoint path (overrides ASHFOX_MCP_PATH)")
	serveCmd.Flags().StringVar(&flagTraceLog, "trace-log", "", "append tool calls to this trace log file")
	serveCmd.Flags().BoolVar(&flagWithWorker, "with-worker", false, "run an embedded pipeline worker")
	serveCmd.Flags().StringVar(&flagLogDir, "log-dir", "", "write JSON logs to this directory")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "minimum log level (debug|info|warn|error)")

	workerCmd.Flags().StringVar(&flagWorkerID, "worker-id", "", "worker id (overrides ASHFOX_WORKER_ID)")
	workerCmd.Flags().IntVar(&flagPollMS, "poll-ms", 0, "queue poll interval in ms (overrides ASHFOX_WORKER_POLL_MS)")
	workerCmd.Flags().StringSliceVar(&flagWorkspaces, "workspace", nil, "restrict to these workspace ids")
	workerCmd.Flags().StringVar(&flagLogDir, "log-dir", "", "write JSON logs to this directory")
	workerCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "minimum log level (debug|info|warn|error)")

	traceCmd.AddCommand(traceSummarizeCmd)
	rootCmd.AddCommand(serveCmd, workerCmd, traceCmd, versionCmd)
}
