// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command ashfox runs the Ashfox MCP gateway and its pipeline worker.
//
// Usage:
//
//	ashfox serve                # gateway on :8787, /mcp
//	ashfox serve --with-worker  # gateway plus an embedded worker
//	ashfox worker               # standalone queue worker
//	ashfox trace summarize f    # inspect a recorded trace log
//
// Configuration comes from ASHFOX_* environment variables; flags
// override them. See the project README for the full list.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("ashfox: %v", err)
	}
}
