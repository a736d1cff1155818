// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Request size limits. Bodies at the cap are accepted; one byte more is
// rejected with 413.
const (
	MaxBodyBytes   = 5_000_000
	MaxHeaderBytes = 16 * 1024
)

// SupportedProtocolVersions lists the MCP protocol revisions this
// gateway speaks. The first entry is the server default.
var SupportedProtocolVersions = []string{"2025-06-18", "2025-03-26"}

// Config is the gateway runtime configuration.
type Config struct {
	Port    int    `validate:"required,min=1,max=65535"`
	MCPPath string `validate:"required,startswith=/"`

	// GatewayURL, when set, forwards tools/call to an upstream gateway
	// instead of the local backend.
	GatewayURL string `validate:"omitempty,url"`

	// SessionTTL evicts idle MCP sessions.
	SessionTTL time.Duration `validate:"required"`

	// PipelineBackend selects the native pipeline store: memory or
	// persistence.
	PipelineBackend string `validate:"required,oneof=memory persistence"`

	// DBProvider / StorageProvider / PersistencePreset select the
	// persistence backend layout when PipelineBackend is persistence.
	DBProvider        string
	StorageProvider   string
	PersistencePreset string

	// DataDir is the on-disk root for badger and trace logs.
	DataDir string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8787,
		MCPPath:         "/mcp",
		SessionTTL:      30 * time.Minute,
		PipelineBackend: "memory",
		DBProvider:      "badger",
		DataDir:         "./data",
	}
}

// LoadConfig reads the environment over the defaults and validates the
// result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	cfg.Port = getEnvInt("ASHFOX_PORT", cfg.Port)
	cfg.MCPPath = getEnvString("ASHFOX_MCP_PATH", cfg.MCPPath)
	cfg.GatewayURL = getEnvString("ASHFOX_GATEWAY_URL", cfg.GatewayURL)
	cfg.PipelineBackend = getEnvString("ASHFOX_NATIVE_PIPELINE_BACKEND", cfg.PipelineBackend)
	cfg.DBProvider = getEnvString("ASHFOX_DB_PROVIDER", cfg.DBProvider)
	cfg.StorageProvider = getEnvString("ASHFOX_STORAGE_PROVIDER", cfg.StorageProvider)
	cfg.PersistencePreset = getEnvString("ASHFOX_PERSISTENCE_PRESET", cfg.PersistencePreset)
	cfg.DataDir = getEnvString("ASHFOX_DATA_DIR", cfg.DataDir)
	if sec := getEnvInt("ASHFOX_SESSION_TTL_SEC", 0); sec > 0 {
		cfg.SessionTTL = time.Duration(sec) * time.Second
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("gateway config: %w", err)
	}
	return cfg, nil
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
