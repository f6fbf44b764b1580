package app

import (
	"fmt"
	"time"

	"github.com/Chative-docs-assistant/server/internal/chat"
	"github.com/Chative-docs-assistant/server/internal/core"
	"github.com/Chative-docs-assistant/server/internal/inference"
	"github.com/Chative-docs-assistant/server/internal/retrieval"
	"github.com/Chative-docs-assistant/server/internal/retry"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	pkgredis "github.com/Chative-docs-assistant/server/pkg/redis"
	"github.com/Chative-docs-assistant/server/pkg/sqlite"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type SessionConfig struct {
	Backend  string        `envconfig:"SESSION_BACKEND" default:"redis"`
	TTL      time.Duration `envconfig:"SESSION_TTL" default:"0s"`
	LockTTL  time.Duration `envconfig:"SESSION_LOCK_TTL" default:"10s"`
	LockWait time.Duration `envconfig:"SESSION_LOCK_WAIT" default:"10s"`
}

// Config defines every configurable parameter of the assistant, sourced from
// environment variables (loaded from .env for local runs).
type Config struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Session SessionConfig
	Redis   pkgredis.Config
	SQLite  sqlite.Config

	// LLM provider
	Gemini    inference.ClientConfig
	Inference inference.Config
	Retry     retry.Policy
	Retrieval retrieval.Config

	Chat   chat.Config
	Prompt chat.PromptConfig
}

// LoadConfig reads envFile (when present) into the environment and binds it.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			logx.Debug().Err(err).Str("file", envFile).Msg("Could not load env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}
