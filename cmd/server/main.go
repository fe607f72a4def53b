// Package main provides the entry point for the djinnbot orchestration core
//
// @title DjinnBot Core API
// @version 0.1.0
// @description Orchestration core for autonomous AI agents: run dispatch, agent
// @description lifecycle, session event streaming, inter-agent messaging, and
// @description GitHub-driven assignment routing.
// @license.name Proprietary
// @host localhost:3002
// @BasePath /
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description OAuth 2.0 access token (format: "Bearer <token>")
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/djinnbot/core/domain/agents"
	"github.com/djinnbot/core/domain/githubapp"
	"github.com/djinnbot/core/domain/health"
	"github.com/djinnbot/core/domain/inbox"
	"github.com/djinnbot/core/domain/retrieval"
	"github.com/djinnbot/core/domain/runs"
	"github.com/djinnbot/core/domain/scheduler"
	"github.com/djinnbot/core/domain/sessions"
	"github.com/djinnbot/core/domain/tasks"
	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/internal/database"
	"github.com/djinnbot/core/internal/layout"
	"github.com/djinnbot/core/internal/migrate"
	"github.com/djinnbot/core/internal/server"
	"github.com/djinnbot/core/internal/tracing"
	"github.com/djinnbot/core/pkg/auth"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
)

func main() {
	// Load .env files if present (for local development). Order matters:
	// .env.local overrides .env — Load() won't clobber existing vars, Overload() will.
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		bus.Module,
		server.Module,
		tracing.Module,
		auth.Module,
		layout.Module,

		// Domain modules
		health.Module,
		agents.Module,
		sessions.Module,
		githubapp.Module,
		inbox.Module,
		tasks.Module,
		runs.Module,
		retrieval.Module,
		scheduler.Module,
	).Run()
}
