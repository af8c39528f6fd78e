// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

/*
Command routerd runs the CodeCompanion adaptive routing service.

Routerd selects the best executor for each incoming task by combining
learned per-executor capability, Thompson-sampling exploration, budget
enforcement and live load, then pushes produced artifacts through a
staged quality cascade and feeds completed outcomes back into the
learners.

# Usage

	routerd [-config path/to/config.yaml]

# Environment Variables

Optional:
  - PORT: HTTP server port (default: 8080)
  - DATABASE_URL: PostgreSQL connection string (in-memory store when unset)
  - REDIS_ADDR: Redis address for event publishing
  - REDIS_PASSWORD, REDIS_DB, EVENTS_CHANNEL: Redis notifier settings
  - JWT_SECRET: HS256 secret for API auth (auth disabled when unset)
  - EXECUTOR_PRICING_JSON: per-executor cost overrides
  - CORS_ORIGINS: comma-separated allowed origins (default: *)

# API

	POST /api/v1/route              route a task to an executor
	POST /api/v1/outcomes           report a completed task outcome
	GET  /api/v1/executors/status   executor load and posterior stats
	PUT  /api/v1/router/weights     adjust scoring weights
	GET  /api/v1/budget/{project_id} project usage against tier limits
	GET  /health                    service health
	GET  /prometheus                metrics
*/
package main
