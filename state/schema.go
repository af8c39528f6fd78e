// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the DDL for the routing core's tables. Idempotent so the
// service can apply it at startup.
const schema = `
CREATE TABLE IF NOT EXISTS bandit_arms (
	executor_id     TEXT PRIMARY KEY,
	alpha           DOUBLE PRECISION NOT NULL,
	beta            DOUBLE PRECISION NOT NULL,
	pulls           BIGINT NOT NULL DEFAULT 0,
	total_reward    DOUBLE PRECISION NOT NULL DEFAULT 0,
	context_weights JSONB,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS project_usage (
	project_id   TEXT PRIMARY KEY,
	tokens       BIGINT NOT NULL DEFAULT 0,
	concurrent   INTEGER NOT NULL DEFAULT 0,
	spend_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	requests     BIGINT NOT NULL DEFAULT 0,
	window_start TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS budget_violations (
	id          BIGSERIAL PRIMARY KEY,
	project_id  TEXT NOT NULL,
	tier        TEXT NOT NULL,
	dimension   TEXT NOT NULL,
	observed    DOUBLE PRECISION NOT NULL,
	limit_value DOUBLE PRECISION NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_decisions (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	task_type     TEXT NOT NULL,
	executor_id   TEXT NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	quality_score DOUBLE PRECISION NOT NULL,
	cost_score    DOUBLE PRECISION NOT NULL,
	latency_score DOUBLE PRECISION NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	alternatives  JSONB,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_routing_decisions_task ON routing_decisions(task_id);

CREATE TABLE IF NOT EXISTS task_outcomes (
	id             BIGSERIAL PRIMARY KEY,
	task_id        TEXT NOT NULL,
	executor_id    TEXT NOT NULL,
	project_id     TEXT NOT NULL,
	task_type      TEXT NOT NULL,
	complexity     DOUBLE PRECISION NOT NULL,
	success        BOOLEAN NOT NULL,
	quality_score  DOUBLE PRECISION NOT NULL,
	execution_secs DOUBLE PRECISION NOT NULL,
	tokens_used    INTEGER NOT NULL,
	cost_usd       DOUBLE PRECISION NOT NULL,
	error_kind     TEXT,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_outcomes_type ON task_outcomes(task_type, created_at);
CREATE INDEX IF NOT EXISTS idx_task_outcomes_executor ON task_outcomes(executor_id, created_at);
`

// EnsureSchema creates the core's tables if they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
