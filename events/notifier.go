// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

// Package events emits structured notifications for routing decisions,
// cascade stage transitions, and budget violations. Consumers of these
// events (dashboards, audit pipelines) are entirely external; the core's
// correctness never depends on anyone receiving them.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Event types emitted by the core
const (
	TypeRoutingDecision   = "routing.decision"
	TypeCascadeTransition = "cascade.transition"
	TypeBudgetViolation   = "budget.violation"
	TypeOutcomeTracked    = "outcome.tracked"
)

// Event is one structured notification
type Event struct {
	Type      string                 `json:"type"`
	ProjectID string                 `json:"project_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Notifier delivers events to an external consumer. Delivery is
// best-effort; implementations must not block the routing path.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Close() error
}

// LogNotifier writes events as JSON lines to the process log
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the event
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	n.logger.Printf("[EVENT] %s", data)
	return nil
}

// Close is a no-op for the log notifier
func (n *LogNotifier) Close() error {
	return nil
}

// NopNotifier discards all events
type NopNotifier struct{}

// Notify discards the event
func (NopNotifier) Notify(ctx context.Context, event Event) error { return nil }

// Close is a no-op
func (NopNotifier) Close() error { return nil }
