// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"
	"time"
)

// captureOutput redirects the standard logger while fn runs and returns
// what it wrote.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prevOut := log.Writer()
	prevFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	}()
	fn()
	return buf.String()
}

func decodeEntry(t *testing.T, out string) LogEntry {
	t.Helper()
	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v\noutput: %s", err, out)
	}
	return entry
}

func TestLogEntryFields(t *testing.T) {
	l := New("router")

	out := captureOutput(t, func() {
		l.Info("proj-1", "task-1", "decision made", map[string]interface{}{
			"executor_id": "exec-a",
		})
	})

	entry := decodeEntry(t, out)
	if entry.Level != INFO {
		t.Errorf("Level = %s, want INFO", entry.Level)
	}
	if entry.Component != "router" {
		t.Errorf("Component = %q, want router", entry.Component)
	}
	if entry.ProjectID != "proj-1" || entry.TaskID != "task-1" {
		t.Errorf("scoping fields wrong: project=%q task=%q", entry.ProjectID, entry.TaskID)
	}
	if entry.Message != "decision made" {
		t.Errorf("Message = %q", entry.Message)
	}
	if entry.Fields["executor_id"] != "exec-a" {
		t.Errorf("Fields = %+v", entry.Fields)
	}
	if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
		t.Errorf("Timestamp %q not RFC3339: %v", entry.Timestamp, err)
	}
}

func TestLogLevels(t *testing.T) {
	l := New("cascade")

	cases := []struct {
		level LogLevel
		emit  func()
	}{
		{DEBUG, func() { l.Debug("p", "", "m", nil) }},
		{INFO, func() { l.Info("p", "", "m", nil) }},
		{WARN, func() { l.Warn("p", "", "m", nil) }},
		{ERROR, func() { l.Error("p", "", "m", nil) }},
	}
	for _, tc := range cases {
		out := captureOutput(t, tc.emit)
		if entry := decodeEntry(t, out); entry.Level != tc.level {
			t.Errorf("Level = %s, want %s", entry.Level, tc.level)
		}
	}
}

func TestInfoWithDuration(t *testing.T) {
	l := New("router")

	out := captureOutput(t, func() {
		l.InfoWithDuration("proj-1", "task-1", "route complete", 12.5, nil)
	})

	entry := decodeEntry(t, out)
	if entry.Fields["duration_ms"] != 12.5 {
		t.Errorf("duration_ms = %v, want 12.5", entry.Fields["duration_ms"])
	}
}

func TestErrorWithKind(t *testing.T) {
	l := New("feedback")

	out := captureOutput(t, func() {
		l.ErrorWithKind("proj-1", "task-1", "persist failed", "store_unavailable",
			errors.New("connection refused"), nil)
	})

	entry := decodeEntry(t, out)
	if entry.Level != ERROR {
		t.Errorf("Level = %s, want ERROR", entry.Level)
	}
	if entry.Fields["error_kind"] != "store_unavailable" {
		t.Errorf("error_kind = %v", entry.Fields["error_kind"])
	}
	if entry.Fields["error"] != "connection refused" {
		t.Errorf("error = %v", entry.Fields["error"])
	}
}

func TestEmptyTaskIDOmitted(t *testing.T) {
	l := New("governor")

	out := captureOutput(t, func() {
		l.Warn("proj-1", "", "budget nearing limit", nil)
	})

	if strings.Contains(out, `"task_id"`) {
		t.Errorf("empty task_id should be omitted: %s", out)
	}
}
