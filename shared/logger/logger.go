// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured logging scoped to a component
type Logger struct {
	Component  string
	InstanceID string
	Host       string
}

// LogEntry represents a structured log entry with the fields required for
// per-project log aggregation
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Host       string                 `json:"host"`
	ProjectID  string                 `json:"project_id"`
	TaskID     string                 `json:"task_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	// Instance ID is set during deployment
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Host:       host,
	}
}

// Log creates a structured log entry and writes it to stdout
func (l *Logger) Log(level LogLevel, projectID, taskID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Host:       l.Host,
		ProjectID:  projectID,
		TaskID:     taskID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(projectID, taskID, message string, fields map[string]interface{}) {
	l.Log(INFO, projectID, taskID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(projectID, taskID, message string, fields map[string]interface{}) {
	l.Log(ERROR, projectID, taskID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(projectID, taskID, message string, fields map[string]interface{}) {
	l.Log(WARN, projectID, taskID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(projectID, taskID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, projectID, taskID, message, fields)
}

// InfoWithDuration logs an info message with a duration field
func (l *Logger) InfoWithDuration(projectID, taskID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(projectID, taskID, message, fields)
}

// ErrorWithKind logs an error together with its error kind
func (l *Logger) ErrorWithKind(projectID, taskID, message, kind string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["error_kind"] = kind
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(projectID, taskID, message, fields)
}
