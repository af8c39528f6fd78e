// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AidiJackson/codecompanion/config"
	"github.com/AidiJackson/codecompanion/orchestrator/budget"
)

// newTestServer assembles a server on the in-memory store with the log
// notifier and auth disabled
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DatabaseURL = ""
	cfg.Redis.Addr = ""
	cfg.JWTSecret = ""

	s, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestEvaluateEndpointApproves(t *testing.T) {
	s := newTestServer(t)

	artifact := uniformArtifact(0.97)
	artifact.Content = "final implementation"
	rec := postJSON(t, s.handleEvaluateArtifact, "/api/v1/artifacts/evaluate", EvaluateRequest{
		Artifact: *artifact,
		Tier:     budget.TierSimple,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EvaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StateApproved, resp.State)
	assert.True(t, resp.Outcome.Approved())
	assert.NotEmpty(t, resp.Artifact.Fingerprint)
}

func TestEvaluateEndpointRevisionRoundTrip(t *testing.T) {
	s := newTestServer(t)

	artifact := uniformArtifact(0.72)
	artifact.Content = "draft implementation"
	rec := postJSON(t, s.handleEvaluateArtifact, "/api/v1/artifacts/evaluate", EvaluateRequest{
		Artifact: *artifact,
		Tier:     budget.TierSimple,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EvaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StageInitialProducer, resp.State)
	assert.Equal(t, 1, resp.Artifact.Revisions)
	require.NotEmpty(t, resp.Artifact.Fingerprint)

	// resubmitting the returned artifact untouched ends at a human
	rec = postJSON(t, s.handleEvaluateArtifact, "/api/v1/artifacts/evaluate", EvaluateRequest{
		Artifact: *resp.Artifact,
		Tier:     budget.TierSimple,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StateHumanReview, resp.State)
}

func TestEvaluateEndpointFailure(t *testing.T) {
	s := newTestServer(t)

	artifact := uniformArtifact(0.4)
	artifact.Content = "broken implementation"
	rec := postJSON(t, s.handleEvaluateArtifact, "/api/v1/artifacts/evaluate", EvaluateRequest{
		Artifact: *artifact,
		Tier:     budget.TierSimple,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EvaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StateFailed, resp.State)
}

func TestEvaluateEndpointRejectsUnknownTier(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s.handleEvaluateArtifact, "/api/v1/artifacts/evaluate", EvaluateRequest{
		Artifact: *uniformArtifact(0.9),
		Tier:     budget.Tier("platinum"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), budget.ErrUnknownTier.Error())
}

func TestEvaluateEndpointRequiresIdentifiers(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s.handleEvaluateArtifact, "/api/v1/artifacts/evaluate", EvaluateRequest{
		Artifact: CascadeArtifact{Content: "orphan"},
		Tier:     budget.TierSimple,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutcomeEndpointRejectsUnknownExecutor(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s.handleOutcome, "/api/v1/outcomes", TaskOutcome{
		TaskID:     "t-1",
		ExecutorID: "nonexistent",
		ProjectID:  "proj-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrUnknownExecutor.Error())
}

func TestOutcomeEndpointTracksCatalogExecutor(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s.handleOutcome, "/api/v1/outcomes", TaskOutcome{
		TaskID:       "t-1",
		ExecutorID:   "claude-sonnet",
		ProjectID:    "proj-1",
		TaskType:     TaskCodeGen,
		Success:      true,
		QualityScore: 0.9,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestBudgetEndpointRejectsUnknownTier(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/budget/proj-1?tier=platinum", nil)
	req = mux.SetURLVars(req, map[string]string{"project_id": "proj-1"})
	rec := httptest.NewRecorder()
	s.handleBudget(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), budget.ErrUnknownTier.Error())
}
