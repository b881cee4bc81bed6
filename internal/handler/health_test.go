package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-engine/internal/llm"
)

type stubLLM struct{}

func (stubLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "ok"}, nil
}

func (stubLLM) Name() string { return "anthropic" }

func (stubLLM) Models() []string {
	return []string{"claude-3-5-haiku-20241022"}
}

func TestHealthAlwaysHealthy(t *testing.T) {
	h := NewHealthHandler(nil, stubLLM{})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadyReportsLLMProvider(t *testing.T) {
	h := NewHealthHandler(nil, stubLLM{})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string   `json:"status"`
		Provider string   `json:"llm_provider"`
		Models   []string `json:"llm_models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "anthropic", body.Provider)
	assert.Contains(t, body.Models, "claude-3-5-haiku-20241022")
}

func TestReadyWithoutLLMClient(t *testing.T) {
	h := NewHealthHandler(nil, nil)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}
