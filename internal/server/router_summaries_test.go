package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gpu-mode/kernelboard/internal/auth"
	"github.com/gpu-mode/kernelboard/internal/summaries"
)

type recordingLister struct {
	options  []summaries.ListOptions
	response summaries.Response
	err      error
}

func (r *recordingLister) List(_ context.Context, options summaries.ListOptions) (summaries.Response, error) {
	r.options = append(r.options, options)
	return r.response, r.err
}

func newTestRouter(t *testing.T, lister *recordingLister, sessions SessionValidator) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		Summaries: lister,
		Sessions:  sessions,
		Admins:    stubAdminPolicy{allowed: "discord:1"},
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func serve(handler http.Handler, target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, http.NoBody))
	return recorder
}

func TestNewHTTPHandlerRequiresSummaries(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSummaries) {
		t.Fatalf("expected missing summaries error, got %v", err)
	}
}

func TestHealthz(t *testing.T) {
	recorder := serve(newTestRouter(t, &recordingLister{}, nil), "/healthz")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestLeaderboardSummariesSelectsStrategy(t *testing.T) {
	admin := stubSessionValidator{claims: auth.SessionClaims{UserID: "discord:1"}}
	visitor := stubSessionValidator{claims: auth.SessionClaims{UserID: "discord:2"}}

	testCases := []struct {
		name     string
		target   string
		sessions SessionValidator
		expected summaries.ListOptions
	}{
		{name: "default-uncached", target: "/api/leaderboard-summaries", sessions: admin, expected: summaries.ListOptions{}},
		{name: "beta-cached", target: "/api/leaderboard-summaries?use_beta", sessions: admin, expected: summaries.ListOptions{UseCache: true}},
		{name: "admin-force-refresh", target: "/api/leaderboard-summaries?use_beta=1&force_refresh_cache=1", sessions: admin, expected: summaries.ListOptions{UseCache: true, ForceRefresh: true}},
		{name: "visitor-force-refresh-ignored", target: "/api/leaderboard-summaries?use_beta&force_refresh_cache", sessions: visitor, expected: summaries.ListOptions{UseCache: true}},
		{name: "no-sessions-force-refresh-ignored", target: "/api/leaderboard-summaries?force_refresh_cache", sessions: nil, expected: summaries.ListOptions{}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			lister := &recordingLister{}
			recorder := serve(newTestRouter(t, lister, testCase.sessions), testCase.target)
			if recorder.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", recorder.Code)
			}
			if len(lister.options) != 1 || lister.options[0] != testCase.expected {
				t.Fatalf("expected options %+v, got %+v", testCase.expected, lister.options)
			}
		})
	}
}

func TestLeaderboardSummariesResponseShape(t *testing.T) {
	now := time.Date(2025, time.October, 1, 8, 0, 0, 0, time.UTC)
	gpu := "H100"
	lister := &recordingLister{response: summaries.Response{
		Leaderboards: []summaries.Summary{
			{ID: 2, Name: "matmul", GPUTypes: []string{"H100"}, PriorityGPUType: &gpu},
			{ID: 1, Name: "sort", GPUTypes: []string{}},
		},
		Now: now,
	}}
	recorder := serve(newTestRouter(t, lister, nil), "/api/leaderboard-summaries")

	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Leaderboards []map[string]interface{} `json:"leaderboards"`
			Now          time.Time                `json:"now"`
		} `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Code != 0 || payload.Message != "Success" {
		t.Fatalf("unexpected envelope %+v", payload)
	}
	if len(payload.Data.Leaderboards) != 2 || !payload.Data.Now.Equal(now) {
		t.Fatalf("unexpected data %+v", payload.Data)
	}
	second := payload.Data.Leaderboards[1]
	if topUsers, ok := second["top_users"]; !ok || topUsers != nil {
		t.Fatalf("expected top_users to be null, got %v", second["top_users"])
	}
	if gpuTypes, ok := second["gpu_types"].([]interface{}); !ok || len(gpuTypes) != 0 {
		t.Fatalf("expected empty gpu_types, got %v", second["gpu_types"])
	}
	if priority, ok := second["priority_gpu_type"]; !ok || priority != nil {
		t.Fatalf("expected priority_gpu_type to be null, got %v", priority)
	}
}

func TestLeaderboardSummariesFailure(t *testing.T) {
	lister := &recordingLister{err: errors.New("database unavailable")}
	recorder := serve(newTestRouter(t, lister, nil), "/api/leaderboard-summaries?use_beta")
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["error"] != "summaries_unavailable" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}
