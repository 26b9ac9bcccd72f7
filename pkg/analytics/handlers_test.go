package analytics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
)

func setupRouter(t *testing.T, engine *Engine) *mux.Router {
	t.Helper()
	router := mux.NewRouter()
	NewHandlers(engine).RegisterRoutes(router)
	return router
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandlers_Endpoints(t *testing.T) {
	f := newFixture(t)
	f.seedTeam(t)
	router := setupRouter(t, f.engine)

	tests := []struct {
		target string
		key    string
		want   any
	}{
		{"/api/analytics/task-summary", "total_tasks", 4.0},
		{"/api/analytics/user-stats", "total_users", 3.0},
		{"/api/analytics/task-distribution", "assignment_rate", 75.0},
		{"/api/analytics/performance-metrics", "team_productivity", 0.67},
		{"/api/analytics/completion-forecast", "estimated_completion_date", "2024-05-23"},
		{"/api/analytics/quick-stats", "completion_rate", 50.0},
		{"/api/analytics/progress-tracking?fromDate=2024-05-07&toDate=2024-05-10", "modified_tasks_count", 4.0},
		{"/api/analytics/progress-tracking/recent", "from_date", "2024-04-10"},
		{"/api/analytics/trend-data?fromDate=2024-05-07&toDate=2024-05-10", "total_changes", 6.0},
		{"/api/analytics/changelog-dashboard?limit=2", "recent_changes_count", 2.0},
		{"/api/analytics/health-check", "status", StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(router, tt.target)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, decode(t, rec)[tt.key])
		})
	}
}

func TestHandlers_Dashboard(t *testing.T) {
	f := newFixture(t)
	f.seedTeam(t)
	router := setupRouter(t, f.engine)

	rec := get(router, "/api/analytics/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	for _, key := range []string{"task_summary", "user_summary", "recent_activity", "progress_tracking", "task_distribution", "performance_metrics"} {
		assert.Contains(t, body, key)
	}

	rec = get(router, "/api/analytics/widgets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["recent_activity"], widgetActivity)
}

func TestHandlers_RecentActivity(t *testing.T) {
	f := newFixture(t)
	f.seedTeam(t)
	router := setupRouter(t, f.engine)

	rec := get(router, "/api/analytics/recent-activity?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var feed []Activity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed, 2)
	assert.Equal(t, "Release", feed[0].TaskTitle)

	rec = get(router, "/api/analytics/recent-activity")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Len(t, feed, 6)
}

func TestHandlers_BadRequests(t *testing.T) {
	router := setupRouter(t, newFixture(t).engine)

	tests := []struct {
		name   string
		target string
		field  string
	}{
		{"missing fromDate", "/api/analytics/progress-tracking?toDate=2024-05-10", "fromDate"},
		{"malformed toDate", "/api/analytics/progress-tracking?fromDate=2024-05-01&toDate=10-05-2024", "toDate"},
		{"inverted range", "/api/analytics/progress-tracking?fromDate=2024-05-10&toDate=2024-05-01", "fromDate"},
		{"trend too long", "/api/analytics/trend-data?fromDate=2020-01-01&toDate=2024-05-10", "toDate"},
		{"bad limit", "/api/analytics/recent-activity?limit=many", "limit"},
		{"negative limit", "/api/analytics/changelog-dashboard?limit=-1", "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(router, tt.target)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.field, decode(t, rec)["field"])
		})
	}
}

func TestHandlers_Failures(t *testing.T) {
	t.Run("internal error", func(t *testing.T) {
		engine := NewEngine(audit.NewService(audit.NewMemoryStore()), failingCounts{err: errors.New("db down")})
		rec := get(setupRouter(t, engine), "/api/analytics/task-summary")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("timeout", func(t *testing.T) {
		engine := NewEngine(audit.NewService(audit.NewMemoryStore()), failingCounts{},
			WithQueryTimeout(10*time.Millisecond))
		rec := get(setupRouter(t, engine), "/api/analytics/quick-stats")
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("unhealthy", func(t *testing.T) {
		engine := NewEngine(audit.NewService(audit.NewMemoryStore()), failingCounts{err: errors.New("db down")})
		rec := get(setupRouter(t, engine), "/api/analytics/health-check")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, StatusUnhealthy, decode(t, rec)["status"])
	})
}
