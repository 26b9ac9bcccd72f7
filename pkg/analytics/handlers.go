package analytics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
	"github.com/Dominik5397/Team-Task-Manager/pkg/httputil"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
)

const maxActivityLimit = 100

// Handlers provides HTTP handlers for analytics
type Handlers struct {
	engine *Engine
}

// NewHandlers creates new analytics handlers
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes registers analytics routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	r := router.PathPrefix("/api/analytics").Subrouter()

	r.HandleFunc("/task-summary", h.taskSummary).Methods("GET")
	r.HandleFunc("/user-stats", h.userStats).Methods("GET")
	r.HandleFunc("/dashboard", h.dashboard).Methods("GET")
	r.HandleFunc("/task-distribution", h.distribution).Methods("GET")
	r.HandleFunc("/progress-tracking", h.progressTracking).Methods("GET")
	r.HandleFunc("/progress-tracking/recent", h.recentProgress).Methods("GET")
	r.HandleFunc("/performance-metrics", h.performanceMetrics).Methods("GET")
	r.HandleFunc("/recent-activity", h.recentActivity).Methods("GET")
	r.HandleFunc("/trend-data", h.trendData).Methods("GET")
	r.HandleFunc("/completion-forecast", h.forecast).Methods("GET")
	r.HandleFunc("/widgets", h.widgets).Methods("GET")
	r.HandleFunc("/quick-stats", h.quickStats).Methods("GET")
	r.HandleFunc("/changelog-dashboard", h.changeLogDashboard).Methods("GET")
	r.HandleFunc("/health-check", h.healthCheck).Methods("GET")
}

// respond writes result, or maps err to a status code
func respond[T any](w http.ResponseWriter, r *http.Request, result T, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handlers) taskSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.TaskSummary(r.Context())
	respond(w, r, summary, err)
}

func (h *Handlers) userStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.UserSummary(r.Context())
	respond(w, r, summary, err)
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.engine.Dashboard(r.Context())
	respond(w, r, dash, err)
}

func (h *Handlers) distribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.engine.Distribution(r.Context())
	respond(w, r, dist, err)
}

// progressTracking handles GET /api/analytics/progress-tracking?fromDate=2024-01-01&toDate=2024-01-31
func (h *Handlers) progressTracking(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseDates(w, r)
	if !ok {
		return
	}
	progress, err := h.engine.ProgressTracking(r.Context(), from, to)
	respond(w, r, progress, err)
}

// recentProgress covers the last 30 days
func (h *Handlers) recentProgress(w http.ResponseWriter, r *http.Request) {
	to := h.engine.today()
	progress, err := h.engine.ProgressTracking(r.Context(), to.AddDate(0, 0, -dashboardWindowDays), to)
	respond(w, r, progress, err)
}

func (h *Handlers) performanceMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.engine.PerformanceMetrics(r.Context())
	respond(w, r, metrics, err)
}

func (h *Handlers) recentActivity(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	feed, err := h.engine.RecentActivity(r.Context(), limit)
	respond(w, r, feed, err)
}

func (h *Handlers) trendData(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseDates(w, r)
	if !ok {
		return
	}
	trend, err := h.engine.TrendData(r.Context(), from, to)
	respond(w, r, trend, err)
}

func (h *Handlers) forecast(w http.ResponseWriter, r *http.Request) {
	forecast, err := h.engine.CompletionForecast(r.Context())
	respond(w, r, forecast, err)
}

func (h *Handlers) widgets(w http.ResponseWriter, r *http.Request) {
	widgets, err := h.engine.Widgets(r.Context())
	respond(w, r, widgets, err)
}

func (h *Handlers) quickStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.QuickStats(r.Context())
	respond(w, r, stats, err)
}

func (h *Handlers) changeLogDashboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	dash, err := h.engine.ChangeLogDashboard(r.Context(), limit)
	respond(w, r, dash, err)
}

func (h *Handlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	report := h.engine.HealthCheck(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	_ = httputil.WriteJSON(w, status, report)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultActivityLimit)
	if err != nil {
		httputil.WriteFieldError(w, "limit", err.Error())
		return 0, false
	}
	return min(limit, maxActivityLimit), true
}

func parseDates(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, err := httputil.ParseQueryDate(r, "fromDate")
	if err != nil {
		httputil.WriteFieldError(w, "fromDate", err.Error())
		return time.Time{}, time.Time{}, false
	}
	to, err := httputil.ParseQueryDate(r, "toDate")
	if err != nil {
		httputil.WriteFieldError(w, "toDate", err.Error())
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// writeError maps engine errors to HTTP status codes
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *audit.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteFieldError(w, verr.Field, verr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteErrorMessage(w, http.StatusGatewayTimeout, "analytics query timed out")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Analytics request failed")
		httputil.WriteInternalError(w, err)
	}
}
