package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Dominik5397/Team-Task-Manager/pkg/httputil"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
	"github.com/Dominik5397/Team-Task-Manager/pkg/task"
)

const (
	defaultRecentLimit = 10
	defaultSearchLimit = 50
	maxLimit           = 1000
)

// Handlers provides HTTP handlers for the change log API
type Handlers struct {
	service *Service
}

// NewHandlers creates new change log handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers change log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	r := router.PathPrefix("/api/changelog").Subrouter()

	r.HandleFunc("/changes", h.recordChanges).Methods("POST")
	r.HandleFunc("/entries", h.recordEntry).Methods("POST")
	r.HandleFunc("/task/{taskId}", h.taskHistory).Methods("GET")
	r.HandleFunc("/task/{taskId}/daterange", h.taskHistoryInRange).Methods("GET")
	r.HandleFunc("/task/{taskId}/recent", h.taskRecent).Methods("GET")
	r.HandleFunc("/task/{taskId}/field/{fieldName}", h.taskField).Methods("GET")
	r.HandleFunc("/task/{taskId}/export", h.exportTask).Methods("GET")
	r.HandleFunc("/entries/{id}", h.getEntry).Methods("GET")
	r.HandleFunc("/operation/{operationType}", h.byOperation).Methods("GET")
	r.HandleFunc("/user/{userId}", h.byActor).Methods("GET")
	r.HandleFunc("/field/{fieldName}", h.byField).Methods("GET")
	r.HandleFunc("/recent", h.recent).Methods("GET")
	r.HandleFunc("/search", h.search).Methods("GET")
	r.HandleFunc("/stats/task/{taskId}", h.taskStats).Methods("GET")
	r.HandleFunc("/stats/user/{userId}", h.actorStats).Methods("GET")
	r.HandleFunc("/top-actors", h.topActors).Methods("GET")
	r.HandleFunc("/dashboard", h.dashboard).Methods("GET")
	r.HandleFunc("/operation-types", h.operationTypes).Methods("GET")
}

// entryView adds the computed description to an entry
type entryView struct {
	*Entry
	OperationLabel string `json:"operation_label"`
	Description    string `json:"description"`
}

func views(entries []*Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{Entry: e, OperationLabel: e.Operation.Label(), Description: e.Describe()})
	}
	return out
}

// changesRequest carries one mutation: before is nil for a creation, after is nil for a deletion
type changesRequest struct {
	Before *task.Snapshot `json:"before"`
	After  *task.Snapshot `json:"after"`
	Actor  *task.User     `json:"actor"`
}

// recordChanges handles POST /api/changelog/changes
func (h *Handlers) recordChanges(w http.ResponseWriter, r *http.Request) {
	var req changesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	r = withActor(r, req.Actor)

	var (
		entries []*Entry
		err     error
	)
	switch {
	case req.After != nil:
		entries, err = h.service.LogTaskChanges(r.Context(), req.Before, req.After, req.Actor)
	case req.Before != nil:
		var entry *Entry
		entry, err = h.service.LogDeletion(r.Context(), req.Before, req.Actor)
		entries = []*Entry{entry}
	default:
		err = NewValidationError("after", "before or after snapshot is required")
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, views(entries))
}

type entryRequest struct {
	TaskID        int64      `json:"taskId"`
	FieldName     string     `json:"fieldName"`
	OldValue      *string    `json:"oldValue"`
	NewValue      *string    `json:"newValue"`
	OperationType string     `json:"operationType"`
	Actor         *task.User `json:"actor"`
	Note          *string    `json:"note"`
}

// recordEntry handles POST /api/changelog/entries
func (h *Handlers) recordEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	r = withActor(r, req.Actor)
	kind, ok := LookupOperationKind(req.OperationType)
	if !ok {
		httputil.WriteFieldError(w, "operationType", fmt.Sprintf("unknown operation type %q", req.OperationType))
		return
	}

	entry, err := h.service.LogChange(r.Context(), Change{
		TaskID:    req.TaskID,
		FieldName: req.FieldName,
		OldValue:  req.OldValue,
		NewValue:  req.NewValue,
		Operation: kind,
		Actor:     req.Actor,
		Note:      req.Note,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, entryView{Entry: entry, OperationLabel: entry.Operation.Label(), Description: entry.Describe()})
}

// withActor tags the request context so failures are logged with the acting user
func withActor(r *http.Request, actor *task.User) *http.Request {
	if actor == nil {
		return r
	}
	return r.WithContext(observability.WithActorID(r.Context(), actor.ID))
}

func (h *Handlers) taskHistory(w http.ResponseWriter, r *http.Request) {
	taskID, ok := httputil.ParsePathInt64OrError(w, r, "taskId")
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), taskID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, views(entries))
}

func (h *Handlers) taskHistoryInRange(w http.ResponseWriter, r *http.Request) {
	taskID, ok := httputil.ParsePathInt64OrError(w, r, "taskId")
	if !ok {
		return
	}
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	entries, err := h.service.HistoryBetween(r.Context(), taskID, from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, views(entries))
}

func (h *Handlers) taskRecent(w http.ResponseWriter, r *http.Request) {
	taskID, ok := httputil.ParsePathInt64OrError(w, r, "taskId")
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, defaultRecentLimit)
	if !ok {
		return
	}
	entries, err := h.service.RecentHistory(r.Context(), taskID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, views(entries))
}

func (h *Handlers) taskField(w http.ResponseWriter, r *http.Request) {
	taskID, ok := httputil.ParsePathInt64OrError(w, r, "taskId")
	if !ok {
		return
	}
	entries, err := h.service.ByTaskAndField(r.Context(), taskID, mux.Vars(r)["fieldName"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, views(entries))
}

// exportTask handles GET /api/changelog/task/{taskId}/export
func (h *Handlers) exportTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := httputil.ParsePathInt64OrError(w, r, "taskId")
	if !ok {
		return
	}

	formatStr := r.URL.Query().Get("format")
	if formatStr == "" {
		formatStr = string(ExportFormatJSON)
	}
	format, err := ParseExportFormat(formatStr)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	opts := DefaultExportOptions()
	opts.IncludeNulls = r.URL.Query().Get("nulls") == "true"

	data, err := h.service.ExportTaskHistory(r.Context(), taskID, format, opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=task-%d-history.%s", taskID, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handlers) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	entry, err := h.service.Store().Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, storageError("get", err))
		return
	}
	if entry == nil {
		httputil.WriteNotFound(w, "change log entry not found")
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, entryView{Entry: entry, OperationLabel: entry.Operation.Label(), Description: entry.Describe()})
}

// byOperation handles GET /api/changelog/operation/{operationType}, optionally bounded by fromDate/toDate
func (h *Handlers) byOperation(w http.ResponseWriter, r *http.Request) {
	kind, ok := LookupOperationKind(mux.Vars(r)["operationType"])
	if !ok {
		httputil.WriteFieldError(w, "operationType", "unknown operation type")
		return
	}

	var (
		entries []*Entry
		err     error
	)
	if r.URL.Query().Get("fromDate") != "" || r.URL.Query().Get("toDate") != "" {
		from, to, valid := parseRange(w, r)
		if !valid {
			return
		}
		entries, err = h.service.ByOperationBetween(r.Context(), kind, from, to)
	} else {
		entries, err = h.service.ByOperation(r.Context(), kind)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, views(entries))
}

func (h *Handlers) byActor(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}
	entries, err := h.service.ByActor(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, views(entries))
}

func (h *Handlers) byField(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ByField(r.Context(), mux.Vars(r)["fieldName"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, views(entries))
}

func (h *Handlers) recent(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 20)
	if !ok {
		return
	}
	entries, err := h.service.MostRecent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, views(entries))
}

// search handles GET /api/changelog/search
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	var (
		entries []*Entry
		err     error
	)
	if filter.NoteContains != "" && filter.TaskID == nil && filter.ActorID == nil &&
		filter.FieldName == "" && len(filter.Operations) == 0 && filter.From == nil && filter.To == nil {
		entries, err = h.service.TextSearch(r.Context(), filter.NoteContains, filter.Limit)
	} else {
		entries, err = h.service.Search(r.Context(), filter)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"results":   views(entries),
		"count":     len(entries),
		"filters":   r.URL.Query(),
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handlers) taskStats(w http.ResponseWriter, r *http.Request) {
	taskID, ok := httputil.ParsePathInt64OrError(w, r, "taskId")
	if !ok {
		return
	}
	stats, err := h.service.StatsForTask(r.Context(), taskID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, statsView(stats))
}

func (h *Handlers) actorStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}
	stats, err := h.service.StatsForActor(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, statsView(stats))
}

func statsView(s *AggregateStats) map[string]any {
	out := map[string]any{
		"stats":               s,
		"has_recent_activity": s.HasRecentActivity(),
		"is_active":           s.IsActive(),
	}
	if op, ok := s.MostFrequentOperation(); ok {
		out["most_frequent_operation"] = op
	}
	if field, ok := s.MostChangedField(); ok {
		out["most_changed_field"] = field
	}
	return out
}

func (h *Handlers) topActors(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultRecentLimit)
	if !ok {
		return
	}
	actors, err := h.service.TopActors(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, actors)
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.service.Dashboard(r.Context(), defaultRecentLimit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, dash)
}

func (h *Handlers) operationTypes(w http.ResponseWriter, _ *http.Request) {
	types := make(map[string]string, len(OperationKinds))
	for _, kind := range OperationKinds {
		types[string(kind)] = kind.Label()
	}
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"operation_types": types,
		"count":           len(types),
	})
}

// parseFilter parses the search filter from query parameters
func parseFilter(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	query := r.URL.Query()
	filter := Filter{
		FieldName:    query.Get("fieldName"),
		NoteContains: query.Get("q"),
	}

	var err error
	if filter.TaskID, err = httputil.ParseQueryInt64(r, "taskId"); err != nil {
		httputil.WriteFieldError(w, "taskId", err.Error())
		return filter, false
	}
	if filter.ActorID, err = httputil.ParseQueryInt64(r, "userId"); err != nil {
		httputil.WriteFieldError(w, "userId", err.Error())
		return filter, false
	}

	for _, raw := range query["operationType"] {
		kind, ok := LookupOperationKind(raw)
		if !ok {
			httputil.WriteFieldError(w, "operationType", fmt.Sprintf("unknown operation type %q", raw))
			return filter, false
		}
		filter.Operations = append(filter.Operations, kind)
	}

	for _, bound := range []struct {
		key string
		dst **time.Time
	}{{"fromDate", &filter.From}, {"toDate", &filter.To}} {
		if query.Get(bound.key) == "" {
			continue
		}
		t, err := httputil.ParseQueryTime(r, bound.key)
		if err != nil {
			httputil.WriteFieldError(w, bound.key, err.Error())
			return filter, false
		}
		*bound.dst = &t
	}

	limit, ok := parseLimit(w, r, defaultSearchLimit)
	if !ok {
		return filter, false
	}
	filter.Limit = limit

	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteFieldError(w, "offset", err.Error())
		return filter, false
	}
	return filter, true
}

func parseLimit(w http.ResponseWriter, r *http.Request, defaultVal int) (int, bool) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultVal)
	if err != nil {
		httputil.WriteFieldError(w, "limit", err.Error())
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, err := httputil.ParseQueryTime(r, "fromDate")
	if err != nil {
		httputil.WriteFieldError(w, "fromDate", err.Error())
		return time.Time{}, time.Time{}, false
	}
	to, err := httputil.ParseQueryTime(r, "toDate")
	if err != nil {
		httputil.WriteFieldError(w, "toDate", err.Error())
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// writeServiceError maps service errors to HTTP status codes
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		httputil.WriteFieldError(w, verr.Field, verr.Error())
		return
	}
	observability.FromContext(r.Context()).WithError(err).Error("Change log request failed")
	httputil.WriteInternalError(w, err)
}
