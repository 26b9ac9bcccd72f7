package retention

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
	"github.com/Dominik5397/Team-Task-Manager/pkg/httputil"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
)

const defaultCleanupDays = 90

// Handlers exposes the manual cleanup endpoint
type Handlers struct {
	manager *Manager
}

// NewHandlers creates retention handlers
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RegisterRoutes registers DELETE /api/changelog/cleanup
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/changelog/cleanup", h.cleanup).Methods("DELETE")
}

func (h *Handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.ParseQueryInt(r, "daysOld", defaultCleanupDays)
	if err != nil {
		httputil.WriteFieldError(w, "daysOld", err.Error())
		return
	}

	res, err := h.manager.Run(r.Context(), days)
	if err != nil {
		var verr *audit.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteFieldError(w, verr.Field, verr.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("Change log cleanup failed")
		httputil.WriteInternalError(w, err)
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"operation":       "cleanup",
		"deletedEntries":  res.Deleted,
		"archivedEntries": res.Archived,
		"olderThanDays":   days,
		"cutoff":          res.Cutoff,
		"timestamp":       time.Now().UTC(),
		"message":         fmt.Sprintf("Deleted %d old change log entries", res.Deleted),
	})
}
