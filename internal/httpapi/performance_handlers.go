package httpapi

import (
	"net/http"

	"garage.app/internal/apperr"
)

func (a *API) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		a.writeError(w, r, apperr.NotFound("no database configured"))
		return
	}
	writeSuccess(w, map[string]any{
		"dialect":     a.db.Dialect().Name(),
		"connected":   a.db.Connected(),
		"query_stats": a.db.QueryStats(),
		"pool":        a.db.PoolStats(),
	})
}

func (a *API) handleDatabaseReset(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		a.writeError(w, r, apperr.NotFound("no database configured"))
		return
	}
	a.db.ResetQueryStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "query statistics reset",
	})
}
