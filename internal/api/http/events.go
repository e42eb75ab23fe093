package http

import (
	"net/http"
	"strconv"

	syncx "github.com/beelearnt/beelearnt-assessments/internal/sync"
)

// GET /events?after=0&limit=100
// Pages through the event log for a downstream consumer.
func ListEventsHandler(repo *syncx.EventRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var after int64
		if s := r.URL.Query().Get("after"); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil || v < 0 {
				http.Error(w, "bad after", http.StatusBadRequest)
				return
			}
			after = v
		}
		limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
		if limit > 1000 {
			limit = 1000
		}
		list, err := repo.Since(r.Context(), after, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}
