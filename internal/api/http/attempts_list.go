package http

import (
	"net/http"
	"strings"

	"github.com/beelearnt/beelearnt-assessments/internal/assessment"
)

// GET /attempts?assessment_id=...&user_id=...&status=...&limit=50&offset=0
// Callers without attempt:view-all only ever see their own attempts; the
// service overrides user_id for them.
func ListAttemptsHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		status := assessment.Status(strings.TrimSpace(q.Get("status")))
		if status != "" && status != assessment.StatusInProgress && status != assessment.StatusSubmitted {
			http.Error(w, "bad status", http.StatusBadRequest)
			return
		}
		list, err := svc.ListAttempts(r.Context(), identityFrom(r), assessment.AttemptListOpts{
			AssessmentID: strings.TrimSpace(q.Get("assessment_id")),
			UserID:       strings.TrimSpace(q.Get("user_id")),
			Status:       status,
			Limit:        parseIntDefault(q.Get("limit"), 50),
			Offset:       parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}
