package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/beelearnt/beelearnt-assessments/internal/assessment"
)

// GET /assessments?q=...&limit=50&offset=0
func ListAssessmentsHandler(bank assessment.AssessmentCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := bank.ListAssessments(r.Context(), assessment.ListOpts{
			Q:      strings.TrimSpace(r.URL.Query().Get("q")),
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
