package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beelearnt/beelearnt-assessments/internal/assessment"
)

// POST /assessments
// Creates or replaces a definition in the question bank. Attempts already
// started keep the snapshot they were started with.
func UploadAssessmentHandler(bank assessment.AssessmentCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a assessment.Assessment
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			badBody(w, err, "bad json")
			return
		}
		if err := bank.PutAssessment(r.Context(), a); err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": a.ID})
	}
}

// GET /assessments/{assessmentID}
// Full definition including answer keys; authoring roles only.
func GetAssessmentHandler(bank assessment.QuestionBank) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := bank.GetAssessment(r.Context(), chi.URLParam(r, "assessmentID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, a)
	}
}
