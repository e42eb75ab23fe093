package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beelearnt/beelearnt-assessments/internal/assessment"
)

// POST /assessments/{assessmentID}/start
// Creates the caller's attempt, or returns the open one with its saved answers.
func StartAttemptHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who := identityFrom(r)
		if who.UserID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		p, err := svc.Start(r.Context(), who, chi.URLParam(r, "assessmentID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusCreated
		if p.Resumed {
			status = http.StatusOK
		}
		respondJSON(w, status, p)
	}
}

type saveAnswerReq struct {
	AssessmentQuestionID string  `json:"assessmentQuestionId" validate:"required"`
	Answer               *string `json:"answer" validate:"required"`
}

type saveAnswerResp struct {
	AssessmentQuestionID string    `json:"assessmentQuestionId"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// PUT /attempts/{attemptID}/answer  { "assessmentQuestionId": "...", "answer": "..." }
// An empty answer clears the saved value.
func SaveAnswerHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveAnswerReq
		if !decodeJSON(w, r, &req) {
			return
		}
		ans, err := svc.Answer(r.Context(), chi.URLParam(r, "attemptID"), req.AssessmentQuestionID, *req.Answer)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, saveAnswerResp{
			AssessmentQuestionID: req.AssessmentQuestionID,
			UpdatedAt:            ans.UpdatedAt,
		})
	}
}

// POST /attempts/{attemptID}/submit
func SubmitAttemptHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Submit(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}
