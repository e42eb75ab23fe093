package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/beelearnt/beelearnt-assessments/internal/assessment"
	authmw "github.com/beelearnt/beelearnt-assessments/internal/auth/middleware"
	"github.com/beelearnt/beelearnt-assessments/internal/rbac"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request body caps. An answer is at most MaxAnswerLength runes, so 1 MiB
// leaves room for JSON escaping. Definitions and user imports get more.
const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 8 << 20
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors to status codes. Anything unrecognised is a
// 500 and its text stays in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, assessment.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, assessment.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, assessment.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("[http] %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// decodeJSON decodes the body into v and runs its validate tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badBody(w, err, "bad json")
		return false
	}
	if err := validate.Struct(v); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

// badBody answers a failed body read: 413 past the size cap, else 400.
func badBody(w http.ResponseWriter, err error, msg string) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, msg, http.StatusBadRequest)
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return fe.Field() + ": failed " + fe.Tag()
	}
	return err.Error()
}

func identityFrom(r *http.Request) assessment.Identity {
	return assessment.Identity{
		UserID: authmw.SubjectFromContext(r.Context()),
		Role:   rbac.RoleFromContext(r.Context()),
	}
}
