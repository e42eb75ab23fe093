package http

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beelearnt/beelearnt-assessments/internal/rbac"
)

type updateUserRoleReq struct {
	Role string `json:"role" validate:"required"`
}

// PATCH /users/{userID}/role  { "role": "TUTOR" }
// userID may be the id or the username.
func AdminUpdateUserRoleHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "userID")
		if target == "" {
			http.Error(w, "missing userID", http.StatusBadRequest)
			return
		}

		var req updateUserRoleReq
		if !decodeJSON(w, r, &req) {
			return
		}
		role := rbac.NormalizeRole(req.Role)
		if !validRole(role) {
			http.Error(w, "invalid role", http.StatusBadRequest)
			return
		}

		var id, curRole string
		err := db.QueryRowContext(r.Context(),
			`SELECT id, role FROM users WHERE id=$1 OR username=$1`, target).Scan(&id, &curRole)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		if rbac.NormalizeRole(curRole) == rbac.RoleAdmin && role != rbac.RoleAdmin {
			var adminCount int
			if err := db.QueryRowContext(r.Context(),
				`SELECT COUNT(1) FROM users WHERE role=$1`, rbac.RoleAdmin).Scan(&adminCount); err != nil {
				writeError(w, r, err)
				return
			}
			if adminCount <= 1 {
				http.Error(w, "cannot demote the last admin", http.StatusBadRequest)
				return
			}
		}

		if _, err := db.ExecContext(r.Context(),
			`UPDATE users SET role=$2 WHERE id=$1`, id, role); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func validRole(role string) bool {
	switch role {
	case rbac.RoleStudent, rbac.RoleParent, rbac.RoleTutor, rbac.RoleAdmin:
		return true
	}
	return false
}
