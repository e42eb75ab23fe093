package http

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/beelearnt/beelearnt-assessments/internal/rbac"
)

// bcryptCost is a var so tests can drop it to bcrypt.MinCost.
var bcryptCost = 12

type userRow struct {
	ID       string `json:"id" validate:"required"`
	Username string `json:"username" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=STUDENT PARENT TUTOR ADMIN"`
	Password string `json:"password,omitempty"` // plaintext, hashed on the way in
}

// POST /users/bulk
// Accepts a JSON array body, or multipart file= holding CSV or JSON.
func BulkUpsertUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []userRow
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			f, _, err := r.FormFile("file")
			if err != nil {
				badBody(w, err, "file required")
				return
			}
			defer f.Close()
			rows, err = readUserFile(f)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		} else if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			badBody(w, err, "expected JSON array or multipart file")
			return
		}

		for i := range rows {
			rows[i].Role = rbac.NormalizeRole(rows[i].Role)
			if rows[i].Role == "" {
				rows[i].Role = rbac.RoleStudent
			}
			if err := validate.Struct(rows[i]); err != nil {
				http.Error(w, fmt.Sprintf("row %d: %s", i+1, validationMessage(err)), http.StatusBadRequest)
				return
			}
		}
		if len(rows) == 0 {
			respondJSON(w, http.StatusOK, map[string]int{"inserted": 0, "updated": 0})
			return
		}

		ins, upd, err := upsertUsers(r.Context(), db, rows)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respondJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

// GET /users?role=TUTOR
func ListUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := rbac.NormalizeRole(r.URL.Query().Get("role"))
		var rows *sql.Rows
		var err error
		if role == "" {
			rows, err = db.QueryContext(r.Context(), `SELECT id,username,role FROM users ORDER BY username`)
		} else {
			rows, err = db.QueryContext(r.Context(), `SELECT id,username,role FROM users WHERE role=$1 ORDER BY username`, role)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer rows.Close()
		out := []map[string]string{}
		for rows.Next() {
			var id, u, role string
			if err := rows.Scan(&id, &u, &role); err != nil {
				writeError(w, r, err)
				return
			}
			out = append(out, map[string]string{"id": id, "username": u, "role": role})
		}
		if err := rows.Err(); err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// readUserFile sniffs JSON vs CSV by the first non-space byte.
func readUserFile(f io.Reader) ([]userRow, error) {
	br := bufio.NewReader(f)
	head, _ := br.Peek(512)
	head = bytes.TrimLeft(head, " \t\r\n")
	if len(head) == 0 {
		return nil, errors.New("empty file")
	}
	if head[0] == '[' {
		var rows []userRow
		if err := json.NewDecoder(br).Decode(&rows); err != nil {
			return nil, errors.New("bad json")
		}
		return rows, nil
	}
	rows, err := parseCSV(br)
	if err != nil {
		return nil, fmt.Errorf("bad csv: %w", err)
	}
	return rows, nil
}

func parseCSV(r io.Reader) ([]userRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range []string{"id", "username"} {
		if _, ok := idx[k]; !ok {
			return nil, errors.New("missing column: " + k)
		}
	}
	var rows []userRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := userRow{ID: rec[idx["id"]], Username: rec[idx["username"]]}
		if i, ok := idx["role"]; ok {
			row.Role = rec[i]
		}
		if i, ok := idx["password"]; ok {
			row.Password = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func upsertUsers(ctx context.Context, db *sql.DB, rows []userRow) (inserted, updated int, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	now := time.Now().UnixMilli()
	for _, u := range rows {
		var phash string
		if u.Password != "" {
			b, e := bcrypt.GenerateFromPassword([]byte(u.Password), bcryptCost)
			if e != nil {
				return inserted, updated, e
			}
			phash = string(b)
		}

		var exists bool
		if err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=$1`, u.ID).Scan(new(int)); err == nil {
			exists = true
		} else if !errors.Is(err, sql.ErrNoRows) {
			return inserted, updated, err
		}
		if exists {
			if phash != "" {
				_, err = tx.ExecContext(ctx, `UPDATE users SET username=$1, role=$2, password_hash=$3 WHERE id=$4`,
					u.Username, u.Role, phash, u.ID)
			} else {
				_, err = tx.ExecContext(ctx, `UPDATE users SET username=$1, role=$2 WHERE id=$3`,
					u.Username, u.Role, u.ID)
			}
			if err != nil {
				return inserted, updated, err
			}
			updated++
			continue
		}
		if phash == "" {
			return inserted, updated, errors.New("password required for new user: " + u.Username)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, username, password_hash, role, created_at) VALUES ($1,$2,$3,$4,$5)`,
			u.ID, u.Username, phash, u.Role, now); err != nil {
			return inserted, updated, err
		}
		inserted++
	}
	return inserted, updated, nil
}
