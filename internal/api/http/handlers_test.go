package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/beelearnt/beelearnt-assessments/internal/assessment"
	authmw "github.com/beelearnt/beelearnt-assessments/internal/auth/middleware"
	"github.com/beelearnt/beelearnt-assessments/internal/db"
	"github.com/beelearnt/beelearnt-assessments/internal/rbac"
)

func init() { bcryptCost = bcrypt.MinCost }

// asUser stands in for the JWT middleware: X-User / X-Role headers become
// the request identity.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authmw.WithSubject(r.Context(), r.Header.Get("X-User"))
		ctx = rbac.WithRole(ctx, r.Header.Get("X-Role"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func attemptRouter(t *testing.T) (http.Handler, assessment.Store) {
	t.Helper()
	store := assessment.NewInMemoryStore()
	def := assessment.Assessment{
		ID:    "sci-gr6",
		Title: "Natural Sciences",
		Sections: []assessment.Section{{ID: "s", Questions: []assessment.Question{
			{AssessmentQuestionID: "q1", Kind: assessment.KindMultipleChoice, Options: []string{"Solid", "Gas"}, CorrectAnswer: "Gas", Points: 1},
			{AssessmentQuestionID: "q2", Kind: assessment.KindShortAnswer, CorrectAnswer: "photosynthesis", Points: 1},
		}}},
	}
	if err := store.PutAssessment(context.Background(), def); err != nil {
		t.Fatal(err)
	}
	svc := assessment.NewService(store, store)
	r := chi.NewRouter()
	r.Use(asUser)
	r.Post("/assessments", UploadAssessmentHandler(store))
	r.Get("/assessments", ListAssessmentsHandler(store))
	r.Get("/assessments/{assessmentID}", GetAssessmentHandler(store))
	r.Post("/assessments/{assessmentID}/start", StartAttemptHandler(svc))
	r.Put("/attempts/{attemptID}/answer", SaveAnswerHandler(svc))
	r.Post("/attempts/{attemptID}/submit", SubmitAttemptHandler(svc))
	r.Get("/attempts/{attemptID}", GetAttemptHandler(svc))
	r.Get("/attempts", ListAttemptsHandler(svc))
	return r, store
}

func call(h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
		req.Header.Set("X-Role", rbac.RoleStudent)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAttemptHandlers(t *testing.T) {
	h, _ := attemptRouter(t)

	rec := call(h, http.MethodPost, "/assessments/sci-gr6/start", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous start: %d", rec.Code)
	}

	rec = call(h, http.MethodPost, "/assessments/sci-gr6/start", "u1", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	var p assessment.StartPayload
	_ = json.NewDecoder(rec.Body).Decode(&p)
	if strings.Contains(rec.Body.String(), "photosynthesis") {
		t.Fatal("answer key in start payload")
	}

	rec = call(h, http.MethodPost, "/assessments/sci-gr6/start", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: %d", rec.Code)
	}

	answer := "/attempts/" + p.AttemptID + "/answer"
	cases := []struct {
		name, body string
		want       int
	}{
		{"ok", `{"assessmentQuestionId":"q2","answer":"Photosynthesis"}`, http.StatusOK},
		{"clear", `{"assessmentQuestionId":"q1","answer":""}`, http.StatusOK},
		{"missing answer", `{"assessmentQuestionId":"q1"}`, http.StatusBadRequest},
		{"missing question", `{"answer":"Gas"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
		{"not an option", `{"assessmentQuestionId":"q1","answer":"Plasma"}`, http.StatusBadRequest},
		{"too long", `{"assessmentQuestionId":"q2","answer":"` + strings.Repeat("a", assessment.MaxAnswerLength+1) + `"}`, http.StatusBadRequest},
		{"body over cap", `{"assessmentQuestionId":"q2","answer":"` + strings.Repeat("a", maxJSONBody) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := call(h, http.MethodPut, answer, "u1", tc.body); rec.Code != tc.want {
				t.Fatalf("%.80s: %d, want %d (%.200s)", tc.body, rec.Code, tc.want, rec.Body)
			}
		})
	}
	if rec := call(h, http.MethodPut, "/attempts/nope/answer", "u1", `{"assessmentQuestionId":"q1","answer":"Gas"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown attempt: %d", rec.Code)
	}

	rec = call(h, http.MethodPost, "/attempts/"+p.AttemptID+"/submit", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d", rec.Code)
	}
	var res assessment.Result
	_ = json.NewDecoder(rec.Body).Decode(&res)
	if res.Score != 1 || res.MaxScore != 2 || res.Percentage != 50 {
		t.Fatalf("result = %+v", res)
	}

	if rec := call(h, http.MethodPut, answer, "u1", `{"assessmentQuestionId":"q1","answer":"Gas"}`); rec.Code != http.StatusConflict {
		t.Fatalf("answer after submit: %d", rec.Code)
	}

	rec = call(h, http.MethodGet, "/attempts/"+p.AttemptID, "u1", "")
	var v assessment.AttemptView
	_ = json.NewDecoder(rec.Body).Decode(&v)
	if rec.Code != http.StatusOK || v.Status != assessment.StatusSubmitted || v.Result == nil {
		t.Fatalf("get: %d %+v", rec.Code, v)
	}

	if rec := call(h, http.MethodGet, "/attempts?status=bogus", "u1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: %d", rec.Code)
	}
	rec = call(h, http.MethodGet, "/attempts?status=submitted", "u1", "")
	var list []assessment.AttemptSummary
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if len(list) != 1 || list[0].ID != p.AttemptID {
		t.Fatalf("list = %+v", list)
	}
}

func TestAssessmentHandlers(t *testing.T) {
	h, _ := attemptRouter(t)

	body := `{"id":"hist-gr7","title":"History: Kingdoms of Southern Africa","sections":[{"id":"s","questions":[
		{"assessmentQuestionId":"h1","type":"short_answer","questionText":"Capital of Mapungubwe?","correctAnswer":"Mapungubwe Hill","points":2}]}]}`
	if rec := call(h, http.MethodPost, "/assessments", "tutor", body); rec.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body)
	}
	bad := `{"id":"x","title":"Bad","sections":[{"id":"s","questions":[{"assessmentQuestionId":"h1","type":"true_false","points":1}]}]}`
	if rec := call(h, http.MethodPost, "/assessments", "tutor", bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: %d", rec.Code)
	}
	noKey := `{"id":"geo","title":"Capitals","sections":[{"id":"s","questions":[{"assessmentQuestionId":"g1","type":"multiple_choice","options":["Paris","London"],"correctAnswer":"Rome","points":1}]}]}`
	if rec := call(h, http.MethodPost, "/assessments", "tutor", noKey); rec.Code != http.StatusBadRequest {
		t.Fatalf("key outside options: %d", rec.Code)
	}

	rec := call(h, http.MethodGet, "/assessments?q=kingdoms", "u1", "")
	var list []assessment.AssessmentSummary
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if len(list) != 1 || list[0].ID != "hist-gr7" || list[0].MaxScore != 2 {
		t.Fatalf("list = %+v", list)
	}

	rec = call(h, http.MethodGet, "/assessments/hist-gr7", "tutor", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Mapungubwe Hill") {
		t.Fatalf("get: %d %s", rec.Code, rec.Body)
	}
	if rec := call(h, http.MethodGet, "/assessments/none", "tutor", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", rec.Code)
	}
}

func TestWriteErrorHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), errors.New("pq: password authentication failed"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("%d %q", rec.Code, rec.Body)
	}
	rec = httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), fmt.Errorf("attempt: %w", assessment.ErrConflict))
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflict: %d", rec.Code)
	}
}

func TestParseIntDefault(t *testing.T) {
	for in, want := range map[string]int{"": 7, "12": 12, "-1": 7, "abc": 7, "0": 0} {
		if got := parseIntDefault(in, 7); got != want {
			t.Errorf("parseIntDefault(%q) = %d, want %d", in, got, want)
		}
	}
}

func usersDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "users.db") + "?_pragma=busy_timeout(5000)"
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh
}

func TestBulkUpsertUsersJSON(t *testing.T) {
	dbh := usersDB(t)
	h := BulkUpsertUsersHandler(dbh)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/users/bulk", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`[{"id":"u1","username":"lerato","password":"pw1"},{"id":"u2","username":"mr-dube","role":"tutor","password":"pw2"}]`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"inserted":2`) {
		t.Fatalf("insert: %d %s", rec.Code, rec.Body)
	}
	var role string
	_ = dbh.QueryRow(`SELECT role FROM users WHERE id=$1`, "u1").Scan(&role)
	if role != rbac.RoleStudent {
		t.Fatalf("default role = %q", role)
	}

	rec = post(`[{"id":"u1","username":"lerato","role":"parent"}]`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"updated":1`) {
		t.Fatalf("update: %d %s", rec.Code, rec.Body)
	}

	if rec := post(`[{"id":"u3","username":"x","role":"teacher","password":"p"}]`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad role: %d", rec.Code)
	}
	if rec := post(`[{"id":"u4","username":"nopass"}]`); rec.Code != http.StatusBadRequest {
		t.Fatalf("new user without password: %d", rec.Code)
	}
	if rec := post(`[{"username":"noid","password":"p"}]`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id: %d", rec.Code)
	}
}

func TestBulkUpsertUsersCSV(t *testing.T) {
	dbh := usersDB(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "users.csv")
	_, _ = fw.Write([]byte("id,username,role,password\nu1,naledi,STUDENT,pw\nu2,mom,PARENT,pw\n"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/users/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	BulkUpsertUsersHandler(dbh).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"inserted":2`) {
		t.Fatalf("csv: %d %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	ListUsersHandler(dbh).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users?role=parent", nil))
	var users []map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&users)
	if len(users) != 1 || users[0]["username"] != "mom" {
		t.Fatalf("users = %+v", users)
	}
}

func TestRoleUpdateAndPassword(t *testing.T) {
	dbh := usersDB(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	for _, u := range [][3]string{{"a1", "root", rbac.RoleAdmin}, {"s1", "zola", rbac.RoleStudent}} {
		if _, err := dbh.Exec(`INSERT INTO users (id,username,password_hash,role,created_at) VALUES ($1,$2,$3,$4,0)`,
			u[0], u[1], string(hash), u[2]); err != nil {
			t.Fatal(err)
		}
	}

	r := chi.NewRouter()
	r.Use(asUser)
	r.Patch("/users/{userID}/role", AdminUpdateUserRoleHandler(dbh))
	r.Post("/users/change-password", ChangePasswordHandler(dbh))

	send := func(method, path, user, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(http.MethodPatch, "/users/zola/role", "a1", `{"role":"tutor"}`); code != http.StatusNoContent {
		t.Fatalf("promote: %d", code)
	}
	var role string
	_ = dbh.QueryRow(`SELECT role FROM users WHERE id='s1'`).Scan(&role)
	if role != rbac.RoleTutor {
		t.Fatalf("role = %q", role)
	}
	if code := send(http.MethodPatch, "/users/a1/role", "a1", `{"role":"student"}`); code != http.StatusBadRequest {
		t.Fatalf("demote last admin: %d", code)
	}
	if code := send(http.MethodPatch, "/users/ghost/role", "a1", `{"role":"student"}`); code != http.StatusNotFound {
		t.Fatalf("ghost: %d", code)
	}
	if code := send(http.MethodPatch, "/users/s1/role", "a1", `{"role":"teacher"}`); code != http.StatusBadRequest {
		t.Fatalf("invalid role: %d", code)
	}

	if code := send(http.MethodPost, "/users/change-password", "s1", `{"old_password":"wrong","new_password":"new-password"}`); code != http.StatusForbidden {
		t.Fatalf("wrong old password: %d", code)
	}
	if code := send(http.MethodPost, "/users/change-password", "s1", `{"old_password":"old-password","new_password":"short"}`); code != http.StatusBadRequest {
		t.Fatalf("short password: %d", code)
	}
	if code := send(http.MethodPost, "/users/change-password", "s1", `{"old_password":"old-password","new_password":"new-password"}`); code != http.StatusNoContent {
		t.Fatalf("change: %d", code)
	}
	var stored string
	_ = dbh.QueryRow(`SELECT password_hash FROM users WHERE id='s1'`).Scan(&stored)
	if bcrypt.CompareHashAndPassword([]byte(stored), []byte("new-password")) != nil {
		t.Fatal("password not updated")
	}
}
