package assessment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps assessments and attempts in SQLite or Postgres.
//
// Concurrency:
//   - one open attempt per (user, assessment) is a partial unique index;
//   - answers and submit both claim the attempt row with a conditional UPDATE
//     on status='in_progress' before doing anything else, so a submit
//     serializes behind in-flight answer writes and later writes see 0 rows.
// Queries use $N placeholders, which both drivers accept.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) PutAssessment(ctx context.Context, a Assessment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	sj, err := json.Marshal(a.Sections)
	if err != nil {
		return err
	}
	var limit sql.NullInt64
	if a.TimeLimitMinutes != nil {
		limit = sql.NullInt64{Int64: int64(*a.TimeLimitMinutes), Valid: true}
	}
	now := time.Now().UTC().UnixMilli()
	_, err = s.db.ExecContext(ctx, `INSERT INTO assessments
		(id,title,type,time_limit_minutes,instructions,sections_json,question_count,max_score,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, type=EXCLUDED.type,
			time_limit_minutes=EXCLUDED.time_limit_minutes, instructions=EXCLUDED.instructions,
			sections_json=EXCLUDED.sections_json, question_count=EXCLUDED.question_count,
			max_score=EXCLUDED.max_score, updated_at=EXCLUDED.updated_at`,
		a.ID, a.Title, a.Type, limit, a.Instructions, string(sj), len(a.Questions()), a.MaxScore(), now, now)
	return err
}

func (s *SQLStore) GetAssessment(ctx context.Context, id string) (Assessment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,title,type,time_limit_minutes,instructions,sections_json,created_at
		FROM assessments WHERE id=$1`, id)
	var (
		a       Assessment
		limit   sql.NullInt64
		sjson   string
		created int64
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Type, &limit, &a.Instructions, &sjson, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assessment{}, fmt.Errorf("assessment %q: %w", id, ErrNotFound)
		}
		return Assessment{}, err
	}
	if limit.Valid {
		v := int(limit.Int64)
		a.TimeLimitMinutes = &v
	}
	if err := json.Unmarshal([]byte(sjson), &a.Sections); err != nil {
		return Assessment{}, fmt.Errorf("decode sections of %q: %w", id, err)
	}
	if a.Sections == nil {
		a.Sections = []Section{}
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	return a, nil
}

func (s *SQLStore) ListAssessments(ctx context.Context, opts ListOpts) ([]AssessmentSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q := "%" + strings.ToLower(strings.TrimSpace(opts.Q)) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT id,title,type,question_count,max_score,created_at
		FROM assessments WHERE LOWER(title) LIKE $1
		ORDER BY created_at DESC, id ASC LIMIT $2 OFFSET $3`, q, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AssessmentSummary{}
	for rows.Next() {
		var (
			sum     AssessmentSummary
			created int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Type, &sum.QuestionCount, &sum.MaxScore, &created); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

const attemptColumns = `id,assessment_id,user_id,status,snapshot_json,result_json,created_at,submitted_at`

func (s *SQLStore) FindInProgress(ctx context.Context, userID, assessmentID string) (Attempt, error) {
	return s.loadAttempt(ctx, s.db, `SELECT `+attemptColumns+` FROM attempts
		WHERE user_id=$1 AND assessment_id=$2 AND status='in_progress'`, userID, assessmentID)
}

func (s *SQLStore) CreateOrResume(ctx context.Context, a Attempt) (Attempt, bool, error) {
	snap, err := json.Marshal(a.Snapshot)
	if err != nil {
		return Attempt{}, false, err
	}
	created := a.CreatedAt.UnixMilli()
	res, err := s.db.ExecContext(ctx, `INSERT INTO attempts
		(id,assessment_id,user_id,status,snapshot_json,created_at,last_activity_at)
		VALUES ($1,$2,$3,'in_progress',$4,$5,$6)
		ON CONFLICT DO NOTHING`,
		a.ID, a.AssessmentID, a.UserID, string(snap), created, created)
	if err != nil {
		return Attempt{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Attempt{}, false, err
	}
	if n == 0 {
		// Lost the race to a concurrent start; hand back the winner.
		open, err := s.FindInProgress(ctx, a.UserID, a.AssessmentID)
		if errors.Is(err, ErrNotFound) {
			return Attempt{}, false, fmt.Errorf("attempt for %q changed concurrently: %w", a.AssessmentID, ErrConflict)
		}
		return open, false, err
	}
	a.Status = StatusInProgress
	if a.Answers == nil {
		a.Answers = map[string]Answer{}
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	return a, true, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	return s.loadAttempt(ctx, s.db, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, id)
}

func (s *SQLStore) UpsertAnswer(ctx context.Context, attemptID, questionID string, ans Answer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	at := ans.UpdatedAt.UnixMilli()
	res, err := tx.ExecContext(ctx, `UPDATE attempts SET last_activity_at=$1
		WHERE id=$2 AND status='in_progress'`, at, attemptID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		_ = tx.Rollback()
		return s.whyNotOpen(ctx, attemptID)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO attempt_answers (attempt_id,question_id,value,updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (attempt_id,question_id) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
		attemptID, questionID, ans.Value, at); err != nil {
		return err
	}
	return tx.Commit()
}

// whyNotOpen turns a zero-row claim into NotFound or Conflict.
func (s *SQLStore) whyNotOpen(ctx context.Context, attemptID string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM attempts WHERE id=$1`, attemptID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attempt %q: %w", attemptID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("attempt %q is %s: %w", attemptID, status, ErrConflict)
}

func (s *SQLStore) Finalize(ctx context.Context, attemptID string, at time.Time, score ScoreFunc) (Result, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	ms := at.UnixMilli()
	res, err := tx.ExecContext(ctx, `UPDATE attempts SET status='submitted', submitted_at=$1, last_activity_at=$2
		WHERE id=$3 AND status='in_progress'`, ms, ms, attemptID)
	if err != nil {
		return Result{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Result{}, false, err
	}
	if n == 0 {
		_ = tx.Rollback()
		prev, err := s.GetAttempt(ctx, attemptID)
		if err != nil {
			return Result{}, false, err
		}
		if prev.Result == nil {
			return Result{}, false, fmt.Errorf("attempt %q submitted without result: %w", attemptID, ErrConflict)
		}
		return *prev.Result, false, nil
	}

	// The row is ours now; read the answers under the same transaction.
	a, err := s.loadAttempt(ctx, tx, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, attemptID)
	if err != nil {
		return Result{}, false, err
	}
	out := score(a)
	rj, err := json.Marshal(out)
	if err != nil {
		return Result{}, false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE attempts SET score=$1, max_score=$2, result_json=$3 WHERE id=$4`,
		out.Score, out.MaxScore, string(rj), attemptID); err != nil {
		return Result{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, false, err
	}
	return out, true, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if opts.UserID != "" {
		add("user_id=$%d", opts.UserID)
	}
	if opts.AssessmentID != "" {
		add("assessment_id=$%d", opts.AssessmentID)
	}
	if opts.Status != "" {
		add("status=$%d", string(opts.Status))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + attemptColumns + ` FROM attempts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, max(opts.Offset, 0))
	q += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanAttempt reads attemptColumns. Answers are loaded separately.
func scanAttempt(sc scanner) (Attempt, error) {
	var (
		a         Attempt
		status    string
		snap      string
		result    sql.NullString
		created   int64
		submitted sql.NullInt64
	)
	if err := sc.Scan(&a.ID, &a.AssessmentID, &a.UserID, &status, &snap, &result, &created, &submitted); err != nil {
		return Attempt{}, err
	}
	a.Status = Status(status)
	a.CreatedAt = time.UnixMilli(created).UTC()
	if submitted.Valid {
		t := time.UnixMilli(submitted.Int64).UTC()
		a.SubmittedAt = &t
	}
	if err := json.Unmarshal([]byte(snap), &a.Snapshot); err != nil {
		return Attempt{}, fmt.Errorf("decode snapshot of %q: %w", a.ID, err)
	}
	if result.Valid && result.String != "" {
		var r Result
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return Attempt{}, fmt.Errorf("decode result of %q: %w", a.ID, err)
		}
		a.Result = &r
	}
	a.Answers = map[string]Answer{}
	return a, nil
}

func (s *SQLStore) loadAttempt(ctx context.Context, q querier, query string, args ...any) (Attempt, error) {
	a, err := scanAttempt(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, fmt.Errorf("attempt: %w", ErrNotFound)
		}
		return Attempt{}, err
	}
	rows, err := q.QueryContext(ctx, `SELECT question_id,value,updated_at FROM attempt_answers WHERE attempt_id=$1`, a.ID)
	if err != nil {
		return Attempt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			qid, val string
			updated  int64
		)
		if err := rows.Scan(&qid, &val, &updated); err != nil {
			return Attempt{}, err
		}
		a.Answers[qid] = Answer{Value: val, UpdatedAt: time.UnixMilli(updated).UTC()}
	}
	return a, rows.Err()
}
