package assessment

import (
	"context"
	"time"
)

type ListOpts struct {
	Q      string
	Limit  int
	Offset int
}

type AttemptListOpts struct {
	AssessmentID string
	UserID       string // forced to the caller for students
	Status       Status // optional: in_progress|submitted
	Limit        int
	Offset       int
}

// QuestionBank is the read side of assessment definitions. GetAssessment
// returns the full definition, answer keys included.
type QuestionBank interface {
	GetAssessment(ctx context.Context, id string) (Assessment, error)
}

// AssessmentCatalog is the admin side of the question bank.
type AssessmentCatalog interface {
	QuestionBank
	PutAssessment(ctx context.Context, a Assessment) error
	ListAssessments(ctx context.Context, opts ListOpts) ([]AssessmentSummary, error)
}

// ScoreFunc grades a claimed attempt. It runs inside Finalize, after the
// status has moved to submitted and before the result is persisted.
type ScoreFunc func(a Attempt) Result

type AttemptStore interface {
	// FindInProgress returns the open attempt for (userID, assessmentID) or ErrNotFound.
	FindInProgress(ctx context.Context, userID, assessmentID string) (Attempt, error)
	// CreateOrResume inserts a. When an in-progress attempt already exists for
	// the same user and assessment it is returned instead, with created=false.
	CreateOrResume(ctx context.Context, a Attempt) (stored Attempt, created bool, err error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	// UpsertAnswer fails with ErrConflict once the attempt is submitted.
	UpsertAnswer(ctx context.Context, attemptID, questionID string, ans Answer) error
	// Finalize moves in_progress -> submitted exactly once. Later calls get the
	// stored result back with finalized=false.
	Finalize(ctx context.Context, attemptID string, at time.Time, score ScoreFunc) (res Result, finalized bool, err error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
}

// Store is everything the SQL and in-memory backends provide.
type Store interface {
	AssessmentCatalog
	AttemptStore
}
