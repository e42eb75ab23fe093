package assessment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/beelearnt/beelearnt-assessments/internal/grading"
)

const tracerName = "github.com/beelearnt/beelearnt-assessments/internal/assessment"

// Event types appended to the event log.
const (
	EventAttemptStarted   = "AttemptStarted"
	EventAttemptSubmitted = "AttemptSubmitted"
)

// Identity is the verified caller, passed in explicitly on every request.
type Identity struct {
	UserID string
	Role   string
}

// EventRecorder receives lifecycle events. Failures are logged, not returned.
type EventRecorder interface {
	Record(ctx context.Context, typ, key string, payload any) error
}

// Service is the attempt lifecycle manager: it owns the
// in_progress -> submitted state machine and the scoring rules.
type Service struct {
	bank     QuestionBank
	attempts AttemptStore
	grader   grading.Grader
	events   EventRecorder
	now      func() time.Time
	newID    func() (string, error)
	tracer   trace.Tracer
}

type ServiceOption func(*Service)

func WithGrader(g grading.Grader) ServiceOption    { return func(s *Service) { s.grader = g } }
func WithEvents(r EventRecorder) ServiceOption     { return func(s *Service) { s.events = r } }
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// WithIDGenerator replaces the attempt id source. Ids are bearer
// capabilities, so anything used here must be unguessable.
func WithIDGenerator(f func() (string, error)) ServiceOption {
	return func(s *Service) { s.newID = f }
}

func NewService(bank QuestionBank, attempts AttemptStore, opts ...ServiceOption) *Service {
	s := &Service{
		bank:     bank,
		attempts: attempts,
		grader:   grading.NewDefaultGrader(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    newAttemptID,
		tracer:   otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newAttemptID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("attempt id: %w", err)
	}
	return id.String(), nil
}

// Start creates an attempt or resumes the caller's open one.
func (s *Service) Start(ctx context.Context, who Identity, assessmentID string) (_ StartPayload, err error) {
	ctx, span := s.tracer.Start(ctx, "assessment.Start", trace.WithAttributes(
		attribute.String("assessment.id", assessmentID),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(who.UserID) == "" {
		return StartPayload{}, fmt.Errorf("user id required: %w", ErrInvalidArgument)
	}
	if strings.TrimSpace(assessmentID) == "" {
		return StartPayload{}, fmt.Errorf("assessment id required: %w", ErrInvalidArgument)
	}

	open, err := s.attempts.FindInProgress(ctx, who.UserID, assessmentID)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("attempt.id", open.ID), attribute.Bool("attempt.resumed", true))
		return newStartPayload(open, true), nil
	case !errors.Is(err, ErrNotFound):
		return StartPayload{}, err
	}

	def, err := s.bank.GetAssessment(ctx, assessmentID)
	if err != nil {
		return StartPayload{}, err
	}
	id, err := s.newID()
	if err != nil {
		return StartPayload{}, err
	}
	a := Attempt{
		ID:           id,
		UserID:       who.UserID,
		AssessmentID: assessmentID,
		Status:       StatusInProgress,
		CreatedAt:    s.now(),
		Answers:      map[string]Answer{},
		Snapshot:     def,
	}
	stored, created, err := s.attempts.CreateOrResume(ctx, a)
	if err != nil {
		return StartPayload{}, err
	}
	span.SetAttributes(attribute.String("attempt.id", stored.ID), attribute.Bool("attempt.resumed", !created))
	if created {
		s.record(ctx, EventAttemptStarted, stored.ID, map[string]any{
			"attemptId":    stored.ID,
			"assessmentId": stored.AssessmentID,
			"userId":       stored.UserID,
		})
	}
	return newStartPayload(stored, !created), nil
}

// Answer upserts one question's answer. An empty value clears it.
func (s *Service) Answer(ctx context.Context, attemptID, questionID, value string) (_ Answer, err error) {
	ctx, span := s.tracer.Start(ctx, "assessment.Answer", trace.WithAttributes(
		attribute.String("attempt.id", attemptID),
		attribute.String("question.id", questionID),
	))
	defer func() { endSpan(span, err) }()

	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return Answer{}, err
	}
	if a.Status != StatusInProgress {
		return Answer{}, fmt.Errorf("attempt %q already submitted: %w", attemptID, ErrConflict)
	}
	q, ok := a.Snapshot.Question(questionID)
	if !ok {
		return Answer{}, fmt.Errorf("question %q is not part of assessment %q: %w", questionID, a.AssessmentID, ErrInvalidArgument)
	}
	if err := validateAnswer(q, value); err != nil {
		return Answer{}, err
	}

	ans := Answer{Value: value, UpdatedAt: s.now()}
	if err := s.attempts.UpsertAnswer(ctx, attemptID, questionID, ans); err != nil {
		return Answer{}, err
	}
	return ans, nil
}

func validateAnswer(q Question, value string) error {
	if utf8.RuneCountInString(value) > MaxAnswerLength {
		return fmt.Errorf("answer exceeds %d characters: %w", MaxAnswerLength, ErrInvalidArgument)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("answer is not valid UTF-8: %w", ErrInvalidArgument)
	}
	if q.Kind == KindMultipleChoice && value != "" && !grading.MatchAny(value, q.Options) {
		return fmt.Errorf("answer %q is not an option of question %q: %w", value, q.AssessmentQuestionID, ErrInvalidArgument)
	}
	return nil
}

// Submit scores and closes the attempt. Retrying after success returns the
// stored result unchanged.
func (s *Service) Submit(ctx context.Context, attemptID string) (_ Result, err error) {
	ctx, span := s.tracer.Start(ctx, "assessment.Submit", trace.WithAttributes(
		attribute.String("attempt.id", attemptID),
	))
	defer func() { endSpan(span, err) }()

	at := s.now()
	res, finalized, err := s.attempts.Finalize(ctx, attemptID, at, func(a Attempt) Result {
		return s.score(ctx, a, at)
	})
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Bool("attempt.finalized", finalized),
		attribute.Float64("attempt.score", res.Score),
	)
	if finalized {
		s.record(ctx, EventAttemptSubmitted, attemptID, res)
	}
	return res, nil
}

func (s *Service) score(ctx context.Context, a Attempt, at time.Time) Result {
	res := Result{
		AttemptID:   a.ID,
		PerQuestion: []QuestionResult{},
		SubmittedAt: at,
	}
	for _, q := range a.Snapshot.Questions() {
		ans, answered := a.Answers[q.AssessmentQuestionID]
		answered = answered && ans.Value != ""
		qr := QuestionResult{
			AssessmentQuestionID: q.AssessmentQuestionID,
			Kind:                 q.Kind,
			Answered:             answered,
			Points:               q.Points,
		}
		res.MaxScore += q.Points

		g, err := s.grader.Grade(ctx, grading.Q{Type: string(q.Kind), Points: q.Points, AnswerKey: q.CorrectAnswer}, ans.Value)
		if err != nil {
			log.Printf("[assessment] grade attempt=%s question=%s: %v", a.ID, q.AssessmentQuestionID, err)
			qr.NeedsManualReview = true
		} else {
			qr.Correct = g.Correct
			qr.PointsAwarded = math.Min(g.AutoPoints, q.Points)
			// an unanswered essay has nothing to review
			qr.NeedsManualReview = g.NeedsManual && answered
		}
		res.Score += qr.PointsAwarded
		res.NeedsManualReview = res.NeedsManualReview || qr.NeedsManualReview
		res.PerQuestion = append(res.PerQuestion, qr)
	}
	if res.MaxScore > 0 {
		res.Percentage = int(math.Round(res.Score / res.MaxScore * 100))
	}
	res.Feedback = feedbackFor(res.Percentage)
	return res
}

func feedbackFor(pct int) string {
	switch {
	case pct >= 80:
		return "Excellent work. You are ready for the next lesson."
	case pct >= 50:
		return "Good effort. Review a few questions and try again."
	default:
		return "Keep practicing. A quick recap will help a lot."
	}
}

// AttemptView is the read model behind the results page.
type AttemptView struct {
	ID           string            `json:"attemptId"`
	AssessmentID string            `json:"assessmentId"`
	UserID       string            `json:"userId"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	SubmittedAt  *time.Time        `json:"submittedAt,omitempty"`
	Answers      map[string]Answer `json:"answers"`
	Result       *Result           `json:"result,omitempty"`
}

func (s *Service) GetAttempt(ctx context.Context, attemptID string) (AttemptView, error) {
	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return AttemptView{}, err
	}
	return AttemptView{
		ID:           a.ID,
		AssessmentID: a.AssessmentID,
		UserID:       a.UserID,
		Status:       a.Status,
		CreatedAt:    a.CreatedAt,
		SubmittedAt:  a.SubmittedAt,
		Answers:      a.Answers,
		Result:       a.Result,
	}, nil
}

type AttemptSummary struct {
	ID           string     `json:"attemptId"`
	AssessmentID string     `json:"assessmentId"`
	UserID       string     `json:"userId"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	SubmittedAt  *time.Time `json:"submittedAt,omitempty"`
	Score        *float64   `json:"score,omitempty"`
	MaxScore     *float64   `json:"maxScore,omitempty"`
}

// ListAttempts scopes students, parents and unknown roles to their own attempts.
func (s *Service) ListAttempts(ctx context.Context, who Identity, opts AttemptListOpts) ([]AttemptSummary, error) {
	if !CanViewAll(who.Role) {
		if who.UserID == "" {
			return nil, fmt.Errorf("user id required: %w", ErrInvalidArgument)
		}
		opts.UserID = who.UserID
	}
	list, err := s.attempts.ListAttempts(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]AttemptSummary, 0, len(list))
	for _, a := range list {
		sum := AttemptSummary{
			ID:           a.ID,
			AssessmentID: a.AssessmentID,
			UserID:       a.UserID,
			Status:       a.Status,
			CreatedAt:    a.CreatedAt,
			SubmittedAt:  a.SubmittedAt,
		}
		if a.Result != nil {
			score, maxScore := a.Result.Score, a.Result.MaxScore
			sum.Score, sum.MaxScore = &score, &maxScore
		}
		out = append(out, sum)
	}
	return out, nil
}

// CanViewAll reports whether a role may see other users' attempts.
func CanViewAll(role string) bool {
	switch strings.ToUpper(role) {
	case "ADMIN", "TUTOR":
		return true
	}
	return false
}

func (s *Service) record(ctx context.Context, typ, key string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, typ, key, payload); err != nil {
		log.Printf("[assessment] event %s for %s not recorded: %v", typ, key, err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
