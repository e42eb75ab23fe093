package assessment

import (
	"fmt"
	"strings"
	"time"

	"github.com/beelearnt/beelearnt-assessments/internal/grading"
)

// Kind is the question type. Only the three kinds below are accepted when an
// assessment is stored; the kind decides how an answer is validated and graded.
type Kind string

const (
	KindMultipleChoice Kind = "multiple_choice"
	KindShortAnswer    Kind = "short_answer"
	KindEssay          Kind = "essay"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMultipleChoice, KindShortAnswer, KindEssay:
		return true
	}
	return false
}

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
)

// MaxAnswerLength caps a single answer value, counted in runes.
const MaxAnswerLength = 10000

type Question struct {
	AssessmentQuestionID string   `json:"assessmentQuestionId"`
	QuestionBankItemID   string   `json:"questionBankItemId,omitempty"`
	Order                int      `json:"order"`
	Kind                 Kind     `json:"type"`
	Difficulty           string   `json:"difficulty,omitempty"` // easy|medium|hard
	Text                 string   `json:"questionText"`
	HTML                 string   `json:"questionHtml,omitempty"`
	ImageURL             string   `json:"imageUrl,omitempty"`
	Options              []string `json:"options,omitempty"` // multiple_choice only
	CorrectAnswer        string   `json:"correctAnswer,omitempty"`
	Points               float64  `json:"points"`
}

type Section struct {
	ID           string     `json:"id"`
	Title        string     `json:"title,omitempty"`
	Order        int        `json:"order"`
	Instructions string     `json:"instructions,omitempty"`
	Questions    []Question `json:"questions"`
}

type Assessment struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Type             string    `json:"type"` // test|exam|quiz|practice
	TimeLimitMinutes *int      `json:"timeLimitMinutes,omitempty"`
	Instructions     string    `json:"instructions,omitempty"`
	Sections         []Section `json:"sections"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
}

// Questions flattens sections in order.
func (a Assessment) Questions() []Question {
	var out []Question
	for _, s := range a.Sections {
		out = append(out, s.Questions...)
	}
	return out
}

func (a Assessment) Question(id string) (Question, bool) {
	for _, s := range a.Sections {
		for _, q := range s.Questions {
			if q.AssessmentQuestionID == id {
				return q, true
			}
		}
	}
	return Question{}, false
}

func (a Assessment) MaxScore() float64 {
	total := 0.0
	for _, q := range a.Questions() {
		total += q.Points
	}
	return total
}

// Validate checks the definition before it is written to the question bank.
func (a Assessment) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("assessment id required: %w", ErrInvalidArgument)
	}
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("assessment title required: %w", ErrInvalidArgument)
	}
	if a.TimeLimitMinutes != nil && *a.TimeLimitMinutes <= 0 {
		return fmt.Errorf("time limit must be positive: %w", ErrInvalidArgument)
	}
	seen := map[string]struct{}{}
	for _, s := range a.Sections {
		for _, q := range s.Questions {
			id := strings.TrimSpace(q.AssessmentQuestionID)
			if id == "" {
				return fmt.Errorf("section %q: question id required: %w", s.ID, ErrInvalidArgument)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("duplicate question id %q: %w", id, ErrInvalidArgument)
			}
			seen[id] = struct{}{}
			if !q.Kind.Valid() {
				return fmt.Errorf("question %q: unknown type %q: %w", id, q.Kind, ErrInvalidArgument)
			}
			if q.Points < 0 {
				return fmt.Errorf("question %q: negative points: %w", id, ErrInvalidArgument)
			}
			switch q.Kind {
			case KindMultipleChoice:
				if len(q.Options) == 0 {
					return fmt.Errorf("question %q: options required: %w", id, ErrInvalidArgument)
				}
				if q.CorrectAnswer == "" {
					return fmt.Errorf("question %q: correct answer required: %w", id, ErrInvalidArgument)
				}
				if !grading.MatchAny(q.CorrectAnswer, q.Options) {
					return fmt.Errorf("question %q: correct answer %q is not an option: %w", id, q.CorrectAnswer, ErrInvalidArgument)
				}
			case KindShortAnswer:
				if q.CorrectAnswer == "" {
					return fmt.Errorf("question %q: correct answer required: %w", id, ErrInvalidArgument)
				}
			}
		}
	}
	return nil
}

type Answer struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type QuestionResult struct {
	AssessmentQuestionID string  `json:"assessmentQuestionId"`
	Kind                 Kind    `json:"type"`
	Answered             bool    `json:"answered"`
	Correct              bool    `json:"correct"`
	PointsAwarded        float64 `json:"pointsAwarded"`
	Points               float64 `json:"points"`
	NeedsManualReview    bool    `json:"needsManualReview,omitempty"`
}

type Result struct {
	AttemptID         string           `json:"attemptId"`
	Score             float64          `json:"score"`
	MaxScore          float64          `json:"maxScore"`
	Percentage        int              `json:"percentage"`
	Feedback          string           `json:"feedback"`
	NeedsManualReview bool             `json:"needsManualReview"`
	PerQuestion       []QuestionResult `json:"perQuestion"`
	SubmittedAt       time.Time        `json:"submittedAt"`
}

// Attempt is one user's pass at an assessment. Snapshot is the assessment as
// it was at start; submit grades against it, never against the live bank.
type Attempt struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	AssessmentID string            `json:"assessmentId"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	SubmittedAt  *time.Time        `json:"submittedAt,omitempty"`
	Answers      map[string]Answer `json:"answers"`
	Snapshot     Assessment        `json:"-"`
	Result       *Result           `json:"result,omitempty"`
}

func (a Attempt) clone() Attempt {
	out := a
	out.Answers = make(map[string]Answer, len(a.Answers))
	for k, v := range a.Answers {
		out.Answers[k] = v
	}
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		out.SubmittedAt = &t
	}
	if a.Result != nil {
		r := *a.Result
		r.PerQuestion = append([]QuestionResult(nil), a.Result.PerQuestion...)
		out.Result = &r
	}
	return out
}

// ---- student-facing views (no answer keys) ----

type PublicAssessment struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Type             string `json:"type"`
	TimeLimitMinutes *int   `json:"timeLimitMinutes,omitempty"`
	Instructions     string `json:"instructions,omitempty"`
}

type PublicQuestion struct {
	AssessmentQuestionID string   `json:"assessmentQuestionId"`
	QuestionBankItemID   string   `json:"questionBankItemId,omitempty"`
	Order                int      `json:"order"`
	Kind                 Kind     `json:"type"`
	Difficulty           string   `json:"difficulty,omitempty"`
	Text                 string   `json:"questionText"`
	HTML                 string   `json:"questionHtml,omitempty"`
	ImageURL             string   `json:"imageUrl,omitempty"`
	Options              []string `json:"options,omitempty"`
	Points               float64  `json:"points"`
}

type PublicSection struct {
	ID           string           `json:"id"`
	Title        string           `json:"title,omitempty"`
	Order        int              `json:"order"`
	Instructions string           `json:"instructions,omitempty"`
	Questions    []PublicQuestion `json:"questions"`
}

// StartPayload is what start returns, both for a new attempt and a resumed one.
type StartPayload struct {
	AttemptID  string            `json:"attemptId"`
	Assessment PublicAssessment  `json:"assessment"`
	Sections   []PublicSection   `json:"sections"`
	Answers    map[string]Answer `json:"answers"`
	Resumed    bool              `json:"resumed"`
}

func newStartPayload(a Attempt, resumed bool) StartPayload {
	snap := a.Snapshot
	p := StartPayload{
		AttemptID: a.ID,
		Assessment: PublicAssessment{
			ID:               snap.ID,
			Title:            snap.Title,
			Type:             snap.Type,
			TimeLimitMinutes: snap.TimeLimitMinutes,
			Instructions:     snap.Instructions,
		},
		Sections: []PublicSection{},
		Answers:  map[string]Answer{},
		Resumed:  resumed,
	}
	for _, s := range snap.Sections {
		if len(s.Questions) == 0 {
			continue
		}
		ps := PublicSection{ID: s.ID, Title: s.Title, Order: s.Order, Instructions: s.Instructions}
		for _, q := range s.Questions {
			ps.Questions = append(ps.Questions, PublicQuestion{
				AssessmentQuestionID: q.AssessmentQuestionID,
				QuestionBankItemID:   q.QuestionBankItemID,
				Order:                q.Order,
				Kind:                 q.Kind,
				Difficulty:           q.Difficulty,
				Text:                 q.Text,
				HTML:                 q.HTML,
				ImageURL:             q.ImageURL,
				Options:              q.Options,
				Points:               q.Points,
			})
		}
		p.Sections = append(p.Sections, ps)
	}
	for k, v := range a.Answers {
		p.Answers[k] = v
	}
	return p
}

// AssessmentSummary is the list view of the question bank.
type AssessmentSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Type          string    `json:"type"`
	QuestionCount int       `json:"questionCount"`
	MaxScore      float64   `json:"maxScore"`
	CreatedAt     time.Time `json:"createdAt"`
}
