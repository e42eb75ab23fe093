package client

import "time"

// Wire types for the attempt API. They mirror the server's JSON and carry no
// answer keys.

type Question struct {
	AssessmentQuestionID string   `json:"assessmentQuestionId"`
	QuestionBankItemID   string   `json:"questionBankItemId,omitempty"`
	Order                int      `json:"order"`
	Type                 string   `json:"type"`
	Difficulty           string   `json:"difficulty,omitempty"`
	Text                 string   `json:"questionText"`
	HTML                 string   `json:"questionHtml,omitempty"`
	ImageURL             string   `json:"imageUrl,omitempty"`
	Options              []string `json:"options,omitempty"`
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
	ID               string `json:"id"`
	Title            string `json:"title"`
	Type             string `json:"type"`
	TimeLimitMinutes *int   `json:"timeLimitMinutes,omitempty"`
	Instructions     string `json:"instructions,omitempty"`
}

type Answer struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type StartPayload struct {
	AttemptID  string            `json:"attemptId"`
	Assessment Assessment        `json:"assessment"`
	Sections   []Section         `json:"sections"`
	Answers    map[string]Answer `json:"answers"`
	Resumed    bool              `json:"resumed"`
}

type SavedAnswer struct {
	AssessmentQuestionID string    `json:"assessmentQuestionId"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type QuestionResult struct {
	AssessmentQuestionID string  `json:"assessmentQuestionId"`
	Type                 string  `json:"type"`
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

type AttemptView struct {
	AttemptID    string            `json:"attemptId"`
	AssessmentID string            `json:"assessmentId"`
	UserID       string            `json:"userId"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	SubmittedAt  *time.Time        `json:"submittedAt,omitempty"`
	Answers      map[string]Answer `json:"answers"`
	Result       *Result           `json:"result,omitempty"`
}
