package grading

import (
	"context"
	"fmt"
)

// Q is the slice of a question that grading needs.
type Q struct {
	Type      string
	Points    float64
	AnswerKey string
}

// Result is the outcome of grading a single question response.
type Result struct {
	AutoPoints  float64  // points awarded automatically
	MaxPoints   float64  // the question's max points
	Correct     bool     // exact match against the key
	NeedsManual bool     // true if a tutor has to review it
	Feedback    []string // optional notes
}

// Strategy grades a single question.
type Strategy interface {
	Grade(ctx context.Context, q Q, response string) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q Q, response string) (Result, error)
}

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, response string) (Result, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{MaxPoints: q.Points, NeedsManual: true, Feedback: []string{"no strategy available"}}, nil
	}
	return s.Grade(ctx, q, response)
}

type Option func(*config)

type config struct {
	extra map[string]Strategy
}

// WithStrategy adds or replaces the strategy for a question type.
func WithStrategy(typ string, s Strategy) Option {
	return func(c *config) { c.extra[typ] = s }
}

// NewDefaultGrader installs the built-in strategies. There is no partial
// credit: a question earns all of its points or none.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{extra: map[string]Strategy{}}
	for _, o := range opts {
		o(cfg)
	}
	g := &defaultGrader{
		strategies: map[string]Strategy{
			"multiple_choice": exactMatchStrategy{},
			"short_answer":    exactMatchStrategy{},
			"essay":           essayStrategy{},
		},
	}
	for k, s := range cfg.extra {
		g.strategies[k] = s
	}
	return g
}

// --- Strategies ---

// exactMatchStrategy compares case-insensitively. Whitespace is significant.
type exactMatchStrategy struct{}

func (exactMatchStrategy) Grade(_ context.Context, q Q, response string) (Result, error) {
	res := Result{MaxPoints: q.Points}
	if response == "" {
		return res, nil
	}
	if q.AnswerKey == "" {
		return res, fmt.Errorf("question has no answer key")
	}
	if Match(response, q.AnswerKey) {
		res.AutoPoints = q.Points
		res.Correct = true
	}
	return res, nil
}

type essayStrategy struct{}

func (essayStrategy) Grade(_ context.Context, q Q, _ string) (Result, error) {
	return Result{MaxPoints: q.Points, NeedsManual: true, Feedback: []string{"manual grading required"}}, nil
}
