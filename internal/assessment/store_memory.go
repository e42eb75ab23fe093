package assessment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu          sync.RWMutex
	assessments map[string]Assessment
	attempts    map[string]Attempt
	open        map[string]string // user|assessment -> in-progress attempt id
}

// NewInMemoryStore is the offline/dev backend. Everything lives behind one
// lock, so Finalize is trivially a compare-and-set.
func NewInMemoryStore() Store {
	return &memoryStore{
		assessments: map[string]Assessment{},
		attempts:    map[string]Attempt{},
		open:        map[string]string{},
	}
}

func openKey(userID, assessmentID string) string { return userID + "|" + assessmentID }

func (m *memoryStore) PutAssessment(_ context.Context, a Assessment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.assessments[a.ID]; ok && a.CreatedAt.IsZero() {
		a.CreatedAt = prev.CreatedAt
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.assessments[a.ID] = a
	return nil
}

func (m *memoryStore) GetAssessment(_ context.Context, id string) (Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assessments[id]
	if !ok {
		return Assessment{}, fmt.Errorf("assessment %q: %w", id, ErrNotFound)
	}
	return a, nil
}

func (m *memoryStore) ListAssessments(_ context.Context, opts ListOpts) ([]AssessmentSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(opts.Q))
	out := []AssessmentSummary{}
	for _, a := range m.assessments {
		if q != "" && !strings.Contains(strings.ToLower(a.Title), q) {
			continue
		}
		out = append(out, AssessmentSummary{
			ID:            a.ID,
			Title:         a.Title,
			Type:          a.Type,
			QuestionCount: len(a.Questions()),
			MaxScore:      a.MaxScore(),
			CreatedAt:     a.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) FindInProgress(_ context.Context, userID, assessmentID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.open[openKey(userID, assessmentID)]
	if !ok {
		return Attempt{}, fmt.Errorf("no open attempt: %w", ErrNotFound)
	}
	return m.attempts[id].clone(), nil
}

func (m *memoryStore) CreateOrResume(_ context.Context, a Attempt) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := openKey(a.UserID, a.AssessmentID)
	if id, ok := m.open[k]; ok {
		return m.attempts[id].clone(), false, nil
	}
	if _, dup := m.attempts[a.ID]; dup {
		return Attempt{}, false, fmt.Errorf("attempt id %q already used: %w", a.ID, ErrConflict)
	}
	a.Status = StatusInProgress
	if a.Answers == nil {
		a.Answers = map[string]Answer{}
	}
	m.attempts[a.ID] = a.clone()
	m.open[k] = a.ID
	return a.clone(), true, nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, fmt.Errorf("attempt %q: %w", id, ErrNotFound)
	}
	return a.clone(), nil
}

func (m *memoryStore) UpsertAnswer(_ context.Context, attemptID, questionID string, ans Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return fmt.Errorf("attempt %q: %w", attemptID, ErrNotFound)
	}
	if a.Status != StatusInProgress {
		return fmt.Errorf("attempt %q already submitted: %w", attemptID, ErrConflict)
	}
	a.Answers[questionID] = ans
	m.attempts[attemptID] = a
	return nil
}

func (m *memoryStore) Finalize(_ context.Context, attemptID string, at time.Time, score ScoreFunc) (Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return Result{}, false, fmt.Errorf("attempt %q: %w", attemptID, ErrNotFound)
	}
	if a.Status == StatusSubmitted {
		if a.Result == nil {
			return Result{}, false, fmt.Errorf("attempt %q submitted without result: %w", attemptID, ErrConflict)
		}
		return a.clone().Result.cloneValue(), false, nil
	}
	a.Status = StatusSubmitted
	a.SubmittedAt = &at
	res := score(a.clone())
	a.Result = &res
	m.attempts[attemptID] = a
	delete(m.open, openKey(a.UserID, a.AssessmentID))
	return res.cloneValue(), true, nil
}

func (m *memoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Attempt{}
	for _, a := range m.attempts {
		if opts.UserID != "" && a.UserID != opts.UserID {
			continue
		}
		if opts.AssessmentID != "" && a.AssessmentID != opts.AssessmentID {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts.Limit, opts.Offset), nil
}

func (r *Result) cloneValue() Result {
	out := *r
	out.PerQuestion = append([]QuestionResult(nil), r.PerQuestion...)
	return out
}

func page[T any](in []T, limit, offset int) []T {
	offset = max(offset, 0)
	if offset >= len(in) {
		return in[:0]
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
