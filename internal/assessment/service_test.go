package assessment_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beelearnt/beelearnt-assessments/internal/assessment"
)

type recorded struct {
	typ, key string
}

type fakeEvents struct {
	mu  sync.Mutex
	got []recorded
	err error
}

func (f *fakeEvents) Record(_ context.Context, typ, key string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, recorded{typ, key})
	return nil
}

func (f *fakeEvents) count(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.got {
		if r.typ == typ {
			n++
		}
	}
	return n
}

type harness struct {
	store  assessment.Store
	svc    *assessment.Service
	events *fakeEvents
	now    time.Time
}

func newHarness(t *testing.T, s assessment.Store, defs ...assessment.Assessment) *harness {
	t.Helper()
	h := &harness{store: s, events: &fakeEvents{}, now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	var (
		mu  sync.Mutex
		seq int
	)
	h.svc = assessment.NewService(s, s,
		assessment.WithEvents(h.events),
		assessment.WithClock(func() time.Time { return h.now }),
		assessment.WithIDGenerator(func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("att-%03d", seq), nil
		}),
	)
	for _, d := range defs {
		if err := s.PutAssessment(context.Background(), d); err != nil {
			t.Fatalf("put %s: %v", d.ID, err)
		}
	}
	return h
}

var learner = assessment.Identity{UserID: "learner-1", Role: "STUDENT"}

func mixed() assessment.Assessment {
	return assessment.Assessment{
		ID:    "eng-gr5",
		Title: "English Home Language",
		Sections: []assessment.Section{
			{ID: "a", Order: 1, Questions: []assessment.Question{
				{AssessmentQuestionID: "mc", Kind: assessment.KindMultipleChoice, Options: []string{"Noun", "Verb"}, CorrectAnswer: "Noun", Points: 1},
				{AssessmentQuestionID: "sa", Kind: assessment.KindShortAnswer, CorrectAnswer: "Johannesburg", Points: 2},
			}},
			{ID: "empty", Order: 2},
			{ID: "b", Order: 3, Questions: []assessment.Question{
				{AssessmentQuestionID: "essay", Kind: assessment.KindEssay, Points: 10},
			}},
		},
	}
}

func TestStartIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s assessment.Store) {
		h := newHarness(t, s, twoChoice())
		ctx := context.Background()
		first, err := h.svc.Start(ctx, learner, "caps-gr4-maths")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if first.Resumed || first.AttemptID != "att-001" || len(first.Sections) != 1 {
			t.Fatalf("first = %+v", first)
		}
		if _, err := h.svc.Answer(ctx, first.AttemptID, "q1", "B"); err != nil {
			t.Fatal(err)
		}
		again, err := h.svc.Start(ctx, learner, "caps-gr4-maths")
		if err != nil {
			t.Fatal(err)
		}
		if again.AttemptID != first.AttemptID || !again.Resumed {
			t.Fatalf("again = %+v", again)
		}
		if again.Answers["q1"].Value != "B" {
			t.Fatalf("resume lost saved answer: %+v", again.Answers)
		}
		if h.events.count(assessment.EventAttemptStarted) != 1 {
			t.Fatalf("started events = %d", h.events.count(assessment.EventAttemptStarted))
		}
	})
}

func TestStartConcurrentSingleAttempt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s assessment.Store) {
		h := newHarness(t, s, twoChoice())
		ids := make(chan string, 8)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := h.svc.Start(context.Background(), learner, "caps-gr4-maths")
				if err != nil {
					t.Errorf("start: %v", err)
					return
				}
				ids <- p.AttemptID
			}()
		}
		wg.Wait()
		close(ids)
		seen := map[string]bool{}
		for id := range ids {
			seen[id] = true
		}
		if len(seen) != 1 {
			t.Fatalf("concurrent starts produced %d attempts: %v", len(seen), seen)
		}
		open, _ := s.ListAttempts(context.Background(), assessment.AttemptListOpts{UserID: learner.UserID})
		if len(open) != 1 {
			t.Fatalf("stored attempts = %d", len(open))
		}
	})
}

func TestStartHidesAnswerKeys(t *testing.T) {
	h := newHarness(t, assessment.NewInMemoryStore(), mixed())
	p, err := h.svc.Start(context.Background(), learner, "eng-gr5")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Sections) != 2 {
		t.Fatalf("empty section not omitted: %d sections", len(p.Sections))
	}
	if p.Sections[0].Questions[0].Options[0] != "Noun" {
		t.Fatalf("options missing: %+v", p.Sections[0].Questions[0])
	}
	// PublicQuestion has no correct-answer field; this catches one being added.
	if strings.Contains(fmt.Sprintf("%+v", p), "Johannesburg") {
		t.Fatal("answer key leaked into start payload")
	}
}

func TestStartErrors(t *testing.T) {
	h := newHarness(t, assessment.NewInMemoryStore(), twoChoice())
	ctx := context.Background()
	if _, err := h.svc.Start(ctx, learner, "missing"); !errors.Is(err, assessment.ErrNotFound) {
		t.Fatalf("missing assessment: %v", err)
	}
	if _, err := h.svc.Start(ctx, assessment.Identity{}, "caps-gr4-maths"); !errors.Is(err, assessment.ErrInvalidArgument) {
		t.Fatalf("no user: %v", err)
	}
	if _, err := h.svc.Start(ctx, learner, " "); !errors.Is(err, assessment.ErrInvalidArgument) {
		t.Fatalf("blank assessment: %v", err)
	}
}

func TestCaseInsensitiveScoring(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s assessment.Store) {
		h := newHarness(t, s, twoChoice())
		ctx := context.Background()
		p, _ := h.svc.Start(ctx, learner, "caps-gr4-maths")
		for q, v := range map[string]string{"q1": "A", "q2": "b"} {
			if _, err := h.svc.Answer(ctx, p.AttemptID, q, v); err != nil {
				t.Fatalf("answer %s: %v", q, err)
			}
		}
		res, err := h.svc.Submit(ctx, p.AttemptID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Score != 5 || res.MaxScore != 5 || res.Percentage != 100 {
			t.Fatalf("result = %+v", res)
		}
		if res.Feedback != "Excellent work. You are ready for the next lesson." {
			t.Fatalf("feedback = %q", res.Feedback)
		}
	})
}

func TestUnansweredScoresZero(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s assessment.Store) {
		h := newHarness(t, s, twoChoice())
		ctx := context.Background()
		p, _ := h.svc.Start(ctx, learner, "caps-gr4-maths")
		if _, err := h.svc.Answer(ctx, p.AttemptID, "q2", "B"); err != nil {
			t.Fatal(err)
		}
		res, err := h.svc.Submit(ctx, p.AttemptID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Score != 3 || res.MaxScore != 5 || res.Percentage != 60 {
			t.Fatalf("result = %+v", res)
		}
		if res.PerQuestion[0].Answered || res.PerQuestion[0].PointsAwarded != 0 {
			t.Fatalf("q1 = %+v", res.PerQuestion[0])
		}
		if res.Feedback != "Good effort. Review a few questions and try again." {
			t.Fatalf("feedback = %q", res.Feedback)
		}
	})
}

func TestClearedAnswerCountsAsUnanswered(t *testing.T) {
	h := newHarness(t, assessment.NewInMemoryStore(), twoChoice())
	ctx := context.Background()
	p, _ := h.svc.Start(ctx, learner, "caps-gr4-maths")
	_, _ = h.svc.Answer(ctx, p.AttemptID, "q1", "A")
	if _, err := h.svc.Answer(ctx, p.AttemptID, "q1", ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	res, _ := h.svc.Submit(ctx, p.AttemptID)
	if res.Score != 0 || res.PerQuestion[0].Answered {
		t.Fatalf("result = %+v", res)
	}
	if res.Feedback != "Keep practicing. A quick recap will help a lot." {
		t.Fatalf("feedback = %q", res.Feedback)
	}
}

func TestZeroQuestionAssessment(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s assessment.Store) {
		empty := assessment.Assessment{ID: "blank", Title: "Nothing yet", Sections: []assessment.Section{{ID: "s"}}}
		h := newHarness(t, s, empty)
		ctx := context.Background()
		p, err := h.svc.Start(ctx, learner, "blank")
		if err != nil {
			t.Fatal(err)
		}
		if p.Sections == nil || len(p.Sections) != 0 {
			t.Fatalf("sections = %#v, want empty non-nil", p.Sections)
		}
		res, err := h.svc.Submit(ctx, p.AttemptID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Score != 0 || res.MaxScore != 0 || res.Percentage != 0 {
			t.Fatalf("result = %+v", res)
		}
	})
}

func TestEssayFlagsManualReview(t *testing.T) {
	h := newHarness(t, assessment.NewInMemoryStore(), mixed())
	ctx := context.Background()
	p, _ := h.svc.Start(ctx, learner, "eng-gr5")
	_, _ = h.svc.Answer(ctx, p.AttemptID, "mc", "noun")
	_, _ = h.svc.Answer(ctx, p.AttemptID, "sa", "JOHANNESBURG")
	_, _ = h.svc.Answer(ctx, p.AttemptID, "essay", "My holiday was long.")
	res, err := h.svc.Submit(ctx, p.AttemptID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 3 || res.MaxScore != 13 || !res.NeedsManualReview {
		t.Fatalf("result = %+v", res)
	}
	essay := res.PerQuestion[2]
	if essay.PointsAwarded != 0 || !essay.NeedsManualReview || !essay.Answered {
		t.Fatalf("essay = %+v", essay)
	}
}

func TestUnansweredEssayNotFlagged(t *testing.T) {
	h := newHarness(t, assessment.NewInMemoryStore(), mixed())
	ctx := context.Background()
	p, _ := h.svc.Start(ctx, learner, "eng-gr5")
	res, err := h.svc.Submit(ctx, p.AttemptID)
	if err != nil {
		t.Fatal(err)
	}
	if res.NeedsManualReview {
		t.Fatalf("blank essay flagged: %+v", res)
	}
}

func TestShortAnswerKeepsWhitespace(t *testing.T) {
	h := newHarness(t, assessment.NewInMemoryStore(), mixed())
	ctx := context.Background()
	p, _ := h.svc.Start(ctx, learner, "eng-gr5")
	_, _ = h.svc.Answer(ctx, p.AttemptID, "sa", " Johannesburg ")
	res, _ := h.svc.Submit(ctx, p.AttemptID)
	if res.PerQuestion[1].Correct {
		t.Fatal("padded answer matched; matching is exact apart from case")
	}
}

func TestSubmitTwiceIsStable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s assessment.Store) {
		h := newHarness(t, s, twoChoice())
		ctx := context.Background()
		p, _ := h.svc.Start(ctx, learner, "caps-gr4-maths")
		_, _ = h.svc.Answer(ctx, p.AttemptID, "q1", "A")
		first, err := h.svc.Submit(ctx, p.AttemptID)
		if err != nil {
			t.Fatal(err)
		}
		h.now = h.now.Add(time.Hour)
		second, err := h.svc.Submit(ctx, p.AttemptID)
		if err != nil {
			t.Fatal(err)
		}
		if second.Score != first.Score || !second.SubmittedAt.Equal(first.SubmittedAt) || second.Feedback != first.Feedback {
			t.Fatalf("first=%+v second=%+v", first, second)
		}
		if h.events.count(assessment.EventAttemptSubmitted) != 1 {
			t.Fatalf("submitted events = %d", h.events.count(assessment.EventAttemptSubmitted))
		}
	})
}

func TestAnswerAfterSubmitConflicts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s assessment.Store) {
		h := newHarness(t, s, twoChoice())
		ctx := context.Background()
		p, _ := h.svc.Start(ctx, learner, "caps-gr4-maths")
		_, _ = h.svc.Answer(ctx, p.AttemptID, "q1", "C")
		if _, err := h.svc.Submit(ctx, p.AttemptID); err != nil {
			t.Fatal(err)
		}
		if _, err := h.svc.Answer(ctx, p.AttemptID, "q1", "A"); !errors.Is(err, assessment.ErrConflict) {
			t.Fatalf("err = %v, want conflict", err)
		}
		v, err := h.svc.GetAttempt(ctx, p.AttemptID)
		if err != nil {
			t.Fatal(err)
		}
		if v.Answers["q1"].Value != "C" || v.Result.Score != 0 {
			t.Fatalf("state changed: %+v", v)
		}
		// A new start after submission opens a fresh attempt.
		next, err := h.svc.Start(ctx, learner, "caps-gr4-maths")
		if err != nil || next.AttemptID == p.AttemptID || next.Resumed {
			t.Fatalf("restart = %+v, %v", next, err)
		}
	})
}

func TestAnswerValidation(t *testing.T) {
	h := newHarness(t, assessment.NewInMemoryStore(), twoChoice())
	ctx := context.Background()
	p, _ := h.svc.Start(ctx, learner, "caps-gr4-maths")
	cases := []struct {
		name, q, v string
		want       error
	}{
		{"unknown question", "q9", "A", assessment.ErrInvalidArgument},
		{"not an option", "q1", "Z", assessment.ErrInvalidArgument},
		{"too long", "q1", strings.Repeat("a", assessment.MaxAnswerLength+1), assessment.ErrInvalidArgument},
		{"bad utf8", "q1", "\xff", assessment.ErrInvalidArgument},
		{"option other case", "q1", "c", nil},
		{"clear", "q1", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Answer(ctx, p.AttemptID, tc.q, tc.v)
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if _, err := h.svc.Answer(ctx, "nope", "q1", "A"); !errors.Is(err, assessment.ErrNotFound) {
		t.Fatalf("unknown attempt: %v", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s assessment.Store) {
		h := newHarness(t, s, twoChoice())
		ctx := context.Background()
		p, _ := h.svc.Start(ctx, learner, "caps-gr4-maths")
		_, _ = h.svc.Answer(ctx, p.AttemptID, "q1", "A")

		edited := twoChoice()
		edited.Sections[0].Questions[0].CorrectAnswer = "C"
		edited.Sections[0].Questions[0].Points = 50
		if err := s.PutAssessment(ctx, edited); err != nil {
			t.Fatal(err)
		}
		res, err := h.svc.Submit(ctx, p.AttemptID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Score != 2 || res.MaxScore != 5 {
			t.Fatalf("scored against edited definition: %+v", res)
		}
	})
}

func TestEventFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t, assessment.NewInMemoryStore(), twoChoice())
	h.events.err = errors.New("disk full")
	ctx := context.Background()
	p, err := h.svc.Start(ctx, learner, "caps-gr4-maths")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.svc.Submit(ctx, p.AttemptID); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestListAttemptsScoping(t *testing.T) {
	h := newHarness(t, assessment.NewInMemoryStore(), twoChoice())
	ctx := context.Background()
	other := assessment.Identity{UserID: "learner-2", Role: "STUDENT"}
	mine, _ := h.svc.Start(ctx, learner, "caps-gr4-maths")
	_, _ = h.svc.Start(ctx, other, "caps-gr4-maths")
	_, _ = h.svc.Submit(ctx, mine.AttemptID)

	got, err := h.svc.ListAttempts(ctx, learner, assessment.AttemptListOpts{UserID: "learner-2"})
	if err != nil || len(got) != 1 || got[0].UserID != learner.UserID {
		t.Fatalf("student sees %+v, %v", got, err)
	}
	if got[0].Score == nil || *got[0].MaxScore != 5 {
		t.Fatalf("summary missing score: %+v", got[0])
	}
	all, _ := h.svc.ListAttempts(ctx, assessment.Identity{UserID: "t1", Role: "tutor"}, assessment.AttemptListOpts{})
	if len(all) != 2 {
		t.Fatalf("tutor sees %d", len(all))
	}
	if _, err := h.svc.ListAttempts(ctx, assessment.Identity{Role: "PARENT"}, assessment.AttemptListOpts{}); !errors.Is(err, assessment.ErrInvalidArgument) {
		t.Fatalf("anonymous parent: %v", err)
	}
}
