package emotion

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLabels_TwentyEightDimensions(t *testing.T) {
	if len(Labels) != 28 {
		t.Fatalf("len(Labels) = %d, want 28", len(Labels))
	}
	seen := make(map[string]bool, len(Labels))
	for _, l := range Labels {
		if seen[l] {
			t.Fatalf("duplicate label %q", l)
		}
		seen[l] = true
	}
}

func TestScores_Dominant(t *testing.T) {
	s := NewScores()
	s["joy"] = 0.9
	s["gratitude"] = 0.5
	s["sadness"] = 0.1

	got := s.Dominant(2)
	if len(got) != 2 || got[0] != "joy" || got[1] != "gratitude" {
		t.Fatalf("Dominant(2) = %v", got)
	}

	// Zero scores are never included, even when n exceeds matches.
	if got := s.Dominant(10); len(got) != 3 {
		t.Fatalf("Dominant(10) = %v, want the 3 non-zero labels", got)
	}
}

func TestScores_AllZero(t *testing.T) {
	s := NewScores()
	if !s.AllZero() {
		t.Fatal("fresh scores should be all zero")
	}
	s["fear"] = 0.2
	if s.AllZero() {
		t.Fatal("non-zero score not detected")
	}
}

func TestLexiconClassifier_ScoresKeywords(t *testing.T) {
	c := NewLexiconClassifier()

	scores, err := c.Classify("Thank you so much, I am really happy today!")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if scores["gratitude"] == 0 {
		t.Error("gratitude not scored")
	}
	if scores["joy"] == 0 {
		t.Error("joy not scored")
	}
	if scores.AllZero() {
		t.Error("all-zero scores for an emotional text")
	}
	for label, v := range scores {
		if v < 0 || v > 1 {
			t.Errorf("%s = %f out of [0,1]", label, v)
		}
	}
}

func TestLexiconClassifier_NeutralFallback(t *testing.T) {
	c := NewLexiconClassifier()
	scores, err := c.Classify("the report covers quarterly infrastructure throughput")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if scores["neutral"] != 1 {
		t.Fatalf("neutral = %f, want 1", scores["neutral"])
	}
}

func TestLexiconClassifier_EmptyText(t *testing.T) {
	c := NewLexiconClassifier()
	if _, err := c.Classify("   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestPool_AnalyzeReturnsRankedResult(t *testing.T) {
	p := NewPool(NewLexiconClassifier(), PoolConfig{Workers: 2, Timeout: time.Second})
	defer p.Stop()

	res, err := p.Analyze(context.Background(), "I love this, thank you!")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Dominant) == 0 {
		t.Fatal("no dominant labels")
	}
	if res.Scores[res.Dominant[0]] == 0 {
		t.Fatal("top dominant label has zero score")
	}
}

// slowClassifier blocks until released.
type slowClassifier struct {
	release chan struct{}
}

func (s *slowClassifier) Classify(string) (Scores, error) {
	<-s.release
	return NewScores(), nil
}

func TestPool_AnalyzeTimesOut(t *testing.T) {
	slow := &slowClassifier{release: make(chan struct{})}
	p := NewPool(slow, PoolConfig{Workers: 1, Timeout: 20 * time.Millisecond})
	defer func() {
		close(slow.release)
		p.Stop()
	}()

	_, err := p.Analyze(context.Background(), "anything")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestPool_StopRejectsNewWork(t *testing.T) {
	p := NewPool(NewLexiconClassifier(), PoolConfig{Workers: 1, Timeout: time.Second})
	p.Stop()

	if _, err := p.Analyze(context.Background(), "hello"); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}
}
