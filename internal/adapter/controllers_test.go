package adapter

import (
	"math"
	"testing"
	"time"
)

func TestPIDUpdate_OutputBounded(t *testing.T) {
	p := NewPIDState()
	now := time.Now()
	for i := 0; i < 50; i++ {
		out := p.Update(10, now)
		if out < -1 || out > 1 {
			t.Fatalf("output %v out of [-1,1]", out)
		}
	}
	if p.Integral > pidIntegralLimit {
		t.Fatalf("integral %v exceeds windup limit", p.Integral)
	}
}

func TestPIDUpdate_ZeroErrorDecays(t *testing.T) {
	p := NewPIDState()
	now := time.Now()
	p.Update(0.5, now)
	first := p.Output
	for i := 0; i < 20; i++ {
		p.Update(0, now)
	}
	if math.Abs(p.Output) >= math.Abs(first) {
		t.Fatalf("output %v did not decay from %v once error vanished", p.Output, first)
	}
}

func TestIRTUpdate_CorrectAnswersRaiseTheta(t *testing.T) {
	s := NewIRTState()
	now := time.Now()
	for i := 0; i < 10; i++ {
		s.Update(1, 50, now)
	}
	if s.Theta <= 0 {
		t.Fatalf("theta = %v after 10 correct answers at matched difficulty", s.Theta)
	}
	if s.StandardError >= irtInitialSE {
		t.Fatalf("standard error %v did not tighten from %v", s.StandardError, irtInitialSE)
	}
}

func TestIRTUpdate_ThetaBounded(t *testing.T) {
	s := NewIRTState()
	now := time.Now()
	for i := 0; i < 500; i++ {
		s.Update(1, 0, now)
	}
	if s.Theta > thetaBound {
		t.Fatalf("theta %v exceeds bound", s.Theta)
	}
	for i := 0; i < 1000; i++ {
		s.Update(0, 100, now)
	}
	if s.Theta < -thetaBound {
		t.Fatalf("theta %v below bound", s.Theta)
	}
}

func TestIRTExpectedAccuracy_MonotonicInDifficulty(t *testing.T) {
	s := NewIRTState()
	easy := s.ExpectedAccuracy(20)
	hard := s.ExpectedAccuracy(80)
	if easy <= hard {
		t.Fatalf("expected accuracy easy=%v should exceed hard=%v", easy, hard)
	}
}

func TestAttentionUpdate_WeightsNormalizedAndRanked(t *testing.T) {
	a := NewAttentionState()
	now := time.Now()
	a.Update("algebra", 0.1, now)
	a.Update("geometry", 0.8, now)
	a.Update("geometry", 0.9, now)

	var sum float64
	for _, w := range a.Weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("attention weights sum = %v", sum)
	}

	top := a.Recommend(1)
	if len(top) != 1 || top[0] != "geometry" {
		t.Fatalf("expected geometry as top recommendation, got %v", top)
	}
}

func TestAttentionRecommend_MoreThanAvailable(t *testing.T) {
	a := NewAttentionState()
	a.Update("algebra", 0.5, time.Now())
	got := a.Recommend(5)
	if len(got) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(got))
	}
}

func TestControllerHistoryCapped(t *testing.T) {
	p := NewPIDState()
	now := time.Now()
	for i := 0; i < 250; i++ {
		p.Update(0.1, now)
	}
	if len(p.History) != controllerHistoryCap {
		t.Fatalf("history len = %d, want %d", len(p.History), controllerHistoryCap)
	}
}
