package synth

import (
	"errors"
	"testing"

	"github.com/tbourn/go-musicgpt-backend/internal/generation"
)

func noProgress(float64) bool { return false }

func TestProcess_RendersRequestedDuration(t *testing.T) {
	s := New()
	samples, err := s.Process("lofi beats", 3, noProgress)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(samples) != 3*s.SampleRate {
		t.Fatalf("rendered %d samples; want %d", len(samples), 3*s.SampleRate)
	}
	for i, v := range samples {
		if v < -1 || v > 1 {
			t.Fatalf("sample %d out of range: %v", i, v)
		}
	}
}

func TestProcess_DeterministicPerPrompt(t *testing.T) {
	s := New()
	a, err := s.Process("drums", 2, noProgress)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	b, err := s.Process("drums", 2, noProgress)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same prompt diverged at sample %d", i)
		}
	}

	c, err := s.Process("strings", 2, noProgress)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different prompts produced identical audio")
	}
}

func TestProcess_ProgressMonotoneEndingAtOne(t *testing.T) {
	s := New()
	var seen []float64
	_, err := s.Process("ambient", 4, func(p float64) bool {
		seen = append(seen, p)
		return false
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 progress reports, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress decreased: %v", seen)
		}
	}
	if seen[len(seen)-1] != 1.0 {
		t.Fatalf("final progress = %v; want 1.0", seen[len(seen)-1])
	}
}

func TestProcess_AbortStopsPromptly(t *testing.T) {
	s := New()
	calls := 0
	_, err := s.Process("epic theme", 10, func(p float64) bool {
		calls++
		return calls >= 2
	})
	if !errors.Is(err, generation.ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("rendering continued after abort: %d progress calls", calls)
	}
}
