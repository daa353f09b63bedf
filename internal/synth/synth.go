// Package synth provides the built-in audio backend: a deterministic
// procedural synthesizer seeded from the prompt. It keeps the server fully
// runnable without model weights; heavier neural backends satisfy the same
// contract.
package synth

import (
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/tbourn/go-musicgpt-backend/internal/generation"
)

// Pentatonic offsets in semitones, relative to the root note.
var scale = [...]int{0, 3, 5, 7, 10, 12}

// Synth renders prompt-seeded harmonic audio. The same prompt and duration
// always produce the same samples.
type Synth struct {
	// SampleRate of the generated audio, samples per second.
	SampleRate int

	// NotesPerSec controls how many notes are laid down per second.
	NotesPerSec int
}

// New returns a Synth with the default sample rate and note density.
func New() *Synth {
	return &Synth{SampleRate: 32000, NotesPerSec: 2}
}

// Name implements generation.Processor.
func (s *Synth) Name() string { return "procedural-synth" }

// Device implements generation.Processor.
func (s *Synth) Device() string { return "cpu" }

// Process renders secs seconds of mono audio. Progress is reported once per
// rendered second; rendering stops with generation.ErrAborted as soon as the
// callback asks for it.
func (s *Synth) Process(prompt string, secs int, onProgress func(progress float64) bool) ([]float32, error) {
	rng := rand.New(rand.NewSource(seed(prompt)))

	// Root note between A2 (110 Hz) and A3 (220 Hz).
	root := 110.0 * math.Pow(2, rng.Float64())

	out := make([]float32, 0, secs*s.SampleRate)
	noteLen := s.SampleRate / s.NotesPerSec
	for sec := 1; sec <= secs; sec++ {
		for n := 0; n < s.NotesPerSec; n++ {
			freq := root * math.Pow(2, float64(scale[rng.Intn(len(scale))])/12)
			out = s.appendNote(out, freq, noteLen)
		}
		if onProgress(float64(sec) / float64(secs)) {
			return nil, generation.ErrAborted
		}
	}
	return out, nil
}

// appendNote renders one decaying note with three harmonic partials.
func (s *Synth) appendNote(out []float32, freq float64, n int) []float32 {
	for i := 0; i < n; i++ {
		t := float64(i) / float64(s.SampleRate)
		envelope := math.Exp(-3 * float64(i) / float64(n))
		var v float64
		for partial := 1; partial <= 3; partial++ {
			v += math.Sin(2*math.Pi*freq*float64(partial)*t) / float64(partial)
		}
		out = append(out, float32(0.3*envelope*v))
	}
	return out
}

func seed(prompt string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	return int64(h.Sum64())
}
