// Package audio persists rendered sample buffers as WAV artifacts and hands
// back the relative path they are served under.
package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultSampleRate matches the output rate of the generation models.
const DefaultSampleRate = 32000

// artifactDir is the subdirectory of the data dir holding audio files, and
// the prefix of every relpath returned by SaveWAV.
const artifactDir = "audios"

// Store writes WAV artifacts beneath a data directory.
type Store struct {
	dir  string
	rate int
}

// NewStore prepares the artifact directory under dataDir. A zero or negative
// sampleRate selects DefaultSampleRate.
func NewStore(dataDir string, sampleRate int) (*Store, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	dir := filepath.Join(dataDir, artifactDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	return &Store{dir: dataDir, rate: sampleRate}, nil
}

// Dir returns the data directory artifacts are rooted at.
func (s *Store) Dir() string { return s.dir }

// SaveWAV encodes mono float samples as 16-bit PCM at audios/<id>.wav and
// returns that relative path.
func (s *Store) SaveWAV(id string, samples []float32) (string, error) {
	relpath := filepath.ToSlash(filepath.Join(artifactDir, id+".wav"))
	abspath := filepath.Join(s.dir, artifactDir, id+".wav")

	f, err := os.Create(abspath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", abspath, err)
	}

	data := make([]int, len(samples))
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		data[i] = int(math.Round(float64(v) * math.MaxInt16))
	}

	enc := wav.NewEncoder(f, s.rate, 16, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: s.rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return "", fmt.Errorf("encode %s: %w", abspath, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("finalize %s: %w", abspath, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", abspath, err)
	}
	return relpath, nil
}
