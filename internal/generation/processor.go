// Package generation implements the audio generation pipeline: the Processor
// contract fulfilled by model backends, the Manager scheduling jobs onto the
// single compute device, and the Fanout turning raw job events into persisted
// history entries and broadcast protocol messages.
package generation

import "errors"

// Duration bounds accepted for a generation request, in seconds.
const (
	MinSecs = 1
	MaxSecs = 30
)

// Sentinel errors surfaced by the generation pipeline.
var (
	// ErrInvalidDuration is returned by Submit when the requested duration
	// falls outside [MinSecs, MaxSecs].
	ErrInvalidDuration = errors.New("duration must be between 1 and 30 seconds")

	// ErrQueueFull is returned by Submit when the job queue cannot accept
	// more work.
	ErrQueueFull = errors.New("job queue is full")

	// ErrDuplicateJob is returned by Submit when a job with the same id is
	// already queued or running.
	ErrDuplicateJob = errors.New("job id already in flight")

	// ErrAborted is the error a Processor must return after its progress
	// callback asks it to stop. Its text is part of the wire contract:
	// clients distinguish an abort from a failure by this exact message.
	ErrAborted = errors.New("Aborted")
)

// Processor is the model backend that turns a prompt into raw audio. It is
// assumed to own a single compute device, so the Manager never calls Process
// concurrently.
//
// Implementations must call onProgress with non-decreasing values in [0, 1]
// at bounded intervals, and return ErrAborted promptly once onProgress
// returns true.
type Processor interface {
	// Name identifies the loaded model, announced to clients on connect.
	Name() string

	// Device identifies the compute device the model runs on.
	Device() string

	// Process renders secs seconds of mono audio for the prompt and returns
	// the raw samples.
	Process(prompt string, secs int, onProgress func(progress float64) bool) ([]float32, error)
}

// Job is a single generation request. The id doubles as the id of the
// user/AI history entry pair recorded for it.
type Job struct {
	ID     string
	ChatID string
	Prompt string
	Secs   int
}
