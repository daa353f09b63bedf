package generation

// EventKind discriminates the events emitted by the Manager for a job.
type EventKind int

// Job lifecycle events, in the order they may occur. Every submitted job
// produces exactly one Start, zero or more Progress, and exactly one of
// Result or Error.
const (
	EventStart EventKind = iota
	EventProgress
	EventResult
	EventError
)

// Event is a single job lifecycle notification. Which fields are meaningful
// depends on Kind: Prompt and Secs accompany Start, Progress accompanies
// EventProgress, Samples accompanies Result, Message accompanies Error.
type Event struct {
	Kind   EventKind
	JobID  string
	ChatID string

	Prompt string
	Secs   int

	Progress float64

	Samples []float32

	Message string
}
