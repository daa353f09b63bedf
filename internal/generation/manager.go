package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied by NewManager when the corresponding Config field is zero.
const (
	defaultQueueSize     = 64
	defaultEventBuffer   = 256
	defaultProgressDelta = 0.01
)

// Recorder receives scheduling metrics from the Manager. The metrics package
// provides the Prometheus-backed implementation; a no-op is used when none
// is configured.
type Recorder interface {
	// JobQueued is called after a job is accepted, with the new queue depth.
	JobQueued(depth int)

	// JobStarted is called when the worker picks a job up, with the
	// remaining queue depth.
	JobStarted(depth int)

	// JobDone is called once per job with its outcome ("completed",
	// "failed" or "aborted") and wall-clock processing duration.
	JobDone(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) JobQueued(int)                 {}
func (nopRecorder) JobStarted(int)                {}
func (nopRecorder) JobDone(string, time.Duration) {}

// Config tunes a Manager. Zero values select the defaults above.
type Config struct {
	// QueueSize caps the number of jobs waiting behind the running one.
	QueueSize int

	// ProgressDelta is the minimum increase between two emitted progress
	// events. The final 1.0 is always emitted.
	ProgressDelta float64

	// Logger receives structured scheduling events.
	Logger zerolog.Logger

	// Recorder receives scheduling metrics.
	Recorder Recorder
}

// queuedJob pairs a request with its cancellation flag. The flag has a single
// writer side (Abort) and is polled by the worker between processing steps.
type queuedJob struct {
	Job
	cancelled *atomic.Bool
}

// Manager schedules generation jobs onto a single Processor. Jobs are
// admitted FIFO through Submit and executed one at a time by the worker
// goroutine started with Run; lifecycle events come out of Events in causal
// order. Abort flags a queued or running job for cooperative cancellation.
type Manager struct {
	proc   Processor
	queue  chan queuedJob
	events chan Event
	delta  float64
	log    zerolog.Logger
	rec    Recorder

	mu     sync.Mutex
	active map[string]*atomic.Bool
}

// NewManager builds a Manager around proc. Call Run to start the worker.
func NewManager(proc Processor, cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ProgressDelta <= 0 {
		cfg.ProgressDelta = defaultProgressDelta
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &Manager{
		proc:   proc,
		queue:  make(chan queuedJob, cfg.QueueSize),
		events: make(chan Event, defaultEventBuffer),
		delta:  cfg.ProgressDelta,
		log:    cfg.Logger,
		rec:    cfg.Recorder,
		active: make(map[string]*atomic.Bool),
	}
}

// Processor exposes the backend the manager runs, for connect announcements.
func (m *Manager) Processor() Processor { return m.proc }

// Events returns the stream of job lifecycle events. The channel is closed
// when Run returns.
func (m *Manager) Events() <-chan Event { return m.events }

// Submit validates and enqueues a job. It never blocks: a full queue is
// reported as ErrQueueFull. Validation failures produce no events; once a
// job is accepted it is guaranteed a Start and exactly one terminal event.
func (m *Manager) Submit(job Job) error {
	if job.Secs < MinSecs || job.Secs > MaxSecs {
		return fmt.Errorf("%w: got %d", ErrInvalidDuration, job.Secs)
	}

	m.mu.Lock()
	if _, dup := m.active[job.ID]; dup {
		m.mu.Unlock()
		return ErrDuplicateJob
	}
	flag := new(atomic.Bool)
	m.active[job.ID] = flag
	m.mu.Unlock()

	select {
	case m.queue <- queuedJob{Job: job, cancelled: flag}:
	default:
		m.forget(job.ID)
		return ErrQueueFull
	}

	depth := len(m.queue)
	m.rec.JobQueued(depth)
	m.log.Debug().
		Str("job_id", job.ID).
		Str("chat_id", job.ChatID).
		Int("secs", job.Secs).
		Int("queue_depth", depth).
		Msg("job queued")
	return nil
}

// Abort flags the job for cancellation. Unknown or already finished jobs are
// ignored, so duplicate and late aborts are harmless.
func (m *Manager) Abort(jobID string) {
	m.mu.Lock()
	flag, ok := m.active[jobID]
	m.mu.Unlock()
	if !ok {
		return
	}
	flag.Store(true)
	m.log.Debug().Str("job_id", jobID).Msg("job abort requested")
}

// Run executes jobs until ctx is cancelled, then closes the event stream.
// It owns the Processor: no job ever runs concurrently with another.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.events)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.queue:
			m.runJob(ctx, job)
		}
	}
}

func (m *Manager) runJob(ctx context.Context, job queuedJob) {
	defer m.forget(job.ID)

	m.rec.JobStarted(len(m.queue))
	m.emit(ctx, Event{
		Kind:   EventStart,
		JobID:  job.ID,
		ChatID: job.ChatID,
		Prompt: job.Prompt,
		Secs:   job.Secs,
	})

	began := time.Now()
	samples, err := m.process(ctx, job)
	elapsed := time.Since(began)

	switch {
	case err == nil:
		m.rec.JobDone("completed", elapsed)
		m.log.Info().
			Str("job_id", job.ID).
			Dur("elapsed", elapsed).
			Int("samples", len(samples)).
			Msg("job completed")
		m.emit(ctx, Event{Kind: EventResult, JobID: job.ID, ChatID: job.ChatID, Samples: samples})
	// The text match catches backends that reconstruct the abort message
	// instead of returning the sentinel.
	case errors.Is(err, ErrAborted) || err.Error() == ErrAborted.Error():
		m.rec.JobDone("aborted", elapsed)
		m.log.Info().Str("job_id", job.ID).Dur("elapsed", elapsed).Msg("job aborted")
		m.emit(ctx, Event{Kind: EventError, JobID: job.ID, ChatID: job.ChatID, Message: err.Error()})
	default:
		m.rec.JobDone("failed", elapsed)
		m.log.Error().Err(err).Str("job_id", job.ID).Dur("elapsed", elapsed).Msg("job failed")
		m.emit(ctx, Event{Kind: EventError, JobID: job.ID, ChatID: job.ChatID, Message: err.Error()})
	}
}

// process invokes the Processor with a throttling, cancellation-aware
// progress callback. Processor panics are converted into ordinary errors so
// a broken backend downgrades one job instead of killing the worker.
func (m *Manager) process(ctx context.Context, job queuedJob) (samples []float32, err error) {
	if job.cancelled.Load() {
		return nil, ErrAborted
	}

	defer func() {
		if r := recover(); r != nil {
			samples, err = nil, fmt.Errorf("processor panic: %v", r)
		}
	}()

	last := 0.0
	onProgress := func(p float64) bool {
		if p < last {
			p = last
		}
		if p > 1 {
			p = 1
		}
		if p-last >= m.delta || p >= 1 {
			last = p
			m.emit(ctx, Event{Kind: EventProgress, JobID: job.ID, ChatID: job.ChatID, Progress: p})
		}
		return job.cancelled.Load() || ctx.Err() != nil
	}

	return m.proc.Process(job.Prompt, job.Secs, onProgress)
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func (m *Manager) forget(jobID string) {
	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()
}
