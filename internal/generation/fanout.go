package generation

import (
	"context"

	"github.com/rs/zerolog"
)

// ChatStore is the slice of the chat service the fanout needs: appending the
// user prompt and its in-flight AI placeholder when a job starts, and
// filling that placeholder with the terminal outcome. The placeholder is the
// durable marker that lets a restart detect jobs a crash cut short.
type ChatStore interface {
	AppendUser(ctx context.Context, chatID, entryID, text string) error
	ResolveAI(ctx context.Context, chatID, entryID, relpath, errMsg string) error
}

// ArtifactStore persists rendered samples and returns the relative path the
// artifact is served under.
type ArtifactStore interface {
	SaveWAV(id string, samples []float32) (relpath string, err error)
}

// Publisher delivers job lifecycle notifications to every connected client.
type Publisher interface {
	PublishStart(jobID, chatID, prompt string, secs int)
	PublishProgress(jobID, chatID string, progress float64)
	PublishResult(jobID, chatID, relpath string)
	PublishError(jobID, chatID, message string)
}

// Fanout consumes Manager events and turns them into durable history plus
// broadcast messages. Outcomes are persisted before they are published, so a
// client that reconnects and re-reads the chat sees exactly the state a live
// observer was told about. A successful render whose artifact cannot be
// written is downgraded to a failure.
type Fanout struct {
	Events <-chan Event
	Store  ChatStore
	Audio  ArtifactStore
	Pub    Publisher
	Log    zerolog.Logger
}

// Run processes events until the stream closes or ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.Events:
			if !ok {
				return
			}
			f.handle(ctx, ev)
		}
	}
}

func (f *Fanout) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventStart:
		if err := f.Store.AppendUser(ctx, ev.ChatID, ev.JobID, ev.Prompt); err != nil {
			f.Log.Error().Err(err).Str("job_id", ev.JobID).Msg("persist user entry")
		}
		f.Pub.PublishStart(ev.JobID, ev.ChatID, ev.Prompt, ev.Secs)

	case EventProgress:
		f.Pub.PublishProgress(ev.JobID, ev.ChatID, ev.Progress)

	case EventResult:
		relpath, err := f.Audio.SaveWAV(ev.JobID, ev.Samples)
		if err != nil {
			f.Log.Error().Err(err).Str("job_id", ev.JobID).Msg("write audio artifact")
			f.resolve(ctx, ev, "", err.Error())
			f.Pub.PublishError(ev.JobID, ev.ChatID, err.Error())
			return
		}
		f.resolve(ctx, ev, relpath, "")
		f.Pub.PublishResult(ev.JobID, ev.ChatID, relpath)

	case EventError:
		f.resolve(ctx, ev, "", ev.Message)
		f.Pub.PublishError(ev.JobID, ev.ChatID, ev.Message)
	}
}

func (f *Fanout) resolve(ctx context.Context, ev Event, relpath, errMsg string) {
	if err := f.Store.ResolveAI(ctx, ev.ChatID, ev.JobID, relpath, errMsg); err != nil {
		f.Log.Error().Err(err).Str("job_id", ev.JobID).Msg("persist ai entry")
	}
}
