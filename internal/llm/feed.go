package llm

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Streamer is the generation stream opener the feed runs on top of.
// *Client implements it.
type Streamer interface {
	StreamChat(ctx context.Context, prompt string) (<-chan TokenEvent, error)
}

// Feed runs generation tasks as cancellable background units of work. Each
// task is registered under a fresh handle before its goroutine starts, so a
// Cancel racing the task launch always targets the right task and can never
// touch a newer one.
type Feed struct {
	streamer Streamer
	logger   zerolog.Logger

	mu    sync.Mutex
	tasks map[uuid.UUID]context.CancelFunc
}

// NewFeed creates a generation feed.
func NewFeed(streamer Streamer, logger zerolog.Logger) *Feed {
	return &Feed{
		streamer: streamer,
		logger:   logger.With().Str("component", "generation-feed").Logger(),
		tasks:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start launches a generation task for the prompt and returns its handle.
// onDelta receives each text chunk in arrival order; onDone is called exactly
// once afterwards. A stream error is logged and reported as done so playback
// of already-received text can finish.
func (f *Feed) Start(ctx context.Context, prompt string, onDelta func(string), onDone func()) uuid.UUID {
	taskCtx, cancel := context.WithCancel(ctx)
	id := uuid.New()

	f.mu.Lock()
	f.tasks[id] = cancel
	f.mu.Unlock()

	go f.run(taskCtx, id, prompt, onDelta, onDone)
	return id
}

// Cancel terminates the task with the given handle. Unknown or already
// finished handles are ignored.
func (f *Feed) Cancel(id uuid.UUID) {
	f.mu.Lock()
	cancel, ok := f.tasks[id]
	if ok {
		delete(f.tasks, id)
	}
	f.mu.Unlock()

	if ok {
		cancel()
		f.logger.Debug().Str("handle", id.String()).Msg("Generation task cancelled")
	}
}

func (f *Feed) run(ctx context.Context, id uuid.UUID, prompt string, onDelta func(string), onDone func()) {
	defer f.release(id)
	defer onDone()

	events, err := f.streamer.StreamChat(ctx, prompt)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Generation stream failed to open")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch {
			case ev.Err != nil:
				// Mid-stream failure ends the feed like a natural done.
				f.logger.Warn().Err(ev.Err).Msg("Generation stream error")
				return
			case ev.Done:
				return
			default:
				onDelta(ev.Delta)
			}
		}
	}
}

// release drops the task registration and frees its context. Cancelling a
// task after it finished naturally is a no-op.
func (f *Feed) release(id uuid.UUID) {
	f.mu.Lock()
	cancel, ok := f.tasks[id]
	if ok {
		delete(f.tasks, id)
	}
	f.mu.Unlock()

	if ok {
		cancel()
	}
}

// Active returns the number of in-flight generation tasks.
func (f *Feed) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}
